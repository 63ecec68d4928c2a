package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/matchdb/internal/model"
)

// SetResult is the result of set.
type SetResult struct {
	MatchID int64  `json:"match_id"`
	Field   string `json:"field"`
	Value   string `json:"value"`
}

func (r SetResult) String() string {
	return fmt.Sprintf("match %d: %s = %q", r.MatchID, r.Field, r.Value)
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <match-id> <field> <value>",
		Short: "Set the value of a field for one match",
		Long: `Set the value of a field for one match.

The value is parsed according to the field type; an empty value stores
NULL. With --history the change is recorded under --user.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid match id", err)
			}

			return withSession(cmd, rootOpts, func(s *session, out *OutputFormatter) error {
				f, ok := s.store.Field(args[1])
				if !ok {
					return NewExitError(ExitCommandError, "unknown field "+args[1])
				}
				if f.IsMeta() {
					return NewExitError(ExitCommandError, "meta field "+f.Name+" is read-only")
				}

				var v model.Value = model.Null{}
				if args[2] != "" {
					v, err = model.ParseValue(f.Type, args[2])
					if err != nil {
						return WrapExitError(ExitCommandError, "invalid value for "+f.Name, err)
					}
				}
				if err := s.store.SetAttribute(cmd.Context(), id, f.Name, v); err != nil {
					return fieldError("could not set "+f.Name, err)
				}
				return out.Success(SetResult{MatchID: id, Field: f.Name, Value: v.String()})
			})
		},
	}
}
