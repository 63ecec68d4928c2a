package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/matchdb/internal/model"
	"github.com/roach88/matchdb/internal/store"
)

// FieldChange is the result of the field subcommands that modify the schema.
type FieldChange struct {
	Action string `json:"action"`
	Field  string `json:"field"`
}

func (c FieldChange) String() string {
	return fmt.Sprintf("%s field %s", c.Action, c.Field)
}

// NewFieldCommand creates the field command group.
func NewFieldCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "field",
		Short: "List, add and remove attribute fields",
	}
	cmd.AddCommand(newFieldListCommand(rootOpts))
	cmd.AddCommand(newFieldAddCommand(rootOpts))
	cmd.AddCommand(newFieldMetaCommand(rootOpts))
	cmd.AddCommand(newFieldRemoveCommand(rootOpts))
	return cmd
}

func newFieldListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the known fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, out *OutputFormatter) error {
				return out.Success(FieldList(fieldInfos(s)))
			})
		},
	}
}

func newFieldAddCommand(rootOpts *RootOptions) *cobra.Command {
	var index bool

	cmd := &cobra.Command{
		Use:   "add <name> <text|real|integer> <default>",
		Short: "Add a normal field, giving every match the default value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := model.ParseSQLType(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid field type", err)
			}
			def, err := model.ParseValue(typ, args[2])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid default value", err)
			}

			var fopts []store.FieldOption
			if index {
				fopts = append(fopts, store.WithIndex())
			}

			return withSession(cmd, rootOpts, func(s *session, out *OutputFormatter) error {
				err := s.store.AddField(cmd.Context(), args[0], def, fopts...)
				var be *store.BackfillError
				if errors.As(err, &be) {
					out.Warn("%d of %d matches did not get the default value", be.Failed, be.Total)
					if serr := out.Success(FieldChange{Action: "added", Field: be.Field}); serr != nil {
						return serr
					}
					return WrapExitError(ExitFailure, "field added with failures", err)
				}
				if err != nil {
					return fieldError("could not add field "+args[0], err)
				}
				return out.Success(FieldChange{Action: "added", Field: model.FoldName(args[0])})
			})
		},
	}

	cmd.Flags().BoolVar(&index, "index", false, "index the value column")
	return cmd
}

func newFieldMetaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "meta <name> <query>",
		Short: "Add a meta field defined by a query",
		Long: `Add a meta field defined by a query.

The query must produce a match_id column and a column named like the field.
The field is stored as a view and cannot be written to.

Example:
  matchdb field meta num_duplicates \
    "SELECT duplicate AS match_id, COUNT(duplicate) AS num_duplicates FROM duplicate GROUP BY duplicate"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, out *OutputFormatter) error {
				if err := s.store.AddMetaField(cmd.Context(), args[0], args[1]); err != nil {
					return fieldError("could not add meta field "+args[0], err)
				}
				return out.Success(FieldChange{Action: "added", Field: model.FoldName(args[0])})
			})
		},
	}
}

func newFieldRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name>",
		Aliases: []string{"remove"},
		Short:   "Remove a field; its history is kept",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, out *OutputFormatter) error {
				if err := s.store.RemoveField(cmd.Context(), args[0]); err != nil {
					return fieldError("could not remove field "+args[0], err)
				}
				return out.Success(FieldChange{Action: "removed", Field: model.FoldName(args[0])})
			})
		},
	}
}

// fieldError maps store errors caused by the arguments to ExitCommandError.
func fieldError(message string, err error) error {
	switch {
	case errors.Is(err, store.ErrInvalidField),
		errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, store.ErrNotFound):
		return WrapExitError(ExitCommandError, message, err)
	default:
		return WrapExitError(ExitFailure, message, err)
	}
}
