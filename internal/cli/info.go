package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// InfoResult describes an opened database.
type InfoResult struct {
	Connection string      `json:"connection"`
	Dialect    string      `json:"dialect"`
	Matches    int         `json:"matches"`
	History    bool        `json:"history"`
	Degraded   bool        `json:"degraded"`
	Fields     []FieldInfo `json:"fields"`
}

// FieldInfo describes one field.
type FieldInfo struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Type  string `json:"type"`
	Query string `json:"query,omitempty"`
}

// RenderText implements TextRenderer.
func (r InfoResult) RenderText(w io.Writer) {
	fmt.Fprintf(w, "%s %s (%s)\n", keyColor.Sprint("Database:"), r.Connection, r.Dialect)
	fmt.Fprintf(w, "%s %d\n", keyColor.Sprint("Matches:"), r.Matches)
	fmt.Fprintf(w, "%s %t\n", keyColor.Sprint("History:"), r.History)
	if r.Degraded {
		warnColor.Fprintln(w, "Driver capabilities are degraded")
	}
	fmt.Fprintf(w, "%s\n", keyColor.Sprint("Fields:"))
	FieldList(r.Fields).RenderText(w)
}

// FieldList is the result of field list.
type FieldList []FieldInfo

// RenderText implements TextRenderer.
func (l FieldList) RenderText(w io.Writer) {
	if len(l) == 0 {
		dimColor.Fprintln(w, "  (none)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, f := range l {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", f.Name, f.Kind, f.Type)
	}
	tw.Flush()
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the database, its match count and fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, out *OutputFormatter) error {
				st := s.store
				n, err := st.MatchCount(cmd.Context())
				if err != nil {
					return WrapExitError(ExitFailure, "could not count matches", err)
				}
				return out.Success(InfoResult{
					Connection: st.ConnectionName(),
					Dialect:    st.Dialect().Name(),
					Matches:    n,
					History:    st.HistoryEnabled(),
					Degraded:   st.Capabilities().Degraded(),
					Fields:     fieldInfos(s),
				})
			})
		},
	}
}

func fieldInfos(s *session) []FieldInfo {
	fields := s.store.Fields()
	out := make([]FieldInfo, 0, len(fields))
	for _, f := range fields {
		out = append(out, FieldInfo{Name: f.Name, Kind: f.Kind.String(), Type: f.Type.String(), Query: f.Query})
	}
	return out
}

// withSession opens the database, runs fn and closes it again.
func withSession(cmd *cobra.Command, rootOpts *RootOptions, fn func(*session, *OutputFormatter) error) (err error) {
	s, err := rootOpts.openSession(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = WrapExitError(ExitFailure, "could not close database", cerr)
		}
	}()
	return fn(s, rootOpts.formatter(cmd))
}
