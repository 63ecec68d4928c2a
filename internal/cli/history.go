package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/matchdb/internal/model"
)

// NewHistoryCommand creates the history command group.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Track and inspect attribute changes",
	}
	cmd.AddCommand(newHistoryEnableCommand(rootOpts))
	cmd.AddCommand(newHistoryShowCommand(rootOpts))
	return cmd
}

// HistoryStatus is the result of history enable.
type HistoryStatus struct {
	Enabled bool     `json:"enabled"`
	Tracked []string `json:"tracked"`
}

func (h HistoryStatus) String() string {
	return fmt.Sprintf("history enabled for %d fields: %s", len(h.Tracked), strings.Join(h.Tracked, ", "))
}

func newHistoryEnableCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Create the history tables of all normal fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, out *OutputFormatter) error {
				if err := s.store.EnableHistory(cmd.Context()); err != nil {
					return WrapExitError(ExitFailure, "could not enable history", err)
				}
				status := HistoryStatus{Enabled: s.store.HistoryEnabled(), Tracked: []string{}}
				for _, f := range s.store.Fields() {
					if !f.IsMeta() {
						status.Tracked = append(status.Tracked, f.Name)
					}
				}
				return out.Success(status)
			})
		},
	}
}

// HistoryEntry is one recorded change in command output.
type HistoryEntry struct {
	UserID    int64     `json:"user_id"`
	MatchID   int64     `json:"match_id"`
	Timestamp time.Time `json:"timestamp"`
	Value     string    `json:"value"`
}

// HistoryTable is the result of history show.
type HistoryTable struct {
	Field   string         `json:"field"`
	Entries []HistoryEntry `json:"entries"`
}

// RenderText implements TextRenderer.
func (h HistoryTable) RenderText(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, keyColor.Sprint("USER\tMATCH\tTIME\t"+strings.ToUpper(h.Field)))
	for _, e := range h.Entries {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", e.UserID, e.MatchID, e.Timestamp.Format(time.RFC3339), e.Value)
	}
	tw.Flush()
	dimColor.Fprintf(w, "(%d entries)\n", len(h.Entries))
}

func newHistoryShowCommand(rootOpts *RootOptions) *cobra.Command {
	var q queryFlags

	cmd := &cobra.Command{
		Use:   "show <field>",
		Short: "List the recorded changes of a field",
		Long: `List the recorded changes of a field.

Sorting accepts user_id, match_id, timestamp and the field name. Filter
clauses may refer to the same columns.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, out *OutputFormatter) error {
				recs, err := s.store.History(cmd.Context(), args[0], q.sort, q.order(), q.filter(), q.offset, q.limit)
				if err != nil {
					return fieldError("could not read history of "+args[0], err)
				}
				return out.Success(newHistoryTable(model.FoldName(args[0]), recs))
			})
		},
	}
	q.register(cmd, true)
	return cmd
}

func newHistoryTable(field string, recs []model.HistoryRecord) HistoryTable {
	t := HistoryTable{Field: field, Entries: make([]HistoryEntry, 0, len(recs))}
	for _, r := range recs {
		t.Entries = append(t.Entries, HistoryEntry{
			UserID:    r.UserID,
			MatchID:   r.MatchID,
			Timestamp: r.Timestamp,
			Value:     r.Value.String(),
		})
	}
	return t
}
