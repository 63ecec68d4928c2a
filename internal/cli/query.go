package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/matchdb/internal/filter"
	"github.com/roach88/matchdb/internal/model"
	"github.com/roach88/matchdb/internal/querysql"
)

// queryFlags are the selection flags shared by query and history show.
type queryFlags struct {
	where  []string
	deps   []string
	sort   string
	desc   bool
	offset int
	limit  int
}

func (q *queryFlags) register(cmd *cobra.Command, page bool) {
	cmd.Flags().StringArrayVar(&q.where, "where", nil, "SQL filter clause (repeatable, joined with AND)")
	cmd.Flags().StringArrayVar(&q.deps, "dep", nil, "field the clauses refer to (repeatable)")
	if !page {
		return
	}
	cmd.Flags().StringVar(&q.sort, "sort", "", "field to sort by")
	cmd.Flags().BoolVar(&q.desc, "desc", false, "sort descending")
	cmd.Flags().IntVar(&q.offset, "offset", 0, "rows to skip")
	cmd.Flags().IntVar(&q.limit, "limit", -1, "maximum rows, -1 for all")
}

func (q *queryFlags) filter() *filter.Filter {
	f := &filter.Filter{}
	for _, w := range q.where {
		f.Add(w)
	}
	return f.Depend(q.deps...)
}

func (q *queryFlags) order() filter.SortOrder {
	if q.desc {
		return filter.Descending
	}
	return filter.Ascending
}

// CountResult is the result of query count.
type CountResult struct {
	Count int `json:"count"`
}

func (r CountResult) String() string { return strconv.Itoa(r.Count) }

// MatchRow is one match in command output.
type MatchRow struct {
	ID         int64             `json:"id"`
	Source     string            `json:"src"`
	Target     string            `json:"tgt"`
	Transform  string            `json:"xf"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// MatchTable is the result of query fetch.
type MatchTable struct {
	Columns []string   `json:"columns,omitempty"`
	Matches []MatchRow `json:"matches"`
}

// RenderText implements TextRenderer.
func (t MatchTable) RenderText(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := append([]string{"ID", "SRC", "TGT"}, t.Columns...)
	fmt.Fprintln(tw, keyColor.Sprint(strings.Join(header, "\t")))
	for _, m := range t.Matches {
		cells := []string{strconv.FormatInt(m.ID, 10), m.Source, m.Target}
		for _, c := range t.Columns {
			cells = append(cells, m.Attributes[c])
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
	dimColor.Fprintf(w, "(%d matches)\n", len(t.Matches))
}

func newMatchTable(ms []model.Match, columns []string) MatchTable {
	t := MatchTable{Columns: columns, Matches: make([]MatchRow, 0, len(ms))}
	for _, m := range ms {
		row := MatchRow{
			ID:        m.ID,
			Source:    m.Source,
			Target:    m.Target,
			Transform: model.FormatTransform(m.Transform),
		}
		if len(columns) > 0 {
			row.Attributes = make(map[string]string, len(columns))
			for _, c := range columns {
				if v, ok := m.Attribute(c); ok {
					row.Attributes[c] = v.String()
				}
			}
		}
		t.Matches = append(t.Matches, row)
	}
	return t
}

// PlanResult is the result of query fetch --explain.
type PlanResult struct {
	Fast     bool     `json:"fast"`
	Setup    []string `json:"setup,omitempty"`
	Query    string   `json:"query"`
	Teardown []string `json:"teardown,omitempty"`

	text string
}

func (p PlanResult) String() string { return strings.TrimRight(p.text, "\n") }

func newPlanResult(p querysql.Plan) PlanResult {
	return PlanResult{Fast: p.Fast, Setup: p.Setup, Query: p.Query, Teardown: p.Teardown, text: p.String()}
}

// NewQueryCommand creates the query command group.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Count and fetch matches",
		Long: `Count and fetch matches.

Filter clauses are SQL conditions over the core columns (match_id, src,
tgt, xf) and the value columns of fields, which are named after the
field. Every field a clause refers to must be declared with --dep so that
the query joins it.

Example:
  matchdb query fetch --where "error < 0.5" --dep error --sort error --desc --preload status`,
	}
	cmd.AddCommand(newQueryCountCommand(rootOpts))
	cmd.AddCommand(newQueryFetchCommand(rootOpts))
	return cmd
}

func newQueryCountCommand(rootOpts *RootOptions) *cobra.Command {
	var q queryFlags

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count the matches passing the filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, out *OutputFormatter) error {
				n, err := s.store.Count(cmd.Context(), q.filter())
				if err != nil {
					return WrapExitError(ExitFailure, "query failed", err)
				}
				return out.Success(CountResult{Count: n})
			})
		},
	}
	q.register(cmd, false)
	return cmd
}

func newQueryFetchCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		q       queryFlags
		preload []string
		explain bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch one page of matches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, out *OutputFormatter) error {
				st := s.store
				if explain {
					plan := st.Explain(preload, q.sort, q.order(), q.filter(), q.offset, q.limit)
					return out.Success(newPlanResult(plan))
				}

				var columns []string
				for _, p := range preload {
					if f, ok := st.Field(p); ok {
						columns = append(columns, f.Name)
					} else {
						out.Warn("unknown field %s not loaded", p)
					}
				}

				var (
					ms  []model.Match
					err error
				)
				if len(preload) > 0 {
					ms, err = st.FetchPreloaded(cmd.Context(), preload, q.sort, q.order(), q.filter(), q.offset, q.limit)
				} else {
					ms, err = st.Fetch(cmd.Context(), q.sort, q.order(), q.filter(), q.offset, q.limit)
				}
				if err != nil {
					return WrapExitError(ExitFailure, "query failed", err)
				}
				return out.Success(newMatchTable(ms, columns))
			})
		},
	}
	q.register(cmd, true)
	cmd.Flags().StringArrayVar(&preload, "preload", nil, "field to load with each match (repeatable)")
	cmd.Flags().BoolVar(&explain, "explain", false, "print the SQL instead of running it")
	return cmd
}
