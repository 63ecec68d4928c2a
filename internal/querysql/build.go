// Package querysql builds the SQL executed by the store: filtered match counts
// and pages, preloaded attribute queries, history queries and the DDL of
// attribute fields.
//
// Every query over matches is ordered, with match_id as the final tiebreaker,
// so pagination is deterministic. Join order follows the sorted field names,
// which keeps the generated text stable.
package querysql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/matchdb/internal/dialect"
	"github.com/roach88/matchdb/internal/filter"
	"github.com/roach88/matchdb/internal/model"
)

// TempTable is the scratch table of the fast preload path.
const TempTable = "matches_joined_temp"

const joinedAlias = "joined"

// CoreColumns are the columns of matches read into a model.Match, in scan order.
var CoreColumns = []string{"match_id", "source_name", "target_name", "transformation"}

// Catalog resolves field names. Names are already folded.
type Catalog interface {
	Field(name string) (model.Field, bool)
}

// Plan is a ready-to-run statement sequence. Setup and Teardown are empty
// unless the plan materializes a temporary table; all statements of a plan
// must run on the same connection.
type Plan struct {
	Setup    []string
	Query    string
	Teardown []string

	// Fast is set when the plan uses the temporary-table strategy.
	Fast bool
	// Preload lists the attribute columns following CoreColumns in the result.
	Preload []model.Field
	// Warnings collects ignored inputs (unknown fields, invalid sort keys).
	Warnings []string
}

// String renders all statements of the plan, one section per phase.
func (p Plan) String() string {
	var b strings.Builder
	section := func(name string, stmts ...string) {
		if len(stmts) == 0 {
			return
		}
		b.WriteString("-- " + name + "\n")
		for _, s := range stmts {
			b.WriteString(s + "\n")
		}
	}
	section("setup", p.Setup...)
	section("query", p.Query)
	section("teardown", p.Teardown...)
	return b.String()
}

// Builder generates plans for one dialect against one catalog snapshot.
type Builder struct {
	Dialect dialect.Dialect
	Catalog Catalog
}

// New returns a Builder.
func New(d dialect.Dialect, c Catalog) *Builder {
	return &Builder{Dialect: d, Catalog: c}
}

// fieldSet is a set of resolved fields iterated in name order.
type fieldSet map[string]model.Field

func (s fieldSet) sorted() []model.Field {
	out := make([]model.Field, 0, len(s))
	for _, f := range s {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s fieldSet) clone() fieldSet {
	out := make(fieldSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Count returns the plan counting the matches that satisfy f.
func (b *Builder) Count(f *filter.Filter) Plan {
	var p Plan
	deps := b.dependencies(f, &p)

	p.Query = "SELECT COUNT(*) FROM " + model.CoreTable + b.innerJoins(model.CoreTable, deps) + where(f)
	return p
}

// Matches returns the plan of one page of matches satisfying f.
// Pagination applies only when both offset and limit are non-negative.
func (b *Builder) Matches(sortField string, order filter.SortOrder, f *filter.Filter, offset, limit int) Plan {
	var p Plan
	deps := b.dependencies(f, &p)
	sf, sorted := b.sortField(sortField, &p)
	if sorted {
		deps[sf.Name] = sf
	}

	var q strings.Builder
	q.WriteString("SELECT " + b.coreList(model.CoreTable))
	q.WriteString(" FROM " + model.CoreTable)
	q.WriteString(b.innerJoins(model.CoreTable, deps))
	q.WriteString(where(f))
	q.WriteString(b.orderBy(model.CoreTable, sf, sorted, order))
	q.WriteString(b.limit(offset, limit))

	p.Query = q.String()
	return p
}

// Preloaded returns the plan of one page of matches with the preload fields
// read in the same query.
//
// When nothing the query filters or sorts on is a meta field but at least one
// preload is, the filtered page is first materialized into TempTable over the
// normal fields only, and the meta fields are joined onto that smaller set.
func (b *Builder) Preloaded(preload []string, sortField string, order filter.SortOrder, f *filter.Filter, offset, limit int) Plan {
	var p Plan
	deps := b.dependencies(f, &p)
	sf, sorted := b.sortField(sortField, &p)
	if sorted {
		deps[sf.Name] = sf
	}
	p.Preload = b.preloads(preload, &p)

	if fastEligible(deps, p.Preload) {
		return b.fastPlan(p, deps, sf, sorted, order, f, offset, limit)
	}

	inner := deps.clone()
	left := fieldSet{}
	for _, pf := range p.Preload {
		if _, joined := inner[pf.Name]; joined {
			continue
		}
		if pf.IsMeta() {
			left[pf.Name] = pf
		} else {
			inner[pf.Name] = pf
		}
	}

	var q strings.Builder
	q.WriteString("SELECT " + b.coreList(model.CoreTable))
	for _, pf := range p.Preload {
		q.WriteString(", " + b.valueColumn(pf.Name))
	}
	q.WriteString(" FROM " + model.CoreTable)
	q.WriteString(b.innerJoins(model.CoreTable, inner))
	q.WriteString(b.leftJoins(model.CoreTable, left))
	q.WriteString(where(f))
	q.WriteString(b.orderBy(model.CoreTable, sf, sorted, order))
	q.WriteString(b.limit(offset, limit))

	p.Query = q.String()
	return p
}

// fastEligible reports whether the temporary-table strategy applies: no meta
// field among the dependencies (sort field included) and at least one meta
// preload.
func fastEligible(deps fieldSet, preload []model.Field) bool {
	for _, d := range deps {
		if d.IsMeta() {
			return false
		}
	}
	for _, pf := range preload {
		if pf.IsMeta() {
			return true
		}
	}
	return false
}

func (b *Builder) fastPlan(p Plan, deps fieldSet, sf model.Field, sorted bool, order filter.SortOrder, f *filter.Filter, offset, limit int) Plan {
	inner := deps.clone()
	var meta []model.Field
	for _, pf := range p.Preload {
		if pf.IsMeta() {
			meta = append(meta, pf)
		} else {
			inner[pf.Name] = pf
		}
	}

	// Materialized columns: core, normal preloads, then the sort key unless a
	// preload already carries it.
	cols := []string{b.coreList(model.CoreTable)}
	carried := map[string]bool{}
	for _, pf := range p.Preload {
		if !pf.IsMeta() {
			cols = append(cols, b.valueColumn(pf.Name))
			carried[pf.Name] = true
		}
	}
	if sorted && !carried[sf.Name] {
		cols = append(cols, b.valueColumn(sf.Name))
	}

	var from strings.Builder
	from.WriteString("FROM " + model.CoreTable)
	from.WriteString(b.innerJoins(model.CoreTable, inner))
	from.WriteString(where(f))
	from.WriteString(b.orderBy(model.CoreTable, sf, sorted, order))
	from.WriteString(b.limit(offset, limit))

	p.Setup = []string{
		b.Dialect.DropTemp(TempTable),
		b.Dialect.CreateTemp(TempTable, strings.Join(cols, ", "), from.String()),
	}

	var q strings.Builder
	q.WriteString("SELECT " + b.coreList(joinedAlias))
	for _, pf := range p.Preload {
		if pf.IsMeta() {
			q.WriteString(", " + b.valueColumn(pf.Name))
		} else {
			q.WriteString(", " + joinedAlias + "." + b.Dialect.Quote(pf.Name))
		}
	}
	q.WriteString(" FROM " + b.Dialect.TempName(TempTable) + " AS " + joinedAlias)
	left := fieldSet{}
	for _, m := range meta {
		left[m.Name] = m
	}
	q.WriteString(b.leftJoins(joinedAlias, left))
	if sorted {
		q.WriteString(" ORDER BY " + joinedAlias + "." + b.Dialect.Quote(sf.Name) + " " + order.String() + ", " + joinedAlias + ".match_id ASC")
	} else {
		q.WriteString(" ORDER BY " + joinedAlias + ".match_id ASC")
	}

	p.Query = q.String()
	p.Teardown = []string{b.Dialect.DropTemp(TempTable)}
	p.Fast = true
	return p
}

// History returns the plan of one page of the audit records of field.
// Sorting is restricted to the history columns; other keys are ignored.
func (b *Builder) History(field model.Field, sortKey string, order filter.SortOrder, f *filter.Filter, offset, limit int) Plan {
	var p Plan
	deps := b.dependencies(f, &p)
	table := b.Dialect.Quote(field.HistoryTable())

	var q strings.Builder
	q.WriteString(fmt.Sprintf("SELECT %[1]s.user_id, %[1]s.match_id, %[1]s.%[2]s, %[1]s.%[3]s FROM %[1]s",
		table, b.Dialect.Quote("timestamp"), b.Dialect.Quote(field.Name)))
	q.WriteString(b.innerJoins(table, deps))
	q.WriteString(where(f))

	ts := table + "." + b.Dialect.Quote("timestamp")
	tiebreak := ts + " ASC, " + table + ".match_id ASC"

	q.WriteString(" ORDER BY ")
	switch key := model.FoldName(sortKey); key {
	case "":
		q.WriteString(tiebreak)
	case "timestamp":
		q.WriteString(ts + " " + order.String() + ", " + table + ".match_id ASC")
	case "match_id":
		q.WriteString(table + ".match_id " + order.String() + ", " + ts + " ASC")
	case "user_id":
		q.WriteString(table + ".user_id " + order.String() + ", " + tiebreak)
	case field.Name:
		q.WriteString(table + "." + b.Dialect.Quote(key) + " " + order.String() + ", " + tiebreak)
	default:
		p.Warnings = append(p.Warnings, fmt.Sprintf("sort key %q is not a column of %s, ignored", sortKey, field.HistoryTable()))
		q.WriteString(tiebreak)
	}
	q.WriteString(b.limit(offset, limit))

	p.Query = q.String()
	return p
}

// dependencies resolves the filter's declared fields. Unknown ones are
// dropped with a warning; the query then runs under-constrained.
func (b *Builder) dependencies(f *filter.Filter, p *Plan) fieldSet {
	deps := fieldSet{}
	for _, name := range f.Dependencies() {
		fld, ok := b.Catalog.Field(name)
		if !ok {
			p.Warnings = append(p.Warnings, fmt.Sprintf("unknown dependency %q skipped", name))
			continue
		}
		deps[fld.Name] = fld
	}
	return deps
}

func (b *Builder) sortField(name string, p *Plan) (model.Field, bool) {
	if strings.TrimSpace(name) == "" {
		return model.Field{}, false
	}
	fld, ok := b.Catalog.Field(model.FoldName(name))
	if !ok {
		p.Warnings = append(p.Warnings, fmt.Sprintf("unknown sort field %q ignored", name))
		return model.Field{}, false
	}
	return fld, true
}

// preloads resolves and deduplicates preload names, keeping caller order.
func (b *Builder) preloads(names []string, p *Plan) []model.Field {
	var out []model.Field
	seen := map[string]bool{}
	for _, n := range names {
		fld, ok := b.Catalog.Field(model.FoldName(n))
		if !ok {
			p.Warnings = append(p.Warnings, fmt.Sprintf("unknown preload field %q dropped", n))
			continue
		}
		if seen[fld.Name] {
			continue
		}
		seen[fld.Name] = true
		out = append(out, fld)
	}
	return out
}

func (b *Builder) coreList(table string) string {
	cols := make([]string, len(CoreColumns))
	for i, c := range CoreColumns {
		cols[i] = table + "." + c
	}
	return strings.Join(cols, ", ")
}

func (b *Builder) valueColumn(field string) string {
	q := b.Dialect.Quote(field)
	return q + "." + q
}

func (b *Builder) innerJoins(base string, fields fieldSet) string {
	return b.joins("INNER JOIN", base, fields)
}

func (b *Builder) leftJoins(base string, fields fieldSet) string {
	return b.joins("LEFT JOIN", base, fields)
}

func (b *Builder) joins(kind, base string, fields fieldSet) string {
	var s strings.Builder
	for _, f := range fields.sorted() {
		q := b.Dialect.Quote(f.Name)
		s.WriteString(fmt.Sprintf(" %s %s ON %s.match_id = %s.match_id", kind, q, base, q))
	}
	return s.String()
}

func (b *Builder) orderBy(base string, sf model.Field, sorted bool, order filter.SortOrder) string {
	if !sorted {
		return " ORDER BY " + base + ".match_id ASC"
	}
	return " ORDER BY " + b.valueColumn(sf.Name) + " " + order.String() + ", " + base + ".match_id ASC"
}

func (b *Builder) limit(offset, limit int) string {
	if offset < 0 || limit < 0 {
		return ""
	}
	return " " + b.Dialect.Limit(offset, limit)
}

func where(f *filter.Filter) string {
	if f.IsEmpty() {
		return ""
	}
	return " WHERE " + f.Where()
}
