// Package filter holds the caller-supplied restriction of a match query.
//
// A Filter is a conjunction of opaque SQL boolean expressions plus the set of
// attribute fields those expressions reference. The query builder joins every
// declared dependency into the query before applying the clauses, so a clause
// may refer to any dependency as <field>.<field> or <field>.confidence.
//
// Clauses are not parsed or validated. They are trusted input.
package filter

import (
	"sort"
	"strings"

	"github.com/roach88/matchdb/internal/model"
)

// SortOrder is the direction of the ORDER BY clause.
type SortOrder int

const (
	Ascending SortOrder = iota
	Descending
)

// String returns the SQL keyword for the order.
func (o SortOrder) String() string {
	if o == Descending {
		return "DESC"
	}
	return "ASC"
}

// ParseSortOrder accepts "asc"/"desc" in any case. Anything else is Ascending.
func ParseSortOrder(s string) SortOrder {
	if strings.EqualFold(strings.TrimSpace(s), "desc") {
		return Descending
	}
	return Ascending
}

// Filter is an ordered set of clauses and the fields they depend on.
// The zero value is an empty filter ready to use.
type Filter struct {
	clauses []string
	deps    map[string]struct{}
}

// New returns a filter with a single clause.
func New(clause string, deps ...string) *Filter {
	f := &Filter{}
	f.Add(clause, deps...)
	return f
}

// Add appends clause and records deps. Blank clauses are ignored but their
// dependencies are still recorded, which forces an inner join on them.
func (f *Filter) Add(clause string, deps ...string) *Filter {
	if c := strings.TrimSpace(clause); c != "" {
		f.clauses = append(f.clauses, c)
	}
	f.Depend(deps...)
	return f
}

// Depend records fields the query must join without adding a clause.
func (f *Filter) Depend(deps ...string) *Filter {
	for _, d := range deps {
		name := model.FoldName(d)
		if name == "" {
			continue
		}
		if f.deps == nil {
			f.deps = make(map[string]struct{})
		}
		f.deps[name] = struct{}{}
	}
	return f
}

// Clauses returns a copy of the clauses in insertion order.
func (f *Filter) Clauses() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.clauses))
	copy(out, f.clauses)
	return out
}

// Dependencies returns the folded dependency names, sorted.
func (f *Filter) Dependencies() []string {
	if f == nil {
		return nil
	}
	out := make([]string, 0, len(f.deps))
	for d := range f.deps {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// DependsOn reports whether name was declared as a dependency.
func (f *Filter) DependsOn(name string) bool {
	if f == nil {
		return false
	}
	_, ok := f.deps[model.FoldName(name)]
	return ok
}

// IsEmpty reports whether the filter has no clauses.
// A filter with dependencies but no clauses is still empty.
func (f *Filter) IsEmpty() bool {
	return f == nil || len(f.clauses) == 0
}

// Where renders the clauses as "(c1) AND (c2) ...", or "" when empty.
func (f *Filter) Where() string {
	if f.IsEmpty() {
		return ""
	}
	parts := make([]string, len(f.clauses))
	for i, c := range f.clauses {
		parts[i] = "(" + c + ")"
	}
	return strings.Join(parts, " AND ")
}

// Clone returns an independent copy.
func (f *Filter) Clone() *Filter {
	out := &Filter{}
	if f == nil {
		return out
	}
	out.clauses = f.Clauses()
	out.Depend(f.Dependencies()...)
	return out
}
