// Package dialect isolates the SQL that differs between the supported engines:
// identifier quoting, placeholders, pagination, catalog introspection, column
// types, temporary tables and the bootstrap script of the core schema.
package dialect

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/matchdb/internal/model"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Column is one introspected column.
type Column struct {
	Name string
	Type string // declared type as reported by the engine
}

// Relation is a table or view of the current schema.
type Relation struct {
	Name    string
	View    bool
	Columns []Column
}

// Column returns the named column, comparing case-insensitively.
func (r Relation) Column(name string) (Column, bool) {
	for _, c := range r.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// Dialect is the engine-specific part of the store.
type Dialect interface {
	// Name is the descriptor driver name.
	Name() string
	// DriverName is the database/sql driver to open.
	DriverName() string
	// DefaultParams are merged into the descriptor params before opening.
	DefaultParams() map[string]string
	// MaxOpenConns caps the pool; 0 means unlimited.
	MaxOpenConns() int

	Quote(ident string) string
	// Placeholder returns the bind parameter for 1-based argument n.
	Placeholder(n int) string
	// Limit renders the pagination suffix. It is appended after ORDER BY.
	Limit(offset, limit int) string
	ColumnType(t model.SQLType) string
	// Bind converts a value to what the driver accepts.
	Bind(v model.Value) any

	// Relations lists the tables and views of the working schema with their
	// columns, sorted by name.
	Relations(ctx context.Context, q Querier) ([]Relation, error)

	// CreateTemp materializes selectList and from (which starts at FROM) into
	// a temporary table and returns the statement. TempName is how later
	// statements refer to it.
	CreateTemp(name, selectList, from string) string
	DropTemp(name string) string
	TempName(name string) string

	// LockCore returns a statement taking an exclusive lock on the core table
	// for the rest of the transaction, or "" when the transaction mode
	// already serializes writers.
	LockCore() string

	// Bootstrap returns the statements creating the core schema.
	Bootstrap() ([]string, error)
}

var (
	mu       sync.RWMutex
	dialects = map[string]Dialect{}
)

// Register makes d available under d.Name().
func Register(d Dialect) {
	mu.Lock()
	defer mu.Unlock()
	dialects[d.Name()] = d
}

// For returns the dialect of a descriptor driver.
func For(driver string) (Dialect, error) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("no dialect for driver %q", driver)
	}
	return d, nil
}

// Names lists the registered dialects.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(dialects))
	for n := range dialects {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// SplitScript splits a script on ';' into trimmed statements, dropping blanks
// and comment-only chunks.
func SplitScript(script string) []string {
	var out []string
	for _, chunk := range strings.Split(script, ";") {
		var lines []string
		for _, l := range strings.Split(chunk, "\n") {
			if strings.HasPrefix(strings.TrimSpace(l), "--") {
				continue
			}
			lines = append(lines, l)
		}
		stmt := strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func loadScript(name string) ([]string, error) {
	data, err := schemaFS.ReadFile("schema/" + name + ".sql")
	if err != nil {
		return nil, fmt.Errorf("load bootstrap script %s: %w", name, err)
	}
	return SplitScript(string(data)), nil
}

// scanRelations reads (relation, kind, column, type) rows ordered by relation.
// kind is "view" for views.
func scanRelations(ctx context.Context, q Querier, query string, args ...any) ([]Relation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}
	defer rows.Close()

	var (
		out   []Relation
		index = map[string]int{}
	)
	for rows.Next() {
		var name, kind, col string
		var typ sql.NullString
		if err := rows.Scan(&name, &kind, &col, &typ); err != nil {
			return nil, fmt.Errorf("introspect scan: %w", err)
		}
		i, ok := index[name]
		if !ok {
			i = len(out)
			index[name] = i
			out = append(out, Relation{Name: name, View: strings.EqualFold(kind, "view")})
		}
		out[i].Columns = append(out[i].Columns, Column{Name: col, Type: typ.String})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("introspect rows: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
