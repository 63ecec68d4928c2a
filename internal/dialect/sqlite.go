package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/matchdb/internal/model"
)

// SQLiteDriver is the database/sql driver registered with the connection
// pragmas applied on every new connection.
const SQLiteDriver = "sqlite3_matchdb"

var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

func init() {
	sql.Register(SQLiteDriver, &sqlite3.SQLiteDriver{
		ConnectHook: func(c *sqlite3.SQLiteConn) error {
			for _, p := range sqlitePragmas {
				if _, err := c.Exec(p, nil); err != nil {
					return fmt.Errorf("failed to execute %q: %w", p, err)
				}
			}
			return nil
		},
	})
	Register(sqliteDialect{})
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return "sqlite3" }
func (sqliteDialect) DriverName() string { return SQLiteDriver }

// Immediate transactions take the write lock at BEGIN, which is what
// schema changes need.
func (sqliteDialect) DefaultParams() map[string]string {
	return map[string]string{"_txlock": "immediate"}
}

// SQLite only supports one writer at a time.
func (sqliteDialect) MaxOpenConns() int { return 1 }

func (sqliteDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) Limit(offset, limit int) string {
	return fmt.Sprintf("LIMIT %d, %d", offset, limit)
}

func (sqliteDialect) ColumnType(t model.SQLType) string {
	switch t {
	case model.TypeReal:
		return "REAL"
	case model.TypeInteger:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func (sqliteDialect) Bind(v model.Value) any { return v.SQL() }

// Relations reads the column list per relation. A view whose underlying table
// was dropped fails pragma_table_info; such views are skipped rather than
// failing the whole catalog.
func (sqliteDialect) Relations(ctx context.Context, q Querier) ([]Relation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT name, type FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}

	var out []Relation
	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			rows.Close()
			return nil, fmt.Errorf("introspect scan: %w", err)
		}
		out = append(out, Relation{Name: name, View: kind == "view"})
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("introspect rows: %w", err)
	}

	// The pool may hold a single connection, so columns are read only after
	// the relation list has been released.
	kept := out[:0]
	for _, r := range out {
		cols, err := sqliteColumns(ctx, q, r.Name)
		if err != nil && !r.View {
			return nil, err
		}
		if len(cols) == 0 {
			continue
		}
		r.Columns = cols
		kept = append(kept, r)
	}
	return kept, nil
}

func sqliteColumns(ctx context.Context, q Querier, relation string) ([]Column, error) {
	rows, err := q.QueryContext(ctx, "SELECT name, type FROM pragma_table_info(?) ORDER BY cid", relation)
	if err != nil {
		return nil, fmt.Errorf("introspect %s: %w", relation, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("introspect %s: %w", relation, err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("introspect %s: %w", relation, err)
	}
	return cols, nil
}

func (d sqliteDialect) CreateTemp(name, selectList, from string) string {
	return fmt.Sprintf("CREATE TEMP TABLE %s AS SELECT %s %s", d.TempName(name), selectList, from)
}

func (d sqliteDialect) DropTemp(name string) string {
	return "DROP TABLE IF EXISTS temp." + name
}

func (sqliteDialect) TempName(name string) string { return name }

func (sqliteDialect) LockCore() string { return "" }

func (sqliteDialect) Bootstrap() ([]string, error) { return loadScript("sqlite3") }
