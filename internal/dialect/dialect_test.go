package dialect

import (
	"context"
	"database/sql"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/matchdb/internal/model"
)

func TestFor(t *testing.T) {
	assert.Equal(t, []string{"postgres", "sqlite3", "sqlserver"}, Names())

	d, err := For("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, SQLiteDriver, d.DriverName())

	_, err = For("oracle")
	assert.Error(t, err)
}

func TestSplitScript(t *testing.T) {
	got := SplitScript(`
-- leading comment
CREATE TABLE a (x INTEGER);

  -- only a comment;
CREATE INDEX a_x ON a(x);
`)
	assert.Equal(t, []string{"CREATE TABLE a (x INTEGER)", "CREATE INDEX a_x ON a(x)"}, got)
}

func TestBootstrapScripts(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			d, err := For(name)
			require.NoError(t, err)

			stmts, err := d.Bootstrap()
			require.NoError(t, err)
			require.Len(t, stmts, 3)
			assert.Contains(t, stmts[0], "CREATE TABLE")
			assert.Contains(t, stmts[0], "transformation")
		})
	}
}

func TestDialectSyntax(t *testing.T) {
	tests := []struct {
		name        string
		quote       string
		placeholder string
		limit       string
		real        string
		temp        string
	}{
		{"sqlite3", `"error"`, "?", "LIMIT 20, 10", "REAL", "CREATE TEMP TABLE t AS SELECT a FROM b"},
		{"postgres", `"error"`, "$2", "LIMIT 10 OFFSET 20", "DOUBLE PRECISION", "CREATE TEMP TABLE t AS SELECT a FROM b"},
		{"sqlserver", "[error]", "@p2", "OFFSET 20 ROWS FETCH NEXT 10 ROWS ONLY", "FLOAT", "SELECT a INTO #t FROM b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := For(tt.name)
			require.NoError(t, err)

			assert.Equal(t, tt.quote, d.Quote("error"))
			assert.Equal(t, tt.placeholder, d.Placeholder(2))
			assert.Equal(t, tt.limit, d.Limit(20, 10))
			assert.Equal(t, tt.real, d.ColumnType(model.TypeReal))
			assert.Equal(t, tt.temp, d.CreateTemp("t", "a", "FROM b"))
		})
	}
}

func TestSQLServerBind_NaNIsNull(t *testing.T) {
	d, err := For("sqlserver")
	require.NoError(t, err)

	assert.Nil(t, d.Bind(model.Real(math.NaN())))
	assert.Nil(t, d.Bind(model.Real(math.Inf(1))))
	assert.Equal(t, 1.5, d.Bind(model.Real(1.5)))
	assert.Equal(t, int64(2), d.Bind(model.Integer(2)))
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open(SQLiteDriver, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLite_ConnectHookAppliesPragmas(t *testing.T) {
	db := openSQLite(t)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestSQLite_Relations(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	d, err := For("sqlite3")
	require.NoError(t, err)

	stmts, err := d.Bootstrap()
	require.NoError(t, err)
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}

	_, err = db.Exec(`CREATE TABLE error (match_id INTEGER PRIMARY KEY, error REAL, confidence REAL)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE VIEW worst AS SELECT match_id, error AS worst FROM error`)
	require.NoError(t, err)
	// Depending on the SQLite version this fails here or on first use.
	_, _ = db.Exec(`CREATE VIEW broken AS SELECT match_id, x AS broken FROM gone`)

	rels, err := d.Relations(ctx, db)
	require.NoError(t, err)

	names := make([]string, 0, len(rels))
	for _, r := range rels {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"error", "matches", "worst"}, names)

	errTable := rels[0]
	assert.False(t, errTable.View)
	col, ok := errTable.Column("ERROR")
	require.True(t, ok)
	assert.Equal(t, "REAL", col.Type)

	assert.True(t, rels[2].View)
	_, ok = rels[2].Column("worst")
	assert.True(t, ok)
}

func TestSQLite_TempTable(t *testing.T) {
	db := openSQLite(t)
	d, err := For("sqlite3")
	require.NoError(t, err)

	_, err = db.Exec("CREATE TABLE src (a INTEGER)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO src VALUES (1), (2)")
	require.NoError(t, err)

	_, err = db.Exec(d.CreateTemp("tmp_copy", "a", "FROM src WHERE a > 1"))
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+d.TempName("tmp_copy")).Scan(&n))
	assert.Equal(t, 1, n)

	_, err = db.Exec(d.DropTemp("tmp_copy"))
	require.NoError(t, err)
	_, err = db.Exec(d.DropTemp("tmp_copy"))
	require.NoError(t, err)
}
