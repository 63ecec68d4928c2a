package dialect

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/roach88/matchdb/internal/model"
)

func init() {
	Register(postgresDialect{})
}

type postgresDialect struct{}

func (postgresDialect) Name() string                     { return "postgres" }
func (postgresDialect) DriverName() string               { return "pgx" }
func (postgresDialect) DefaultParams() map[string]string { return nil }
func (postgresDialect) MaxOpenConns() int                { return 0 }

func (postgresDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) Limit(offset, limit int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

func (postgresDialect) ColumnType(t model.SQLType) string {
	switch t {
	case model.TypeReal:
		return "DOUBLE PRECISION"
	case model.TypeInteger:
		return "BIGINT"
	default:
		return "TEXT"
	}
}

func (postgresDialect) Bind(v model.Value) any { return v.SQL() }

func (postgresDialect) Relations(ctx context.Context, q Querier) ([]Relation, error) {
	return scanRelations(ctx, q, `
		SELECT c.table_name,
		       CASE t.table_type WHEN 'VIEW' THEN 'view' ELSE 'table' END,
		       c.column_name, c.data_type
		FROM information_schema.columns c
		JOIN information_schema.tables t
		  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		WHERE c.table_schema = current_schema()
		ORDER BY c.table_name, c.ordinal_position`)
}

func (postgresDialect) CreateTemp(name, selectList, from string) string {
	return fmt.Sprintf("CREATE TEMP TABLE %s AS SELECT %s %s", name, selectList, from)
}

func (postgresDialect) DropTemp(name string) string {
	return "DROP TABLE IF EXISTS " + name
}

func (postgresDialect) TempName(name string) string { return name }

func (postgresDialect) LockCore() string {
	return "LOCK TABLE " + model.CoreTable + " IN SHARE ROW EXCLUSIVE MODE"
}

func (postgresDialect) Bootstrap() ([]string, error) { return loadScript("postgres") }
