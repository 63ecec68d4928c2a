package dialect

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/roach88/matchdb/internal/model"
)

func init() {
	Register(sqlserverDialect{})
}

type sqlserverDialect struct{}

func (sqlserverDialect) Name() string                     { return "sqlserver" }
func (sqlserverDialect) DriverName() string               { return "sqlserver" }
func (sqlserverDialect) DefaultParams() map[string]string { return nil }
func (sqlserverDialect) MaxOpenConns() int                { return 0 }

func (sqlserverDialect) Quote(ident string) string {
	return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
}

func (sqlserverDialect) Placeholder(n int) string { return "@p" + strconv.Itoa(n) }

// OFFSET/FETCH is only valid after ORDER BY, which the builder always emits.
func (sqlserverDialect) Limit(offset, limit int) string {
	return fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, limit)
}

func (sqlserverDialect) ColumnType(t model.SQLType) string {
	switch t {
	case model.TypeReal:
		return "FLOAT"
	case model.TypeInteger:
		return "BIGINT"
	default:
		return "NVARCHAR(MAX)"
	}
}

// FLOAT columns reject NaN and infinities; they are stored as NULL.
func (sqlserverDialect) Bind(v model.Value) any {
	if r, ok := v.(model.Real); ok {
		f := float64(r)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
	}
	return v.SQL()
}

func (sqlserverDialect) Relations(ctx context.Context, q Querier) ([]Relation, error) {
	return scanRelations(ctx, q, `
		SELECT c.TABLE_NAME,
		       CASE t.TABLE_TYPE WHEN 'VIEW' THEN 'view' ELSE 'table' END,
		       c.COLUMN_NAME, c.DATA_TYPE
		FROM INFORMATION_SCHEMA.COLUMNS c
		JOIN INFORMATION_SCHEMA.TABLES t
		  ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME
		WHERE c.TABLE_SCHEMA = SCHEMA_NAME()
		ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`)
}

func (d sqlserverDialect) CreateTemp(name, selectList, from string) string {
	return fmt.Sprintf("SELECT %s INTO %s %s", selectList, d.TempName(name), from)
}

func (d sqlserverDialect) DropTemp(name string) string {
	return "DROP TABLE IF EXISTS " + d.TempName(name)
}

func (sqlserverDialect) TempName(name string) string { return "#" + name }

func (sqlserverDialect) LockCore() string {
	return "SELECT TOP 0 match_id FROM " + model.CoreTable + " WITH (TABLOCKX, HOLDLOCK)"
}

func (sqlserverDialect) Bootstrap() ([]string, error) { return loadScript("sqlserver") }
