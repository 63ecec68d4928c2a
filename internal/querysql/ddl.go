package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/matchdb/internal/model"
)

// CreateField returns the DDL of a normal field side table.
func (b *Builder) CreateField(name string, t model.SQLType) string {
	q := b.Dialect.Quote(name)
	return fmt.Sprintf("CREATE TABLE %s (match_id %s PRIMARY KEY REFERENCES %s(match_id), %s %s, confidence %s)",
		q, b.Dialect.ColumnType(model.TypeInteger), model.CoreTable,
		q, b.Dialect.ColumnType(t), b.Dialect.ColumnType(model.TypeReal))
}

// CreateIndex returns the DDL of the value index of a normal field.
func (b *Builder) CreateIndex(name string) string {
	q := b.Dialect.Quote(name)
	return fmt.Sprintf("CREATE INDEX %s ON %s(%s)", b.Dialect.Quote(name+"_index"), q, q)
}

// CreateView returns the DDL of a meta field.
func (b *Builder) CreateView(name, query string) string {
	return fmt.Sprintf("CREATE VIEW %s AS %s", b.Dialect.Quote(name), strings.TrimRight(strings.TrimSpace(query), ";"))
}

// DropField drops the table or view backing f.
func (b *Builder) DropField(f model.Field) string {
	if f.IsMeta() {
		return "DROP VIEW " + b.Dialect.Quote(f.Name)
	}
	return "DROP TABLE " + b.Dialect.Quote(f.Name)
}

// CreateHistory returns the DDL of the audit table of a normal field.
func (b *Builder) CreateHistory(f model.Field) string {
	integer := b.Dialect.ColumnType(model.TypeInteger)
	return fmt.Sprintf("CREATE TABLE %s (user_id %s, match_id %s, %s %s, %s %s, confidence %s)",
		b.Dialect.Quote(f.HistoryTable()), integer, integer,
		b.Dialect.Quote("timestamp"), integer,
		b.Dialect.Quote(f.Name), b.Dialect.ColumnType(f.Type),
		b.Dialect.ColumnType(model.TypeReal))
}

// InsertAttribute takes (match_id, value, confidence).
func (b *Builder) InsertAttribute(field string) string {
	q := b.Dialect.Quote(field)
	return fmt.Sprintf("INSERT INTO %s (match_id, %s, confidence) VALUES (%s)", q, q, b.placeholders(3))
}

// UpdateAttribute takes (value, confidence, match_id).
func (b *Builder) UpdateAttribute(field string) string {
	q := b.Dialect.Quote(field)
	return fmt.Sprintf("UPDATE %s SET %s = %s, confidence = %s WHERE match_id = %s",
		q, q, b.Dialect.Placeholder(1), b.Dialect.Placeholder(2), b.Dialect.Placeholder(3))
}

// InsertHistory takes (user_id, match_id, timestamp, value, confidence).
func (b *Builder) InsertHistory(f model.Field) string {
	return fmt.Sprintf("INSERT INTO %s (user_id, match_id, %s, %s, confidence) VALUES (%s)",
		b.Dialect.Quote(f.HistoryTable()), b.Dialect.Quote("timestamp"), b.Dialect.Quote(f.Name), b.placeholders(5))
}

// SelectAttribute takes (match_id).
func (b *Builder) SelectAttribute(field string) string {
	q := b.Dialect.Quote(field)
	return fmt.Sprintf("SELECT %s.%s FROM %s WHERE %s.match_id = %s", q, q, q, q, b.Dialect.Placeholder(1))
}

// FieldValues selects (match_id, value) of every row of a field.
func (b *Builder) FieldValues(field string) string {
	q := b.Dialect.Quote(field)
	return fmt.Sprintf("SELECT %s.match_id, %s.%s FROM %s ORDER BY %s.match_id ASC", q, q, q, q, q)
}

// InsertMatch takes (match_id, source_id, source_name, target_id, target_name, transformation).
func (b *Builder) InsertMatch() string {
	return fmt.Sprintf("INSERT INTO %s (match_id, source_id, source_name, target_id, target_name, transformation) VALUES (%s)",
		model.CoreTable, b.placeholders(6))
}

// MatchByID takes (match_id).
func (b *Builder) MatchByID() string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s.match_id = %s",
		b.coreList(model.CoreTable), model.CoreTable, model.CoreTable, b.Dialect.Placeholder(1))
}

// MatchIDs selects every match id in ascending order.
func (b *Builder) MatchIDs() string {
	return "SELECT match_id FROM " + model.CoreTable + " ORDER BY match_id ASC"
}

// NextMatchID selects the id following the largest one in use.
func (b *Builder) NextMatchID() string {
	return "SELECT COALESCE(MAX(match_id), 0) + 1 FROM " + model.CoreTable
}

func (b *Builder) placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = b.Dialect.Placeholder(i + 1)
	}
	return strings.Join(ps, ", ")
}
