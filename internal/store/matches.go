package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/matchdb/internal/dialect"
	"github.com/roach88/matchdb/internal/events"
	"github.com/roach88/matchdb/internal/model"
)

// execer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type execer interface {
	dialect.Querier
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// matchIDs returns all match ids in ascending order.
func (s *Store) matchIDs(ctx context.Context, q dialect.Querier) ([]int64, error) {
	stmt := s.builder().MatchIDs()
	rows, err := q.QueryContext(ctx, stmt)
	if err != nil {
		return nil, &QueryError{Op: "match ids", Statement: stmt, Err: s.check(err)}
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("match ids: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Op: "match ids", Statement: stmt, Err: s.check(err)}
	}
	return ids, nil
}

// MatchIDs returns every match id in ascending order. Empty when closed.
func (s *Store) MatchIDs(ctx context.Context) ([]int64, error) {
	db, ok := s.handle()
	if !ok {
		return nil, nil
	}
	return s.matchIDs(ctx, db)
}

// MatchCount returns the number of matches. Zero when closed.
func (s *Store) MatchCount(ctx context.Context) (int, error) {
	return s.Count(ctx, nil)
}

// Match returns one match with its fragments resolved. ErrNotFound when the
// match does not exist or the handle is closed.
func (s *Store) Match(ctx context.Context, id int64) (m model.Match, err error) {
	start := time.Now()
	defer func() { s.observe("match", start, err) }()

	db, ok := s.handle()
	if !ok {
		return model.Match{}, fmt.Errorf("match %d: %w", id, ErrNotFound)
	}

	q := s.builder().MatchByID()
	row, err := s.queryRow(ctx, db, q, id)
	if err != nil {
		return model.Match{}, &QueryError{Op: "match", Statement: q, Err: err}
	}

	var src, tgt, xf string
	if err := row.Scan(&m.ID, &src, &tgt, &xf); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Match{}, fmt.Errorf("match %d: %w", id, ErrNotFound)
		}
		return model.Match{}, &QueryError{Op: "match", Statement: q, Err: s.check(err)}
	}
	if err := s.fillMatch(&m, src, tgt, xf); err != nil {
		return model.Match{}, err
	}
	return m, nil
}

// fillMatch sets the fields read from the core table.
func (s *Store) fillMatch(m *model.Match, src, tgt, xf string) error {
	t, err := model.ParseTransform(xf)
	if err != nil {
		return fmt.Errorf("match %d: %w", m.ID, err)
	}
	m.Source = src
	m.Target = tgt
	m.Transform = t
	m.SourceIndex = model.Resolve(s.resolver, src)
	m.TargetIndex = model.Resolve(s.resolver, tgt)
	return nil
}

// InsertMatch adds a match. A zero ID is replaced by the next free id. The
// new id is returned and MatchCountChanged published.
func (s *Store) InsertMatch(ctx context.Context, m model.Match) (id int64, err error) {
	start := time.Now()
	defer func() { s.observe("insert_match", start, err) }()

	db, ok := s.handle()
	if !ok {
		return 0, fmt.Errorf("insert match: %w", ErrNotOpen)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert match: begin tx: %w", s.check(err))
	}
	defer tx.Rollback()

	id, err = s.insertMatch(ctx, tx, m)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, &QueryError{Op: "insert match", Statement: "COMMIT", Err: s.check(err)}
	}

	s.publish(events.MatchCountChanged)
	return id, nil
}

func (s *Store) insertMatch(ctx context.Context, tx execer, m model.Match) (int64, error) {
	b := s.builder()
	id := m.ID
	if id == 0 {
		q := b.NextMatchID()
		if err := tx.QueryRowContext(ctx, q).Scan(&id); err != nil {
			return 0, &QueryError{Op: "insert match", Statement: q, Err: s.check(err)}
		}
	}

	q := b.InsertMatch()
	_, err := tx.ExecContext(ctx, q,
		id,
		nullIndex(model.Resolve(s.resolver, m.Source)),
		m.Source,
		nullIndex(model.Resolve(s.resolver, m.Target)),
		m.Target,
		model.FormatTransform(m.Transform),
	)
	if err != nil {
		return 0, &QueryError{Op: "insert match", Statement: q, Err: s.check(err)}
	}
	return id, nil
}

func nullIndex(i int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(i), Valid: i != model.NoFragment}
}

// Attribute reads the value of one field for one match. A match without a
// row in the field yields Null, as does a closed handle.
func (s *Store) Attribute(ctx context.Context, matchID int64, field string) (v model.Value, err error) {
	start := time.Now()
	defer func() { s.observe("attribute", start, err) }()

	db, ok := s.handle()
	if !ok {
		return model.Null{}, nil
	}
	f, ok := s.Field(field)
	if !ok {
		return model.Null{}, fmt.Errorf("attribute %s: %w", model.FoldName(field), ErrNotFound)
	}

	q := s.builder().SelectAttribute(f.Name)
	row, err := s.queryRow(ctx, db, q, matchID)
	if err != nil {
		return model.Null{}, &QueryError{Op: "attribute", Statement: q, Err: err}
	}

	var raw any
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Null{}, nil
		}
		return model.Null{}, &QueryError{Op: "attribute", Statement: q, Err: s.check(err)}
	}
	return model.ValueOf(raw), nil
}

// FieldValues returns the value of a field for every match that has one.
// Empty when closed.
func (s *Store) FieldValues(ctx context.Context, field string) (vals map[int64]model.Value, err error) {
	start := time.Now()
	defer func() { s.observe("field_values", start, err) }()

	db, ok := s.handle()
	if !ok {
		return nil, nil
	}
	f, ok := s.Field(field)
	if !ok {
		return nil, fmt.Errorf("field values %s: %w", model.FoldName(field), ErrNotFound)
	}

	q := s.builder().FieldValues(f.Name)
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, &QueryError{Op: "field values", Statement: q, Err: s.check(err)}
	}
	defer rows.Close()

	vals = make(map[int64]model.Value)
	for rows.Next() {
		var id int64
		var raw any
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("field values %s: scan: %w", f.Name, err)
		}
		vals[id] = model.ValueOf(raw)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Op: "field values", Statement: q, Err: s.check(err)}
	}
	return vals, nil
}

// SetAttribute writes the value of a normal field for one match with
// confidence 1.0, creating the row when needed. With history tracking on,
// the change is appended to the field's history in the same transaction.
func (s *Store) SetAttribute(ctx context.Context, matchID int64, field string, v model.Value) (err error) {
	start := time.Now()
	defer func() { s.observe("set_attribute", start, err) }()

	f, ok := s.Field(field)
	if !ok {
		return fmt.Errorf("set attribute %s: %w", model.FoldName(field), ErrNotFound)
	}
	if f.IsMeta() {
		return fmt.Errorf("set attribute %s: %w: meta fields are read-only", f.Name, ErrInvalidField)
	}
	v, err = coerce(f, v)
	if err != nil {
		return fmt.Errorf("set attribute %s: %w: %v", f.Name, ErrInvalidField, err)
	}
	db, ok := s.handle()
	if !ok {
		return fmt.Errorf("set attribute %s: %w", f.Name, ErrNotOpen)
	}

	b := s.builder()
	bound := s.dialect.Bind(v)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set attribute %s: begin tx: %w", f.Name, s.check(err))
	}
	defer tx.Rollback()

	update := b.UpdateAttribute(f.Name)
	res, err := tx.ExecContext(ctx, update, bound, 1.0, matchID)
	if err != nil {
		return &QueryError{Op: "set attribute", Statement: update, Err: s.check(err)}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		insert := b.InsertAttribute(f.Name)
		if _, err := tx.ExecContext(ctx, insert, matchID, bound, 1.0); err != nil {
			return &QueryError{Op: "set attribute", Statement: insert, Err: s.check(err)}
		}
	}

	if s.HistoryEnabled() {
		if err := s.appendHistory(ctx, tx, f, matchID, v); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return &QueryError{Op: "set attribute", Statement: "COMMIT", Err: s.check(err)}
	}
	s.logger.Debug("attribute set", zap.String("field", f.Name), zap.Int64("match_id", matchID))
	return nil
}

// coerce converts v to the field's type. Null passes through.
func coerce(f model.Field, v model.Value) (model.Value, error) {
	if v == nil {
		return model.Null{}, nil
	}
	if _, isNull := v.(model.Null); isNull || f.Type == model.TypeUnknown || v.Type() == f.Type {
		return v, nil
	}
	if f.Type == model.TypeReal {
		if i, ok := v.(model.Integer); ok {
			return model.Real(i), nil
		}
	}
	return model.ParseValue(f.Type, v.String())
}

// queryRow runs a single-row query through the statement cache.
func (s *Store) queryRow(ctx context.Context, db *sql.DB, q string, args ...any) (*sql.Row, error) {
	s.mu.Lock()
	cache := s.stmts
	s.mu.Unlock()

	stmt, err := cache.prepare(ctx, db, q)
	if err != nil {
		return nil, s.check(err)
	}
	s.logger.Debug("query", zap.String("sql", q))
	if stmt != nil {
		return stmt.QueryRowContext(ctx, args...), nil
	}
	return db.QueryRowContext(ctx, q, args...), nil
}
