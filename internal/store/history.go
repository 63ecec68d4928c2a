package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/matchdb/internal/filter"
	"github.com/roach88/matchdb/internal/model"
)

// HistoryEnabled reports whether attribute writes are recorded.
func (s *Store) HistoryEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history
}

// EnableHistory turns history tracking on and creates the missing history
// tables of all normal fields. Existing history tables are left alone.
// It does nothing on a closed handle.
func (s *Store) EnableHistory(ctx context.Context) error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil
	}
	s.history = true
	s.mu.Unlock()

	return s.ensureHistoryTables(ctx)
}

// ensureHistoryTables creates <field>_history for every normal field that
// lacks one.
func (s *Store) ensureHistoryTables(ctx context.Context) error {
	db, ok := s.handle()
	if !ok {
		return nil
	}

	b := s.builder()
	for _, f := range s.Fields() {
		if f.IsMeta() || s.hasRelation(f.HistoryTable()) {
			continue
		}
		q := b.CreateHistory(f)
		if _, err := db.ExecContext(ctx, q); err != nil {
			return &QueryError{Op: "create history", Statement: q, Err: s.check(err)}
		}

		s.mu.Lock()
		if s.relNames != nil {
			s.relNames[f.HistoryTable()] = true
		}
		s.mu.Unlock()
		s.logger.Info("history table created", zap.String("field", f.Name))
	}
	return nil
}

// appendHistory records one write of f inside the caller's transaction.
func (s *Store) appendHistory(ctx context.Context, tx execer, f model.Field, matchID int64, v model.Value) error {
	q := s.builder().InsertHistory(f)
	_, err := tx.ExecContext(ctx, q, s.userID, matchID, s.clock.Now().Unix(), s.dialect.Bind(v), 1.0)
	if err != nil {
		return &QueryError{Op: "append history", Statement: q, Err: s.check(err)}
	}
	return nil
}

// History returns one page of the recorded writes of field. Sorting is
// restricted to user_id, match_id, timestamp and the field itself; filter
// clauses apply as for match queries. A field that was never tracked has
// no records.
func (s *Store) History(ctx context.Context, field, sortKey string, order filter.SortOrder, f *filter.Filter, offset, limit int) (recs []model.HistoryRecord, err error) {
	start := time.Now()
	defer func() { s.observe("history", start, err) }()

	if !s.IsOpen() {
		return nil, nil
	}
	fld, ok := s.Field(field)
	if !ok {
		return nil, fmt.Errorf("history %s: %w", model.FoldName(field), ErrNotFound)
	}
	if fld.IsMeta() {
		return nil, fmt.Errorf("history %s: %w: meta fields have no history", fld.Name, ErrInvalidField)
	}
	if !s.hasRelation(fld.HistoryTable()) {
		return nil, nil
	}

	plan := s.builder().History(fld, sortKey, order, f, offset, limit)
	err = s.runPlan(ctx, "history", plan, func(rows *sql.Rows) error {
		for rows.Next() {
			var r model.HistoryRecord
			var ts int64
			var raw any
			if err := rows.Scan(&r.UserID, &r.MatchID, &ts, &raw); err != nil {
				return fmt.Errorf("scan history: %w", err)
			}
			r.Timestamp = time.Unix(ts, 0).UTC()
			r.Value = model.ValueOf(raw)
			recs = append(recs, r)
		}
		return nil
	})
	return recs, err
}
