package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/matchdb/internal/filter"
	"github.com/roach88/matchdb/internal/model"
	"github.com/roach88/matchdb/internal/querysql"
)

// Count returns the number of matches satisfying f. Zero when closed.
func (s *Store) Count(ctx context.Context, f *filter.Filter) (n int, err error) {
	start := time.Now()
	defer func() { s.observe("count", start, err) }()

	plan := s.builder().Count(f)
	err = s.runPlan(ctx, "count", plan, func(rows *sql.Rows) error {
		if rows.Next() {
			return rows.Scan(&n)
		}
		return nil
	})
	return n, err
}

// Fetch returns one page of the matches satisfying f, sorted on sortField
// when it names a known field. Pagination applies only when both offset
// and limit are non-negative.
func (s *Store) Fetch(ctx context.Context, sortField string, order filter.SortOrder, f *filter.Filter, offset, limit int) (ms []model.Match, err error) {
	start := time.Now()
	defer func() { s.observe("fetch", start, err) }()

	plan := s.builder().Matches(sortField, order, f, offset, limit)
	err = s.runPlan(ctx, "fetch", plan, func(rows *sql.Rows) error {
		for rows.Next() {
			m, err := s.scanMatch(rows, nil)
			if err != nil {
				return err
			}
			ms = append(ms, m)
		}
		return nil
	})
	return ms, err
}

// FetchPreloaded is Fetch with the values of the preload fields read in the
// same query and cached on each match. Unknown preload names are dropped.
func (s *Store) FetchPreloaded(ctx context.Context, preload []string, sortField string, order filter.SortOrder, f *filter.Filter, offset, limit int) (ms []model.Match, err error) {
	start := time.Now()
	defer func() { s.observe("fetch_preloaded", start, err) }()

	plan := s.builder().Preloaded(preload, sortField, order, f, offset, limit)
	err = s.runPlan(ctx, "fetch preloaded", plan, func(rows *sql.Rows) error {
		for rows.Next() {
			m, err := s.scanMatch(rows, plan.Preload)
			if err != nil {
				return err
			}
			ms = append(ms, m)
		}
		return nil
	})
	return ms, err
}

// Explain returns the statements a preloaded fetch would run.
func (s *Store) Explain(preload []string, sortField string, order filter.SortOrder, f *filter.Filter, offset, limit int) querysql.Plan {
	return s.builder().Preloaded(preload, sortField, order, f, offset, limit)
}

// scanMatch reads the core columns followed by one column per preload field.
func (s *Store) scanMatch(rows *sql.Rows, preload []model.Field) (model.Match, error) {
	var m model.Match
	var src, tgt, xf sql.NullString
	raws := make([]any, len(preload))
	dest := []any{&m.ID, &src, &tgt, &xf}
	for i := range raws {
		dest = append(dest, &raws[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return model.Match{}, fmt.Errorf("scan match: %w", err)
	}
	if err := s.fillMatch(&m, src.String, tgt.String, xf.String); err != nil {
		return model.Match{}, err
	}
	if preload != nil {
		m.Attributes = make(map[string]model.Value, len(preload))
		for i, pf := range preload {
			m.Attributes[pf.Name] = model.ValueOf(raws[i])
		}
	}
	return m, nil
}

// runPlan executes a plan and hands the result rows to scan. A closed
// handle runs nothing. Plans with setup statements run on one pinned
// connection and always run their teardown.
func (s *Store) runPlan(ctx context.Context, op string, plan querysql.Plan, scan func(*sql.Rows) error) error {
	db, ok := s.handle()
	if !ok {
		return nil
	}
	for _, w := range plan.Warnings {
		s.logger.Warn("query input ignored", zap.String("op", op), zap.String("reason", w))
	}

	if len(plan.Setup) == 0 {
		rows, err := s.query(ctx, db, plan.Query)
		if err != nil {
			return &QueryError{Op: op, Statement: plan.Query, Err: err}
		}
		return s.drain(op, plan.Query, rows, scan)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("%s: pin connection: %w", op, s.check(err))
	}
	defer conn.Close()

	defer func() {
		for _, stmt := range plan.Teardown {
			if _, err := conn.ExecContext(context.WithoutCancel(ctx), stmt); err != nil {
				s.logger.Warn("teardown failed", zap.String("sql", stmt), zap.Error(err))
			}
		}
	}()

	for _, stmt := range plan.Setup {
		s.logger.Debug("query", zap.String("op", op), zap.String("sql", stmt))
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return &QueryError{Op: op, Statement: stmt, Err: s.check(err)}
		}
	}

	s.logger.Debug("query", zap.String("op", op), zap.String("sql", plan.Query))
	rows, err := conn.QueryContext(ctx, plan.Query)
	if err != nil {
		return &QueryError{Op: op, Statement: plan.Query, Err: s.check(err)}
	}
	return s.drain(op, plan.Query, rows, scan)
}

func (s *Store) drain(op, q string, rows *sql.Rows, scan func(*sql.Rows) error) error {
	defer rows.Close()
	if err := scan(rows); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := rows.Err(); err != nil {
		return &QueryError{Op: op, Statement: q, Err: s.check(err)}
	}
	return nil
}

// query runs a multi-row query through the statement cache.
func (s *Store) query(ctx context.Context, db *sql.DB, q string, args ...any) (*sql.Rows, error) {
	s.mu.Lock()
	cache := s.stmts
	s.mu.Unlock()

	s.logger.Debug("query", zap.String("sql", q))
	stmt, err := cache.prepare(ctx, db, q)
	if err != nil {
		return nil, s.check(err)
	}
	if stmt != nil {
		rows, err := stmt.QueryContext(ctx, args...)
		return rows, s.check(err)
	}
	rows, err := db.QueryContext(ctx, q, args...)
	return rows, s.check(err)
}
