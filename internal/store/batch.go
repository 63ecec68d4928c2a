package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/matchdb/internal/events"
	"github.com/roach88/matchdb/internal/model"
)

// Batch is a bulk write running in one transaction, with progress
// notifications. Statements that fail are counted and skipped; the others
// commit. Attribute writes through a Batch are not recorded in history.
type Batch struct {
	s        *Store
	ctx      context.Context
	tx       *sql.Tx
	op       string
	start    time.Time
	progress *events.Progress

	steps    int
	matches  int
	written  int
	failed   int
	firstErr error
	done     bool
}

// BatchResult summarizes a committed batch.
type BatchResult struct {
	Matches    int // match rows inserted
	Attributes int // attribute values written
	Failed     int // statements that failed
	FirstErr   error
}

// BeginBatch starts a bulk write announced as label with total steps. ctx is
// only checked here; the transaction runs to completion once begun.
func (s *Store) BeginBatch(ctx context.Context, label string, total int) (*Batch, error) {
	db, ok := s.handle()
	if !ok {
		return nil, fmt.Errorf("%s: %w", label, ErrNotOpen)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}

	ctx = context.WithoutCancel(ctx)
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: begin tx: %w", label, s.check(err))
	}
	return &Batch{
		s:        s,
		ctx:      ctx,
		tx:       tx,
		op:       label,
		start:    time.Now(),
		progress: s.bus.StartOperation(s.id, label, total),
	}, nil
}

// record counts a failed write.
func (b *Batch) record(err error) error {
	b.failed++
	if b.firstErr == nil {
		b.firstErr = err
	}
	return err
}

func (b *Batch) fail(stmt string, err error) error {
	return b.record(&QueryError{Op: b.op, Statement: stmt, Err: b.s.check(err)})
}

// InsertMatch inserts a match row. A zero ID is replaced by the next free id.
func (b *Batch) InsertMatch(m model.Match) (int64, error) {
	id, err := b.s.insertMatch(b.ctx, b.tx, m)
	if err != nil {
		return 0, b.record(err)
	}
	b.matches++
	return id, nil
}

// PutAttribute writes the value of a normal field for one match, replacing
// any previous value. Confidence is 1.0.
func (b *Batch) PutAttribute(matchID int64, field string, v model.Value) error {
	f, ok := b.s.Field(field)
	if !ok || f.IsMeta() {
		return b.record(fmt.Errorf("put attribute %s: %w", model.FoldName(field), ErrInvalidField))
	}
	v, err := coerce(f, v)
	if err != nil {
		return b.record(fmt.Errorf("put attribute %s: %w: %v", f.Name, ErrInvalidField, err))
	}

	bld := b.s.builder()
	bound := b.s.dialect.Bind(v)

	update := bld.UpdateAttribute(f.Name)
	res, err := b.tx.ExecContext(b.ctx, update, bound, 1.0, matchID)
	if err != nil {
		return b.fail(update, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		insert := bld.InsertAttribute(f.Name)
		if _, err := b.tx.ExecContext(b.ctx, insert, matchID, bound, 1.0); err != nil {
			return b.fail(insert, err)
		}
	}
	b.written++
	return nil
}

// Step publishes the next progress step.
func (b *Batch) Step() {
	b.steps++
	b.progress.Step(b.steps)
}

// Failed returns the number of failed statements so far.
func (b *Batch) Failed() int { return b.failed }

// Commit ends the progress sequence and commits. MatchCountChanged is
// published when match rows were inserted.
func (b *Batch) Commit() (res BatchResult, err error) {
	defer func() { b.s.observe("batch", b.start, err) }()
	if b.done {
		return BatchResult{}, fmt.Errorf("%s: batch already finished", b.op)
	}
	b.done = true
	b.progress.End()

	if err := b.tx.Commit(); err != nil {
		return BatchResult{}, &QueryError{Op: b.op, Statement: "COMMIT", Err: b.s.check(err)}
	}

	b.s.metrics.BulkRows("batch", b.matches+b.written, b.failed)
	b.s.logger.Info("batch committed",
		zap.String("op", b.op),
		zap.Int("matches", b.matches),
		zap.Int("attributes", b.written),
		zap.Int("failed", b.failed))
	if b.matches > 0 {
		b.s.publish(events.MatchCountChanged)
	}
	return BatchResult{Matches: b.matches, Attributes: b.written, Failed: b.failed, FirstErr: b.firstErr}, nil
}

// Rollback abandons the batch. It is a no-op after Commit.
func (b *Batch) Rollback() error {
	if b.done {
		return nil
	}
	b.done = true
	b.progress.End()
	return b.tx.Rollback()
}
