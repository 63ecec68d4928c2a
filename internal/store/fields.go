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

// AddField creates a normal field whose type is taken from def, and gives
// every existing match the value def with confidence 1.0.
//
// Everything runs in one transaction holding the core table lock. A row that
// fails to insert is logged and skipped; the rows that succeeded are still
// committed and the failures are reported as a *BackfillError. The catalog is
// rebuilt afterwards in every case, SchemaChanged is published only when all
// rows were written. ctx is only checked before the transaction starts.
func (s *Store) AddField(ctx context.Context, name string, def model.Value, opts ...FieldOption) (err error) {
	start := time.Now()
	defer func() { s.observe("add_field", start, err) }()

	folded, err := model.ValidateFieldName(name)
	if err != nil {
		return fmt.Errorf("add field: %w: %v", ErrInvalidField, err)
	}
	if def == nil || def.Type() == model.TypeUnknown {
		return fmt.Errorf("add field %s: %w: default value has no type", folded, ErrInvalidField)
	}
	if s.HasField(folded) {
		return fmt.Errorf("add field %s: %w", folded, ErrAlreadyExists)
	}
	db, ok := s.handle()
	if !ok {
		return fmt.Errorf("add field %s: %w", folded, ErrNotOpen)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("add field %s: %w", folded, err)
	}

	var o fieldOptions
	for _, opt := range opts {
		opt(&o)
	}

	total, failed, firstErr, err := s.addFieldTx(context.WithoutCancel(ctx), db, folded, def, o)

	// The table may exist even when the transaction failed part way.
	if rerr := s.RebuildCatalog(context.WithoutCancel(ctx)); rerr != nil {
		s.logger.Warn("rebuild catalog after add field", zap.String("field", folded), zap.Error(rerr))
		if err == nil {
			err = fmt.Errorf("add field %s: %w", folded, rerr)
		}
	}
	if err != nil {
		return err
	}

	s.metrics.BulkRows("add_field", total-failed, failed)
	s.logger.Info("field added",
		zap.String("field", folded),
		zap.Stringer("type", def.Type()),
		zap.Int("rows", total),
		zap.Int("failed", failed))

	if failed > 0 {
		return &BackfillError{Field: folded, Failed: failed, Total: total, Err: firstErr}
	}
	s.publish(events.SchemaChanged)
	return nil
}

func (s *Store) addFieldTx(ctx context.Context, db *sql.DB, name string, def model.Value, o fieldOptions) (total, failed int, firstErr, err error) {
	op := "add field " + name
	b := s.builder()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("%s: begin tx: %w", op, s.check(err))
	}
	defer tx.Rollback()

	if lock := s.dialect.LockCore(); lock != "" {
		if _, err := tx.ExecContext(ctx, lock); err != nil {
			return 0, 0, nil, &QueryError{Op: op, Statement: lock, Err: s.check(err)}
		}
	}

	create := b.CreateField(name, def.Type())
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return 0, 0, nil, &QueryError{Op: op, Statement: create, Err: s.check(err)}
	}

	ids, err := s.matchIDs(ctx, tx)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("%s: %w", op, err)
	}

	insert := b.InsertAttribute(name)
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return 0, 0, nil, &QueryError{Op: op, Statement: insert, Err: s.check(err)}
	}
	defer stmt.Close()

	fail := func(stmtText string, err error) {
		failed++
		if firstErr == nil {
			firstErr = &QueryError{Op: op, Statement: stmtText, Err: err}
		}
	}

	value := s.dialect.Bind(def)
	progress := s.bus.StartOperation(s.id, "adding field "+name, len(ids))
	for i, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, value, 1.0); err != nil {
			fail(insert, err)
			s.logger.Warn("default value not inserted",
				zap.String("field", name), zap.Int64("match_id", id), zap.Error(err))
		}
		progress.Step(i + 1)
	}
	progress.End()

	if o.index {
		index := b.CreateIndex(name)
		if _, err := tx.ExecContext(ctx, index); err != nil {
			fail(index, err)
			s.logger.Warn("index not created", zap.String("field", name), zap.Error(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return len(ids), failed, firstErr, &QueryError{Op: op, Statement: "COMMIT", Err: s.check(err)}
	}
	return len(ids), failed, firstErr, nil
}

// RemoveField drops the table or view backing a field. Its history table,
// if any, is kept.
func (s *Store) RemoveField(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() { s.observe("remove_field", start, err) }()

	f, ok := s.Field(name)
	if !ok {
		return fmt.Errorf("remove field %s: %w", model.FoldName(name), ErrNotFound)
	}
	db, ok := s.handle()
	if !ok {
		return fmt.Errorf("remove field %s: %w", f.Name, ErrNotOpen)
	}

	s.mu.Lock()
	s.stmts.purge()
	delete(s.views, f.Name)
	s.mu.Unlock()

	drop := s.builder().DropField(f)
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("remove field %s: begin tx: %w", f.Name, s.check(err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, drop); err != nil {
		return &QueryError{Op: "remove field " + f.Name, Statement: drop, Err: s.check(err)}
	}
	if err := tx.Commit(); err != nil {
		return &QueryError{Op: "remove field " + f.Name, Statement: "COMMIT", Err: s.check(err)}
	}

	if err := s.RebuildCatalog(ctx); err != nil {
		return fmt.Errorf("remove field %s: %w", f.Name, err)
	}
	s.logger.Info("field removed", zap.String("field", f.Name), zap.Stringer("kind", f.Kind))
	s.publish(events.SchemaChanged)
	return nil
}

// AddMetaField creates a meta field: a view named name defined by query. The
// view must expose match_id and a column named like the field, otherwise it
// is dropped again and ErrInvalidField returned.
func (s *Store) AddMetaField(ctx context.Context, name, query string) (err error) {
	start := time.Now()
	defer func() { s.observe("add_meta_field", start, err) }()

	folded, err := model.ValidateFieldName(name)
	if err != nil {
		return fmt.Errorf("add meta field: %w: %v", ErrInvalidField, err)
	}
	if s.HasField(folded) {
		return fmt.Errorf("add meta field %s: %w", folded, ErrAlreadyExists)
	}
	db, ok := s.handle()
	if !ok {
		return fmt.Errorf("add meta field %s: %w", folded, ErrNotOpen)
	}

	b := s.builder()
	create := b.CreateView(folded, query)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add meta field %s: begin tx: %w", folded, s.check(err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, create); err != nil {
		return &QueryError{Op: "add meta field " + folded, Statement: create, Err: s.check(err)}
	}
	if err := tx.Commit(); err != nil {
		return &QueryError{Op: "add meta field " + folded, Statement: "COMMIT", Err: s.check(err)}
	}

	s.mu.Lock()
	if s.views == nil {
		s.views = map[string]string{}
	}
	s.views[folded] = query
	s.mu.Unlock()

	if err := s.RebuildCatalog(ctx); err != nil {
		return fmt.Errorf("add meta field %s: %w", folded, err)
	}

	if f, ok := s.Field(folded); !ok || !f.IsMeta() {
		drop := b.DropField(model.Field{Name: folded, Kind: model.KindMeta})
		if _, derr := db.ExecContext(ctx, drop); derr != nil {
			s.logger.Warn("drop rejected view", zap.String("field", folded), zap.Error(derr))
		}
		s.mu.Lock()
		delete(s.views, folded)
		s.mu.Unlock()
		if rerr := s.RebuildCatalog(ctx); rerr != nil {
			s.logger.Warn("rebuild catalog after rejected view", zap.Error(rerr))
		}
		return fmt.Errorf("add meta field %s: %w: view must expose match_id and %s", folded, ErrInvalidField, folded)
	}

	s.logger.Info("meta field added", zap.String("field", folded))
	s.publish(events.SchemaChanged)
	return nil
}
