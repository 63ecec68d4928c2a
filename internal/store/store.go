package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roach88/matchdb/internal/descriptor"
	"github.com/roach88/matchdb/internal/dialect"
	"github.com/roach88/matchdb/internal/events"
	"github.com/roach88/matchdb/internal/metrics"
	"github.com/roach88/matchdb/internal/model"
	"github.com/roach88/matchdb/internal/querysql"
)

// Capabilities is the result of probing the driver after connecting.
type Capabilities struct {
	Transactions       bool
	PreparedStatements bool
	Placeholders       bool
	LastInsertID       bool
}

// Degraded reports whether a capability the store relies on is missing.
func (c Capabilities) Degraded() bool {
	return !c.Transactions || !c.PreparedStatements || !c.Placeholders
}

// Store is a handle on one match database.
type Store struct {
	id       uuid.UUID
	desc     descriptor.Descriptor
	dialect  dialect.Dialect
	null     bool
	logger   *zap.Logger
	bus      *events.Bus
	resolver model.FragmentResolver
	clock    Clock
	metrics  *metrics.Metrics
	userID   int64

	cacheSize int

	refs      atomic.Int32
	anonymous atomic.Bool

	mu       sync.Mutex
	db       *sql.DB
	open     bool
	claimed  string // connection name held in the process-wide table
	openErr  error
	caps     Capabilities
	history  bool
	fields   map[string]model.Field
	views    map[string]string // meta field queries created by this handle
	relNames map[string]bool
	stmts    *stmtCache
}

// New returns a closed handle for d. An invalid descriptor, or one without a
// dialect, yields the null variant: it never opens and all reads are empty.
func New(d descriptor.Descriptor, opts ...Option) *Store {
	s := &Store{
		id:        newHandleID(),
		desc:      d,
		logger:    zap.NewNop(),
		clock:     systemClock{},
		cacheSize: DefaultStatementCacheSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := d.Validate(); err != nil {
		s.null = true
		s.openErr = err
		return s
	}
	dl, err := dialect.For(d.Driver)
	if err != nil {
		s.null = true
		s.openErr = fmt.Errorf("%w: %v", descriptor.ErrInvalidDescriptor, err)
		return s
	}
	s.dialect = dl
	return s
}

// NewNull returns a handle that is never open.
func NewNull(opts ...Option) *Store {
	return New(descriptor.Descriptor{}, opts...)
}

func newHandleID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// ID identifies this handle instance.
func (s *Store) ID() uuid.UUID { return s.id }

// Descriptor returns the descriptor the handle was built from.
func (s *Store) Descriptor() descriptor.Descriptor { return s.desc }

// ConnectionName is the canonical identity of the database, "" for the null
// variant or after the handle gave up its identity.
func (s *Store) ConnectionName() string {
	if s.null || s.anonymous.Load() {
		return ""
	}
	return s.desc.Identity()
}

// ClearIdentity detaches the handle from its connection name. A handle that
// failed to open is handed out this way so it can never be mistaken for the
// registered handle of its database.
func (s *Store) ClearIdentity() {
	s.anonymous.Store(true)
}

// IsNull reports whether this is the null variant.
func (s *Store) IsNull() bool { return s.null }

// Dialect returns the engine dialect, nil for the null variant.
func (s *Store) Dialect() dialect.Dialect { return s.dialect }

// IsOpen reports whether the handle holds a live connection.
func (s *Store) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// OpenErr returns why the last Open failed, nil after a successful open.
func (s *Store) OpenErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openErr
}

// Capabilities returns the probe result of the current connection.
func (s *Store) Capabilities() Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// Retain adds a reference to the handle.
func (s *Store) Retain() *Store {
	s.refs.Add(1)
	return s
}

// TryRetain adds a reference unless the count already dropped to zero, in
// which case the handle is being closed by its last Release.
func (s *Store) TryRetain() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference. Dropping the last one closes the handle.
func (s *Store) Release() error {
	if s.refs.Add(-1) > 0 {
		return nil
	}
	s.refs.Store(0)
	return s.Close()
}

// RefCount returns the number of live references.
func (s *Store) RefCount() int {
	return int(s.refs.Load())
}

// Open connects to the database, bootstraps the core schema when it is
// missing, rebuilds the catalog and publishes SchemaChanged, Opened and
// MatchCountChanged in that order. Opening an open handle reopens it.
// On failure the handle stays closed.
func (s *Store) Open(ctx context.Context) error {
	if s.null {
		return fmt.Errorf("open: %w", s.nullErr())
	}
	if s.IsOpen() {
		if err := s.Close(); err != nil {
			s.logger.Warn("close before reopen failed", zap.Error(err))
		}
	}

	if err := s.connect(ctx, true); err != nil {
		s.setOpenErr(err)
		return err
	}

	count, err := s.MatchCount(ctx)
	if err != nil {
		s.logger.Warn("count matches after open", zap.Error(err))
	}
	s.logger.Info("database opened",
		zap.String("connection", s.ConnectionName()),
		zap.Int("fields", len(s.Fields())),
		zap.Int("matches", count))

	s.publish(events.SchemaChanged)
	s.publish(events.Opened)
	s.publish(events.MatchCountChanged)
	return nil
}

// Reopen reconnects a handle that lost its connection, without bootstrapping.
// It is a no-op on an open handle.
func (s *Store) Reopen(ctx context.Context) error {
	if s.null {
		return fmt.Errorf("reopen: %w", s.nullErr())
	}
	if s.IsOpen() {
		return nil
	}
	if err := s.connect(ctx, false); err != nil {
		s.setOpenErr(err)
		return err
	}
	s.publish(events.Opened)
	return nil
}

// connect runs the whole open sequence; on error everything is undone.
func (s *Store) connect(ctx context.Context, bootstrap bool) (err error) {
	name := s.desc.Identity()
	if err := claimName(name, s.id); err != nil {
		return fmt.Errorf("open %s: %w", s.desc, err)
	}

	db, err := s.openDB(ctx)
	if err != nil {
		s.releaseClaim(name)
		return fmt.Errorf("open %s: %w", s.desc, err)
	}

	s.mu.Lock()
	s.db = db
	s.open = true
	s.claimed = name
	s.openErr = nil
	s.stmts = newStmtCache(s.cacheSize, s.logger)
	s.mu.Unlock()
	s.metrics.HandleOpened()

	defer func() {
		if err != nil {
			if _, _, cerr := s.teardown(); cerr != nil {
				s.logger.Debug("close after failed open", zap.Error(cerr))
			}
		}
	}()

	if bootstrap {
		if err := s.bootstrap(ctx, db); err != nil {
			return fmt.Errorf("open %s: %w", s.desc, err)
		}
	}

	caps := probe(ctx, db, s.dialect)
	s.mu.Lock()
	s.caps = caps
	s.mu.Unlock()
	if caps.Degraded() {
		s.logger.Warn("driver lacks required features, running in degraded mode",
			zap.String("driver", s.dialect.DriverName()),
			zap.Bool("transactions", caps.Transactions),
			zap.Bool("prepared_statements", caps.PreparedStatements),
			zap.Bool("placeholders", caps.Placeholders))
	}
	if !caps.LastInsertID {
		s.logger.Debug("driver reports no last insert id", zap.String("driver", s.dialect.DriverName()))
	}

	if err := s.RebuildCatalog(ctx); err != nil {
		return fmt.Errorf("open %s: %w", s.desc, err)
	}
	return nil
}

func (s *Store) openDB(ctx context.Context) (*sql.DB, error) {
	d := s.desc.WithDefaults(s.dialect.DefaultParams())

	db, err := sql.Open(s.dialect.DriverName(), d.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if n := s.dialect.MaxOpenConns(); n > 0 {
		db.SetMaxOpenConns(n)
		db.SetMaxIdleConns(n)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// bootstrap creates the core schema when the matches table is missing.
func (s *Store) bootstrap(ctx context.Context, db *sql.DB) error {
	rels, err := s.dialect.Relations(ctx, db)
	if err != nil {
		return err
	}
	for _, r := range rels {
		if model.FoldName(r.Name) == model.CoreTable {
			return nil
		}
	}

	stmts, err := s.dialect.Bootstrap()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bootstrap: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return &QueryError{Op: "bootstrap", Statement: stmt, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bootstrap: commit: %w", err)
	}

	s.logger.Info("created core schema", zap.String("connection", s.desc.Identity()))
	return nil
}

// probe checks the driver features the store uses.
func probe(ctx context.Context, db *sql.DB, d dialect.Dialect) Capabilities {
	var c Capabilities

	if tx, err := db.BeginTx(ctx, nil); err == nil {
		c.Transactions = true
		_ = tx.Rollback()
	}

	if stmt, err := db.PrepareContext(ctx, "SELECT 1"); err == nil {
		c.PreparedStatements = true
		stmt.Close()
	}

	var n int
	q := "SELECT COUNT(*) FROM " + model.CoreTable + " WHERE match_id = " + d.Placeholder(1)
	if err := db.QueryRowContext(ctx, q, int64(-1)).Scan(&n); err == nil {
		c.Placeholders = true
	}

	if res, err := db.ExecContext(ctx, "SELECT 1"); err == nil {
		if _, err := res.LastInsertId(); err == nil {
			c.LastInsertID = true
		}
	}
	return c
}

// Close releases the connection. Cached statements are closed first, then
// the database, then the connection name is released and Closed published.
// Closing a closed handle is a no-op.
func (s *Store) Close() error {
	wasOpen, name, err := s.teardown()
	if wasOpen {
		s.logger.Info("database closed", zap.String("connection", name))
		s.publish(events.Closed)
	}
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

func (s *Store) teardown() (wasOpen bool, name string, err error) {
	s.mu.Lock()
	wasOpen = s.open
	db := s.db
	stmts := s.stmts
	name = s.claimed
	s.db = nil
	s.open = false
	s.claimed = ""
	s.stmts = nil
	s.fields = nil
	s.relNames = nil
	s.mu.Unlock()

	stmts.purge()
	if db != nil {
		err = db.Close()
	}
	if name != "" {
		s.releaseClaim(name)
	}
	if wasOpen {
		s.metrics.HandleClosed()
	}
	return wasOpen, name, err
}

// markBroken closes the connection after the driver reported it unusable.
// The claim on the connection name is dropped so a fresh handle can connect;
// Reopen claims it again.
func (s *Store) markBroken(cause error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	db := s.db
	stmts := s.stmts
	name := s.claimed
	s.claimed = ""
	s.db = nil
	s.open = false
	s.stmts = nil
	s.openErr = cause
	s.mu.Unlock()

	stmts.purge()
	if db != nil {
		db.Close()
	}
	if name != "" {
		s.releaseClaim(name)
	}
	s.metrics.HandleClosed()
	s.logger.Warn("connection lost", zap.String("connection", s.desc.Identity()), zap.Error(cause))
	s.publish(events.Closed)
}

// check inspects an engine error and marks the handle closed when the
// connection is gone.
func (s *Store) check(err error) error {
	if err != nil && (errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone)) {
		s.markBroken(err)
	}
	return err
}

// handle returns the live database, or false when closed.
func (s *Store) handle() (*sql.DB, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db, s.open
}

func (s *Store) nullErr() error {
	if s.openErr != nil {
		return s.openErr
	}
	return descriptor.ErrInvalidDescriptor
}

func (s *Store) setOpenErr(err error) {
	s.mu.Lock()
	s.openErr = err
	s.mu.Unlock()
	s.logger.Warn("could not open database", zap.String("connection", s.desc.String()), zap.Error(err))
}

func (s *Store) publish(k events.Kind) {
	s.bus.Publish(events.Event{Kind: k, Store: s.id})
}

// builder returns a query builder over the current catalog snapshot.
func (s *Store) builder() *querysql.Builder {
	return querysql.New(s.dialect, s.catalogSnapshot())
}

func (s *Store) observe(op string, start time.Time, err error) {
	s.metrics.ObserveQuery(op, start, err)
}

// Process-wide table of connection names held by open handles.
var connNames = struct {
	sync.Mutex
	owners map[string]uuid.UUID
}{owners: map[string]uuid.UUID{}}

func claimName(name string, id uuid.UUID) error {
	connNames.Lock()
	defer connNames.Unlock()
	if owner, ok := connNames.owners[name]; ok && owner != id {
		return ErrConnectionInUse
	}
	connNames.owners[name] = id
	return nil
}

func (s *Store) releaseClaim(name string) {
	connNames.Lock()
	defer connNames.Unlock()
	if connNames.owners[name] == s.id {
		delete(connNames.owners, name)
	}
}
