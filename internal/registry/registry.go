// Package registry shares store handles between callers that name the same
// database.
//
// The registry does not own the handles it lists. Each entry is a weak
// pointer; a handle stays shared only while some caller holds a reference
// (store.Store.Retain) and it is open. Stale entries are pruned at the start
// of every acquisition.
package registry

import (
	"context"
	"sync"
	"weak"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/matchdb/internal/descriptor"
	"github.com/roach88/matchdb/internal/metrics"
	"github.com/roach88/matchdb/internal/store"
)

// Acquisition outcomes, as recorded in metrics.
const (
	OutcomeHit     = "hit"
	OutcomeOpened  = "opened"
	OutcomeFailed  = "failed"
	OutcomeInvalid = "invalid"
)

// Prune reasons, as recorded in metrics.
const (
	ReasonCollected    = "collected"
	ReasonUnreferenced = "unreferenced"
	ReasonReopenFailed = "reopen_failed"
)

// Registry maps connection names to live handles.
type Registry struct {
	logger    *zap.Logger
	metrics   *metrics.Metrics
	storeOpts []store.Option

	mu      sync.Mutex
	entries map[string]weak.Pointer[store.Store]

	opening singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. It is also passed to the handles the registry
// opens unless WithStoreOptions overrides it.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the collectors for acquisitions and prune decisions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithStoreOptions sets the options of every handle the registry creates.
func WithStoreOptions(opts ...store.Option) Option {
	return func(r *Registry) { r.storeOpts = append(r.storeOpts, opts...) }
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger:  zap.NewNop(),
		entries: make(map[string]weak.Pointer[store.Store]),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Default is the process-wide registry.
var Default = New(WithMetrics(metrics.Default()))

// Acquire is Default.Acquire.
func Acquire(ctx context.Context, d descriptor.Descriptor) *store.Store {
	return Default.Acquire(ctx, d)
}

// Acquire returns a handle on d that the caller must Release.
//
// An open handle already registered for d's connection name is shared.
// Otherwise a new handle is opened; concurrent acquirers of the same name
// wait for that single open. A handle that failed to open is returned
// unregistered and without a connection name, OpenErr tells why. An invalid
// descriptor yields a null handle.
func (r *Registry) Acquire(ctx context.Context, d descriptor.Descriptor) *store.Store {
	if !d.Valid() {
		r.metrics.Acquired(OutcomeInvalid)
		r.logger.Debug("invalid descriptor", zap.Stringer("descriptor", d))
		return store.New(d, r.options()...)
	}

	r.Prune(ctx)

	name := d.Identity()
	if s := r.lookup(name); s != nil {
		r.metrics.Acquired(OutcomeHit)
		r.logger.Debug("registry hit", zap.String("connection", name))
		return s
	}

	var ran, opened bool
	v, _, _ := r.opening.Do(name, func() (any, error) {
		ran = true
		if s := r.lookup(name); s != nil {
			return s, nil
		}
		opened = true
		return r.open(ctx, d, name), nil
	})
	s := v.(*store.Store)

	switch {
	case s.IsNull():
		r.metrics.Acquired(OutcomeInvalid)
	case s.ConnectionName() == "":
		r.metrics.Acquired(OutcomeFailed)
	case !ran:
		// Waited on another caller's open; take our own reference unless
		// the leader already released the last one.
		if !s.TryRetain() {
			return r.Acquire(ctx, d)
		}
		r.metrics.Acquired(OutcomeHit)
	case opened:
		r.metrics.Acquired(OutcomeOpened)
	default:
		r.metrics.Acquired(OutcomeHit)
	}
	return s
}

// open creates and opens a handle, registering it with one reference held
// for the leader of the open.
func (r *Registry) open(ctx context.Context, d descriptor.Descriptor, name string) *store.Store {
	s := store.New(d, r.options()...)
	if s.IsNull() {
		return s
	}
	if err := s.Open(ctx); err != nil {
		s.ClearIdentity()
		r.logger.Debug("open failed", zap.String("connection", name), zap.Error(err))
		return s
	}
	s.Retain()

	r.mu.Lock()
	r.entries[name] = weak.Make(s)
	r.mu.Unlock()
	r.logger.Debug("registered", zap.String("connection", name), zap.Stringer("handle", s.ID()))
	return s
}

// lookup returns the registered handle of name with a new reference, or nil
// when there is none that is open and referenced.
func (r *Registry) lookup(name string) *store.Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	wp, ok := r.entries[name]
	if !ok {
		return nil
	}
	s := wp.Value()
	if s == nil || !s.IsOpen() || !s.TryRetain() {
		return nil
	}
	if !s.IsOpen() {
		// Closed between the check and the retain.
		if err := s.Release(); err != nil {
			r.logger.Debug("release closed handle", zap.String("connection", name), zap.Error(err))
		}
		return nil
	}
	return s
}

// Prune removes entries whose handle was collected, is no longer referenced,
// or is closed and cannot be reopened. It returns the number of entries
// removed. Handles are evaluated outside the registry lock so that a slow
// reopen does not block other acquisitions.
func (r *Registry) Prune(ctx context.Context) int {
	r.mu.Lock()
	snapshot := make(map[string]weak.Pointer[store.Store], len(r.entries))
	for name, wp := range r.entries {
		snapshot[name] = wp
	}
	r.mu.Unlock()

	removed := 0
	for name, wp := range snapshot {
		reason := r.verdict(ctx, name, wp)
		if reason == "" {
			continue
		}

		r.mu.Lock()
		// Only drop the entry if nobody replaced it meanwhile.
		if cur, ok := r.entries[name]; ok && cur == wp {
			delete(r.entries, name)
			removed++
			r.metrics.Pruned(reason)
			r.logger.Debug("pruned", zap.String("connection", name), zap.String("reason", reason))
		}
		r.mu.Unlock()
	}
	return removed
}

// verdict returns why an entry should go, or "" to keep it.
func (r *Registry) verdict(ctx context.Context, name string, wp weak.Pointer[store.Store]) string {
	s := wp.Value()
	switch {
	case s == nil:
		return ReasonCollected
	case s.RefCount() <= 0:
		return ReasonUnreferenced
	case !s.IsOpen():
		if err := s.Reopen(ctx); err != nil {
			r.logger.Debug("reopen failed", zap.String("connection", name), zap.Error(err))
			return ReasonReopenFailed
		}
		r.logger.Debug("reopened", zap.String("connection", name))
	}
	return ""
}

// Len returns the number of entries, live or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) options() []store.Option {
	opts := make([]store.Option, 0, len(r.storeOpts)+2)
	opts = append(opts, store.WithLogger(r.logger), store.WithMetrics(r.metrics))
	return append(opts, r.storeOpts...)
}
