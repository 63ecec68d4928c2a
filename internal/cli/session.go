package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/matchdb/internal/descriptor"
	"github.com/roach88/matchdb/internal/events"
	"github.com/roach88/matchdb/internal/metrics"
	"github.com/roach88/matchdb/internal/registry"
	"github.com/roach88/matchdb/internal/store"
)

// session is the store a command works on. Each invocation acquires it
// through its own registry, built with the invocation's bus, history and
// cache options; the registry shares nothing across commands.
type session struct {
	store    *store.Store
	registry *registry.Registry
	progress *progressRenderer

	unsubscribe func()
}

// openSession acquires the configured database.
func (o *RootOptions) openSession(cmd *cobra.Command) (*session, error) {
	if o.Database == "" {
		return nil, NewExitError(ExitCommandError,
			"no database given: use --db, the config file or MATCHDB_DATABASE")
	}
	d, err := descriptor.Parse(o.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "could not open "+o.Database, err)
	}

	cacheSize := store.DefaultStatementCacheSize
	if o.config != nil {
		cacheSize = o.config.CacheSize()
	}

	bus := events.NewBus()
	reg := registry.New(
		registry.WithLogger(o.Logger()),
		registry.WithMetrics(metrics.Default()),
		registry.WithStoreOptions(
			store.WithBus(bus),
			store.WithHistory(o.History),
			store.WithUser(o.UserID),
			store.WithStatementCacheSize(cacheSize),
		),
	)

	s := reg.Acquire(cmd.Context(), d)
	if !s.IsOpen() {
		return nil, WrapExitError(ExitCommandError, "could not open "+d.String(), s.OpenErr())
	}

	progress := newProgressRenderer(cmd.ErrOrStderr(), o.Format, o.NoColor)
	return &session{
		store:       s,
		registry:    reg,
		progress:    progress,
		unsubscribe: bus.Subscribe(progress.Handle),
	}, nil
}

// Close releases the handle and drops it from the registry.
func (s *session) Close() error {
	s.unsubscribe()
	err := s.store.Release()
	s.registry.Prune(context.Background())
	return err
}
