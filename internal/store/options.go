package store

import (
	"time"

	"go.uber.org/zap"

	"github.com/roach88/matchdb/internal/events"
	"github.com/roach88/matchdb/internal/metrics"
	"github.com/roach88/matchdb/internal/model"
)

// DefaultStatementCacheSize is the number of prepared statements kept per handle.
const DefaultStatementCacheSize = 64

// Clock supplies history timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBus sets the bus notifications are published on.
func WithBus(b *events.Bus) Option {
	return func(s *Store) { s.bus = b }
}

// WithResolver sets the fragment catalog used to resolve match fragments.
func WithResolver(r model.FragmentResolver) Option {
	return func(s *Store) { s.resolver = r }
}

// WithHistory turns attribute history tracking on from the first open.
func WithHistory(enabled bool) Option {
	return func(s *Store) { s.history = enabled }
}

// WithUser sets the user id recorded in history entries.
func WithUser(id int64) Option {
	return func(s *Store) { s.userID = id }
}

// WithClock sets the history clock.
func WithClock(c Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithMetrics sets the collectors. Nil disables metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithStatementCacheSize sets the prepared statement cache size; 0 disables it.
func WithStatementCacheSize(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.cacheSize = n
		}
	}
}

// FieldOption configures AddField.
type FieldOption func(*fieldOptions)

type fieldOptions struct {
	index bool
}

// WithIndex creates an index on the field's value column.
func WithIndex() FieldOption {
	return func(o *fieldOptions) { o.index = true }
}
