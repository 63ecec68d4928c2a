package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/matchdb/internal/descriptor"
	"github.com/roach88/matchdb/internal/model"
	"github.com/roach88/matchdb/internal/testutil"
)

// createTestStore opens a store on a fresh sqlite file.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := New(testDescriptor(t), append([]Option{WithResolver(testutil.FragmentNames)}, opts...)...)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testDescriptor(t *testing.T) descriptor.Descriptor {
	t.Helper()
	return descriptor.SQLiteFile(filepath.Join(t.TempDir(), "matches.db"))
}

// seedMatches inserts matches 1..n between consecutive fragments.
func seedMatches(t *testing.T, s *Store, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		_, err := s.InsertMatch(ctx, model.Match{
			ID:        int64(i),
			Source:    fmt.Sprintf("F%04d", i),
			Target:    fmt.Sprintf("F%04d", i+1),
			Transform: model.Identity(),
		})
		require.NoError(t, err)
	}
}

// setValues writes one value per match id.
func setValues(t *testing.T, s *Store, field string, vals map[int64]model.Value) {
	t.Helper()
	for id, v := range vals {
		require.NoError(t, s.SetAttribute(context.Background(), id, field, v))
	}
}

func matchIDs(ms []model.Match) []int64 {
	ids := make([]int64, len(ms))
	for i, m := range ms {
		ids[i] = m.ID
	}
	return ids
}
