package xmlio

import (
	"bytes"
	"context"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/matchdb/internal/descriptor"
	"github.com/roach88/matchdb/internal/events"
	"github.com/roach88/matchdb/internal/filter"
	"github.com/roach88/matchdb/internal/model"
	"github.com/roach88/matchdb/internal/store"
	"github.com/roach88/matchdb/internal/testutil"
)

func openStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	d := descriptor.SQLiteFile(filepath.Join(t.TempDir(), "matches.db"))
	s := store.New(d, append([]store.Option{store.WithResolver(testutil.FragmentNames)}, opts...)...)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func decode(t *testing.T, xmlText string) *Document {
	t.Helper()
	doc, err := Decode(strings.NewReader(xmlText))
	require.NoError(t, err)
	return doc
}

func ids(ms []model.Match) []int64 {
	out := make([]int64, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func TestImport_ErrorScenario(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	doc := decode(t, testutil.MatchesXML("1.0",
		testutil.FixtureMatch{ID: 1, Source: "F0001", Target: "F0002", Attrs: [][2]string{{"error", "0.1"}}},
		testutil.FixtureMatch{ID: 2, Source: "F0002", Target: "F0003", Attrs: [][2]string{{"error", "NaN"}}},
		testutil.FixtureMatch{ID: 3, Source: "F0003", Target: "F0004", Attrs: [][2]string{{"error", "0.3"}}},
	))
	res, err := Import(ctx, s, doc)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Matches)
	assert.Zero(t, res.Failed)

	n, err := s.Count(ctx, filter.New(""))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// SQLite stores NaN as NULL, which sorts last in descending order.
	ms, err := s.Fetch(ctx, "error", filter.Descending, nil, -1, -1)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, ids(ms))
}

func TestImport_DefaultsAndExtraFields(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	doc := decode(t, testutil.MatchesXML("1.0",
		testutil.FixtureMatch{ID: 5, Source: "F0001", Target: "F0002"},
	))
	_, err := Import(ctx, s, doc)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"comment", "duplicate", "error", "num_duplicates", "old_volume",
		"overlap", "probability", "status", "volume",
	}, s.FieldNames())

	want := map[string]model.Value{
		"status":     model.Integer(0),
		"error":      model.Null{},
		"overlap":    model.Real(0),
		"volume":     model.Real(0),
		"old_volume": model.Real(0),
		"comment":    model.Text(""),
		"duplicate":  model.Integer(0),
	}
	for field, v := range want {
		got, err := s.Attribute(ctx, 5, field)
		require.NoError(t, err)
		assert.Equal(t, v, got, field)
	}

	vals, err := s.FieldValues(ctx, "probability")
	require.NoError(t, err)
	assert.Empty(t, vals, "probability is only written when present")

	f, ok := s.Field("num_duplicates")
	require.True(t, ok)
	assert.True(t, f.IsMeta())

	m, err := s.Match(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, model.Identity(), m.Transform)
	assert.True(t, m.HasFragments())
}

func TestImport_ProbabilityIsCaseSensitive(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	doc := decode(t, testutil.MatchesXML("1.0",
		testutil.FixtureMatch{ID: 1, Source: "a", Target: "b", Attrs: [][2]string{{"Probability", "0.75"}}},
		testutil.FixtureMatch{ID: 2, Source: "a", Target: "c", Attrs: [][2]string{
			{"PROBABILITY", "0.5"}, {"STATUS", "7"}, {"Error", "0.125"},
		}},
	))
	res, err := Import(ctx, s, doc)
	require.NoError(t, err)
	assert.Zero(t, res.Restored)

	vals, err := s.FieldValues(ctx, "probability")
	require.NoError(t, err)
	assert.Equal(t, map[int64]model.Value{1: model.Real(0.75)}, vals)

	status, err := s.Attribute(ctx, 2, "status")
	require.NoError(t, err)
	assert.Equal(t, model.Integer(0), status)

	errVal, err := s.Attribute(ctx, 2, "error")
	require.NoError(t, err)
	assert.Equal(t, model.Null{}, errVal)
}

func TestImport_Versions(t *testing.T) {
	ctx := context.Background()

	for _, v := range []string{"1.0", "0.0"} {
		t.Run(v, func(t *testing.T) {
			s := openStore(t)
			doc := decode(t, testutil.MatchesXML(v, testutil.FixtureMatch{ID: 1, Source: "a", Target: "b"}))
			res, err := Import(ctx, s, doc)
			require.NoError(t, err)
			assert.Equal(t, v, res.Version)
			assert.Equal(t, 1, res.Matches)
		})
	}

	_, err := Decode(strings.NewReader(testutil.MatchesXML("2.0")))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	s := openStore(t)
	_, err = Import(ctx, s, &Document{Version: "3.1"})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestImport_CountsBadRows(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	doc := decode(t, testutil.MatchesXML("1.0",
		testutil.FixtureMatch{ID: 1, Source: "a", Target: "b"},
		testutil.FixtureMatch{ID: 1, Source: "a", Target: "c"},
		testutil.FixtureMatch{ID: 3, Source: "a", Target: "d", XF: "1 2 3"},
		testutil.FixtureMatch{ID: 4, Source: "a", Target: "e", Attrs: [][2]string{{"status", "high"}}},
	))
	res, err := Import(ctx, s, doc)
	require.NoError(t, err)

	// Duplicate id, malformed transformation and malformed status.
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 2, res.Matches)

	n, err := s.MatchCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	vals, err := s.FieldValues(ctx, "status")
	require.NoError(t, err)
	assert.Equal(t, map[int64]model.Value{1: model.Integer(0)}, vals)
}

func TestImport_Progress(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	s := openStore(t, store.WithBus(bus))

	var steps []int
	var labels []string
	bus.Subscribe(func(e events.Event) {
		switch e.Kind {
		case events.OperationStarted:
			labels = append(labels, e.Label)
		case events.StepDone:
			if e.Label == "importing matches" {
				steps = append(steps, e.Step)
			}
		}
	})

	doc := decode(t, testutil.MatchesXML("1.0",
		testutil.FixtureMatch{ID: 1, Source: "a", Target: "b"},
		testutil.FixtureMatch{ID: 2, Source: "b", Target: "c"},
	))
	_, err := Import(ctx, s, doc)
	require.NoError(t, err)

	assert.Contains(t, labels, "importing matches")
	assert.Equal(t, []int{1, 2}, steps)
}

func TestImport_ClosedStore(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Close())

	_, err := Import(context.Background(), s, &Document{Version: Version})
	assert.ErrorIs(t, err, store.ErrNotOpen)

	_, err = Export(context.Background(), s)
	assert.ErrorIs(t, err, store.ErrNotOpen)
}

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openStore(t)

	var matches []testutil.FixtureMatch
	for i := 1; i <= 12; i++ {
		xf := model.Identity()
		xf[3] = float64(i) * 1.123456789012345
		xf[7] = -math.Pi / float64(i)
		xf[0] = math.Cos(float64(i) / 7)
		matches = append(matches, testutil.FixtureMatch{
			ID:     int64(i),
			Source: "F" + strconv.Itoa(1000+i),
			Target: "F" + strconv.Itoa(2000+i),
			XF:     model.FormatTransform(xf),
			Attrs:  [][2]string{{"error", strconv.FormatFloat(float64(i)/10, 'g', -1, 64)}},
		})
	}
	_, err := Import(ctx, src, decode(t, testutil.MatchesXML("1.0", matches...)))
	require.NoError(t, err)
	require.NoError(t, src.SetAttribute(ctx, 2, "comment", model.Text("check overlap")))
	require.NoError(t, src.SetAttribute(ctx, 3, "duplicate", model.Integer(2)))

	path := filepath.Join(t.TempDir(), "export.xml")
	require.NoError(t, ExportFile(ctx, src, path))

	dst := openStore(t)
	res, err := ImportFile(ctx, dst, path)
	require.NoError(t, err)
	assert.Equal(t, 12, res.Matches)
	assert.Zero(t, res.Failed)

	want, err := src.Fetch(ctx, "", filter.Ascending, nil, -1, -1)
	require.NoError(t, err)
	got, err := dst.Fetch(ctx, "", filter.Ascending, nil, -1, -1)
	require.NoError(t, err)
	require.Equal(t, ids(want), ids(got))
	for i := range want {
		assert.Equal(t, want[i].Transform, got[i].Transform, "match %d", want[i].ID)
		assert.Equal(t, want[i].Source, got[i].Source)
		assert.Equal(t, want[i].Target, got[i].Target)
	}

	for _, field := range []string{"comment", "duplicate", "error", "status"} {
		wantVals, err := src.FieldValues(ctx, field)
		require.NoError(t, err)
		gotVals, err := dst.FieldValues(ctx, field)
		require.NoError(t, err)
		assert.Equal(t, wantVals, gotVals, field)
	}

	n, err := dst.Attribute(ctx, 2, "num_duplicates")
	require.NoError(t, err)
	assert.Equal(t, model.Integer(1), n)
}

func TestExport_Golden(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	xf := model.Identity()
	xf[3] = 12.5
	xf[7] = -3
	doc := decode(t, testutil.MatchesXML("1.0",
		testutil.FixtureMatch{ID: 1, Source: "F0001", Target: "F0002",
			Attrs: [][2]string{{"error", "0.25"}, {"status", "1"}, {"Probability", "0.5"}}},
		testutil.FixtureMatch{ID: 2, Source: "F0002", Target: "F0003", XF: model.FormatTransform(xf)},
	))
	_, err := Import(ctx, s, doc)
	require.NoError(t, err)
	require.NoError(t, s.SetAttribute(ctx, 1, "comment", model.Text("looks good")))

	out, err := Export(ctx, s)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, out))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "export", buf.Bytes())
}
