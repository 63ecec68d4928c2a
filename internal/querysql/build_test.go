package querysql

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/matchdb/internal/dialect"
	"github.com/roach88/matchdb/internal/filter"
	"github.com/roach88/matchdb/internal/model"
)

// testCatalog is a fixed set of fields.
type testCatalog map[string]model.Field

func (c testCatalog) Field(name string) (model.Field, bool) {
	f, ok := c[name]
	return f, ok
}

func newTestCatalog() testCatalog {
	return testCatalog{
		"error":          {Name: "error", Kind: model.KindNormal, Type: model.TypeReal},
		"status":         {Name: "status", Kind: model.KindNormal, Type: model.TypeInteger},
		"volume":         {Name: "volume", Kind: model.KindNormal, Type: model.TypeReal},
		"comment":        {Name: "comment", Kind: model.KindNormal, Type: model.TypeText},
		"num_duplicates": {Name: "num_duplicates", Kind: model.KindMeta},
		"worst":          {Name: "worst", Kind: model.KindMeta},
	}
}

func newBuilder(t *testing.T, driver string) *Builder {
	t.Helper()
	d, err := dialect.For(driver)
	require.NoError(t, err)
	return New(d, newTestCatalog())
}

func assertGolden(t *testing.T, name string, p Plan) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(p.String()))
}

func TestCount_Golden(t *testing.T) {
	b := newBuilder(t, "sqlite3")

	f := filter.New("error.error < 0.5", "error").Add("status.status = 1", "status")
	p := b.Count(f)

	assert.Empty(t, p.Warnings)
	assertGolden(t, "count_filtered", p)
}

func TestMatches_Golden(t *testing.T) {
	b := newBuilder(t, "sqlite3")

	p := b.Matches("Volume", filter.Descending, filter.New("error.error < 0.5", "error"), 20, 10)

	assert.False(t, p.Fast)
	assertGolden(t, "fetch_sorted_paged", p)
}

func TestPreloaded_BaseGolden(t *testing.T) {
	b := newBuilder(t, "sqlite3")

	p := b.Preloaded([]string{"comment", "num_duplicates"}, "worst", filter.Ascending, nil, -1, -1)

	assert.False(t, p.Fast, "a meta sort field rules out the fast path")
	require.Len(t, p.Preload, 2)
	assertGolden(t, "preloaded_base", p)
}

func TestPreloaded_FastGolden(t *testing.T) {
	for _, driver := range dialect.Names() {
		t.Run(driver, func(t *testing.T) {
			b := newBuilder(t, driver)

			p := b.Preloaded([]string{"num_duplicates", "error"}, "volume", filter.Descending,
				filter.New("status.status = 1", "status"), 0, 50)

			require.True(t, p.Fast)
			assert.Equal(t, []string{"num_duplicates", "error"}, names(p.Preload))
			assertGolden(t, "preloaded_fast_"+driver, p)
		})
	}
}

func TestHistory_Golden(t *testing.T) {
	b := newBuilder(t, "sqlite3")
	status, _ := newTestCatalog().Field("status")

	p := b.History(status, "timestamp", filter.Descending, filter.New("error.error > 1", "error"), 0, 5)

	assert.Empty(t, p.Warnings)
	assertGolden(t, "history_sorted", p)
}

func TestHistory_InvalidSortIgnored(t *testing.T) {
	b := newBuilder(t, "sqlite3")
	status, _ := newTestCatalog().Field("status")

	p := b.History(status, "volume", filter.Ascending, nil, -1, -1)

	require.Len(t, p.Warnings, 1)
	assert.Contains(t, p.Query, `ORDER BY "status_history"."timestamp" ASC, "status_history".match_id ASC`)
	assert.NotContains(t, p.Query, "volume")
	assert.NotContains(t, p.Query, "LIMIT")
}

func TestHistory_SortByValue(t *testing.T) {
	b := newBuilder(t, "sqlite3")
	status, _ := newTestCatalog().Field("status")

	p := b.History(status, "STATUS", filter.Descending, nil, -1, -1)
	assert.Contains(t, p.Query, `ORDER BY "status_history"."status" DESC, "status_history"."timestamp" ASC`)

	p = b.History(status, "user_id", filter.Ascending, nil, -1, -1)
	assert.Contains(t, p.Query, `ORDER BY "status_history".user_id ASC`)
}

func TestCount_UnknownDependencySkipped(t *testing.T) {
	b := newBuilder(t, "sqlite3")

	p := b.Count(filter.New("missing.missing > 0", "missing"))

	require.Len(t, p.Warnings, 1)
	assert.Contains(t, p.Warnings[0], "missing")
	assert.Equal(t, "SELECT COUNT(*) FROM matches WHERE (missing.missing > 0)", p.Query)
}

func TestCount_EmptyFilter(t *testing.T) {
	b := newBuilder(t, "postgres")
	assert.Equal(t, "SELECT COUNT(*) FROM matches", b.Count(nil).Query)
	assert.Equal(t, "SELECT COUNT(*) FROM matches", b.Count(&filter.Filter{}).Query)
}

func TestMatches_DependencyWithoutClauseStillJoins(t *testing.T) {
	b := newBuilder(t, "sqlite3")

	p := b.Matches("", filter.Ascending, (&filter.Filter{}).Depend("comment"), -1, -1)

	assert.Contains(t, p.Query, `INNER JOIN "comment" ON matches.match_id = "comment".match_id`)
	assert.NotContains(t, p.Query, "WHERE")
	assert.Contains(t, p.Query, "ORDER BY matches.match_id ASC")
}

func TestMatches_UnknownSortIgnored(t *testing.T) {
	b := newBuilder(t, "sqlite3")

	p := b.Matches("nope", filter.Descending, nil, -1, -1)

	require.Len(t, p.Warnings, 1)
	assert.Contains(t, p.Query, "ORDER BY matches.match_id ASC")
}

func TestMatches_PaginationNeedsBothBounds(t *testing.T) {
	b := newBuilder(t, "sqlite3")

	assert.NotContains(t, b.Matches("", filter.Ascending, nil, 10, -1).Query, "LIMIT")
	assert.NotContains(t, b.Matches("", filter.Ascending, nil, -1, 10).Query, "LIMIT")
	assert.Contains(t, b.Matches("", filter.Ascending, nil, 0, 0).Query, "LIMIT 0, 0")
}

func TestPreloaded_FastPathPrecondition(t *testing.T) {
	b := newBuilder(t, "sqlite3")

	tests := []struct {
		name    string
		preload []string
		sort    string
		f       *filter.Filter
		fast    bool
	}{
		{"meta preload, normal deps", []string{"worst"}, "error", filter.New("status.status = 1", "status"), true},
		{"meta preload, no deps", []string{"worst"}, "", nil, true},
		{"only normal preloads", []string{"error", "comment"}, "", nil, false},
		{"meta dependency", []string{"worst"}, "", filter.New("num_duplicates.num_duplicates > 1", "num_duplicates"), false},
		{"meta sort", []string{"worst"}, "num_duplicates", nil, false},
		{"unknown meta-like preload", []string{"ghost"}, "", nil, false},
		{"no preloads", nil, "error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := b.Preloaded(tt.preload, tt.sort, filter.Ascending, tt.f, -1, -1)
			assert.Equal(t, tt.fast, p.Fast)
			if tt.fast {
				assert.Len(t, p.Setup, 2)
				assert.Len(t, p.Teardown, 1)
			} else {
				assert.Empty(t, p.Setup)
				assert.Empty(t, p.Teardown)
			}
		})
	}
}

func TestPreloaded_DeduplicatesAndDropsUnknown(t *testing.T) {
	b := newBuilder(t, "sqlite3")

	p := b.Preloaded([]string{"Error", "ghost", "error", "comment"}, "", filter.Ascending, nil, -1, -1)

	assert.Equal(t, []string{"error", "comment"}, names(p.Preload))
	require.Len(t, p.Warnings, 1)
	assert.Contains(t, p.Warnings[0], "ghost")
}

func TestPreloaded_MetaDependencyNotJoinedTwice(t *testing.T) {
	b := newBuilder(t, "sqlite3")

	p := b.Preloaded([]string{"worst"}, "", filter.Ascending, filter.New("worst.worst > 1", "worst"), -1, -1)

	assert.False(t, p.Fast)
	assert.Contains(t, p.Query, `INNER JOIN "worst"`)
	assert.NotContains(t, p.Query, `LEFT JOIN "worst"`)
}

func TestPreloaded_FastSortCarriedByPreload(t *testing.T) {
	b := newBuilder(t, "sqlite3")

	p := b.Preloaded([]string{"error", "worst"}, "error", filter.Ascending, nil, -1, -1)

	require.True(t, p.Fast)
	assert.Contains(t, p.Setup[1], `matches.transformation, "error"."error" FROM matches`)
	assert.Contains(t, p.Query, `ORDER BY joined."error" ASC, joined.match_id ASC`)
}

func TestDDL(t *testing.T) {
	b := newBuilder(t, "sqlite3")
	status, _ := newTestCatalog().Field("status")

	assert.Equal(t,
		`CREATE TABLE "score" (match_id INTEGER PRIMARY KEY REFERENCES matches(match_id), "score" REAL, confidence REAL)`,
		b.CreateField("score", model.TypeReal))
	assert.Equal(t, `CREATE INDEX "score_index" ON "score"("score")`, b.CreateIndex("score"))
	assert.Equal(t, `CREATE VIEW "v" AS SELECT 1`, b.CreateView("v", " SELECT 1; "))
	assert.Equal(t, `DROP TABLE "status"`, b.DropField(status))
	assert.Equal(t, `DROP VIEW "worst"`, b.DropField(model.Field{Name: "worst", Kind: model.KindMeta}))
	assert.Equal(t,
		`CREATE TABLE "status_history" (user_id INTEGER, match_id INTEGER, "timestamp" INTEGER, "status" INTEGER, confidence REAL)`,
		b.CreateHistory(status))
	assert.Equal(t, `INSERT INTO "status" (match_id, "status", confidence) VALUES (?, ?, ?)`, b.InsertAttribute("status"))
}

func TestDDL_Postgres(t *testing.T) {
	b := newBuilder(t, "postgres")

	assert.Equal(t,
		`CREATE TABLE "score" (match_id BIGINT PRIMARY KEY REFERENCES matches(match_id), "score" TEXT, confidence DOUBLE PRECISION)`,
		b.CreateField("score", model.TypeText))
	assert.Equal(t, `UPDATE "score" SET "score" = $1, confidence = $2 WHERE match_id = $3`, b.UpdateAttribute("score"))
	assert.Equal(t,
		"INSERT INTO matches (match_id, source_id, source_name, target_id, target_name, transformation) VALUES ($1, $2, $3, $4, $5, $6)",
		b.InsertMatch())
}

func names(fields []model.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}
