package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldName(t *testing.T) {
	assert.Equal(t, "score", FoldName("Score"))
	assert.Equal(t, "old_volume", FoldName("  OLD_Volume "))
}

func TestValidateFieldName(t *testing.T) {
	name, err := ValidateFieldName("Error")
	require.NoError(t, err)
	assert.Equal(t, "error", name)

	for _, bad := range []string{"", "1abc", "has space", "drop;table", "matches", "match_id", "confidence", "volume_history", "naïve"} {
		_, err := ValidateFieldName(bad)
		assert.Error(t, err, bad)
	}
}

func TestField_HistoryTable(t *testing.T) {
	f := Field{Name: "status", Kind: KindNormal, Type: TypeInteger}
	assert.Equal(t, "status_history", f.HistoryTable())
	assert.False(t, f.IsMeta())
	assert.Equal(t, "normal", f.Kind.String())
	assert.Equal(t, "meta", KindMeta.String())
}

func TestMatch_Attribute(t *testing.T) {
	m := Match{ID: 1}
	_, ok := m.Attribute("error")
	assert.False(t, ok)

	m.Attributes = map[string]Value{"error": Real(0.5)}
	v, ok := m.Attribute("ERROR")
	require.True(t, ok)
	assert.Equal(t, Real(0.5), v)
}

func TestResolve(t *testing.T) {
	assert.Equal(t, NoFragment, Resolve(nil, "frag"))

	r := FragmentResolverFunc(func(name string) int {
		if name == "WDC_0001" {
			return 4
		}
		return NoFragment
	})
	assert.Equal(t, 4, Resolve(r, "WDC_0001"))
	assert.Equal(t, NoFragment, Resolve(r, "unknown"))

	m := Match{SourceIndex: 4, TargetIndex: NoFragment}
	assert.False(t, m.HasFragments())
}
