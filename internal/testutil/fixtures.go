package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/matchdb/internal/model"
)

// IdentityXF is the identity transformation in interchange format.
var IdentityXF = model.FormatTransform(model.Identity())

// FragmentNames resolves fragments named like "F0003" to their number, and
// everything else to model.NoFragment.
var FragmentNames = model.FragmentResolverFunc(func(name string) int {
	var n int
	if _, err := fmt.Sscanf(name, "F%04d", &n); err != nil {
		return model.NoFragment
	}
	return n
})

// FixtureMatch describes one <match> element.
type FixtureMatch struct {
	ID     int64
	Source string
	Target string
	XF     string // defaults to IdentityXF
	Attrs  [][2]string
}

// MatchesXML renders a matches document.
func MatchesXML(version string, matches ...FixtureMatch) string {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	b.WriteString("<!DOCTYPE matches-cache>\n")
	fmt.Fprintf(&b, "<matches version=%q>\n", version)
	for _, m := range matches {
		xf := m.XF
		if xf == "" {
			xf = IdentityXF
		}
		fmt.Fprintf(&b, "  <match src=%q tgt=%q id=\"%d\" xf=%q", m.Source, m.Target, m.ID, xf)
		for _, a := range m.Attrs {
			fmt.Fprintf(&b, " %s=%q", a[0], a[1])
		}
		b.WriteString("/>\n")
	}
	b.WriteString("</matches>\n")
	return b.String()
}

// WriteFile writes content under t.TempDir() and returns its path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
