package model

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// CoreTable is the name of the table holding one row per match.
const CoreTable = "matches"

// HistorySuffix is appended to a field name to form its history table.
const HistorySuffix = "_history"

// FieldKind distinguishes materialized fields from derived ones.
type FieldKind int

const (
	// KindNormal fields are side tables keyed by match_id.
	KindNormal FieldKind = iota
	// KindMeta fields are views over other tables.
	KindMeta
)

func (k FieldKind) String() string {
	if k == KindMeta {
		return "meta"
	}
	return "normal"
}

// Field describes one attribute field known to the schema catalog.
type Field struct {
	Name  string
	Kind  FieldKind
	Type  SQLType // normal fields only
	Query string  // meta fields only, when known
}

// IsMeta reports whether the field is backed by a view.
func (f Field) IsMeta() bool { return f.Kind == KindMeta }

// HistoryTable returns the name of the field's audit table.
func (f Field) HistoryTable() string { return f.Name + HistorySuffix }

var (
	identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

	// reserved names cannot be used as attribute fields because they
	// collide with core columns or tables.
	reserved = map[string]bool{
		CoreTable:        true,
		"match_id":       true,
		"source_id":      true,
		"source_name":    true,
		"target_id":      true,
		"target_name":    true,
		"transformation": true,
		"confidence":     true,
		"user_id":        true,
		"timestamp":      true,
	}
)

// FoldName returns the canonical, case-folded form of a field name.
func FoldName(name string) string {
	// Casers carry state and are not safe for concurrent use.
	return cases.Fold().String(strings.TrimSpace(name))
}

// ValidateFieldName folds name and checks that it is usable as both a table
// and a column name.
func ValidateFieldName(name string) (string, error) {
	folded := FoldName(name)
	if !identPattern.MatchString(folded) {
		return "", fmt.Errorf("invalid field name %q: must match %s", name, identPattern)
	}
	if reserved[folded] {
		return "", fmt.Errorf("invalid field name %q: reserved", name)
	}
	if strings.HasSuffix(folded, HistorySuffix) {
		return "", fmt.Errorf("invalid field name %q: %s suffix is reserved for history tables", name, HistorySuffix)
	}
	return folded, nil
}
