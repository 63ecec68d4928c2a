package model

import "time"

// NoFragment is the fragment index of a name the fragment catalog cannot resolve.
const NoFragment = -1

// FragmentResolver maps fragment names to indices in an external fragment catalog.
type FragmentResolver interface {
	FragmentIndex(name string) int
}

// FragmentResolverFunc adapts a function to FragmentResolver.
type FragmentResolverFunc func(name string) int

// FragmentIndex implements FragmentResolver.
func (f FragmentResolverFunc) FragmentIndex(name string) int { return f(name) }

// Resolve returns the index of name, or NoFragment when r is nil.
func Resolve(r FragmentResolver, name string) int {
	if r == nil {
		return NoFragment
	}
	return r.FragmentIndex(name)
}

// Match is one candidate alignment between two fragments.
type Match struct {
	ID          int64
	Source      string
	Target      string
	Transform   Transform
	SourceIndex int
	TargetIndex int

	// Attributes holds preloaded field values. Nil when the match was fetched
	// without preloading.
	Attributes map[string]Value
}

// Attribute returns a preloaded field value.
func (m Match) Attribute(name string) (Value, bool) {
	if m.Attributes == nil {
		return Null{}, false
	}
	v, ok := m.Attributes[FoldName(name)]
	if !ok {
		return Null{}, false
	}
	return v, true
}

// HasFragments reports whether both fragments were resolved.
func (m Match) HasFragments() bool {
	return m.SourceIndex != NoFragment && m.TargetIndex != NoFragment
}

// HistoryRecord is one audit entry of a tracked field.
type HistoryRecord struct {
	UserID    int64
	MatchID   int64
	Timestamp time.Time
	Value     Value
}
