package store

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/roach88/matchdb/internal/dialect"
	"github.com/roach88/matchdb/internal/model"
)

// catalog is an immutable snapshot of the known fields.
type catalog map[string]model.Field

// Field implements querysql.Catalog.
func (c catalog) Field(name string) (model.Field, bool) {
	f, ok := c[model.FoldName(name)]
	return f, ok
}

// RebuildCatalog re-reads the field set from the database. Every table or
// view other than the core table that has a match_id column and a column
// named like itself is a field: tables are normal fields, views meta fields.
// While history tracking is on, missing history tables are created afterwards.
func (s *Store) RebuildCatalog(ctx context.Context) error {
	db, ok := s.handle()
	if !ok {
		return ErrNotOpen
	}

	rels, err := s.dialect.Relations(ctx, db)
	if err != nil {
		return fmt.Errorf("rebuild catalog: %w", s.check(err))
	}

	fields, names := classify(rels)

	s.mu.Lock()
	for name, q := range s.views {
		if f, ok := fields[name]; ok && f.IsMeta() {
			f.Query = q
			fields[name] = f
		}
	}
	s.fields = fields
	s.relNames = names
	tracking := s.history
	s.mu.Unlock()

	s.logger.Debug("catalog rebuilt", zap.Int("fields", len(fields)))

	if tracking {
		return s.ensureHistoryTables(ctx)
	}
	return nil
}

func classify(rels []dialect.Relation) (catalog, map[string]bool) {
	fields := catalog{}
	names := make(map[string]bool, len(rels))
	for _, r := range rels {
		name := model.FoldName(r.Name)
		names[name] = true
		if name == model.CoreTable {
			continue
		}
		if _, ok := r.Column("match_id"); !ok {
			continue
		}
		col, ok := r.Column(name)
		if !ok {
			continue
		}

		f := model.Field{Name: name, Kind: model.KindNormal}
		if r.View {
			f.Kind = model.KindMeta
		} else if t, err := model.ParseSQLType(col.Type); err == nil {
			f.Type = t
		}
		fields[name] = f
	}
	return fields, names
}

func (s *Store) catalogSnapshot() catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields
}

// HasField reports whether name is a known field. Names are case-insensitive.
func (s *Store) HasField(name string) bool {
	_, ok := s.Field(name)
	return ok
}

// Field returns the named field.
func (s *Store) Field(name string) (model.Field, bool) {
	return s.catalogSnapshot().Field(name)
}

// Fields returns all known fields sorted by name. Empty when closed.
func (s *Store) Fields() []model.Field {
	c := s.catalogSnapshot()
	out := make([]model.Field, 0, len(c))
	for _, f := range c {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FieldNames returns the sorted names of all known fields.
func (s *Store) FieldNames() []string {
	fields := s.Fields()
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}

// hasRelation reports whether the last rebuild saw a table or view of that name.
func (s *Store) hasRelation(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relNames[name]
}
