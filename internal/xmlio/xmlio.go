package xmlio

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/matchdb/internal/filter"
	"github.com/roach88/matchdb/internal/model"
	"github.com/roach88/matchdb/internal/store"
)

// Option configures Import and Export.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger for skipped rows and attributes.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// importedField is a field filled from the match elements, with the value
// used when the attribute is absent.
type importedField struct {
	name string
	attr string
	def  model.Value
	// optional fields are only written when the attribute is present.
	optional bool
}

var importedFields = []importedField{
	{name: "status", attr: "status", def: model.Integer(0)},
	{name: "error", attr: "error", def: model.Real(math.NaN())},
	{name: "overlap", attr: "overlap", def: model.Real(0)},
	{name: "volume", attr: "volume", def: model.Real(0)},
	{name: "old_volume", attr: "old_volume", def: model.Real(0)},
	{name: "probability", attr: "Probability", def: model.Real(0), optional: true},
}

// Fields added after the matches are in.
const (
	CommentField       = "comment"
	DuplicateField     = "duplicate"
	NumDuplicatesField = "num_duplicates"
	numDuplicatesQuery = "SELECT duplicate AS match_id, COUNT(duplicate) AS num_duplicates FROM duplicate GROUP BY duplicate"
)

// ImportResult counts what Import wrote.
type ImportResult struct {
	Version  string
	Matches  int // match rows inserted
	Restored int // values of other known fields applied from the document
	Failed   int // rows or values that could not be written
}

// Export builds the document of every match in ascending id order, with one
// attribute per known field in name order. Matches without a value for a
// field get an empty attribute.
func Export(ctx context.Context, s *store.Store) (*Document, error) {
	if !s.IsOpen() {
		return nil, fmt.Errorf("export: %w", store.ErrNotOpen)
	}

	ms, err := s.Fetch(ctx, "", filter.Ascending, nil, -1, -1)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	fields := s.FieldNames()
	values := make(map[string]map[int64]model.Value, len(fields))
	for _, f := range fields {
		vals, err := s.FieldValues(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("export: %w", err)
		}
		values[f] = vals
	}

	doc := &Document{Version: Version, Matches: make([]Match, 0, len(ms))}
	for _, m := range ms {
		el := Match{
			Source: m.Source,
			Target: m.Target,
			ID:     strconv.FormatInt(m.ID, 10),
			XF:     model.FormatTransform(m.Transform),
			Attrs:  make([]xml.Attr, 0, len(fields)),
		}
		for _, f := range fields {
			var text string
			if v, ok := values[f][m.ID]; ok {
				text = v.String()
			}
			el.Attrs = append(el.Attrs, xml.Attr{Name: xml.Name{Local: f}, Value: text})
		}
		doc.Matches = append(doc.Matches, el)
	}
	return doc, nil
}

// ExportFile writes the export of s to path.
func ExportFile(ctx context.Context, s *store.Store, path string) (err error) {
	doc, err := Export(ctx, s)
	if err != nil {
		return fmt.Errorf("could not export to %s: %w", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not export to %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("could not export to %s: %w", path, cerr)
		}
	}()

	if err := Encode(f, doc); err != nil {
		return fmt.Errorf("could not export to %s: %w", path, err)
	}
	return nil
}

// ImportFile reads the document at path and imports it into s.
func ImportFile(ctx context.Context, s *store.Store, path string, opts ...Option) (ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportResult{}, fmt.Errorf("could not import %s: %w", path, err)
	}
	defer f.Close()

	doc, err := Decode(f)
	if err != nil {
		return ImportResult{}, fmt.Errorf("could not import %s: %w", path, err)
	}
	res, err := Import(ctx, s, doc, opts...)
	if err != nil {
		return res, fmt.Errorf("could not import %s: %w", path, err)
	}
	return res, nil
}

// Import inserts the matches of doc into s.
//
// The status, error, overlap, volume, old_volume and probability fields are
// created first when missing. All matches and their values of those fields
// are then written in one transaction; rows that fail are counted and
// skipped. Afterwards the comment and duplicate fields and the
// num_duplicates meta field are added, and attributes naming any other
// known normal field are applied. Matches are not deduplicated and fragment
// names are not checked.
func Import(ctx context.Context, s *store.Store, doc *Document, opts ...Option) (ImportResult, error) {
	o := newOptions(opts)
	res := ImportResult{Version: doc.Version}

	if err := doc.CheckVersion(); err != nil {
		return res, fmt.Errorf("import: %w", err)
	}
	if !s.IsOpen() {
		return res, fmt.Errorf("import: %w", store.ErrNotOpen)
	}

	for _, f := range importedFields {
		if err := ensureField(ctx, s, f.name, f.def, o.logger); err != nil {
			return res, fmt.Errorf("import: %w", err)
		}
	}

	ids, err := importMatches(ctx, s, doc, &res, o.logger)
	if err != nil {
		return res, fmt.Errorf("import: %w", err)
	}

	if err := ensureField(ctx, s, CommentField, model.Text(""), o.logger); err != nil {
		return res, fmt.Errorf("import: %w", err)
	}
	if err := ensureField(ctx, s, DuplicateField, model.Integer(0), o.logger); err != nil {
		return res, fmt.Errorf("import: %w", err)
	}
	if err := s.AddMetaField(ctx, NumDuplicatesField, numDuplicatesQuery); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return res, fmt.Errorf("import: %w", err)
	}

	if err := restoreAttributes(ctx, s, doc, ids, &res, o.logger); err != nil {
		return res, fmt.Errorf("import: %w", err)
	}

	o.logger.Info("import finished",
		zap.String("version", res.Version),
		zap.Int("matches", res.Matches),
		zap.Int("restored", res.Restored),
		zap.Int("failed", res.Failed))
	return res, nil
}

// ensureField adds a normal field unless it exists. Rows that failed to
// backfill are logged; the field is usable either way.
func ensureField(ctx context.Context, s *store.Store, name string, def model.Value, logger *zap.Logger) error {
	if s.HasField(name) {
		return nil
	}
	err := s.AddField(ctx, name, def)
	var be *store.BackfillError
	switch {
	case err == nil, errors.Is(err, store.ErrAlreadyExists):
		return nil
	case errors.As(err, &be):
		logger.Warn("field backfill incomplete", zap.String("field", name), zap.Error(err))
		return nil
	default:
		return err
	}
}

// importMatches runs the bulk transaction. It returns the id each element
// was stored under, 0 for elements that were skipped.
func importMatches(ctx context.Context, s *store.Store, doc *Document, res *ImportResult, logger *zap.Logger) ([]int64, error) {
	ids := make([]int64, len(doc.Matches))

	batch, err := s.BeginBatch(ctx, "importing matches", len(doc.Matches))
	if err != nil {
		return nil, err
	}
	defer batch.Rollback()

	skipped := 0
	for i, el := range doc.Matches {
		m, err := el.toMatch()
		if err != nil {
			skipped++
			logger.Warn("match skipped", zap.Int("element", i), zap.Error(err))
			batch.Step()
			continue
		}

		id, err := batch.InsertMatch(m)
		if err != nil {
			logger.Warn("match not inserted", zap.Int("element", i), zap.Error(err))
			batch.Step()
			continue
		}
		ids[i] = id

		for _, f := range importedFields {
			raw, present := el.Attr(f.attr)
			if f.optional && !present {
				continue
			}
			v, err := parseOr(f.def, raw)
			if err != nil {
				skipped++
				logger.Warn("value skipped", zap.Int64("match_id", id), zap.String("field", f.name), zap.Error(err))
				continue
			}
			if err := batch.PutAttribute(id, f.name, v); err != nil {
				logger.Warn("value not inserted", zap.Int64("match_id", id), zap.String("field", f.name), zap.Error(err))
			}
		}
		batch.Step()
	}

	br, err := batch.Commit()
	if err != nil {
		return nil, err
	}
	res.Matches = br.Matches
	res.Failed += br.Failed + skipped
	return ids, nil
}

// restoreAttributes applies attributes spelled as known normal fields that the
// bulk transaction did not write, such as comment and duplicate of an
// earlier export.
func restoreAttributes(ctx context.Context, s *store.Store, doc *Document, ids []int64, res *ImportResult, logger *zap.Logger) error {
	type write struct {
		id    int64
		field model.Field
		raw   string
	}

	var writes []write
	for i, el := range doc.Matches {
		if ids[i] == 0 {
			continue
		}
		_, hasProbability := el.Attr("Probability")
		for _, a := range el.Attrs {
			name := a.Name.Local
			if handledOnImport(name, hasProbability) {
				continue
			}
			// Attributes are matched on the exported spelling only, so a
			// STATUS or PROBABILITY attribute never reaches the imported fields.
			f, ok := s.Field(name)
			if !ok || f.IsMeta() || f.Name != name {
				continue
			}
			// Empty values are what Export writes for missing ones.
			if a.Value == "" && f.Type != model.TypeText {
				continue
			}
			writes = append(writes, write{id: ids[i], field: f, raw: a.Value})
		}
	}
	if len(writes) == 0 {
		return nil
	}

	batch, err := s.BeginBatch(ctx, "restoring attributes", len(writes))
	if err != nil {
		return err
	}
	defer batch.Rollback()

	skipped := 0
	for _, w := range writes {
		v, err := model.ParseValue(w.field.Type, w.raw)
		if err != nil {
			skipped++
			logger.Warn("value skipped", zap.Int64("match_id", w.id), zap.String("field", w.field.Name), zap.Error(err))
		} else if err := batch.PutAttribute(w.id, w.field.Name, v); err != nil {
			logger.Warn("value not restored", zap.Int64("match_id", w.id), zap.String("field", w.field.Name), zap.Error(err))
		}
		batch.Step()
	}

	br, err := batch.Commit()
	if err != nil {
		return err
	}
	res.Restored = br.Attributes
	res.Failed += br.Failed + skipped
	return nil
}

func handledOnImport(attr string, hasProbability bool) bool {
	for _, f := range importedFields {
		if attr == f.attr {
			return true
		}
	}
	return hasProbability && attr == "probability"
}

// toMatch converts the core attributes. A missing id lets the store assign
// one; a missing transformation is the identity.
func (m Match) toMatch() (model.Match, error) {
	out := model.Match{Source: m.Source, Target: m.Target, Transform: model.Identity()}

	if id := strings.TrimSpace(m.ID); id != "" {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return model.Match{}, fmt.Errorf("match id %q: %w", m.ID, err)
		}
		out.ID = n
	}
	if strings.TrimSpace(m.XF) != "" {
		xf, err := model.ParseTransform(m.XF)
		if err != nil {
			return model.Match{}, fmt.Errorf("match %s: %w", m.ID, err)
		}
		out.Transform = xf
	}
	return out, nil
}

// parseOr parses raw as a value of def's type, returning def for an empty
// or absent attribute.
func parseOr(def model.Value, raw string) (model.Value, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	return model.ParseValue(def.Type(), raw)
}
