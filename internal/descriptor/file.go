package descriptor

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// fileDescriptor is the on-disk form. A url, when present, is parsed first and
// the remaining keys override what it yields.
type fileDescriptor struct {
	URL        string `yaml:"url,omitempty"`
	Descriptor `yaml:",inline"`
}

func isDescriptorFile(s string) bool {
	ext := strings.ToLower(filepath.Ext(s))
	return (ext == ".yaml" || ext == ".yml") && !strings.Contains(s, "://")
}

// LoadFile reads a YAML descriptor file.
func LoadFile(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("read descriptor %s: %w", path, err)
	}
	d, err := Decode(data)
	if err != nil {
		return Descriptor{}, fmt.Errorf("descriptor %s: %w", path, err)
	}

	// Relative sqlite paths are relative to the descriptor file.
	if d.Driver == SQLite && !filepath.IsAbs(d.Path) && d.Path != ":memory:" {
		d.Path = filepath.Join(filepath.Dir(path), d.Path)
	}
	return d, nil
}

// Decode parses a YAML descriptor and validates it against the embedded schema.
func Decode(data []byte) (Descriptor, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if err := validateSchema(raw); err != nil {
		return Descriptor{}, err
	}

	var fd fileDescriptor
	if err := yaml.Unmarshal(data, &fd); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	d := fd.Descriptor
	if fd.URL != "" {
		base, err := ParseURL(fd.URL)
		if err != nil {
			return Descriptor{}, err
		}
		d = overlay(base, d)
	}

	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

func validateSchema(raw map[string]any) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile descriptor schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Descriptor"))

	v := ctx.Encode(raw)
	if err := v.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	return nil
}

func overlay(base, o Descriptor) Descriptor {
	if o.Driver != "" {
		base.Driver = o.Driver
	}
	if o.Path != "" {
		base.Path = o.Path
	}
	if o.Host != "" {
		base.Host = o.Host
	}
	if o.Port != 0 {
		base.Port = o.Port
	}
	if o.Database != "" {
		base.Database = o.Database
	}
	if o.User != "" {
		base.User = o.User
	}
	if o.Password != "" {
		base.Password = o.Password
	}
	if len(o.Params) > 0 {
		if base.Params == nil {
			base.Params = make(map[string]string, len(o.Params))
		}
		for k, v := range o.Params {
			base.Params[k] = v
		}
	}
	return base
}
