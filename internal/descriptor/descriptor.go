// Package descriptor parses connection descriptors and derives the canonical
// connection identity used to share store handles.
package descriptor

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xo/dburl"
)

// Supported driver names.
const (
	SQLite    = "sqlite3"
	Postgres  = "postgres"
	SQLServer = "sqlserver"
)

// ErrInvalidDescriptor is returned for descriptors that cannot name a database.
var ErrInvalidDescriptor = errors.New("invalid connection descriptor")

var defaultPorts = map[string]int{
	Postgres:  5432,
	SQLServer: 1433,
}

// driverAliases maps the driver names dburl reports to the supported drivers.
var driverAliases = map[string]string{
	"sqlite3":    SQLite,
	"sqlite":     SQLite,
	"file":       SQLite,
	"postgres":   Postgres,
	"postgresql": Postgres,
	"pgx":        Postgres,
	"sqlserver":  SQLServer,
	"mssql":      SQLServer,
	"azuresql":   SQLServer,
}

// Descriptor identifies one database.
type Descriptor struct {
	Driver   string            `yaml:"driver"`
	Path     string            `yaml:"path,omitempty"`
	Host     string            `yaml:"host,omitempty"`
	Port     int               `yaml:"port,omitempty"`
	Database string            `yaml:"database,omitempty"`
	User     string            `yaml:"user,omitempty"`
	Password string            `yaml:"password,omitempty"`
	Params   map[string]string `yaml:"params,omitempty"`
}

// Parse accepts a database URL, a descriptor file (*.yaml, *.yml) or a bare
// filesystem path, which names an SQLite database.
func Parse(s string) (Descriptor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Descriptor{}, fmt.Errorf("%w: empty", ErrInvalidDescriptor)
	}

	if isDescriptorFile(s) {
		return LoadFile(s)
	}

	if s == ":memory:" || !strings.Contains(s, ":") || filepath.VolumeName(s) != "" {
		return SQLiteFile(s), nil
	}

	if isSQLiteURL(s) {
		return fromSQLiteURL(s)
	}

	return ParseURL(s)
}

// SQLiteFile returns a descriptor for the SQLite database at path.
func SQLiteFile(path string) Descriptor {
	return Descriptor{Driver: SQLite, Path: path}
}

// ParseURL parses a database URL such as postgres://user@host/db.
func ParseURL(s string) (Descriptor, error) {
	u, err := dburl.Parse(s)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	driver, ok := driverAliases[u.Driver]
	if !ok {
		driver, ok = driverAliases[u.UnaliasedDriver]
	}
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: unsupported driver %q", ErrInvalidDescriptor, u.Driver)
	}

	if driver == SQLite {
		return fromSQLiteURL(s)
	}

	d := Descriptor{
		Driver:   driver,
		Host:     u.Hostname(),
		Database: strings.TrimPrefix(u.Path, "/"),
		Params:   queryParams(u.Query()),
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return Descriptor{}, fmt.Errorf("%w: port %q", ErrInvalidDescriptor, p)
		}
		d.Port = port
	}
	if u.User != nil {
		d.User = u.User.Username()
		d.Password, _ = u.User.Password()
	}
	if db, ok := d.Params["database"]; ok && d.Database == "" {
		d.Database = db
		delete(d.Params, "database")
	}

	return d, nil
}

// isSQLiteURL reports file-style schemes. These are handled here rather than
// by dburl, which resolves file: URLs by probing the filesystem.
func isSQLiteURL(s string) bool {
	scheme, _, ok := strings.Cut(s, ":")
	if !ok {
		return false
	}
	switch strings.ToLower(scheme) {
	case "file", "sqlite", "sqlite3":
		return true
	}
	return false
}

func fromSQLiteURL(s string) (Descriptor, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	path := u.Opaque
	if path == "" {
		path = u.Host + u.Path
	}
	return Descriptor{Driver: SQLite, Path: path, Params: queryParams(u.Query())}, nil
}

func queryParams(q url.Values) map[string]string {
	if len(q) == 0 {
		return nil
	}
	out := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			out[k] = v[len(v)-1]
		}
	}
	return out
}

// Valid reports whether the descriptor names a database.
func (d Descriptor) Valid() bool {
	switch d.Driver {
	case SQLite:
		return strings.TrimSpace(d.Path) != ""
	case Postgres, SQLServer:
		return d.Host != "" && d.Database != ""
	default:
		return false
	}
}

// Validate is Valid with a reason.
func (d Descriptor) Validate() error {
	switch d.Driver {
	case SQLite:
		if strings.TrimSpace(d.Path) == "" {
			return fmt.Errorf("%w: sqlite3 requires a path", ErrInvalidDescriptor)
		}
	case Postgres, SQLServer:
		if d.Host == "" {
			return fmt.Errorf("%w: %s requires a host", ErrInvalidDescriptor, d.Driver)
		}
		if d.Database == "" {
			return fmt.Errorf("%w: %s requires a database", ErrInvalidDescriptor, d.Driver)
		}
	case "":
		return fmt.Errorf("%w: no driver", ErrInvalidDescriptor)
	default:
		return fmt.Errorf("%w: unsupported driver %q", ErrInvalidDescriptor, d.Driver)
	}
	return nil
}

// WithDefaults returns a copy of d with params added where not already set.
func (d Descriptor) WithDefaults(params map[string]string) Descriptor {
	if len(params) == 0 {
		return d
	}
	merged := make(map[string]string, len(d.Params)+len(params))
	for k, v := range params {
		merged[k] = v
	}
	for k, v := range d.Params {
		merged[k] = v
	}
	d.Params = merged
	return d
}

// Identity returns the canonical connection name. Two descriptors naming the
// same database yield the same identity. The password is never part of it.
func (d Descriptor) Identity() string {
	if !d.Valid() {
		return ""
	}

	var b strings.Builder
	b.WriteString(d.Driver)
	b.WriteString("://")

	switch d.Driver {
	case SQLite:
		b.WriteString(canonicalPath(d.Path))
	default:
		if d.User != "" {
			b.WriteString(url.PathEscape(d.User))
			b.WriteByte('@')
		}
		b.WriteString(net.JoinHostPort(strings.ToLower(d.Host), strconv.Itoa(d.port())))
		b.WriteByte('/')
		b.WriteString(d.Database)
	}

	if q := encodeParams(d.Params); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String()
}

// DSN returns the data source name handed to the database/sql driver.
func (d Descriptor) DSN() string {
	switch d.Driver {
	case SQLite:
		q := encodeParams(d.Params)
		if q == "" {
			return d.Path
		}
		return "file:" + d.Path + "?" + q
	case Postgres, SQLServer:
		u := url.URL{
			Scheme: d.Driver,
			Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.port())),
		}
		if d.User != "" {
			if d.Password != "" {
				u.User = url.UserPassword(d.User, d.Password)
			} else {
				u.User = url.User(d.User)
			}
		}
		q := url.Values{}
		for k, v := range d.Params {
			q.Set(k, v)
		}
		if d.Driver == Postgres {
			u.Path = "/" + d.Database
		} else {
			q.Set("database", d.Database)
		}
		u.RawQuery = q.Encode()
		return u.String()
	default:
		return ""
	}
}

// String renders the identity; it never includes the password.
func (d Descriptor) String() string {
	if id := d.Identity(); id != "" {
		return id
	}
	return "<invalid>"
}

func (d Descriptor) port() int {
	if d.Port != 0 {
		return d.Port
	}
	return defaultPorts[d.Driver]
}

func canonicalPath(p string) string {
	if p == ":memory:" || strings.HasPrefix(p, "file::memory:") {
		return p
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

func encodeParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = url.QueryEscape(k) + "=" + url.QueryEscape(params[k])
	}
	return strings.Join(parts, "&")
}
