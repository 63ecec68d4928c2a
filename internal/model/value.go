package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// SQLType is the storage type of a normal attribute field.
type SQLType int

const (
	// TypeUnknown is reported for meta fields and Null values.
	TypeUnknown SQLType = iota
	TypeText
	TypeReal
	TypeInteger
)

// String returns the lower-case type name used on the command line.
func (t SQLType) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeReal:
		return "real"
	case TypeInteger:
		return "integer"
	default:
		return "unknown"
	}
}

// ParseSQLType maps a type name to a SQLType.
// Accepts the canonical names as well as the declared column types the
// supported engines report back during introspection.
func ParseSQLType(s string) (SQLType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}

	switch name {
	case "TEXT", "VARCHAR", "NVARCHAR", "CHAR", "NCHAR", "CHARACTER VARYING", "CHARACTER", "NTEXT", "CLOB":
		return TypeText, nil
	case "REAL", "DOUBLE", "DOUBLE PRECISION", "FLOAT", "FLOAT8", "FLOAT4", "NUMERIC", "DECIMAL":
		return TypeReal, nil
	case "INTEGER", "INT", "INT4", "INT8", "BIGINT", "SMALLINT", "TINYINT":
		return TypeInteger, nil
	default:
		return TypeUnknown, fmt.Errorf("unknown sql type %q", s)
	}
}

// Value is a sealed interface representing an attribute value.
// Only Null, Text, Real and Integer implement it.
type Value interface {
	// Type returns the storage type, TypeUnknown for Null.
	Type() SQLType
	// SQL returns the value to bind as a statement argument.
	SQL() any
	// String returns the interchange form of the value.
	String() string

	value() // Sealed
}

// Null represents a missing or SQL NULL value.
type Null struct{}

func (Null) value() {}
func (Null) Type() SQLType { return TypeUnknown }
func (Null) SQL() any { return nil }
func (Null) String() string { return "" }

// Text represents a TEXT value.
type Text string

func (Text) value() {}
func (Text) Type() SQLType { return TypeText }
func (t Text) SQL() any { return string(t) }
func (t Text) String() string { return string(t) }

// Real represents a REAL value.
// NaN is a legal value; engines that cannot store NaN (SQLite) read it back as Null.
type Real float64

func (Real) value() {}
func (Real) Type() SQLType { return TypeReal }
func (r Real) SQL() any { return float64(r) }

func (r Real) String() string {
	f := float64(r)
	if math.IsNaN(f) {
		return "NaN"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Integer represents an INTEGER value.
type Integer int64

func (Integer) value() {}
func (Integer) Type() SQLType { return TypeInteger }
func (i Integer) SQL() any { return int64(i) }
func (i Integer) String() string { return strconv.FormatInt(int64(i), 10) }

// ValueOf converts a value returned by a database/sql driver into a Value.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null{}
	case Value:
		return x
	case int64:
		return Integer(x)
	case int32:
		return Integer(x)
	case int:
		return Integer(x)
	case bool:
		if x {
			return Integer(1)
		}
		return Integer(0)
	case float64:
		return Real(x)
	case float32:
		return Real(x)
	case string:
		return Text(x)
	case []byte:
		return Text(string(x))
	default:
		return Text(fmt.Sprint(x))
	}
}

// ParseValue parses s as a value of type t.
// An empty string parses to the zero value of the type, matching how
// missing attributes are treated on import.
func ParseValue(t SQLType, s string) (Value, error) {
	s = strings.TrimSpace(s)

	switch t {
	case TypeText:
		return Text(s), nil
	case TypeReal:
		if s == "" {
			return Real(0), nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("parse real %q: %w", s, err)
		}
		return Real(f), nil
	case TypeInteger:
		if s == "" {
			return Integer(0), nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse integer %q: %w", s, err)
		}
		return Integer(n), nil
	default:
		return nil, fmt.Errorf("cannot parse value of type %s", t)
	}
}

// AsFloat returns the numeric value of v, NaN for Null and non-numeric text.
func AsFloat(v Value) float64 {
	switch x := v.(type) {
	case Real:
		return float64(x)
	case Integer:
		return float64(x)
	case Text:
		f, err := strconv.ParseFloat(string(x), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}
