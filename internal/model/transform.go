package model

import (
	"fmt"
	"strconv"
	"strings"
)

// TransformPrecision is the number of digits after the decimal point used when
// a transformation is written as text (21 significant digits).
const TransformPrecision = 20

// Transform is a rigid 4x4 transformation stored row-major.
type Transform [16]float64

// Identity returns the identity transformation.
func Identity() Transform {
	return Transform{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// At returns the element at row r, column c.
func (t Transform) At(r, c int) float64 {
	return t[4*r+c]
}

// String implements fmt.Stringer using the storage text format.
func (t Transform) String() string {
	return FormatTransform(t)
}

// FormatTransform renders t as 16 space-separated values in exponential
// notation with fixed precision. This is both the storage and the XML format.
func FormatTransform(t Transform) string {
	var b strings.Builder
	for i, v := range t {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatFloat(v, 'e', TransformPrecision, 64))
	}
	return b.String()
}

// ParseTransform parses 16 whitespace-separated values.
func ParseTransform(s string) (Transform, error) {
	var t Transform

	parts := strings.Fields(s)
	if len(parts) != len(t) {
		return t, fmt.Errorf("parse transform: expected %d values, got %d", len(t), len(parts))
	}

	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return t, fmt.Errorf("parse transform: value %d: %w", i, err)
		}
		t[i] = v
	}

	return t, nil
}
