// Package model provides the value types shared by every matchdb package.
//
// This package contains type definitions and their text formats only. All
// other internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Attribute values are a sealed variant (Null, Text, Real, Integer)
//   - Field names are case-insensitive and always stored folded
//   - Transformations round-trip through text with 21 significant digits
package model
