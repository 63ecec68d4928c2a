// Package xmlio reads and writes the matches interchange document:
//
//	<!DOCTYPE matches-cache>
//	<matches version="1.0">
//	 <match src="..." tgt="..." id="..." xf="..." status="..." .../>
//	</matches>
//
// Every known field of the store is written as one attribute of each match
// element.
package xmlio

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

const (
	// DocType is the document type name of a matches document.
	DocType = "matches-cache"
	// Version is the format version written by Encode.
	Version = "1.0"
	// OldVersion is the earlier format version, still accepted on input.
	OldVersion = "0.0"
)

// ErrUnsupportedVersion is returned for documents of an unknown version.
var ErrUnsupportedVersion = errors.New("unsupported matches document version")

// Document is a decoded matches document.
type Document struct {
	XMLName xml.Name `xml:"matches"`
	Version string   `xml:"version,attr"`
	Matches []Match  `xml:"match"`
}

// Match is one match element. Attrs holds every attribute other than the
// core ones, in document order.
type Match struct {
	Source string     `xml:"src,attr"`
	Target string     `xml:"tgt,attr"`
	ID     string     `xml:"id,attr"`
	XF     string     `xml:"xf,attr"`
	Attrs  []xml.Attr `xml:",any,attr"`
}

// Attr returns the value of a non-core attribute. Names are case-sensitive.
func (m Match) Attr(name string) (string, bool) {
	for _, a := range m.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// CheckVersion accepts the current and the previous format version. A
// document without a version predates versioning and is read as OldVersion.
func (d *Document) CheckVersion() error {
	switch d.Version {
	case Version, OldVersion, "":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, d.Version)
	}
}

// Encode writes doc with its XML declaration and document type.
func Encode(w io.Writer, doc *Document) error {
	if _, err := io.WriteString(w, xml.Header+"<!DOCTYPE "+DocType+">\n"); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", " ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// Decode reads a matches document and checks its version.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := doc.CheckVersion(); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &doc, nil
}
