// Package export structures assembled proposal text into typed blocks and
// renders the result as HTML, PDF or DOCX.
package export

import (
	"errors"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat maps a query value to a Format; empty means HTML.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF, FormatDOCX:
		return Format(raw), nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Extension is the file suffix for the format.
func (f Format) Extension() string {
	return "." + string(f)
}

// Request contains parameters for an export operation
type Request struct {
	ProposalID string
	Format     Format
}

// Result contains the export output. ETag is the fingerprint of the
// assembled text the file was rendered from.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
	ETag     string
}

var (
	// ErrContentUnavailable indicates the proposal has no authoritative text to export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrUnsupportedFormat indicates an unknown export format was requested.
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
