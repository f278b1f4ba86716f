// Package decode turns raw upload bytes into a stream of loosely-typed records.
package decode

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/okigami/torikomi/internal/models"
)

// Format identifies a supported upload format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

var (
	// ErrUnsupportedFormat is returned when the source name does not map to a known format.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrMalformed is returned when the bytes cannot be parsed as the declared format.
	ErrMalformed = errors.New("malformed input")
)

// Reader is a single-pass, non-restartable record stream. Next returns io.EOF
// after the last record; any other error is structural and wraps ErrMalformed.
type Reader interface {
	Next() (models.RawRecord, error)
}

// Detect maps a source file name to a format by extension.
func Detect(sourceName string) (Format, error) {
	switch strings.ToLower(filepath.Ext(sourceName)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, sourceName)
	}
}

// NewReader creates a record stream over data for the declared format.
// Structural problems detectable up front (missing header, invalid syntax)
// are reported here; later problems surface from Next.
func NewReader(data []byte, format Format) (Reader, error) {
	switch format {
	case FormatCSV:
		return newCSVReader(data)
	case FormatJSON:
		return newJSONReader(data)
	case FormatXLSX:
		return newXLSXReader(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
