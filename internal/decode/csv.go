package decode

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/okigami/torikomi/internal/models"
)

// csvReader streams delimited text with a header row. Each data row becomes
// a record keyed by the header's column names.
type csvReader struct {
	r      *csv.Reader
	header []string
}

func newCSVReader(data []byte) (*csvReader, error) {
	r := csv.NewReader(bytes.NewReader(data))
	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty delimited input", ErrMalformed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &csvReader{r: r, header: header}, nil
}

func (c *csvReader) Next() (models.RawRecord, error) {
	row, err := c.r.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	record := make(models.RawRecord, len(c.header))
	for i, name := range c.header {
		if i < len(row) {
			record[name] = row[i]
		} else {
			record[name] = ""
		}
	}
	return record, nil
}
