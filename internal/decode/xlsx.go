package decode

import (
	"bytes"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/okigami/torikomi/internal/models"
)

// xlsxReader streams the first sheet of a workbook row by row. The first row
// is the header; subsequent rows become records keyed by it.
type xlsxReader struct {
	file   *excelize.File
	rows   *excelize.Rows
	header []string
}

func newXLSXReader(data []byte) (*xlsxReader, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrMalformed)
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !rows.Next() {
		_ = rows.Close()
		_ = f.Close()
		return nil, fmt.Errorf("%w: empty workbook sheet", ErrMalformed)
	}
	header, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		_ = f.Close()
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(header) == 0 {
		_ = rows.Close()
		_ = f.Close()
		return nil, fmt.Errorf("%w: workbook header row is empty", ErrMalformed)
	}
	return &xlsxReader{file: f, rows: rows, header: header}, nil
}

func (x *xlsxReader) Next() (models.RawRecord, error) {
	if !x.rows.Next() {
		err := x.rows.Error()
		_ = x.rows.Close()
		_ = x.file.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return nil, io.EOF
	}
	row, err := x.rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	record := make(models.RawRecord, len(x.header))
	for i, name := range x.header {
		// Trailing empty cells are trimmed by excelize; pad them back.
		if i < len(row) {
			record[name] = row[i]
		} else {
			record[name] = ""
		}
	}
	return record, nil
}
