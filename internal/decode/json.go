package decode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/okigami/torikomi/internal/models"
)

// jsonReader streams a top-level array of objects. A single top-level object
// is treated as a one-record array.
type jsonReader struct {
	dec     *json.Decoder
	inArray bool
	done    bool
}

func newJSONReader(data []byte) (*jsonReader, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil, fmt.Errorf("%w: top-level value is not an object or array", ErrMalformed)
	}
	switch delim {
	case '[':
		return &jsonReader{dec: dec, inArray: true}, nil
	case '{':
		// Re-decode from the start so the object can be read whole.
		dec = json.NewDecoder(bytes.NewReader(data))
		return &jsonReader{dec: dec}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected delimiter %v", ErrMalformed, delim)
	}
}

func (j *jsonReader) Next() (models.RawRecord, error) {
	if j.done {
		return nil, io.EOF
	}
	if !j.inArray {
		var record models.RawRecord
		if err := j.dec.Decode(&record); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		j.done = true
		return record, nil
	}
	if !j.dec.More() {
		// Consume the closing bracket so trailing garbage is still an error.
		if _, err := j.dec.Token(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		j.done = true
		return nil, io.EOF
	}
	var record models.RawRecord
	if err := j.dec.Decode(&record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return record, nil
}
