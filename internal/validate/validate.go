// Package validate normalizes raw records into canonical form.
package validate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/okigami/torikomi/internal/models"
)

// ErrInvalidEmail is returned when a record's email field is missing or has no "@".
var ErrInvalidEmail = errors.New("invalid email format")

// Validate checks and normalizes one raw record. On success it returns the
// canonical payload: name (string, "" when absent), email (string, must
// contain "@"), age (int, lenient coercion with fallback to 0), plus every
// other input field copied through unchanged.
//
// The lenient age coercion and empty-string defaults are intentional and
// load-bearing: a row with a bad age is still imported, only a bad email
// rejects it.
func Validate(raw models.RawRecord) (models.RawRecord, error) {
	canonical := models.RawRecord{
		"name":  asString(raw["name"]),
		"email": asString(raw["email"]),
		"age":   coerceAge(raw["age"]),
	}

	email := canonical["email"].(string)
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}

	for key, value := range raw {
		if _, ok := canonical[key]; !ok {
			canonical[key] = value
		}
	}
	return canonical, nil
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// coerceAge converts the value to an int, falling back to 0 when it cannot
// be parsed. JSON numbers arrive as float64, delimited text as string.
func coerceAge(v any) int {
	switch n := v.(type) {
	case nil:
		return 0
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
