package embedding

import (
	"fmt"
	"sort"
	"strings"

	"github.com/okigami/torikomi/internal/models"
)

const fieldDelimiter = " | "

// RenderText flattens a canonical payload into the text that gets embedded:
// "key: value" for every field with a non-empty value, joined by a fixed
// delimiter. Keys are sorted so the same payload always renders the same text.
func RenderText(payload models.RawRecord) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := payload[k]
		if v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprintf("%v", v))
		if s == "" {
			continue
		}
		parts = append(parts, k+": "+s)
	}
	return strings.Join(parts, fieldDelimiter)
}
