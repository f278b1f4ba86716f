package models

// RecordFilter selects records by owning job and outcome. Limit is always
// enforced; listing without a cap is not supported.
type RecordFilter struct {
	ImportID string `json:"import_id,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Query    string `json:"query,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Normalize clamps Limit into (0, maxLimit], applying defaultLimit when unset.
func (f *RecordFilter) Normalize(defaultLimit, maxLimit int) {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if maxLimit > 0 && f.Limit > maxLimit {
		f.Limit = maxLimit
	}
}
