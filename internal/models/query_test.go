package models

import "testing"

func TestRecordFilterNormalize(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"zero gets default", 0, 100},
		{"negative gets default", -5, 100},
		{"within range kept", 42, 42},
		{"above max clamped", 5000, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := RecordFilter{Limit: tt.limit}
			f.Normalize(100, 1000)
			if f.Limit != tt.want {
				t.Errorf("limit: got %d, want %d", f.Limit, tt.want)
			}
		})
	}
}

func TestJobStatusTerminal(t *testing.T) {
	if StatusPending.Terminal() || StatusProcessing.Terminal() {
		t.Error("pending/processing must not be terminal")
	}
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Error("completed/failed must be terminal")
	}
}
