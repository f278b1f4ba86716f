package validate

import (
	"errors"
	"testing"

	"github.com/okigami/torikomi/internal/models"
)

func TestValidateAccepts(t *testing.T) {
	canonical, err := Validate(models.RawRecord{
		"name":  "Alice",
		"email": "alice@example.com",
		"age":   "30",
		"city":  "Osaka",
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if canonical["name"] != "Alice" {
		t.Errorf("name: got %v", canonical["name"])
	}
	if canonical["age"] != 30 {
		t.Errorf("age: got %v, want 30", canonical["age"])
	}
	// Extra fields pass through unchanged.
	if canonical["city"] != "Osaka" {
		t.Errorf("city: got %v", canonical["city"])
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		record  models.RawRecord
		wantErr bool
	}{
		{"valid", models.RawRecord{"email": "a@x.com"}, false},
		{"no at sign", models.RawRecord{"email": "bad"}, true},
		{"missing", models.RawRecord{"name": "X"}, true},
		{"empty", models.RawRecord{"email": ""}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.record)
			if tt.wantErr && !errors.Is(err, ErrInvalidEmail) {
				t.Errorf("got %v, want ErrInvalidEmail", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateAgeCoercion(t *testing.T) {
	tests := []struct {
		name string
		age  any
		want int
	}{
		{"numeric string", "42", 42},
		{"padded string", " 42 ", 42},
		{"json number", float64(30), 30},
		{"non-numeric falls back to zero", "forty", 0},
		{"missing falls back to zero", nil, 0},
		{"bool falls back to zero", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			canonical, err := Validate(models.RawRecord{"email": "a@x.com", "age": tt.age})
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if canonical["age"] != tt.want {
				t.Errorf("age: got %v, want %d", canonical["age"], tt.want)
			}
		})
	}
}

func TestValidateNameDefaultsEmpty(t *testing.T) {
	canonical, err := Validate(models.RawRecord{"email": "a@x.com"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if canonical["name"] != "" {
		t.Errorf("name: got %v, want empty string", canonical["name"])
	}
}

func TestValidatePure(t *testing.T) {
	raw := models.RawRecord{"email": "a@x.com", "age": "oops"}
	if _, err := Validate(raw); err != nil {
		t.Fatalf("validate: %v", err)
	}
	// Input is not mutated.
	if raw["age"] != "oops" {
		t.Errorf("input mutated: age = %v", raw["age"])
	}
}
