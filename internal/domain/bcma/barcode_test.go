package bcma

import (
	"testing"

	"github.com/google/uuid"

	"github.com/emar/emar/internal/domain/order"
	"github.com/emar/emar/internal/domain/patient"
)

func TestMatchesPatient(t *testing.T) {
	p := &patient.Patient{MRN: "12345"}

	tests := []struct {
		token string
		want  bool
	}{
		{"12345", true},
		{"PT-12345", true},
		{"PAT-12345", true},
		{"MED-12345", false},
		{"12345X", false},
		{"PT-12346", false},
		{"PT-", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := MatchesPatient(tt.token, p); got != tt.want {
			t.Errorf("MatchesPatient(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestMatchesPatient_NilOrEmpty(t *testing.T) {
	if MatchesPatient("12345", nil) {
		t.Error("nil patient must never match")
	}
	if MatchesPatient("", &patient.Patient{MRN: ""}) {
		t.Error("empty MRN must never match")
	}
}

func TestMatchesOrder(t *testing.T) {
	o := &order.MedicationOrder{ID: uuid.New()}
	id := o.ID.String()

	tests := []struct {
		token string
		want  bool
	}{
		{id, true},
		{"MED-" + id, true},
		{"RX-" + id, true},
		{"PT-" + id, false},
		{id + "X", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := MatchesOrder(tt.token, o); got != tt.want {
			t.Errorf("MatchesOrder(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}

	if MatchesOrder(id, nil) {
		t.Error("nil order must never match")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	p := &patient.Patient{MRN: "P100"}
	if !MatchesPatient(TokenForPatient(p), p) {
		t.Error("generated patient token must match its own patient")
	}

	o := &order.MedicationOrder{ID: uuid.New()}
	if !MatchesOrder(TokenForOrder(o), o) {
		t.Error("generated order token must match its own order")
	}

	other := &patient.Patient{MRN: "P200"}
	if MatchesPatient(TokenForPatient(p), other) {
		t.Error("generated token must not match a different patient")
	}
}
