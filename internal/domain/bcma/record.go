package bcma

import (
	"time"

	"github.com/google/uuid"
)

// AdministrationRecord is the terminal artifact of a successful
// verification flow. Created exactly once per completed session and
// never mutated afterwards; it is append-only audit history.
type AdministrationRecord struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	PatientID       uuid.UUID        `db:"patient_id" json:"patient_id"`
	OrderID         uuid.UUID        `db:"order_id" json:"order_id"`
	SessionID       uuid.UUID        `db:"session_id" json:"session_id"`
	UserID          string           `db:"user_id" json:"user_id"`
	PatientToken    string           `db:"patient_token" json:"patient_token"`
	MedicationToken string           `db:"medication_token" json:"medication_token"`
	Rights          FiveRightsResult `db:"rights" json:"rights"`
	Overrides       []Override       `db:"overrides" json:"overrides,omitempty"`
	Notes           *string          `db:"notes" json:"notes,omitempty"`
	AdministeredAt  time.Time        `db:"administered_at" json:"administered_at"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
}

// OverriddenRights lists the rights that were forced true.
func (r *AdministrationRecord) OverriddenRights() []RightName {
	return append([]RightName(nil), r.Rights.Overridden...)
}

// buildRecordLocked assembles the immutable record from the session's
// state at the moment of administration. Caller holds the session lock.
func (s *Session) buildRecordLocked(notes string) *AdministrationRecord {
	now := s.clock()
	rec := &AdministrationRecord{
		ID:              uuid.New(),
		PatientID:       s.Patient.ID,
		OrderID:         s.Order.ID,
		SessionID:       s.ID,
		UserID:          s.UserID,
		PatientToken:    s.patientToken.Value,
		MedicationToken: s.medToken.Value,
		Rights:          s.result,
		Overrides:       append([]Override(nil), s.overrides...),
		AdministeredAt:  now,
		CreatedAt:       now,
	}
	if notes != "" {
		rec.Notes = &notes
	}
	return rec
}
