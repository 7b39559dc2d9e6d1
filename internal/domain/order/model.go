package order

import (
	"time"

	"github.com/google/uuid"
)

// Order categories. Continuous infusions carry a hard timing boundary the
// verification engine treats specially.
const (
	CategoryScheduled  = "scheduled"
	CategoryPRN        = "prn"
	CategoryContinuous = "continuous"
)

// Order statuses.
const (
	StatusActive       = "active"
	StatusCompleted    = "completed"
	StatusDiscontinued = "discontinued"
)

// MedicationOrder maps to the medication_order table. The verification
// engine reads orders but never mutates them except through
// RecordAdministered after a completed administration.
type MedicationOrder struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	PatientID        uuid.UUID  `db:"patient_id" json:"patient_id"`
	DrugName         string     `db:"drug_name" json:"drug_name"`
	Dosage           string     `db:"dosage" json:"dosage"`
	Route            string     `db:"route" json:"route"`
	Frequency        string     `db:"frequency" json:"frequency"`
	Category         string     `db:"category" json:"category"`
	Status           string     `db:"status" json:"status"`
	NextDue          *time.Time `db:"next_due" json:"next_due,omitempty"`
	LastAdministered *time.Time `db:"last_administered" json:"last_administered,omitempty"`
	OrderedBy        *string    `db:"ordered_by" json:"ordered_by,omitempty"`
	Note             *string    `db:"note" json:"note,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// IsContinuous reports whether the order is a continuous infusion.
func (o *MedicationOrder) IsContinuous() bool {
	return o.Category == CategoryContinuous
}

// IsPRN reports whether the order is as-needed, i.e. has no schedule.
func (o *MedicationOrder) IsPRN() bool {
	return o.NextDue == nil
}
