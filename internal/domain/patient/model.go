package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table. From the verification engine's
// standpoint this is a read-only collaborator record; the MRN is the
// identifier encoded on the wristband barcode.
type Patient struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	MRN        string     `db:"mrn" json:"mrn"`
	NameFamily string     `db:"name_family" json:"name_family"`
	NameGiven  string     `db:"name_given" json:"name_given"`
	Gender     *string    `db:"gender" json:"gender,omitempty"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	RoomNumber *string    `db:"room_number" json:"room_number,omitempty"`
	Active     bool       `db:"active" json:"active"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// DisplayName returns "Given Family" for UI rendering and audit logs.
func (p *Patient) DisplayName() string {
	switch {
	case p.NameGiven == "":
		return p.NameFamily
	case p.NameFamily == "":
		return p.NameGiven
	default:
		return p.NameGiven + " " + p.NameFamily
	}
}
