package order

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type OrderRepository interface {
	Create(ctx context.Context, o *MedicationOrder) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicationOrder, error)
	Update(ctx context.Context, o *MedicationOrder) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*MedicationOrder, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicationOrder, int, error)
	// RecordAdministered stamps last_administered and the next due time
	// after a completed administration.
	RecordAdministered(ctx context.Context, id uuid.UUID, administeredAt time.Time, nextDue *time.Time) error
}
