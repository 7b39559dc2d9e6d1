package bcma

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrDuplicateAdministration is returned when the storage layer's
// at-most-once guard rejects a second record for the same order and
// time window.
var ErrDuplicateAdministration = errors.New("administration already recorded for this order")

type AdministrationRepository interface {
	// Create writes the record atomically once. A unique violation on
	// the order/time-window guard surfaces as ErrDuplicateAdministration.
	Create(ctx context.Context, rec *AdministrationRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*AdministrationRecord, error)
	List(ctx context.Context, limit, offset int) ([]*AdministrationRecord, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*AdministrationRecord, int, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID, limit, offset int) ([]*AdministrationRecord, int, error)
}
