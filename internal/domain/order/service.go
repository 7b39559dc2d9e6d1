package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo OrderRepository
}

func NewService(repo OrderRepository) *Service {
	return &Service{repo: repo}
}

var validCategories = map[string]bool{
	CategoryScheduled: true, CategoryPRN: true, CategoryContinuous: true,
}

var validStatuses = map[string]bool{
	StatusActive: true, StatusCompleted: true, StatusDiscontinued: true,
}

func (s *Service) validate(o *MedicationOrder) error {
	if o.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if o.DrugName == "" {
		return fmt.Errorf("drug_name is required")
	}
	if !validCategories[o.Category] {
		return fmt.Errorf("invalid category: %s", o.Category)
	}
	if !validStatuses[o.Status] {
		return fmt.Errorf("invalid status: %s", o.Status)
	}
	return nil
}

func (s *Service) CreateOrder(ctx context.Context, o *MedicationOrder) error {
	if o.Category == "" {
		o.Category = CategoryScheduled
	}
	if o.Status == "" {
		o.Status = StatusActive
	}
	if err := s.validate(o); err != nil {
		return err
	}
	return s.repo.Create(ctx, o)
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*MedicationOrder, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdateOrder(ctx context.Context, o *MedicationOrder) error {
	if err := s.validate(o); err != nil {
		return err
	}
	return s.repo.Update(ctx, o)
}

func (s *Service) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, limit, offset int) ([]*MedicationOrder, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListOrdersByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicationOrder, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// RecordAdministered stamps the dosing history after a completed
// administration. Discontinued orders cannot be administered against.
func (s *Service) RecordAdministered(ctx context.Context, id uuid.UUID, administeredAt time.Time, nextDue *time.Time) error {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if o.Status != StatusActive {
		return fmt.Errorf("order %s is not active", id)
	}
	return s.repo.RecordAdministered(ctx, id, administeredAt, nextDue)
}
