package order

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repository --

type mockOrderRepo struct {
	orders map[uuid.UUID]*MedicationOrder
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[uuid.UUID]*MedicationOrder)}
}

func (m *mockOrderRepo) Create(_ context.Context, o *MedicationOrder) error {
	o.ID = uuid.New()
	o.CreatedAt = time.Now()
	o.UpdatedAt = time.Now()
	m.orders[o.ID] = o
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*MedicationOrder, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return o, nil
}

func (m *mockOrderRepo) Update(_ context.Context, o *MedicationOrder) error {
	if _, ok := m.orders[o.ID]; !ok {
		return fmt.Errorf("not found")
	}
	m.orders[o.ID] = o
	return nil
}

func (m *mockOrderRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.orders, id)
	return nil
}

func (m *mockOrderRepo) List(_ context.Context, limit, offset int) ([]*MedicationOrder, int, error) {
	var result []*MedicationOrder
	for _, o := range m.orders {
		result = append(result, o)
	}
	return result, len(result), nil
}

func (m *mockOrderRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicationOrder, int, error) {
	var result []*MedicationOrder
	for _, o := range m.orders {
		if o.PatientID == patientID {
			result = append(result, o)
		}
	}
	return result, len(result), nil
}

func (m *mockOrderRepo) RecordAdministered(_ context.Context, id uuid.UUID, administeredAt time.Time, nextDue *time.Time) error {
	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	at := administeredAt
	o.LastAdministered = &at
	o.NextDue = nextDue
	return nil
}

// -- Tests --

func TestCreateOrder_Defaults(t *testing.T) {
	svc := NewService(newMockOrderRepo())

	o := &MedicationOrder{
		PatientID: uuid.New(),
		DrugName:  "Metoprolol",
		Dosage:    "25 mg",
		Route:     "PO",
		Frequency: "Twice daily",
	}
	if err := svc.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if o.Category != CategoryScheduled {
		t.Errorf("expected default category scheduled, got %s", o.Category)
	}
	if o.Status != StatusActive {
		t.Errorf("expected default status active, got %s", o.Status)
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	svc := NewService(newMockOrderRepo())

	tests := []struct {
		name  string
		order MedicationOrder
	}{
		{"missing patient", MedicationOrder{DrugName: "Aspirin"}},
		{"missing drug name", MedicationOrder{PatientID: uuid.New()}},
		{"bad category", MedicationOrder{PatientID: uuid.New(), DrugName: "Aspirin", Category: "bolus"}},
		{"bad status", MedicationOrder{PatientID: uuid.New(), DrugName: "Aspirin", Status: "paused"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.order
			if err := svc.CreateOrder(context.Background(), &o); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestRecordAdministered(t *testing.T) {
	repo := newMockOrderRepo()
	svc := NewService(repo)

	o := &MedicationOrder{
		PatientID: uuid.New(),
		DrugName:  "Vancomycin",
		Frequency: "Every 8 hours",
	}
	if err := svc.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	now := time.Now()
	next := now.Add(8 * time.Hour)
	if err := svc.RecordAdministered(context.Background(), o.ID, now, &next); err != nil {
		t.Fatalf("RecordAdministered failed: %v", err)
	}

	got, _ := repo.GetByID(context.Background(), o.ID)
	if got.LastAdministered == nil || !got.LastAdministered.Equal(now) {
		t.Error("expected last_administered to be stamped")
	}
	if got.NextDue == nil || !got.NextDue.Equal(next) {
		t.Error("expected next_due to be advanced")
	}
}

func TestRecordAdministered_InactiveOrder(t *testing.T) {
	repo := newMockOrderRepo()
	svc := NewService(repo)

	o := &MedicationOrder{
		PatientID: uuid.New(),
		DrugName:  "Warfarin",
		Status:    StatusDiscontinued,
	}
	if err := svc.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	if err := svc.RecordAdministered(context.Background(), o.ID, time.Now(), nil); err == nil {
		t.Error("expected error for discontinued order")
	}
}

func TestMedicationOrder_CategoryHelpers(t *testing.T) {
	cont := &MedicationOrder{Category: CategoryContinuous}
	if !cont.IsContinuous() {
		t.Error("expected IsContinuous true")
	}

	due := time.Now()
	scheduled := &MedicationOrder{Category: CategoryScheduled, NextDue: &due}
	if scheduled.IsPRN() {
		t.Error("order with next_due must not be PRN")
	}

	prn := &MedicationOrder{Category: CategoryPRN}
	if !prn.IsPRN() {
		t.Error("order without next_due is PRN")
	}
}
