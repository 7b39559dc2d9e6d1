package order

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emar/emar/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository {
	return &orderRepoPG{pool: pool}
}

func (r *orderRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const orderCols = `id, patient_id, drug_name, dosage, route, frequency, category, status,
	next_due, last_administered, ordered_by, note, created_at, updated_at`

func (r *orderRepoPG) scanRow(row pgx.Row) (*MedicationOrder, error) {
	var o MedicationOrder
	err := row.Scan(&o.ID, &o.PatientID, &o.DrugName, &o.Dosage, &o.Route, &o.Frequency,
		&o.Category, &o.Status, &o.NextDue, &o.LastAdministered, &o.OrderedBy, &o.Note,
		&o.CreatedAt, &o.UpdatedAt)
	return &o, err
}

func (r *orderRepoPG) Create(ctx context.Context, o *MedicationOrder) error {
	o.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medication_order (id, patient_id, drug_name, dosage, route, frequency,
			category, status, next_due, last_administered, ordered_by, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		o.ID, o.PatientID, o.DrugName, o.Dosage, o.Route, o.Frequency,
		o.Category, o.Status, o.NextDue, o.LastAdministered, o.OrderedBy, o.Note)
	return err
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicationOrder, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+orderCols+` FROM medication_order WHERE id = $1`, id))
}

func (r *orderRepoPG) Update(ctx context.Context, o *MedicationOrder) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication_order SET drug_name=$2, dosage=$3, route=$4, frequency=$5,
			category=$6, status=$7, next_due=$8, ordered_by=$9, note=$10, updated_at=NOW()
		WHERE id = $1`,
		o.ID, o.DrugName, o.Dosage, o.Route, o.Frequency,
		o.Category, o.Status, o.NextDue, o.OrderedBy, o.Note)
	return err
}

func (r *orderRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM medication_order WHERE id = $1`, id)
	return err
}

func (r *orderRepoPG) List(ctx context.Context, limit, offset int) ([]*MedicationOrder, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medication_order`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+orderCols+` FROM medication_order ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.scanRows(rows, total)
}

func (r *orderRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicationOrder, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM medication_order WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+orderCols+` FROM medication_order WHERE patient_id = $1
		 ORDER BY next_due NULLS LAST, created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.scanRows(rows, total)
}

func (r *orderRepoPG) RecordAdministered(ctx context.Context, id uuid.UUID, administeredAt time.Time, nextDue *time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication_order SET last_administered=$2, next_due=$3, updated_at=NOW()
		WHERE id = $1`,
		id, administeredAt, nextDue)
	return err
}

func (r *orderRepoPG) scanRows(rows pgx.Rows, total int) ([]*MedicationOrder, int, error) {
	var items []*MedicationOrder
	for rows.Next() {
		o, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, nil
}
