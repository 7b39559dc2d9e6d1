package bcma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

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

type administrationRepoPG struct{ pool *pgxpool.Pool }

func NewAdministrationRepoPG(pool *pgxpool.Pool) AdministrationRepository {
	return &administrationRepoPG{pool: pool}
}

func (r *administrationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const adminCols = `id, patient_id, order_id, session_id, user_id, patient_token,
	medication_token, rights, overrides, notes, administered_at, created_at`

func (r *administrationRepoPG) scanRow(row pgx.Row) (*AdministrationRecord, error) {
	var rec AdministrationRecord
	var rightsJSON, overridesJSON []byte
	err := row.Scan(&rec.ID, &rec.PatientID, &rec.OrderID, &rec.SessionID, &rec.UserID,
		&rec.PatientToken, &rec.MedicationToken, &rightsJSON, &overridesJSON,
		&rec.Notes, &rec.AdministeredAt, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rightsJSON, &rec.Rights); err != nil {
		return nil, fmt.Errorf("decode rights snapshot: %w", err)
	}
	if len(overridesJSON) > 0 {
		if err := json.Unmarshal(overridesJSON, &rec.Overrides); err != nil {
			return nil, fmt.Errorf("decode override ledger: %w", err)
		}
	}
	return &rec, nil
}

func (r *administrationRepoPG) Create(ctx context.Context, rec *AdministrationRecord) error {
	rightsJSON, err := json.Marshal(rec.Rights)
	if err != nil {
		return fmt.Errorf("encode rights snapshot: %w", err)
	}
	overridesJSON, err := json.Marshal(rec.Overrides)
	if err != nil {
		return fmt.Errorf("encode override ledger: %w", err)
	}

	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO administration_record (id, patient_id, order_id, session_id, user_id,
			patient_token, medication_token, rights, overrides, notes, administered_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		rec.ID, rec.PatientID, rec.OrderID, rec.SessionID, rec.UserID,
		rec.PatientToken, rec.MedicationToken, rightsJSON, overridesJSON,
		rec.Notes, rec.AdministeredAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateAdministration
		}
		return err
	}
	return nil
}

func (r *administrationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AdministrationRecord, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+adminCols+` FROM administration_record WHERE id = $1`, id))
}

func (r *administrationRepoPG) List(ctx context.Context, limit, offset int) ([]*AdministrationRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM administration_record`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+adminCols+` FROM administration_record ORDER BY administered_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.scanRows(rows, total)
}

func (r *administrationRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*AdministrationRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM administration_record WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+adminCols+` FROM administration_record WHERE patient_id = $1
		 ORDER BY administered_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.scanRows(rows, total)
}

func (r *administrationRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID, limit, offset int) ([]*AdministrationRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM administration_record WHERE order_id = $1`, orderID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+adminCols+` FROM administration_record WHERE order_id = $1
		 ORDER BY administered_at DESC LIMIT $2 OFFSET $3`,
		orderID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.scanRows(rows, total)
}

func (r *administrationRepoPG) scanRows(rows pgx.Rows, total int) ([]*AdministrationRecord, int, error) {
	var items []*AdministrationRecord
	for rows.Next() {
		rec, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, nil
}
