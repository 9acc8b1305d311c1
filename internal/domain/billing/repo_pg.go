package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/dispensary/internal/platform/apperr"
	"github.com/clinic/dispensary/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

func translate(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err):
		return notFound
	case db.IsUniqueViolation(err):
		return ErrDuplicateCharge
	case db.IsForeignKeyViolation(err):
		_, constraint, _ := db.PgCode(err)
		return apperr.NotFound("referenced record does not exist (%s)", constraint)
	case db.IsCheckViolation(err):
		_, constraint, _ := db.PgCode(err)
		return apperr.Validation("value violates %s", constraint)
	}
	return err
}

// =========== Charge Repository ===========

type chargeRepoPG struct{ pool *pgxpool.Pool }

func NewChargeRepoPG(pool *pgxpool.Pool) ChargeRepository {
	return &chargeRepoPG{pool: pool}
}

const chargeCols = `id, name, type, value, created_at, updated_at`

func scanCharge(row pgx.Row) (*Charge, error) {
	var c Charge
	err := row.Scan(&c.ID, &c.Name, &c.Type, &c.Value, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *chargeRepoPG) Create(ctx context.Context, c *Charge) error {
	c.ID = uuid.New()
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO charge (id, name, type, value) VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		c.ID, c.Name, c.Type, c.Value).Scan(&c.CreatedAt, &c.UpdatedAt)
	return translate(err, ErrChargeNotFound)
}

func (r *chargeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Charge, error) {
	c, err := scanCharge(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+chargeCols+` FROM charge WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err, ErrChargeNotFound)
	}
	return c, nil
}

func (r *chargeRepoPG) GetByType(ctx context.Context, t ChargeType) (*Charge, error) {
	c, err := scanCharge(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+chargeCols+` FROM charge WHERE type = $1 ORDER BY created_at LIMIT 1`, t))
	if err != nil {
		return nil, translate(err, ErrChargeNotFound)
	}
	return c, nil
}

func (r *chargeRepoPG) List(ctx context.Context, t ChargeType) ([]*Charge, error) {
	query := `SELECT ` + chargeCols + ` FROM charge`
	var args []interface{}
	if t != "" {
		query += ` WHERE type = $1`
		args = append(args, t)
	}
	query += ` ORDER BY type, name`

	rows, err := connFor(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Charge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *chargeRepoPG) Update(ctx context.Context, c *Charge) error {
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		UPDATE charge SET name = $2, value = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING type, created_at, updated_at`,
		c.ID, c.Name, c.Value).Scan(&c.Type, &c.CreatedAt, &c.UpdatedAt)
	return translate(err, ErrChargeNotFound)
}

// =========== Bill Repository ===========

type billRepoPG struct{ pool *pgxpool.Pool }

func NewBillRepoPG(pool *pgxpool.Pool) BillRepository {
	return &billRepoPG{pool: pool}
}

// Upsert must run inside a transaction so the bill and its lines are
// replaced together.
func (r *billRepoPG) Upsert(ctx context.Context, b *Bill) error {
	conn := connFor(ctx, r.pool)
	err := conn.QueryRow(ctx, `
		INSERT INTO bill (id, prescription_id, dispensary_charge, doctor_charge, medicines_charge, total)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (prescription_id) DO UPDATE
		SET dispensary_charge = EXCLUDED.dispensary_charge,
			doctor_charge = EXCLUDED.doctor_charge,
			medicines_charge = EXCLUDED.medicines_charge,
			total = EXCLUDED.total,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		uuid.New(), b.PrescriptionID, b.DispensaryCharge, b.DoctorCharge, b.MedicinesCharge, b.Total(),
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return translate(err, ErrPrescriptionNotFound)
	}

	if _, err := conn.Exec(ctx, `DELETE FROM bill_entry WHERE bill_id = $1`, b.ID); err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, `DELETE FROM bill_component WHERE bill_id = $1`, b.ID); err != nil {
		return err
	}
	for _, e := range b.Entries {
		e.ID = uuid.New()
		_, err := conn.Exec(ctx, `
			INSERT INTO bill_entry (id, bill_id, issue_id, batch_id, drug_name, brand_name, quantity, unit_price, line_total, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			e.ID, b.ID, e.IssueID, e.BatchID, e.DrugName, e.BrandName, e.Quantity, e.UnitPrice, e.LineTotal, e.Position)
		if err != nil {
			return translate(err, ErrIssueNotFound)
		}
	}
	for _, c := range b.Components {
		_, err := conn.Exec(ctx, `
			INSERT INTO bill_component (bill_id, charge_id, name, type, value) VALUES ($1, $2, $3, $4, $5)`,
			b.ID, c.ChargeID, c.Name, c.Type, c.Value)
		if err != nil {
			return translate(err, ErrChargeNotFound)
		}
	}
	return nil
}

func (r *billRepoPG) GetByPrescription(ctx context.Context, prescriptionID uuid.UUID) (*Bill, error) {
	conn := connFor(ctx, r.pool)
	var b Bill
	err := conn.QueryRow(ctx, `
		SELECT id, prescription_id, dispensary_charge, doctor_charge, medicines_charge, created_at, updated_at
		FROM bill WHERE prescription_id = $1`, prescriptionID,
	).Scan(&b.ID, &b.PrescriptionID, &b.DispensaryCharge, &b.DoctorCharge, &b.MedicinesCharge, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, translate(err, ErrBillNotFound)
	}

	rows, err := conn.Query(ctx, `
		SELECT id, issue_id, batch_id, drug_name, brand_name, quantity, unit_price, line_total, position
		FROM bill_entry WHERE bill_id = $1 ORDER BY position`, b.ID)
	if err != nil {
		return nil, err
	}
	b.Entries, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Entry, error) {
		var e Entry
		err := row.Scan(&e.ID, &e.IssueID, &e.BatchID, &e.DrugName, &e.BrandName, &e.Quantity, &e.UnitPrice, &e.LineTotal, &e.Position)
		return &e, err
	})
	if err != nil {
		return nil, err
	}

	rows, err = conn.Query(ctx, `
		SELECT charge_id, name, type, value FROM bill_component WHERE bill_id = $1 ORDER BY type, name`, b.ID)
	if err != nil {
		return nil, err
	}
	b.Components, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Component, error) {
		var c Component
		err := row.Scan(&c.ChargeID, &c.Name, &c.Type, &c.Value)
		return &c, err
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}
