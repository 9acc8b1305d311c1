package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/dispensary/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type queueRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &queueRepoPG{pool: pool}
}

func (r *queueRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const entryCols = `q.id, q.patient_id, p.name, q.queue_number, q.queue_date, q.status,
	q.created_at, q.updated_at`

const entryFrom = `queue_entry q JOIN patient p ON p.id = q.patient_id`

func (r *queueRepoPG) scan(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.PatientID, &e.PatientName, &e.Number, &e.QueueDate, &e.Status,
		&e.CreatedAt, &e.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *queueRepoPG) Create(ctx context.Context, e *Entry) error {
	e.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_entry (id, patient_id, queue_number, queue_date, status)
		SELECT $1, $2, COALESCE(MAX(queue_number), 0) + 1, $3, $4
		FROM queue_entry WHERE queue_date = $3
		RETURNING queue_number, created_at, updated_at`,
		e.ID, e.PatientID, e.QueueDate, e.Status,
	).Scan(&e.Number, &e.CreatedAt, &e.UpdatedAt)
}

func (r *queueRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM `+entryFrom+` WHERE q.id = $1`, id))
}

func (r *queueRepoPG) ListByDate(ctx context.Context, day time.Time) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+entryCols+` FROM `+entryFrom+`
		WHERE q.queue_date = $1
		ORDER BY q.queue_number`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *queueRepoPG) OpenForPatient(ctx context.Context, patientID uuid.UUID, day time.Time) (*Entry, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `
		SELECT `+entryCols+` FROM `+entryFrom+`
		WHERE q.patient_id = $1 AND q.queue_date = $2 AND q.status <> 'COMPLETED'
		ORDER BY q.queue_number DESC LIMIT 1`, patientID, day))
}

func (r *queueRepoPG) Advance(ctx context.Context, patientID uuid.UUID, from, to Status) (*Entry, error) {
	var e Entry
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE queue_entry SET status = $3, updated_at = NOW()
		WHERE id = (
			SELECT id FROM queue_entry
			WHERE patient_id = $1 AND status = $2
			ORDER BY queue_date DESC, queue_number DESC
			LIMIT 1
			FOR UPDATE
		)
		RETURNING id, patient_id, queue_number, queue_date, status, created_at, updated_at`,
		patientID, from, to,
	).Scan(&e.ID, &e.PatientID, &e.Number, &e.QueueDate, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
