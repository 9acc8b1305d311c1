package prescription

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/dispensary/internal/domain/dosing"
	"github.com/clinic/dispensary/internal/platform/apperr"
	"github.com/clinic/dispensary/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func translate(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err):
		return notFound
	case db.IsUniqueViolation(err):
		return ErrDuplicateDrug
	case db.IsForeignKeyViolation(err):
		_, constraint, _ := db.PgCode(err)
		return apperr.NotFound("referenced record does not exist (%s)", constraint)
	case db.IsCheckViolation(err):
		_, constraint, _ := db.PgCode(err)
		return apperr.Validation("value violates %s", constraint)
	}
	return err
}

const prescriptionCols = `id, patient_id, status, extra_doctor_charge,
	weight, height, temperature, pulse_rate, blood_pressure, complaint, diagnosis, notes,
	COALESCE(created_by, ''), created_at, completed_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	v := &p.Vitals
	err := row.Scan(&p.ID, &p.PatientID, &p.Status, &p.ExtraDoctorCharge,
		&v.Weight, &v.Height, &v.Temperature, &v.PulseRate,
		&v.BloodPressure, &v.Complaint, &v.Diagnosis, &v.Notes,
		&p.CreatedBy, &p.CreatedAt, &p.CompletedAt)
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	if p.Status == "" {
		p.Status = StatusPending
	}
	v := p.Vitals
	var createdBy *string
	if p.CreatedBy != "" {
		createdBy = &p.CreatedBy
	}
	conn := r.conn(ctx)
	err := conn.QueryRow(ctx, `
		INSERT INTO prescription (id, patient_id, status, extra_doctor_charge,
			weight, height, temperature, pulse_rate, blood_pressure, complaint, diagnosis, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at`,
		p.ID, p.PatientID, p.Status, p.ExtraDoctorCharge,
		v.Weight, v.Height, v.Temperature, v.PulseRate, v.BloodPressure, v.Complaint, v.Diagnosis, v.Notes,
		createdBy,
	).Scan(&p.CreatedAt)
	if err != nil {
		return translate(err, apperr.NotFound("patient %s not found", p.PatientID))
	}

	for _, is := range p.Issues {
		is.ID = uuid.New()
		is.PrescriptionID = p.ID
		strategy, err := json.Marshal(is.Strategy)
		if err != nil {
			return fmt.Errorf("encode strategy: %w", err)
		}
		_, err = conn.Exec(ctx, `
			INSERT INTO prescription_issue (id, prescription_id, drug_id, brand_id, batch_id, strategy, details, quantity, position)
			VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)`,
			is.ID, is.PrescriptionID, is.DrugID, is.BrandID, is.BatchID, strategy, is.Details, is.Quantity, is.Position)
		if err != nil {
			return fmt.Errorf("insert issue %d: %w", is.Position, translate(err, ErrIssueNotFound))
		}
	}
	for _, m := range p.OffRecordMeds {
		m.ID = uuid.New()
		m.PrescriptionID = p.ID
		_, err := conn.Exec(ctx, `
			INSERT INTO off_record_medication (id, prescription_id, name, description, position)
			VALUES ($1, $2, $3, $4, $5)`,
			m.ID, m.PrescriptionID, m.Name, m.Description, m.Position)
		if err != nil {
			return fmt.Errorf("insert off-record medication %d: %w", m.Position, translate(err, ErrPrescriptionNotFound))
		}
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return r.load(ctx, `SELECT `+prescriptionCols+` FROM prescription WHERE id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return r.load(ctx, `SELECT `+prescriptionCols+` FROM prescription WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) load(ctx context.Context, query string, id uuid.UUID) (*Prescription, error) {
	p, err := scanPrescription(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return nil, translate(err, ErrPrescriptionNotFound)
	}
	if p.Issues, err = r.issues(ctx, id); err != nil {
		return nil, err
	}
	if p.OffRecordMeds, err = r.offRecord(ctx, id); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *repoPG) issues(ctx context.Context, prescriptionID uuid.UUID) ([]*Issue, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT i.id, i.prescription_id, i.drug_id, i.brand_id, i.batch_id, i.strategy,
			COALESCE(i.details, ''), i.quantity, i.position, d.name, b.name
		FROM prescription_issue i
		JOIN drug d ON d.id = i.drug_id
		JOIN drug_brand b ON b.id = i.brand_id
		WHERE i.prescription_id = $1
		ORDER BY i.position`, prescriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Issue
	for rows.Next() {
		var is Issue
		var strategy []byte
		if err := rows.Scan(&is.ID, &is.PrescriptionID, &is.DrugID, &is.BrandID, &is.BatchID, &strategy,
			&is.Details, &is.Quantity, &is.Position, &is.DrugName, &is.BrandName); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(strategy, &is.Strategy); err != nil {
			return nil, fmt.Errorf("decode strategy of issue %s: %w", is.ID, err)
		}
		out = append(out, &is)
	}
	return out, rows.Err()
}

func (r *repoPG) offRecord(ctx context.Context, prescriptionID uuid.UUID) ([]*OffRecordMedication, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, prescription_id, name, description, position
		FROM off_record_medication WHERE prescription_id = $1 ORDER BY position`, prescriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*OffRecordMedication
	for rows.Next() {
		var m OffRecordMedication
		if err := rows.Scan(&m.ID, &m.PrescriptionID, &m.Name, &m.Description, &m.Position); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	q := db.NewSearchQuery("prescription", prescriptionCols)
	q.AddEq("patient_id", patientID)
	q.OrderBy("created_at DESC")
	return r.list(ctx, q, limit, offset)
}

func (r *repoPG) List(ctx context.Context, status Status, limit, offset int) ([]*Prescription, int, error) {
	q := db.NewSearchQuery("prescription", prescriptionCols)
	if status != "" {
		q.AddEq("status", status)
	}
	q.OrderBy("created_at DESC")
	return r.list(ctx, q, limit, offset)
}

func (r *repoPG) list(ctx context.Context, q *db.SearchQuery, limit, offset int) ([]*Prescription, int, error) {
	conn := r.conn(ctx)
	var total int
	if err := conn.QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *repoPG) SetIssueBatch(ctx context.Context, issueID, batchID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE prescription_issue SET batch_id = $2 WHERE id = $1`, issueID, batchID)
	if err != nil {
		return translate(err, ErrIssueNotFound)
	}
	if tag.RowsAffected() == 0 {
		return ErrIssueNotFound
	}
	return nil
}

func (r *repoPG) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE prescription SET status = $2, completed_at = $3 WHERE id = $1 AND status = $4`,
		id, StatusCompleted, at, StatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// =========== Strategy History Repository ===========

type historyRepoPG struct{ pool *pgxpool.Pool }

func NewHistoryRepoPG(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepoPG{pool: pool}
}

func (r *historyRepoPG) Get(ctx context.Context, drugID uuid.UUID) (*StrategyHistory, error) {
	var h StrategyHistory
	var strategy []byte
	err := r.pool.QueryRow(ctx,
		`SELECT drug_id, strategy, COALESCE(details, ''), updated_at FROM strategy_history WHERE drug_id = $1`,
		drugID).Scan(&h.DrugID, &strategy, &h.Details, &h.UpdatedAt)
	if err != nil {
		return nil, translate(err, ErrHistoryNotFound)
	}
	if err := json.Unmarshal(strategy, &h.Strategy); err != nil {
		return nil, fmt.Errorf("decode strategy history: %w", err)
	}
	return &h, nil
}

func (r *historyRepoPG) Upsert(ctx context.Context, h *StrategyHistory) error {
	if h.Strategy.Strategy == nil {
		return dosing.ErrInvalidStrategy
	}
	strategy, err := json.Marshal(h.Strategy)
	if err != nil {
		return fmt.Errorf("encode strategy: %w", err)
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO strategy_history (drug_id, strategy, details, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NOW())
		ON CONFLICT (drug_id) DO UPDATE
		SET strategy = EXCLUDED.strategy, details = EXCLUDED.details, updated_at = EXCLUDED.updated_at
		RETURNING updated_at`,
		h.DrugID, strategy, h.Details).Scan(&h.UpdatedAt)
}
