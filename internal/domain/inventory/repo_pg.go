package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

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
		return ErrDuplicateName
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %v", notFound, err)
	case db.IsCheckViolation(err):
		_, constraint, _ := db.PgCode(err)
		return apperr.Validation("value violates %s", constraint)
	}
	return err
}

// =========== Drug Repository ===========

type drugRepoPG struct{ pool *pgxpool.Pool }

func NewDrugRepoPG(pool *pgxpool.Pool) DrugRepository {
	return &drugRepoPG{pool: pool}
}

func (r *drugRepoPG) Create(ctx context.Context, d *Drug) error {
	d.ID = uuid.New()
	err := connFor(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO drug (id, name) VALUES ($1, $2) RETURNING created_at`,
		d.ID, d.Name).Scan(&d.CreatedAt)
	return translate(err, ErrDrugNotFound)
}

func (r *drugRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Drug, error) {
	var d Drug
	err := connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT id, name, created_at FROM drug WHERE id = $1`, id).Scan(&d.ID, &d.Name, &d.CreatedAt)
	if err != nil {
		return nil, translate(err, ErrDrugNotFound)
	}
	return &d, nil
}

func (r *drugRepoPG) Search(ctx context.Context, name string, limit, offset int) ([]*Drug, int, error) {
	q := db.NewSearchQuery("drug", "id, name, created_at")
	if name != "" {
		q.AddContains("name", name)
	}
	q.OrderBy("name ASC")

	c := connFor(ctx, r.pool)
	var total int
	if err := c.QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := c.Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Drug
	for rows.Next() {
		var d Drug
		if err := rows.Scan(&d.ID, &d.Name, &d.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &d)
	}
	return items, total, rows.Err()
}

// =========== Brand Repository ===========

type brandRepoPG struct{ pool *pgxpool.Pool }

func NewBrandRepoPG(pool *pgxpool.Pool) BrandRepository {
	return &brandRepoPG{pool: pool}
}

func (r *brandRepoPG) Create(ctx context.Context, b *Brand) error {
	b.ID = uuid.New()
	err := connFor(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO drug_brand (id, name) VALUES ($1, $2) RETURNING created_at`,
		b.ID, b.Name).Scan(&b.CreatedAt)
	return translate(err, ErrBrandNotFound)
}

func (r *brandRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Brand, error) {
	var b Brand
	err := connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT id, name, created_at FROM drug_brand WHERE id = $1`, id).Scan(&b.ID, &b.Name, &b.CreatedAt)
	if err != nil {
		return nil, translate(err, ErrBrandNotFound)
	}
	return &b, nil
}

func (r *brandRepoPG) Search(ctx context.Context, name string, limit, offset int) ([]*Brand, int, error) {
	q := db.NewSearchQuery("drug_brand", "id, name, created_at")
	if name != "" {
		q.AddContains("name", name)
	}
	q.OrderBy("name ASC")

	c := connFor(ctx, r.pool)
	var total int
	if err := c.QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := c.Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Brand
	for rows.Next() {
		var b Brand
		if err := rows.Scan(&b.ID, &b.Name, &b.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &b)
	}
	return items, total, rows.Err()
}

// =========== Batch Repository ===========

type batchRepoPG struct{ pool *pgxpool.Pool }

func NewBatchRepoPG(pool *pgxpool.Pool) BatchRepository {
	return &batchRepoPG{pool: pool}
}

func (r *batchRepoPG) conn(ctx context.Context) queryable {
	return connFor(ctx, r.pool)
}

const batchFrom = `batch b
	JOIN drug d ON d.id = b.drug_id
	JOIN drug_brand br ON br.id = b.brand_id`

const batchCols = `b.id, b.drug_id, b.brand_id, b.batch_number, b.drug_type,
	b.unit_concentration, b.full_amount, b.remaining_quantity,
	b.wholesale_price, b.retail_price, b.expiry_date, b.stock_date, b.status,
	b.created_at, b.updated_at, d.name, br.name`

// availableClause selects dispensable batches; callers add the expiry bound.
const availableClause = `b.status = 'AVAILABLE' AND b.remaining_quantity > 0`

func (r *batchRepoPG) scanBatch(row pgx.Row) (*Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.DrugID, &b.BrandID, &b.Number, &b.DrugType,
		&b.UnitConcentration, &b.FullAmount, &b.RemainingQuantity,
		&b.WholesalePrice, &b.RetailPrice, &b.ExpiryDate, &b.StockDate, &b.Status,
		&b.CreatedAt, &b.UpdatedAt, &b.DrugName, &b.BrandName)
	return &b, err
}

func (r *batchRepoPG) Create(ctx context.Context, b *Batch) error {
	b.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO batch (id, drug_id, brand_id, batch_number, drug_type,
			unit_concentration, full_amount, remaining_quantity,
			wholesale_price, retail_price, expiry_date, stock_date, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		b.ID, b.DrugID, b.BrandID, b.Number, b.DrugType,
		b.UnitConcentration, b.FullAmount, b.RemainingQuantity,
		b.WholesalePrice, b.RetailPrice, b.ExpiryDate, b.StockDate, b.Status,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	return translate(err, ErrBatchNotFound)
}

func (r *batchRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Batch, error) {
	b, err := r.scanBatch(r.conn(ctx).QueryRow(ctx,
		`SELECT `+batchCols+` FROM `+batchFrom+` WHERE b.id = $1`, id))
	if err != nil {
		return nil, translate(err, ErrBatchNotFound)
	}
	return b, nil
}

func (r *batchRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Batch, error) {
	b, err := r.scanBatch(r.conn(ctx).QueryRow(ctx,
		`SELECT `+batchCols+` FROM `+batchFrom+` WHERE b.id = $1 FOR UPDATE OF b`, id))
	if err != nil {
		return nil, translate(err, ErrBatchNotFound)
	}
	return b, nil
}

func (r *batchRepoPG) Search(ctx context.Context, f BatchFilter, limit, offset int) ([]*Batch, int, error) {
	q := db.NewSearchQuery(batchFrom, batchCols)
	if f.DrugID != nil {
		q.AddEq("b.drug_id", *f.DrugID)
	}
	if f.BrandID != nil {
		q.AddEq("b.brand_id", *f.BrandID)
	}
	if f.Status != "" {
		q.AddEq("b.status", f.Status)
	}
	if f.Number != "" {
		q.AddPrefix("b.batch_number", f.Number)
	}
	if f.Expired != nil {
		now := f.Now
		if now.IsZero() {
			now = time.Now()
		}
		if *f.Expired {
			q.Add("b.expiry_date <= ?", now)
		} else {
			q.Add("b.expiry_date > ?", now)
		}
	}
	q.OrderBy("b.expiry_date ASC, b.batch_number ASC")

	c := r.conn(ctx)
	var total int
	if err := c.QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := c.Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Batch
	for rows.Next() {
		b, err := r.scanBatch(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

func (r *batchRepoPG) Available(ctx context.Context, drugID, brandID uuid.UUID, now time.Time) ([]*Batch, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+batchCols+` FROM `+batchFrom+`
		WHERE b.drug_id = $1 AND b.brand_id = $2 AND `+availableClause+` AND b.expiry_date > $3
		ORDER BY b.expiry_date ASC, b.stock_date ASC`, drugID, brandID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Batch
	for rows.Next() {
		b, err := r.scanBatch(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func scanLevels(rows pgx.Rows, withBrand bool) ([]*StockLevel, error) {
	defer rows.Close()
	var levels []*StockLevel
	for rows.Next() {
		var l StockLevel
		var err error
		if withBrand {
			var brandID uuid.UUID
			err = rows.Scan(&l.DrugID, &l.DrugName, &brandID, &l.BrandName, &l.Remaining, &l.Batches, &l.NearestExpiry)
			l.BrandID = &brandID
		} else {
			err = rows.Scan(&l.DrugID, &l.DrugName, &l.Remaining, &l.Batches, &l.NearestExpiry)
		}
		if err != nil {
			return nil, err
		}
		levels = append(levels, &l)
	}
	return levels, rows.Err()
}

func (r *batchRepoPG) AvailableBrands(ctx context.Context, drugID uuid.UUID, now time.Time) ([]*StockLevel, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT d.id, d.name, br.id, br.name,
			SUM(b.remaining_quantity), COUNT(b.id), MIN(b.expiry_date)
		FROM `+batchFrom+`
		WHERE b.drug_id = $1 AND `+availableClause+` AND b.expiry_date > $2
		GROUP BY d.id, d.name, br.id, br.name
		ORDER BY br.name`, drugID, now)
	if err != nil {
		return nil, err
	}
	return scanLevels(rows, true)
}

func (r *batchRepoPG) StockByDrug(ctx context.Context, now time.Time) ([]*StockLevel, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT d.id, d.name,
			COALESCE(SUM(b.remaining_quantity), 0), COUNT(b.id), MIN(b.expiry_date)
		FROM drug d
		LEFT JOIN batch b ON b.drug_id = d.id AND `+availableClause+` AND b.expiry_date > $1
		GROUP BY d.id, d.name
		ORDER BY d.name`, now)
	if err != nil {
		return nil, err
	}
	return scanLevels(rows, false)
}

func (r *batchRepoPG) StockByBrand(ctx context.Context, now time.Time) ([]*StockLevel, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT d.id, d.name, br.id, br.name,
			SUM(b.remaining_quantity), COUNT(b.id), MIN(b.expiry_date)
		FROM `+batchFrom+`
		WHERE `+availableClause+` AND b.expiry_date > $1
		GROUP BY d.id, d.name, br.id, br.name
		ORDER BY d.name, br.name`, now)
	if err != nil {
		return nil, err
	}
	return scanLevels(rows, true)
}

func (r *batchRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to BatchStatus) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE batch SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *batchRepoPG) Adjust(ctx context.Context, adj *Adjustment) error {
	c := r.conn(ctx)
	tag, err := c.Exec(ctx, `
		UPDATE batch SET remaining_quantity = $2, updated_at = NOW() WHERE id = $1`,
		adj.BatchID, adj.Quantity)
	if err != nil {
		return translate(err, ErrBatchNotFound)
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}

	adj.ID = uuid.New()
	return c.QueryRow(ctx, `
		INSERT INTO batch_adjustment (id, batch_id, previous_quantity, new_quantity, reason, adjusted_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		adj.ID, adj.BatchID, adj.Previous, adj.Quantity, adj.Reason, adj.AdjustedBy,
	).Scan(&adj.CreatedAt)
}

func (r *batchRepoPG) ExpireLapsed(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE batch SET status = 'EXPIRED', updated_at = NOW()
		WHERE status = 'AVAILABLE' AND expiry_date <= $1
		RETURNING id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Deduct is the only statement that consumes stock. Concurrent callers
// serialize on the row lock and re-check the guard against committed stock.
func (r *batchRepoPG) Deduct(ctx context.Context, id uuid.UUID, qty decimal.Decimal) (*Deduction, error) {
	d := Deduction{BatchID: id, Quantity: qty}
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE batch
		SET remaining_quantity = remaining_quantity - $2,
			status = CASE WHEN remaining_quantity - $2 = 0 THEN 'COMPLETED' ELSE status END,
			updated_at = NOW()
		WHERE id = $1 AND status = 'AVAILABLE' AND expiry_date > NOW()
			AND remaining_quantity >= $2
		RETURNING remaining_quantity, status`, id, qty).Scan(&d.Remaining, &d.Status)
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("%w: batch %s cannot supply %s units", ErrInsufficientStock, id, qty)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// =========== Batch History Repository ===========

type batchHistoryRepoPG struct{ pool *pgxpool.Pool }

func NewBatchHistoryRepoPG(pool *pgxpool.Pool) BatchHistoryRepository {
	return &batchHistoryRepoPG{pool: pool}
}

func (r *batchHistoryRepoPG) Get(ctx context.Context, drugID, brandID uuid.UUID) (*BatchHistory, error) {
	var h BatchHistory
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		SELECT drug_id, brand_id, batch_id, updated_at
		FROM batch_history WHERE drug_id = $1 AND brand_id = $2`, drugID, brandID,
	).Scan(&h.DrugID, &h.BrandID, &h.BatchID, &h.UpdatedAt)
	if err != nil {
		return nil, translate(err, ErrBatchNotFound)
	}
	return &h, nil
}

func (r *batchHistoryRepoPG) Upsert(ctx context.Context, h *BatchHistory) error {
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO batch_history (drug_id, brand_id, batch_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (drug_id, brand_id) DO UPDATE
		SET batch_id = EXCLUDED.batch_id, updated_at = NOW()
		RETURNING updated_at`, h.DrugID, h.BrandID, h.BatchID,
	).Scan(&h.UpdatedAt)
}
