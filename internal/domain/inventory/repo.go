package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DrugRepository interface {
	Create(ctx context.Context, d *Drug) error
	GetByID(ctx context.Context, id uuid.UUID) (*Drug, error)
	Search(ctx context.Context, name string, limit, offset int) ([]*Drug, int, error)
}

type BrandRepository interface {
	Create(ctx context.Context, b *Brand) error
	GetByID(ctx context.Context, id uuid.UUID) (*Brand, error)
	Search(ctx context.Context, name string, limit, offset int) ([]*Brand, int, error)
}

type BatchRepository interface {
	Create(ctx context.Context, b *Batch) error
	GetByID(ctx context.Context, id uuid.UUID) (*Batch, error)
	// GetForUpdate reads a batch and locks its row until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Batch, error)
	Search(ctx context.Context, f BatchFilter, limit, offset int) ([]*Batch, int, error)
	// Available lists dispensable batches of a drug and brand, earliest
	// expiry first.
	Available(ctx context.Context, drugID, brandID uuid.UUID, now time.Time) ([]*Batch, error)
	AvailableBrands(ctx context.Context, drugID uuid.UUID, now time.Time) ([]*StockLevel, error)
	StockByDrug(ctx context.Context, now time.Time) ([]*StockLevel, error)
	StockByBrand(ctx context.Context, now time.Time) ([]*StockLevel, error)
	// UpdateStatus moves a batch from one status to another and reports
	// false when the batch was no longer in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to BatchStatus) (bool, error)
	Adjust(ctx context.Context, adj *Adjustment) error
	ExpireLapsed(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	// Deduct decrements remaining stock only if the batch is AVAILABLE,
	// unexpired and holds at least qty; otherwise it returns
	// ErrInsufficientStock.
	Deduct(ctx context.Context, id uuid.UUID, qty decimal.Decimal) (*Deduction, error)
}

type BatchHistoryRepository interface {
	Get(ctx context.Context, drugID, brandID uuid.UUID) (*BatchHistory, error)
	Upsert(ctx context.Context, h *BatchHistory) error
}
