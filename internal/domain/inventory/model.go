package inventory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/dispensary/internal/platform/apperr"
)

var (
	ErrDrugNotFound        = apperr.NotFound("drug not found")
	ErrBrandNotFound       = apperr.NotFound("brand not found")
	ErrBatchNotFound       = apperr.NotFound("batch not found")
	ErrNoAvailableBatch    = apperr.NotFound("no available batch")
	ErrDuplicateName       = apperr.Conflict("name already exists")
	ErrInvalidTransition   = apperr.Conflict("invalid batch status transition")
	ErrBatchNotDispensable = apperr.Conflict("batch cannot be dispensed")
	ErrInsufficientStock   = apperr.InsufficientStock("insufficient stock")
)

// Drug maps to the drug table.
type Drug struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Brand maps to the drug_brand table. Brands are not tied to a drug; a batch
// links the two.
type Brand struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type BatchStatus string

const (
	StatusAvailable     BatchStatus = "AVAILABLE"
	StatusCompleted     BatchStatus = "COMPLETED"
	StatusExpired       BatchStatus = "EXPIRED"
	StatusQualityFailed BatchStatus = "QUALITY_FAILED"
	StatusDisposed      BatchStatus = "DISPOSED"
	StatusTrashed       BatchStatus = "TRASHED"
)

var validStatuses = map[BatchStatus]bool{
	StatusAvailable: true, StatusCompleted: true, StatusExpired: true,
	StatusQualityFailed: true, StatusDisposed: true, StatusTrashed: true,
}

// Terminal reports whether s is a status a batch never leaves.
func (s BatchStatus) Terminal() bool {
	return s != StatusAvailable && validStatuses[s]
}

// Batch maps to the batch table. DrugName and BrandName are filled from the
// joined catalogue rows on reads.
type Batch struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	DrugID            uuid.UUID       `db:"drug_id" json:"drug_id"`
	BrandID           uuid.UUID       `db:"brand_id" json:"brand_id"`
	Number            string          `db:"batch_number" json:"number"`
	DrugType          string          `db:"drug_type" json:"drug_type"`
	UnitConcentration decimal.Decimal `db:"unit_concentration" json:"unit_concentration"`
	FullAmount        decimal.Decimal `db:"full_amount" json:"full_amount"`
	RemainingQuantity decimal.Decimal `db:"remaining_quantity" json:"remaining_quantity"`
	WholesalePrice    decimal.Decimal `db:"wholesale_price" json:"wholesale_price"`
	RetailPrice       decimal.Decimal `db:"retail_price" json:"retail_price"`
	ExpiryDate        time.Time       `db:"expiry_date" json:"expiry_date"`
	StockDate         time.Time       `db:"stock_date" json:"stock_date"`
	Status            BatchStatus     `db:"status" json:"status"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`

	DrugName  string `db:"-" json:"drug_name,omitempty"`
	BrandName string `db:"-" json:"brand_name,omitempty"`
}

func (b *Batch) Expired(now time.Time) bool {
	return !b.ExpiryDate.After(now)
}

// Available reports whether the batch can be offered for new issues.
func (b *Batch) Available(now time.Time) bool {
	return b.Status == StatusAvailable && !b.Expired(now) && b.RemainingQuantity.IsPositive()
}

// CheckDispensable verifies that qty units of this batch may be bound to an
// issue for drugID/brandID.
func (b *Batch) CheckDispensable(drugID, brandID uuid.UUID, qty decimal.Decimal, now time.Time) error {
	if b.DrugID != drugID || b.BrandID != brandID {
		return fmt.Errorf("%w: batch %s is not stock of the prescribed drug and brand", ErrBatchNotDispensable, b.Number)
	}
	if b.Status != StatusAvailable {
		return fmt.Errorf("%w: batch %s is %s", ErrBatchNotDispensable, b.Number, b.Status)
	}
	if b.Expired(now) {
		return fmt.Errorf("%w: batch %s expired on %s", ErrBatchNotDispensable, b.Number, b.ExpiryDate.Format("2006-01-02"))
	}
	if b.RemainingQuantity.LessThan(qty) {
		return fmt.Errorf("%w: batch %s has %s remaining, %s required", ErrInsufficientStock, b.Number, b.RemainingQuantity, qty)
	}
	return nil
}

// BatchFilter narrows batch searches. Zero values are ignored.
type BatchFilter struct {
	DrugID  *uuid.UUID
	BrandID *uuid.UUID
	Status  BatchStatus
	Number  string
	// Expired selects batches past (true) or before (false) their expiry
	// relative to Now.
	Expired *bool
	Now     time.Time
}

// Deduction is the outcome of a guarded stock decrement.
type Deduction struct {
	BatchID   uuid.UUID       `json:"batch_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Remaining decimal.Decimal `json:"remaining"`
	Status    BatchStatus     `json:"status"`
}

// Adjustment maps to the batch_adjustment table: a book-keeping correction
// of a batch's remaining quantity.
type Adjustment struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	BatchID    uuid.UUID       `db:"batch_id" json:"batch_id"`
	Previous   decimal.Decimal `db:"previous_quantity" json:"previous_quantity"`
	Quantity   decimal.Decimal `db:"new_quantity" json:"new_quantity"`
	Reason     string          `db:"reason" json:"reason"`
	AdjustedBy string          `db:"adjusted_by" json:"adjusted_by,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// StockLevel aggregates available stock of a drug, optionally per brand.
type StockLevel struct {
	DrugID        uuid.UUID       `json:"drug_id"`
	DrugName      string          `json:"drug_name"`
	BrandID       *uuid.UUID      `json:"brand_id,omitempty"`
	BrandName     string          `json:"brand_name,omitempty"`
	Remaining     decimal.Decimal `json:"remaining"`
	Batches       int             `json:"batches"`
	NearestExpiry *time.Time      `json:"nearest_expiry,omitempty"`
}

type StockSummary struct {
	ByDrug  []*StockLevel `json:"by_drug"`
	ByBrand []*StockLevel `json:"by_brand"`
}

// BatchHistory maps to the batch_history table: the last batch used for a
// drug and brand, kept only to pre-fill forms.
type BatchHistory struct {
	DrugID    uuid.UUID `db:"drug_id" json:"drug_id"`
	BrandID   uuid.UUID `db:"brand_id" json:"brand_id"`
	BatchID   uuid.UUID `db:"batch_id" json:"batch_id"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
