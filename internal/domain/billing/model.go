package billing

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/dispensary/internal/domain/inventory"
	"github.com/clinic/dispensary/internal/domain/prescription"
	"github.com/clinic/dispensary/internal/platform/apperr"
)

var (
	ErrBillNotFound                 = apperr.NotFound("bill not calculated")
	ErrChargeNotFound               = apperr.NotFound("charge not found")
	ErrDuplicateCharge              = apperr.Conflict("a charge of this type already exists")
	ErrDuplicateAssignment          = apperr.Validation("issue is assigned more than once")
	ErrBatchNotAssigned             = apperr.Conflict("issue has no batch assigned")
	ErrNotAdjustment                = apperr.Validation("only DISCOUNT, FIXED and PERCENTAGE charges can be attached to a bill")
	ErrPrescriptionNotFound         = prescription.ErrPrescriptionNotFound
	ErrPrescriptionAlreadyCompleted = prescription.ErrAlreadyCompleted
	ErrIssueNotFound                = prescription.ErrIssueNotFound
	ErrBatchNotFound                = inventory.ErrBatchNotFound
)

type ChargeType string

const (
	ChargeDispensary ChargeType = "DISPENSARY"
	ChargeDoctor     ChargeType = "DOCTOR"
	ChargeDiscount   ChargeType = "DISCOUNT"
	ChargeFixed      ChargeType = "FIXED"
	ChargePercentage ChargeType = "PERCENTAGE"
)

var chargeTypes = map[ChargeType]bool{
	ChargeDispensary: true, ChargeDoctor: true, ChargeDiscount: true, ChargeFixed: true, ChargePercentage: true,
}

// Adjustment reports whether charges of t are attached per bill rather than
// applied to every bill as a fee.
func (t ChargeType) Adjustment() bool {
	return t == ChargeDiscount || t == ChargeFixed || t == ChargePercentage
}

// Percent reports whether Value is a percentage of the subtotal.
func (t ChargeType) Percent() bool {
	return t == ChargeDiscount || t == ChargePercentage
}

// Charge maps to the charge table. DISPENSARY and DOCTOR hold the fixed fees
// and exist at most once each.
type Charge struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Type      ChargeType      `db:"type" json:"type"`
	Value     decimal.Decimal `db:"value" json:"value"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Entry maps to the bill_entry table: one issue priced from its batch.
type Entry struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	IssueID   uuid.UUID       `db:"issue_id" json:"issue_id"`
	BatchID   uuid.UUID       `db:"batch_id" json:"batch_id"`
	DrugName  string          `db:"drug_name" json:"drug_name"`
	BrandName string          `db:"brand_name" json:"brand_name"`
	Quantity  decimal.Decimal `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal decimal.Decimal `db:"line_total" json:"line_total"`
	Position  int             `db:"position" json:"position"`
}

// Component maps to the bill_component table: a catalogue charge copied onto
// the bill at calculation time.
type Component struct {
	ChargeID uuid.UUID       `db:"charge_id" json:"charge_id"`
	Name     string          `db:"name" json:"name"`
	Type     ChargeType      `db:"type" json:"type"`
	Value    decimal.Decimal `db:"value" json:"value"`
}

// Bill maps to the bill table. There is at most one bill per prescription;
// recalculating replaces it.
type Bill struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	PrescriptionID   uuid.UUID       `db:"prescription_id" json:"prescription_id"`
	DispensaryCharge decimal.Decimal `db:"dispensary_charge" json:"dispensary_charge"`
	DoctorCharge     decimal.Decimal `db:"doctor_charge" json:"doctor_charge"`
	MedicinesCharge  decimal.Decimal `db:"medicines_charge" json:"medicines_charge"`
	Entries          []*Entry        `json:"entries"`
	Components       []*Component    `json:"components"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

var hundred = decimal.NewFromInt(100)

// Subtotal is the sum of the fees and the medicines.
func (b *Bill) Subtotal() decimal.Decimal {
	return b.DispensaryCharge.Add(b.DoctorCharge).Add(b.MedicinesCharge)
}

// DiscountPercentage sums the DISCOUNT components.
func (b *Bill) DiscountPercentage() decimal.Decimal {
	return b.sum(ChargeDiscount)
}

func (b *Bill) HasDiscount() bool {
	return b.DiscountPercentage().IsPositive()
}

// Total applies the components to the subtotal, rounded to cents and never
// below zero.
func (b *Bill) Total() decimal.Decimal {
	sub := b.Subtotal()
	total := sub.
		Add(b.sum(ChargeFixed)).
		Add(sub.Mul(b.sum(ChargePercentage)).Div(hundred)).
		Sub(sub.Mul(b.DiscountPercentage()).Div(hundred))
	if total.IsNegative() {
		return decimal.Zero
	}
	return total.Round(2)
}

func (b *Bill) sum(t ChargeType) decimal.Decimal {
	total := decimal.Zero
	for _, c := range b.Components {
		if c.Type == t {
			total = total.Add(c.Value)
		}
	}
	return total
}

func (b *Bill) MarshalJSON() ([]byte, error) {
	type plain Bill
	return json.Marshal(struct {
		*plain
		Subtotal           decimal.Decimal `json:"subtotal"`
		Total              decimal.Decimal `json:"total"`
		DiscountPercentage decimal.Decimal `json:"discount_percentage"`
		HasDiscount        bool            `json:"has_discount"`
	}{
		plain:              (*plain)(b),
		Subtotal:           b.Subtotal(),
		Total:              b.Total(),
		DiscountPercentage: b.DiscountPercentage(),
		HasDiscount:        b.HasDiscount(),
	})
}

// Assignment binds an issue to the batch it is dispensed from.
type Assignment struct {
	IssueID uuid.UUID `json:"issue_id"`
	BatchID uuid.UUID `json:"batch_id"`
}

// CalculateRequest drives CalculateBill. Issues already bound to a batch may
// be left out of Assignments.
type CalculateRequest struct {
	Assignments []Assignment `json:"assignments"`
	ChargeIDs   []uuid.UUID  `json:"charge_ids"`
}
