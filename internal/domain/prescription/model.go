package prescription

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/dispensary/internal/domain/dosing"
	"github.com/clinic/dispensary/internal/platform/apperr"
)

var (
	ErrPrescriptionNotFound = apperr.NotFound("prescription not found")
	ErrIssueNotFound        = apperr.NotFound("issue not found")
	ErrHistoryNotFound      = apperr.NotFound("no strategy history for drug")
	ErrEmptyPrescription    = apperr.Validation("prescription has no drugs or off-record medications")
	ErrDuplicateDrug        = apperr.Validation("drug is already on this prescription")
	ErrZeroQuantity         = apperr.Validation("dosing strategy yields no units to dispense")
	ErrQuantityMismatch     = apperr.Validation("issue quantity does not match its dosing strategy")
	ErrAlreadyCompleted     = apperr.Conflict("prescription is already completed")
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
)

var validStatuses = map[Status]bool{StatusPending: true, StatusCompleted: true}

// Vitals are recorded by the doctor at consultation. Every field is
// optional.
type Vitals struct {
	Weight        decimal.NullDecimal `db:"weight" json:"weight"`
	Height        decimal.NullDecimal `db:"height" json:"height"`
	Temperature   decimal.NullDecimal `db:"temperature" json:"temperature"`
	PulseRate     decimal.NullDecimal `db:"pulse_rate" json:"pulse_rate"`
	BloodPressure *string             `db:"blood_pressure" json:"blood_pressure,omitempty"`
	Complaint     *string             `db:"complaint" json:"complaint,omitempty"`
	Diagnosis     *string             `db:"diagnosis" json:"diagnosis,omitempty"`
	Notes         *string             `db:"notes" json:"notes,omitempty"`
}

// Prescription maps to the prescription table. Issues and OffRecordMeds are
// loaded only by the single-prescription reads.
type Prescription struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	PatientID         uuid.UUID       `db:"patient_id" json:"patient_id"`
	Status            Status          `db:"status" json:"status"`
	ExtraDoctorCharge decimal.Decimal `db:"extra_doctor_charge" json:"extra_doctor_charge"`
	Vitals            Vitals          `json:"vitals"`
	CreatedBy         string          `db:"created_by" json:"created_by,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	CompletedAt       *time.Time      `db:"completed_at" json:"completed_at,omitempty"`

	Issues        []*Issue               `json:"issues,omitempty"`
	OffRecordMeds []*OffRecordMedication `json:"off_record_meds,omitempty"`
}

func (p *Prescription) Completed() bool {
	return p.Status == StatusCompleted
}

// Issue finds an issue of p by id.
func (p *Prescription) Issue(id uuid.UUID) (*Issue, bool) {
	for _, is := range p.Issues {
		if is.ID == id {
			return is, true
		}
	}
	return nil, false
}

// Issue maps to the prescription_issue table: one dispensed drug. BatchID
// stays nil until the bill binds the issue to stock.
type Issue struct {
	ID             uuid.UUID         `db:"id" json:"id"`
	PrescriptionID uuid.UUID         `db:"prescription_id" json:"prescription_id"`
	DrugID         uuid.UUID         `db:"drug_id" json:"drug_id"`
	BrandID        uuid.UUID         `db:"brand_id" json:"brand_id"`
	BatchID        *uuid.UUID        `db:"batch_id" json:"batch_id,omitempty"`
	Strategy       dosing.Descriptor `db:"strategy" json:"strategy"`
	Details        string            `db:"details" json:"details,omitempty"`
	Quantity       decimal.Decimal   `db:"quantity" json:"quantity"`
	Position       int               `db:"position" json:"position"`

	DrugName  string `db:"-" json:"drug_name,omitempty"`
	BrandName string `db:"-" json:"brand_name,omitempty"`
}

// OffRecordMedication maps to the off_record_medication table. It never
// touches stock or the medicines charge.
type OffRecordMedication struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PrescriptionID uuid.UUID `db:"prescription_id" json:"prescription_id"`
	Name           string    `db:"name" json:"name"`
	Description    *string   `db:"description" json:"description,omitempty"`
	Position       int       `db:"position" json:"position"`
}

// StrategyHistory maps to the strategy_history table: the last strategy a
// drug was prescribed with, used to pre-fill the form.
type StrategyHistory struct {
	DrugID    uuid.UUID         `db:"drug_id" json:"drug_id"`
	Strategy  dosing.Descriptor `db:"strategy" json:"strategy"`
	Details   string            `db:"details" json:"details,omitempty"`
	UpdatedAt time.Time         `db:"updated_at" json:"updated_at"`
}

// Event payloads written to the outbox.

type IssueLine struct {
	IssueID  uuid.UUID       `json:"issue_id"`
	DrugID   uuid.UUID       `json:"drug_id"`
	BrandID  uuid.UUID       `json:"brand_id"`
	Quantity decimal.Decimal `json:"quantity"`
	Dosage   string          `json:"dosage"`
	Details  string          `json:"details,omitempty"`
}

type CreatedEvent struct {
	PrescriptionID uuid.UUID   `json:"prescription_id"`
	PatientID      uuid.UUID   `json:"patient_id"`
	CreatedBy      string      `json:"created_by,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	Issues         []IssueLine `json:"issues"`
	OffRecord      []string    `json:"off_record"`
}
