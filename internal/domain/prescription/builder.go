package prescription

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/dispensary/internal/domain/dosing"
	"github.com/clinic/dispensary/internal/platform/apperr"
)

type EntryKind string

const (
	EntryIssue     EntryKind = "ISSUE"
	EntryOffRecord EntryKind = "OFF_RECORD"
)

type IssueDraft struct {
	DrugID   uuid.UUID         `json:"drug_id"`
	BrandID  uuid.UUID         `json:"brand_id"`
	Strategy dosing.Descriptor `json:"strategy"`
	Details  string            `json:"details,omitempty"`
	Quantity decimal.Decimal   `json:"quantity"`
}

type OffRecordDraft struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// Entry is one line of the form being built. Exactly one of Issue and
// OffRecord is set.
type Entry struct {
	Kind      EntryKind       `json:"kind"`
	Issue     *IssueDraft     `json:"issue,omitempty"`
	OffRecord *OffRecordDraft `json:"off_record,omitempty"`
}

// Header carries the consultation fields of a prescription.
type Header struct {
	PatientID         uuid.UUID
	ExtraDoctorCharge decimal.Decimal
	Vitals            Vitals
	CreatedBy         string
}

// Form is a complete prescription ready to be persisted. Entry order is
// kept as each line's position.
type Form struct {
	Header
	Entries []Entry
}

// Submitter persists a form; Service implements it.
type Submitter interface {
	CreatePrescription(ctx context.Context, form *Form) (*Prescription, error)
}

// Builder accumulates the lines of one prescription before a single
// submission. It is not safe for concurrent use.
type Builder struct {
	entries []Entry
}

func NewBuilder() *Builder {
	return &Builder{}
}

// AddIssue appends a dispensed drug, computing its quantity from strategy.
func (b *Builder) AddIssue(drugID, brandID uuid.UUID, strategy dosing.Strategy, details string) (IssueDraft, error) {
	if drugID == uuid.Nil || brandID == uuid.Nil {
		return IssueDraft{}, apperr.Validation("drug and brand are both required")
	}
	if b.hasDrug(drugID) {
		return IssueDraft{}, fmt.Errorf("%w: %s", ErrDuplicateDrug, drugID)
	}
	qty, err := dosing.Quantity(strategy)
	if err != nil {
		return IssueDraft{}, err
	}
	if qty.IsZero() {
		return IssueDraft{}, ErrZeroQuantity
	}

	draft := IssueDraft{
		DrugID:   drugID,
		BrandID:  brandID,
		Strategy: dosing.Descriptor{Strategy: strategy},
		Details:  strings.TrimSpace(details),
		Quantity: qty,
	}
	b.entries = append(b.entries, Entry{Kind: EntryIssue, Issue: &draft})
	return draft, nil
}

// AddOffRecordMed appends a medication that is not dispensed from stock.
func (b *Builder) AddOffRecordMed(name string, description *string) (OffRecordDraft, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return OffRecordDraft{}, apperr.Validation("off-record medication name is required")
	}
	if description != nil {
		d := strings.TrimSpace(*description)
		if d == "" {
			description = nil
		} else {
			description = &d
		}
	}
	draft := OffRecordDraft{Name: name, Description: description}
	b.entries = append(b.entries, Entry{Kind: EntryOffRecord, OffRecord: &draft})
	return draft, nil
}

// RemoveEntry removes the line at index, keeping the order of the rest.
func (b *Builder) RemoveEntry(index int) error {
	if index < 0 || index >= len(b.entries) {
		return apperr.Validation("no entry at position %d", index)
	}
	b.entries = append(b.entries[:index], b.entries[index+1:]...)
	return nil
}

func (b *Builder) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

func (b *Builder) Len() int { return len(b.entries) }

func (b *Builder) hasDrug(id uuid.UUID) bool {
	for _, e := range b.entries {
		if e.Kind == EntryIssue && e.Issue.DrugID == id {
			return true
		}
	}
	return false
}

// Submit hands the accumulated lines to sub as one form.
func (b *Builder) Submit(ctx context.Context, sub Submitter, h Header) (*Prescription, error) {
	if len(b.entries) == 0 {
		return nil, ErrEmptyPrescription
	}
	return sub.CreatePrescription(ctx, &Form{Header: h, Entries: b.Entries()})
}

// CreateRequest is the prescription payload posted by the consultation
// form. Issues are placed before off-record medications.
type CreateRequest struct {
	ExtraDoctorCharge decimal.Decimal  `json:"extra_doctor_charge"`
	Vitals            Vitals           `json:"vitals"`
	Issues            []IssueRequest   `json:"issues"`
	OffRecord         []OffRecordDraft `json:"off_record"`
}

type IssueRequest struct {
	DrugID   uuid.UUID         `json:"drug_id"`
	BrandID  uuid.UUID         `json:"brand_id"`
	Strategy dosing.Descriptor `json:"strategy"`
	Details  string            `json:"details"`
}

// BuilderFromRequest replays req through a Builder so a posted form gets the
// same checks as one built line by line.
func BuilderFromRequest(req *CreateRequest) (*Builder, error) {
	b := NewBuilder()
	for i, is := range req.Issues {
		if _, err := b.AddIssue(is.DrugID, is.BrandID, is.Strategy.Strategy, is.Details); err != nil {
			return nil, fmt.Errorf("issue %d: %w", i+1, err)
		}
	}
	for i, m := range req.OffRecord {
		if _, err := b.AddOffRecordMed(m.Name, m.Description); err != nil {
			return nil, fmt.Errorf("off-record medication %d: %w", i+1, err)
		}
	}
	return b, nil
}
