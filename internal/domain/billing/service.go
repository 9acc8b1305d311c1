package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinic/dispensary/internal/domain/inventory"
	"github.com/clinic/dispensary/internal/domain/prescription"
	"github.com/clinic/dispensary/internal/platform/apperr"
	"github.com/clinic/dispensary/internal/platform/db"
	"github.com/clinic/dispensary/internal/platform/websocket"
)

// Stock is satisfied by inventory.Service.
type Stock interface {
	GetBatch(ctx context.Context, id uuid.UUID) (*inventory.Batch, error)
	RecordBatchUse(ctx context.Context, drugID, brandID, batchID uuid.UUID) error
}

type Service struct {
	bills         BillRepository
	charges       ChargeRepository
	prescriptions prescription.Repository
	stock         Stock
	tx            db.Transactor
	events        websocket.EventPublisher
	logger        zerolog.Logger
	now           func() time.Time
}

func NewService(
	bills BillRepository,
	charges ChargeRepository,
	prescriptions prescription.Repository,
	stock Stock,
	tx db.Transactor,
	logger zerolog.Logger,
) *Service {
	return &Service{
		bills:         bills,
		charges:       charges,
		prescriptions: prescriptions,
		stock:         stock,
		tx:            tx,
		logger:        logger.With().Str("component", "billing").Logger(),
		now:           time.Now,
	}
}

// SetPublisher attaches an optional publisher for bill events.
func (s *Service) SetPublisher(p websocket.EventPublisher) {
	s.events = p
}

// -- Bills --

// CalculateBill binds the prescription's issues to batches, prices them and
// stores the result as the prescription's bill. Calling it again replaces
// the bill with one built from the latest assignments, charges and prices.
func (s *Service) CalculateBill(ctx context.Context, prescriptionID uuid.UUID, req CalculateRequest) (*Bill, error) {
	assigned := make(map[uuid.UUID]uuid.UUID, len(req.Assignments))
	for _, a := range req.Assignments {
		if a.IssueID == uuid.Nil || a.BatchID == uuid.Nil {
			return nil, apperr.Validation("assignment needs both issue_id and batch_id")
		}
		if _, dup := assigned[a.IssueID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAssignment, a.IssueID)
		}
		assigned[a.IssueID] = a.BatchID
	}
	seenCharge := make(map[uuid.UUID]bool, len(req.ChargeIDs))
	for _, id := range req.ChargeIDs {
		if seenCharge[id] {
			return nil, apperr.Validation("charge %s is attached more than once", id)
		}
		seenCharge[id] = true
	}

	var (
		bill *Bill
		p    *prescription.Prescription
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.prescriptions.GetForUpdate(ctx, prescriptionID)
		if err != nil {
			return err
		}
		if p.Completed() {
			return ErrPrescriptionAlreadyCompleted
		}
		for issueID := range assigned {
			if _, ok := p.Issue(issueID); !ok {
				return fmt.Errorf("%w: %s is not on prescription %s", ErrIssueNotFound, issueID, p.ID)
			}
		}

		bill = &Bill{PrescriptionID: p.ID}
		if bill.DispensaryCharge, err = s.fee(ctx, ChargeDispensary); err != nil {
			return err
		}
		doctor, err := s.fee(ctx, ChargeDoctor)
		if err != nil {
			return err
		}
		bill.DoctorCharge = doctor.Add(p.ExtraDoctorCharge)

		if bill.Entries, err = s.price(ctx, p, assigned); err != nil {
			return err
		}
		bill.MedicinesCharge = decimal.Zero
		for _, e := range bill.Entries {
			bill.MedicinesCharge = bill.MedicinesCharge.Add(e.LineTotal)
		}
		if bill.Components, err = s.components(ctx, req.ChargeIDs); err != nil {
			return err
		}
		return s.bills.Upsert(ctx, bill)
	})
	if err != nil {
		return nil, err
	}

	s.rememberBatches(ctx, p)
	s.notify(ctx, bill)
	return bill, nil
}

// fee returns the value of the singleton fee charge of t, or zero when the
// clinic has not configured one.
func (s *Service) fee(ctx context.Context, t ChargeType) (decimal.Decimal, error) {
	c, err := s.charges.GetByType(ctx, t)
	if errors.Is(err, ErrChargeNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("load %s fee: %w", strings.ToLower(string(t)), err)
	}
	return c.Value, nil
}

// price builds one entry per issue, binding newly assigned issues to their
// batch.
func (s *Service) price(ctx context.Context, p *prescription.Prescription, assigned map[uuid.UUID]uuid.UUID) ([]*Entry, error) {
	now := s.now()
	entries := make([]*Entry, 0, len(p.Issues))
	for _, is := range p.Issues {
		batchID, ok := assigned[is.ID]
		if !ok {
			if is.BatchID == nil {
				return nil, fmt.Errorf("%w: %s (%s)", ErrBatchNotAssigned, is.DrugName, is.ID)
			}
			batchID = *is.BatchID
		}
		batch, err := s.stock.GetBatch(ctx, batchID)
		if err != nil {
			return nil, err
		}
		if err := batch.CheckDispensable(is.DrugID, is.BrandID, is.Quantity, now); err != nil {
			return nil, err
		}
		if ok {
			if err := s.prescriptions.SetIssueBatch(ctx, is.ID, batchID); err != nil {
				return nil, fmt.Errorf("assign batch: %w", err)
			}
			is.BatchID = &batchID
		}
		entries = append(entries, &Entry{
			IssueID:   is.ID,
			BatchID:   batchID,
			DrugName:  is.DrugName,
			BrandName: is.BrandName,
			Quantity:  is.Quantity,
			UnitPrice: batch.RetailPrice,
			LineTotal: is.Quantity.Mul(batch.RetailPrice).Round(2),
			Position:  is.Position,
		})
	}
	return entries, nil
}

func (s *Service) components(ctx context.Context, ids []uuid.UUID) ([]*Component, error) {
	out := make([]*Component, 0, len(ids))
	for _, id := range ids {
		c, err := s.charges.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !c.Type.Adjustment() {
			return nil, fmt.Errorf("%w: %s is a %s charge", ErrNotAdjustment, c.Name, c.Type)
		}
		out = append(out, &Component{ChargeID: c.ID, Name: c.Name, Type: c.Type, Value: c.Value})
	}
	return out, nil
}

// rememberBatches records the batch used for each issue as the pre-fill for
// its drug and brand. Failures are logged and never reach the caller.
func (s *Service) rememberBatches(ctx context.Context, p *prescription.Prescription) {
	for _, is := range p.Issues {
		if is.BatchID == nil {
			continue
		}
		if err := s.stock.RecordBatchUse(ctx, is.DrugID, is.BrandID, *is.BatchID); err != nil {
			s.logger.Warn().Err(err).
				Str("drug_id", is.DrugID.String()).
				Str("batch_id", is.BatchID.String()).
				Msg("record batch history")
		}
	}
}

func (s *Service) notify(ctx context.Context, b *Bill) {
	if s.events == nil {
		return
	}
	ev, err := websocket.NewEvent(websocket.TopicPrescriptions, "bill.calculated", "prescription", b.PrescriptionID.String(), map[string]interface{}{
		"bill_id": b.ID,
		"total":   b.Total(),
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("build bill event")
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("prescription_id", b.PrescriptionID.String()).Msg("publish bill event")
	}
}

func (s *Service) GetBill(ctx context.Context, prescriptionID uuid.UUID) (*Bill, error) {
	return s.bills.GetByPrescription(ctx, prescriptionID)
}

// -- Charge catalogue --

func validateCharge(c *Charge) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return apperr.Validation("name is required")
	}
	if c.Value.IsNegative() {
		return apperr.Validation("value must not be negative")
	}
	if c.Type.Percent() && c.Value.GreaterThan(hundred) {
		return apperr.Validation("%s value is a percentage and must not exceed 100", c.Type)
	}
	return nil
}

func (s *Service) CreateCharge(ctx context.Context, c *Charge) error {
	c.Type = ChargeType(strings.ToUpper(string(c.Type)))
	if !chargeTypes[c.Type] {
		return apperr.Validation("unknown charge type %q", c.Type)
	}
	if err := validateCharge(c); err != nil {
		return err
	}
	return s.charges.Create(ctx, c)
}

func (s *Service) GetCharge(ctx context.Context, id uuid.UUID) (*Charge, error) {
	return s.charges.GetByID(ctx, id)
}

func (s *Service) ListCharges(ctx context.Context, t ChargeType) ([]*Charge, error) {
	t = ChargeType(strings.ToUpper(string(t)))
	if t != "" && !chargeTypes[t] {
		return nil, apperr.Validation("unknown charge type %q", t)
	}
	return s.charges.List(ctx, t)
}

// UpdateCharge changes a charge's name and value. The type is fixed at
// creation; bills already calculated keep the values they copied.
func (s *Service) UpdateCharge(ctx context.Context, c *Charge) error {
	existing, err := s.charges.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	c.Type = existing.Type
	if err := validateCharge(c); err != nil {
		return err
	}
	return s.charges.Update(ctx, c)
}
