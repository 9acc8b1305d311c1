// Package dispensing completes prescriptions: it takes the stock named by
// the bill out of inventory and closes the prescription and its queue entry
// in one transaction.
package dispensing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinic/dispensary/internal/domain/billing"
	"github.com/clinic/dispensary/internal/domain/inventory"
	"github.com/clinic/dispensary/internal/domain/prescription"
	"github.com/clinic/dispensary/internal/domain/queue"
	"github.com/clinic/dispensary/internal/platform/apperr"
	"github.com/clinic/dispensary/internal/platform/db"
	"github.com/clinic/dispensary/internal/platform/outbox"
	"github.com/clinic/dispensary/internal/platform/websocket"
)

var (
	ErrAlreadyCompleted  = prescription.ErrAlreadyCompleted
	ErrBatchNotAssigned  = billing.ErrBatchNotAssigned
	ErrBillNotCalculated = apperr.Conflict("bill has not been calculated")
	ErrBillOutdated      = apperr.Conflict("bill does not match the assigned batches, recalculate it")
	ErrInsufficientStock = inventory.ErrInsufficientStock
)

const EventCompleted = "prescription.completed"

// Bills is satisfied by billing.BillRepository.
type Bills interface {
	GetByPrescription(ctx context.Context, prescriptionID uuid.UUID) (*billing.Bill, error)
}

// Stock is satisfied by inventory.BatchRepository.
type Stock interface {
	Deduct(ctx context.Context, batchID uuid.UUID, qty decimal.Decimal) (*inventory.Deduction, error)
}

// Queue is satisfied by queue.Service.
type Queue interface {
	Advance(ctx context.Context, patientID uuid.UUID, from, to queue.Status) (*queue.Entry, error)
	Notify(ctx context.Context, e *queue.Entry)
}

// Completion is the outcome of a completed prescription.
type Completion struct {
	Prescription *prescription.Prescription `json:"prescription"`
	Bill         *billing.Bill              `json:"bill"`
	Deductions   []*inventory.Deduction     `json:"deductions"`
}

type CompletedEvent struct {
	PrescriptionID uuid.UUID              `json:"prescription_id"`
	PatientID      uuid.UUID              `json:"patient_id"`
	CompletedAt    time.Time              `json:"completed_at"`
	Bill           *billing.Bill          `json:"bill"`
	Deductions     []*inventory.Deduction `json:"deductions"`
}

type Service struct {
	prescriptions prescription.Repository
	bills         Bills
	stock         Stock
	queue         Queue
	outbox        outbox.Writer
	tx            db.Transactor
	events        websocket.EventPublisher
	logger        zerolog.Logger
	now           func() time.Time
}

func NewService(
	prescriptions prescription.Repository,
	bills Bills,
	stock Stock,
	q Queue,
	ob outbox.Writer,
	tx db.Transactor,
	logger zerolog.Logger,
) *Service {
	return &Service{
		prescriptions: prescriptions,
		bills:         bills,
		stock:         stock,
		queue:         q,
		outbox:        ob,
		tx:            tx,
		logger:        logger.With().Str("component", "dispensing").Logger(),
		now:           time.Now,
	}
}

// SetPublisher attaches an optional publisher for completion events.
func (s *Service) SetPublisher(p websocket.EventPublisher) {
	s.events = p
}

// CompletePrescription deducts every issue's quantity from its batch, marks
// the prescription COMPLETED and moves the patient's queue entry to
// COMPLETED. Either all of it happens or none of it does.
func (s *Service) CompletePrescription(ctx context.Context, id uuid.UUID) (*Completion, error) {
	p, err := s.prescriptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.ready(ctx, p); err != nil {
		return nil, err
	}

	var (
		out   *Completion
		entry *queue.Entry
	)
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		// re-read under the row lock; a concurrent completion may have won
		p, err := s.prescriptions.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		bill, err := s.ready(ctx, p)
		if err != nil {
			return err
		}

		deductions := make([]*inventory.Deduction, 0, len(p.Issues))
		for _, is := range p.Issues {
			d, err := s.stock.Deduct(ctx, *is.BatchID, is.Quantity)
			if err != nil {
				return fmt.Errorf("deduct %s: %w", is.DrugName, err)
			}
			deductions = append(deductions, d)
		}

		at := s.now().UTC()
		ok, err := s.prescriptions.MarkCompleted(ctx, p.ID, at)
		if err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		if !ok {
			return ErrAlreadyCompleted
		}
		p.Status, p.CompletedAt = prescription.StatusCompleted, &at

		entry, err = s.queue.Advance(ctx, p.PatientID, queue.StatusPrescribed, queue.StatusCompleted)
		if err != nil {
			return fmt.Errorf("advance queue: %w", err)
		}

		out = &Completion{Prescription: p, Bill: bill, Deductions: deductions}
		return s.outbox.Append(ctx, prescription.AggregateType, p.ID, EventCompleted, CompletedEvent{
			PrescriptionID: p.ID,
			PatientID:      p.PatientID,
			CompletedAt:    at,
			Bill:           bill,
			Deductions:     deductions,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("prescription_id", id.String()).
		Int("issues", len(out.Deductions)).
		Msg("prescription completed")
	s.queue.Notify(ctx, entry)
	s.broadcast(ctx, out)
	return out, nil
}

// ready reports why p cannot be completed yet, or returns its bill.
func (s *Service) ready(ctx context.Context, p *prescription.Prescription) (*billing.Bill, error) {
	if p.Completed() {
		return nil, ErrAlreadyCompleted
	}
	for _, is := range p.Issues {
		if is.BatchID == nil {
			return nil, fmt.Errorf("%w: %s", ErrBatchNotAssigned, is.DrugName)
		}
	}
	bill, err := s.bills.GetByPrescription(ctx, p.ID)
	if errors.Is(err, billing.ErrBillNotFound) {
		return nil, ErrBillNotCalculated
	}
	if err != nil {
		return nil, err
	}

	billed := make(map[uuid.UUID]uuid.UUID, len(bill.Entries))
	for _, e := range bill.Entries {
		billed[e.IssueID] = e.BatchID
	}
	if len(billed) != len(p.Issues) {
		return nil, ErrBillOutdated
	}
	for _, is := range p.Issues {
		if batchID, ok := billed[is.ID]; !ok || batchID != *is.BatchID {
			return nil, ErrBillOutdated
		}
	}
	return bill, nil
}

func (s *Service) broadcast(ctx context.Context, c *Completion) {
	if s.events == nil {
		return
	}
	p := c.Prescription
	events := make([]websocket.Event, 0, len(c.Deductions)+1)
	ev, err := websocket.NewEvent(websocket.TopicPrescriptions, EventCompleted, prescription.AggregateType, p.ID.String(), map[string]interface{}{
		"patient_id": p.PatientID,
		"total":      c.Bill.Total(),
	})
	if err == nil {
		events = append(events, ev)
	}
	for _, d := range c.Deductions {
		evType := "batch.deducted"
		if d.Status == inventory.StatusCompleted {
			evType = "batch.exhausted"
		}
		if ev, err := websocket.NewEvent(websocket.TopicStock, evType, "batch", d.BatchID.String(), d); err == nil {
			events = append(events, ev)
		}
	}
	for _, ev := range events {
		if err := s.events.Publish(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Str("event", ev.Type).Msg("publish completion event")
		}
	}
}
