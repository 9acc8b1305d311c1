package prescription

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/dispensary/internal/domain/dosing"
	"github.com/clinic/dispensary/internal/domain/inventory"
	"github.com/clinic/dispensary/internal/domain/queue"
	"github.com/clinic/dispensary/internal/platform/apperr"
	"github.com/clinic/dispensary/internal/platform/db"
	"github.com/clinic/dispensary/internal/platform/outbox"
	"github.com/clinic/dispensary/internal/platform/websocket"
)

const (
	AggregateType = "prescription"
	EventCreated  = "prescription.created"
)

// Catalog is satisfied by inventory.Service.
type Catalog interface {
	GetDrug(ctx context.Context, id uuid.UUID) (*inventory.Drug, error)
	GetBrand(ctx context.Context, id uuid.UUID) (*inventory.Brand, error)
}

// PatientChecker is satisfied by patient.Service.
type PatientChecker interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Queue is satisfied by queue.Service.
type Queue interface {
	Advance(ctx context.Context, patientID uuid.UUID, from, to queue.Status) (*queue.Entry, error)
	Notify(ctx context.Context, e *queue.Entry)
}

type Service struct {
	repo     Repository
	history  HistoryRepository
	catalog  Catalog
	patients PatientChecker
	queue    Queue
	outbox   outbox.Writer
	tx       db.Transactor
	events   websocket.EventPublisher
	logger   zerolog.Logger
}

func NewService(
	repo Repository,
	history HistoryRepository,
	catalog Catalog,
	patients PatientChecker,
	q Queue,
	ob outbox.Writer,
	tx db.Transactor,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		history:  history,
		catalog:  catalog,
		patients: patients,
		queue:    q,
		outbox:   ob,
		tx:       tx,
		logger:   logger.With().Str("component", "prescription").Logger(),
	}
}

// SetPublisher attaches an optional publisher for prescription events.
func (s *Service) SetPublisher(p websocket.EventPublisher) {
	s.events = p
}

// CreatePrescription persists form as a PENDING prescription and moves the
// patient's queue entry to PRESCRIBED. Nothing is written unless every step
// succeeds.
func (s *Service) CreatePrescription(ctx context.Context, form *Form) (*Prescription, error) {
	p, err := s.prepare(form)
	if err != nil {
		return nil, err
	}

	var entry *queue.Entry
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := s.patients.Exists(ctx, p.PatientID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound("patient %s not found", p.PatientID)
		}
		for _, is := range p.Issues {
			drug, err := s.catalog.GetDrug(ctx, is.DrugID)
			if err != nil {
				return err
			}
			brand, err := s.catalog.GetBrand(ctx, is.BrandID)
			if err != nil {
				return err
			}
			is.DrugName, is.BrandName = drug.Name, brand.Name
		}

		if err := s.repo.Create(ctx, p); err != nil {
			return fmt.Errorf("create prescription: %w", err)
		}
		entry, err = s.queue.Advance(ctx, p.PatientID, queue.StatusPending, queue.StatusPrescribed)
		if err != nil {
			return fmt.Errorf("advance queue: %w", err)
		}
		return s.outbox.Append(ctx, AggregateType, p.ID, EventCreated, createdEvent(p))
	})
	if err != nil {
		return nil, err
	}

	s.rememberStrategies(ctx, p)
	s.queue.Notify(ctx, entry)
	s.notify(ctx, EventCreated, p)
	return p, nil
}

// prepare checks form without touching the store and lays it out as a
// prescription. Each declared quantity must equal the one its strategy
// yields.
func (s *Service) prepare(form *Form) (*Prescription, error) {
	if form == nil || len(form.Entries) == 0 {
		return nil, ErrEmptyPrescription
	}
	if form.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	if form.ExtraDoctorCharge.IsNegative() {
		return nil, apperr.Validation("extra_doctor_charge must not be negative")
	}

	p := &Prescription{
		PatientID:         form.PatientID,
		Status:            StatusPending,
		ExtraDoctorCharge: form.ExtraDoctorCharge,
		Vitals:            form.Vitals,
		CreatedBy:         form.CreatedBy,
	}
	seen := make(map[uuid.UUID]bool)
	for pos, e := range form.Entries {
		switch {
		case e.Kind == EntryIssue && e.Issue != nil:
			d := e.Issue
			if d.DrugID == uuid.Nil || d.BrandID == uuid.Nil {
				return nil, apperr.Validation("entry %d: drug and brand are both required", pos+1)
			}
			if seen[d.DrugID] {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateDrug, d.DrugID)
			}
			seen[d.DrugID] = true
			qty, err := dosing.Quantity(d.Strategy.Strategy)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", pos+1, err)
			}
			if qty.IsZero() {
				return nil, fmt.Errorf("entry %d: %w", pos+1, ErrZeroQuantity)
			}
			if !qty.Equal(d.Quantity) {
				return nil, fmt.Errorf("%w: entry %d declares %s, strategy gives %s", ErrQuantityMismatch, pos+1, d.Quantity, qty)
			}
			p.Issues = append(p.Issues, &Issue{
				DrugID:   d.DrugID,
				BrandID:  d.BrandID,
				Strategy: d.Strategy,
				Details:  d.Details,
				Quantity: qty,
				Position: pos,
			})
		case e.Kind == EntryOffRecord && e.OffRecord != nil:
			if e.OffRecord.Name == "" {
				return nil, apperr.Validation("entry %d: off-record medication name is required", pos+1)
			}
			p.OffRecordMeds = append(p.OffRecordMeds, &OffRecordMedication{
				Name:        e.OffRecord.Name,
				Description: e.OffRecord.Description,
				Position:    pos,
			})
		default:
			return nil, apperr.Validation("entry %d: unknown kind %q", pos+1, e.Kind)
		}
	}
	return p, nil
}

func createdEvent(p *Prescription) CreatedEvent {
	ev := CreatedEvent{
		PrescriptionID: p.ID,
		PatientID:      p.PatientID,
		CreatedBy:      p.CreatedBy,
		CreatedAt:      p.CreatedAt,
		Issues:         make([]IssueLine, 0, len(p.Issues)),
		OffRecord:      make([]string, 0, len(p.OffRecordMeds)),
	}
	for _, is := range p.Issues {
		ev.Issues = append(ev.Issues, IssueLine{
			IssueID:  is.ID,
			DrugID:   is.DrugID,
			BrandID:  is.BrandID,
			Quantity: is.Quantity,
			Dosage:   dosing.Describe(is.Strategy.Strategy),
			Details:  is.Details,
		})
	}
	for _, m := range p.OffRecordMeds {
		ev.OffRecord = append(ev.OffRecord, m.Name)
	}
	return ev
}

// rememberStrategies records each issue's strategy as the drug's pre-fill.
// Failures are logged and never reach the caller.
func (s *Service) rememberStrategies(ctx context.Context, p *Prescription) {
	for _, is := range p.Issues {
		h := &StrategyHistory{DrugID: is.DrugID, Strategy: is.Strategy, Details: is.Details}
		if err := s.history.Upsert(ctx, h); err != nil {
			s.logger.Warn().Err(err).
				Str("drug_id", is.DrugID.String()).
				Str("prescription_id", p.ID.String()).
				Msg("record strategy history")
		}
	}
}

func (s *Service) notify(ctx context.Context, eventType string, p *Prescription) {
	if s.events == nil {
		return
	}
	ev, err := websocket.NewEvent(websocket.TopicPrescriptions, eventType, AggregateType, p.ID.String(), map[string]interface{}{
		"patient_id": p.PatientID,
		"status":     p.Status,
		"issues":     len(p.Issues),
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("build prescription event")
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("prescription_id", p.ID.String()).Msg("publish prescription event")
	}
}

func (s *Service) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	ok, err := s.patients.Exists(ctx, patientID)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, apperr.NotFound("patient %s not found", patientID)
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListPrescriptions(ctx context.Context, status Status, limit, offset int) ([]*Prescription, int, error) {
	if status != "" && !validStatuses[status] {
		return nil, 0, apperr.Validation("unknown status %q", status)
	}
	return s.repo.List(ctx, status, limit, offset)
}

// StrategyHistory returns the strategy a drug was last prescribed with.
func (s *Service) StrategyHistory(ctx context.Context, drugID uuid.UUID) (*StrategyHistory, error) {
	if _, err := s.catalog.GetDrug(ctx, drugID); err != nil {
		return nil, err
	}
	return s.history.Get(ctx, drugID)
}
