package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/dispensary/internal/platform/apperr"
	"github.com/clinic/dispensary/internal/platform/db"
	"github.com/clinic/dispensary/internal/platform/websocket"
)

// PatientChecker is satisfied by patient.Service.
type PatientChecker interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type Service struct {
	repo     Repository
	patients PatientChecker
	events   websocket.EventPublisher
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, patients PatientChecker, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		patients: patients,
		logger:   logger.With().Str("component", "queue").Logger(),
		now:      time.Now,
	}
}

// SetPublisher attaches an optional publisher for queue events.
func (s *Service) SetPublisher(p websocket.EventPublisher) {
	s.events = p
}

const enqueueAttempts = 3

// Enqueue gives the patient the next number of today's queue.
func (s *Service) Enqueue(ctx context.Context, patientID uuid.UUID) (*Entry, error) {
	if patientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	ok, err := s.patients.Exists(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("patient %s not found", patientID)
	}

	today := Day(s.now())
	if _, err := s.repo.OpenForPatient(ctx, patientID, today); err == nil {
		return nil, ErrAlreadyQueued
	} else if !errors.Is(err, ErrEntryNotFound) {
		return nil, err
	}

	e := &Entry{PatientID: patientID, QueueDate: today, Status: StatusPending}
	for attempt := 1; ; attempt++ {
		err = s.repo.Create(ctx, e)
		// two receptionists racing for the same number
		if err == nil || !db.IsUniqueViolation(err) || attempt == enqueueAttempts {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue patient: %w", err)
	}
	s.Notify(ctx, e)
	return e, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListToday(ctx context.Context) ([]*Entry, error) {
	return s.repo.ListByDate(ctx, Day(s.now()))
}

// Advance moves the patient's entry from one status to the next. It runs in
// whatever transaction ctx carries and returns nil when the patient has no
// entry in from.
func (s *Service) Advance(ctx context.Context, patientID uuid.UUID, from, to Status) (*Entry, error) {
	if next[from] != to {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return s.repo.Advance(ctx, patientID, from, to)
}

// Notify broadcasts e to queue screens. A nil entry is ignored.
func (s *Service) Notify(ctx context.Context, e *Entry) {
	if e == nil || s.events == nil {
		return
	}
	ev, err := websocket.NewEvent(websocket.TopicQueue, "queue.updated", "queue_entry", e.ID.String(), e)
	if err != nil {
		s.logger.Warn().Err(err).Msg("build queue event")
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("entry_id", e.ID.String()).Msg("publish queue event")
	}
}
