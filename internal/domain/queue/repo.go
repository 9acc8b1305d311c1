package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Create assigns the next queue number of e.QueueDate.
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	ListByDate(ctx context.Context, day time.Time) ([]*Entry, error)
	// OpenForPatient returns the patient's unfinished entry of day, or
	// ErrEntryNotFound.
	OpenForPatient(ctx context.Context, patientID uuid.UUID, day time.Time) (*Entry, error)
	// Advance moves the patient's latest entry in status from to status to.
	// It returns nil without error when no such entry exists.
	Advance(ctx context.Context, patientID uuid.UUID, from, to Status) (*Entry, error)
}
