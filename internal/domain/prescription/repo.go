package prescription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts p with its issues and off-record medications, assigning
	// every id.
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	// GetForUpdate loads p with its issues, holding the row lock until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Prescription, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error)
	List(ctx context.Context, status Status, limit, offset int) ([]*Prescription, int, error)
	SetIssueBatch(ctx context.Context, issueID, batchID uuid.UUID) error
	// MarkCompleted reports false when p was no longer PENDING.
	MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

type HistoryRepository interface {
	Get(ctx context.Context, drugID uuid.UUID) (*StrategyHistory, error)
	Upsert(ctx context.Context, h *StrategyHistory) error
}
