package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	// Search matches q against the name (substring) and the NIC (prefix).
	Search(ctx context.Context, q string, limit, offset int) ([]*Patient, int, error)
}
