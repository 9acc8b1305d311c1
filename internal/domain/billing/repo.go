package billing

import (
	"context"

	"github.com/google/uuid"
)

type ChargeRepository interface {
	Create(ctx context.Context, c *Charge) error
	GetByID(ctx context.Context, id uuid.UUID) (*Charge, error)
	// GetByType returns the singleton charge of t (DISPENSARY or DOCTOR).
	GetByType(ctx context.Context, t ChargeType) (*Charge, error)
	List(ctx context.Context, t ChargeType) ([]*Charge, error)
	Update(ctx context.Context, c *Charge) error
}

type BillRepository interface {
	// Upsert writes b as the prescription's only bill, replacing the entries
	// and components of any earlier one. b.ID is set to the stored bill id.
	Upsert(ctx context.Context, b *Bill) error
	GetByPrescription(ctx context.Context, prescriptionID uuid.UUID) (*Bill, error)
}
