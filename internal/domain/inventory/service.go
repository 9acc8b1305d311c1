package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinic/dispensary/internal/platform/apperr"
	"github.com/clinic/dispensary/internal/platform/db"
	"github.com/clinic/dispensary/internal/platform/websocket"
)

type Service struct {
	drugs   DrugRepository
	brands  BrandRepository
	batches BatchRepository
	history BatchHistoryRepository
	tx      db.Transactor
	events  websocket.EventPublisher
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(
	drugs DrugRepository,
	brands BrandRepository,
	batches BatchRepository,
	history BatchHistoryRepository,
	tx db.Transactor,
	logger zerolog.Logger,
) *Service {
	return &Service{
		drugs:   drugs,
		brands:  brands,
		batches: batches,
		history: history,
		tx:      tx,
		logger:  logger.With().Str("component", "inventory").Logger(),
		now:     time.Now,
	}
}

// SetPublisher attaches an optional publisher for stock change events.
func (s *Service) SetPublisher(p websocket.EventPublisher) {
	s.events = p
}

// Batches exposes the batch repository to the dispensing workflow, which
// deducts stock inside its own transaction.
func (s *Service) Batches() BatchRepository {
	return s.batches
}

// -- Drugs and brands --

func (s *Service) CreateDrug(ctx context.Context, d *Drug) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return apperr.Validation("name is required")
	}
	if err := s.drugs.Create(ctx, d); err != nil {
		if errors.Is(err, ErrDuplicateName) {
			return fmt.Errorf("%w: drug %q", ErrDuplicateName, d.Name)
		}
		return err
	}
	return nil
}

func (s *Service) GetDrug(ctx context.Context, id uuid.UUID) (*Drug, error) {
	return s.drugs.GetByID(ctx, id)
}

func (s *Service) SearchDrugs(ctx context.Context, name string, limit, offset int) ([]*Drug, int, error) {
	return s.drugs.Search(ctx, strings.TrimSpace(name), limit, offset)
}

func (s *Service) CreateBrand(ctx context.Context, b *Brand) error {
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		return apperr.Validation("name is required")
	}
	if err := s.brands.Create(ctx, b); err != nil {
		if errors.Is(err, ErrDuplicateName) {
			return fmt.Errorf("%w: brand %q", ErrDuplicateName, b.Name)
		}
		return err
	}
	return nil
}

func (s *Service) GetBrand(ctx context.Context, id uuid.UUID) (*Brand, error) {
	return s.brands.GetByID(ctx, id)
}

func (s *Service) SearchBrands(ctx context.Context, name string, limit, offset int) ([]*Brand, int, error) {
	return s.brands.Search(ctx, strings.TrimSpace(name), limit, offset)
}

// -- Batches --

func (s *Service) CreateBatch(ctx context.Context, b *Batch) error {
	if b.DrugID == uuid.Nil {
		return apperr.Validation("drug_id is required")
	}
	if b.BrandID == uuid.Nil {
		return apperr.Validation("brand_id is required")
	}
	b.Number = strings.TrimSpace(b.Number)
	if b.Number == "" {
		return apperr.Validation("number is required")
	}
	if strings.TrimSpace(b.DrugType) == "" {
		return apperr.Validation("drug_type is required")
	}
	if !b.FullAmount.IsPositive() {
		return apperr.Validation("full_amount must be greater than zero")
	}
	if b.RemainingQuantity.IsZero() {
		b.RemainingQuantity = b.FullAmount
	}
	if b.RemainingQuantity.IsNegative() || b.RemainingQuantity.GreaterThan(b.FullAmount) {
		return apperr.Validation("remaining_quantity must be between 0 and full_amount")
	}
	if b.UnitConcentration.IsNegative() || b.WholesalePrice.IsNegative() || b.RetailPrice.IsNegative() {
		return apperr.Validation("concentration and prices must not be negative")
	}
	if b.ExpiryDate.IsZero() {
		return apperr.Validation("expiry_date is required")
	}
	if b.StockDate.IsZero() {
		b.StockDate = s.now()
	}
	if b.Status == "" {
		b.Status = StatusAvailable
	}
	if b.Status != StatusAvailable {
		return apperr.Validation("new batches must be %s", StatusAvailable)
	}

	drug, err := s.drugs.GetByID(ctx, b.DrugID)
	if err != nil {
		return err
	}
	brand, err := s.brands.GetByID(ctx, b.BrandID)
	if err != nil {
		return err
	}
	if err := s.batches.Create(ctx, b); err != nil {
		return err
	}
	b.DrugName, b.BrandName = drug.Name, brand.Name
	s.notify(ctx, "batch.created", b.ID, b)
	return nil
}

func (s *Service) GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	return s.batches.GetByID(ctx, id)
}

func (s *Service) SearchBatches(ctx context.Context, f BatchFilter, limit, offset int) ([]*Batch, int, error) {
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, 0, apperr.Validation("invalid status: %s", f.Status)
	}
	if f.Now.IsZero() {
		f.Now = s.now()
	}
	return s.batches.Search(ctx, f, limit, offset)
}

// AvailableBatches lists batches that can still be dispensed, earliest
// expiry first.
func (s *Service) AvailableBatches(ctx context.Context, drugID, brandID uuid.UUID) ([]*Batch, error) {
	if drugID == uuid.Nil || brandID == uuid.Nil {
		return nil, apperr.Validation("drug_id and brand_id are required")
	}
	return s.batches.Available(ctx, drugID, brandID, s.now())
}

// AvailableBrands lists the brands of a drug that have dispensable stock,
// with the stock aggregated per brand.
func (s *Service) AvailableBrands(ctx context.Context, drugID uuid.UUID) ([]*StockLevel, error) {
	if _, err := s.drugs.GetByID(ctx, drugID); err != nil {
		return nil, err
	}
	return s.batches.AvailableBrands(ctx, drugID, s.now())
}

func (s *Service) StockSummary(ctx context.Context) (*StockSummary, error) {
	now := s.now()
	byDrug, err := s.batches.StockByDrug(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("stock by drug: %w", err)
	}
	byBrand, err := s.batches.StockByBrand(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("stock by brand: %w", err)
	}
	return &StockSummary{ByDrug: byDrug, ByBrand: byBrand}, nil
}

// ChangeStatus retires an AVAILABLE batch. Terminal statuses are final.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, to BatchStatus) (*Batch, error) {
	if !to.Terminal() {
		return nil, apperr.Validation("invalid target status: %s", to)
	}
	b, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusAvailable {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
	}
	ok, err := s.batches.UpdateStatus(ctx, id, StatusAvailable, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: batch changed concurrently", ErrInvalidTransition)
	}
	b.Status = to
	s.notify(ctx, "batch.status_changed", b.ID, b)
	return b, nil
}

// CorrectRemaining overwrites a batch's remaining quantity after a stock
// count. It is the only way to change the quantity of a terminal batch and
// always records the reason.
func (s *Service) CorrectRemaining(ctx context.Context, id uuid.UUID, qty decimal.Decimal, reason, actor string) (*Adjustment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("reason is required")
	}
	if qty.IsNegative() {
		return nil, apperr.Validation("quantity must not be negative")
	}

	adj := &Adjustment{BatchID: id, Quantity: qty, Reason: reason, AdjustedBy: actor}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		// locked so a concurrent deduction cannot change Previous underneath us
		b, err := s.batches.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if qty.GreaterThan(b.FullAmount) {
			return apperr.Validation("quantity %s exceeds full amount %s", qty, b.FullAmount)
		}
		adj.Previous = b.RemainingQuantity
		return s.batches.Adjust(ctx, adj)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("batch_id", id.String()).
		Str("previous", adj.Previous.String()).
		Str("quantity", qty.String()).
		Str("reason", reason).
		Str("actor", actor).
		Msg("batch quantity corrected")
	s.notify(ctx, "batch.corrected", id, adj)
	return adj, nil
}

// ExpireBatches marks every AVAILABLE batch whose expiry is at or before now
// as EXPIRED and returns their ids.
func (s *Service) ExpireBatches(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	if now.IsZero() {
		now = s.now()
	}
	ids, err := s.batches.ExpireLapsed(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("expire batches: %w", err)
	}
	for _, id := range ids {
		s.notify(ctx, "batch.expired", id, nil)
	}
	return ids, nil
}

// SuggestBatch pre-fills the batch for a drug and brand: the last batch used
// if it can still be dispensed, otherwise the available batch that expires
// first.
func (s *Service) SuggestBatch(ctx context.Context, drugID, brandID uuid.UUID) (*Batch, error) {
	now := s.now()
	if h, err := s.history.Get(ctx, drugID, brandID); err == nil {
		if b, err := s.batches.GetByID(ctx, h.BatchID); err == nil && b.Available(now) {
			return b, nil
		}
	}
	available, err := s.AvailableBatches(ctx, drugID, brandID)
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, ErrNoAvailableBatch
	}
	return available[0], nil
}

// RecordBatchUse remembers batchID as the last batch used for the pair.
func (s *Service) RecordBatchUse(ctx context.Context, drugID, brandID, batchID uuid.UUID) error {
	return s.history.Upsert(ctx, &BatchHistory{DrugID: drugID, BrandID: brandID, BatchID: batchID})
}

func (s *Service) notify(ctx context.Context, eventType string, id uuid.UUID, data interface{}) {
	if s.events == nil {
		return
	}
	ev, err := websocket.NewEvent(websocket.TopicStock, eventType, "batch", id.String(), data)
	if err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("build stock event")
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("publish stock event")
	}
}
