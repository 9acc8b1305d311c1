package inventory

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinic/dispensary/internal/platform/apperr"
	"github.com/clinic/dispensary/internal/platform/websocket"
)

// -- Mock Repositories --

type mockDrugRepo struct {
	drugs map[uuid.UUID]*Drug
}

func newMockDrugRepo() *mockDrugRepo {
	return &mockDrugRepo{drugs: make(map[uuid.UUID]*Drug)}
}

func (m *mockDrugRepo) Create(_ context.Context, d *Drug) error {
	for _, existing := range m.drugs {
		if strings.EqualFold(existing.Name, d.Name) {
			return ErrDuplicateName
		}
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	m.drugs[d.ID] = d
	return nil
}

func (m *mockDrugRepo) GetByID(_ context.Context, id uuid.UUID) (*Drug, error) {
	d, ok := m.drugs[id]
	if !ok {
		return nil, ErrDrugNotFound
	}
	return d, nil
}

func (m *mockDrugRepo) Search(_ context.Context, name string, limit, offset int) ([]*Drug, int, error) {
	var out []*Drug
	for _, d := range m.drugs {
		if name == "" || strings.Contains(strings.ToLower(d.Name), strings.ToLower(name)) {
			out = append(out, d)
		}
	}
	return page(out, limit, offset), len(out), nil
}

type mockBrandRepo struct {
	brands map[uuid.UUID]*Brand
}

func newMockBrandRepo() *mockBrandRepo {
	return &mockBrandRepo{brands: make(map[uuid.UUID]*Brand)}
}

func (m *mockBrandRepo) Create(_ context.Context, b *Brand) error {
	for _, existing := range m.brands {
		if strings.EqualFold(existing.Name, b.Name) {
			return ErrDuplicateName
		}
	}
	b.ID = uuid.New()
	m.brands[b.ID] = b
	return nil
}

func (m *mockBrandRepo) GetByID(_ context.Context, id uuid.UUID) (*Brand, error) {
	b, ok := m.brands[id]
	if !ok {
		return nil, ErrBrandNotFound
	}
	return b, nil
}

func (m *mockBrandRepo) Search(_ context.Context, _ string, limit, offset int) ([]*Brand, int, error) {
	var out []*Brand
	for _, b := range m.brands {
		out = append(out, b)
	}
	return page(out, limit, offset), len(out), nil
}

type mockBatchRepo struct {
	batches     map[uuid.UUID]*Batch
	adjustments []*Adjustment
	locked      []uuid.UUID
}

func newMockBatchRepo() *mockBatchRepo {
	return &mockBatchRepo{batches: make(map[uuid.UUID]*Batch)}
}

func (m *mockBatchRepo) Create(_ context.Context, b *Batch) error {
	b.ID = uuid.New()
	m.batches[b.ID] = b
	return nil
}

func (m *mockBatchRepo) GetByID(_ context.Context, id uuid.UUID) (*Batch, error) {
	b, ok := m.batches[id]
	if !ok {
		return nil, ErrBatchNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *mockBatchRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Batch, error) {
	m.locked = append(m.locked, id)
	return m.GetByID(ctx, id)
}

func (m *mockBatchRepo) Search(_ context.Context, f BatchFilter, limit, offset int) ([]*Batch, int, error) {
	var out []*Batch
	for _, b := range m.batches {
		if f.DrugID != nil && b.DrugID != *f.DrugID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if f.Expired != nil && b.Expired(f.Now) != *f.Expired {
			continue
		}
		out = append(out, b)
	}
	return page(out, limit, offset), len(out), nil
}

func (m *mockBatchRepo) Available(_ context.Context, drugID, brandID uuid.UUID, now time.Time) ([]*Batch, error) {
	var out []*Batch
	for _, b := range m.batches {
		if b.DrugID == drugID && b.BrandID == brandID && b.Available(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiryDate.Before(out[j].ExpiryDate) })
	return out, nil
}

func (m *mockBatchRepo) AvailableBrands(_ context.Context, drugID uuid.UUID, now time.Time) ([]*StockLevel, error) {
	levels := map[uuid.UUID]*StockLevel{}
	for _, b := range m.batches {
		if b.DrugID != drugID || !b.Available(now) {
			continue
		}
		l, ok := levels[b.BrandID]
		if !ok {
			brandID := b.BrandID
			l = &StockLevel{DrugID: drugID, BrandID: &brandID}
			levels[b.BrandID] = l
		}
		l.Remaining = l.Remaining.Add(b.RemainingQuantity)
		l.Batches++
	}
	var out []*StockLevel
	for _, l := range levels {
		out = append(out, l)
	}
	return out, nil
}

func (m *mockBatchRepo) StockByDrug(_ context.Context, now time.Time) ([]*StockLevel, error) {
	levels := map[uuid.UUID]*StockLevel{}
	for _, b := range m.batches {
		if !b.Available(now) {
			continue
		}
		l, ok := levels[b.DrugID]
		if !ok {
			l = &StockLevel{DrugID: b.DrugID}
			levels[b.DrugID] = l
		}
		l.Remaining = l.Remaining.Add(b.RemainingQuantity)
		l.Batches++
	}
	var out []*StockLevel
	for _, l := range levels {
		out = append(out, l)
	}
	return out, nil
}

func (m *mockBatchRepo) StockByBrand(ctx context.Context, now time.Time) ([]*StockLevel, error) {
	var out []*StockLevel
	seen := map[uuid.UUID]bool{}
	for _, b := range m.batches {
		if seen[b.DrugID] {
			continue
		}
		seen[b.DrugID] = true
		levels, _ := m.AvailableBrands(ctx, b.DrugID, now)
		out = append(out, levels...)
	}
	return out, nil
}

func (m *mockBatchRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to BatchStatus) (bool, error) {
	b, ok := m.batches[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	return true, nil
}

func (m *mockBatchRepo) Adjust(_ context.Context, adj *Adjustment) error {
	b, ok := m.batches[adj.BatchID]
	if !ok {
		return ErrBatchNotFound
	}
	b.RemainingQuantity = adj.Quantity
	adj.ID = uuid.New()
	m.adjustments = append(m.adjustments, adj)
	return nil
}

func (m *mockBatchRepo) ExpireLapsed(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, b := range m.batches {
		if b.Status == StatusAvailable && b.Expired(now) {
			b.Status = StatusExpired
			ids = append(ids, b.ID)
		}
	}
	return ids, nil
}

func (m *mockBatchRepo) Deduct(_ context.Context, id uuid.UUID, qty decimal.Decimal) (*Deduction, error) {
	b, ok := m.batches[id]
	if !ok || b.Status != StatusAvailable || b.Expired(time.Now()) || b.RemainingQuantity.LessThan(qty) {
		return nil, ErrInsufficientStock
	}
	b.RemainingQuantity = b.RemainingQuantity.Sub(qty)
	if b.RemainingQuantity.IsZero() {
		b.Status = StatusCompleted
	}
	return &Deduction{BatchID: id, Quantity: qty, Remaining: b.RemainingQuantity, Status: b.Status}, nil
}

type mockHistoryRepo struct {
	entries map[[2]uuid.UUID]*BatchHistory
}

func newMockHistoryRepo() *mockHistoryRepo {
	return &mockHistoryRepo{entries: make(map[[2]uuid.UUID]*BatchHistory)}
}

func (m *mockHistoryRepo) Get(_ context.Context, drugID, brandID uuid.UUID) (*BatchHistory, error) {
	h, ok := m.entries[[2]uuid.UUID{drugID, brandID}]
	if !ok {
		return nil, ErrBatchNotFound
	}
	return h, nil
}

func (m *mockHistoryRepo) Upsert(_ context.Context, h *BatchHistory) error {
	h.UpdatedAt = time.Now()
	m.entries[[2]uuid.UUID{h.DrugID, h.BrandID}] = h
	return nil
}

type passthroughTx struct{ calls int }

func (p *passthroughTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	p.calls++
	return fn(ctx)
}

type recordingPublisher struct{ events []websocket.Event }

func (r *recordingPublisher) Publish(_ context.Context, ev websocket.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// -- Fixtures --

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	drugs   *mockDrugRepo
	brands  *mockBrandRepo
	batches *mockBatchRepo
	history *mockHistoryRepo
	events  *recordingPublisher
	drug    *Drug
	brand   *Brand
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		drugs:   newMockDrugRepo(),
		brands:  newMockBrandRepo(),
		batches: newMockBatchRepo(),
		history: newMockHistoryRepo(),
		events:  &recordingPublisher{},
	}
	f.svc = NewService(f.drugs, f.brands, f.batches, f.history, &passthroughTx{}, zerolog.New(io.Discard))
	f.svc.now = func() time.Time { return testNow }
	f.svc.SetPublisher(f.events)

	f.drug = &Drug{Name: "Paracetamol"}
	if err := f.svc.CreateDrug(context.Background(), f.drug); err != nil {
		t.Fatalf("CreateDrug: %v", err)
	}
	f.brand = &Brand{Name: "Panadol"}
	if err := f.svc.CreateBrand(context.Background(), f.brand); err != nil {
		t.Fatalf("CreateBrand: %v", err)
	}
	return f
}

func (f *fixture) addBatch(t *testing.T, number string, remaining string, expiresIn time.Duration) *Batch {
	t.Helper()
	b := &Batch{
		DrugID:            f.drug.ID,
		BrandID:           f.brand.ID,
		Number:            number,
		DrugType:          "TABLET",
		FullAmount:        decimal.NewFromInt(100),
		RemainingQuantity: decimal.RequireFromString(remaining),
		RetailPrice:       decimal.NewFromInt(5),
		ExpiryDate:        testNow.Add(expiresIn),
	}
	if err := f.svc.CreateBatch(context.Background(), b); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	return b
}

// -- Drug & Brand --

func TestService_CreateDrug(t *testing.T) {
	f := newFixture(t)
	if f.drug.ID == uuid.Nil {
		t.Fatal("expected ID to be set")
	}

	err := f.svc.CreateDrug(context.Background(), &Drug{Name: "  "})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	err = f.svc.CreateDrug(context.Background(), &Drug{Name: "paracetamol"})
	if !errors.Is(err, ErrDuplicateName) {
		t.Errorf("expected duplicate name, got %v", err)
	}
}

func TestService_CreateBrand_TrimsName(t *testing.T) {
	f := newFixture(t)
	b := &Brand{Name: "  Calpol "}
	if err := f.svc.CreateBrand(context.Background(), b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Name != "Calpol" {
		t.Errorf("expected trimmed name, got %q", b.Name)
	}
}

// -- Batches --

func TestService_CreateBatch_Defaults(t *testing.T) {
	f := newFixture(t)
	b := f.addBatch(t, "LOT-1", "0", 30*24*time.Hour)

	if !b.RemainingQuantity.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected remaining to default to full amount, got %s", b.RemainingQuantity)
	}
	if b.Status != StatusAvailable {
		t.Errorf("expected AVAILABLE, got %s", b.Status)
	}
	if !b.StockDate.Equal(testNow) {
		t.Errorf("expected stock date to default to now, got %s", b.StockDate)
	}
	if b.DrugName != "Paracetamol" || b.BrandName != "Panadol" {
		t.Errorf("expected catalogue names, got %q/%q", b.DrugName, b.BrandName)
	}
	if len(f.events.events) != 1 || f.events.events[0].Topic != websocket.TopicStock {
		t.Errorf("expected one stock event, got %+v", f.events.events)
	}
}

func TestService_CreateBatch_Validation(t *testing.T) {
	f := newFixture(t)
	valid := func() *Batch {
		return &Batch{
			DrugID: f.drug.ID, BrandID: f.brand.ID, Number: "LOT", DrugType: "TABLET",
			FullAmount: decimal.NewFromInt(10), RetailPrice: decimal.NewFromInt(1),
			ExpiryDate: testNow.AddDate(1, 0, 0),
		}
	}

	tests := []struct {
		name   string
		mutate func(b *Batch)
		kind   apperr.Kind
	}{
		{"missing drug", func(b *Batch) { b.DrugID = uuid.Nil }, apperr.KindValidation},
		{"missing number", func(b *Batch) { b.Number = "" }, apperr.KindValidation},
		{"missing type", func(b *Batch) { b.DrugType = " " }, apperr.KindValidation},
		{"zero full amount", func(b *Batch) { b.FullAmount = decimal.Zero }, apperr.KindValidation},
		{"remaining above full", func(b *Batch) { b.RemainingQuantity = decimal.NewFromInt(11) }, apperr.KindValidation},
		{"negative price", func(b *Batch) { b.RetailPrice = decimal.NewFromInt(-1) }, apperr.KindValidation},
		{"no expiry", func(b *Batch) { b.ExpiryDate = time.Time{} }, apperr.KindValidation},
		{"terminal status", func(b *Batch) { b.Status = StatusDisposed }, apperr.KindValidation},
		{"unknown drug", func(b *Batch) { b.DrugID = uuid.New() }, apperr.KindNotFound},
		{"unknown brand", func(b *Batch) { b.BrandID = uuid.New() }, apperr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := valid()
			tt.mutate(b)
			err := f.svc.CreateBatch(context.Background(), b)
			if !apperr.Is(err, tt.kind) {
				t.Errorf("expected %s error, got %v", tt.kind, err)
			}
		})
	}
}

func TestService_AvailableBatches_FEFO(t *testing.T) {
	f := newFixture(t)
	late := f.addBatch(t, "LATE", "50", 90*24*time.Hour)
	early := f.addBatch(t, "EARLY", "20", 10*24*time.Hour)
	f.addBatch(t, "EXPIRED", "20", -24*time.Hour)
	empty := f.addBatch(t, "EMPTY", "1", 60*24*time.Hour)
	f.batches.batches[empty.ID].RemainingQuantity = decimal.Zero

	got, err := f.svc.AvailableBatches(context.Background(), f.drug.ID, f.brand.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 available batches, got %d", len(got))
	}
	if got[0].ID != early.ID || got[1].ID != late.ID {
		t.Errorf("expected earliest expiry first, got %s then %s", got[0].Number, got[1].Number)
	}

	if _, err := f.svc.AvailableBatches(context.Background(), uuid.Nil, f.brand.ID); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestService_AvailableBrands(t *testing.T) {
	f := newFixture(t)
	f.addBatch(t, "A", "40", 30*24*time.Hour)
	f.addBatch(t, "B", "35", 60*24*time.Hour)

	levels, err := f.svc.AvailableBrands(context.Background(), f.drug.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(levels) != 1 || !levels[0].Remaining.Equal(decimal.NewFromInt(75)) || levels[0].Batches != 2 {
		t.Errorf("unexpected levels: %+v", levels)
	}

	if _, err := f.svc.AvailableBrands(context.Background(), uuid.New()); !errors.Is(err, ErrDrugNotFound) {
		t.Errorf("expected ErrDrugNotFound, got %v", err)
	}
}

func TestService_StockSummary(t *testing.T) {
	f := newFixture(t)
	f.addBatch(t, "A", "40", 30*24*time.Hour)
	f.addBatch(t, "OLD", "40", -time.Hour)

	summary, err := f.svc.StockSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summary.ByDrug) != 1 || !summary.ByDrug[0].Remaining.Equal(decimal.NewFromInt(40)) {
		t.Errorf("unexpected drug summary: %+v", summary.ByDrug)
	}
	if len(summary.ByBrand) != 1 {
		t.Errorf("unexpected brand summary: %+v", summary.ByBrand)
	}
}

func TestService_ChangeStatus(t *testing.T) {
	f := newFixture(t)
	b := f.addBatch(t, "A", "40", 30*24*time.Hour)

	got, err := f.svc.ChangeStatus(context.Background(), b.ID, StatusQualityFailed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusQualityFailed {
		t.Errorf("expected QUALITY_FAILED, got %s", got.Status)
	}

	// terminal statuses are final
	if _, err := f.svc.ChangeStatus(context.Background(), b.ID, StatusDisposed); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := f.svc.ChangeStatus(context.Background(), b.ID, StatusAvailable); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error moving back to AVAILABLE, got %v", err)
	}
	if _, err := f.svc.ChangeStatus(context.Background(), uuid.New(), StatusTrashed); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("expected ErrBatchNotFound, got %v", err)
	}
}

func TestService_CorrectRemaining(t *testing.T) {
	f := newFixture(t)
	b := f.addBatch(t, "A", "40", 30*24*time.Hour)
	if _, err := f.svc.ChangeStatus(context.Background(), b.ID, StatusDisposed); err != nil {
		t.Fatalf("ChangeStatus: %v", err)
	}

	adj, err := f.svc.CorrectRemaining(context.Background(), b.ID, decimal.NewFromInt(38), "stock count", "pharm-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !adj.Previous.Equal(decimal.NewFromInt(40)) || !adj.Quantity.Equal(decimal.NewFromInt(38)) {
		t.Errorf("unexpected adjustment: %+v", adj)
	}
	if len(f.batches.locked) != 1 || f.batches.locked[0] != b.ID {
		t.Errorf("expected the batch row to be locked before reading the previous quantity, got %v", f.batches.locked)
	}
	if !f.batches.batches[b.ID].RemainingQuantity.Equal(decimal.NewFromInt(38)) {
		t.Error("expected remaining to be corrected")
	}

	if _, err := f.svc.CorrectRemaining(context.Background(), b.ID, decimal.NewFromInt(5), "", "pharm-1"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected reason to be required, got %v", err)
	}
	if _, err := f.svc.CorrectRemaining(context.Background(), b.ID, decimal.NewFromInt(101), "recount", "pharm-1"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected quantity above full amount to fail, got %v", err)
	}
	if _, err := f.svc.CorrectRemaining(context.Background(), b.ID, decimal.NewFromInt(-1), "recount", "pharm-1"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected negative quantity to fail, got %v", err)
	}
}

func TestService_ExpireBatches(t *testing.T) {
	f := newFixture(t)
	lapsed := f.addBatch(t, "OLD", "10", -time.Hour)
	fresh := f.addBatch(t, "NEW", "10", time.Hour)

	ids, err := f.svc.ExpireBatches(context.Background(), testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != lapsed.ID {
		t.Fatalf("expected only the lapsed batch, got %v", ids)
	}
	if f.batches.batches[lapsed.ID].Status != StatusExpired || f.batches.batches[fresh.ID].Status != StatusAvailable {
		t.Error("unexpected statuses after expiry run")
	}
}

func TestService_SuggestBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	early := f.addBatch(t, "EARLY", "10", 10*24*time.Hour)
	late := f.addBatch(t, "LATE", "10", 90*24*time.Hour)

	got, err := f.svc.SuggestBatch(ctx, f.drug.ID, f.brand.ID)
	if err != nil || got.ID != early.ID {
		t.Fatalf("expected FEFO suggestion, got %v (%v)", got, err)
	}

	if err := f.svc.RecordBatchUse(ctx, f.drug.ID, f.brand.ID, late.ID); err != nil {
		t.Fatalf("RecordBatchUse: %v", err)
	}
	got, _ = f.svc.SuggestBatch(ctx, f.drug.ID, f.brand.ID)
	if got.ID != late.ID {
		t.Errorf("expected last used batch, got %s", got.Number)
	}

	f.batches.batches[late.ID].Status = StatusTrashed
	got, _ = f.svc.SuggestBatch(ctx, f.drug.ID, f.brand.ID)
	if got.ID != early.ID {
		t.Errorf("expected fallback to FEFO when history batch is gone, got %s", got.Number)
	}

	f.batches.batches[early.ID].Status = StatusTrashed
	if _, err := f.svc.SuggestBatch(ctx, f.drug.ID, f.brand.ID); !errors.Is(err, ErrNoAvailableBatch) {
		t.Errorf("expected ErrNoAvailableBatch, got %v", err)
	}
}

func TestBatch_CheckDispensable(t *testing.T) {
	drugID, brandID := uuid.New(), uuid.New()
	base := Batch{
		Number: "LOT", DrugID: drugID, BrandID: brandID, Status: StatusAvailable,
		RemainingQuantity: decimal.NewFromInt(10), ExpiryDate: testNow.Add(time.Hour),
	}
	qty := decimal.NewFromInt(9)

	if err := base.CheckDispensable(drugID, brandID, qty, testNow); err != nil {
		t.Fatalf("expected dispensable, got %v", err)
	}

	wrongBrand := base
	if err := wrongBrand.CheckDispensable(drugID, uuid.New(), qty, testNow); !errors.Is(err, ErrBatchNotDispensable) {
		t.Errorf("expected brand mismatch, got %v", err)
	}
	expired := base
	expired.ExpiryDate = testNow
	if err := expired.CheckDispensable(drugID, brandID, qty, testNow); !errors.Is(err, ErrBatchNotDispensable) {
		t.Errorf("expected expired batch to be rejected, got %v", err)
	}
	completed := base
	completed.Status = StatusCompleted
	if err := completed.CheckDispensable(drugID, brandID, qty, testNow); !errors.Is(err, ErrBatchNotDispensable) {
		t.Errorf("expected completed batch to be rejected, got %v", err)
	}
	short := base
	short.RemainingQuantity = decimal.NewFromInt(8)
	if err := short.CheckDispensable(drugID, brandID, qty, testNow); !errors.Is(err, ErrInsufficientStock) {
		t.Errorf("expected insufficient stock, got %v", err)
	}
}

func TestBatchStatus_Terminal(t *testing.T) {
	if StatusAvailable.Terminal() {
		t.Error("AVAILABLE is not terminal")
	}
	for _, s := range []BatchStatus{StatusCompleted, StatusExpired, StatusQualityFailed, StatusDisposed, StatusTrashed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if BatchStatus("LOST").Terminal() {
		t.Error("unknown status must not be terminal")
	}
}
