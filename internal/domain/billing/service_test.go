package billing

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/dispensary/internal/domain/dosing"
	"github.com/clinic/dispensary/internal/domain/inventory"
	"github.com/clinic/dispensary/internal/domain/prescription"
	"github.com/clinic/dispensary/internal/platform/apperr"
	"github.com/clinic/dispensary/internal/platform/websocket"
)

// -- Mocks --

type mockCharges struct {
	charges map[uuid.UUID]*Charge
}

func (m *mockCharges) Create(_ context.Context, c *Charge) error {
	if c.Type == ChargeDispensary || c.Type == ChargeDoctor {
		for _, existing := range m.charges {
			if existing.Type == c.Type {
				return ErrDuplicateCharge
			}
		}
	}
	c.ID = uuid.New()
	m.charges[c.ID] = c
	return nil
}

func (m *mockCharges) GetByID(_ context.Context, id uuid.UUID) (*Charge, error) {
	c, ok := m.charges[id]
	if !ok {
		return nil, ErrChargeNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCharges) GetByType(_ context.Context, t ChargeType) (*Charge, error) {
	for _, c := range m.charges {
		if c.Type == t {
			return c, nil
		}
	}
	return nil, ErrChargeNotFound
}

func (m *mockCharges) List(_ context.Context, t ChargeType) ([]*Charge, error) {
	var out []*Charge
	for _, c := range m.charges {
		if t == "" || c.Type == t {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockCharges) Update(_ context.Context, c *Charge) error {
	if _, ok := m.charges[c.ID]; !ok {
		return ErrChargeNotFound
	}
	m.charges[c.ID] = c
	return nil
}

type mockBills struct {
	bills   map[uuid.UUID]*Bill
	upserts int
}

func (m *mockBills) Upsert(_ context.Context, b *Bill) error {
	m.upserts++
	if existing, ok := m.bills[b.PrescriptionID]; ok {
		b.ID = existing.ID
	} else {
		b.ID = uuid.New()
	}
	m.bills[b.PrescriptionID] = b
	return nil
}

func (m *mockBills) GetByPrescription(_ context.Context, id uuid.UUID) (*Bill, error) {
	b, ok := m.bills[id]
	if !ok {
		return nil, ErrBillNotFound
	}
	return b, nil
}

type mockPrescriptions struct {
	items map[uuid.UUID]*prescription.Prescription
}

func (m *mockPrescriptions) Create(context.Context, *prescription.Prescription) error { return nil }

func (m *mockPrescriptions) GetByID(_ context.Context, id uuid.UUID) (*prescription.Prescription, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, prescription.ErrPrescriptionNotFound
	}
	return p, nil
}

func (m *mockPrescriptions) GetForUpdate(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error) {
	return m.GetByID(ctx, id)
}

func (m *mockPrescriptions) ListByPatient(context.Context, uuid.UUID, int, int) ([]*prescription.Prescription, int, error) {
	return nil, 0, nil
}

func (m *mockPrescriptions) List(context.Context, prescription.Status, int, int) ([]*prescription.Prescription, int, error) {
	return nil, 0, nil
}

func (m *mockPrescriptions) SetIssueBatch(_ context.Context, issueID, batchID uuid.UUID) error {
	for _, p := range m.items {
		if is, ok := p.Issue(issueID); ok {
			is.BatchID = &batchID
			return nil
		}
	}
	return prescription.ErrIssueNotFound
}

func (m *mockPrescriptions) MarkCompleted(context.Context, uuid.UUID, time.Time) (bool, error) {
	return false, nil
}

type batchUse struct{ drug, brand, batch uuid.UUID }

type mockStock struct {
	batches map[uuid.UUID]*inventory.Batch
	used    []batchUse
	useErr  error
}

func (m *mockStock) GetBatch(_ context.Context, id uuid.UUID) (*inventory.Batch, error) {
	b, ok := m.batches[id]
	if !ok {
		return nil, inventory.ErrBatchNotFound
	}
	return b, nil
}

func (m *mockStock) RecordBatchUse(_ context.Context, drugID, brandID, batchID uuid.UUID) error {
	if m.useErr != nil {
		return m.useErr
	}
	m.used = append(m.used, batchUse{drugID, brandID, batchID})
	return nil
}

type passthroughTx struct{}

func (passthroughTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingPublisher struct{ events []websocket.Event }

func (r *recordingPublisher) Publish(_ context.Context, ev websocket.Event) error {
	r.events = append(r.events, ev)
	return nil
}

// -- Fixture --

var now = time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	bills   *mockBills
	charges *mockCharges
	stock   *mockStock
	events  *recordingPublisher
	rx      *prescription.Prescription
	issue   *prescription.Issue
	batch   *inventory.Batch
}

// newFixture prepares a PENDING prescription of one periodic issue
// (1 every 8 hours for 3 days = 9 units) and a batch of 100 at 5.00.
func newFixture() *fixture {
	drug, brand := uuid.New(), uuid.New()
	strategy := dosing.Periodic{Dose: d("1"), IntervalHours: 8, ForDays: 3}
	issue := &prescription.Issue{
		ID:        uuid.New(),
		DrugID:    drug,
		BrandID:   brand,
		Strategy:  dosing.Descriptor{Strategy: strategy},
		Quantity:  d("9"),
		DrugName:  "Amoxicillin",
		BrandName: "Amoxil",
	}
	rx := &prescription.Prescription{
		ID:                uuid.New(),
		PatientID:         uuid.New(),
		Status:            prescription.StatusPending,
		ExtraDoctorCharge: d("250"),
		Issues:            []*prescription.Issue{issue},
	}
	issue.PrescriptionID = rx.ID
	batch := &inventory.Batch{
		ID:                uuid.New(),
		DrugID:            drug,
		BrandID:           brand,
		Number:            "LOT-7",
		FullAmount:        d("100"),
		RemainingQuantity: d("100"),
		RetailPrice:       d("5"),
		ExpiryDate:        now.AddDate(1, 0, 0),
		Status:            inventory.StatusAvailable,
	}

	f := &fixture{
		bills:   &mockBills{bills: make(map[uuid.UUID]*Bill)},
		charges: &mockCharges{charges: make(map[uuid.UUID]*Charge)},
		stock:   &mockStock{batches: map[uuid.UUID]*inventory.Batch{batch.ID: batch}},
		events:  &recordingPublisher{},
		rx:      rx,
		issue:   issue,
		batch:   batch,
	}
	prescriptions := &mockPrescriptions{items: map[uuid.UUID]*prescription.Prescription{rx.ID: rx}}
	f.svc = NewService(f.bills, f.charges, prescriptions, f.stock, passthroughTx{}, zerolog.New(io.Discard))
	f.svc.now = func() time.Time { return now }
	f.svc.SetPublisher(f.events)
	return f
}

func (f *fixture) addCharge(t *testing.T, name string, typ ChargeType, value string) *Charge {
	t.Helper()
	c := &Charge{Name: name, Type: typ, Value: d(value)}
	if err := f.svc.CreateCharge(context.Background(), c); err != nil {
		t.Fatalf("CreateCharge: %v", err)
	}
	return c
}

func (f *fixture) assign() CalculateRequest {
	return CalculateRequest{Assignments: []Assignment{{IssueID: f.issue.ID, BatchID: f.batch.ID}}}
}

// -- CalculateBill --

func TestCalculateBill(t *testing.T) {
	f := newFixture()
	f.addCharge(t, "Dispensary fee", ChargeDispensary, "100")
	f.addCharge(t, "Consultation", ChargeDoctor, "500")

	bill, err := f.svc.CalculateBill(context.Background(), f.rx.ID, f.assign())
	if err != nil {
		t.Fatalf("CalculateBill: %v", err)
	}
	if !bill.MedicinesCharge.Equal(d("45")) {
		t.Errorf("expected medicines 45, got %s", bill.MedicinesCharge)
	}
	if !bill.DispensaryCharge.Equal(d("100")) || !bill.DoctorCharge.Equal(d("750")) {
		t.Errorf("unexpected fees: dispensary %s doctor %s", bill.DispensaryCharge, bill.DoctorCharge)
	}
	if !bill.Total().Equal(d("895")) {
		t.Errorf("expected total 895, got %s", bill.Total())
	}
	if len(bill.Entries) != 1 || bill.Entries[0].BatchID != f.batch.ID || !bill.Entries[0].UnitPrice.Equal(d("5")) {
		t.Fatalf("unexpected entries: %+v", bill.Entries)
	}
	if f.issue.BatchID == nil || *f.issue.BatchID != f.batch.ID {
		t.Error("expected issue bound to batch")
	}
	if len(f.stock.used) != 1 || f.stock.used[0].batch != f.batch.ID {
		t.Errorf("expected batch history recorded, got %+v", f.stock.used)
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != "bill.calculated" {
		t.Errorf("expected bill event, got %+v", f.events.events)
	}
	if !f.batch.RemainingQuantity.Equal(d("100")) {
		t.Error("billing must not touch stock")
	}
}

func TestCalculateBill_Unconfigured(t *testing.T) {
	f := newFixture()
	bill, err := f.svc.CalculateBill(context.Background(), f.rx.ID, f.assign())
	if err != nil {
		t.Fatalf("CalculateBill: %v", err)
	}
	if !bill.DispensaryCharge.IsZero() || !bill.DoctorCharge.Equal(d("250")) {
		t.Errorf("missing fees count as zero: %s %s", bill.DispensaryCharge, bill.DoctorCharge)
	}
}

func TestCalculateBill_Idempotent(t *testing.T) {
	f := newFixture()
	first, err := f.svc.CalculateBill(context.Background(), f.rx.ID, f.assign())
	if err != nil {
		t.Fatalf("first CalculateBill: %v", err)
	}

	discount := f.addCharge(t, "Staff", ChargeDiscount, "10")
	f.batch.RetailPrice = d("6")
	second, err := f.svc.CalculateBill(context.Background(), f.rx.ID, CalculateRequest{ChargeIDs: []uuid.UUID{discount.ID}})
	if err != nil {
		t.Fatalf("second CalculateBill: %v", err)
	}
	if second.ID != first.ID || len(f.bills.bills) != 1 {
		t.Fatalf("expected one bill per prescription, have %d", len(f.bills.bills))
	}
	stored, _ := f.svc.GetBill(context.Background(), f.rx.ID)
	if !stored.MedicinesCharge.Equal(d("54")) || !stored.HasDiscount() {
		t.Errorf("expected latest values, got medicines %s discount %v", stored.MedicinesCharge, stored.HasDiscount())
	}
}

func TestCalculateBill_Rejections(t *testing.T) {
	fee := func(f *fixture) uuid.UUID {
		c := &Charge{Name: "Dispensary", Type: ChargeDispensary, Value: d("100")}
		f.svc.CreateCharge(context.Background(), c)
		return c.ID
	}

	tests := []struct {
		name  string
		setup func(f *fixture) (uuid.UUID, CalculateRequest)
		want  error
	}{
		{"unknown prescription", func(f *fixture) (uuid.UUID, CalculateRequest) {
			return uuid.New(), f.assign()
		}, ErrPrescriptionNotFound},
		{"completed prescription", func(f *fixture) (uuid.UUID, CalculateRequest) {
			f.rx.Status = prescription.StatusCompleted
			return f.rx.ID, f.assign()
		}, ErrPrescriptionAlreadyCompleted},
		{"foreign issue", func(f *fixture) (uuid.UUID, CalculateRequest) {
			req := f.assign()
			req.Assignments = append(req.Assignments, Assignment{IssueID: uuid.New(), BatchID: f.batch.ID})
			return f.rx.ID, req
		}, ErrIssueNotFound},
		{"duplicate assignment", func(f *fixture) (uuid.UUID, CalculateRequest) {
			req := f.assign()
			req.Assignments = append(req.Assignments, req.Assignments[0])
			return f.rx.ID, req
		}, ErrDuplicateAssignment},
		{"unassigned issue", func(f *fixture) (uuid.UUID, CalculateRequest) {
			return f.rx.ID, CalculateRequest{}
		}, ErrBatchNotAssigned},
		{"unknown batch", func(f *fixture) (uuid.UUID, CalculateRequest) {
			return f.rx.ID, CalculateRequest{Assignments: []Assignment{{IssueID: f.issue.ID, BatchID: uuid.New()}}}
		}, ErrBatchNotFound},
		{"wrong brand", func(f *fixture) (uuid.UUID, CalculateRequest) {
			f.batch.BrandID = uuid.New()
			return f.rx.ID, f.assign()
		}, inventory.ErrBatchNotDispensable},
		{"expired batch", func(f *fixture) (uuid.UUID, CalculateRequest) {
			f.batch.ExpiryDate = now.AddDate(0, 0, -1)
			return f.rx.ID, f.assign()
		}, inventory.ErrBatchNotDispensable},
		{"quarantined batch", func(f *fixture) (uuid.UUID, CalculateRequest) {
			f.batch.Status = inventory.StatusQualityFailed
			return f.rx.ID, f.assign()
		}, inventory.ErrBatchNotDispensable},
		{"short batch", func(f *fixture) (uuid.UUID, CalculateRequest) {
			f.batch.RemainingQuantity = d("8")
			return f.rx.ID, f.assign()
		}, inventory.ErrInsufficientStock},
		{"fee attached as component", func(f *fixture) (uuid.UUID, CalculateRequest) {
			req := f.assign()
			req.ChargeIDs = []uuid.UUID{fee(f)}
			return f.rx.ID, req
		}, ErrNotAdjustment},
		{"unknown charge", func(f *fixture) (uuid.UUID, CalculateRequest) {
			req := f.assign()
			req.ChargeIDs = []uuid.UUID{uuid.New()}
			return f.rx.ID, req
		}, ErrChargeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			id, req := tt.setup(f)
			_, err := f.svc.CalculateBill(context.Background(), id, req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if f.bills.upserts != 0 {
				t.Error("no bill should be written")
			}
			if len(f.stock.used) != 0 {
				t.Error("batch history must not be written for a failed bill")
			}
		})
	}
}

func TestCalculateBill_DuplicateCharge(t *testing.T) {
	f := newFixture()
	c := f.addCharge(t, "Staff", ChargeDiscount, "10")
	req := f.assign()
	req.ChargeIDs = []uuid.UUID{c.ID, c.ID}
	if _, err := f.svc.CalculateBill(context.Background(), f.rx.ID, req); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCalculateBill_HistoryFailureIgnored(t *testing.T) {
	f := newFixture()
	f.stock.useErr = errors.New("connection reset")
	if _, err := f.svc.CalculateBill(context.Background(), f.rx.ID, f.assign()); err != nil {
		t.Fatalf("history failures must not fail billing: %v", err)
	}
}

func TestGetBill_NotCalculated(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.GetBill(context.Background(), f.rx.ID); !errors.Is(err, ErrBillNotFound) {
		t.Fatalf("expected ErrBillNotFound, got %v", err)
	}
}

// -- Charges --

func TestCreateCharge_Validation(t *testing.T) {
	f := newFixture()
	tests := []struct {
		name string
		c    Charge
	}{
		{"unknown type", Charge{Name: "Tip", Type: "TIP", Value: d("1")}},
		{"blank name", Charge{Name: " ", Type: ChargeFixed, Value: d("1")}},
		{"negative", Charge{Name: "Refund", Type: ChargeFixed, Value: d("-1")}},
		{"over 100 percent", Charge{Name: "Everything", Type: ChargeDiscount, Value: d("101")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.c
			if err := f.svc.CreateCharge(context.Background(), &c); !apperr.Is(err, apperr.KindValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}

	c := &Charge{Name: "Night fee", Type: "fixed", Value: d("150")}
	if err := f.svc.CreateCharge(context.Background(), c); err != nil {
		t.Fatalf("CreateCharge: %v", err)
	}
	if c.Type != ChargeFixed {
		t.Errorf("expected type normalised, got %s", c.Type)
	}
}

func TestCreateCharge_SingletonFee(t *testing.T) {
	f := newFixture()
	f.addCharge(t, "Consultation", ChargeDoctor, "500")
	err := f.svc.CreateCharge(context.Background(), &Charge{Name: "Consultation 2", Type: ChargeDoctor, Value: d("600")})
	if !errors.Is(err, ErrDuplicateCharge) {
		t.Fatalf("expected ErrDuplicateCharge, got %v", err)
	}
}

func TestUpdateCharge_KeepsType(t *testing.T) {
	f := newFixture()
	c := f.addCharge(t, "Consultation", ChargeDoctor, "500")

	upd := &Charge{ID: c.ID, Name: "Consultation", Type: ChargeDiscount, Value: d("650")}
	if err := f.svc.UpdateCharge(context.Background(), upd); err != nil {
		t.Fatalf("UpdateCharge: %v", err)
	}
	if upd.Type != ChargeDoctor {
		t.Errorf("type must not change, got %s", upd.Type)
	}
	if err := f.svc.UpdateCharge(context.Background(), &Charge{ID: uuid.New(), Name: "x"}); !errors.Is(err, ErrChargeNotFound) {
		t.Errorf("expected ErrChargeNotFound, got %v", err)
	}
}

func TestListCharges(t *testing.T) {
	f := newFixture()
	f.addCharge(t, "Consultation", ChargeDoctor, "500")
	f.addCharge(t, "Staff", ChargeDiscount, "10")

	all, err := f.svc.ListCharges(context.Background(), "")
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 charges, got %d (%v)", len(all), err)
	}
	discounts, _ := f.svc.ListCharges(context.Background(), "discount")
	if len(discounts) != 1 {
		t.Errorf("expected 1 discount, got %d", len(discounts))
	}
	if _, err := f.svc.ListCharges(context.Background(), "TIP"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
