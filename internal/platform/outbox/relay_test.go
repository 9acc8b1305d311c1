package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeTx struct{ calls int }

func (f *fakeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

type fakeStore struct {
	events    []Event
	published map[uuid.UUID]time.Time
	failed    map[uuid.UUID]string
	claimErr  error
}

func newFakeStore(events ...Event) *fakeStore {
	return &fakeStore{
		events:    events,
		published: make(map[uuid.UUID]time.Time),
		failed:    make(map[uuid.UUID]string),
	}
}

func (s *fakeStore) ClaimPending(_ context.Context, limit, maxRetries int) ([]Event, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	var out []Event
	for _, e := range s.events {
		if _, done := s.published[e.ID]; done || e.RetryCount >= maxRetries {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) MarkPublished(_ context.Context, id uuid.UUID, at time.Time) error {
	s.published[id] = at
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	s.failed[id] = reason
	return nil
}

type sentMessage struct {
	key, eventType string
	value          []byte
}

type fakePublisher struct {
	sent   []sentMessage
	failOn map[string]error
}

func (p *fakePublisher) Publish(_ context.Context, key, eventType string, value []byte) error {
	if err, ok := p.failOn[key]; ok {
		return err
	}
	p.sent = append(p.sent, sentMessage{key: key, eventType: eventType, value: value})
	return nil
}

func newEvent(eventType string) Event {
	return Event{
		ID:            uuid.New(),
		AggregateType: "prescription",
		AggregateID:   uuid.New(),
		EventType:     eventType,
		Payload:       json.RawMessage(`{"status":"COMPLETED"}`),
		CreatedAt:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestRelay_RunOncePublishesInOrder(t *testing.T) {
	first, second := newEvent("prescription.created"), newEvent("prescription.completed")
	store := newFakeStore(first, second)
	pub := &fakePublisher{}
	tx := &fakeTx{}
	relay := NewRelay(store, pub, tx, RelayConfig{BatchSize: 10}, zerolog.New(io.Discard))

	n, err := relay.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 2 || len(pub.sent) != 2 {
		t.Fatalf("expected 2 published, got n=%d sent=%d", n, len(pub.sent))
	}
	if pub.sent[0].eventType != "prescription.created" || pub.sent[0].key != first.Key() {
		t.Errorf("unexpected first message: %+v", pub.sent[0])
	}
	if tx.calls != 1 {
		t.Errorf("expected one transaction per batch, got %d", tx.calls)
	}

	var env Envelope
	if err := json.Unmarshal(pub.sent[1].value, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.ID != second.ID || env.AggregateID != second.AggregateID || !env.OccurredAt.Equal(second.CreatedAt) {
		t.Errorf("unexpected envelope: %+v", env)
	}

	n, _ = relay.RunOnce(context.Background())
	if n != 0 {
		t.Errorf("expected nothing left to publish, got %d", n)
	}
}

func TestRelay_FailedPublishIsMarked(t *testing.T) {
	bad, good := newEvent("prescription.created"), newEvent("prescription.created")
	store := newFakeStore(bad, good)
	pub := &fakePublisher{failOn: map[string]error{bad.Key(): errors.New("leader not available")}}
	relay := NewRelay(store, pub, &fakeTx{}, RelayConfig{}, zerolog.New(io.Discard))

	n, err := relay.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 published, got %d", n)
	}
	if reason := store.failed[bad.ID]; reason == "" {
		t.Error("expected failure to be recorded")
	}
	if _, ok := store.published[bad.ID]; ok {
		t.Error("failed event must stay pending")
	}
}

func TestRelay_ClaimError(t *testing.T) {
	store := newFakeStore()
	store.claimErr = errors.New("connection refused")
	relay := NewRelay(store, &fakePublisher{}, &fakeTx{}, RelayConfig{}, zerolog.New(io.Discard))

	if _, err := relay.RunOnce(context.Background()); err == nil {
		t.Fatal("expected claim error")
	}
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	relay := NewRelay(newFakeStore(), &fakePublisher{}, &fakeTx{}, RelayConfig{PollInterval: time.Millisecond}, zerolog.New(io.Discard))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestNewRelay_Defaults(t *testing.T) {
	relay := NewRelay(newFakeStore(), &fakePublisher{}, &fakeTx{}, RelayConfig{}, zerolog.New(io.Discard))
	if relay.cfg.PollInterval != 2*time.Second || relay.cfg.BatchSize != 100 || relay.cfg.MaxRetries != 5 {
		t.Errorf("unexpected defaults: %+v", relay.cfg)
	}
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "clinic.prescriptions"); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := NewKafkaPublisher([]string{"localhost:9092"}, ""); err == nil {
		t.Error("expected error without topic")
	}
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "clinic.prescriptions")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Topic() != "clinic.prescriptions" {
		t.Errorf("Topic() = %q", p.Topic())
	}
	_ = p.Close()
}
