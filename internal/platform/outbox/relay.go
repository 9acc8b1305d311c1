package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/dispensary/internal/platform/db"
)

// Store is the relay's view of the outbox table.
type Store interface {
	ClaimPending(ctx context.Context, limit, maxRetries int) ([]Event, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// Publisher sends one serialized event to the broker.
type Publisher interface {
	Publish(ctx context.Context, key, eventType string, value []byte) error
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
}

// Relay polls the outbox and publishes pending events in creation order.
type Relay struct {
	store     Store
	publisher Publisher
	tx        db.Transactor
	cfg       RelayConfig
	logger    zerolog.Logger
	now       func() time.Time
}

func NewRelay(store Store, publisher Publisher, tx db.Transactor, cfg RelayConfig, logger zerolog.Logger) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		tx:        tx,
		cfg:       cfg,
		logger:    logger.With().Str("component", "outbox_relay").Logger(),
		now:       time.Now,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info().Dur("poll_interval", r.cfg.PollInterval).Msg("outbox relay started")
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error().Err(err).Msg("outbox relay pass failed")
			}
		}
	}
}

// RunOnce claims one batch and publishes it. Returns the number of events
// published. A failing event is marked and does not stop the batch.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	published := 0
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		events, err := r.store.ClaimPending(ctx, r.cfg.BatchSize, r.cfg.MaxRetries)
		if err != nil {
			return fmt.Errorf("claim pending events: %w", err)
		}
		for _, ev := range events {
			if err := r.publish(ctx, ev); err != nil {
				r.logger.Warn().Err(err).
					Str("event_id", ev.ID.String()).
					Str("event_type", ev.EventType).
					Int("retry_count", ev.RetryCount+1).
					Msg("publish failed")
				if err := r.store.MarkFailed(ctx, ev.ID, err.Error()); err != nil {
					return fmt.Errorf("mark event %s failed: %w", ev.ID, err)
				}
				continue
			}
			if err := r.store.MarkPublished(ctx, ev.ID, r.now()); err != nil {
				return fmt.Errorf("mark event %s published: %w", ev.ID, err)
			}
			published++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if published > 0 {
		r.logger.Debug().Int("published", published).Msg("outbox batch published")
	}
	return published, nil
}

func (r *Relay) publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev.Envelope())
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return r.publisher.Publish(ctx, ev.Key(), ev.EventType, body)
}
