// Package outbox implements the transactional outbox: domain services append
// events inside their business transaction, and a relay later publishes them
// to Kafka for the document and reporting consumers.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/dispensary/internal/platform/db"
)

// Event is a row of the outbox_event table.
type Event struct {
	ID            uuid.UUID       `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	PublishedAt   *time.Time      `json:"published_at,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	RetryCount    int             `json:"retry_count"`
}

// Key is the Kafka message key; events of one aggregate share a partition.
func (e Event) Key() string {
	return e.AggregateType + "-" + e.AggregateID.String()
}

// Envelope is the message body published to Kafka.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

func (e Event) Envelope() Envelope {
	return Envelope{
		ID:            e.ID,
		EventType:     e.EventType,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		OccurredAt:    e.CreatedAt,
		Payload:       e.Payload,
	}
}

// Writer appends events. Domain services call it with the transaction
// context so the event commits or rolls back with the business change.
type Writer interface {
	Append(ctx context.Context, aggregateType string, aggregateID uuid.UUID, eventType string, payload interface{}) error
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// RepoPG is the PostgreSQL outbox, used both as Writer and as relay Store.
type RepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *RepoPG) Append(ctx context.Context, aggregateType string, aggregateID uuid.UUID, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO outbox_event (id, aggregate_type, aggregate_id, event_type, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), aggregateType, aggregateID, eventType, body)
	if err != nil {
		return fmt.Errorf("append %s event: %w", eventType, err)
	}
	return nil
}

const eventCols = `id, aggregate_type, aggregate_id, event_type, payload,
	created_at, published_at, error_message, retry_count`

// ClaimPending locks up to limit unpublished events that still have retries
// left. Must run inside a transaction; concurrent relays skip locked rows.
func (r *RepoPG) ClaimPending(ctx context.Context, limit, maxRetries int) ([]Event, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+eventCols+`
		FROM outbox_event
		WHERE published_at IS NULL AND retry_count < $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload,
			&e.CreatedAt, &e.PublishedAt, &e.ErrorMessage, &e.RetryCount); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *RepoPG) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE outbox_event SET published_at = $2, error_message = NULL WHERE id = $1`, id, at)
	return err
}

func (r *RepoPG) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE outbox_event SET retry_count = retry_count + 1, error_message = $2 WHERE id = $1`, id, reason)
	return err
}

// PendingCount returns how many events still await publishing.
func (r *RepoPG) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_event WHERE published_at IS NULL`).Scan(&n)
	return n, err
}

// PurgePublished deletes events published before cutoff.
func (r *RepoPG) PurgePublished(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM outbox_event WHERE published_at IS NOT NULL AND published_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
