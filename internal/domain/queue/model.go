package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinic/dispensary/internal/platform/apperr"
)

var (
	ErrEntryNotFound     = apperr.NotFound("queue entry not found")
	ErrAlreadyQueued     = apperr.Conflict("patient is already in today's queue")
	ErrInvalidTransition = apperr.Conflict("invalid queue transition")
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusPrescribed Status = "PRESCRIBED"
	StatusCompleted  Status = "COMPLETED"
)

// next is the only forward move allowed from each status.
var next = map[Status]Status{
	StatusPending:    StatusPrescribed,
	StatusPrescribed: StatusCompleted,
}

// Entry maps to the queue_entry table.
type Entry struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	PatientName string    `db:"-" json:"patient_name,omitempty"`
	Number      int       `db:"queue_number" json:"number"`
	QueueDate   time.Time `db:"queue_date" json:"queue_date"`
	Status      Status    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Day truncates t to its calendar date in t's location, as stored in
// queue_date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
