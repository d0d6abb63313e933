package jobqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Job struct {
	ID       uuid.UUID
	JobGroup string

	OccurredAt time.Time

	Type    string
	Payload json.RawMessage

	Attempts    int
	MaxAttempts int
}

type Handler func(ctx context.Context, job Job) error

// Stats are running totals of finished jobs.
type Stats struct {
	Succeeded int64
	Retried   int64
	Dead      int64
}
