package store

import (
	"context"
	"errors"

	"github.com/theleeeo/records/model"
)

var ErrNotFound = errors.New("record not found")

// MutateFunc receives a copy of the current record and returns the fields that
// replace the stored ones.
type MutateFunc func(current model.Record) (map[string]any, error)

// Store holds the records of a single resource.
type Store interface {
	// Seed loads the initial records. It is a no-op for a store that has already been seeded.
	Seed(ctx context.Context, records []model.Record) error

	List(ctx context.Context) ([]model.Record, error)
	Create(ctx context.Context, fields map[string]any) (model.Record, error)
	Get(ctx context.Context, id int64) (model.Record, error)
	// Update runs mutate while holding the record, so concurrent updates are serialized.
	Update(ctx context.Context, id int64, mutate MutateFunc) (model.Record, error)
	Delete(ctx context.Context, id int64) (model.Record, error)
}
