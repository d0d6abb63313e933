package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/theleeeo/records/model"
)

var _ Store = (*MemoryStore)(nil)

type MemoryStore struct {
	mu sync.RWMutex

	// insertion order
	records []model.Record
	nextID  int64
	seeded  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: []model.Record{},
		nextID:  1,
	}
}

func (s *MemoryStore) Seed(_ context.Context, records []model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seeded {
		return nil
	}

	for _, r := range records {
		if s.indexOf(r.ID) >= 0 {
			return fmt.Errorf("duplicate id %d", r.ID)
		}
		s.records = append(s.records, r.Clone())
		if r.ID >= s.nextID {
			s.nextID = r.ID + 1
		}
	}
	s.seeded = true

	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, fields map[string]any) (model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := model.Record{
		ID:     s.nextID,
		Fields: maps.Clone(fields),
	}
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	s.nextID++
	s.records = append(s.records, r)

	return r.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(id)
	if i < 0 {
		return model.Record{}, ErrNotFound
	}
	return s.records[i].Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id int64, mutate MutateFunc) (model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return model.Record{}, ErrNotFound
	}

	fields, err := mutate(s.records[i].Clone())
	if err != nil {
		return model.Record{}, err
	}
	s.records[i].Fields = maps.Clone(fields)

	return s.records[i].Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) (model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return model.Record{}, ErrNotFound
	}

	r := s.records[i]
	s.records = slices.Delete(s.records, i, i+1)
	return r, nil
}

// indexOf must be called with the lock held.
func (s *MemoryStore) indexOf(id int64) int {
	return slices.IndexFunc(s.records, func(r model.Record) bool {
		return r.ID == id
	})
}
