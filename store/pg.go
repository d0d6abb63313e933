package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/theleeeo/records/model"
	"github.com/theleeeo/records/resource"
)

//go:embed pg_schema.sql
var PostgresSchema string

var _ Store = (*PostgresStore)(nil)

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// EnsureSchema creates the tables used by PostgresStore if they are missing.
func EnsureSchema(ctx context.Context, exec executor) error {
	_, err := exec.Exec(ctx, PostgresSchema)
	return err
}

// PostgresStore keeps the records of one resource in postgres. Several stores
// share the same tables, partitioned by resource name.
type PostgresStore struct {
	pool     *pgxpool.Pool
	resource string
	// fields are read back through the resource schema so that ints keep
	// their exact value instead of passing through float64
	rc *resource.Config
}

func NewPostgresStore(pool *pgxpool.Pool, rc *resource.Config) *PostgresStore {
	return &PostgresStore{pool: pool, resource: rc.Resource, rc: rc}
}

func (s *PostgresStore) Seed(ctx context.Context, records []model.Record) error {
	var nextID int64 = 1
	for _, r := range records {
		if r.ID >= nextID {
			nextID = r.ID + 1
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO resource_counters (resource, next_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		s.resource, nextID,
	)
	if err != nil {
		return fmt.Errorf("insert counter: %w", err)
	}

	// The counter row marks the resource as seeded
	if tag.RowsAffected() == 0 {
		return nil
	}

	if err := s.insertBatch(ctx, tx, records); err != nil {
		return fmt.Errorf("insert seed: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) insertBatch(ctx context.Context, sender batchSender, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		fields, err := json.Marshal(r.Fields)
		if err != nil {
			return err
		}
		batch.Queue(
			`INSERT INTO records (resource, id, fields) VALUES ($1, $2, $3::jsonb)`,
			s.resource, r.ID, string(fields),
		)
	}

	br := sender.SendBatch(ctx, batch)
	if err := br.Close(); err != nil {
		return err
	}

	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, fields FROM records WHERE resource=$1 ORDER BY position`,
		s.resource,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []model.Record{}
	for rows.Next() {
		var (
			id  int64
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		r, err := s.toRecord(id, raw)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Create(ctx context.Context, fields map[string]any) (model.Record, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return model.Record{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Record{}, err
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO resource_counters (resource, next_id) VALUES ($1, 2)
		 ON CONFLICT (resource) DO UPDATE SET next_id = resource_counters.next_id + 1
		 RETURNING next_id - 1`,
		s.resource,
	).Scan(&id)
	if err != nil {
		return model.Record{}, fmt.Errorf("allocate id: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO records (resource, id, fields) VALUES ($1, $2, $3::jsonb)`,
		s.resource, id, string(raw),
	); err != nil {
		return model.Record{}, fmt.Errorf("insert record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Record{}, err
	}

	return s.toRecord(id, raw)
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (model.Record, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT fields FROM records WHERE resource=$1 AND id=$2`,
		s.resource, id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Record{}, ErrNotFound
	}
	if err != nil {
		return model.Record{}, err
	}
	return s.toRecord(id, raw)
}

func (s *PostgresStore) Update(ctx context.Context, id int64, mutate MutateFunc) (model.Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Record{}, err
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx,
		`SELECT fields FROM records WHERE resource=$1 AND id=$2 FOR UPDATE`,
		s.resource, id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Record{}, ErrNotFound
	}
	if err != nil {
		return model.Record{}, err
	}

	current, err := s.toRecord(id, raw)
	if err != nil {
		return model.Record{}, err
	}

	fields, err := mutate(current)
	if err != nil {
		return model.Record{}, err
	}

	updated, err := json.Marshal(fields)
	if err != nil {
		return model.Record{}, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE records SET fields=$3::jsonb WHERE resource=$1 AND id=$2`,
		s.resource, id, string(updated),
	); err != nil {
		return model.Record{}, fmt.Errorf("update record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Record{}, err
	}

	return s.toRecord(id, updated)
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) (model.Record, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`DELETE FROM records WHERE resource=$1 AND id=$2 RETURNING fields`,
		s.resource, id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Record{}, ErrNotFound
	}
	if err != nil {
		return model.Record{}, err
	}
	return s.toRecord(id, raw)
}

func (s *PostgresStore) toRecord(id int64, raw []byte) (model.Record, error) {
	fields, err := s.rc.DecodePartial(raw)
	if err != nil {
		return model.Record{}, fmt.Errorf("decode fields of record %d: %w", id, err)
	}
	return model.Record{ID: id, Fields: fields}, nil
}
