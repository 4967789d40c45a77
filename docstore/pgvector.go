package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS rag_collections (
		name      text PRIMARY KEY,
		dimension integer NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rag_chunks (
		seq          bigserial PRIMARY KEY,
		id           uuid NOT NULL,
		collection   text NOT NULL REFERENCES rag_collections (name),
		text         text NOT NULL,
		source       text NOT NULL DEFAULT '',
		checksum     bigint NOT NULL DEFAULT 0,
		source_ref   text NOT NULL,
		chunk_offset integer NOT NULL,
		embedding    vector NOT NULL
	)`,
	`ALTER TABLE rag_chunks ADD COLUMN IF NOT EXISTS source text NOT NULL DEFAULT ''`,
	`ALTER TABLE rag_chunks ADD COLUMN IF NOT EXISTS checksum bigint NOT NULL DEFAULT 0`,
	`CREATE INDEX IF NOT EXISTS rag_chunks_collection_idx ON rag_chunks (collection)`,
	`CREATE INDEX IF NOT EXISTS rag_chunks_source_idx ON rag_chunks (collection, source)`,
}

// PgStore keeps chunks in PostgreSQL with the pgvector extension. All
// collections share one table and are told apart by the collection column.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w: %w", ErrIndexUnavailable, err)
	}
	defer conn.Close(ctx)

	if _, err = conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return nil, fmt.Errorf("failed to enable pgvector: %w", err)
	}
	for _, stmt := range pgSchema {
		if _, err = conn.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w: %w", ErrIndexUnavailable, err)
	}

	return &PgStore{pool: pool}, nil
}

func (s *PgStore) Close() {
	s.pool.Close()
}

func (s *PgStore) Insert(ctx context.Context, collection string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin insert: %w: %w", ErrIndexUnavailable, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO rag_collections (name, dimension) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		collection, len(chunks[0].Embedding))
	if err != nil {
		return fmt.Errorf("failed to register collection %s: %w", collection, err)
	}

	var dim int
	err = tx.QueryRow(ctx, `SELECT dimension FROM rag_collections WHERE name = $1`, collection).Scan(&dim)
	if err != nil {
		return fmt.Errorf("failed to read collection %s: %w", collection, err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		if len(c.Embedding) != dim {
			return fmt.Errorf("%w: collection %s expects %d, got %d", ErrDimensionMismatch, collection, dim, len(c.Embedding))
		}

		id, err := uuid.Parse(c.ID)
		if err != nil {
			id = uuid.New()
		}

		batch.Queue(
			`INSERT INTO rag_chunks (id, collection, text, source, checksum, source_ref, chunk_offset, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id.String(), collection, c.Text, c.Source, int64(c.Checksum), c.SourceRef, c.Offset, pgvector.NewVector(c.Embedding),
		)
	}

	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert chunks into %s: %w", collection, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit chunks into %s: %w: %w", collection, ErrIndexUnavailable, err)
	}

	return nil
}

func (s *PgStore) Search(ctx context.Context, collection string, query []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}

	var dim int
	err := s.pool.QueryRow(ctx, `SELECT dimension FROM rag_collections WHERE name = $1`, collection).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return []SearchResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collection %s: %w: %w", collection, ErrIndexUnavailable, err)
	}
	if dim != len(query) {
		return nil, fmt.Errorf("%w: collection %s expects %d, got %d", ErrDimensionMismatch, collection, dim, len(query))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT text, source_ref, embedding <=> $2 AS distance
		FROM rag_chunks
		WHERE collection = $1
		ORDER BY distance, seq
		LIMIT $3`,
		collection, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w: %w", collection, ErrIndexUnavailable, err)
	}

	var res []SearchResult
	for rows.Next() {
		var (
			r    SearchResult
			dist float64
		)
		if err := rows.Scan(&r.Text, &r.SourceRef, &dist); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		r.Score = float32(dist)
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search results: %w", err)
	}
	if res == nil {
		res = []SearchResult{}
	}

	return res, nil
}

func (s *PgStore) Ingested(ctx context.Context, collection string) ([]IngestedDoc, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT source, checksum FROM rag_chunks WHERE collection = $1 AND source <> ''`,
		collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents of %s: %w: %w", collection, ErrIndexUnavailable, err)
	}

	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (IngestedDoc, error) {
		var (
			d   IngestedDoc
			crc int64
		)
		err := row.Scan(&d.Source, &crc)
		d.Checksum = uint32(crc)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read documents of %s: %w", collection, err)
	}

	return docs, nil
}

func (s *PgStore) Forget(ctx context.Context, collection, source string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rag_chunks WHERE collection = $1 AND source = $2`, collection, source)
	if err != nil {
		return fmt.Errorf("failed to forget %s in %s: %w: %w", source, collection, ErrIndexUnavailable, err)
	}

	return nil
}
