package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS resources (
    resource_type TEXT NOT NULL,
    id            TEXT NOT NULL,
    version_id    TEXT NOT NULL,
    data          BYTEA NOT NULL,
    PRIMARY KEY (resource_type, id)
);
CREATE TABLE IF NOT EXISTS resource_history (
    resource_type TEXT NOT NULL,
    id            TEXT NOT NULL,
    version_id    TEXT NOT NULL,
    data          BYTEA NOT NULL,
    PRIMARY KEY (resource_type, id, version_id)
);
`

// PostgresStore backs the store with a Postgres database. Same
// semantics as the SQLite backend; selected via STORAGE_BACKEND.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, pings and ensures the schema.
func OpenPostgres(ctx context.Context, databaseURL string, maxConns, minConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize store schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) PutVersion(ctx context.Context, resourceType, id, versionID string, data []byte) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return pgPut(ctx, tx, resourceType, id, versionID, data)
	})
}

func (s *PostgresStore) Get(ctx context.Context, resourceType, id string) ([]byte, error) {
	return pgGet(ctx, s.pool, resourceType, id)
}

func (s *PostgresStore) GetVersion(ctx context.Context, resourceType, id, versionID string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM resource_history WHERE resource_type = $1 AND id = $2 AND version_id = $3`,
		resourceType, id, versionID).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return data, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, resourceType, id string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT version_id FROM resource_history
		 WHERE resource_type = $1 AND id = $2
		 ORDER BY CAST(version_id AS INTEGER)`,
		resourceType, id)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, resourceType, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM resources WHERE resource_type = $1 AND id = $2`, resourceType, id)
	if err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListAll(ctx context.Context, resourceType string) ([]Record, error) {
	query := `SELECT resource_type, id, data FROM resources ORDER BY resource_type, id`
	args := []interface{}{}
	if resourceType != "" {
		query = `SELECT resource_type, id, data FROM resources WHERE resource_type = $1 ORDER BY id`
		args = append(args, resourceType)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list all: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ResourceType, &r.ID, &r.Data); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) CountByType(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT resource_type, COUNT(*) FROM resources GROUP BY resource_type`)
	if err != nil {
		return nil, fmt.Errorf("count by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var rt string
		var n int
		if err := rows.Scan(&rt, &n); err != nil {
			return nil, err
		}
		counts[rt] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) InTransaction(ctx context.Context, fn func(ops TxOps) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTxOps{tx: tx})
	})
}

type pgTxOps struct {
	tx pgx.Tx
}

func (o *pgTxOps) PutVersion(ctx context.Context, resourceType, id, versionID string, data []byte) error {
	return pgPut(ctx, o.tx, resourceType, id, versionID, data)
}

func (o *pgTxOps) Get(ctx context.Context, resourceType, id string) ([]byte, error) {
	return pgGet(ctx, o.tx, resourceType, id)
}

func (o *pgTxOps) Delete(ctx context.Context, resourceType, id string) (bool, error) {
	tag, err := o.tx.Exec(ctx,
		`DELETE FROM resources WHERE resource_type = $1 AND id = $2`, resourceType, id)
	if err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// pgQuerier covers the pool and transactions.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgPut(ctx context.Context, q pgQuerier, resourceType, id, versionID string, data []byte) error {
	if _, err := q.Exec(ctx,
		`INSERT INTO resources (resource_type, id, version_id, data) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (resource_type, id) DO UPDATE SET version_id = $3, data = $4`,
		resourceType, id, versionID, data); err != nil {
		return fmt.Errorf("put current: %w", err)
	}
	if _, err := q.Exec(ctx,
		`INSERT INTO resource_history (resource_type, id, version_id, data) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (resource_type, id, version_id) DO UPDATE SET data = $4`,
		resourceType, id, versionID, data); err != nil {
		return fmt.Errorf("put history: %w", err)
	}
	return nil
}

func pgGet(ctx context.Context, q pgQuerier, resourceType, id string) ([]byte, error) {
	var data []byte
	err := q.QueryRow(ctx,
		`SELECT data FROM resources WHERE resource_type = $1 AND id = $2`,
		resourceType, id).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	return data, nil
}
