package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS resources (
    resource_type TEXT NOT NULL,
    id            TEXT NOT NULL,
    version_id    TEXT NOT NULL,
    data          BLOB NOT NULL,
    PRIMARY KEY (resource_type, id)
);
CREATE TABLE IF NOT EXISTS resource_history (
    resource_type TEXT NOT NULL,
    id            TEXT NOT NULL,
    version_id    TEXT NOT NULL,
    data          BLOB NOT NULL,
    PRIMARY KEY (resource_type, id, version_id)
);
`

// SQLiteStore is the embedded single-file store backend.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the store database at path. WAL mode
// with a single writer, which is how SQLite behaves best under
// database/sql.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize store schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) PutVersion(ctx context.Context, resourceType, id, versionID string, data []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	defer tx.Rollback()

	if err := sqlitePut(ctx, tx, resourceType, id, versionID, data); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, resourceType, id string) ([]byte, error) {
	return sqliteGet(ctx, s.db, resourceType, id)
}

func (s *SQLiteStore) GetVersion(ctx context.Context, resourceType, id, versionID string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM resource_history WHERE resource_type = ? AND id = ? AND version_id = ?`,
		resourceType, id, versionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return data, nil
}

func (s *SQLiteStore) ListVersions(ctx context.Context, resourceType, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version_id FROM resource_history
		 WHERE resource_type = ? AND id = ?
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

func (s *SQLiteStore) Delete(ctx context.Context, resourceType, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM resources WHERE resource_type = ? AND id = ?`, resourceType, id)
	if err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) ListAll(ctx context.Context, resourceType string) ([]Record, error) {
	query := `SELECT resource_type, id, data FROM resources ORDER BY resource_type, id`
	args := []interface{}{}
	if resourceType != "" {
		query = `SELECT resource_type, id, data FROM resources WHERE resource_type = ? ORDER BY id`
		args = append(args, resourceType)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteStore) CountByType(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
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

func (s *SQLiteStore) InTransaction(ctx context.Context, fn func(ops TxOps) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTxOps{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type sqliteTxOps struct {
	tx *sql.Tx
}

func (o *sqliteTxOps) PutVersion(ctx context.Context, resourceType, id, versionID string, data []byte) error {
	return sqlitePut(ctx, o.tx, resourceType, id, versionID, data)
}

func (o *sqliteTxOps) Get(ctx context.Context, resourceType, id string) ([]byte, error) {
	return sqliteGet(ctx, o.tx, resourceType, id)
}

func (o *sqliteTxOps) Delete(ctx context.Context, resourceType, id string) (bool, error) {
	res, err := o.tx.ExecContext(ctx,
		`DELETE FROM resources WHERE resource_type = ? AND id = ?`, resourceType, id)
	if err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// querier covers both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func sqlitePut(ctx context.Context, q querier, resourceType, id, versionID string, data []byte) error {
	if _, err := q.ExecContext(ctx,
		`INSERT OR REPLACE INTO resources (resource_type, id, version_id, data) VALUES (?, ?, ?, ?)`,
		resourceType, id, versionID, data); err != nil {
		return fmt.Errorf("put current: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		`INSERT OR REPLACE INTO resource_history (resource_type, id, version_id, data) VALUES (?, ?, ?, ?)`,
		resourceType, id, versionID, data); err != nil {
		return fmt.Errorf("put history: %w", err)
	}
	return nil
}

func sqliteGet(ctx context.Context, q querier, resourceType, id string) ([]byte, error) {
	var data []byte
	err := q.QueryRowContext(ctx,
		`SELECT data FROM resources WHERE resource_type = ? AND id = ?`,
		resourceType, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	return data, nil
}
