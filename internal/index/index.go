// Package index maintains the tuple-based search index in its own
// SQLite database, separate from the resource store.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS search_index (
    resource_type      TEXT NOT NULL,
    resource_id        TEXT NOT NULL,
    param_name         TEXT NOT NULL,
    param_type         TEXT NOT NULL,
    value_string       TEXT,
    value_string_lower TEXT,
    value_system       TEXT,
    UNIQUE (resource_type, resource_id, param_name, value_string, value_system)
);
CREATE INDEX IF NOT EXISTS idx_search_lookup
    ON search_index (resource_type, param_name, value_string);
CREATE INDEX IF NOT EXISTS idx_search_resource
    ON search_index (resource_type, resource_id);
`

// Index is the SQLite-backed search index.
type Index struct {
	db *sql.DB
}

// Open opens (or creates) the index database at path.
func Open(path string) (*Index, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize index schema: %w", err)
	}
	return &Index{db: db}, nil
}

func (ix *Index) Close() error { return ix.db.Close() }

// Add upserts one index tuple. value_string_lower is derived here so
// string searches stay case-insensitive regardless of the writer.
func (ix *Index) Add(ctx context.Context, resourceType, resourceID, paramName, paramType, value, system string) error {
	var sys interface{}
	if system != "" {
		sys = system
	}
	_, err := ix.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO search_index
		 (resource_type, resource_id, param_name, param_type, value_string, value_string_lower, value_system)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		resourceType, resourceID, paramName, paramType, value, strings.ToLower(value), sys)
	if err != nil {
		return fmt.Errorf("add index tuple: %w", err)
	}
	return nil
}

// Remove drops every tuple for a resource, used before re-indexing and
// on delete.
func (ix *Index) Remove(ctx context.Context, resourceType, resourceID string) error {
	_, err := ix.db.ExecContext(ctx,
		`DELETE FROM search_index WHERE resource_type = ? AND resource_id = ?`,
		resourceType, resourceID)
	if err != nil {
		return fmt.Errorf("remove index tuples: %w", err)
	}
	return nil
}

// Reindex replaces a resource's tuples with the given entries.
func (ix *Index) Reindex(ctx context.Context, resourceType, resourceID string, entries []Entry) error {
	if err := ix.Remove(ctx, resourceType, resourceID); err != nil {
		return err
	}
	for _, e := range entries {
		if err := ix.Add(ctx, resourceType, resourceID, e.ParamName, string(e.ParamType), e.Value, e.System); err != nil {
			return err
		}
	}
	return nil
}

// SearchToken matches token values, optionally constrained to a system.
func (ix *Index) SearchToken(ctx context.Context, resourceType, paramName, system, code string) ([]string, error) {
	query := `SELECT DISTINCT resource_id FROM search_index
	          WHERE resource_type = ? AND param_name = ? AND value_string = ?`
	args := []interface{}{resourceType, paramName, code}
	if system != "" {
		query += ` AND value_system = ?`
		args = append(args, system)
	}
	return ix.queryIDs(ctx, query, args...)
}

// SearchString matches strings case-insensitively: exact against the
// lowercase column, or prefix LIKE otherwise.
func (ix *Index) SearchString(ctx context.Context, resourceType, paramName, value string, exact bool) ([]string, error) {
	lower := strings.ToLower(value)
	if exact {
		return ix.queryIDs(ctx,
			`SELECT DISTINCT resource_id FROM search_index
			 WHERE resource_type = ? AND param_name = ? AND value_string_lower = ?`,
			resourceType, paramName, lower)
	}
	return ix.queryIDs(ctx,
		`SELECT DISTINCT resource_id FROM search_index
		 WHERE resource_type = ? AND param_name = ? AND value_string_lower LIKE ?`,
		resourceType, paramName, lower+"%")
}

// SearchReference matches reference values exactly. Restricted to
// reference-typed tuples so a token with the same shape cannot match.
func (ix *Index) SearchReference(ctx context.Context, resourceType, paramName, reference string) ([]string, error) {
	return ix.queryIDs(ctx,
		`SELECT DISTINCT resource_id FROM search_index
		 WHERE resource_type = ? AND param_name = ? AND param_type = 'reference' AND value_string = ?`,
		resourceType, paramName, reference)
}

// SearchDate compares ISO 8601 date strings lexicographically. eq is a
// prefix match so eq2020 covers 2020-03-01.
func (ix *Index) SearchDate(ctx context.Context, resourceType, paramName, prefix, value string) ([]string, error) {
	var cond string
	args := []interface{}{resourceType, paramName}
	switch prefix {
	case "ge":
		cond, args = `value_string >= ?`, append(args, value)
	case "le":
		cond, args = `value_string <= ?`, append(args, value)
	case "gt":
		cond, args = `value_string > ?`, append(args, value)
	case "lt":
		cond, args = `value_string < ?`, append(args, value)
	case "eq", "":
		cond, args = `value_string LIKE ?`, append(args, value+"%")
	default:
		return nil, fmt.Errorf("unsupported date prefix %q", prefix)
	}
	return ix.queryIDs(ctx,
		`SELECT DISTINCT resource_id FROM search_index
		 WHERE resource_type = ? AND param_name = ? AND `+cond, args...)
}

func (ix *Index) queryIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index query: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
