// Package storage persists versioned FHIR resources. Two backends
// implement the same interface: an embedded SQLite database (default)
// and Postgres.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no current version of a resource exists.
var ErrNotFound = errors.New("resource not found")

// Record is a stored resource row.
type Record struct {
	ResourceType string
	ID           string
	Data         []byte
}

// TxOps is the operation set available inside a store transaction.
type TxOps interface {
	// PutVersion writes the current row and appends a history row.
	PutVersion(ctx context.Context, resourceType, id, versionID string, data []byte) error
	// Get returns the current version, or ErrNotFound.
	Get(ctx context.Context, resourceType, id string) ([]byte, error)
	// Delete removes the current version. History rows survive. Returns
	// whether a current version existed.
	Delete(ctx context.Context, resourceType, id string) (bool, error)
}

// Store is the versioned resource store.
type Store interface {
	TxOps

	// GetVersion returns a specific historical version, or ErrNotFound.
	GetVersion(ctx context.Context, resourceType, id, versionID string) ([]byte, error)
	// ListVersions returns all version ids in ascending numeric order.
	ListVersions(ctx context.Context, resourceType, id string) ([]string, error)
	// ListAll returns every current resource, optionally limited to one
	// resource type.
	ListAll(ctx context.Context, resourceType string) ([]Record, error)
	// CountByType returns the number of current resources per type.
	CountByType(ctx context.Context) (map[string]int, error)
	// InTransaction runs fn against transactional ops; any error rolls
	// back every write made through them.
	InTransaction(ctx context.Context, fn func(ops TxOps) error) error

	Close() error
}
