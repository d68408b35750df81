package storage

import (
	"context"
	"errors"

	"github.com/controlface/deploy-console/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrClosed       = errors.New("store closed")
)

// Snapshot is one state of the tenant collection as delivered by a watch.
// Err is set when the store failed to produce the snapshot; Tenants is nil then.
type Snapshot struct {
	Tenants []*models.Tenant
	Err     error
}

// Store defines the tenant collection
type Store interface {
	// CreateTenant assigns ID and writes a new record
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	// UpdateTenant overwrites the form fields of an existing record.
	// ID, CreatedAt and Status are left as stored.
	UpdateTenant(ctx context.Context, tenant *models.Tenant) error
	DeleteTenant(ctx context.Context, id string) error
	ListTenants(ctx context.Context) ([]*models.Tenant, error)

	// WatchTenants delivers the full collection now and after every change
	// until ctx is done, then closes the channel. Only the latest pending
	// snapshot is kept for a slow reader.
	WatchTenants(ctx context.Context) (<-chan Snapshot, error)

	// Close the store
	Close() error
}
