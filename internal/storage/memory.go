package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-memdb"

	"github.com/controlface/deploy-console/internal/models"
)

const tenantsTable = "tenants"

// MemoryStore keeps the tenant collection in go-memdb.
// Watches are driven by memdb watch channels, so every commit wakes every watcher.
type MemoryStore struct {
	db        *memdb.MemDB
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() (*MemoryStore, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tenantsTable: {
				Name: tenantsTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
		},
	}

	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}

	return &MemoryStore{db: db, done: make(chan struct{})}, nil
}

// Close stops every watch
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *MemoryStore) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// CreateTenant implements Store
func (s *MemoryStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if s.isClosed() {
		return ErrClosed
	}
	prepareNewTenant(tenant)

	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tenantsTable, "id", tenant.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDuplicateKey
	}

	if err := txn.Insert(tenantsTable, tenant.Clone()); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// GetTenant implements Store
func (s *MemoryStore) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tenantsTable, "id", id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	return raw.(*models.Tenant).Clone(), nil
}

// UpdateTenant implements Store
func (s *MemoryStore) UpdateTenant(ctx context.Context, tenant *models.Tenant) error {
	if s.isClosed() {
		return ErrClosed
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tenantsTable, "id", tenant.ID)
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrNotFound
	}

	updated := raw.(*models.Tenant).Clone()
	updated.Name = tenant.Name
	updated.ProjectID = tenant.ProjectID
	updated.FirebaseToken = tenant.FirebaseToken
	updated.Plan = tenant.Plan
	updated.MaxEmployees = tenant.MaxEmployees

	if err := txn.Insert(tenantsTable, updated); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// DeleteTenant implements Store
func (s *MemoryStore) DeleteTenant(ctx context.Context, id string) error {
	if s.isClosed() {
		return ErrClosed
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tenantsTable, "id", id)
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrNotFound
	}

	if err := txn.Delete(tenantsTable, raw); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// ListTenants implements Store
func (s *MemoryStore) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	tenants, _, err := s.readAll(txn)
	return tenants, err
}

// readAll returns the collection and a channel closed on the next change
func (s *MemoryStore) readAll(txn *memdb.Txn) ([]*models.Tenant, <-chan struct{}, error) {
	it, err := txn.Get(tenantsTable, "id")
	if err != nil {
		return nil, nil, err
	}

	tenants := make([]*models.Tenant, 0)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		tenants = append(tenants, raw.(*models.Tenant).Clone())
	}
	sortTenants(tenants)

	return tenants, it.WatchCh(), nil
}

// WatchTenants implements Store
func (s *MemoryStore) WatchTenants(ctx context.Context) (<-chan Snapshot, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	watchCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-s.done:
		case <-watchCtx.Done():
		}
		cancel()
	}()

	ch := make(chan Snapshot, 1)
	go func() {
		defer close(ch)
		defer cancel()

		for {
			txn := s.db.Txn(false)
			tenants, changed, err := s.readAll(txn)
			txn.Abort()
			if err != nil {
				sendLatest(ch, Snapshot{Err: err})
				return
			}
			sendLatest(ch, Snapshot{Tenants: tenants})

			ws := memdb.NewWatchSet()
			ws.Add(changed)
			if err := ws.WatchCtx(watchCtx); err != nil {
				return
			}
		}
	}()

	return ch, nil
}
