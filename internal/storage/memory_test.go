package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/controlface/deploy-console/internal/models"
)

func newMemory(t *testing.T) *MemoryStore {
	s, err := NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func nextSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "watch channel closed")
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return Snapshot{}
}

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := newMemory(t)

	tenant := &models.Tenant{Name: "Acme", ProjectID: "acme-prod", Plan: models.PlanBasic, MaxEmployees: 30}
	require.NoError(t, s.CreateTenant(ctx, tenant))
	require.NotEmpty(t, tenant.ID)

	got, err := s.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant, got)

	// Mutating the returned copy must not reach the store
	got.Name = "changed"
	again, err := s.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", again.Name)

	update := &models.Tenant{
		ID: tenant.ID, Name: "Acme Norte", ProjectID: "acme-norte", FirebaseToken: "tok",
		Plan: models.Plan("Pro"), MaxEmployees: 45, Status: "ignored", CreatedAt: time.Unix(0, 0),
	}
	require.NoError(t, s.UpdateTenant(ctx, update))

	got, err = s.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Norte", got.Name)
	assert.Equal(t, "acme-norte", got.ProjectID)
	assert.Equal(t, "tok", got.FirebaseToken)
	assert.Equal(t, models.Plan("Pro"), got.Plan)
	assert.Equal(t, 45, got.MaxEmployees)
	assert.Equal(t, models.TenantStatusActive, got.Status, "status is not part of the form")
	assert.Equal(t, tenant.CreatedAt, got.CreatedAt, "createdAt is preserved")

	assert.ErrorIs(t, s.CreateTenant(ctx, &models.Tenant{ID: tenant.ID, Name: "dup", ProjectID: "dup"}), ErrDuplicateKey)

	require.NoError(t, s.DeleteTenant(ctx, tenant.ID))
	_, err = s.GetTenant(ctx, tenant.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteTenant(ctx, tenant.ID), ErrNotFound)
	assert.ErrorIs(t, s.UpdateTenant(ctx, update), ErrNotFound)
}

func TestMemoryStoreListOrder(t *testing.T) {
	ctx := context.Background()
	s := newMemory(t)

	base := time.Now().UTC()
	require.NoError(t, s.CreateTenant(ctx, &models.Tenant{ID: "z", Name: "Z", ProjectID: "z", CreatedAt: base}))
	require.NoError(t, s.CreateTenant(ctx, &models.Tenant{ID: "a", Name: "A", ProjectID: "a", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, s.CreateTenant(ctx, &models.Tenant{ID: "m", Name: "M", ProjectID: "m", CreatedAt: base}))

	tenants, err := s.ListTenants(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(tenants))
	for _, tenant := range tenants {
		ids = append(ids, tenant.ID)
	}
	assert.Equal(t, []string{"m", "z", "a"}, ids)
}

func TestMemoryStoreWatch(t *testing.T) {
	s := newMemory(t)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.WatchTenants(ctx)
	require.NoError(t, err)

	first := nextSnapshot(t, ch)
	require.NoError(t, first.Err)
	assert.Empty(t, first.Tenants)

	require.NoError(t, s.CreateTenant(context.Background(), &models.Tenant{ID: "a", Name: "A", ProjectID: "a"}))
	assert.Eventually(t, func() bool {
		select {
		case snap := <-ch:
			return len(snap.Tenants) == 1 && snap.Tenants[0].ID == "a"
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.DeleteTenant(context.Background(), "a"))
	assert.Eventually(t, func() bool {
		select {
		case snap := <-ch:
			return len(snap.Tenants) == 0
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryStoreClose(t *testing.T) {
	s := newMemory(t)

	ch, err := s.WatchTenants(context.Background())
	require.NoError(t, err)
	nextSnapshot(t, ch)

	require.NoError(t, s.Close())
	assert.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	_, err = s.WatchTenants(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.CreateTenant(context.Background(), &models.Tenant{Name: "A", ProjectID: "a"}), ErrClosed)
}

func TestSendLatestKeepsNewest(t *testing.T) {
	ch := make(chan Snapshot, 1)
	sendLatest(ch, Snapshot{Tenants: []*models.Tenant{{ID: "old"}}})
	sendLatest(ch, Snapshot{Tenants: []*models.Tenant{{ID: "new"}}})

	snap := <-ch
	require.Len(t, snap.Tenants, 1)
	assert.Equal(t, "new", snap.Tenants[0].ID)
}
