package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/controlface/deploy-console/internal/dispatch"
	"github.com/controlface/deploy-console/internal/github"
	"github.com/controlface/deploy-console/internal/models"
	"github.com/controlface/deploy-console/internal/storage"
)

const waitFor = 2 * time.Second

// faultyStore wraps a store and fails writes on demand
type faultyStore struct {
	storage.Store

	mu        sync.Mutex
	writeErr  error
	watchErr  error
	writes    int
	watchFeed chan storage.Snapshot
}

func (s *faultyStore) failWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

func (s *faultyStore) write() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	return s.writeErr
}

func (s *faultyStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *faultyStore) CreateTenant(ctx context.Context, t *models.Tenant) error {
	if err := s.write(); err != nil {
		return err
	}
	return s.Store.CreateTenant(ctx, t)
}

func (s *faultyStore) UpdateTenant(ctx context.Context, t *models.Tenant) error {
	if err := s.write(); err != nil {
		return err
	}
	return s.Store.UpdateTenant(ctx, t)
}

func (s *faultyStore) DeleteTenant(ctx context.Context, id string) error {
	if err := s.write(); err != nil {
		return err
	}
	return s.Store.DeleteTenant(ctx, id)
}

func (s *faultyStore) WatchTenants(ctx context.Context) (<-chan storage.Snapshot, error) {
	if s.watchErr != nil {
		return nil, s.watchErr
	}
	if s.watchFeed != nil {
		return s.watchFeed, nil
	}
	return s.Store.WatchTenants(ctx)
}

type fakeDeployer struct {
	mu     sync.Mutex
	calls  [][]string
	result *dispatch.Result
	err    error
}

func (d *fakeDeployer) Trigger(ctx context.Context, tenants []string) (*dispatch.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, append([]string{}, tenants...))
	return d.result, d.err
}

type recordedWorkflow struct {
	requests []github.DispatchWorkflowRequest
}

func (w *recordedWorkflow) DispatchWorkflow(ctx context.Context, owner, repo, workflow string, req github.DispatchWorkflowRequest) (int, error) {
	w.requests = append(w.requests, req)
	return 204, nil
}

func newStore(t *testing.T) *faultyStore {
	t.Helper()
	mem, err := storage.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })
	return &faultyStore{Store: mem}
}

func seed(t *testing.T, s storage.Store, ids ...string) {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range ids {
		require.NoError(t, s.CreateTenant(context.Background(), &models.Tenant{
			ID:           id,
			Name:         "Tenant " + id,
			ProjectID:    "project-" + id,
			Plan:         models.PlanBasic,
			MaxEmployees: 30,
			CreatedAt:    base.Add(time.Duration(i) * time.Second),
		}))
	}
}

func startRegistry(t *testing.T, s storage.Store, deployer Deployer) *Registry {
	t.Helper()
	if deployer == nil {
		deployer = &fakeDeployer{result: &dispatch.Result{Status: 204}}
	}
	r := New(Options{Store: s, Deployer: deployer, SessionID: "test"})
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Close)
	return r
}

func waitTenants(t *testing.T, r *Registry, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !r.Loading() && len(r.Tenants()) == n
	}, waitFor, 5*time.Millisecond)
}

func ids(tenants []*models.Tenant) []string {
	out := make([]string, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, t.ID)
	}
	return out
}

func TestStartLoadsSnapshot(t *testing.T) {
	s := newStore(t)
	seed(t, s, "a", "b", "c")

	r := New(Options{Store: s, SessionID: "test"})
	assert.True(t, r.Loading())
	require.NoError(t, r.Start(context.Background()))
	defer r.Close()

	waitTenants(t, r, 3)
	assert.Equal(t, []string{"a", "b", "c"}, ids(r.Tenants()))
	assert.False(t, r.View().AllSelected)
}

func TestRemoteChangesArePushed(t *testing.T) {
	s := newStore(t)
	r := startRegistry(t, s, nil)
	waitTenants(t, r, 0)

	seed(t, s.Store, "x")
	waitTenants(t, r, 1)

	require.NoError(t, s.Store.DeleteTenant(context.Background(), "x"))
	waitTenants(t, r, 0)
}

func TestCreate(t *testing.T) {
	s := newStore(t)
	seed(t, s.Store, "a")
	r := startRegistry(t, s, nil)
	waitTenants(t, r, 1)

	form := Form{Name: "Sucursal Norte", ProjectID: "sucursal-norte-xyz", FirebaseToken: "tok", Plan: models.Plan("Pro"), MaxEmployees: 45}
	created, err := r.Create(context.Background(), form)
	require.NoError(t, err)

	waitTenants(t, r, 2)

	var got *models.Tenant
	for _, tenant := range r.Tenants() {
		if tenant.ID == created.ID {
			got = tenant
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, "Sucursal Norte", got.Name)
	assert.Equal(t, "sucursal-norte-xyz", got.ProjectID)
	assert.Equal(t, "tok", got.FirebaseToken)
	assert.Equal(t, models.Plan("Pro"), got.Plan)
	assert.Equal(t, 45, got.MaxEmployees)
	assert.Equal(t, models.TenantStatusActive, got.Status)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestCreateDefaults(t *testing.T) {
	s := newStore(t)
	r := startRegistry(t, s, nil)

	created, err := r.Create(context.Background(), Form{Name: "A", ProjectID: "a"})
	require.NoError(t, err)
	assert.Equal(t, models.PlanBasic, created.Plan)
	assert.Equal(t, models.DefaultMaxEmployees, created.MaxEmployees)
}

func TestCreateStoresSubmittedValues(t *testing.T) {
	s := newStore(t)
	r := startRegistry(t, s, nil)

	created, err := r.Create(context.Background(), Form{Name: " Sucursal Sur ", ProjectID: "sur-1 ", Plan: "Legacy"})
	require.NoError(t, err)

	got, err := s.Store.GetTenant(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, " Sucursal Sur ", got.Name)
	assert.Equal(t, "sur-1 ", got.ProjectID)
	assert.Equal(t, models.Plan("Legacy"), got.Plan)
}

func TestEditKeepsCustomPlan(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Store.CreateTenant(context.Background(), &models.Tenant{
		ID: "legacy", Name: "Legacy", ProjectID: "legacy-1", Plan: "Gold", MaxEmployees: 12,
	}))
	r := startRegistry(t, s, nil)
	waitTenants(t, r, 1)

	require.NoError(t, r.OpenEdit("legacy"))
	require.NoError(t, r.Save(context.Background()))

	got, err := s.Store.GetTenant(context.Background(), "legacy")
	require.NoError(t, err)
	assert.Equal(t, models.Plan("Gold"), got.Plan)
}

func TestCreateRejectsInvalidForm(t *testing.T) {
	s := newStore(t)
	r := startRegistry(t, s, nil)
	waitTenants(t, r, 0)

	forms := []Form{
		{Name: "", ProjectID: "p"},
		{Name: "A", ProjectID: ""},
		{Name: "  ", ProjectID: "p"},
		{Name: "A", ProjectID: "\t"},
		{Name: "A", ProjectID: "p", Plan: "  "},
		{Name: "A", ProjectID: "p", MaxEmployees: -1},
	}
	for _, form := range forms {
		_, err := r.Create(context.Background(), form)
		assert.ErrorIs(t, err, ErrInvalidForm, "%+v", form)
	}
	assert.Zero(t, s.writeCount(), "no write before validation passes")
}

func TestUpdate(t *testing.T) {
	s := newStore(t)
	seed(t, s.Store, "a")
	r := startRegistry(t, s, nil)
	waitTenants(t, r, 1)
	before := r.Tenants()[0]

	err := r.Update(context.Background(), "a", Form{Name: "Renamed", ProjectID: "p2", Plan: models.Plan("Enterprise"), MaxEmployees: 500})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return r.Tenants()[0].Name == "Renamed"
	}, waitFor, 5*time.Millisecond)

	after := r.Tenants()[0]
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
	assert.Equal(t, "p2", after.ProjectID)
	assert.Equal(t, models.Plan("Enterprise"), after.Plan)

	assert.ErrorIs(t, r.Update(context.Background(), "missing", Form{Name: "A", ProjectID: "p"}), ErrUnknownTenant)
	assert.ErrorIs(t, r.Update(context.Background(), "a", Form{Name: "", ProjectID: "p"}), ErrInvalidForm)
}

func TestDelete(t *testing.T) {
	s := newStore(t)
	seed(t, s.Store, "a", "b", "c")
	r := startRegistry(t, s, nil)
	waitTenants(t, r, 3)

	r.SelectAll(true)

	prompt, err := r.DeletePrompt("b")
	require.NoError(t, err)
	assert.Contains(t, prompt, "Tenant b")

	assert.ErrorIs(t, r.Delete(context.Background(), "b", "wrong"), ErrNotConfirmed)
	assert.ErrorIs(t, r.Delete(context.Background(), "b", ""), ErrNotConfirmed)
	assert.Zero(t, s.writeCount())

	require.NoError(t, r.Delete(context.Background(), "b", "Tenant b"))
	assert.Equal(t, []string{"a", "c"}, r.Selected())

	waitTenants(t, r, 2)
	assert.Equal(t, []string{"a", "c"}, ids(r.Tenants()))
	assert.Equal(t, "Tenant a", r.Tenants()[0].Name)

	assert.ErrorIs(t, r.Delete(context.Background(), "b", "Tenant b"), ErrUnknownTenant)
}

func TestSelection(t *testing.T) {
	s := newStore(t)
	r := startRegistry(t, s, nil)
	waitTenants(t, r, 0)

	r.SelectAll(true)
	assert.Empty(t, r.Selected())
	assert.False(t, r.AllSelected(), "nothing to select")

	seed(t, s.Store, "a", "b", "c")
	waitTenants(t, r, 3)

	r.SelectAll(true)
	r.SelectAll(true)
	assert.Equal(t, []string{"a", "b", "c"}, r.Selected())
	assert.True(t, r.AllSelected())

	r.SelectAll(false)
	r.SelectAll(false)
	assert.Empty(t, r.Selected())
	assert.False(t, r.AllSelected())

	selected, err := r.Toggle("c")
	require.NoError(t, err)
	assert.True(t, selected)
	_, err = r.Toggle("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, r.Selected())

	selected, err = r.Toggle("c")
	require.NoError(t, err)
	assert.False(t, selected)
	assert.Equal(t, []string{"a"}, r.Selected())

	_, err = r.Toggle("zzz")
	assert.ErrorIs(t, err, ErrUnknownTenant)
}

func TestRemoteDeleteFiltersSelection(t *testing.T) {
	s := newStore(t)
	seed(t, s.Store, "a", "b")
	r := startRegistry(t, s, nil)
	waitTenants(t, r, 2)

	r.SelectAll(true)
	require.NoError(t, s.Store.DeleteTenant(context.Background(), "a"))

	waitTenants(t, r, 1)
	assert.Equal(t, []string{"b"}, r.Selected())
	assert.True(t, r.AllSelected())
}

func TestDeploySelectedTenants(t *testing.T) {
	s := newStore(t)
	seed(t, s.Store, "a", "b", "c")

	workflow := &recordedWorkflow{}
	dispatcher := dispatch.New(workflow, dispatch.Target{Owner: "o", Repo: "r", Workflow: "w.yml", Ref: "main"}, nil)
	r := startRegistry(t, s, dispatcher)
	waitTenants(t, r, 3)

	_, err := r.Toggle("a")
	require.NoError(t, err)
	_, err = r.Toggle("c")
	require.NoError(t, err)

	prompt, err := r.DeployPrompt()
	require.NoError(t, err)
	assert.Contains(t, prompt, "2 selected")

	result, err := r.Deploy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 204, result.Status)

	require.Len(t, workflow.requests, 1)
	assert.Equal(t, `["a","c"]`, workflow.requests[0].Inputs["tenants"])

	last := r.View().LastDeploy
	require.NotNil(t, last)
	assert.Equal(t, []string{"a", "c"}, last.Tenants)
	assert.Equal(t, 204, last.Status)
}

func TestDeployEmptySelection(t *testing.T) {
	s := newStore(t)
	deployer := &fakeDeployer{}
	r := startRegistry(t, s, deployer)

	_, err := r.Deploy(context.Background())
	assert.ErrorIs(t, err, ErrEmptySelection)
	_, err = r.DeployPrompt()
	assert.ErrorIs(t, err, ErrEmptySelection)
	assert.Empty(t, deployer.calls)
}

func TestDeployFailureIsRecorded(t *testing.T) {
	s := newStore(t)
	seed(t, s.Store, "a")
	deployer := &fakeDeployer{err: &dispatch.Error{Kind: dispatch.UpstreamError, Status: 422, Body: []byte(`{"message":"bad"}`)}}
	r := startRegistry(t, s, deployer)
	waitTenants(t, r, 1)

	r.SelectAll(true)
	_, err := r.Deploy(context.Background())
	require.Error(t, err)

	last := r.View().LastDeploy
	require.NotNil(t, last)
	assert.Equal(t, `GitHub API Error: 422 - {"message":"bad"}`, last.Error)
	assert.Equal(t, []string{"a"}, r.Selected(), "selection survives a failed deploy")
}

func TestSaveFailureKeepsForm(t *testing.T) {
	s := newStore(t)
	seed(t, s.Store, "a")
	r := startRegistry(t, s, nil)
	waitTenants(t, r, 1)

	r.OpenCreate()
	data := Form{Name: "Nuevo", ProjectID: "nuevo-1", Plan: models.Plan("Pro"), MaxEmployees: 10}
	require.NoError(t, r.SetForm(data))

	s.failWrites(errors.New("permission denied"))
	err := r.Save(context.Background())

	var writeErr *StorageWriteError
	require.True(t, errors.As(err, &writeErr))
	assert.Equal(t, "create", writeErr.Op)

	view := r.View()
	assert.True(t, view.Form.Open)
	assert.Equal(t, data, view.Form.Data)
	assert.Contains(t, view.Form.Error, "permission denied")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"a"}, ids(r.Tenants()), "list unchanged")

	s.failWrites(nil)
	require.NoError(t, r.Save(context.Background()))
	view = r.View()
	assert.False(t, view.Form.Open)
	assert.Equal(t, DefaultForm(), view.Form.Data)
	assert.Empty(t, view.Form.Error)
	waitTenants(t, r, 2)
}

func TestFormEditor(t *testing.T) {
	s := newStore(t)
	seed(t, s.Store, "a")
	r := startRegistry(t, s, nil)
	waitTenants(t, r, 1)

	assert.ErrorIs(t, r.SetForm(Form{}), ErrFormClosed)
	assert.ErrorIs(t, r.Save(context.Background()), ErrFormClosed)
	assert.ErrorIs(t, r.OpenEdit("missing"), ErrUnknownTenant)

	require.NoError(t, r.OpenEdit("a"))
	view := r.View()
	assert.True(t, view.Form.Open)
	assert.Equal(t, "a", view.Form.EditingID)
	assert.Equal(t, "Tenant a", view.Form.Data.Name)

	form := view.Form.Data
	form.Name = "Edited"
	require.NoError(t, r.SetForm(form))
	require.NoError(t, r.Save(context.Background()))

	require.Eventually(t, func() bool {
		return r.Tenants()[0].Name == "Edited"
	}, waitFor, 5*time.Millisecond)

	r.OpenCreate()
	r.CancelForm()
	assert.False(t, r.View().Form.Open)
}

func TestSubscriptionError(t *testing.T) {
	s := newStore(t)
	s.watchErr = errors.New("permission denied")

	r := New(Options{Store: s, SessionID: "test"})
	err := r.Start(context.Background())

	var subErr *StorageSubscriptionError
	require.True(t, errors.As(err, &subErr))
	assert.False(t, r.Loading())
	assert.Contains(t, r.View().Error, "permission denied")
	r.Close()
}

func TestSnapshotErrorKeepsList(t *testing.T) {
	feed := make(chan storage.Snapshot, 1)
	s := newStore(t)
	s.watchFeed = feed

	r := startRegistry(t, s, nil)

	feed <- storage.Snapshot{Tenants: []*models.Tenant{{ID: "a", Name: "A"}}}
	waitTenants(t, r, 1)

	feed <- storage.Snapshot{Err: errors.New("stream reset")}
	require.Eventually(t, func() bool {
		return r.View().Error != ""
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"a"}, ids(r.Tenants()))
	assert.False(t, r.Loading())

	close(feed)
}

func TestCloseStopsView(t *testing.T) {
	s := newStore(t)
	r := New(Options{Store: s, SessionID: "test"})
	require.NoError(t, r.Start(context.Background()))
	waitTenants(t, r, 0)

	ch, cancel := r.Subscribe()
	defer cancel()

	r.Close()
	r.Close()

	require.Eventually(t, func() bool {
		for {
			select {
			case _, open := <-ch:
				if !open {
					return true
				}
			default:
				return false
			}
		}
	}, waitFor, 5*time.Millisecond)

	seed(t, s.Store, "late")
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, r.Tenants())

	_, err := r.Create(context.Background(), Form{Name: "A", ProjectID: "a"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubscribeSignals(t *testing.T) {
	s := newStore(t)
	r := startRegistry(t, s, nil)
	waitTenants(t, r, 0)

	ch, cancel := r.Subscribe()
	defer cancel()

	seed(t, s.Store, "a")
	select {
	case <-ch:
	case <-time.After(waitFor):
		t.Fatal("no change signal")
	}
}
