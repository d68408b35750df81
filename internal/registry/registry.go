package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/controlface/deploy-console/internal/dispatch"
	"github.com/controlface/deploy-console/internal/events"
	"github.com/controlface/deploy-console/internal/metrics"
	"github.com/controlface/deploy-console/internal/models"
	"github.com/controlface/deploy-console/internal/storage"
	"github.com/controlface/deploy-console/internal/validation"
)

// Deployer triggers a deploy for an ordered list of tenant ids
type Deployer interface {
	Trigger(ctx context.Context, tenants []string) (*dispatch.Result, error)
}

// Options configures a Registry
type Options struct {
	Store     storage.Store
	Deployer  Deployer
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	SessionID string
}

// FormState is the tenant form as shown to the operator
type FormState struct {
	Open      bool   `json:"open"`
	EditingID string `json:"editingId,omitempty"`
	Data      Form   `json:"data"`
	Error     string `json:"error,omitempty"`
}

// DeployOutcome is the result of the last deploy triggered from the view
type DeployOutcome struct {
	Tenants []string  `json:"tenants"`
	Status  int       `json:"status,omitempty"`
	Message string    `json:"message,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// View is a point-in-time copy of the registry state
type View struct {
	Tenants     []*models.Tenant `json:"tenants"`
	Loading     bool             `json:"loading"`
	Error       string           `json:"error,omitempty"`
	Selected    []string         `json:"selected"`
	AllSelected bool             `json:"allSelected"`
	Form        FormState        `json:"form"`
	LastDeploy  *DeployOutcome   `json:"lastDeploy,omitempty"`
}

// Registry is one operator's live view over the tenant collection.
// The tenant list changes only when the store's change feed delivers a
// snapshot; writes are never applied locally.
type Registry struct {
	store     storage.Store
	deployer  Deployer
	publisher events.Publisher
	metrics   *metrics.Metrics
	validator *validation.Validator
	sessionID string
	now       func() time.Time

	mu         sync.RWMutex
	tenants    []*models.Tenant
	loading    bool
	subErr     error
	selection  []string
	form       FormState
	lastDeploy *DeployOutcome
	closed     bool

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a registry. Start must be called to begin receiving snapshots.
func New(opts Options) *Registry {
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}

	return &Registry{
		store:     opts.Store,
		deployer:  opts.Deployer,
		publisher: publisher,
		metrics:   opts.Metrics,
		validator: validation.NewValidator(),
		sessionID: opts.SessionID,
		now:       time.Now,
		tenants:   make([]*models.Tenant, 0),
		loading:   true,
		selection: make([]string, 0),
		form:      FormState{Data: DefaultForm()},
		subs:      make(map[chan struct{}]struct{}),
		done:      make(chan struct{}),
	}
}

// ========== Subscription ==========

// Start opens the change feed subscription. Subsequent calls are no-ops.
func (r *Registry) Start(ctx context.Context) error {
	var err error
	r.startOnce.Do(func() {
		err = r.start(ctx)
	})
	return err
}

func (r *Registry) start(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	ch, err := r.store.WatchTenants(watchCtx)
	if err != nil {
		cancel()
		close(r.done)
		subErr := &StorageSubscriptionError{Err: err}
		r.failSubscription(subErr)
		return subErr
	}

	go r.run(ch)
	return nil
}

func (r *Registry) run(ch <-chan storage.Snapshot) {
	defer close(r.done)

	for snap := range ch {
		r.metrics.RecordSnapshot(snap.Err)

		if snap.Err != nil {
			r.failSubscription(&StorageSubscriptionError{Err: snap.Err})
			continue
		}
		r.applySnapshot(snap.Tenants)
	}

	r.mu.Lock()
	r.loading = false
	r.mu.Unlock()
}

func (r *Registry) applySnapshot(tenants []*models.Tenant) {
	r.mu.Lock()
	r.tenants = tenants
	r.loading = false
	r.subErr = nil

	present := make(map[string]struct{}, len(tenants))
	for _, t := range tenants {
		present[t.ID] = struct{}{}
	}
	kept := make([]string, 0, len(r.selection))
	for _, id := range r.selection {
		if _, ok := present[id]; ok {
			kept = append(kept, id)
		}
	}
	r.selection = kept
	r.mu.Unlock()

	r.notify()
}

// failSubscription keeps the last list and stops the loading indicator.
// There is no retry here; reconnecting is up to the store.
func (r *Registry) failSubscription(err *StorageSubscriptionError) {
	log.Error().Err(err.Err).Str("session", r.sessionID).Msg("Tenant subscription failed")

	r.mu.Lock()
	r.loading = false
	r.subErr = err
	r.mu.Unlock()

	r.notify()
}

// Close cancels the subscription and waits for the snapshot loop to exit.
// Subscribers' channels are closed.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()

		started := true
		r.startOnce.Do(func() { started = false })
		if started {
			if r.cancel != nil {
				r.cancel()
			}
			<-r.done
		}

		r.subsMu.Lock()
		for ch := range r.subs {
			close(ch)
		}
		r.subs = make(map[chan struct{}]struct{})
		r.subsMu.Unlock()
	})
}

// Subscribe returns a channel signalled after every state change, and a
// function that removes it. Signals coalesce; read View for the state.
func (r *Registry) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	r.subsMu.Lock()
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		r.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	r.subs[ch] = struct{}{}
	r.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subsMu.Lock()
			defer r.subsMu.Unlock()
			if _, ok := r.subs[ch]; ok {
				delete(r.subs, ch)
				close(ch)
			}
		})
	}
}

func (r *Registry) notify() {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// ========== State ==========

// View returns a copy of the current state
func (r *Registry) View() View {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenants := make([]*models.Tenant, len(r.tenants))
	for i, t := range r.tenants {
		tenants[i] = t.Clone()
	}

	view := View{
		Tenants:     tenants,
		Loading:     r.loading,
		Selected:    append([]string{}, r.selection...),
		AllSelected: r.allSelectedLocked(),
		Form:        r.form,
	}
	if r.subErr != nil {
		view.Error = r.subErr.Error()
	}
	if r.lastDeploy != nil {
		outcome := *r.lastDeploy
		outcome.Tenants = append([]string{}, r.lastDeploy.Tenants...)
		view.LastDeploy = &outcome
	}
	return view
}

// Tenants returns the current list in store order
func (r *Registry) Tenants() []*models.Tenant {
	return r.View().Tenants
}

// Loading reports whether no snapshot has arrived yet
func (r *Registry) Loading() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loading
}

// SessionID returns the operator session owning the view
func (r *Registry) SessionID() string {
	return r.sessionID
}

func (r *Registry) findLocked(id string) (*models.Tenant, bool) {
	for _, t := range r.tenants {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

func (r *Registry) lookup(id string) (*models.Tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.findLocked(id)
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// ========== Tenant writes ==========

// Create validates the form and writes a new active tenant. The view picks
// it up from the next snapshot.
func (r *Registry) Create(ctx context.Context, form Form) (*models.Tenant, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}

	form, err := form.normalize(r.validator)
	if err != nil {
		return nil, err
	}

	tenant := &models.Tenant{
		Status:    models.TenantStatusActive,
		CreatedAt: r.now().UTC(),
	}
	form.apply(tenant)

	err = r.store.CreateTenant(ctx, tenant)
	r.metrics.RecordTenantWrite("create", err)
	if err != nil {
		log.Error().Err(err).Str("name", tenant.Name).Msg("Failed to create tenant")
		return nil, &StorageWriteError{Op: "create", Err: err}
	}

	log.Info().Str("tenant_id", tenant.ID).Str("name", tenant.Name).Msg("Tenant created")
	r.publishTenant(models.EventTypeTenantCreated, tenant)
	return tenant, nil
}

// Update overwrites the form fields of an existing tenant
func (r *Registry) Update(ctx context.Context, id string, form Form) error {
	if r.isClosed() {
		return ErrClosed
	}

	form, err := form.normalize(r.validator)
	if err != nil {
		return err
	}

	tenant := &models.Tenant{ID: id}
	form.apply(tenant)

	err = r.store.UpdateTenant(ctx, tenant)
	r.metrics.RecordTenantWrite("update", err)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownTenant, id)
	}
	if err != nil {
		log.Error().Err(err).Str("tenant_id", id).Msg("Failed to update tenant")
		return &StorageWriteError{Op: "update", Err: err}
	}

	log.Info().Str("tenant_id", id).Msg("Tenant updated")
	r.publishTenant(models.EventTypeTenantUpdated, tenant)
	return nil
}

// DeletePrompt returns the confirmation text for deleting id
func (r *Registry) DeletePrompt(id string) (string, error) {
	tenant, ok := r.lookup(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTenant, id)
	}
	return fmt.Sprintf("Delete %s? This only removes it from the console; the tenant's Google project is not deleted. Type the tenant name to confirm.", tenant.Name), nil
}

// Delete removes a tenant after the operator confirmed by typing its name.
// The external project is never touched.
func (r *Registry) Delete(ctx context.Context, id, confirmation string) error {
	if r.isClosed() {
		return ErrClosed
	}

	tenant, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTenant, id)
	}
	if confirmation != tenant.Name {
		return ErrNotConfirmed
	}

	err := r.store.DeleteTenant(ctx, id)
	r.metrics.RecordTenantWrite("delete", err)
	if errors.Is(err, storage.ErrNotFound) {
		err = nil
	}
	if err != nil {
		log.Error().Err(err).Str("tenant_id", id).Msg("Failed to delete tenant")
		return &StorageWriteError{Op: "delete", Err: err}
	}

	r.mu.Lock()
	r.selection = removeID(r.selection, id)
	r.mu.Unlock()
	r.notify()

	log.Info().Str("tenant_id", id).Str("name", tenant.Name).Msg("Tenant deleted")
	r.publishTenant(models.EventTypeTenantDeleted, tenant)
	return nil
}

func (r *Registry) publishTenant(eventType models.EventType, t *models.Tenant) {
	r.publisher.PublishTenant(&models.TenantEvent{
		Type:      eventType,
		TenantID:  t.ID,
		Name:      t.Name,
		ProjectID: t.ProjectID,
		SessionID: r.sessionID,
		At:        r.now().UTC(),
	})
}

// ========== Form editor ==========

// OpenCreate opens an empty form with defaults
func (r *Registry) OpenCreate() {
	r.mu.Lock()
	r.form = FormState{Open: true, Data: DefaultForm()}
	r.mu.Unlock()
	r.notify()
}

// OpenEdit opens the form filled with the tenant's current values
func (r *Registry) OpenEdit(id string) error {
	r.mu.Lock()
	tenant, ok := r.findLocked(id)
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTenant, id)
	}
	r.form = FormState{Open: true, EditingID: id, Data: FormFromTenant(tenant)}
	r.mu.Unlock()
	r.notify()
	return nil
}

// SetForm replaces the field values of the open form
func (r *Registry) SetForm(data Form) error {
	r.mu.Lock()
	if !r.form.Open {
		r.mu.Unlock()
		return ErrFormClosed
	}
	r.form.Data = data
	r.mu.Unlock()
	r.notify()
	return nil
}

// CancelForm closes the form and resets it
func (r *Registry) CancelForm() {
	r.mu.Lock()
	r.form = FormState{Data: DefaultForm()}
	r.mu.Unlock()
	r.notify()
}

// Save submits the open form. On failure the form stays open with its data
// and the error message; on success it closes and resets.
func (r *Registry) Save(ctx context.Context) error {
	r.mu.RLock()
	state := r.form
	r.mu.RUnlock()

	if !state.Open {
		return ErrFormClosed
	}

	var err error
	if state.EditingID == "" {
		_, err = r.Create(ctx, state.Data)
	} else {
		err = r.Update(ctx, state.EditingID, state.Data)
	}

	r.mu.Lock()
	if err != nil {
		r.form.Error = err.Error()
	} else {
		r.form = FormState{Data: DefaultForm()}
	}
	r.mu.Unlock()
	r.notify()

	return err
}

// ========== Selection ==========

// SelectAll sets the selection to every visible tenant, or clears it
func (r *Registry) SelectAll(checked bool) {
	r.mu.Lock()
	if checked {
		ids := make([]string, 0, len(r.tenants))
		for _, t := range r.tenants {
			ids = append(ids, t.ID)
		}
		r.selection = ids
	} else {
		r.selection = make([]string, 0)
	}
	r.mu.Unlock()
	r.notify()
}

// Toggle adds id to the end of the selection or removes it.
// It reports whether id is selected afterwards.
func (r *Registry) Toggle(id string) (bool, error) {
	r.mu.Lock()
	if _, ok := r.findLocked(id); !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownTenant, id)
	}

	selected := !containsID(r.selection, id)
	if selected {
		r.selection = append(r.selection, id)
	} else {
		r.selection = removeID(r.selection, id)
	}
	r.mu.Unlock()
	r.notify()

	return selected, nil
}

// Selected returns the selection in order
func (r *Registry) Selected() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.selection...)
}

// AllSelected reports whether every visible tenant is selected
func (r *Registry) AllSelected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allSelectedLocked()
}

func (r *Registry) allSelectedLocked() bool {
	return len(r.tenants) > 0 && len(r.selection) == len(r.tenants)
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// ========== Deploy ==========

// DeployPrompt returns the confirmation text for deploying the selection
func (r *Registry) DeployPrompt() (string, error) {
	selected := r.Selected()
	if len(selected) == 0 {
		return "", ErrEmptySelection
	}
	return fmt.Sprintf("A code update will be deployed to %d selected tenant(s). Continue?", len(selected)), nil
}

// Deploy hands the ordered selection to the deployer as one request.
// Overlapping deploys are not serialized.
func (r *Registry) Deploy(ctx context.Context) (*dispatch.Result, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}

	selected := r.Selected()
	if len(selected) == 0 {
		return nil, ErrEmptySelection
	}

	result, err := r.deployer.Trigger(ctx, selected)

	outcome := &DeployOutcome{Tenants: selected, At: r.now().UTC()}
	event := &models.DeployEvent{Tenants: selected, SessionID: r.sessionID, At: outcome.At}

	if err != nil {
		outcome.Error = deployErrorMessage(err)
		event.Type = models.EventTypeDeployFailed
		event.Error = outcome.Error
		var dispatchErr *dispatch.Error
		if errors.As(err, &dispatchErr) {
			event.RemoteStatus = dispatchErr.Status
			outcome.Status = dispatchErr.Status
		}
	} else {
		outcome.Status = result.Status
		outcome.Message = result.Message
		event.Type = models.EventTypeDeployDispatched
		event.RemoteStatus = result.Status
	}

	r.mu.Lock()
	r.lastDeploy = outcome
	r.mu.Unlock()
	r.notify()

	r.publisher.PublishDeploy(event)
	return result, err
}

func deployErrorMessage(err error) string {
	var dispatchErr *dispatch.Error
	if errors.As(err, &dispatchErr) {
		return dispatchErr.Message()
	}
	return err.Error()
}
