package storage

import (
	"sort"
	"sync"

	"github.com/controlface/deploy-console/internal/models"
)

// sendLatest delivers s on ch, replacing a snapshot the reader has not taken yet.
// ch must have a buffer of one and a single sender.
func sendLatest(ch chan Snapshot, s Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	select {
	case ch <- s:
	default:
	}
}

// sortTenants orders a snapshot by creation time, then id
func sortTenants(tenants []*models.Tenant) {
	sort.SliceStable(tenants, func(i, j int) bool {
		if tenants[i].CreatedAt.Equal(tenants[j].CreatedAt) {
			return tenants[i].ID < tenants[j].ID
		}
		return tenants[i].CreatedAt.Before(tenants[j].CreatedAt)
	})
}

// watchHub fans one change feed out to many watchers
type watchHub struct {
	mu     sync.Mutex
	subs   map[chan Snapshot]struct{}
	closed bool
}

func newWatchHub() *watchHub {
	return &watchHub{subs: make(map[chan Snapshot]struct{})}
}

// add registers ch; it reports false once the hub is closed
func (h *watchHub) add(ch chan Snapshot) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.subs[ch] = struct{}{}
	return true
}

// remove unregisters ch and closes it
func (h *watchHub) remove(ch chan Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[ch]; !ok {
		return
	}
	delete(h.subs, ch)
	close(ch)
}

// send delivers s to ch if ch is still registered
func (h *watchHub) send(ch chan Snapshot, s Snapshot) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[ch]; !ok {
		return false
	}
	sendLatest(ch, s)
	return true
}

func (h *watchHub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// broadcast sends s to every watcher. Each watcher gets its own copy of the slice.
func (h *watchHub) broadcast(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		sendLatest(ch, copySnapshot(s))
	}
}

// close closes every watcher channel
func (h *watchHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

func copySnapshot(s Snapshot) Snapshot {
	if s.Tenants == nil {
		return s
	}
	tenants := make([]*models.Tenant, len(s.Tenants))
	for i, t := range s.Tenants {
		tenants[i] = t.Clone()
	}
	return Snapshot{Tenants: tenants, Err: s.Err}
}
