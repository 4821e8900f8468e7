package client

import (
	"sort"
	"sync"

	"github.com/dormhub/dorm-portal-api/internal/models"
)

// ActiveList is the local cache of the student's non-terminal requests. It
// only ever moves forward: a record with an older lastModified than the
// cached copy is ignored, which protects against out-of-order event delivery.
type ActiveList struct {
	mu    sync.RWMutex
	items map[string]models.MaintenanceRequest
}

// NewActiveList constructs an empty cache.
func NewActiveList() *ActiveList {
	return &ActiveList{items: make(map[string]models.MaintenanceRequest)}
}

// Get returns the cached copy of a request.
func (l *ActiveList) Get(id string) (models.MaintenanceRequest, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	req, ok := l.items[id]
	return req, ok
}

// Apply merges a freshly fetched record into the cache. Terminal records are
// evicted; stale records (older lastModified than cached) are dropped.
func (l *ActiveList) Apply(req *models.MaintenanceRequest) {
	if req == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if req.State.Terminal() {
		delete(l.items, req.ID)
		return
	}
	if cached, ok := l.items[req.ID]; ok && cached.LastModified.After(req.LastModified) {
		return
	}
	l.items[req.ID] = *req
}

// Swap retires the superseded request and admits its replacement. The old and
// new record are never both active.
func (l *ActiveList) Swap(oldID string, replacement *models.MaintenanceRequest) {
	l.mu.Lock()
	delete(l.items, oldID)
	l.mu.Unlock()
	l.Apply(replacement)
}

// Replace resets the cache from an authoritative listing, as done on
// reconnect when any number of events may have been missed.
func (l *ActiveList) Replace(requests []models.MaintenanceRequest) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = make(map[string]models.MaintenanceRequest, len(requests))
	for _, req := range requests {
		if req.State.Terminal() {
			continue
		}
		l.items[req.ID] = req
	}
}

// Snapshot returns the active requests ordered newest first.
func (l *ActiveList) Snapshot() []models.MaintenanceRequest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.MaintenanceRequest, 0, len(l.items))
	for _, req := range l.items {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of active requests.
func (l *ActiveList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}
