package subscription

import (
	"sort"
	"sync"

	"github.com/rickgao/feedstream/internal/model"
)

// Manager tracks active and pending keys. Safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	active  map[model.FeedKey]struct{}
	pending map[model.FeedKey]struct{}

	// notify is signalled (non-blocking) whenever pending becomes non-empty.
	notify chan struct{}
}

// Stats is a point-in-time count of both sets.
type Stats struct {
	Active  int
	Pending int
}

// NewManager creates a Manager with the initial keys queued as pending.
func NewManager(initial ...model.FeedKey) *Manager {
	m := &Manager{
		active:  make(map[model.FeedKey]struct{}),
		pending: make(map[model.FeedKey]struct{}),
		notify:  make(chan struct{}, 1),
	}
	m.Register(initial...)
	return m
}

// Register queues keys as pending. Keys already active or pending are unaffected.
// Returns the number of keys newly added.
func (m *Manager) Register(keys ...model.FeedKey) int {
	m.mu.Lock()
	added := 0
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := m.active[k]; ok {
			continue
		}
		if _, ok := m.pending[k]; ok {
			continue
		}
		m.pending[k] = struct{}{}
		added++
	}
	m.mu.Unlock()

	if added > 0 {
		select {
		case m.notify <- struct{}{}:
		default:
		}
	}
	return added
}

// Unregister removes keys from both sets and returns the ones that were active.
func (m *Manager) Unregister(keys ...model.FeedKey) []model.FeedKey {
	m.mu.Lock()
	defer m.mu.Unlock()

	var wasActive []model.FeedKey
	for _, k := range keys {
		if _, ok := m.active[k]; ok {
			wasActive = append(wasActive, k)
			delete(m.active, k)
		}
		delete(m.pending, k)
	}
	return wasActive
}

// DrainPending atomically moves every pending key into active and returns them,
// sorted, for use as one subscribe batch. Returns nil when nothing is pending.
func (m *Manager) DrainPending() []model.FeedKey {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 {
		return nil
	}

	keys := make([]model.FeedKey, 0, len(m.pending))
	for k := range m.pending {
		keys = append(keys, k)
		m.active[k] = struct{}{}
	}
	clear(m.pending)

	sortKeys(keys)
	return keys
}

// ResetToPending moves every active key back to pending. Called once per
// reconnect, before the first subscribe on the new connection.
func (m *Manager) ResetToPending() {
	m.mu.Lock()
	for k := range m.active {
		m.pending[k] = struct{}{}
	}
	clear(m.active)
	m.mu.Unlock()
}

// HasPending reports whether any key is waiting to be subscribed.
func (m *Manager) HasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending) > 0
}

// Contains reports whether key is active or pending.
func (m *Manager) Contains(key model.FeedKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[key]; ok {
		return true
	}
	_, ok := m.pending[key]
	return ok
}

// Notify returns a channel that receives a value after pending grows.
func (m *Manager) Notify() <-chan struct{} {
	return m.notify
}

// Active returns the active keys, sorted.
func (m *Manager) Active() []model.FeedKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return setKeys(m.active)
}

// Pending returns the pending keys, sorted.
func (m *Manager) Pending() []model.FeedKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return setKeys(m.pending)
}

// All returns active and pending keys together, sorted.
func (m *Manager) All() []model.FeedKey {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]model.FeedKey, 0, len(m.active)+len(m.pending))
	for k := range m.active {
		keys = append(keys, k)
	}
	for k := range m.pending {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

// Stats returns the size of both sets.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Active: len(m.active), Pending: len(m.pending)}
}

func setKeys(set map[model.FeedKey]struct{}) []model.FeedKey {
	keys := make([]model.FeedKey, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

func sortKeys(keys []model.FeedKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}
