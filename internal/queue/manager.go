package queue

import "sync"

// Manager holds one admission queue per session, creating lanes lazily on
// first use.
type Manager struct {
	mu       sync.RWMutex
	queues   map[string]*Queue // keyed by session key
	activate func(sessionKey string) ActivateFunc
	opts     Options
}

// NewManager creates a manager. activate is called once per new session to
// build that session's activation hook.
func NewManager(activate func(sessionKey string) ActivateFunc, opts Options) *Manager {
	return &Manager{
		queues:   make(map[string]*Queue),
		activate: activate,
		opts:     opts,
	}
}

// ForSession returns the session's queue, creating it on first use.
func (m *Manager) ForSession(sessionKey string) *Queue {
	m.mu.RLock()
	q, ok := m.queues[sessionKey]
	m.mu.RUnlock()
	if ok {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[sessionKey]; ok {
		return q
	}
	q = New(sessionKey, m.activate(sessionKey), m.opts)
	m.queues[sessionKey] = q
	return q
}

// Find locates the queue holding the given item. Queue IDs are uuids, so a
// linear scan over the small per-user session set is fine.
func (m *Manager) Find(queueID string) (*Queue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, q := range m.queues {
		if _, ok := q.ItemState(queueID); ok {
			return q, true
		}
	}
	return nil, false
}

// Snapshot returns all sessions' items, active-first per session.
func (m *Manager) Snapshot() []ItemView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ItemView
	for _, q := range m.queues {
		out = append(out, q.Snapshot()...)
	}
	return out
}

// Depth returns the total number of live items across sessions.
func (m *Manager) Depth() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, q := range m.queues {
		n += q.Depth()
	}
	return n
}
