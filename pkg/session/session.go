// Package session provides tenant session lifecycle: creation, touch/TTL
// semantics, capacity eviction and a background expiry sweeper.
//
// A session exclusively owns its buffers. Tasks are referenced by id only;
// the agent package owns task records.
package session

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auilabs/aui/pkg/buffer"
	"github.com/auilabs/aui/pkg/protocol"
)

const maxCommandHistory = 100

// Session is one tenant interaction.
type Session struct {
	ID               string                    `json:"id"`
	UserID           string                    `json:"user_id,omitempty"`
	Name             string                    `json:"name,omitempty"`
	Buffers          map[string]*buffer.Buffer `json:"buffers"`
	ActiveBufferName string                    `json:"active_buffer_name,omitempty"`
	SearchSessionID  string                    `json:"search_session_id,omitempty"`
	CurrentTaskID    string                    `json:"current_task_id,omitempty"`
	TaskHistory      []string                  `json:"task_history,omitempty"`
	CommandHistory   []string                  `json:"command_history,omitempty"`
	Variables        map[string]protocol.Value `json:"variables,omitempty"`
	CreatedAt        time.Time                 `json:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
	ExpiresAt        time.Time                 `json:"expires_at"`
	CommandCount     int                       `json:"command_count"`
	SearchCount      int                       `json:"search_count"`
	TaskCount        int                       `json:"task_count"`

	mu sync.Mutex
}

// Lock serializes per-session mutations. Step appends and buffer mutations
// for one session go through this lock.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// RecordCommand appends to the command history, dropping the oldest entry
// past the cap, and bumps the command counter.
func (s *Session) RecordCommand(cmd string) {
	s.CommandHistory = append(s.CommandHistory, cmd)
	if len(s.CommandHistory) > maxCommandHistory {
		s.CommandHistory = s.CommandHistory[len(s.CommandHistory)-maxCommandHistory:]
	}
	s.CommandCount++
}

// Expired reports whether the session's TTL has elapsed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Marshal serializes the session for snapshot persistence.
func (s *Session) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal restores a session from its snapshot form.
func Unmarshal(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Buffers == nil {
		s.Buffers = make(map[string]*buffer.Buffer)
	}
	if s.Variables == nil {
		s.Variables = make(map[string]protocol.Value)
	}
	return &s, nil
}

// Manager owns the session map: creation, lookup, touch, eviction and the
// background cleanup sweeper.
type Manager struct {
	maxSessions     int
	ttl             time.Duration
	cleanupInterval time.Duration

	// OnEvict, when set, is called after a session is evicted or expired,
	// outside the map lock.
	OnEvict func(*Session)

	mu       sync.RWMutex
	sessions map[string]*Session

	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once

	now func() time.Time
}

// NewManager creates a session manager and starts its cleanup sweeper.
func NewManager(maxSessions int, ttl, cleanupInterval time.Duration) *Manager {
	if maxSessions <= 0 {
		maxSessions = 1000
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 60 * time.Second
	}

	m := &Manager{
		maxSessions:     maxSessions,
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		sessions:        make(map[string]*Session),
		done:            make(chan struct{}),
		now:             time.Now,
	}

	m.ticker = time.NewTicker(cleanupInterval)
	go m.sweep()

	return m
}

// SetClock overrides the time source, used by tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func (m *Manager) sweep() {
	for {
		select {
		case <-m.ticker.C:
			m.Cleanup()
		case <-m.done:
			return
		}
	}
}

// Create allocates a new session. At capacity, the session with the oldest
// UpdatedAt is evicted first.
func (m *Manager) Create(userID, name string) *Session {
	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Buffers:   make(map[string]*buffer.Buffer),
		Variables: make(map[string]protocol.Value),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	var evicted *Session
	m.mu.Lock()
	if len(m.sessions) >= m.maxSessions {
		evicted = m.evictOldestLocked()
	}
	m.sessions[s.ID] = s
	m.mu.Unlock()

	if evicted != nil && m.OnEvict != nil {
		m.OnEvict(evicted)
	}
	return s
}

// evictOldestLocked removes and returns the session with the oldest
// UpdatedAt. Caller holds the write lock.
func (m *Manager) evictOldestLocked() *Session {
	var oldest *Session
	for _, s := range m.sessions {
		if oldest == nil || s.UpdatedAt.Before(oldest.UpdatedAt) {
			oldest = s
		}
	}
	if oldest != nil {
		delete(m.sessions, oldest.ID)
	}
	return oldest
}

// Get returns the session, or nil if unknown or expired. Expired sessions
// are removed on access.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	if s.Expired(m.now()) {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		if m.OnEvict != nil {
			m.OnEvict(s)
		}
		return nil
	}
	return s
}

// Touch refreshes the session's activity timestamps.
func (m *Manager) Touch(s *Session) {
	now := m.now()
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(m.ttl)
}

// Restore re-inserts a rehydrated session, evicting at capacity as Create
// does.
func (m *Manager) Restore(s *Session) {
	var evicted *Session
	m.mu.Lock()
	if len(m.sessions) >= m.maxSessions {
		evicted = m.evictOldestLocked()
	}
	m.sessions[s.ID] = s
	m.mu.Unlock()

	if evicted != nil && m.OnEvict != nil {
		m.OnEvict(evicted)
	}
}

// Delete removes a session outright.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	return ok
}

// List returns non-expired sessions, newest-updated first.
func (m *Manager) List() []*Session {
	now := m.now()

	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if !s.Expired(now) {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Count returns the number of tracked sessions, expired or not.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Cleanup removes all expired sessions. Sessions are removed one at a time
// so tenant calls are never blocked behind a long sweep.
func (m *Manager) Cleanup() int {
	now := m.now()

	m.mu.RLock()
	var expired []*Session
	for _, s := range m.sessions {
		if s.Expired(now) {
			expired = append(expired, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range expired {
		m.mu.Lock()
		delete(m.sessions, s.ID)
		m.mu.Unlock()
		if m.OnEvict != nil {
			m.OnEvict(s)
		}
	}
	return len(expired)
}

// Destroy stops the sweeper and clears the map.
func (m *Manager) Destroy() {
	m.once.Do(func() {
		m.ticker.Stop()
		close(m.done)
	})

	m.mu.Lock()
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
}
