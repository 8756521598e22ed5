package session

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Factory builds an unopened session for a conversation.
type Factory func(conversationID string) *Session

// Manager keeps at most one live session per conversation id.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*managed
	factory  Factory
}

// managed is a tracked session. ready is closed once its first Open returned;
// err holds that Open's result.
type managed struct {
	session *Session
	ready   chan struct{}
	err     error
}

func (e *managed) opened() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

func NewManager(factory Factory) *Manager {
	return &Manager{sessions: map[string]*managed{}, factory: factory}
}

// GetOrOpen returns the live session for conversationID, opening a new one if
// none exists or the previous one reached a terminal state. Concurrent callers
// for the same id wait for the first Open and share its result.
func (m *Manager) GetOrOpen(ctx context.Context, conversationID string) (*Session, error) {
	for {
		m.mu.Lock()
		e, ok := m.sessions[conversationID]
		if !ok {
			e = &managed{session: m.factory(conversationID), ready: make(chan struct{})}
			m.sessions[conversationID] = e
			m.mu.Unlock()
			return m.open(ctx, conversationID, e)
		}
		m.mu.Unlock()

		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		if !e.session.State().Terminal() {
			return e.session, nil
		}
		m.forget(conversationID, e)
	}
}

func (m *Manager) open(ctx context.Context, conversationID string, e *managed) (*Session, error) {
	e.err = e.session.Open(ctx, conversationID)
	if e.err != nil {
		m.forget(conversationID, e)
	}
	close(e.ready)
	if e.err != nil {
		return nil, e.err
	}
	return e.session, nil
}

func (m *Manager) forget(conversationID string, e *managed) {
	m.mu.Lock()
	if m.sessions[conversationID] == e {
		delete(m.sessions, conversationID)
	}
	m.mu.Unlock()
}

func (m *Manager) Get(conversationID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[conversationID]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Close closes and forgets the session for conversationID.
func (m *Manager) Close(conversationID string) error {
	m.mu.Lock()
	e, ok := m.sessions[conversationID]
	delete(m.sessions, conversationID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return e.session.Close()
}

// Sweep forgets sessions that are closed or failed and returns how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, e := range m.sessions {
		if e.opened() && e.session.State().Terminal() {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// IDs returns the tracked conversation ids in sorted order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = map[string]*managed{}
	m.mu.Unlock()
	for id, e := range sessions {
		if err := e.session.Close(); err != nil {
			log.Warn().Err(err).Str("component", "session").Str("conv_id", id).Msg("manager: close failed")
		}
	}
}
