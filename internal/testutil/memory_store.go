package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/youssefsiam38/sessionpg/storage"
	"github.com/youssefsiam38/sessionpg/types"
)

// MemoryStore is an in-memory storage.Store for unit tests.
//
// Orders come from a single counter shared by all sessions, like a database
// sequence. The Err* fields inject failures into the matching method.
type MemoryStore struct {
	mu       sync.Mutex
	next     int64
	sessions map[string]*types.Session
	messages map[string][]*types.Message
	events   map[string][]*storage.CompactionEvent

	leaderID      string
	leaderExpires time.Time

	// Now returns the clock used for timestamps. Defaults to time.Now.
	Now func() time.Time

	ErrAppend      error
	ErrGet         error
	ErrRecord      error
	AppendCalls    int
	GetCalls       int
	GetAfterCalls  int
	LastAfterOrder int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*types.Session),
		messages: make(map[string][]*types.Message),
		events:   make(map[string][]*storage.CompactionEvent),
		Now:      time.Now,
	}
}

// AppendMessage implements storage.Store.
func (m *MemoryStore) AppendMessage(_ context.Context, sessionID string, role types.Role, content string) (*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AppendCalls++
	if m.ErrAppend != nil {
		return nil, m.ErrAppend
	}
	if sessionID == "" {
		return nil, storage.ErrEmptySessionID
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownRole, role)
	}

	now := m.Now()
	sess, ok := m.sessions[sessionID]
	if !ok {
		sess = &types.Session{ID: sessionID, CreatedAt: now}
		m.sessions[sessionID] = sess
	}
	sess.UpdatedAt = now

	m.next++
	msg := &types.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Order:     m.next,
		CreatedAt: now,
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)

	out := *msg
	return &out, nil
}

// GetMessages implements storage.Store.
func (m *MemoryStore) GetMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	return m.GetMessagesByRoles(ctx, sessionID, nil)
}

// GetMessagesByRoles implements storage.Store.
func (m *MemoryStore) GetMessagesByRoles(_ context.Context, sessionID string, roles []types.Role) ([]*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetCalls++
	if m.ErrGet != nil {
		return nil, m.ErrGet
	}
	return m.filter(sessionID, 0, roles), nil
}

// GetMessagesAfter implements storage.Store.
func (m *MemoryStore) GetMessagesAfter(_ context.Context, sessionID string, fromOrder int64, roles []types.Role) ([]*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetAfterCalls++
	m.LastAfterOrder = fromOrder
	if m.ErrGet != nil {
		return nil, m.ErrGet
	}
	return m.filter(sessionID, fromOrder, roles), nil
}

func (m *MemoryStore) filter(sessionID string, fromOrder int64, roles []types.Role) []*types.Message {
	allowed := make(map[types.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	var out []*types.Message
	for _, msg := range m.messages[sessionID] {
		if msg.Order < fromOrder {
			continue
		}
		if len(roles) > 0 && !allowed[msg.Role] {
			continue
		}
		c := *msg
		out = append(out, &c)
	}
	return out
}

// DeleteSession implements storage.Store.
func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	delete(m.messages, sessionID)
	delete(m.events, sessionID)
	return nil
}

// GetSession implements storage.Store.
func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrSessionNotFound, sessionID)
	}
	out := *sess
	return &out, nil
}

// GetIdleSessions implements storage.Store.
func (m *MemoryStore) GetIdleSessions(_ context.Context, horizon time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ErrGet != nil {
		return nil, m.ErrGet
	}

	var idle []*types.Session
	for _, sess := range m.sessions {
		if sess.UpdatedAt.Before(horizon) {
			idle = append(idle, sess)
		}
	}
	sort.Slice(idle, func(i, j int) bool {
		if idle[i].UpdatedAt.Equal(idle[j].UpdatedAt) {
			return idle[i].ID < idle[j].ID
		}
		return idle[i].UpdatedAt.Before(idle[j].UpdatedAt)
	})

	var ids []string
	for _, sess := range idle {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, sess.ID)
	}
	return ids, nil
}

// GetActiveSessions implements storage.Store.
func (m *MemoryStore) GetActiveSessions(_ context.Context, since time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ErrGet != nil {
		return nil, m.ErrGet
	}

	var active []*types.Session
	for _, sess := range m.sessions {
		if !sess.UpdatedAt.Before(since) {
			active = append(active, sess)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].UpdatedAt.Equal(active[j].UpdatedAt) {
			return active[i].ID < active[j].ID
		}
		return active[i].UpdatedAt.After(active[j].UpdatedAt)
	})

	var ids []string
	for _, sess := range active {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, sess.ID)
	}
	return ids, nil
}

// RecordCompaction implements storage.Store.
func (m *MemoryStore) RecordCompaction(_ context.Context, event *storage.CompactionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ErrRecord != nil {
		return m.ErrRecord
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	event.CreatedAt = m.Now()

	e := *event
	m.events[event.SessionID] = append(m.events[event.SessionID], &e)
	if sess, ok := m.sessions[event.SessionID]; ok {
		sess.CompactionCount++
	}
	return nil
}

// GetCompactionHistory implements storage.Store.
func (m *MemoryStore) GetCompactionHistory(_ context.Context, sessionID string) ([]*storage.CompactionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*storage.CompactionEvent, 0, len(m.events[sessionID]))
	for _, e := range m.events[sessionID] {
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

// SetUpdatedAt overrides a session's last activity time.
func (m *MemoryStore) SetUpdatedAt(sessionID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[sessionID]; ok {
		sess.UpdatedAt = at
	}
}

// LeaderAttemptElect implements storage.LeaderStore.
func (m *MemoryStore) LeaderAttemptElect(_ context.Context, params *storage.LeaderElectParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	if m.leaderID != "" && !now.After(m.leaderExpires) {
		return false, nil
	}
	m.leaderID = params.LeaderID
	m.leaderExpires = now.Add(params.TTL)
	return true, nil
}

// LeaderAttemptReelect implements storage.LeaderStore.
func (m *MemoryStore) LeaderAttemptReelect(_ context.Context, params *storage.LeaderElectParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	if m.leaderID != params.LeaderID || now.After(m.leaderExpires) {
		return false, nil
	}
	m.leaderExpires = now.Add(params.TTL)
	return true, nil
}

// LeaderResign implements storage.LeaderStore.
func (m *MemoryStore) LeaderResign(_ context.Context, leaderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.leaderID == leaderID {
		m.leaderID = ""
		m.leaderExpires = time.Time{}
	}
	return nil
}

// Leader returns the current lease holder, or "" when none.
func (m *MemoryStore) Leader() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaderID
}

var (
	_ storage.Store       = (*MemoryStore)(nil)
	_ storage.LeaderStore = (*MemoryStore)(nil)
)
