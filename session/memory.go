package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. It is the reference backend used
// by tests and single-node deployments.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byUser   map[string]map[string]struct{}
}

// NewMemoryStore returns an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]struct{}),
	}
}

// Get implements [Store].
func (m *MemoryStore) Get(ctx context.Context, handle string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[handle]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

// Create implements [Store].
func (m *MemoryStore) Create(ctx context.Context, sess *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sess.Handle]; ok {
		return ErrHandleExists
	}
	m.sessions[sess.Handle] = sess.Clone()
	set, ok := m.byUser[sess.UserID]
	if !ok {
		set = make(map[string]struct{})
		m.byUser[sess.UserID] = set
	}
	set[sess.Handle] = struct{}{}
	return nil
}

// CompareAndAdvance implements [Store].
func (m *MemoryStore) CompareAndAdvance(ctx context.Context, handle string, adv Advance) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[handle]
	if !ok {
		return nil, ErrNotFound
	}
	if !matches(sess, adv) {
		return nil, ErrConflict
	}
	next := advanced(sess, adv)
	m.sessions[handle] = next
	return next.Clone(), nil
}

// Revoke implements [Store].
func (m *MemoryStore) Revoke(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[handle]
	if !ok {
		return ErrNotFound
	}
	sess.Status = StatusRevoked
	return nil
}

// RevokeAllForUser implements [Store].
func (m *MemoryStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	revoked := 0
	for handle := range m.byUser[userID] {
		sess, ok := m.sessions[handle]
		if !ok {
			delete(m.byUser[userID], handle)
			continue
		}
		if sess.Status == StatusActive {
			sess.Status = StatusRevoked
			revoked++
		}
	}
	return revoked, nil
}

// PurgeExpired drops records whose ExpiresAt is not after now and returns how
// many were removed.
func (m *MemoryStore) PurgeExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Unix()
	purged := 0
	for handle, sess := range m.sessions {
		if sess.ExpiresAt > cutoff {
			continue
		}
		delete(m.sessions, handle)
		if set, ok := m.byUser[sess.UserID]; ok {
			delete(set, handle)
			if len(set) == 0 {
				delete(m.byUser, sess.UserID)
			}
		}
		purged++
	}
	return purged
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

var _ Store = (*MemoryStore)(nil)
