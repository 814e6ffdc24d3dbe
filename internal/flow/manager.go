package flow

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrFlowNotFound = errors.New("flow not found")
	ErrFlowActive   = errors.New("an active flow already exists for this product")
)

type ownerKey struct {
	buyerID   int64
	productID int64
}

// Manager owns the live flow sessions. One active flow per (buyer, product):
// the external queue grants a single admission slot per user, and a second
// tab is expected to fail the gate rather than share this one.
type Manager struct {
	mu      sync.Mutex
	byID    map[string]*Session
	byOwner map[ownerKey]string
	ttl     time.Duration
}

func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		byID:    make(map[string]*Session),
		byOwner: make(map[ownerKey]string),
		ttl:     ttl,
	}
}

func (m *Manager) Add(sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ownerKey{buyerID: sess.Buyer.ID, productID: sess.ProductID}
	if _, exists := m.byOwner[key]; exists {
		return ErrFlowActive
	}

	sess.Deadline = time.Now().Add(m.ttl)
	m.byID[sess.ID] = sess
	m.byOwner[key] = sess.ID
	return nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byID[id]
	return sess, ok
}

func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
}

func (m *Manager) removeLocked(id string) {
	sess, ok := m.byID[id]
	if !ok {
		return
	}
	delete(m.byID, id)
	delete(m.byOwner, ownerKey{buyerID: sess.Buyer.ID, productID: sess.ProductID})
}

// Expired removes and returns all sessions past their deadline.
func (m *Manager) Expired(now time.Time) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []*Session
	for id, sess := range m.byID {
		if sess.expired(now) {
			expired = append(expired, sess)
			m.removeLocked(id)
		}
	}
	return expired
}
