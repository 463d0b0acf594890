package session

import (
	"context"
	"sync"

	"chatsync/pkg/convstore"
	"chatsync/pkg/dedup"
	"chatsync/pkg/models"
	"chatsync/pkg/normalize"
)

// Manager tracks the sessions currently open, one per conversation key.
// The shared store/ledger/normalizer live for the whole app session;
// opening a conversation wires them into a new Session.
type Manager struct {
	selfID    string
	store     *convstore.Store
	ledger    *dedup.Ledger
	norm      *normalize.Normalizer
	source    normalize.MessageSource
	transport Transport
	cron      string
	queueCap  int

	mu   sync.Mutex
	open map[string]*Session
}

// NewManager returns a Manager with the shared collaborators.
func NewManager(selfID string, store *convstore.Store, ledger *dedup.Ledger,
	norm *normalize.Normalizer, source normalize.MessageSource,
	transport Transport, refetchCron string, queueCapacity int) *Manager {
	return &Manager{
		selfID:    selfID,
		store:     store,
		ledger:    ledger,
		norm:      norm,
		source:    source,
		transport: transport,
		cron:      refetchCron,
		queueCap:  queueCapacity,
		open:      make(map[string]*Session),
	}
}

// Open starts (or returns the already-open) session for convKey.
func (m *Manager) Open(ctx context.Context, convKey string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.open[convKey]; ok {
		return s, nil
	}
	s, err := Open(ctx, Config{
		ConvKey:       convKey,
		SelfID:        m.selfID,
		Store:         m.store,
		Ledger:        m.ledger,
		Norm:          m.norm,
		Source:        m.source,
		Transport:     m.transport,
		RefetchCron:   m.cron,
		QueueCapacity: m.queueCap,
	})
	if err != nil {
		return nil, err
	}
	m.open[convKey] = s
	return s, nil
}

// Get returns the open session for convKey, if any.
func (m *Manager) Get(convKey string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.open[convKey]
	return s, ok
}

// Messages returns the reconciled local view for convKey if a session is
// open; otherwise nil.
func (m *Manager) Messages(convKey string) []models.Message {
	if s, ok := m.Get(convKey); ok {
		return s.Messages()
	}
	return nil
}

// Close tears down the session for convKey, if open.
func (m *Manager) Close(convKey string) {
	m.mu.Lock()
	s, ok := m.open[convKey]
	delete(m.open, convKey)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// CloseAll tears down every open session (app shutdown).
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.open))
	for _, s := range m.open {
		sessions = append(sessions, s)
	}
	m.open = map[string]*Session{}
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

// OpenKeys lists the conversation keys with active sessions.
func (m *Manager) OpenKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.open))
	for k := range m.open {
		keys = append(keys, k)
	}
	return keys
}
