// Package convstore holds the ordered, deduplicated message sequence per
// conversation. It is the single source of truth for local chat state;
// every mutation is written through to the durable cache.
package convstore

import (
	"sync"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/telemetry"
)

// Persister receives a full snapshot of a conversation after every
// mutation. The pebble-backed cache implements this; persistence failures
// are the persister's problem and must not fail the mutation.
type Persister interface {
	Persist(convKey string, msgs []models.Message)
}

// RecalledPlaceholder replaces the content of a recalled message. The
// original text and media references are dropped from local state.
const RecalledPlaceholder = "[message recalled]"

type conversation struct {
	order []models.Message
	index map[string]int
}

// Store keeps per-conversation ordered sequences with an id index.
// Mutations happen only on the session apply loop; the lock exists for
// concurrent readers (ops HTTP handlers, tests) observing snapshots.
type Store struct {
	mu        sync.RWMutex
	convs     map[string]*conversation
	persister Persister
}

// New returns an empty store writing through to p. A nil p disables
// persistence (used by tests).
func New(p Persister) *Store {
	return &Store{convs: make(map[string]*conversation), persister: p}
}

func (s *Store) conv(convKey string) *conversation {
	c, ok := s.convs[convKey]
	if !ok {
		c = &conversation{index: make(map[string]int)}
		s.convs[convKey] = c
	}
	return c
}

// Load seeds a conversation from a restored cache snapshot, replacing any
// in-memory state for that key. Load does not persist: the snapshot came
// from the cache in the first place.
func (s *Store) Load(convKey string, msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &conversation{index: make(map[string]int, len(msgs))}
	for _, m := range msgs {
		if _, dup := c.index[m.ID]; dup {
			continue
		}
		c.index[m.ID] = len(c.order)
		c.order = append(c.order, m)
	}
	s.convs[convKey] = c
}

// Append inserts msg at the tail unless its id is already present, in
// which case it is a safe no-op. Messages are ordered by insertion, not
// re-sorted by timestamp; out-of-order arrival is tolerated. A message
// arriving already recalled (refetch of a recall this client never saw
// live) is masked on the way in; its original content never enters the
// store.
func (s *Store) Append(convKey string, msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conv(convKey)
	if _, dup := c.index[msg.ID]; dup {
		telemetry.DuplicatesSkipped.Inc()
		logger.Debug("append_duplicate_skipped", "conv", convKey, "msg_id", msg.ID)
		return false
	}
	msg.ConvKey = convKey
	if msg.Status == models.StatusRecalled {
		maskRecalled(&msg)
	}
	c.index[msg.ID] = len(c.order)
	c.order = append(c.order, msg)
	s.persist(convKey, c)
	return true
}

// ApplyStatus replaces the status of messageID in place, preserving
// position. Unknown ids and transitions out of a terminal state are
// no-ops. Non-terminal transitions are last-write-wins: the transport
// does not deliver status events in order.
func (s *Store) ApplyStatus(convKey, messageID string, status models.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convKey]
	if !ok {
		return false
	}
	i, ok := c.index[messageID]
	if !ok {
		return false
	}
	m := &c.order[i]
	if !m.Status.CanTransition(status) {
		logger.Debug("status_transition_rejected", "conv", convKey, "msg_id", messageID,
			"from", m.Status, "to", status)
		return false
	}
	// seen is tracked for direct chats only
	if status == models.StatusSeen && models.IsGroupKey(convKey) {
		return false
	}
	if status == models.StatusDeleted {
		return s.removeLocked(convKey, messageID)
	}
	m.Status = status
	if status == models.StatusRecalled {
		maskRecalled(m)
	}
	s.persist(convKey, c)
	return true
}

func maskRecalled(m *models.Message) {
	m.Content = RecalledPlaceholder
	m.MediaURLs = nil
	m.FileName = ""
	m.MimeType = ""
}

// Remove hard-deletes messageID from the sequence. Removing an absent id
// is a no-op.
func (s *Store) Remove(convKey, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(convKey, messageID)
}

func (s *Store) removeLocked(convKey, messageID string) bool {
	c, ok := s.convs[convKey]
	if !ok {
		return false
	}
	i, ok := c.index[messageID]
	if !ok {
		return false
	}
	c.order = append(c.order[:i], c.order[i+1:]...)
	delete(c.index, messageID)
	for j := i; j < len(c.order); j++ {
		c.index[c.order[j].ID] = j
	}
	s.persist(convKey, c)
	return true
}

// ReplaceTempID swaps an optimistically inserted message for its
// server-confirmed form, preserving list position. If the server id is
// already present elsewhere (the realtime echo won the race), the temp
// entry is dropped instead so the id stays unique.
func (s *Store) ReplaceTempID(convKey, tempID string, confirmed models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convKey]
	if !ok {
		return false
	}
	i, ok := c.index[tempID]
	if !ok {
		return false
	}
	if j, dup := c.index[confirmed.ID]; dup && j != i {
		return s.removeLocked(convKey, tempID)
	}
	confirmed.ConvKey = convKey
	delete(c.index, tempID)
	c.order[i] = confirmed
	c.index[confirmed.ID] = i
	s.persist(convKey, c)
	return true
}

// PatchMedia fills in media metadata recovered by a backfill fetch for a
// message that arrived ahead of its media URL.
func (s *Store) PatchMedia(convKey, messageID string, mediaURLs []string, fileName, mimeType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convKey]
	if !ok {
		return false
	}
	i, ok := c.index[messageID]
	if !ok {
		return false
	}
	m := &c.order[i]
	if m.Status.Terminal() {
		return false
	}
	m.MediaURLs = append([]string(nil), mediaURLs...)
	if fileName != "" {
		m.FileName = fileName
	}
	if mimeType != "" {
		m.MimeType = mimeType
	}
	s.persist(convKey, c)
	return true
}

// SetPinned toggles the pinned flag of messageID in place.
func (s *Store) SetPinned(convKey, messageID string, pinned bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convKey]
	if !ok {
		return false
	}
	i, ok := c.index[messageID]
	if !ok {
		return false
	}
	c.order[i].Pinned = pinned
	s.persist(convKey, c)
	return true
}

// Contains reports whether messageID is present in convKey.
func (s *Store) Contains(convKey, messageID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[convKey]
	if !ok {
		return false
	}
	_, ok = c.index[messageID]
	return ok
}

// Get returns the message with messageID, if present.
func (s *Store) Get(convKey, messageID string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[convKey]
	if !ok {
		return models.Message{}, false
	}
	i, ok := c.index[messageID]
	if !ok {
		return models.Message{}, false
	}
	return c.order[i], true
}

// Messages returns a copy of the ordered sequence for convKey.
func (s *Store) Messages(convKey string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[convKey]
	if !ok {
		return nil
	}
	return append([]models.Message(nil), c.order...)
}

// Len returns the number of messages held for convKey.
func (s *Store) Len(convKey string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[convKey]
	if !ok {
		return 0
	}
	return len(c.order)
}

// Drop discards the in-memory state for convKey without touching the
// cache. Used when a session closes.
func (s *Store) Drop(convKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, convKey)
}

func (s *Store) persist(convKey string, c *conversation) {
	if s.persister == nil {
		return
	}
	s.persister.Persist(convKey, append([]models.Message(nil), c.order...))
}
