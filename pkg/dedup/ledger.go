// Package dedup tracks which message ids have already been applied per
// conversation. It is a fast-path guard against double-delivery from the
// REST backfill and realtime push racing each other; the conversation
// store's own id index remains the authoritative check.
package dedup

import "sync"

// Ledger holds a seen-id set per conversation key. Entries are never
// evicted during a session; memory is bounded by conversation size, not
// time. Forget drops a whole conversation when its session closes.
// One ledger is shared by all open sessions, each mutating from its own
// apply loop, so access is locked.
type Ledger struct {
	mu   sync.RWMutex
	seen map[string]map[string]struct{}
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{seen: make(map[string]map[string]struct{})}
}

// HasSeen reports whether messageID was already recorded for convKey.
func (l *Ledger) HasSeen(convKey, messageID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids, ok := l.seen[convKey]
	if !ok {
		return false
	}
	_, ok = ids[messageID]
	return ok
}

// MarkSeen records messageID for convKey.
func (l *Ledger) MarkSeen(convKey, messageID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids, ok := l.seen[convKey]
	if !ok {
		ids = make(map[string]struct{})
		l.seen[convKey] = ids
	}
	ids[messageID] = struct{}{}
}

// ReplaceID swaps a temp id for its server-issued id, keeping the
// conversation guarded against a late echo of the confirmed message.
func (l *Ledger) ReplaceID(convKey, oldID, newID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids, ok := l.seen[convKey]
	if !ok {
		return
	}
	if _, ok := ids[oldID]; ok {
		delete(ids, oldID)
		ids[newID] = struct{}{}
	}
}

// Forget drops all recorded ids for convKey.
func (l *Ledger) Forget(convKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, convKey)
}

// Len returns the number of recorded ids for convKey.
func (l *Ledger) Len(convKey string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.seen[convKey])
}
