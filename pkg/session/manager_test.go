package session

import (
	"context"
	"testing"

	"chatsync/pkg/convstore"
	"chatsync/pkg/dedup"
	"chatsync/pkg/normalize"
)

func newTestManager(tr Transport) *Manager {
	return NewManager("me", convstore.New(nil), dedup.NewLedger(),
		normalize.New(nil, nil, "me"), nil, tr, "", 0)
}

func TestManagerOpenIdempotent(t *testing.T) {
	m := newTestManager(nil)
	t.Cleanup(m.CloseAll)

	a, err := m.Open(context.Background(), conv)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	b, err := m.Open(context.Background(), conv)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if a != b {
		t.Fatalf("reopen created a second session")
	}
	if keys := m.OpenKeys(); len(keys) != 1 || keys[0] != conv {
		t.Fatalf("open keys: %v", keys)
	}
}

func TestManagerOpenBadKey(t *testing.T) {
	m := newTestManager(nil)
	if _, err := m.Open(context.Background(), "nope"); err == nil {
		t.Fatalf("bad key accepted")
	}
}

func TestManagerMessagesAndClose(t *testing.T) {
	tr := newFakeTransport()
	m := newTestManager(tr)
	t.Cleanup(m.CloseAll)

	s, err := m.Open(context.Background(), conv)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.EnqueueRaw("rest", raw("m1", "hello"))
	s.Flush()
	if got := m.Messages(conv); len(got) != 1 {
		t.Fatalf("messages via manager: %+v", got)
	}
	if got := m.Messages("user:other"); got != nil {
		t.Fatalf("closed conversation returned messages")
	}

	m.Close(conv)
	if _, ok := m.Get(conv); ok {
		t.Fatalf("session still tracked after close")
	}
	if got := m.Messages(conv); got != nil {
		t.Fatalf("messages served after close")
	}
	// closing again is a no-op
	m.Close(conv)
}

func TestManagerCloseAll(t *testing.T) {
	m := newTestManager(newFakeTransport())
	if _, err := m.Open(context.Background(), "user:alice"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := m.Open(context.Background(), "group:team"); err != nil {
		t.Fatalf("open: %v", err)
	}
	m.CloseAll()
	if keys := m.OpenKeys(); len(keys) != 0 {
		t.Fatalf("sessions survived CloseAll: %v", keys)
	}
}
