package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/pkg/models"
)

// wsServer is a minimal event hub: it records subscribe/unsubscribe
// frames and lets the test push events down the socket.
type wsServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conn   *websocket.Conn
	frames []controlFrame
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		for {
			var f controlFrame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			s.mu.Lock()
			s.frames = append(s.frames, f)
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) push(t *testing.T, ev Event) {
	t.Helper()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		t.Fatalf("no client connected")
	}
	if err := conn.WriteJSON(ev); err != nil {
		t.Fatalf("push event: %v", err)
	}
}

func (s *wsServer) waitFrames(t *testing.T, n int) []controlFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.frames) >= n {
			out := append([]controlFrame(nil), s.frames...)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d control frames", n)
	return nil
}

func TestDialFailure(t *testing.T) {
	if _, err := Dial(context.Background(), "ws://127.0.0.1:1/ws", ""); err == nil {
		t.Fatalf("dial to closed port succeeded")
	}
}

func TestOpenRoutesEvents(t *testing.T) {
	srv := newWSServer(t)
	m, err := Dial(context.Background(), srv.url(), "k-123")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(m.Shutdown)

	got := make(chan Event, 4)
	if err := m.Open("user:alice", func(ev Event) { got <- ev }); err != nil {
		t.Fatalf("open: %v", err)
	}
	frames := srv.waitFrames(t, 1)
	if frames[0].Action != "subscribe" || frames[0].Channel != "user:alice" {
		t.Fatalf("subscribe frame: %+v", frames[0])
	}

	data, _ := json.Marshal(models.StatusEvent{MessageID: "m1", Status: "seen"})
	srv.push(t, Event{Channel: "user:alice", Name: models.EventMessageStatus, Data: data})

	select {
	case ev := <-got:
		if ev.Name != models.EventMessageStatus {
			t.Fatalf("event name: %s", ev.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event not routed")
	}
}

func TestUnroutedEventDropped(t *testing.T) {
	srv := newWSServer(t)
	m, err := Dial(context.Background(), srv.url(), "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(m.Shutdown)

	got := make(chan Event, 4)
	if err := m.Open("user:alice", func(ev Event) { got <- ev }); err != nil {
		t.Fatalf("open: %v", err)
	}
	srv.waitFrames(t, 1)

	// event for a channel nobody opened must not reach the handler
	srv.push(t, Event{Channel: "user:bob", Name: models.EventNewMessage, Data: []byte(`{}`)})
	srv.push(t, Event{Channel: "user:alice", Name: models.EventNewMessage, Data: []byte(`{}`)})

	ev := <-got
	if ev.Channel != "user:alice" {
		t.Fatalf("unrouted event delivered: %+v", ev)
	}
	select {
	case ev := <-got:
		t.Fatalf("extra event delivered: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCloseUnsubscribesAndStopsDelivery(t *testing.T) {
	srv := newWSServer(t)
	m, err := Dial(context.Background(), srv.url(), "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(m.Shutdown)

	got := make(chan Event, 4)
	_ = m.Open("user:alice", func(ev Event) { got <- ev })
	srv.waitFrames(t, 1)

	m.Close("user:alice")
	frames := srv.waitFrames(t, 2)
	if frames[1].Action != "unsubscribe" || frames[1].Channel != "user:alice" {
		t.Fatalf("unsubscribe frame: %+v", frames[1])
	}

	// a straggler event after close must not hit the removed handler
	srv.push(t, Event{Channel: "user:alice", Name: models.EventNewMessage, Data: []byte(`{}`)})
	select {
	case ev := <-got:
		t.Fatalf("event delivered after close: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	// closing an unknown channel is a no-op
	m.Close("user:ghost")
}

func TestShutdown(t *testing.T) {
	srv := newWSServer(t)
	m, err := Dial(context.Background(), srv.url(), "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	m.Shutdown()
	if err := m.Open("user:alice", func(Event) {}); err != ErrClosed {
		t.Fatalf("open after shutdown: %v, want ErrClosed", err)
	}
	// second shutdown is safe
	m.Shutdown()
}
