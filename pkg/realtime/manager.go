// Package realtime manages the websocket event transport. A single
// connection multiplexes per-conversation channels; channel lifecycle is
// owned explicitly by the session that opened it, with guaranteed
// listener teardown on close.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// ErrClosed is returned by operations on a closed manager.
var ErrClosed = errors.New("realtime manager closed")

// Event is one realtime frame scoped to a subscribed channel.
type Event struct {
	Channel string           `json:"channel"`
	Name    models.EventName `json:"event"`
	Data    json.RawMessage  `json:"data"`
}

// Handler receives events for one channel. Handlers run on the manager's
// read loop; they must hand work off (e.g. enqueue a session op) rather
// than block.
type Handler func(ev Event)

// control frames sent to the server
type controlFrame struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// Manager owns the websocket connection and the channel-to-handler
// routing table. Replaces ambient global socket state with an injected
// object whose Open/Close bracket a conversation's lifetime.
type Manager struct {
	url    string
	apiKey string

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string]Handler
	closed   bool
	done     chan struct{}
}

// Dial connects to the realtime endpoint and starts the read loop.
func Dial(ctx context.Context, url, apiKey string) (*Manager, error) {
	m := &Manager{
		url:      url,
		apiKey:   apiKey,
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
	conn, err := m.dial(ctx)
	if err != nil {
		return nil, err
	}
	m.conn = conn
	go m.readLoop(conn)
	return m, nil
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	hdr := http.Header{}
	if m.apiKey != "" {
		hdr.Set("X-API-Key", m.apiKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.url, hdr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", models.ErrTransientNetwork, m.url, err)
	}
	return conn, nil
}

// Open subscribes to a conversation channel and routes its events to h.
// Opening an already-open channel replaces the handler.
func (m *Manager) Open(channel string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.handlers[channel] = h
	if m.conn == nil {
		// reconnect in progress; subscription replays when it lands
		return nil
	}
	if err := m.conn.WriteJSON(controlFrame{Action: "subscribe", Channel: channel}); err != nil {
		return fmt.Errorf("%w: subscribe %s: %v", models.ErrTransientNetwork, channel, err)
	}
	logger.Debug("channel_opened", "channel", channel)
	return nil
}

// Close unsubscribes a channel and removes its handler so no stale writes
// can occur after the owning conversation is exited.
func (m *Manager) Close(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.handlers[channel]; !ok {
		return
	}
	delete(m.handlers, channel)
	if m.conn != nil && !m.closed {
		_ = m.conn.WriteJSON(controlFrame{Action: "unsubscribe", Channel: channel})
	}
	logger.Debug("channel_closed", "channel", channel)
}

// Shutdown closes the connection and all channel subscriptions.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.handlers = map[string]Handler{}
	conn := m.conn
	m.conn = nil
	close(m.done)
	m.mu.Unlock()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			m.mu.Lock()
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return
			}
			logger.Warn("realtime_read_failed", "error", err)
			m.reconnect(conn)
			return
		}
		m.dispatch(ev)
	}
}

func (m *Manager) dispatch(ev Event) {
	m.mu.Lock()
	h, ok := m.handlers[ev.Channel]
	m.mu.Unlock()
	if !ok {
		logger.Debug("event_unrouted", "channel", ev.Channel, "event", ev.Name)
		return
	}
	h(ev)
}

// reconnect re-dials with backoff and replays subscriptions for all
// channels still open.
func (m *Manager) reconnect(old *websocket.Conn) {
	_ = old.Close()
	m.mu.Lock()
	if m.conn == old {
		m.conn = nil
	}
	m.mu.Unlock()

	backoff := time.Second
	for {
		select {
		case <-m.done:
			return
		case <-time.After(backoff):
		}
		conn, err := m.dial(context.Background())
		if err != nil {
			logger.Warn("realtime_reconnect_failed", "error", err)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			_ = conn.Close()
			return
		}
		m.conn = conn
		channels := make([]string, 0, len(m.handlers))
		for ch := range m.handlers {
			channels = append(channels, ch)
		}
		m.mu.Unlock()

		for _, ch := range channels {
			_ = conn.WriteJSON(controlFrame{Action: "subscribe", Channel: ch})
		}
		logger.Info("realtime_reconnected", "channels", len(channels))
		go m.readLoop(conn)
		return
	}
}
