package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// MockExchange is an in-process stand-in for the Binance combined-stream
// endpoint. It speaks the SUBSCRIBE/UNSUBSCRIBE control protocol, tracks the
// topic set per connection and lets tests push data frames and sever
// connections on demand.
type MockExchange struct {
	server *httptest.Server
	url    string

	mu            sync.Mutex
	conns         map[*websocket.Conn]map[string]struct{}
	controlFrames []controlRequest
	rejectUpgrade bool
}

// NewMockExchange starts the server. Callers must Close it.
func NewMockExchange() *MockExchange {
	m := &MockExchange{
		conns: make(map[*websocket.Conn]map[string]struct{}),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handleConnection))
	m.url = "ws" + strings.TrimPrefix(m.server.URL, "http")
	return m
}

// URL returns the websocket endpoint.
func (m *MockExchange) URL() string {
	return m.url
}

// Close shuts the server down and severs every connection.
func (m *MockExchange) Close() {
	m.DropConnections()
	m.server.Close()
}

// SetRejectUpgrade makes subsequent handshakes fail with 403, which is how
// tests exercise the dial retry path.
func (m *MockExchange) SetRejectUpgrade(reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectUpgrade = reject
}

// ConnectionCount returns the number of live connections.
func (m *MockExchange) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// ControlFrames returns every SUBSCRIBE/UNSUBSCRIBE frame received so far,
// across all connections, in arrival order.
func (m *MockExchange) ControlFrames() []controlRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	frames := make([]controlRequest, len(m.controlFrames))
	copy(frames, m.controlFrames)
	return frames
}

// SubscriberCount returns how many connections currently carry topic.
func (m *MockExchange) SubscriberCount(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, topics := range m.conns {
		if _, ok := topics[topic]; ok {
			n++
		}
	}
	return n
}

// PushData sends one combined-stream frame for topic to every connection
// subscribed to it and reports how many connections received it.
func (m *MockExchange) PushData(topic string, data json.RawMessage) int {
	frame, err := json.Marshal(streamEnvelope{Stream: topic, Data: data})
	if err != nil {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sent := 0
	for conn, topics := range m.conns {
		if _, ok := topics[topic]; !ok {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err == nil {
			sent++
		}
	}
	return sent
}

// PushRaw broadcasts an arbitrary frame to every connection, subscribed or
// not. Used for raw (non-combined) frames and malformed input.
func (m *MockExchange) PushRaw(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.conns {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	}
}

// DropConnections severs every live connection without a close handshake,
// simulating a network partition.
func (m *MockExchange) DropConnections() {
	m.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(m.conns))
	for conn := range m.conns {
		conns = append(conns, conn)
	}
	m.conns = make(map[*websocket.Conn]map[string]struct{})
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (m *MockExchange) handleConnection(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	reject := m.rejectUpgrade
	m.mu.Unlock()
	if reject {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.conns[conn] = make(map[string]struct{})
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.conns, conn)
		m.mu.Unlock()
		conn.Close()
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req controlRequest
		if err := json.Unmarshal(message, &req); err != nil || req.ID == 0 {
			continue
		}

		m.mu.Lock()
		m.controlFrames = append(m.controlFrames, req)
		topics, alive := m.conns[conn]
		if alive {
			switch req.Method {
			case methodSubscribe:
				for _, t := range req.Params {
					topics[t] = struct{}{}
				}
			case methodUnsubscribe:
				for _, t := range req.Params {
					delete(topics, t)
				}
			}
		}
		m.mu.Unlock()

		// Writes go out under m.mu so the ack cannot interleave with a
		// concurrent PushData on the same connection.
		ack, _ := json.Marshal(controlAck{Result: json.RawMessage("null"), ID: req.ID})
		m.mu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		err = conn.WriteMessage(websocket.TextMessage, ack)
		m.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func setupMockExchange(t *testing.T) *MockExchange {
	t.Helper()
	mock := NewMockExchange()
	t.Cleanup(mock.Close)
	return mock
}
