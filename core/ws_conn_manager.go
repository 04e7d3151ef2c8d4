package core

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ConnManager owns all live server connections, keyed by connection id. It is
// the EventTransport of the relay: inbound events from all connections funnel
// into one stream, outbound events fan out to per-connection write channels.
//
// When a connection drops, the manager injects a reserved Disconnected event
// into the same stream so room cleanup runs on the dispatch goroutine, after
// any events the connection managed to send.
type ConnManager struct {
	conns   map[string]*Conn
	mu      sync.RWMutex
	connWg  *sync.WaitGroup
	context context.Context
	logger  *slog.Logger

	onConnect    func(string)
	onDisconnect func(string)

	receivedEvent chan *Event

	upgrader        websocket.Upgrader
	ReadStreamSize  int
	WriteStreamSize int
}

var defaultUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type ManagerOption func(*ConnManager)

func WithCheckOrigin(f func(r *http.Request) bool) ManagerOption {
	return func(m *ConnManager) {
		m.upgrader.CheckOrigin = f
	}
}

func WithConnLogger(l *slog.Logger) ManagerOption {
	return func(m *ConnManager) {
		m.logger = l
	}
}

func NewConnManager(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, opts ...ManagerOption) *ConnManager {
	m := &ConnManager{
		connWg:          wg,
		conns:           make(map[string]*Conn),
		logger:          logger,
		context:         ctx,
		upgrader:        defaultUpgrader,
		ReadStreamSize:  100,
		WriteStreamSize: 100,
		onConnect:       func(string) {},
		onDisconnect:    func(string) {},
	}

	for _, opt := range opts {
		opt(m)
	}

	m.receivedEvent = make(chan *Event, m.ReadStreamSize)

	return m
}

func (m *ConnManager) Receive() <-chan *Event {
	return m.receivedEvent
}

// OnConnect registers a callback invoked with the connection id after a
// connection is accepted. Used for the connection gauge.
func (m *ConnManager) OnConnect(f func(string)) {
	m.onConnect = f
}

func (m *ConnManager) OnDisconnect(f func(string)) {
	m.onDisconnect = f
}

func (m *ConnManager) NumConns() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Connect upgrades the request and registers the connection. Authorization of
// the upgrade is the caller's job; by the time Connect runs the request is
// assumed permitted.
func (m *ConnManager) Connect(w http.ResponseWriter, r *http.Request) (string, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	wsConn := &Conn{
		conn:        conn,
		id:          id,
		context:     m.context,
		writeStream: make(chan *Event, m.WriteStreamSize),
		readStream:  m.receivedEvent,
		ticker:      time.NewTicker(pingPeriod),
		logger:      m.logger.With(slog.String("connection", id)),
		notifyDisconnect: func() {
			m.disconnect(id)
		},
	}

	m.mu.Lock()
	m.conns[id] = wsConn
	m.mu.Unlock()

	m.connWg.Add(1)
	go func() {
		defer m.connWg.Done()
		wsConn.readLoop()
	}()
	m.connWg.Add(1)
	go func() {
		defer m.connWg.Done()
		wsConn.writeLoop()
	}()

	m.onConnect(id)

	return id, nil
}

func (m *ConnManager) disconnect(id string) {
	m.mu.Lock()
	conn, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.conns, id)
	// close under the lock so no concurrent Send can race the closed stream
	conn.close()
	m.mu.Unlock()

	m.onDisconnect(id)

	// Cleanup of the rooms the connection had joined happens in the
	// Disconnected handler, on the dispatch goroutine.
	select {
	case m.receivedEvent <- &Event{Type: Disconnected, Dispatcher: id}:
	case <-m.context.Done():
	}
}

// Disconnect force-closes one connection.
func (m *ConnManager) Disconnect(id string) {
	m.disconnect(id)
}

// Close disconnects every connection.
func (m *ConnManager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.disconnect(id)
	}
}

func (m *ConnManager) Send(e *Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, conn := range m.conns {
		m.trySend(conn, e)
	}
}

func (m *ConnManager) SendToConns(e *Event, connIDs ...string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range connIDs {
		conn, ok := m.conns[id]
		if !ok {
			continue
		}
		m.trySend(conn, e)
	}
}

// trySend drops the event if the connection's write stream is full. A slow
// consumer must not stall the dispatch goroutine.
func (m *ConnManager) trySend(conn *Conn, e *Event) {
	select {
	case conn.writeStream <- e:
	default:
		m.logger.Warn("write stream full, dropping event",
			slog.String("connection", conn.id), slog.String("type", e.Type))
	}
}
