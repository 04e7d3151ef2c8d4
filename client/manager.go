// Package client implements the connection manager used by consumers of the
// relay: one live websocket connection with authentication replay, desired
// room bookkeeping, bounded reconnect backoff and per-room offline queues.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teamboard/relay/core"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

var (
	ErrClosed           = errors.New("manager closed")
	ErrNotAuthenticated = errors.New("no identity set")
)

type Config struct {
	// URL is the websocket endpoint, e.g. "ws://host/ws".
	URL string
	// HealthURL, when set, is pinged with a GET before dialing so the relay
	// endpoint is warm by the time the upgrade happens.
	HealthURL string
	// Token is appended as a query parameter on dial.
	Token string
	// MaxAttempts bounds automatic reconnection. Once exhausted the manager
	// stays disconnected until Reconnect is called. Default 10.
	MaxAttempts int
	// BaseDelay is the first reconnect delay; it doubles per attempt up to
	// MaxDelay. Defaults 1s / 30s.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// TypingExpiry is how long after EmitTyping the manager emits
	// stoppedTyping on its own. Default 3s.
	TypingExpiry time.Duration

	Dialer     *websocket.Dialer
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (cfg *Config) withDefaults() {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.TypingExpiry == 0 {
		cfg.TypingExpiry = 3000 * time.Millisecond
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
}

type Handler func(e *core.Event)

// Manager owns exactly one live transport connection. It is explicitly
// constructed and caller-owned: nothing here is a process-wide singleton, so
// tests can run as many independent managers as they like.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	state State
	conn  *websocket.Conn
	// gen guards against callbacks of a previous connection racing the
	// current one: every (re)connect bumps it.
	gen int

	identity *User
	// desired is room membership as the caller wants it, independent of the
	// connection state. It drives the rejoin replay on every connect.
	desired map[string]struct{}
	// confirmed holds rooms the server acknowledged with joinedRoom during
	// the current connection session.
	confirmed map[string]struct{}
	// queues holds outbound events per room, FIFO, while the room is not
	// joined-and-confirmed. Flushed in order on confirmation.
	queues map[string][]*core.Event

	typingTimers map[string]*time.Timer
	// typingGens invalidates a timer that fires concurrently with the
	// EmitTyping refresh re-arming its room.
	typingGens map[string]int

	subs      map[string]map[int]Handler
	nextSubID int

	attempts       int
	reconnectTimer *time.Timer
	inited         bool
	closed         bool

	writeMu sync.Mutex
}

func NewManager(cfg Config) *Manager {
	cfg.withDefaults()
	return &Manager{
		cfg:          cfg,
		logger:       cfg.Logger,
		desired:      make(map[string]struct{}),
		confirmed:    make(map[string]struct{}),
		queues:       make(map[string][]*core.Event),
		typingTimers: make(map[string]*time.Timer),
		typingGens:   make(map[string]int),
		subs:         make(map[string]map[int]Handler),
	}
}

// Init opens the connection. It is idempotent: a second call while the
// manager is alive is a no-op.
func (m *Manager) Init() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.inited {
		m.mu.Unlock()
		return nil
	}
	m.inited = true
	m.mu.Unlock()

	m.ping()
	go m.connect()
	return nil
}

// ping warms the relay endpoint before the upgrade. Failure is not fatal:
// the dial itself decides whether the server is reachable.
func (m *Manager) ping() {
	if m.cfg.HealthURL == "" {
		return
	}
	resp, err := m.cfg.HTTPClient.Get(m.cfg.HealthURL)
	if err != nil {
		m.logger.Debug(fmt.Sprintf("ping: %v", err))
		return
	}
	resp.Body.Close()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) connect() {
	m.mu.Lock()
	if m.closed || m.state != Disconnected {
		m.mu.Unlock()
		return
	}
	m.state = Connecting
	reconnecting := m.attempts > 0
	m.mu.Unlock()

	url := m.cfg.URL
	if m.cfg.Token != "" {
		url += "?token=" + m.cfg.Token
	}
	conn, _, err := m.cfg.Dialer.Dial(url, nil)
	if err != nil {
		m.logger.Error(fmt.Sprintf("dial: %v", err))
		m.mu.Lock()
		m.state = Disconnected
		m.mu.Unlock()
		if reconnecting {
			m.deliver(&core.Event{Type: ReconnectErrorEvent})
		} else {
			m.deliver(&core.Event{Type: ErrorEvent})
		}
		m.scheduleReconnect()
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.gen++
	gen := m.gen
	m.conn = conn
	m.state = Connected
	m.attempts = 0
	m.confirmed = make(map[string]struct{})
	identity := m.identity
	rooms := make([]string, 0, len(m.desired))
	for roomID := range m.desired {
		rooms = append(rooms, roomID)
	}
	m.mu.Unlock()

	go m.readLoop(conn, gen)

	// on-connect replay order is fixed: identity first, then every desired
	// room. Queue flush waits for each joinedRoom confirmation.
	if identity != nil {
		m.emit(authenticateEvent, map[string]string{
			"userId":   identity.ID,
			"userName": identity.Name,
		})
	}
	sort.Strings(rooms)
	for _, roomID := range rooms {
		m.emit(joinRoomEvent, map[string]string{"roomId": roomID})
	}

	if reconnecting {
		m.deliver(&core.Event{Type: ReconnectEvent})
	}
	m.deliver(&core.Event{Type: ConnectEvent})
}

func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		var event core.Event
		_, r, err := conn.NextReader()
		if err != nil {
			m.handleDisconnect(gen)
			return
		}
		if err := core.DecodeEvent(r, &event); err != nil {
			m.logger.Error(err.Error())
			continue
		}
		m.dispatch(&event)
	}
}

func (m *Manager) handleDisconnect(gen int) {
	m.mu.Lock()
	if gen != m.gen {
		// a newer connection already took over
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = Disconnected
	m.confirmed = make(map[string]struct{})
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return
	}
	m.deliver(&core.Event{Type: DisconnectEvent})
	m.scheduleReconnect()
}

// scheduleReconnect arms the backoff timer. Attempts are bounded: past
// MaxAttempts the manager gives up until an explicit Reconnect call; it never
// retries forever silently.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.closed || m.state != Disconnected {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxAttempts {
		m.mu.Unlock()
		m.deliver(&core.Event{Type: ReconnectFailedEvent})
		return
	}
	m.attempts++
	delay := m.backoff(m.attempts)
	m.logger.Debug(fmt.Sprintf("reconnect attempt %d in %v", m.attempts, delay))
	m.reconnectTimer = time.AfterFunc(delay, m.connect)
	m.mu.Unlock()
}

func (m *Manager) backoff(attempt int) time.Duration {
	delay := m.cfg.BaseDelay << (attempt - 1)
	if delay > m.cfg.MaxDelay || delay <= 0 {
		delay = m.cfg.MaxDelay
	}
	return delay
}

// Reconnect resets the attempt budget and dials again. It is the manual
// escape hatch once automatic attempts are exhausted.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	state := m.state
	m.mu.Unlock()
	if state == Disconnected {
		go m.connect()
	}
}

// Authenticate stores the identity and announces it if connected. The stored
// pair is replayed automatically on every reconnect.
func (m *Manager) Authenticate(userID, userName string) {
	m.mu.Lock()
	m.identity = &User{ID: userID, Name: userName}
	connected := m.state == Connected
	m.mu.Unlock()

	if connected {
		m.emit(authenticateEvent, map[string]string{
			"userId":   userID,
			"userName": userName,
		})
	}
}

// Join adds the room to the desired set. If connected the join is emitted
// immediately; otherwise the room is joined on the next successful connect.
func (m *Manager) Join(roomID string) {
	m.mu.Lock()
	m.desired[roomID] = struct{}{}
	connected := m.state == Connected
	m.mu.Unlock()

	if connected {
		m.emit(joinRoomEvent, map[string]string{"roomId": roomID})
	}
}

// Leave removes the room from the desired set, cancels its typing timer and
// discards any outbound events still queued for it.
func (m *Manager) Leave(roomID string) {
	m.mu.Lock()
	delete(m.desired, roomID)
	delete(m.confirmed, roomID)
	delete(m.queues, roomID)
	if t, ok := m.typingTimers[roomID]; ok {
		t.Stop()
		delete(m.typingTimers, roomID)
	}
	delete(m.typingGens, roomID)
	connected := m.state == Connected
	m.mu.Unlock()

	if connected {
		m.emit(leaveRoomEvent, map[string]string{"roomId": roomID})
	}
}

// Send emits an event scoped to a room, or enqueues it FIFO while the room
// is not connected-and-confirmed. Delivery is at least once; receivers have
// to dedupe by message id.
func (m *Manager) Send(roomID, eventType string, payload interface{}) error {
	event, err := core.NewEvent(eventType, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	_, joined := m.confirmed[roomID]
	if m.state != Connected || !joined {
		m.queues[roomID] = append(m.queues[roomID], event)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return m.write(event)
}

// EmitTyping announces typing and (re)arms a timer that emits stoppedTyping
// when the caller goes quiet; the caller never has to stop explicitly.
func (m *Manager) EmitTyping(roomID string) error {
	m.mu.Lock()
	if m.identity == nil {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	user := *m.identity
	if t, ok := m.typingTimers[roomID]; ok {
		t.Stop()
	}
	m.typingGens[roomID]++
	gen := m.typingGens[roomID]
	m.typingTimers[roomID] = time.AfterFunc(m.cfg.TypingExpiry, func() {
		m.stopTyping(roomID, user.ID, gen)
	})
	connected := m.state == Connected
	m.mu.Unlock()

	if !connected {
		return nil
	}
	return m.emit(typingEvent, map[string]interface{}{
		"roomId": roomID,
		"user":   user,
	})
}

func (m *Manager) stopTyping(roomID, userID string, gen int) {
	m.mu.Lock()
	if m.typingGens[roomID] != gen {
		// a refresh re-armed the room after this timer fired
		m.mu.Unlock()
		return
	}
	delete(m.typingTimers, roomID)
	connected := m.state == Connected && !m.closed
	m.mu.Unlock()

	if !connected {
		// the room or connection is gone; the server sweep covers this
		return
	}
	m.emit(stoppedTypingEvent, map[string]string{
		"roomId": roomID,
		"userId": userID,
	})
}

// On subscribes a handler for an event type and returns an unsubscribe
// function. Handlers are bound to the manager, not the transport: they stay
// valid across reconnects, and unsubscribing after Close is a no-op.
func (m *Manager) On(eventType string, h Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	handlers, ok := m.subs[eventType]
	if !ok {
		handlers = make(map[int]Handler)
		m.subs[eventType] = handlers
	}
	id := m.nextSubID
	m.nextSubID++
	handlers[id] = h

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if handlers, ok := m.subs[eventType]; ok {
			delete(handlers, id)
		}
	}
}

func (m *Manager) dispatch(e *core.Event) {
	if e.Type == joinedRoomEvent {
		m.handleJoined(e)
	}
	m.deliver(e)
}

// handleJoined marks the room confirmed and flushes its queue in original
// order.
func (m *Manager) handleJoined(e *core.Event) {
	var payload struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		m.logger.Error(fmt.Sprintf("joinedRoom payload: %v", err))
		return
	}

	m.mu.Lock()
	if _, desired := m.desired[payload.RoomID]; !desired {
		// left while the join was in flight; drop the confirmation
		m.mu.Unlock()
		return
	}
	m.confirmed[payload.RoomID] = struct{}{}
	queued := m.queues[payload.RoomID]
	delete(m.queues, payload.RoomID)
	m.mu.Unlock()

	for i, event := range queued {
		if err := m.write(event); err != nil {
			// connection died mid-flush; put the rest back for the next
			// confirmation so order is preserved
			m.logger.Error(fmt.Sprintf("flush %s: %v", payload.RoomID, err))
			m.mu.Lock()
			m.queues[payload.RoomID] = append(queued[i:], m.queues[payload.RoomID]...)
			m.mu.Unlock()
			return
		}
	}
}

func (m *Manager) deliver(e *core.Event) {
	m.mu.Lock()
	handlers := make([]Handler, 0, len(m.subs[e.Type]))
	for _, h := range m.subs[e.Type] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
}

func (m *Manager) emit(eventType string, payload interface{}) error {
	event, err := core.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	return m.write(event)
}

func (m *Manager) write(e *core.Event) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err := core.EncodeEvent(w, e); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Close tears the manager down explicitly. No reconnect is scheduled and all
// timers are cancelled; a timer that already fired finds state gone and does
// nothing.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	for roomID, t := range m.typingTimers {
		t.Stop()
		delete(m.typingTimers, roomID)
	}
	conn := m.conn
	m.conn = nil
	m.state = Disconnected
	m.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
}
