package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/teamboard/relay/client"
	"github.com/teamboard/relay/core"
	"github.com/teamboard/relay/store"
)

const (
	newMessageEvent     = "newMessage"
	messageUpdatedEvent = "messageUpdated"
	messageDeletedEvent = "messageDeleted"
	typingEvent         = "typing"
	stoppedTypingEvent  = "stoppedTyping"
	sendMessageEvent    = "sendMessage"
	editMessageEvent    = "editMessage"
	deleteMessageEvent  = "deleteMessage"
)

// Relay is the slice of the connection manager the session needs. The
// *client.Manager satisfies it.
type Relay interface {
	State() client.State
	Join(roomID string)
	Leave(roomID string)
	Send(roomID, eventType string, payload interface{}) error
	On(eventType string, h client.Handler) func()
}

type Options struct {
	// PageSize is the history page fetched on start and per LoadMore call.
	// Default 30.
	PageSize int
	// ReadyWait bounds how long Start blocks for the relay connection before
	// proceeding anyway; the join is queued either way. Default 5s.
	ReadyWait time.Duration
	// TypingExpiry ages out typing entries the relay never closed, matching
	// the server sweep. Default 3s.
	TypingExpiry time.Duration

	Clock  core.Clock
	Logger *slog.Logger
}

func (o *Options) withDefaults() {
	if o.PageSize == 0 {
		o.PageSize = store.DefaultPageSize
	}
	if o.ReadyWait == 0 {
		o.ReadyWait = 5 * time.Second
	}
	if o.TypingExpiry == 0 {
		o.TypingExpiry = core.DefaultTypingExpiry
	}
	if o.Clock == nil {
		o.Clock = core.SystemClock()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
}

// Session is the live view of one chat room: paginated history merged with
// relayed updates, plus the current typing list. All reads return copies; the
// session is safe for concurrent use.
type Session struct {
	id      core.RoomID
	relay   Relay
	history HistoryAPI
	opts    Options
	logger  *slog.Logger

	mu       sync.Mutex
	messages []store.Message
	seen     map[string]struct{}
	typing   map[string]core.TypingUser
	hasMore  bool
	lastErr  string
	started  bool
	closed   bool

	unsubs    []func()
	sweepStop chan struct{}

	// OnUpdate, when set before Start, is called after every state change.
	OnUpdate func()
}

// NewSession parses the composite room id up front. A malformed id is a
// construction error, never a silently empty session.
func NewSession(roomID string, relay Relay, history HistoryAPI, opts Options) (*Session, error) {
	id, err := core.ParseRoomID(roomID)
	if err != nil {
		return nil, err
	}
	opts.withDefaults()
	return &Session{
		id:      id,
		relay:   relay,
		history: history,
		opts:    opts,
		logger:  opts.Logger,
		seen:    make(map[string]struct{}),
		typing:  make(map[string]core.TypingUser),
	}, nil
}

// Start resets state, subscribes to this room's relay events, waits a bounded
// time for the connection, joins and loads the newest history page. A failed
// page load is recorded in the session error and unwinds the start, so the
// caller can retry with another Start call.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session %s closed", s.id)
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.messages = nil
	s.seen = make(map[string]struct{})
	s.typing = make(map[string]core.TypingUser)
	s.hasMore = false
	s.lastErr = ""
	s.sweepStop = make(chan struct{})
	s.mu.Unlock()

	s.subscribe()
	go s.sweepLoop()

	s.waitReady(ctx)
	s.relay.Join(s.id.String())

	messages, hasMore, err := s.history.RoomMessages(ctx, s.id.ChatRoomID, "", s.opts.PageSize)
	if err != nil {
		s.unwind()
		s.fail(err)
		return err
	}

	s.mu.Lock()
	// the API returns newest first; the session keeps ascending order
	for i := len(messages) - 1; i >= 0; i-- {
		s.appendLocked(messages[i])
	}
	s.hasMore = hasMore
	s.mu.Unlock()
	s.notify()
	return nil
}

// waitReady blocks until the relay reports a live connection or the bound
// expires. Timing out is fine: the join and queued sends survive offline.
func (s *Session) waitReady(ctx context.Context) {
	if s.relay.State() == client.Connected {
		return
	}

	ready := make(chan struct{}, 1)
	unsub := s.relay.On(client.ConnectEvent, func(*core.Event) {
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	defer unsub()

	// the connect may have landed between the state check and the
	// subscription
	if s.relay.State() == client.Connected {
		return
	}

	select {
	case <-ready:
	case <-time.After(s.opts.ReadyWait):
		s.logger.Debug(fmt.Sprintf("room %s: relay not ready, continuing", s.id))
	case <-ctx.Done():
	}
}

// unwind reverses a start that failed partway: subscriptions, sweep and the
// join are all taken back so the next Start begins clean.
func (s *Session) unwind() {
	s.mu.Lock()
	s.started = false
	unsubs := s.unsubs
	s.unsubs = nil
	if s.sweepStop != nil {
		close(s.sweepStop)
		s.sweepStop = nil
	}
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	s.relay.Leave(s.id.String())
}

func (s *Session) subscribe() {
	subs := map[string]func(e *core.Event){
		newMessageEvent:     s.onNewMessage,
		messageUpdatedEvent: s.onMessageUpdated,
		messageDeletedEvent: s.onMessageDeleted,
		typingEvent:         s.onTyping,
		stoppedTypingEvent:  s.onStoppedTyping,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for eventType, h := range subs {
		s.unsubs = append(s.unsubs, s.relay.On(eventType, h))
	}
}

// LoadMore fetches the page before the oldest held message. At the end of
// history it is a no-op.
func (s *Session) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if !s.hasMore || len(s.messages) == 0 {
		s.mu.Unlock()
		return nil
	}
	before := s.messages[0].ID
	s.mu.Unlock()

	messages, hasMore, err := s.history.RoomMessages(ctx, s.id.ChatRoomID, before, s.opts.PageSize)
	if err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	older := make([]store.Message, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		if _, dup := s.seen[messages[i].ID]; dup {
			continue
		}
		s.seen[messages[i].ID] = struct{}{}
		older = append(older, messages[i])
	}
	s.messages = append(older, s.messages...)
	s.hasMore = hasMore
	s.mu.Unlock()
	s.notify()
	return nil
}

// SendMessage persists through the history API, applies the result locally
// and echoes it on the socket so the relay forwards it to the other members.
func (s *Session) SendMessage(ctx context.Context, content string, replyToID *string) (store.Message, error) {
	msg, err := s.history.CreateMessage(ctx, s.id.ChatRoomID, content, replyToID)
	if err != nil {
		s.fail(err)
		return store.Message{}, err
	}

	s.mu.Lock()
	s.appendLocked(msg)
	s.mu.Unlock()
	s.notify()

	s.echo(sendMessageEvent, map[string]interface{}{
		"roomId":  s.id.String(),
		"message": msg,
	})
	return msg, nil
}

func (s *Session) UpdateMessage(ctx context.Context, messageID, content string) (store.Message, error) {
	msg, err := s.history.UpdateMessage(ctx, messageID, content)
	if err != nil {
		s.fail(err)
		return store.Message{}, err
	}

	s.mu.Lock()
	s.replaceLocked(msg)
	s.mu.Unlock()
	s.notify()

	s.echo(editMessageEvent, map[string]interface{}{
		"roomId":  s.id.String(),
		"message": msg,
	})
	return msg, nil
}

func (s *Session) DeleteMessage(ctx context.Context, messageID string) error {
	if err := s.history.DeleteMessage(ctx, messageID); err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.removeLocked(messageID)
	s.mu.Unlock()
	s.notify()

	s.echo(deleteMessageEvent, map[string]interface{}{
		"roomId":         s.id.String(),
		"messageDetails": map[string]string{"id": messageID},
	})
	return nil
}

func (s *Session) echo(eventType string, payload interface{}) {
	if err := s.relay.Send(s.id.String(), eventType, payload); err != nil {
		s.logger.Error(fmt.Sprintf("room %s: echo %s: %v", s.id, eventType, err))
	}
}

// Messages returns the held history, oldest first.
func (s *Session) Messages() []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// TypingUsers returns who is currently typing, ordered by userId for stable
// rendering.
func (s *Session) TypingUsers() []core.TypingUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.TypingUser, 0, len(s.typing))
	for _, u := range s.typing {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Err returns the last history API failure as a plain string, empty when the
// session is healthy. Failures stick until the caller retries the operation.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	if s.sweepStop != nil {
		close(s.sweepStop)
		s.sweepStop = nil
	}
	started := s.started
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if started {
		s.relay.Leave(s.id.String())
	}
}

func (s *Session) onNewMessage(e *core.Event) {
	var payload struct {
		RoomID  string        `json:"roomId"`
		Message store.Message `json:"message"`
	}
	if !s.decode(e, &payload) || payload.RoomID != s.id.String() {
		return
	}
	s.mu.Lock()
	s.appendLocked(payload.Message)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) onMessageUpdated(e *core.Event) {
	var payload struct {
		RoomID  string        `json:"roomId"`
		Message store.Message `json:"message"`
	}
	if !s.decode(e, &payload) || payload.RoomID != s.id.String() {
		return
	}
	s.mu.Lock()
	s.replaceLocked(payload.Message)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) onMessageDeleted(e *core.Event) {
	var payload struct {
		RoomID         string `json:"roomId"`
		MessageDetails struct {
			ID string `json:"id"`
		} `json:"messageDetails"`
	}
	if !s.decode(e, &payload) || payload.RoomID != s.id.String() {
		return
	}
	s.mu.Lock()
	s.removeLocked(payload.MessageDetails.ID)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) onTyping(e *core.Event) {
	var payload struct {
		RoomID string          `json:"roomId"`
		User   core.TypingUser `json:"user"`
	}
	if !s.decode(e, &payload) || payload.RoomID != s.id.String() {
		return
	}
	s.mu.Lock()
	// the wire startedAt carries the sender's clock; age the entry by ours so
	// skew cannot expire it instantly or keep it alive past the window
	payload.User.StartedAt = s.opts.Clock.Now()
	s.typing[payload.User.UserID] = payload.User
	s.mu.Unlock()
	s.notify()
}

func (s *Session) onStoppedTyping(e *core.Event) {
	var payload struct {
		RoomID string `json:"roomId"`
		UserID string `json:"userId"`
	}
	if !s.decode(e, &payload) || payload.RoomID != s.id.String() {
		return
	}
	s.mu.Lock()
	_, present := s.typing[payload.UserID]
	delete(s.typing, payload.UserID)
	s.mu.Unlock()
	if present {
		s.notify()
	}
}

func (s *Session) decode(e *core.Event, out interface{}) bool {
	if err := json.Unmarshal(e.Payload, out); err != nil {
		s.logger.Error(fmt.Sprintf("room %s: %s payload: %v", s.id, e.Type, err))
		return false
	}
	return true
}

func (s *Session) sweepLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	s.mu.Lock()
	stop := s.sweepStop
	s.mu.Unlock()
	if stop == nil {
		return
	}
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sweepTyping(s.opts.Clock.Now())
		}
	}
}

// sweepTyping drops typing entries whose stoppedTyping never arrived, such as
// when the other member disconnected uncleanly.
func (s *Session) sweepTyping(now time.Time) {
	s.mu.Lock()
	swept := false
	for userID, u := range s.typing {
		if now.Sub(u.StartedAt) > s.opts.TypingExpiry {
			delete(s.typing, userID)
			swept = true
		}
	}
	s.mu.Unlock()
	if swept {
		s.notify()
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	if s.OnUpdate != nil {
		s.OnUpdate()
	}
}

// appendLocked adds a message in order, ignoring ids already held. Relayed
// delivery is at least once, so duplicates are expected.
func (s *Session) appendLocked(msg store.Message) {
	if _, dup := s.seen[msg.ID]; dup {
		return
	}
	s.seen[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)
}

func (s *Session) replaceLocked(msg store.Message) {
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			s.messages[i] = msg
			return
		}
	}
}

func (s *Session) removeLocked(messageID string) {
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			delete(s.seen, messageID)
			return
		}
	}
}
