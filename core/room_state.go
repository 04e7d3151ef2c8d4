package core

import (
	"errors"
	"time"
)

// DefaultTypingExpiry is how long a typing entry may live without a refresh
// before the sweep force-expires it.
const DefaultTypingExpiry = 3000 * time.Millisecond

var ErrNotAuthenticated = errors.New("connection has not authenticated")

type OnlineUser struct {
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName"`
	Status       string    `json:"status"`
	LastSeen     time.Time `json:"lastSeen"`
	ConnectionID string    `json:"connectionId"`
}

type TypingUser struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	StartedAt time.Time `json:"startedAt"`
}

type ReadReceipt struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	MessageID string    `json:"messageId"`
	ReadAt    time.Time `json:"readAt"`
}

// RoomState holds the ephemeral state of one room. The three maps are
// independent: a user can have a receipt in a room they are no longer online
// in, and typing entries expire on their own schedule.
type RoomState struct {
	online map[string]*OnlineUser
	typing map[string]*TypingUser
	// receipts is keyed by message id, then user id. At most one receipt per
	// (user, message); re-marking only moves readAt forward.
	receipts map[string]map[string]*ReadReceipt
	// conns is the set of connection ids currently joined to the room. It is
	// the broadcast audience, distinct from the presence list: two tabs of one
	// user are two conns but one OnlineUser.
	conns map[string]struct{}
}

func newRoomState() *RoomState {
	return &RoomState{
		online:   make(map[string]*OnlineUser),
		typing:   make(map[string]*TypingUser),
		receipts: make(map[string]map[string]*ReadReceipt),
		conns:    make(map[string]struct{}),
	}
}

type identity struct {
	userID   string
	userName string
	status   string
	lastSeen time.Time
}

// Registry is the process-wide source of truth for ephemeral room state.
//
// It is intentionally not safe for concurrent use: all mutation must happen on
// the event-dispatch goroutine, synchronously, to completion. State is
// volatile for the process lifetime; nothing is persisted and nothing is
// shared across processes.
type Registry struct {
	clock        Clock
	typingExpiry time.Duration
	// rooms is created lazily on first reference and never destroyed: an
	// absent room id is equivalent to an empty RoomState.
	rooms     map[string]*RoomState
	sessions  map[string]*identity
	connRooms map[string]map[string]struct{}
}

type RegistryOption func(*Registry)

func WithClock(c Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

func WithTypingExpiry(d time.Duration) RegistryOption {
	return func(r *Registry) { r.typingExpiry = d }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		clock:        SystemClock(),
		typingExpiry: DefaultTypingExpiry,
		rooms:        make(map[string]*RoomState),
		sessions:     make(map[string]*identity),
		connRooms:    make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) room(roomID string) *RoomState {
	room, ok := r.rooms[roomID]
	if !ok {
		room = newRoomState()
		r.rooms[roomID] = room
	}
	return room
}

// RoomConns returns the connection ids joined to the room.
func (r *Registry) RoomConns(roomID string) []string {
	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	conns := make([]string, 0, len(room.conns))
	for id := range room.conns {
		conns = append(conns, id)
	}
	return conns
}

// RoomConnsExcept returns the room's connection ids excluding one connection,
// typically the sender of the event being relayed.
func (r *Registry) RoomConnsExcept(roomID, exclude string) []string {
	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	conns := make([]string, 0, len(room.conns))
	for id := range room.conns {
		if id == exclude {
			continue
		}
		conns = append(conns, id)
	}
	return conns
}
