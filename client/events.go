package client

// Transport lifecycle events synthesized by the manager. They are delivered
// to subscribers like wire events but never travel on the wire.
const (
	ConnectEvent         = "connect"
	DisconnectEvent      = "disconnect"
	ReconnectEvent       = "reconnect"
	ReconnectErrorEvent  = "reconnect_error"
	ReconnectFailedEvent = "reconnect_failed"
	ErrorEvent           = "error"
)

// Wire event types the manager emits on its own behalf.
const (
	authenticateEvent  = "authenticate"
	joinRoomEvent      = "joinRoom"
	leaveRoomEvent     = "leaveRoom"
	joinedRoomEvent    = "joinedRoom"
	typingEvent        = "typing"
	stoppedTypingEvent = "stoppedTyping"
)

type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
