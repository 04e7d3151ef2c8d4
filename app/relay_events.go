package teamboard

import (
	"time"

	"github.com/teamboard/relay/core"
	"github.com/teamboard/relay/store"
)

// Client -> server events.
const (
	AuthenticateEvent      = "authenticate"
	JoinRoomEvent          = "joinRoom"
	LeaveRoomEvent         = "leaveRoom"
	TypingEvent            = "typing"
	StoppedTypingEvent     = "stoppedTyping"
	SendMessageEvent       = "sendMessage"
	EditMessageEvent       = "editMessage"
	DeleteMessageEvent     = "deleteMessage"
	MarkMessageAsReadEvent = "markMessageAsRead"
	MarkAllAsReadEvent     = "markAllAsRead"
	GetReadReceiptsEvent   = "getReadReceipts"
	UpdatePresenceEvent    = "updatePresence"
)

// Server -> client events.
const (
	JoinedRoomEvent          = "joinedRoom"
	UserOnlineEvent          = "userOnline"
	UserJoinedEvent          = "userJoined"
	UserOfflineEvent         = "userOffline"
	UserLeftEvent            = "userLeft"
	UserPresenceUpdatedEvent = "userPresenceUpdated"
	NewMessageEvent          = "newMessage"
	MessageUpdatedEvent      = "messageUpdated"
	MessageDeletedEvent      = "messageDeleted"
	MessageReadEvent         = "messageRead"
	MessagesReadEvent        = "messagesRead"
	ReadReceiptsEvent        = "readReceipts"
)

type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type AuthenticatePayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type RoomPayload struct {
	RoomID string `json:"roomId"`
}

type TypingPayload struct {
	RoomID string  `json:"roomId"`
	User   UserRef `json:"user"`
}

type StoppedTypingPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type TypingBroadcast struct {
	RoomID string          `json:"roomId"`
	User   core.TypingUser `json:"user"`
}

type UserEventPayload struct {
	RoomID string          `json:"roomId"`
	User   core.OnlineUser `json:"user"`
}

type UserGonePayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type MessagePayload struct {
	RoomID  string        `json:"roomId"`
	Message store.Message `json:"message"`
}

// MessageBroadcast is the relayed message. ReadBy and DeliveredTo are
// presentation annotations added at broadcast time; they are never persisted.
type MessageBroadcast struct {
	RoomID      string             `json:"roomId"`
	Message     store.Message      `json:"message"`
	ReadBy      []core.ReadReceipt `json:"readBy"`
	DeliveredTo []string           `json:"deliveredTo"`
}

type MessageDetails struct {
	ID string `json:"id"`
}

type DeleteMessagePayload struct {
	RoomID         string         `json:"roomId"`
	MessageDetails MessageDetails `json:"messageDetails"`
}

type MarkMessageAsReadPayload struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
}

type MarkAllAsReadPayload struct {
	RoomID     string   `json:"roomId"`
	MessageIDs []string `json:"messageIds"`
	UserID     string   `json:"userId"`
	UserName   string   `json:"userName"`
}

type GetReadReceiptsPayload struct {
	RoomID     string   `json:"roomId"`
	MessageIDs []string `json:"messageIds"`
}

type UpdatePresencePayload struct {
	Status string `json:"status"`
}

type MessageReadBroadcast struct {
	RoomID     string           `json:"roomId"`
	MessageID  string           `json:"messageId"`
	ReadBy     core.ReadReceipt `json:"readBy"`
	TotalReads int              `json:"totalReads"`
}

type MessagesReadBroadcast struct {
	RoomID     string    `json:"roomId"`
	MessageIDs []string  `json:"messageIds"`
	ReadBy     UserRef   `json:"readBy"`
	ReadAt     time.Time `json:"readAt"`
}

type ReadReceiptsReply struct {
	RoomID   string                        `json:"roomId"`
	Receipts map[string][]core.ReadReceipt `json:"receipts"`
}
