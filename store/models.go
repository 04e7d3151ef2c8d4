package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateUser    = errors.New("user already exists")
	ErrNotMessageAuthor = errors.New("not the message author")
)

type User struct {
	ID       string `json:"id"`
	UserName string `json:"userName"`
	Name     string `json:"name"`
	// Password holds the bcrypt hash. It is never serialized.
	Password string `json:"-"`
}

// Message is the persisted chat message. The relay only annotates it in
// transit; ReadBy/DeliveredTo exist on the broadcast payload, not here.
type Message struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	UserID     string    `json:"userId"`
	ChatRoomID string    `json:"chatRoomId"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	IsEdited   bool      `json:"isEdited"`
	ReplyToID  *string   `json:"replyToId,omitempty"`
}
