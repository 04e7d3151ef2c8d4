package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultPageSize is the history page size when the caller does not specify
// one.
const DefaultPageSize = 30

type MessageCreateInput struct {
	Content    string
	UserID     string
	ChatRoomID string
	ReplyToID  *string
}

type MessageStore interface {
	CreateMessage(ctx context.Context, input MessageCreateInput) (Message, error)
	GetMessageByID(ctx context.Context, id string) (*Message, error)
	// GetRoomMessages returns up to limit messages of the room, newest first.
	// If before is a message id, only messages older than it are returned.
	// The second return value reports whether more history remains.
	GetRoomMessages(ctx context.Context, chatRoomID, before string, limit int) ([]Message, bool, error)
	UpdateMessage(ctx context.Context, id, userID, content string) (Message, error)
	DeleteMessage(ctx context.Context, id, userID string) error
}

type SQLiteMessageStore struct {
	db *sql.DB
}

func NewSQLiteMessageStore(db *sql.DB) *SQLiteMessageStore {
	return &SQLiteMessageStore{db: db}
}

func (s *SQLiteMessageStore) CreateMessage(ctx context.Context, input MessageCreateInput) (Message, error) {
	now := time.Now().UTC()
	msg := Message{
		ID:         uuid.New().String(),
		Content:    input.Content,
		UserID:     input.UserID,
		ChatRoomID: input.ChatRoomID,
		CreatedAt:  now,
		UpdatedAt:  now,
		ReplyToID:  input.ReplyToID,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, content, user_id, chat_room_id, created_at, updated_at, is_edited, reply_to_id)
		VALUES (@id, @content, @user_id, @chat_room_id, @created_at, @updated_at, 0, @reply_to_id)`,
		sql.Named("id", msg.ID), sql.Named("content", msg.Content),
		sql.Named("user_id", msg.UserID), sql.Named("chat_room_id", msg.ChatRoomID),
		sql.Named("created_at", msg.CreatedAt), sql.Named("updated_at", msg.UpdatedAt),
		sql.Named("reply_to_id", msg.ReplyToID))
	if err != nil {
		return Message{}, fmt.Errorf("ExecContext(insert messages): %w", err)
	}
	return msg, nil
}

func (s *SQLiteMessageStore) GetMessageByID(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, user_id, chat_room_id, created_at, updated_at, is_edited, reply_to_id
		FROM messages WHERE id = @id`, sql.Named("id", id))
	var msg Message
	if err := scanMessage(row.Scan, &msg); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("row.Scan: %w", err)
	}
	return &msg, nil
}

func (s *SQLiteMessageStore) GetRoomMessages(ctx context.Context, chatRoomID, before string, limit int) ([]Message, bool, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	query := `SELECT id, content, user_id, chat_room_id, created_at, updated_at, is_edited, reply_to_id
	FROM messages WHERE chat_room_id = @chat_room_id`
	args := []interface{}{sql.Named("chat_room_id", chatRoomID)}

	if before != "" {
		anchor, err := s.GetMessageByID(ctx, before)
		if err != nil {
			return nil, false, err
		}
		if anchor == nil {
			return nil, false, fmt.Errorf("cursor %q: %w", before, ErrNotFound)
		}
		// older than the anchor; break created_at ties with the id
		query += ` AND (created_at < @before_at OR (created_at = @before_at AND id < @before_id))`
		args = append(args, sql.Named("before_at", anchor.CreatedAt), sql.Named("before_id", anchor.ID))
	}

	// fetch one extra row to learn whether more history remains
	query += ` ORDER BY created_at DESC, id DESC LIMIT @limit`
	args = append(args, sql.Named("limit", limit+1))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("QueryContext(messages): %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err := scanMessage(rows.Scan, &msg); err != nil {
			return nil, false, fmt.Errorf("rows.Scan: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	return messages, hasMore, nil
}

func (s *SQLiteMessageStore) UpdateMessage(ctx context.Context, id, userID, content string) (Message, error) {
	msg, err := s.GetMessageByID(ctx, id)
	if err != nil {
		return Message{}, err
	}
	if msg == nil {
		return Message{}, ErrNotFound
	}
	if msg.UserID != userID {
		return Message{}, ErrNotMessageAuthor
	}

	msg.Content = content
	msg.IsEdited = true
	msg.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`UPDATE messages SET content = @content, is_edited = 1, updated_at = @updated_at WHERE id = @id`,
		sql.Named("content", msg.Content), sql.Named("updated_at", msg.UpdatedAt), sql.Named("id", id))
	if err != nil {
		return Message{}, fmt.Errorf("ExecContext(update messages): %w", err)
	}
	return *msg, nil
}

func (s *SQLiteMessageStore) DeleteMessage(ctx context.Context, id, userID string) error {
	msg, err := s.GetMessageByID(ctx, id)
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrNotFound
	}
	if msg.UserID != userID {
		return ErrNotMessageAuthor
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = @id`, sql.Named("id", id))
	if err != nil {
		return fmt.Errorf("ExecContext(delete messages): %w", err)
	}
	return nil
}

func scanMessage(scan func(dest ...interface{}) error, msg *Message) error {
	var replyTo sql.NullString
	var isEdited int
	if err := scan(&msg.ID, &msg.Content, &msg.UserID, &msg.ChatRoomID,
		&msg.CreatedAt, &msg.UpdatedAt, &isEdited, &replyTo); err != nil {
		return err
	}
	msg.IsEdited = isEdited != 0
	if replyTo.Valid {
		msg.ReplyToID = &replyTo.String
	}
	return nil
}
