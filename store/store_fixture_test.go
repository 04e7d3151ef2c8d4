package store

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

type Fixture struct {
	userStore    UserStore
	messageStore MessageStore
	db           *sql.DB
	ctx          context.Context
	t            *testing.T
}

func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	if err != nil {
		t.Fatal(err)
	}

	goose.SetBaseFS(os.DirFS("../migrations"))
	if err := goose.SetDialect("sqlite3"); err != nil {
		t.Fatal(err)
	}
	if err := goose.Up(db, "."); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		goose.Reset(db, ".")
		cancel()
		db.Close()
	})

	return &Fixture{
		userStore:    NewSQLiteUserStore(db),
		messageStore: NewSQLiteMessageStore(db),
		db:           db,
		ctx:          ctx,
		t:            t,
	}
}

func (f *Fixture) seedMessages(chatRoomID, userID string, contents ...string) []Message {
	f.t.Helper()
	messages := make([]Message, 0, len(contents))
	for _, content := range contents {
		msg, err := f.messageStore.CreateMessage(f.ctx, MessageCreateInput{
			Content:    content,
			UserID:     userID,
			ChatRoomID: chatRoomID,
		})
		if err != nil {
			f.t.Fatal(err)
		}
		messages = append(messages, msg)
	}
	return messages
}
