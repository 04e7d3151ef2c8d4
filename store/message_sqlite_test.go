package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGetMessage(t *testing.T) {
	f := NewFixture(t)

	replyTo := "msg-0"
	created, err := f.messageStore.CreateMessage(f.ctx, MessageCreateInput{
		Content:    "hello",
		UserID:     "alice",
		ChatRoomID: "general",
		ReplyToID:  &replyTo,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.False(t, created.IsEdited)

	got, err := f.messageStore.GetMessageByID(f.ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "alice", got.UserID)
	require.NotNil(t, got.ReplyToID)
	assert.Equal(t, replyTo, *got.ReplyToID)

	missing, err := f.messageStore.GetMessageByID(f.ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetRoomMessagesPagination(t *testing.T) {
	f := NewFixture(t)
	seeded := f.seedMessages("general", "alice",
		"m1", "m2", "m3", "m4", "m5", "m6", "m7")
	f.seedMessages("other", "bob", "noise")

	// newest first
	page, hasMore, err := f.messageStore.GetRoomMessages(f.ctx, "general", "", 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.True(t, hasMore)
	assert.Equal(t, "m7", page[0].Content)
	assert.Equal(t, "m5", page[2].Content)

	// cursor continues where the previous page stopped
	page, hasMore, err = f.messageStore.GetRoomMessages(f.ctx, "general", page[2].ID, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.True(t, hasMore)
	assert.Equal(t, "m4", page[0].Content)
	assert.Equal(t, "m2", page[2].Content)

	// last page is short and reports the end of history
	page, hasMore, err = f.messageStore.GetRoomMessages(f.ctx, "general", page[2].ID, 3)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.False(t, hasMore)
	assert.Equal(t, seeded[0].ID, page[0].ID)

	// an exact fit does not claim more history
	page, hasMore, err = f.messageStore.GetRoomMessages(f.ctx, "general", "", 7)
	require.NoError(t, err)
	assert.Len(t, page, 7)
	assert.False(t, hasMore)

	_, _, err = f.messageStore.GetRoomMessages(f.ctx, "general", "bogus-cursor", 3)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateMessage(t *testing.T) {
	f := NewFixture(t)
	seeded := f.seedMessages("general", "alice", "original")

	updated, err := f.messageStore.UpdateMessage(f.ctx, seeded[0].ID, "alice", "edited")
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Content)
	assert.True(t, updated.IsEdited)
	assert.True(t, updated.UpdatedAt.After(seeded[0].UpdatedAt) || updated.UpdatedAt.Equal(seeded[0].UpdatedAt))

	_, err = f.messageStore.UpdateMessage(f.ctx, seeded[0].ID, "mallory", "hijack")
	assert.ErrorIs(t, err, ErrNotMessageAuthor)

	_, err = f.messageStore.UpdateMessage(f.ctx, "nope", "alice", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMessage(t *testing.T) {
	f := NewFixture(t)
	seeded := f.seedMessages("general", "alice", "doomed")

	assert.ErrorIs(t, f.messageStore.DeleteMessage(f.ctx, seeded[0].ID, "mallory"), ErrNotMessageAuthor)
	require.NoError(t, f.messageStore.DeleteMessage(f.ctx, seeded[0].ID, "alice"))

	got, err := f.messageStore.GetMessageByID(f.ctx, seeded[0].ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, f.messageStore.DeleteMessage(f.ctx, seeded[0].ID, "alice"), ErrNotFound)
}
