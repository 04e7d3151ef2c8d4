package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamboard/relay/store"
)

func TestRESTHistory(t *testing.T) {
	var gotPath, gotAuth, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method

		switch {
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"messages": []store.Message{{ID: "m1", Content: "hi"}},
				"hasMore":  true,
			})
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			var body struct {
				Content string `json:"content"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			json.NewEncoder(w).Encode(store.Message{ID: "m2", Content: body.Content})
		}
	}))
	t.Cleanup(server.Close)

	h := NewRESTHistory(server.URL, "tok", nil)
	ctx := context.Background()

	messages, hasMore, err := h.RoomMessages(ctx, "room1", "m0", 10)
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, messages, 1)
	assert.Equal(t, "/api/rooms/room1/messages?before=m0&limit=10", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)

	created, err := h.CreateMessage(ctx, "room1", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", created.Content)
	assert.Equal(t, "/api/rooms/room1/messages", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)

	updated, err := h.UpdateMessage(ctx, "m2", "edited")
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Content)
	assert.Equal(t, "/api/messages/m2", gotPath)
	assert.Equal(t, http.MethodPut, gotMethod)

	require.NoError(t, h.DeleteMessage(ctx, "m2"))
	assert.Equal(t, http.MethodDelete, gotMethod)
}

func TestRESTHistoryErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]interface{}{"code": 403, "error": "not the message author"})
	}))
	t.Cleanup(server.Close)

	h := NewRESTHistory(server.URL, "", nil)
	_, err := h.UpdateMessage(context.Background(), "m1", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not the message author")
}
