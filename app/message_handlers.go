package teamboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/teamboard/relay/auth"
	"github.com/teamboard/relay/router"
	"github.com/teamboard/relay/store"
)

// MessageHandler is the REST collaborator of the relay: the actor's own
// writes and history pagination go through here, while the relay only
// forwards the resulting events to the other room members.
type MessageHandler struct {
	messageStore store.MessageStore
}

func NewMessageHandler(messageStore store.MessageStore) *MessageHandler {
	return &MessageHandler{messageStore: messageStore}
}

type MessagesResponse struct {
	Messages []store.Message `json:"messages"`
	HasMore  bool            `json:"hasMore"`
}

// GetRoomMessagesHandler serves GET /rooms/{roomID}/messages?before&limit.
func (h *MessageHandler) GetRoomMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	roomID := chi.URLParam(r, "roomID")
	before := r.URL.Query().Get("before")

	limit := store.DefaultPageSize
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			return router.NewJsonError(http.StatusBadRequest, "invalid limit")
		}
		limit = parsed
	}

	messages, hasMore, err := h.messageStore.GetRoomMessages(r.Context(), roomID, before, limit)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return router.NewJsonError(http.StatusBadRequest, "unknown cursor")
		}
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(MessagesResponse{Messages: messages, HasMore: hasMore})
}

type CreateMessagePayload struct {
	Content   string  `json:"content" validate:"required"`
	ReplyToID *string `json:"replyToId"`
}

func (h *MessageHandler) CreateMessageHandler(w http.ResponseWriter, r *http.Request) error {
	session := auth.SessionFromRequest(r)
	roomID := chi.URLParam(r, "roomID")

	var payload CreateMessagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid payload")
	}
	r.Body.Close()

	if err := validate.Struct(payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, FormatValidationErrors(err))
	}

	msg, err := h.messageStore.CreateMessage(r.Context(), store.MessageCreateInput{
		Content:    payload.Content,
		UserID:     session.UserID,
		ChatRoomID: roomID,
		ReplyToID:  payload.ReplyToID,
	})
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	return json.NewEncoder(w).Encode(msg)
}

type UpdateMessagePayload struct {
	Content string `json:"content" validate:"required"`
}

func (h *MessageHandler) UpdateMessageHandler(w http.ResponseWriter, r *http.Request) error {
	session := auth.SessionFromRequest(r)
	messageID := chi.URLParam(r, "messageID")

	var payload UpdateMessagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid payload")
	}
	r.Body.Close()

	if err := validate.Struct(payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, FormatValidationErrors(err))
	}

	msg, err := h.messageStore.UpdateMessage(r.Context(), messageID, session.UserID, payload.Content)
	if err != nil {
		return mapMessageError(err)
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(msg)
}

func (h *MessageHandler) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) error {
	session := auth.SessionFromRequest(r)
	messageID := chi.URLParam(r, "messageID")

	if err := h.messageStore.DeleteMessage(r.Context(), messageID, session.UserID); err != nil {
		return mapMessageError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func mapMessageError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return router.NewJsonError(http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrNotMessageAuthor):
		return router.NewJsonError(http.StatusForbidden, err.Error())
	default:
		return err
	}
}
