// Package chat implements the consumer side of a single chat room: message
// history with cursor pagination, live updates over the relay socket and the
// typing indicator list.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/teamboard/relay/store"
)

// HistoryAPI is the durable message surface the session talks to. Writes go
// here first; the relay socket only echoes the result to the other members.
type HistoryAPI interface {
	RoomMessages(ctx context.Context, chatRoomID, before string, limit int) ([]store.Message, bool, error)
	CreateMessage(ctx context.Context, chatRoomID, content string, replyToID *string) (store.Message, error)
	UpdateMessage(ctx context.Context, messageID, content string) (store.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
}

// RESTHistory talks to the relay's message API over HTTP.
type RESTHistory struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewRESTHistory(baseURL, token string, client *http.Client) *RESTHistory {
	if client == nil {
		client = http.DefaultClient
	}
	return &RESTHistory{baseURL: baseURL, token: token, client: client}
}

func (h *RESTHistory) RoomMessages(ctx context.Context, chatRoomID, before string, limit int) ([]store.Message, bool, error) {
	query := url.Values{}
	if before != "" {
		query.Set("before", before)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := fmt.Sprintf("/api/rooms/%s/messages", url.PathEscape(chatRoomID))
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var page struct {
		Messages []store.Message `json:"messages"`
		HasMore  bool            `json:"hasMore"`
	}
	if err := h.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, false, err
	}
	return page.Messages, page.HasMore, nil
}

func (h *RESTHistory) CreateMessage(ctx context.Context, chatRoomID, content string, replyToID *string) (store.Message, error) {
	body := struct {
		Content   string  `json:"content"`
		ReplyToID *string `json:"replyToId,omitempty"`
	}{Content: content, ReplyToID: replyToID}

	var msg store.Message
	path := fmt.Sprintf("/api/rooms/%s/messages", url.PathEscape(chatRoomID))
	if err := h.do(ctx, http.MethodPost, path, body, &msg); err != nil {
		return store.Message{}, err
	}
	return msg, nil
}

func (h *RESTHistory) UpdateMessage(ctx context.Context, messageID, content string) (store.Message, error) {
	body := struct {
		Content string `json:"content"`
	}{Content: content}

	var msg store.Message
	path := fmt.Sprintf("/api/messages/%s", url.PathEscape(messageID))
	if err := h.do(ctx, http.MethodPut, path, body, &msg); err != nil {
		return store.Message{}, err
	}
	return msg, nil
}

func (h *RESTHistory) DeleteMessage(ctx context.Context, messageID string) error {
	path := fmt.Sprintf("/api/messages/%s", url.PathEscape(messageID))
	return h.do(ctx, http.MethodDelete, path, nil, nil)
}

func (h *RESTHistory) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Err string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Err != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Err)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
