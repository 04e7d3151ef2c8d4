package teamboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teamboard/relay/core"
)

// The relay handlers below all run on the event-dispatch goroutine; they may
// mutate the registry freely and must not block.

func (app *App) AuthenticateHandler(ctx context.Context, e *core.Event) error {
	var payload AuthenticatePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal authenticate payload: %w", err)
	}
	app.registry.Authenticate(e.Dispatcher, payload.UserID, payload.UserName)
	return nil
}

func (app *App) JoinRoomHandler(ctx context.Context, e *core.Event) error {
	var payload RoomPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal joinRoom payload: %w", err)
	}

	snapshot, joined, alreadyOnline, err := app.registry.Join(e.Dispatcher, payload.RoomID)
	if err != nil {
		return fmt.Errorf("join %s: %w", payload.RoomID, err)
	}

	// The joiner gets the full snapshot so a late joiner never renders an
	// empty presence list; everyone else just learns about the newcomer.
	if err := app.eventRouter.EmitTo(JoinedRoomEvent, snapshot, e.Dispatcher); err != nil {
		return err
	}

	if alreadyOnline {
		// another tab of the same user; the room already shows them
		return nil
	}
	others := app.registry.RoomConnsExcept(payload.RoomID, e.Dispatcher)
	userEvent := UserEventPayload{RoomID: payload.RoomID, User: joined}
	if err := app.eventRouter.EmitTo(UserOnlineEvent, userEvent, others...); err != nil {
		return err
	}
	return app.eventRouter.EmitTo(UserJoinedEvent, userEvent, others...)
}

func (app *App) LeaveRoomHandler(ctx context.Context, e *core.Event) error {
	var payload RoomPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal leaveRoom payload: %w", err)
	}

	dep, ok := app.registry.Leave(e.Dispatcher, payload.RoomID)
	if !ok {
		return nil
	}
	return app.broadcastDeparture(dep)
}

// DisconnectedHandler runs for the reserved event the connection manager
// injects when a transport drops. Every room the connection had joined is
// cleaned up here, in one handler invocation.
func (app *App) DisconnectedHandler(ctx context.Context, e *core.Event) error {
	for _, dep := range app.registry.Disconnect(e.Dispatcher) {
		if err := app.broadcastDeparture(dep); err != nil {
			return err
		}
	}
	return nil
}

func (app *App) broadcastDeparture(dep core.Departure) error {
	if len(dep.Remaining) == 0 {
		return nil
	}
	gone := UserGonePayload{RoomID: dep.RoomID, UserID: dep.UserID, UserName: dep.UserName}
	if dep.WasPresent {
		if err := app.eventRouter.EmitTo(UserOfflineEvent, gone, dep.Remaining...); err != nil {
			return err
		}
		if err := app.eventRouter.EmitTo(UserLeftEvent, gone, dep.Remaining...); err != nil {
			return err
		}
	}
	if dep.WasTyping {
		stopped := StoppedTypingPayload{RoomID: dep.RoomID, UserID: dep.UserID}
		if err := app.eventRouter.EmitTo(StoppedTypingEvent, stopped, dep.Remaining...); err != nil {
			return err
		}
	}
	return nil
}

func (app *App) TypingHandler(ctx context.Context, e *core.Event) error {
	var payload TypingPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal typing payload: %w", err)
	}

	entry := app.registry.StartTyping(payload.RoomID, core.TypingUser{
		UserID:   payload.User.ID,
		UserName: payload.User.Name,
	})
	app.registry.Touch(e.Dispatcher)

	others := app.registry.RoomConnsExcept(payload.RoomID, e.Dispatcher)
	return app.eventRouter.EmitTo(TypingEvent,
		TypingBroadcast{RoomID: payload.RoomID, User: entry}, others...)
}

func (app *App) StoppedTypingHandler(ctx context.Context, e *core.Event) error {
	var payload StoppedTypingPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal stoppedTyping payload: %w", err)
	}

	if !app.registry.StopTyping(payload.RoomID, payload.UserID) {
		// already expired by the sweep; nothing to announce
		return nil
	}
	others := app.registry.RoomConnsExcept(payload.RoomID, e.Dispatcher)
	return app.eventRouter.EmitTo(StoppedTypingEvent, payload, others...)
}

// sweepTyping is the server-side fail-safe against clients that vanished
// without sending stoppedTyping. It runs on the dispatch goroutine.
func (app *App) sweepTyping(now time.Time) {
	for _, expired := range app.registry.SweepTyping(now) {
		stopped := StoppedTypingPayload{RoomID: expired.RoomID, UserID: expired.UserID}
		if err := app.eventRouter.EmitTo(StoppedTypingEvent, stopped, expired.Audience...); err != nil {
			app.logger.Error(fmt.Sprintf("sweep typing: %v", err))
		}
	}
}

func (app *App) SendMessageHandler(ctx context.Context, e *core.Event) error {
	return app.relayMessage(e, NewMessageEvent)
}

func (app *App) EditMessageHandler(ctx context.Context, e *core.Event) error {
	return app.relayMessage(e, MessageUpdatedEvent)
}

// relayMessage forwards a message event to every other connection in the
// room. The sender is excluded: its own REST call already confirmed the
// write.
func (app *App) relayMessage(e *core.Event, outType string) error {
	var payload MessagePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", e.Type, err)
	}

	app.metrics.MessagesRelayed.Inc()
	others := app.registry.RoomConnsExcept(payload.RoomID, e.Dispatcher)
	broadcast := MessageBroadcast{
		RoomID:      payload.RoomID,
		Message:     payload.Message,
		ReadBy:      []core.ReadReceipt{},
		DeliveredTo: []string{},
	}
	return app.eventRouter.EmitTo(outType, broadcast, others...)
}

func (app *App) DeleteMessageHandler(ctx context.Context, e *core.Event) error {
	var payload DeleteMessagePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal deleteMessage payload: %w", err)
	}

	// receipts for a deleted message are dead state
	app.registry.PurgeMessage(payload.RoomID, payload.MessageDetails.ID)

	others := app.registry.RoomConnsExcept(payload.RoomID, e.Dispatcher)
	return app.eventRouter.EmitTo(MessageDeletedEvent, payload, others...)
}

func (app *App) MarkMessageAsReadHandler(ctx context.Context, e *core.Event) error {
	var payload MarkMessageAsReadPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal markMessageAsRead payload: %w", err)
	}

	receipt, total, _ := app.registry.MarkRead(payload.RoomID, payload.MessageID,
		payload.UserID, payload.UserName)

	// only the new receipt and the updated count travel, not the full list
	broadcast := MessageReadBroadcast{
		RoomID:     payload.RoomID,
		MessageID:  payload.MessageID,
		ReadBy:     receipt,
		TotalReads: total,
	}
	audience := app.registry.RoomConns(payload.RoomID)
	return app.eventRouter.EmitTo(MessageReadEvent, broadcast, audience...)
}

func (app *App) MarkAllAsReadHandler(ctx context.Context, e *core.Event) error {
	var payload MarkAllAsReadPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal markAllAsRead payload: %w", err)
	}

	readAt, _ := app.registry.MarkAllRead(payload.RoomID, payload.MessageIDs,
		payload.UserID, payload.UserName)

	broadcast := MessagesReadBroadcast{
		RoomID:     payload.RoomID,
		MessageIDs: payload.MessageIDs,
		ReadBy:     UserRef{ID: payload.UserID, Name: payload.UserName},
		ReadAt:     readAt,
	}
	audience := app.registry.RoomConns(payload.RoomID)
	return app.eventRouter.EmitTo(MessagesReadEvent, broadcast, audience...)
}

func (app *App) GetReadReceiptsHandler(ctx context.Context, e *core.Event) error {
	var payload GetReadReceiptsPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal getReadReceipts payload: %w", err)
	}

	reply := ReadReceiptsReply{
		RoomID:   payload.RoomID,
		Receipts: app.registry.Receipts(payload.RoomID, payload.MessageIDs),
	}
	return app.eventRouter.EmitTo(ReadReceiptsEvent, reply, e.Dispatcher)
}

func (app *App) UpdatePresenceHandler(ctx context.Context, e *core.Event) error {
	var payload UpdatePresencePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal updatePresence payload: %w", err)
	}

	updated, audiences, ok := app.registry.UpdatePresence(e.Dispatcher, payload.Status)
	if !ok {
		return nil
	}
	for roomID, audience := range audiences {
		event := UserEventPayload{RoomID: roomID, User: updated}
		if err := app.eventRouter.EmitTo(UserPresenceUpdatedEvent, event, audience...); err != nil {
			return err
		}
	}
	return nil
}
