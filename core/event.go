package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Disconnected is a reserved event type dispatched by the connection manager
// when a connection goes away. It never appears on the wire.
const Disconnected = "_disconnected"

type Event struct {
	// Dispatcher is the id of the connection the event was received on.
	Dispatcher string          `json:"-"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Dispatcher: %s, Type: %s, Payload.Size: %d}", e.Dispatcher, e.Type, len(e.Payload))
}

func NewEvent(t string, payload interface{}) (*Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return &Event{Type: t, Payload: b}, nil
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

type EventTransport interface {
	Send(event *Event)
	SendToConns(event *Event, connIDs ...string)
	Receive() <-chan *Event
}

type EventHandler func(context.Context, *Event) error

// EventRouter dispatches inbound events to registered handlers on a single
// goroutine. Handlers run synchronously to completion, one at a time, which is
// what lets the room-state registry get away without any locking: every
// mutation happens inside the current handler.
//
// A periodic sweep callback is multiplexed into the same loop so state expiry
// obeys the same discipline.
type EventRouter struct {
	listeners  map[string]EventHandler
	ctx        context.Context
	transport  EventTransport
	logger     *slog.Logger
	clock      Clock
	sweep      func(time.Time)
	sweepEvery time.Duration
	observe    func(eventType string)
	exit       chan struct{}
	once       sync.Once
}

func NewEventRouter(ctx context.Context, logger *slog.Logger, transport EventTransport, clock Clock) *EventRouter {
	return &EventRouter{
		listeners:  make(map[string]EventHandler),
		ctx:        ctx,
		transport:  transport,
		logger:     logger,
		clock:      clock,
		sweepEvery: time.Second,
		exit:       make(chan struct{}),
	}
}

func (em *EventRouter) On(eventType string, handler EventHandler) {
	if _, ok := em.listeners[eventType]; ok {
		panic(fmt.Sprintf("handler(%s): already exists", eventType))
	}
	em.listeners[eventType] = handler
}

// Observe registers a callback invoked with the type of every dispatched
// event. Used for the event counter.
func (em *EventRouter) Observe(f func(eventType string)) {
	em.observe = f
}

// OnSweep registers the callback invoked on every sweep tick with the current
// time. It runs on the dispatch goroutine.
func (em *EventRouter) OnSweep(every time.Duration, f func(time.Time)) {
	em.sweepEvery = every
	em.sweep = f
}

func (em *EventRouter) Listen(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(em.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-em.ctx.Done():
				return
			case <-em.exit:
				return
			case e := <-em.transport.Receive():
				em.dispatch(e)
			case <-ticker.C:
				if em.sweep != nil {
					em.sweep(em.clock.Now())
				}
			}
		}
	}()
}

func (em *EventRouter) Close() {
	em.once.Do(func() { close(em.exit) })
}

func (em *EventRouter) dispatch(e *Event) {
	handler, ok := em.listeners[e.Type]
	if !ok {
		em.logger.Debug(fmt.Sprintf("no handler for %s", e.Type))
		return
	}
	em.logger.Debug(fmt.Sprintf("received: %v", e))
	if em.observe != nil {
		em.observe(e.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			em.logger.Error(fmt.Sprintf("handler(%s) panic: %v", e.Type, r))
		}
	}()
	if err := handler(em.ctx, e); err != nil {
		em.logger.Error(fmt.Sprintf("handler(%s): %v", e.Type, err))
	}
}

// Emit sends an event to every connection on the transport.
func (em *EventRouter) Emit(t string, payload interface{}) error {
	e, err := NewEvent(t, payload)
	if err != nil {
		return err
	}
	em.transport.Send(e)
	return nil
}

// EmitTo sends an event to the given connections only.
func (em *EventRouter) EmitTo(t string, payload interface{}, connIDs ...string) error {
	if len(connIDs) == 0 {
		return nil
	}
	e, err := NewEvent(t, payload)
	if err != nil {
		return err
	}
	em.transport.SendToConns(e, connIDs...)
	return nil
}
