package teamboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/teamboard/relay/core"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// recordingTransport captures everything the handlers emit, per connection.
type recordingTransport struct {
	mu     sync.Mutex
	sentTo map[string][]*core.Event
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{sentTo: make(map[string][]*core.Event)}
}

func (t *recordingTransport) Send(e *core.Event) {}

func (t *recordingTransport) SendToConns(e *core.Event, connIDs ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range connIDs {
		t.sentTo[id] = append(t.sentTo[id], e)
	}
}

func (t *recordingTransport) Receive() <-chan *core.Event { return nil }

func (t *recordingTransport) eventsFor(connID, eventType string) []*core.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*core.Event
	for _, e := range t.sentTo[connID] {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (t *recordingTransport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sentTo = make(map[string][]*core.Event)
}

type relayFixture struct {
	t         *testing.T
	clock     *fakeClock
	transport *recordingTransport
	app       *App
}

// newRelayFixture wires a registry, router and metrics without any HTTP or
// database. Handlers are invoked directly, which also matches how they run in
// production: synchronously, one at a time.
func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	clock := newFakeClock()
	transport := newRecordingTransport()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	app := &App{
		logger:   logger,
		registry: core.NewRegistry(core.WithClock(clock)),
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	app.eventRouter = core.NewEventRouter(context.Background(), logger, transport, clock)

	return &relayFixture{t: t, clock: clock, transport: transport, app: app}
}

type relayHandler func(context.Context, *core.Event) error

func (f *relayFixture) handle(h relayHandler, dispatcher string, eventType string, payload interface{}) {
	f.t.Helper()
	e, err := core.NewEvent(eventType, payload)
	if err != nil {
		f.t.Fatal(err)
	}
	e.Dispatcher = dispatcher
	if err := h(context.Background(), e); err != nil {
		f.t.Fatal(err)
	}
}

func (f *relayFixture) authJoin(connID, userID, userName, roomID string) {
	f.t.Helper()
	f.handle(f.app.AuthenticateHandler, connID, AuthenticateEvent,
		AuthenticatePayload{UserID: userID, UserName: userName})
	f.handle(f.app.JoinRoomHandler, connID, JoinRoomEvent, RoomPayload{RoomID: roomID})
}

func decodePayload(t *testing.T, e *core.Event, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(e.Payload, out); err != nil {
		t.Fatal(err)
	}
}
