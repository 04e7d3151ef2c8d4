package core

import (
	"testing"
	"time"
)

// fakeClock makes expiry windows deterministic in tests.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type registryFixture struct {
	clock    *fakeClock
	registry *Registry
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	clock := newFakeClock()
	return &registryFixture{
		clock:    clock,
		registry: NewRegistry(WithClock(clock)),
	}
}

// authJoin authenticates a connection and joins it to the room.
func (f *registryFixture) authJoin(t *testing.T, connID, userID, userName, roomID string) Snapshot {
	t.Helper()
	f.registry.Authenticate(connID, userID, userName)
	snap, _, _, err := f.registry.Join(connID, roomID)
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func onlineIDs(users []OnlineUser) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.UserID)
	}
	return ids
}
