package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const room = "ws1:room1"

func TestJoinRequiresAuthentication(t *testing.T) {
	f := newRegistryFixture(t)
	_, _, _, err := f.registry.Join("conn-1", room)
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestJoinSnapshotAndPresence(t *testing.T) {
	f := newRegistryFixture(t)

	snap := f.authJoin(t, "conn-a", "alice", "Alice", room)
	assert.Equal(t, room, snap.RoomID)
	assert.Empty(t, snap.OnlineUsers)
	assert.Empty(t, snap.TypingUsers)

	f.clock.Advance(2 * time.Second)

	// the late joiner sees who was already there, not themselves
	snap = f.authJoin(t, "conn-b", "bob", "Bob", room)
	assert.Equal(t, []string{"alice"}, onlineIDs(snap.OnlineUsers))
	assert.ElementsMatch(t, []string{"conn-a", "conn-b"}, f.registry.RoomConns(room))
	assert.Equal(t, []string{"conn-a"}, f.registry.RoomConnsExcept(room, "conn-b"))
}

func TestJoinSecondTabSameUser(t *testing.T) {
	f := newRegistryFixture(t)
	f.authJoin(t, "conn-1", "alice", "Alice", room)

	f.registry.Authenticate("conn-2", "alice", "Alice")
	snap, joined, alreadyOnline, err := f.registry.Join("conn-2", room)
	require.NoError(t, err)
	assert.True(t, alreadyOnline)

	// one presence entry keyed by user, connection id overwritten
	require.Len(t, snap.OnlineUsers, 1)
	assert.Equal(t, "conn-2", joined.ConnectionID)
	// but both connections stay in the broadcast audience
	assert.ElementsMatch(t, []string{"conn-1", "conn-2"}, f.registry.RoomConns(room))
}

func TestLeave(t *testing.T) {
	f := newRegistryFixture(t)
	f.authJoin(t, "conn-a", "alice", "Alice", room)
	f.authJoin(t, "conn-b", "bob", "Bob", room)
	f.registry.StartTyping(room, TypingUser{UserID: "bob", UserName: "Bob"})

	dep, ok := f.registry.Leave("conn-b", room)
	require.True(t, ok)
	assert.Equal(t, "bob", dep.UserID)
	assert.True(t, dep.WasPresent)
	assert.True(t, dep.WasTyping)
	assert.Equal(t, []string{"conn-a"}, dep.Remaining)

	snap := f.authJoin(t, "conn-c", "carol", "Carol", room)
	assert.Equal(t, []string{"alice"}, onlineIDs(snap.OnlineUsers))
	assert.Empty(t, snap.TypingUsers)

	// a connection that never joined is not a departure
	_, ok = f.registry.Leave("conn-x", room)
	assert.False(t, ok)
}

func TestDisconnectCleansEveryRoom(t *testing.T) {
	f := newRegistryFixture(t)
	f.authJoin(t, "conn-a", "alice", "Alice", "ws1:general")
	f.registry.Authenticate("conn-b", "bob", "Bob")
	for _, roomID := range []string{"ws1:general", "ws1:random", "ws2:ops"} {
		_, _, _, err := f.registry.Join("conn-b", roomID)
		require.NoError(t, err)
	}
	f.registry.StartTyping("ws1:random", TypingUser{UserID: "bob", UserName: "Bob"})

	departures := f.registry.Disconnect("conn-b")
	require.Len(t, departures, 3)

	byRoom := make(map[string]Departure, len(departures))
	for _, dep := range departures {
		assert.Equal(t, "bob", dep.UserID)
		assert.True(t, dep.WasPresent)
		byRoom[dep.RoomID] = dep
	}
	assert.True(t, byRoom["ws1:random"].WasTyping)
	assert.False(t, byRoom["ws1:general"].WasTyping)
	assert.Equal(t, []string{"conn-a"}, byRoom["ws1:general"].Remaining)
	assert.Empty(t, byRoom["ws2:ops"].Remaining)

	_, ok := f.registry.Identity("conn-b")
	assert.False(t, ok)
	// repeat disconnects are harmless
	assert.Empty(t, f.registry.Disconnect("conn-b"))
}

func TestTypingSweep(t *testing.T) {
	f := newRegistryFixture(t)
	f.authJoin(t, "conn-a", "alice", "Alice", room)
	f.authJoin(t, "conn-b", "bob", "Bob", room)
	f.registry.StartTyping(room, TypingUser{UserID: "alice", UserName: "Alice"})

	// at exactly the expiry bound the entry survives
	f.clock.Advance(DefaultTypingExpiry)
	assert.Empty(t, f.registry.SweepTyping(f.clock.Now()))

	f.clock.Advance(time.Millisecond)
	expired := f.registry.SweepTyping(f.clock.Now())
	require.Len(t, expired, 1)
	assert.Equal(t, room, expired[0].RoomID)
	assert.Equal(t, "alice", expired[0].UserID)
	assert.ElementsMatch(t, []string{"conn-a", "conn-b"}, expired[0].Audience)

	// exactly one expiry per entry
	assert.Empty(t, f.registry.SweepTyping(f.clock.Now()))
}

func TestTypingRefreshRestartsWindow(t *testing.T) {
	f := newRegistryFixture(t)
	f.authJoin(t, "conn-a", "alice", "Alice", room)

	started := f.registry.StartTyping(room, TypingUser{UserID: "alice", UserName: "Alice"})
	f.clock.Advance(2 * time.Second)
	refreshed := f.registry.StartTyping(room, TypingUser{UserID: "alice"})
	assert.True(t, refreshed.StartedAt.After(started.StartedAt))
	assert.Equal(t, "Alice", refreshed.UserName)

	// the original window has passed but the refresh keeps the entry alive
	f.clock.Advance(2 * time.Second)
	assert.Empty(t, f.registry.SweepTyping(f.clock.Now()))
	f.clock.Advance(2 * time.Second)
	assert.Len(t, f.registry.SweepTyping(f.clock.Now()), 1)
}

func TestStopTyping(t *testing.T) {
	f := newRegistryFixture(t)
	f.authJoin(t, "conn-a", "alice", "Alice", room)

	f.registry.StartTyping(room, TypingUser{UserID: "alice", UserName: "Alice"})
	assert.True(t, f.registry.StopTyping(room, "alice"))
	// second stop reports nothing removed so the broadcast can be suppressed
	assert.False(t, f.registry.StopTyping(room, "alice"))
	assert.False(t, f.registry.StopTyping("ws9:nowhere", "alice"))
}

func TestMarkReadIdempotent(t *testing.T) {
	f := newRegistryFixture(t)

	receipt, total, firstRead := f.registry.MarkRead(room, "msg-1", "alice", "Alice")
	assert.True(t, firstRead)
	assert.Equal(t, 1, total)
	assert.Equal(t, f.clock.Now(), receipt.ReadAt)

	f.clock.Advance(time.Minute)
	again, total, firstRead := f.registry.MarkRead(room, "msg-1", "alice", "Alice")
	assert.False(t, firstRead)
	assert.Equal(t, 1, total)
	assert.True(t, again.ReadAt.After(receipt.ReadAt))

	_, total, _ = f.registry.MarkRead(room, "msg-1", "bob", "Bob")
	assert.Equal(t, 2, total)
}

func TestMarkAllReadSharedTimestamp(t *testing.T) {
	f := newRegistryFixture(t)
	ids := []string{"msg-1", "msg-2", "msg-3"}

	f.registry.MarkRead(room, "msg-2", "alice", "Alice")
	f.clock.Advance(time.Minute)

	readAt, receipts := f.registry.MarkAllRead(room, ids, "alice", "Alice")
	require.Len(t, receipts, 3)
	for _, receipt := range receipts {
		assert.Equal(t, readAt, receipt.ReadAt)
		assert.Equal(t, "alice", receipt.UserID)
	}

	stored := f.registry.Receipts(room, ids)
	require.Len(t, stored, 3)
	// the earlier single mark was moved forward, not duplicated
	require.Len(t, stored["msg-2"], 1)
	assert.Equal(t, readAt, stored["msg-2"][0].ReadAt)
}

func TestReceiptsQueryAndPurge(t *testing.T) {
	f := newRegistryFixture(t)
	f.registry.MarkRead(room, "msg-1", "alice", "Alice")
	f.registry.MarkRead(room, "msg-1", "bob", "Bob")

	stored := f.registry.Receipts(room, []string{"msg-1", "msg-unknown"})
	require.Len(t, stored, 1)
	assert.Len(t, stored["msg-1"], 2)
	assert.Empty(t, f.registry.Receipts("ws9:nowhere", []string{"msg-1"}))

	f.registry.PurgeMessage(room, "msg-1")
	assert.Empty(t, f.registry.Receipts(room, []string{"msg-1"}))
}

func TestUpdatePresence(t *testing.T) {
	f := newRegistryFixture(t)
	f.authJoin(t, "conn-a", "alice", "Alice", room)
	f.authJoin(t, "conn-b", "bob", "Bob", room)

	f.clock.Advance(time.Second)
	updated, audiences, ok := f.registry.UpdatePresence("conn-a", "away")
	require.True(t, ok)
	assert.Equal(t, "away", updated.Status)
	assert.Equal(t, f.clock.Now(), updated.LastSeen)
	require.Len(t, audiences, 1)
	assert.Equal(t, []string{"conn-b"}, audiences[room])

	snap := f.authJoin(t, "conn-c", "carol", "Carol", room)
	for _, u := range snap.OnlineUsers {
		if u.UserID == "alice" {
			assert.Equal(t, "away", u.Status)
		}
	}

	_, _, ok = f.registry.UpdatePresence("conn-x", "busy")
	assert.False(t, ok)
}
