package core

import "time"

// StartTyping upserts the user's typing entry, restarting the expiry window.
// Repeated typing events refresh startedAt rather than creating duplicates.
func (r *Registry) StartTyping(roomID string, user TypingUser) TypingUser {
	room := r.room(roomID)
	if existing, ok := room.typing[user.UserID]; ok {
		existing.StartedAt = r.clock.Now()
		if user.UserName != "" {
			existing.UserName = user.UserName
		}
		return *existing
	}
	user.StartedAt = r.clock.Now()
	room.typing[user.UserID] = &user
	return user
}

// StopTyping removes the user's typing entry. It reports whether an entry was
// actually removed so the caller can suppress redundant stoppedTyping
// broadcasts.
func (r *Registry) StopTyping(roomID, userID string) bool {
	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := room.typing[userID]; !ok {
		return false
	}
	delete(room.typing, userID)
	return true
}

// ExpiredTyping identifies a typing entry removed by the sweep, with the
// audience to notify.
type ExpiredTyping struct {
	RoomID    string
	UserID    string
	UserName  string
	Audience  []string
	StartedAt time.Time
}

// SweepTyping removes every typing entry older than the expiry across all
// rooms. It is the server-side fail-safe for clients that crashed or dropped
// before sending stoppedTyping.
func (r *Registry) SweepTyping(now time.Time) []ExpiredTyping {
	var expired []ExpiredTyping
	for roomID, room := range r.rooms {
		for userID, t := range room.typing {
			if now.Sub(t.StartedAt) <= r.typingExpiry {
				continue
			}
			delete(room.typing, userID)
			expired = append(expired, ExpiredTyping{
				RoomID:    roomID,
				UserID:    userID,
				UserName:  t.UserName,
				Audience:  r.RoomConns(roomID),
				StartedAt: t.StartedAt,
			})
		}
	}
	return expired
}
