package core

// Authenticate attaches a user identity to a connection. Calling it again
// replaces the identity; the connection manager replays it on reconnect, so
// repeats are the normal case.
func (r *Registry) Authenticate(connID, userID, userName string) {
	r.sessions[connID] = &identity{
		userID:   userID,
		userName: userName,
		status:   "online",
		lastSeen: r.clock.Now(),
	}
}

// Identity returns the authenticated user for a connection, if any.
func (r *Registry) Identity(connID string) (OnlineUser, bool) {
	s, ok := r.sessions[connID]
	if !ok {
		return OnlineUser{}, false
	}
	return OnlineUser{
		UserID:       s.userID,
		UserName:     s.userName,
		Status:       s.status,
		LastSeen:     s.lastSeen,
		ConnectionID: connID,
	}, true
}

// Snapshot is the full room state sent to a joining connection so a late
// joiner never starts from an empty presence list.
type Snapshot struct {
	RoomID      string       `json:"roomId"`
	OnlineUsers []OnlineUser `json:"onlineUsers"`
	TypingUsers []TypingUser `json:"typingUsers"`
}

// Join adds the connection to the room and upserts its user into the presence
// list. The user is keyed by user id: a second tab of the same user does not
// produce a second entry, the connection id is simply overwritten (last writer
// wins). It returns a snapshot of the room for the joiner and whether the user
// was already present, so the caller can skip the userOnline broadcast for
// extra tabs.
func (r *Registry) Join(connID, roomID string) (snapshot Snapshot, joined OnlineUser, alreadyOnline bool, err error) {
	s, ok := r.sessions[connID]
	if !ok {
		return Snapshot{}, OnlineUser{}, false, ErrNotAuthenticated
	}
	room := r.room(roomID)
	room.conns[connID] = struct{}{}

	rooms, ok := r.connRooms[connID]
	if !ok {
		rooms = make(map[string]struct{})
		r.connRooms[connID] = rooms
	}
	rooms[roomID] = struct{}{}

	// the snapshot is taken before the upsert: the joiner receives who was
	// already there, not themselves
	snapshot = r.snapshot(roomID, room)

	_, alreadyOnline = room.online[s.userID]
	joined = OnlineUser{
		UserID:       s.userID,
		UserName:     s.userName,
		Status:       s.status,
		LastSeen:     r.clock.Now(),
		ConnectionID: connID,
	}
	room.online[s.userID] = &joined

	return snapshot, joined, alreadyOnline, nil
}

func (r *Registry) snapshot(roomID string, room *RoomState) Snapshot {
	snap := Snapshot{
		RoomID:      roomID,
		OnlineUsers: make([]OnlineUser, 0, len(room.online)),
		TypingUsers: make([]TypingUser, 0, len(room.typing)),
	}
	for _, u := range room.online {
		snap.OnlineUsers = append(snap.OnlineUsers, *u)
	}
	for _, t := range room.typing {
		snap.TypingUsers = append(snap.TypingUsers, *t)
	}
	return snap
}

// Departure describes the cleanup performed when a user leaves one room.
type Departure struct {
	RoomID     string
	UserID     string
	UserName   string
	WasTyping  bool
	WasPresent bool
	// Remaining is the connection ids still in the room after the departure.
	Remaining []string
}

// Leave removes the connection from the room, and the user from the room's
// presence and typing lists. Other connections of the same user do not keep
// the user online: presence is keyed by user, and the relay treats an explicit
// leave as the user leaving.
func (r *Registry) Leave(connID, roomID string) (Departure, bool) {
	room, ok := r.rooms[roomID]
	if !ok {
		return Departure{}, false
	}
	if _, ok := room.conns[connID]; !ok {
		return Departure{}, false
	}
	delete(room.conns, connID)
	if rooms, ok := r.connRooms[connID]; ok {
		delete(rooms, roomID)
	}

	dep := Departure{RoomID: roomID}
	s, ok := r.sessions[connID]
	if ok {
		dep.UserID = s.userID
		dep.UserName = s.userName
		if _, present := room.online[s.userID]; present {
			delete(room.online, s.userID)
			dep.WasPresent = true
		}
		if _, typing := room.typing[s.userID]; typing {
			delete(room.typing, s.userID)
			dep.WasTyping = true
		}
	}
	dep.Remaining = r.RoomConns(roomID)
	return dep, true
}

// Disconnect tears down every room the connection had joined, not just the
// most recent one, and drops the session. The returned departures are in no
// particular order; each carries the remaining audience for its room.
func (r *Registry) Disconnect(connID string) []Departure {
	rooms := r.connRooms[connID]
	departures := make([]Departure, 0, len(rooms))
	for roomID := range rooms {
		if dep, ok := r.Leave(connID, roomID); ok {
			departures = append(departures, dep)
		}
	}
	delete(r.connRooms, connID)
	delete(r.sessions, connID)
	return departures
}

// UpdatePresence changes the user's status ("online", "away", "busy") and
// returns, per joined room, the audience to notify.
func (r *Registry) UpdatePresence(connID, status string) (OnlineUser, map[string][]string, bool) {
	s, ok := r.sessions[connID]
	if !ok {
		return OnlineUser{}, nil, false
	}
	s.status = status
	s.lastSeen = r.clock.Now()

	audiences := make(map[string][]string)
	for roomID := range r.connRooms[connID] {
		room := r.rooms[roomID]
		if u, ok := room.online[s.userID]; ok {
			u.Status = status
			u.LastSeen = s.lastSeen
		}
		audiences[roomID] = r.RoomConnsExcept(roomID, connID)
	}
	updated, _ := r.Identity(connID)
	return updated, audiences, true
}

// Touch refreshes the last-seen timestamp of a connection's user.
func (r *Registry) Touch(connID string) {
	if s, ok := r.sessions[connID]; ok {
		s.lastSeen = r.clock.Now()
	}
}
