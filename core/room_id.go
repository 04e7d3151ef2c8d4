package core

import (
	"fmt"
	"strings"
)

// RoomID is the composite room identifier "<workspaceID>:<chatRoomID>" used to
// address a room across layers.
type RoomID struct {
	WorkspaceID string
	ChatRoomID  string
}

func (id RoomID) String() string {
	return id.WorkspaceID + ":" + id.ChatRoomID
}

// ParseRoomID splits a composite room identifier. The identifier must contain
// exactly two non-empty segments; anything else is an error, never a fallback.
func ParseRoomID(s string) (RoomID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return RoomID{}, fmt.Errorf("invalid room id %q: want \"<workspaceID>:<chatRoomID>\"", s)
	}
	return RoomID{WorkspaceID: parts[0], ChatRoomID: parts[1]}, nil
}
