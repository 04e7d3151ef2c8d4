package core

import "time"

// MarkRead upserts a read receipt for one message. The operation is
// idempotent per (user, message): a repeat only moves readAt forward and
// leaves the total unchanged. It returns the stored receipt, the new total
// read count for the message, and whether this was a first read.
func (r *Registry) MarkRead(roomID, messageID, userID, userName string) (ReadReceipt, int, bool) {
	room := r.room(roomID)
	byUser, ok := room.receipts[messageID]
	if !ok {
		byUser = make(map[string]*ReadReceipt)
		room.receipts[messageID] = byUser
	}
	now := r.clock.Now()
	receipt, existed := byUser[userID]
	if existed {
		receipt.ReadAt = now
	} else {
		receipt = &ReadReceipt{
			UserID:    userID,
			UserName:  userName,
			MessageID: messageID,
			ReadAt:    now,
		}
		byUser[userID] = receipt
	}
	return *receipt, len(byUser), !existed
}

// MarkAllRead applies MarkRead semantics to a batch of message ids under one
// shared readAt timestamp.
func (r *Registry) MarkAllRead(roomID string, messageIDs []string, userID, userName string) (time.Time, []ReadReceipt) {
	room := r.room(roomID)
	readAt := r.clock.Now()
	receipts := make([]ReadReceipt, 0, len(messageIDs))
	for _, messageID := range messageIDs {
		byUser, ok := room.receipts[messageID]
		if !ok {
			byUser = make(map[string]*ReadReceipt)
			room.receipts[messageID] = byUser
		}
		receipt, existed := byUser[userID]
		if existed {
			receipt.ReadAt = readAt
		} else {
			receipt = &ReadReceipt{
				UserID:    userID,
				UserName:  userName,
				MessageID: messageID,
				ReadAt:    readAt,
			}
			byUser[userID] = receipt
		}
		receipts = append(receipts, *receipt)
	}
	return readAt, receipts
}

// Receipts returns the stored receipts for the requested message ids. It is a
// read-only snapshot query.
func (r *Registry) Receipts(roomID string, messageIDs []string) map[string][]ReadReceipt {
	out := make(map[string][]ReadReceipt, len(messageIDs))
	room, ok := r.rooms[roomID]
	if !ok {
		return out
	}
	for _, messageID := range messageIDs {
		byUser, ok := room.receipts[messageID]
		if !ok {
			continue
		}
		receipts := make([]ReadReceipt, 0, len(byUser))
		for _, receipt := range byUser {
			receipts = append(receipts, *receipt)
		}
		out[messageID] = receipts
	}
	return out
}

// PurgeMessage drops all receipts stored for a deleted message.
func (r *Registry) PurgeMessage(roomID, messageID string) {
	room, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(room.receipts, messageID)
}
