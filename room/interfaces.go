package room

// Broadcaster is the room-facing subset of the broadcast package's
// interface, declared here to break the import cycle between the two.
type Broadcaster interface {
	// BroadcastToRoom pushes a framed message to every member of a room.
	BroadcastToRoom(roomID string, msgID uint16, data []byte) error
}
