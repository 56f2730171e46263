// state/interfaces.go
package state

import "time"

// RoomContext defines the interface a room must implement to be driven by
// the lifecycle state machine. It breaks the import cycle between room and state.
type RoomContext interface {
	GetID() string
	ExpiresAt() time.Time
	ChangeState(newState State) error
	// RequestTeardown asks the owner to cascade-delete the room exactly once.
	RequestTeardown()
}
