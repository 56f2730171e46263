package room

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wfunc/chatserver/network"
	"github.com/wfunc/chatserver/session"
	"github.com/wfunc/chatserver/state"
)

// MockBroadcaster is a test double for the Broadcaster interface.
type MockBroadcaster struct{}

func (m *MockBroadcaster) BroadcastToRoom(roomID string, msgID uint16, data []byte) error {
	return nil
}

// MockConnection is a test double for the network.Connection interface.
type MockConnection struct{}

func (m *MockConnection) Send(msgID uint16, data []byte) error { return nil }
func (m *MockConnection) Close() error                         { return nil }
func (m *MockConnection) RemoteAddr() net.Addr                 { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration)  {}
func (m *MockConnection) ReadPacket() (*network.Packet, error) { return nil, nil }

// newTestSession creates a dummy session for testing purposes.
func newTestSession(id string) *session.Session {
	return session.NewSession(id, &MockConnection{})
}

func farFuture() time.Time {
	return time.Now().Add(time.Hour)
}

func TestManager_CreateAndGetRoom(t *testing.T) {
	manager := NewRoomManager()
	mockBroadcaster := &MockBroadcaster{}

	roomID := "test_room_1"
	room := manager.CreateRoom(roomID, 1, "Test Room", 4, farFuture(), mockBroadcaster, nil)
	defer manager.RemoveRoom(roomID)

	if room == nil {
		t.Fatal("CreateRoom should not return nil")
	}

	if room.ID != roomID {
		t.Errorf("Expected room ID %s, got %s", roomID, room.ID)
	}

	retrievedRoom, exists := manager.GetRoom(roomID)
	if !exists {
		t.Fatal("GetRoom should find the created room")
	}

	if retrievedRoom != room {
		t.Error("GetRoom should return the same room instance")
	}

	if manager.Count() != 1 {
		t.Errorf("Expected room count 1, got %d", manager.Count())
	}
}

func TestRoom_AddMember(t *testing.T) {
	mockBroadcaster := &MockBroadcaster{}
	room := NewRoom("test_room_2", 1, "Add Member Test", 2, farFuture(), mockBroadcaster, nil)
	defer room.Close()

	member1 := newTestSession("member1")

	added := room.AddMember(member1)
	if !added {
		t.Fatal("Failed to add first member")
	}

	if room.MemberCount() != 1 {
		t.Errorf("Expected member count to be 1, got %d", room.MemberCount())
	}

	if _, exists := room.GetMember(member1.GetID()); !exists {
		t.Error("Member was not correctly added to the room's member map")
	}

	if member1.RoomID != room.ID {
		t.Errorf("Expected session room ID %s, got %s", room.ID, member1.RoomID)
	}
}

func TestRoom_AddMember_Full(t *testing.T) {
	mockBroadcaster := &MockBroadcaster{}
	room := NewRoom("test_room_3", 1, "Full Room Test", 1, farFuture(), mockBroadcaster, nil)
	defer room.Close()

	member1 := newTestSession("member1")
	member2 := newTestSession("member2")

	// Add first member, should succeed
	if !room.AddMember(member1) {
		t.Fatal("Failed to add the first member")
	}

	// Add second member, should fail
	if room.AddMember(member2) {
		t.Fatal("Should not be able to add a member to a full room")
	}

	if room.MemberCount() != 1 {
		t.Errorf("Expected member count to be 1 after trying to add to a full room, got %d", room.MemberCount())
	}
}

func TestRoom_RemoveMember(t *testing.T) {
	mockBroadcaster := &MockBroadcaster{}
	room := NewRoom("test_room_4", 1, "Remove Member Test", 2, farFuture(), mockBroadcaster, nil)
	defer room.Close()

	member1 := newTestSession("member1")
	room.AddMember(member1)

	if room.MemberCount() != 1 {
		t.Fatalf("Setup failed: member not added correctly. Count: %d", room.MemberCount())
	}

	room.RemoveMember(member1.GetID())

	if room.MemberCount() != 0 {
		t.Errorf("Expected member count to be 0 after removing member, got %d", room.MemberCount())
	}

	if member1.RoomID != "" {
		t.Error("Removed member should have its session room ID cleared")
	}
}

func TestRoom_ClosingRejectsMembers(t *testing.T) {
	mockBroadcaster := &MockBroadcaster{}
	room := NewRoom("test_room_5", 1, "Closing Test", 0, farFuture(), mockBroadcaster, nil)
	defer room.Close()

	if !room.IsOpen() {
		t.Fatal("New room should be open")
	}

	room.BeginClose()

	if room.IsOpen() {
		t.Fatal("Room should not be open after BeginClose")
	}

	if room.AddMember(newTestSession("late")) {
		t.Error("Closing room must not accept new members")
	}

	// 重复调用无害
	room.BeginClose()

	room.FinishClose()
	if got := room.StateMachine.GetCurrentState().GetID(); got != state.StateClosed {
		t.Errorf("Expected state %s, got %s", state.StateClosed, got)
	}
}

func TestRoom_ExpiryTriggersTeardownOnce(t *testing.T) {
	var teardowns int32
	teardown := func(roomID string) {
		atomic.AddInt32(&teardowns, 1)
	}

	mockBroadcaster := &MockBroadcaster{}
	room := NewRoom("test_room_6", 1, "Expiry Test", 0, time.Now().Add(-time.Second), mockBroadcaster, teardown)
	defer room.Close()

	// 手动驱动状态检查，不等看护循环
	room.Update()

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&teardowns) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt32(&teardowns) != 1 {
		t.Fatalf("Expected exactly one teardown call, got %d", atomic.LoadInt32(&teardowns))
	}

	// Further updates and explicit close requests must not fire teardown again.
	room.Update()
	room.BeginClose()
	room.RequestTeardown()
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&teardowns) != 1 {
		t.Errorf("Teardown must fire at most once, got %d", atomic.LoadInt32(&teardowns))
	}
}
