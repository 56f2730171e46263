package services

import (
	"errors"
	"testing"
	"time"

	"github.com/wfunc/chatserver/models"
	"github.com/wfunc/chatserver/persistence"
)

func TestRoomCreateAndGet(t *testing.T) {
	store := persistence.NewMemory()
	svc := NewRoomService(store, 100)

	room, err := svc.Create(1, "lounge", "hang out", time.Hour)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if room.RoomID == "" {
		t.Fatal("Room must get an identifier")
	}
	if !room.GameEnabled {
		t.Error("New rooms should have the mini game enabled")
	}

	got, err := svc.Get(room.RoomID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "lounge" {
		t.Errorf("Expected name lounge, got %s", got.Name)
	}

	if _, err := svc.Get("missing"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound, got %v", err)
	}

	if _, err := svc.Create(1, "", "", time.Hour); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("Empty name should be rejected, got %v", err)
	}
}

func TestRoomJoinLeaveAndVoice(t *testing.T) {
	store := persistence.NewMemory()
	svc := NewRoomService(store, 100)

	room, _ := svc.Create(1, "lounge", "", time.Hour)

	if err := svc.Join(room.RoomID, 2, "bob"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := svc.SetVoice(room.RoomID, 2, true); err != nil {
		t.Fatalf("SetVoice failed: %v", err)
	}
	if err := svc.Leave(room.RoomID, 2); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}

	if err := svc.Join("missing", 2, "bob"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound, got %v", err)
	}

	expired, _ := svc.Create(1, "done", "", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if err := svc.Join(expired.RoomID, 2, "bob"); !errors.Is(err, ErrRoomExpired) {
		t.Errorf("Expected ErrRoomExpired, got %v", err)
	}
}

// deleteRoomSetup builds a room with a chest, messages and members to cascade away.
func deleteRoomSetup(t *testing.T) (*persistence.Memory, *RoomService, *ChestService, *models.Room, *models.Chest) {
	t.Helper()

	store := persistence.NewMemory()
	rooms := NewRoomService(store, 100)
	chests := NewChestService(store, 0, 3)

	for userID := int64(1); userID <= 3; userID++ {
		store.UpsertUser(&models.User{UserID: userID, Name: "user", Diamonds: 50})
	}

	room, err := rooms.Create(1, "lounge", "", time.Hour)
	if err != nil {
		t.Fatalf("Create room failed: %v", err)
	}
	for userID := int64(1); userID <= 3; userID++ {
		rooms.Join(room.RoomID, userID, "user")
	}
	rooms.SetVoice(room.RoomID, 2, true)
	if _, err := rooms.AppendChat(room.RoomID, 2, "bob", "hello"); err != nil {
		t.Fatalf("AppendChat failed: %v", err)
	}

	chest, err := chests.Create(room.RoomID, 1, "alice", 10, 3)
	if err != nil {
		t.Fatalf("Create chest failed: %v", err)
	}
	if _, err := chests.Claim(chest.ChestID, 2); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	return store, rooms, chests, room, chest
}

func TestRoomDelete_CascadeRemovesEverything(t *testing.T) {
	store, rooms, chests, room, chest := deleteRoomSetup(t)

	if err := rooms.Delete(room.RoomID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := store.GetRoom(room.RoomID); !errors.Is(err, persistence.ErrRecordNotFound) {
		t.Error("Room row should be gone")
	}
	if _, err := store.GetChest(chest.ChestID); !errors.Is(err, persistence.ErrRecordNotFound) {
		t.Error("Chest should be gone with its room")
	}
	if msgs, _ := store.RecentMessages(room.RoomID, 10); len(msgs) != 0 {
		t.Errorf("Messages should be gone, found %d", len(msgs))
	}

	// 房间删除后的领取必须看到 ChestNotFound，而不是成功
	if _, err := chests.Claim(chest.ChestID, 3); !errors.Is(err, ErrChestNotFound) {
		t.Errorf("Claim after cascade should fail with ErrChestNotFound, got %v", err)
	}
	user, _ := store.GetUser(3)
	if user.Diamonds != 50 {
		t.Errorf("Claim against a deleted room must not credit, got %d", user.Diamonds)
	}
}

func TestRoomDelete_PartialCascadeSurfaces(t *testing.T) {
	store, rooms, _, room, _ := deleteRoomSetup(t)
	store.FailCascadeAfter = 1

	err := rooms.Delete(room.RoomID)
	if !errors.Is(err, persistence.ErrPartialCascade) {
		t.Fatalf("Expected ErrPartialCascade, got %v", err)
	}

	var partial *persistence.PartialCascadeError
	if !errors.As(err, &partial) {
		t.Fatal("Error should carry cascade details")
	}
	if partial.Deleted < 1 {
		t.Errorf("Expected at least one deleted document reported, got %d", partial.Deleted)
	}

	// 房间行必须还在：级联没删完不能当作删除成功
	if _, err := store.GetRoom(room.RoomID); err != nil {
		t.Errorf("Room row must survive a partial cascade, got %v", err)
	}

	// 下一轮重试（解除故障注入）应能收尾
	store.FailCascadeAfter = 0
	if err := rooms.Delete(room.RoomID); err != nil {
		t.Fatalf("Retry after fault cleared should succeed: %v", err)
	}
}

func TestExpireDue(t *testing.T) {
	store := persistence.NewMemory()
	svc := NewRoomService(store, 100)

	fresh, _ := svc.Create(1, "fresh", "", time.Hour)
	stale, _ := svc.Create(1, "stale", "", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	removed := svc.ExpireDue(time.Now())
	if removed != 1 {
		t.Fatalf("Expected 1 room removed, got %d", removed)
	}

	if _, err := store.GetRoom(stale.RoomID); !errors.Is(err, persistence.ErrRecordNotFound) {
		t.Error("Expired room should be removed")
	}
	if _, err := store.GetRoom(fresh.RoomID); err != nil {
		t.Errorf("Fresh room must survive the sweep: %v", err)
	}
}
