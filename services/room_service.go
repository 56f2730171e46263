// services/room_service.go
package services

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/chatserver/logger"
	"github.com/wfunc/chatserver/models"
	"github.com/wfunc/chatserver/persistence"
)

// RoomService 房间生命周期与到期协调
type RoomService struct {
	store            persistence.Store
	cascadeBatchSize int
}

func NewRoomService(store persistence.Store, cascadeBatchSize int) *RoomService {
	if cascadeBatchSize <= 0 {
		cascadeBatchSize = 500
	}
	return &RoomService{store: store, cascadeBatchSize: cascadeBatchSize}
}

// Create 创建房间；房间到期时间决定其宝箱的到期时间
func (s *RoomService) Create(creatorID int64, name, description string, ttl time.Duration) (*models.Room, error) {
	if name == "" || ttl <= 0 {
		return nil, ErrInvalidParameters
	}
	room := &models.Room{
		RoomID:      uuid.New().String(),
		CreatorID:   creatorID,
		Name:        name,
		Description: description,
		GameEnabled: true,
		ExpiresAt:   time.Now().Add(ttl),
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateRoom(room); err != nil {
		return nil, err
	}
	logger.Log.Infow("room created", "room_id", room.RoomID, "creator_id", creatorID, "expires_at", room.ExpiresAt)
	return room, nil
}

func (s *RoomService) Get(roomID string) (*models.Room, error) {
	room, err := s.store.GetRoom(roomID)
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	return room, err
}

// Update 房主编辑房间信息
func (s *RoomService) Update(room *models.Room) error {
	err := s.store.UpdateRoom(room)
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return ErrRoomNotFound
	}
	return err
}

func (s *RoomService) Join(roomID string, userID int64, userName string) error {
	room, err := s.Get(roomID)
	if err != nil {
		return err
	}
	if room.IsExpired(time.Now()) {
		return ErrRoomExpired
	}
	return s.store.AddParticipant(roomID, userID, userName)
}

func (s *RoomService) Leave(roomID string, userID int64) error {
	// 离开同时清掉语音在场标记
	if err := s.store.SetVoicePresence(roomID, userID, false); err != nil {
		return err
	}
	return s.store.RemoveParticipant(roomID, userID)
}

// SetVoice 语音在场状态切换
func (s *RoomService) SetVoice(roomID string, userID int64, present bool) error {
	return s.store.SetVoicePresence(roomID, userID, present)
}

func (s *RoomService) AppendChat(roomID string, senderID int64, senderName, body string) (*models.Message, error) {
	if body == "" {
		return nil, ErrInvalidParameters
	}
	msg := &models.Message{
		RoomID:     roomID,
		SenderID:   senderID,
		SenderName: senderName,
		Kind:       models.MessageKindChat,
		Body:       body,
		CreatedAt:  time.Now(),
	}
	if err := s.store.AppendMessage(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *RoomService) RecentMessages(roomID string, limit int) ([]models.Message, error) {
	return s.store.RecentMessages(roomID, limit)
}

// Delete 级联删除房间及其全部附属文档。批次之间不保证原子性，
// 中途失败会遗留孤儿文档；这里只记录并上抛，不做静默吞掉。
func (s *RoomService) Delete(roomID string) error {
	deleted, err := s.store.DeleteRoomCascade(roomID, s.cascadeBatchSize)
	if err != nil {
		logger.Log.Errorw("room cascade delete failed, orphaned documents may remain",
			"room_id", roomID,
			"deleted", deleted,
			"err", err,
		)
		return err
	}
	logger.Log.Infow("room deleted", "room_id", roomID, "documents", deleted)
	return nil
}

// ExpireDue 删除所有已到期的房间。单个房间失败不影响其余房间，
// 失败的级联会在下一轮扫描时整体重试。
func (s *RoomService) ExpireDue(now time.Time) int {
	ids, err := s.store.ListExpiredRooms(now)
	if err != nil {
		logger.Log.Errorw("expiry sweep failed to list rooms", "err", err)
		return 0
	}

	removed := 0
	for _, id := range ids {
		if err := s.Delete(id); err != nil {
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Log.Infow("expiry sweep finished", "removed", removed)
	}
	return removed
}
