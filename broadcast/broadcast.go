// broadcast/broadcast.go
package broadcast

import (
	"errors"

	"github.com/wfunc/chatserver/room"

	"github.com/wfunc/chatserver/session"
)

var (
	ErrRoomNotFound = errors.New("room not found")
)

// Broadcaster 通知门面：向房间/用户推送宝箱与系统消息。
// 只消费状态，不回写任何持久化数据。
type Broadcaster interface {
	BroadcastToRoom(roomID string, msgID uint16, data []byte) error
	BroadcastToUser(userID int64, msgID uint16, data []byte) error
}

// 基于房间的广播器
type RoomBroadcaster struct {
	roomManager    *room.Manager
	sessionManager *session.Manager
}

func NewRoomBroadcaster(roomManager *room.Manager, sessionManager *session.Manager) *RoomBroadcaster {
	return &RoomBroadcaster{
		roomManager:    roomManager,
		sessionManager: sessionManager,
	}
}

func (b *RoomBroadcaster) BroadcastToRoom(roomID string, msgID uint16, data []byte) error {
	r, exists := b.roomManager.GetRoom(roomID)
	if !exists {
		return ErrRoomNotFound
	}

	// Get a thread-safe copy of the sessions
	sessions := r.GetSessions()

	for _, s := range sessions {
		if err := s.Send(msgID, data); err != nil {
			// 发送失败的连接由读循环负责回收
			continue
		}
	}

	return nil
}

func (b *RoomBroadcaster) BroadcastToUser(userID int64, msgID uint16, data []byte) error {
	sessions := b.sessionManager.GetByUserID(userID)
	for _, s := range sessions {
		if err := s.Send(msgID, data); err != nil {
			continue
		}
	}
	return nil
}
