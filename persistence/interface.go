// persistence/interface.go
package persistence

import (
	"errors"
	"fmt"
	"time"

	"github.com/wfunc/chatserver/models"
)

// Store 存储接口。所有跨用户的协调都必须走这里的复合原子操作，
// 不允许调用方把读和写拆成两步提交。
type Store interface {
	GetUser(userID int64) (*models.User, error)
	UpsertUser(user *models.User) error
	// AdjustDiamonds 单条件更新余额；扣减不足时返回 ErrInsufficientFunds 且无副作用。
	AdjustDiamonds(userID int64, delta int64) error

	CreateRoom(room *models.Room) error
	GetRoom(roomID string) (*models.Room, error)
	UpdateRoom(room *models.Room) error
	ListExpiredRooms(now time.Time) ([]string, error)

	// CreateChest 在一个事务内：占用房间宝箱位、扣减创建者余额、
	// 写入宝箱、追加系统消息。任一步失败则整体回滚。
	CreateChest(chest *models.Chest, fee int64, announcement *models.Message) error
	GetChest(chestID string) (*models.Chest, error)
	// ApplyClaim 以 (chest_id, version) 为条件的原子更新；版本不匹配时
	// 返回 ErrVersionConflict 且无副作用。
	ApplyClaim(update *ClaimUpdate) error

	AppendMessage(msg *models.Message) error
	RecentMessages(roomID string, limit int) ([]models.Message, error)

	AddParticipant(roomID string, userID int64, userName string) error
	RemoveParticipant(roomID string, userID int64) error
	SetVoicePresence(roomID string, userID int64, present bool) error

	// DeleteRoomCascade 分批删除房间的全部附属文档，最后删除房间本身。
	// 批次之间不保证原子性；中途失败返回 ErrPartialCascade 并带上已删除数。
	DeleteRoomCascade(roomID string, batchSize int) (deleted int64, err error)

	Close() error
}

// ClaimUpdate 一次领取对应的完整状态变更，由服务层基于读到的
// 版本号计算好，由存储层按版本条件一次性落库。
type ClaimUpdate struct {
	ChestID   string
	RoomID    string
	Version   int64 // 读取到的版本；提交条件
	UserID    int64
	Awarded   int64
	Winners   models.Winners // 含本次领取者的新中奖表
	Remaining int64          // 扣掉本次奖励后的剩余钻石
	Terminal  bool           // 本次更新后宝箱进入终态，需要清掉房间宝箱位
}

// 错误定义
var (
	ErrRecordNotFound    = errors.New("record not found")
	ErrInsufficientFunds = errors.New("insufficient diamonds")
	ErrChestActive       = errors.New("room already has an active chest")
	ErrVersionConflict   = errors.New("version conflict")
	ErrPartialCascade    = errors.New("partial cascade delete")
)

// PartialCascadeError 级联删除中途失败；Deleted 为失败前已删除的文档数。
type PartialCascadeError struct {
	RoomID  string
	Deleted int64
	Cause   error
}

func (e *PartialCascadeError) Error() string {
	return fmt.Sprintf("cascade delete of room %s failed after %d documents: %v", e.RoomID, e.Deleted, e.Cause)
}

func (e *PartialCascadeError) Unwrap() error { return ErrPartialCascade }
