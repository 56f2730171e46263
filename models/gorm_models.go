// models/gorm_models.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// GormUser 用户模型
type GormUser struct {
	gorm.Model
	UserID   int64  `gorm:"uniqueIndex;not null"`
	Name     string `gorm:"not null"`
	Diamonds int64  `gorm:"not null;default:0"`
}

// GormRoom 房间模型
type GormRoom struct {
	gorm.Model
	RoomID        string `gorm:"uniqueIndex;not null"`
	CreatorID     int64  `gorm:"index;not null"`
	Name          string `gorm:"not null"`
	Description   string
	GameEnabled   bool    `gorm:"default:true"`
	ActiveChestID *string // 同一时刻至多一个宝箱
	ExpiresAt     time.Time `gorm:"index;not null"`
}

// GormChest 宝箱模型
type GormChest struct {
	gorm.Model
	ChestID           string  `gorm:"uniqueIndex;not null"`
	RoomID            string  `gorm:"index;not null"`
	CreatorID         int64   `gorm:"not null"`
	CreatorName       string  `gorm:"not null"`
	TotalDiamonds     int64   `gorm:"not null"`
	RemainingDiamonds int64   `gorm:"not null"`
	MaxWinners        int     `gorm:"not null"`
	Winners           Winners `gorm:"type:jsonb;not null"`
	Version           int64   `gorm:"not null;default:1"` // 乐观并发控制
	ExpiresAt         time.Time `gorm:"not null"`
}

// GormMessage 消息模型
type GormMessage struct {
	gorm.Model
	RoomID     string `gorm:"index;not null"`
	SenderID   int64  `gorm:"not null"`
	SenderName string
	Kind       string `gorm:"not null;default:'chat'"`
	Body       string `gorm:"not null"`
}

// GormParticipant 房间成员模型
type GormParticipant struct {
	gorm.Model
	RoomID   string `gorm:"index:idx_participant,unique;not null"`
	UserID   int64  `gorm:"index:idx_participant,unique;not null"`
	UserName string
}

// GormVoicePresence 语音在场记录（易失数据，允许级联清理时遗留）
type GormVoicePresence struct {
	gorm.Model
	RoomID string `gorm:"index:idx_voice,unique;not null"`
	UserID int64  `gorm:"index:idx_voice,unique;not null"`
}

// GormChestClaim 领取流水模型
type GormChestClaim struct {
	gorm.Model
	ChestID string `gorm:"index;not null"`
	RoomID  string `gorm:"index;not null"`
	UserID  int64  `gorm:"not null"`
	Amount  int64  `gorm:"not null"`
}

func (GormUser) TableName() string          { return "users" }
func (GormRoom) TableName() string          { return "rooms" }
func (GormChest) TableName() string         { return "chests" }
func (GormMessage) TableName() string       { return "messages" }
func (GormParticipant) TableName() string   { return "participants" }
func (GormVoicePresence) TableName() string { return "voice_presences" }
func (GormChestClaim) TableName() string    { return "chest_claims" }
