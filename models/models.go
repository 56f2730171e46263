// models/models.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Winners 中奖记录，key 为用户ID的十进制字符串，value 为获得的钻石数。
// 以 jsonb 形式持久化，同一份类型同时服务 GORM 和 database/sql。
type Winners map[string]int64

func (w Winners) Value() (driver.Value, error) {
	if w == nil {
		w = Winners{}
	}
	return json.Marshal(w)
}

func (w *Winners) Scan(src interface{}) error {
	if src == nil {
		*w = Winners{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Winners", src)
	}
	return json.Unmarshal(raw, w)
}

// Has 判断用户是否已经领取过
func (w Winners) Has(userID int64) bool {
	_, ok := w[strconv.FormatInt(userID, 10)]
	return ok
}

// Clone returns a copy with one extra entry; the receiver is left untouched.
func (w Winners) With(userID, amount int64) Winners {
	next := make(Winners, len(w)+1)
	for k, v := range w {
		next[k] = v
	}
	next[strconv.FormatInt(userID, 10)] = amount
	return next
}

// Total 所有中奖者获得钻石的总和
func (w Winners) Total() int64 {
	var sum int64
	for _, v := range w {
		sum += v
	}
	return sum
}

// ChestStatus 宝箱的当前状态
type ChestStatus string

const (
	ChestActive    ChestStatus = "active"
	ChestExhausted ChestStatus = "exhausted"
	ChestExpired   ChestStatus = "expired"
)

// Chest 宝箱数据模型
type Chest struct {
	ChestID           string    `json:"chest_id"`
	RoomID            string    `json:"room_id"`
	CreatorID         int64     `json:"creator_id"`
	CreatorName       string    `json:"creator_name"`
	TotalDiamonds     int64     `json:"total_diamonds"`
	RemainingDiamonds int64     `json:"remaining_diamonds"`
	MaxWinners        int       `json:"max_winners"`
	Winners           Winners   `json:"winners"`
	Version           int64     `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// IsExpired 是否已过期（过期惰性判定，不依赖后台定时器）
func (c *Chest) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// IsExhausted 是否已抢完：钻石发完或名额用完
func (c *Chest) IsExhausted() bool {
	return c.RemainingDiamonds <= 0 || len(c.Winners) >= c.MaxWinners
}

// Status 计算当前状态；exhausted 和 expired 均为终态
func (c *Chest) Status(now time.Time) ChestStatus {
	if c.IsExhausted() {
		return ChestExhausted
	}
	if c.IsExpired(now) {
		return ChestExpired
	}
	return ChestActive
}

// SlotsLeft 剩余可中奖名额
func (c *Chest) SlotsLeft() int {
	left := c.MaxWinners - len(c.Winners)
	if left < 0 {
		return 0
	}
	return left
}

// NextAward 计算下一位中奖者应得的钻石数。
// 规则：剩余钻石对剩余名额取整均分，至少为 1，且不超过剩余钻石；
// 余数落到最后一位中奖者头上。
func (c *Chest) NextAward() int64 {
	slots := c.SlotsLeft()
	if slots <= 0 || c.RemainingDiamonds <= 0 {
		return 0
	}
	if slots == 1 {
		return c.RemainingDiamonds
	}
	award := c.RemainingDiamonds / int64(slots)
	if award < 1 {
		award = 1
	}
	if award > c.RemainingDiamonds {
		award = c.RemainingDiamonds
	}
	return award
}

// User 用户数据模型
type User struct {
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	Diamonds  int64     `json:"diamonds"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Room 房间数据模型
type Room struct {
	RoomID        string    `json:"room_id"`
	CreatorID     int64     `json:"creator_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	GameEnabled   bool      `json:"game_enabled"`
	ActiveChestID *string   `json:"active_chest_id,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// HasActiveChest 房间当前是否挂着宝箱
func (r *Room) HasActiveChest() bool {
	return r.ActiveChestID != nil && *r.ActiveChestID != ""
}

// IsExpired 房间是否到期
func (r *Room) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// 消息类型
const (
	MessageKindChat   = "chat"
	MessageKindSystem = "system"
)

// Message 聊天/系统消息
type Message struct {
	RoomID     string    `json:"room_id"`
	SenderID   int64     `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Kind       string    `json:"kind"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChestClaim 单次领取记录（不可变流水）
type ChestClaim struct {
	ChestID   string    `json:"chest_id"`
	RoomID    string    `json:"room_id"`
	UserID    int64     `json:"user_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}
