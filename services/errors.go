// services/errors.go
package services

import "errors"

// 调用方可见的错误分类。前置条件失败一律在任何写入之前返回。
var (
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrInsufficientFunds = errors.New("insufficient diamonds")
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomExpired       = errors.New("room expired")
	ErrGameDisabled      = errors.New("mini game disabled for this room")
	ErrChestActive       = errors.New("chest already active")
	ErrChestNotFound     = errors.New("chest not found")
	ErrChestExpired      = errors.New("chest expired")
	ErrChestExhausted    = errors.New("chest exhausted")
	ErrAlreadyClaimed    = errors.New("already claimed")
	// ErrChestUnavailable 输掉了并发竞争；调用方可重读后重试一次。
	ErrChestUnavailable = errors.New("chest unavailable")
)
