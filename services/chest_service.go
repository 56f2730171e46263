// services/chest_service.go
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/chatserver/logger"
	"github.com/wfunc/chatserver/models"
	"github.com/wfunc/chatserver/persistence"
)

// ChestService 宝箱生命周期管理：创建、领取、终态判定。
// 所有状态变更都通过存储层的复合原子操作落库。
type ChestService struct {
	store        persistence.Store
	feePerWinner int64
	claimRetries int
}

func NewChestService(store persistence.Store, feePerWinner int64, claimRetries int) *ChestService {
	if claimRetries < 1 {
		claimRetries = 1
	}
	return &ChestService{
		store:        store,
		feePerWinner: feePerWinner,
		claimRetries: claimRetries,
	}
}

// SystemFee 创建宝箱的手续费：(名额数-1) * 单名额费率
func (s *ChestService) SystemFee(maxWinners int) int64 {
	fee := int64(maxWinners-1) * s.feePerWinner
	if fee < 0 {
		return 0
	}
	return fee
}

// Create 创建宝箱。占用房间宝箱位、扣款、写宝箱、发系统公告在一个
// 原子批次内完成，任何前置条件失败都不产生副作用。
func (s *ChestService) Create(roomID string, creatorID int64, creatorName string, totalDiamonds int64, maxWinners int) (*models.Chest, error) {
	if maxWinners < 1 || totalDiamonds < int64(maxWinners) {
		return nil, ErrInvalidParameters
	}

	room, err := s.store.GetRoom(roomID)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	now := time.Now()
	if room.IsExpired(now) {
		return nil, ErrRoomExpired
	}
	if !room.GameEnabled {
		return nil, ErrGameDisabled
	}
	if room.HasActiveChest() {
		return nil, ErrChestActive
	}

	chest := &models.Chest{
		ChestID:           uuid.New().String(),
		RoomID:            roomID,
		CreatorID:         creatorID,
		CreatorName:       creatorName,
		TotalDiamonds:     totalDiamonds,
		RemainingDiamonds: totalDiamonds,
		MaxWinners:        maxWinners,
		Winners:           models.Winners{},
		Version:           1,
		CreatedAt:         now,
		ExpiresAt:         room.ExpiresAt, // 宝箱随房间一起过期
	}

	announcement := &models.Message{
		RoomID:     roomID,
		SenderID:   creatorID,
		SenderName: creatorName,
		Kind:       models.MessageKindSystem,
		Body:       fmt.Sprintf("%s dropped a treasure chest: %d diamonds for up to %d winners!", creatorName, totalDiamonds, maxWinners),
	}

	err = s.store.CreateChest(chest, s.SystemFee(maxWinners), announcement)
	switch {
	case err == nil:
	case errors.Is(err, persistence.ErrChestActive):
		return nil, ErrChestActive
	case errors.Is(err, persistence.ErrInsufficientFunds):
		return nil, ErrInsufficientFunds
	case errors.Is(err, persistence.ErrRecordNotFound):
		return nil, ErrRoomNotFound
	default:
		return nil, err
	}

	logger.Log.Infow("chest created",
		"chest_id", chest.ChestID,
		"room_id", roomID,
		"creator_id", creatorID,
		"total", totalDiamonds,
		"max_winners", maxWinners,
	)
	return chest, nil
}

// Claim 领取宝箱。每轮都重读宝箱状态并重新校验前置条件，再以读到的
// 版本号做条件更新；版本冲突说明输掉了一次竞争，重读后重试。
func (s *ChestService) Claim(chestID string, userID int64) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < s.claimRetries; attempt++ {
		chest, err := s.store.GetChest(chestID)
		if err != nil {
			if errors.Is(err, persistence.ErrRecordNotFound) {
				return 0, ErrChestNotFound
			}
			return 0, err
		}

		now := time.Now()
		if chest.Winners.Has(userID) {
			return 0, ErrAlreadyClaimed
		}
		if chest.IsExhausted() {
			return 0, ErrChestExhausted
		}
		if chest.IsExpired(now) {
			return 0, ErrChestExpired
		}

		awarded := chest.NextAward()
		if awarded <= 0 {
			return 0, ErrChestExhausted
		}

		newWinners := chest.Winners.With(userID, awarded)
		newRemaining := chest.RemainingDiamonds - awarded
		terminal := newRemaining <= 0 || len(newWinners) >= chest.MaxWinners

		err = s.store.ApplyClaim(&persistence.ClaimUpdate{
			ChestID:   chestID,
			RoomID:    chest.RoomID,
			Version:   chest.Version,
			UserID:    userID,
			Awarded:   awarded,
			Winners:   newWinners,
			Remaining: newRemaining,
			Terminal:  terminal,
		})
		switch {
		case err == nil:
			logger.Log.Infow("chest claimed",
				"chest_id", chestID,
				"user_id", userID,
				"awarded", awarded,
				"remaining", newRemaining,
				"terminal", terminal,
			)
			return awarded, nil
		case errors.Is(err, persistence.ErrVersionConflict):
			lastErr = err
			continue
		case errors.Is(err, persistence.ErrRecordNotFound):
			// 房间在领取途中被删除
			return 0, ErrChestNotFound
		default:
			return 0, err
		}
	}

	logger.Log.Debugw("chest claim lost race", "chest_id", chestID, "user_id", userID, "err", lastErr)
	return 0, ErrChestUnavailable
}

// Describe 只读访问，供倒计时/展示使用。过期惰性判定。
func (s *ChestService) Describe(chestID string) (*models.Chest, models.ChestStatus, error) {
	chest, err := s.store.GetChest(chestID)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return nil, "", ErrChestNotFound
		}
		return nil, "", err
	}
	return chest, chest.Status(time.Now()), nil
}
