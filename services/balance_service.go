// services/balance_service.go
package services

import (
	"errors"

	"github.com/wfunc/chatserver/models"
	"github.com/wfunc/chatserver/persistence"
)

// BalanceService 钻石余额的唯一写入口
type BalanceService struct {
	store persistence.Store
}

func NewBalanceService(store persistence.Store) *BalanceService {
	return &BalanceService{store: store}
}

// Debit 扣减余额；余额不足时整体拒绝，不产生任何副作用
func (s *BalanceService) Debit(userID int64, amount int64) error {
	if amount <= 0 {
		return ErrInvalidParameters
	}
	err := s.store.AdjustDiamonds(userID, -amount)
	if errors.Is(err, persistence.ErrInsufficientFunds) {
		return ErrInsufficientFunds
	}
	return err
}

// Credit 增加余额
func (s *BalanceService) Credit(userID int64, amount int64) error {
	if amount <= 0 {
		return ErrInvalidParameters
	}
	return s.store.AdjustDiamonds(userID, amount)
}

// Balance 查询当前余额
func (s *BalanceService) Balance(userID int64) (int64, error) {
	user, err := s.store.GetUser(userID)
	if err != nil {
		return 0, err
	}
	return user.Diamonds, nil
}

// EnsureUser 注册或刷新用户记录
func (s *BalanceService) EnsureUser(userID int64, name string) error {
	return s.store.UpsertUser(&models.User{UserID: userID, Name: name})
}
