// persistence/memory.go
package persistence

import (
	"sort"
	"sync"
	"time"

	"github.com/wfunc/chatserver/models"
)

// Memory 内存实现。所有操作在同一把锁内完成，
// 条件更新语义与数据库实现保持一致，供测试和单机演示使用。
type Memory struct {
	mu           sync.Mutex
	users        map[int64]*models.User
	rooms        map[string]*models.Room
	chests       map[string]*models.Chest
	messages     map[string][]models.Message
	participants map[string]map[int64]string
	voice        map[string]map[int64]bool
	claims       map[string][]models.ChestClaim

	// FailCascadeAfter 大于0时，级联删除在删掉这么多条后注入失败。
	FailCascadeAfter int64
}

func NewMemory() *Memory {
	return &Memory{
		users:        make(map[int64]*models.User),
		rooms:        make(map[string]*models.Room),
		chests:       make(map[string]*models.Chest),
		messages:     make(map[string][]models.Message),
		participants: make(map[string]map[int64]string),
		voice:        make(map[string]map[int64]bool),
		claims:       make(map[string][]models.ChestClaim),
	}
}

// --- 用户与余额 ---

func (m *Memory) GetUser(userID int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *Memory) UpsertUser(user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if existing, ok := m.users[user.UserID]; ok {
		existing.Name = user.Name
		existing.UpdatedAt = now
		return nil
	}
	copied := *user
	copied.CreatedAt = now
	copied.UpdatedAt = now
	m.users[user.UserID] = &copied
	return nil
}

func (m *Memory) AdjustDiamonds(userID int64, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustLocked(userID, delta)
}

func (m *Memory) adjustLocked(userID int64, delta int64) error {
	u, ok := m.users[userID]
	if !ok {
		return ErrRecordNotFound
	}
	if u.Diamonds+delta < 0 {
		return ErrInsufficientFunds
	}
	u.Diamonds += delta
	u.UpdatedAt = time.Now()
	return nil
}

// --- 房间 ---

func (m *Memory) CreateRoom(room *models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *room
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	m.rooms[room.RoomID] = &copied
	return nil
}

func (m *Memory) GetRoom(roomID string) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	copied := *r
	return &copied, nil
}

func (m *Memory) UpdateRoom(room *models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[room.RoomID]
	if !ok {
		return ErrRecordNotFound
	}
	r.Name = room.Name
	r.Description = room.Description
	r.GameEnabled = room.GameEnabled
	r.ExpiresAt = room.ExpiresAt
	return nil
}

func (m *Memory) ListExpiredRooms(now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, r := range m.rooms {
		if !now.Before(r.ExpiresAt) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// --- 宝箱 ---

func (m *Memory) CreateChest(chest *models.Chest, fee int64, announcement *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[chest.RoomID]
	if !ok {
		return ErrRecordNotFound
	}
	if room.HasActiveChest() {
		return ErrChestActive
	}
	if err := m.adjustLocked(chest.CreatorID, -(chest.TotalDiamonds + fee)); err != nil {
		return err
	}

	copied := *chest
	copied.Winners = make(models.Winners, len(chest.Winners))
	for k, v := range chest.Winners {
		copied.Winners[k] = v
	}
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	m.chests[chest.ChestID] = &copied

	id := chest.ChestID
	room.ActiveChestID = &id

	if announcement != nil {
		msg := *announcement
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now()
		}
		m.messages[msg.RoomID] = append(m.messages[msg.RoomID], msg)
	}
	return nil
}

func (m *Memory) GetChest(chestID string) (*models.Chest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chests[chestID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	copied := *c
	copied.Winners = make(models.Winners, len(c.Winners))
	for k, v := range c.Winners {
		copied.Winners[k] = v
	}
	return &copied, nil
}

func (m *Memory) ApplyClaim(update *ClaimUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chests[update.ChestID]
	if !ok {
		return ErrRecordNotFound
	}
	if c.Version != update.Version {
		return ErrVersionConflict
	}
	if err := m.adjustLocked(update.UserID, update.Awarded); err != nil {
		return err
	}

	c.RemainingDiamonds = update.Remaining
	c.Winners = make(models.Winners, len(update.Winners))
	for k, v := range update.Winners {
		c.Winners[k] = v
	}
	c.Version = update.Version + 1

	m.claims[update.ChestID] = append(m.claims[update.ChestID], models.ChestClaim{
		ChestID:   update.ChestID,
		RoomID:    update.RoomID,
		UserID:    update.UserID,
		Amount:    update.Awarded,
		CreatedAt: time.Now(),
	})

	if update.Terminal {
		if room, ok := m.rooms[update.RoomID]; ok && room.ActiveChestID != nil && *room.ActiveChestID == update.ChestID {
			room.ActiveChestID = nil
		}
	}
	return nil
}

// --- 消息与成员 ---

func (m *Memory) AppendMessage(msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *msg
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	m.messages[msg.RoomID] = append(m.messages[msg.RoomID], copied)
	return nil
}

func (m *Memory) RecentMessages(roomID string, limit int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.messages[roomID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *Memory) AddParticipant(roomID string, userID int64, userName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.participants[roomID] == nil {
		m.participants[roomID] = make(map[int64]string)
	}
	m.participants[roomID][userID] = userName
	return nil
}

func (m *Memory) RemoveParticipant(roomID string, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.participants[roomID], userID)
	return nil
}

func (m *Memory) SetVoicePresence(roomID string, userID int64, present bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !present {
		delete(m.voice[roomID], userID)
		return nil
	}
	if m.voice[roomID] == nil {
		m.voice[roomID] = make(map[int64]bool)
	}
	m.voice[roomID][userID] = true
	return nil
}

// --- 级联删除 ---

func (m *Memory) DeleteRoomCascade(roomID string, batchSize int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64

	fail := func() (int64, error) {
		return deleted, &PartialCascadeError{RoomID: roomID, Deleted: deleted, Cause: ErrPartialCascade}
	}
	step := func(n int64) bool {
		deleted += n
		return m.FailCascadeAfter > 0 && deleted >= m.FailCascadeAfter
	}

	if step(int64(len(m.messages[roomID]))) {
		m.messages[roomID] = nil
		return fail()
	}
	delete(m.messages, roomID)

	var claimCount int64
	for chestID, c := range m.chests {
		if c.RoomID == roomID {
			claimCount += int64(len(m.claims[chestID]))
			delete(m.claims, chestID)
		}
	}
	if step(claimCount) {
		return fail()
	}

	if step(int64(len(m.voice[roomID]))) {
		return fail()
	}
	delete(m.voice, roomID)

	if step(int64(len(m.participants[roomID]))) {
		return fail()
	}
	delete(m.participants, roomID)

	var chestCount int64
	for chestID, c := range m.chests {
		if c.RoomID == roomID {
			delete(m.chests, chestID)
			chestCount++
		}
	}
	if step(chestCount) {
		return fail()
	}

	if _, ok := m.rooms[roomID]; ok {
		delete(m.rooms, roomID)
		deleted++
	}
	return deleted, nil
}

// ClaimsFor 返回某个宝箱的领取流水（测试辅助）。
func (m *Memory) ClaimsFor(chestID string) []models.ChestClaim {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.ChestClaim, len(m.claims[chestID]))
	copy(out, m.claims[chestID])
	return out
}

func (m *Memory) Close() error {
	return nil
}
