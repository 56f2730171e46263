// room/room.go
package room

import (
	"sync"
	"time"

	"github.com/wfunc/chatserver/session"
	"github.com/wfunc/chatserver/state"
)

// Room 是房间的内存运行时：持有在线成员、生命周期状态机和到期看护。
// 持久化状态（消息、宝箱、余额）全部在存储层，这里只做在线协调。
type Room struct {
	ID           string
	CreatorID    int64
	Name         string
	MaxMembers   int // 0 表示不限
	Members      map[string]*session.Session // sessionID -> session
	StateMachine state.StateMachine
	CreatedAt    time.Time
	expiresAt    time.Time
	broadcaster  Broadcaster
	teardown     func(roomID string)
	teardownOnce sync.Once
	memberMutex  sync.RWMutex
	ticker       *time.Ticker
	closeChan    chan bool
	closeOnce    sync.Once
}

// NewRoom 创建房间运行时并启动到期看护
func NewRoom(id string, creatorID int64, name string, maxMembers int, expiresAt time.Time, broadcaster Broadcaster, teardown func(roomID string)) *Room {
	room := &Room{
		ID:          id,
		CreatorID:   creatorID,
		Name:        name,
		MaxMembers:  maxMembers,
		Members:     make(map[string]*session.Session),
		CreatedAt:   time.Now(),
		expiresAt:   expiresAt,
		broadcaster: broadcaster,
		teardown:    teardown,
		closeChan:   make(chan bool),
	}

	// 初始化状态机；closing/closed 均不允许回到 open，closed 为终态
	initialState := state.NewOpenState(room)
	room.StateMachine = state.NewBaseStateMachine(initialState)
	closing := state.NewClosingState(room)
	closed := state.NewClosedState(room)
	room.StateMachine.AddTransition(closing, initialState, func() bool { return false })
	room.StateMachine.AddTransition(closed, initialState, func() bool { return false })
	room.StateMachine.AddTransition(closed, closing, func() bool { return false })

	// 到期看护不需要游戏帧率，1秒一跳足够
	room.ticker = time.NewTicker(time.Second)
	go room.loop()

	return room
}

// --- 实现 state.RoomContext 接口 ---

func (r *Room) GetID() string {
	return r.ID
}

func (r *Room) ExpiresAt() time.Time {
	return r.expiresAt
}

// ChangeState 改变房间的生命周期状态
func (r *Room) ChangeState(newState state.State) error {
	return r.StateMachine.ChangeState(newState)
}

// RequestTeardown 触发一次（且仅一次）级联删除回调
func (r *Room) RequestTeardown() {
	r.teardownOnce.Do(func() {
		if r.teardown != nil {
			go r.teardown(r.ID)
		}
	})
}

// Broadcast sends a message to all members in the room.
func (r *Room) Broadcast(msgID uint16, data []byte) error {
	return r.broadcaster.BroadcastToRoom(r.ID, msgID, data)
}

// --- 房间核心逻辑 ---

// IsOpen 房间是否还接受消息和宝箱操作
func (r *Room) IsOpen() bool {
	current := r.StateMachine.GetCurrentState()
	return current != nil && current.GetID() == state.StateOpen
}

// BeginClose 由外部删除请求触发关闭流程；重复调用无害
func (r *Room) BeginClose() {
	if r.IsOpen() {
		r.ChangeState(state.NewClosingState(r))
	}
}

// FinishClose 级联删除完成后进入终态
func (r *Room) FinishClose() {
	r.ChangeState(state.NewClosedState(r))
}

// AddMember 添加一个成员
func (r *Room) AddMember(s *session.Session) bool {
	if !r.IsOpen() {
		return false
	}

	r.memberMutex.Lock()
	defer r.memberMutex.Unlock()

	if r.MaxMembers > 0 && len(r.Members) >= r.MaxMembers {
		return false
	}

	r.Members[s.ID] = s
	s.RoomID = r.ID
	return true
}

// RemoveMember 移除一个成员
func (r *Room) RemoveMember(sessionID string) {
	r.memberMutex.Lock()
	defer r.memberMutex.Unlock()

	if member, exists := r.Members[sessionID]; exists {
		member.RoomID = ""
		delete(r.Members, sessionID)
	}
}

// GetMember 获取单个成员
func (r *Room) GetMember(sessionID string) (*session.Session, bool) {
	r.memberMutex.RLock()
	defer r.memberMutex.RUnlock()

	member, exists := r.Members[sessionID]
	return member, exists
}

// GetSessions returns a slice of all sessions in the room (thread-safe).
func (r *Room) GetSessions() []*session.Session {
	r.memberMutex.RLock()
	defer r.memberMutex.RUnlock()

	sessions := make([]*session.Session, 0, len(r.Members))
	for _, s := range r.Members {
		sessions = append(sessions, s)
	}
	return sessions
}

// MemberCount 在线成员数
func (r *Room) MemberCount() int {
	r.memberMutex.RLock()
	defer r.memberMutex.RUnlock()
	return len(r.Members)
}

// loop 到期看护循环
func (r *Room) loop() {
	for {
		select {
		case <-r.ticker.C:
			r.Update()
		case <-r.closeChan:
			r.ticker.Stop()
			return
		}
	}
}

// Update 驱动当前状态检查，由看护循环和测试调用
func (r *Room) Update() {
	if r.StateMachine != nil {
		currentState := r.StateMachine.GetCurrentState()
		if currentState != nil {
			currentState.OnUpdate()
		}
	}
}

// Close 停止看护循环
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		close(r.closeChan)
	})
}

// --- 房间管理器 ---

// Manager 管理所有在线房间
type Manager struct {
	rooms map[string]*Room
	mutex sync.RWMutex
}

// NewRoomManager 创建一个新的房间管理器
func NewRoomManager() *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
	}
}

// CreateRoom 创建一个新房间并登记到管理器
func (m *Manager) CreateRoom(id string, creatorID int64, name string, maxMembers int, expiresAt time.Time, broadcaster Broadcaster, teardown func(roomID string)) *Room {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	room := NewRoom(id, creatorID, name, maxMembers, expiresAt, broadcaster, teardown)
	m.rooms[id] = room
	return room
}

// RemoveRoom 从管理器中移除并关闭一个房间
func (m *Manager) RemoveRoom(id string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if room, exists := m.rooms[id]; exists {
		room.FinishClose()
		room.Close()
		delete(m.rooms, id)
	}
}

// GetRoom 获取一个房间
func (m *Manager) GetRoom(id string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	room, exists := m.rooms[id]
	return room, exists
}

// Count 在线房间数
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms)
}
