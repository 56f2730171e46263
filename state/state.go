// state/state.go
package state

import (
	"errors"
	"sync"
	"time"
)

// 状态机接口
type StateMachine interface {
	ChangeState(state State) error
	GetCurrentState() State
	AddTransition(from State, to State, condition func() bool) error
}

// 状态接口
type State interface {
	OnEnter()
	OnExit()
	OnUpdate()
	GetID() string
}

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// 基础状态机实现
type BaseStateMachine struct {
	currentState State
	transitions  map[string]map[string]func() bool // fromState -> toState -> condition
	mutex        sync.RWMutex
}

func NewBaseStateMachine(initialState State) *BaseStateMachine {
	machine := &BaseStateMachine{
		currentState: initialState,
		transitions:  make(map[string]map[string]func() bool),
	}
	initialState.OnEnter()
	return machine
}

func (sm *BaseStateMachine) ChangeState(newState State) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	currentID := sm.currentState.GetID()
	newID := newState.GetID()

	// 检查是否有转换条件
	if conditions, exists := sm.transitions[currentID]; exists {
		if condition, exists := conditions[newID]; exists {
			if condition != nil && !condition() {
				return ErrTransitionNotAllowed
			}
		}
	}

	sm.currentState.OnExit()
	sm.currentState = newState
	sm.currentState.OnEnter()

	return nil
}

func (sm *BaseStateMachine) GetCurrentState() State {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

func (sm *BaseStateMachine) AddTransition(from State, to State, condition func() bool) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	fromID := from.GetID()
	toID := to.GetID()

	if _, exists := sm.transitions[fromID]; !exists {
		sm.transitions[fromID] = make(map[string]func() bool)
	}

	sm.transitions[fromID][toID] = condition
	return nil
}

// 房间生命周期状态ID
const (
	StateOpen    = "open"
	StateClosing = "closing"
	StateClosed  = "closed"
)

// 生命周期状态基础结构
type RoomStateBase struct {
	ID   string
	Room RoomContext
}

func (s *RoomStateBase) GetID() string {
	return s.ID
}

func (s *RoomStateBase) OnEnter() {
	// 默认实现
}

func (s *RoomStateBase) OnExit() {
	// 默认实现
}

func (s *RoomStateBase) OnUpdate() {
	// 默认实现
}

// NewOpenState creates the initial open state.
func NewOpenState(room RoomContext) *OpenState {
	return &OpenState{
		RoomStateBase: RoomStateBase{
			ID:   StateOpen,
			Room: room,
		},
	}
}

// 开放状态：房间正常收发消息，到期后转入关闭流程
type OpenState struct {
	RoomStateBase
}

func (s *OpenState) OnUpdate() {
	if !time.Now().Before(s.Room.ExpiresAt()) {
		s.Room.ChangeState(NewClosingState(s.Room))
	}
}

// NewClosingState creates the closing state; entering it requests teardown.
func NewClosingState(room RoomContext) *ClosingState {
	return &ClosingState{
		RoomStateBase: RoomStateBase{
			ID:   StateClosing,
			Room: room,
		},
	}
}

// 关闭中：级联删除进行中，所有领取/发言都被拒绝
type ClosingState struct {
	RoomStateBase
}

func (s *ClosingState) OnEnter() {
	s.Room.RequestTeardown()
}

// NewClosedState creates the terminal closed state.
func NewClosedState(room RoomContext) *ClosedState {
	return &ClosedState{
		RoomStateBase: RoomStateBase{
			ID:   StateClosed,
			Room: room,
		},
	}
}

// 已关闭：终态，不存在任何出边
type ClosedState struct {
	RoomStateBase
}
