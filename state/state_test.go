package state

import (
	"testing"
	"time"
)

// MockState is a test double for the State interface.
// It helps us track which methods have been called.
type MockState struct {
	ID            string
	OnEnterCalled bool
	OnExitCalled  bool
	OnUpdateCalled bool
}

func (m *MockState) OnEnter() {
	m.OnEnterCalled = true
}

func (m *MockState) OnExit() {
	m.OnExitCalled = true
}

func (m *MockState) OnUpdate() {
	m.OnUpdateCalled = true
}

func (m *MockState) GetID() string {
	return m.ID
}

// reset clears the call tracking flags.
func (m *MockState) reset() {
	m.OnEnterCalled = false
	m.OnExitCalled = false
	m.OnUpdateCalled = false
}

func TestStateMachine_InitialState(t *testing.T) {
	initialState := &MockState{ID: "initial"}
	sm := NewBaseStateMachine(initialState)

	if !initialState.OnEnterCalled {
		t.Error("Expected OnEnter to be called on the initial state")
	}

	if sm.GetCurrentState() != initialState {
		t.Error("GetCurrentState should return the initial state")
	}
}

func TestStateMachine_ChangeState(t *testing.T) {
	initialState := &MockState{ID: "initial"}
	nextState := &MockState{ID: "next"}

	sm := NewBaseStateMachine(initialState)
	initialState.reset() // Reset after initialization

	err := sm.ChangeState(nextState)
	if err != nil {
		t.Fatalf("ChangeState should not return an error, but got: %v", err)
	}

	if !initialState.OnExitCalled {
		t.Error("Expected OnExit to be called on the old state")
	}

	if !nextState.OnEnterCalled {
		t.Error("Expected OnEnter to be called on the new state")
	}

	if sm.GetCurrentState() != nextState {
		t.Error("GetCurrentState should return the new state")
	}
}

func TestStateMachine_AddAndUseTransition(t *testing.T) {
	stateA := &MockState{ID: "A"}
	stateB := &MockState{ID: "B"}
	stateC := &MockState{ID: "C"}

	sm := NewBaseStateMachine(stateA)

	// Add a valid transition from A to B
	err := sm.AddTransition(stateA, stateB, func() bool { return true })
	if err != nil {
		t.Fatalf("AddTransition failed: %v", err)
	}

	// Add a blocked transition from B to C
	err = sm.AddTransition(stateB, stateC, func() bool { return false })
	if err != nil {
		t.Fatalf("AddTransition failed: %v", err)
	}

	// --- Test valid transition ---
	stateA.reset()
	err = sm.ChangeState(stateB)
	if err != nil {
		t.Errorf("Expected transition from A to B to be allowed, but got error: %v", err)
	}
	if sm.GetCurrentState().GetID() != "B" {
		t.Errorf("Expected current state to be B, but got %s", sm.GetCurrentState().GetID())
	}

	// --- Test blocked transition ---
	stateB.reset()
	err = sm.ChangeState(stateC)
	if err != ErrTransitionNotAllowed {
		t.Errorf("Expected ErrTransitionNotAllowed, but got: %v", err)
	}
	if sm.GetCurrentState().GetID() != "B" {
		t.Errorf("Expected current state to remain B after a blocked transition, but got %s", sm.GetCurrentState().GetID())
	}
	if stateB.OnExitCalled {
		t.Error("OnExit should not be called on the current state if transition is blocked")
	}
	if stateC.OnEnterCalled {
		t.Error("OnEnter should not be called on the new state if transition is blocked")
	}
}

// MockRoomContext is a test double for the RoomContext interface.
type MockRoomContext struct {
	id        string
	expiresAt time.Time
	machine   StateMachine
	teardowns int
}

func (m *MockRoomContext) GetID() string        { return m.id }
func (m *MockRoomContext) ExpiresAt() time.Time { return m.expiresAt }
func (m *MockRoomContext) ChangeState(newState State) error {
	return m.machine.ChangeState(newState)
}
func (m *MockRoomContext) RequestTeardown() { m.teardowns++ }

func newLifecycleFixture(expiresAt time.Time) (*MockRoomContext, *BaseStateMachine) {
	room := &MockRoomContext{id: "room-1", expiresAt: expiresAt}
	open := NewOpenState(room)
	sm := NewBaseStateMachine(open)
	room.machine = sm

	closing := NewClosingState(room)
	closed := NewClosedState(room)
	sm.AddTransition(closing, open, func() bool { return false })
	sm.AddTransition(closed, open, func() bool { return false })
	sm.AddTransition(closed, closing, func() bool { return false })
	return room, sm
}

func TestOpenState_ExpiryMovesToClosing(t *testing.T) {
	room, sm := newLifecycleFixture(time.Now().Add(-time.Second))

	sm.GetCurrentState().OnUpdate()

	if sm.GetCurrentState().GetID() != StateClosing {
		t.Fatalf("Expected state %s, got %s", StateClosing, sm.GetCurrentState().GetID())
	}
	if room.teardowns != 1 {
		t.Errorf("Entering closing should request teardown once, got %d", room.teardowns)
	}
}

func TestOpenState_NotExpiredStaysOpen(t *testing.T) {
	room, sm := newLifecycleFixture(time.Now().Add(time.Hour))

	sm.GetCurrentState().OnUpdate()

	if sm.GetCurrentState().GetID() != StateOpen {
		t.Fatalf("Expected state %s, got %s", StateOpen, sm.GetCurrentState().GetID())
	}
	if room.teardowns != 0 {
		t.Errorf("Open room must not request teardown, got %d", room.teardowns)
	}
}

func TestClosedState_IsTerminal(t *testing.T) {
	room, sm := newLifecycleFixture(time.Now().Add(time.Hour))

	if err := sm.ChangeState(NewClosingState(room)); err != nil {
		t.Fatalf("open -> closing should be allowed: %v", err)
	}
	if err := sm.ChangeState(NewClosedState(room)); err != nil {
		t.Fatalf("closing -> closed should be allowed: %v", err)
	}

	if err := sm.ChangeState(NewOpenState(room)); err != ErrTransitionNotAllowed {
		t.Errorf("closed -> open must be blocked, got %v", err)
	}
	if err := sm.ChangeState(NewClosingState(room)); err != ErrTransitionNotAllowed {
		t.Errorf("closed -> closing must be blocked, got %v", err)
	}
	if sm.GetCurrentState().GetID() != StateClosed {
		t.Errorf("State must remain %s, got %s", StateClosed, sm.GetCurrentState().GetID())
	}
}
