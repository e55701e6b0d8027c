package maintenance

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var ErrInvalidTransition = errors.New("invalid state transition")

type State int

const (
	STATE_BOOTING State = iota
	STATE_CONNECTING
	STATE_SERVING
	STATE_DRAINING
	STATE_STOPPED
	STATE_FAILED
)

func (state State) String() string {
	switch state {
	case STATE_BOOTING:
		return "BOOTING"
	case STATE_CONNECTING:
		return "CONNECTING"
	case STATE_SERVING:
		return "SERVING"
	case STATE_DRAINING:
		return "DRAINING"
	case STATE_STOPPED:
		return "STOPPED"
	case STATE_FAILED:
		return "FAILED"
	}
	return fmt.Sprintf("STATE(%d)", int(state))
}

type transition struct {
	From State
	To   State
}

var transitions = map[transition]struct{}{
	{STATE_BOOTING, STATE_CONNECTING}:  {},
	{STATE_CONNECTING, STATE_SERVING}:  {},
	{STATE_SERVING, STATE_DRAINING}:    {},
	{STATE_CONNECTING, STATE_DRAINING}: {},
	{STATE_DRAINING, STATE_STOPPED}:    {},
}

type StateMachine struct {
	state State

	signals map[State][]func()

	mutex sync.RWMutex
}

func NewStateMachine() *StateMachine {
	return &StateMachine{
		state:   STATE_BOOTING,
		signals: make(map[State][]func()),
	}
}

func (state_machine *StateMachine) Get() State {
	state_machine.mutex.RLock()
	defer state_machine.mutex.RUnlock()

	return state_machine.state
}

// To moves to state. FAILED is reachable from anywhere but STOPPED.
func (state_machine *StateMachine) To(state State) error {
	state_machine.mutex.Lock()
	current := state_machine.state
	_, ok := transitions[transition{current, state}]
	if state == STATE_FAILED && current != STATE_STOPPED && current != STATE_FAILED {
		ok = true
	}
	if !ok {
		state_machine.mutex.Unlock()
		slog.Warn("MSS : Invalid state transition", "from", current.String(), "to", state.String())
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, state)
	}
	state_machine.state = state
	signals := append([]func(){}, state_machine.signals[state]...)
	state_machine.mutex.Unlock()

	slog.Info("MSS : transition done", "state", state.String())
	for _, signal := range signals {
		go signal()
	}
	return nil
}

// When registers callback to run, in its own goroutine, each time state is
// entered.
func (state_machine *StateMachine) When(state State, callback func()) {
	state_machine.mutex.Lock()
	defer state_machine.mutex.Unlock()

	state_machine.signals[state] = append(state_machine.signals[state], callback)
}

func (state_machine *StateMachine) Is(states ...State) bool {
	current := state_machine.Get()
	for _, state := range states {
		if state == current {
			return true
		}
	}
	return false
}
