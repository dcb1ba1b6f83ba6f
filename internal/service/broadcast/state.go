package broadcast

import (
	"errors"
	"fmt"

	"github.com/krobus00/market-stream/internal/entity"
)

var (
	ErrInvalidTransition = errors.New("invalid broadcast transition")
	ErrFeedLoad          = errors.New("failed to load feeds")
)

// transitions lists every permitted (state, operation) pair and the state it
// leads to. Anything missing is rejected.
var transitions = map[entity.BroadcastState]map[entity.BroadcastOperation]entity.BroadcastState{
	entity.BroadcastStopped: {
		entity.BroadcastStart:   entity.BroadcastRunning,
		entity.BroadcastStop:    entity.BroadcastStopped,
		entity.BroadcastRestart: entity.BroadcastRunning,
	},
	entity.BroadcastRunning: {
		entity.BroadcastPause:   entity.BroadcastPaused,
		entity.BroadcastStop:    entity.BroadcastStopped,
		entity.BroadcastRestart: entity.BroadcastRunning,
	},
	entity.BroadcastPaused: {
		entity.BroadcastResume:  entity.BroadcastRunning,
		entity.BroadcastStop:    entity.BroadcastStopped,
		entity.BroadcastRestart: entity.BroadcastRunning,
	},
}

func nextState(state entity.BroadcastState, op entity.BroadcastOperation) (entity.BroadcastState, error) {
	next, ok := transitions[state][op]
	if !ok {
		return state, &TransitionError{State: state, Operation: op}
	}
	return next, nil
}

type TransitionError struct {
	State     entity.BroadcastState
	Operation entity.BroadcastOperation
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot execute %s while in state %s", e.Operation, e.State)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
