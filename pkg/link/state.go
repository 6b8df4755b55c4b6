// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import "fmt"

// State is a link state machine state
type State int

// Link states
const (
	StateUninitialized State = iota
	StateInitializing
	StateRxMode
	StateRxData
	StateRxFailure
	StateTxStart
	StateTxData
	StateTxFailure
	StateTimeout
	StateError
	StateFatalError
	numStates
)

var stateNames = [...]string{
	StateUninitialized: "UNINITIALIZED",
	StateInitializing:  "INITIALIZING",
	StateRxMode:        "RX_MODE",
	StateRxData:        "RX_DATA",
	StateRxFailure:     "RX_FAILURE",
	StateTxStart:       "TX_START",
	StateTxData:        "TX_DATA",
	StateTxFailure:     "TX_FAILURE",
	StateTimeout:       "TIMEOUT",
	StateError:         "ERROR",
	StateFatalError:    "FATAL_ERROR",
}

// String returns the state name
func (s State) String() string {
	if s >= 0 && s < numStates {
		return stateNames[s]
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// Event drives the state machine
type Event int

// Events. EventNone is returned by entry actions that wait for an external
// event.
const (
	EventNone Event = iota
	EventInitialize
	EventInitialized
	EventInternalInterrupt
	EventRxMode
	EventRxComplete
	EventRxError
	EventTxStart
	EventTxError
	EventTimeout
	EventError
	EventFatalError
	numEvents
)

var eventNames = [...]string{
	EventNone:              "NONE",
	EventInitialize:        "INITIALIZE",
	EventInitialized:       "INITIALIZED",
	EventInternalInterrupt: "INT_RECEIVED",
	EventRxMode:            "RX_MODE",
	EventRxComplete:        "RX_COMPLETE",
	EventRxError:           "RX_ERROR",
	EventTxStart:           "TX_START",
	EventTxError:           "TX_ERROR",
	EventTimeout:           "TIMEOUT",
	EventError:             "ERROR",
	EventFatalError:        "FATAL_ERROR",
}

// String returns the event name
func (e Event) String() string {
	if e >= 0 && e < numEvents {
		return eventNames[e]
	}
	return fmt.Sprintf("EVENT(%d)", int(e))
}

// transitions maps state and event to the next state. Missing pairs are
// dropped without effect.
var transitions = [numStates]map[Event]State{
	StateUninitialized: {
		EventInitialize: StateInitializing,
	},
	StateInitializing: {
		EventInitialize:  StateInitializing,
		EventInitialized: StateRxMode,
		EventError:       StateError,
		EventFatalError:  StateFatalError,
	},
	StateRxMode: {
		EventInitialize:        StateInitializing,
		EventInternalInterrupt: StateRxData,
		EventRxMode:            StateRxMode,
		EventTxStart:           StateTxStart,
		EventTimeout:           StateTimeout,
		EventError:             StateError,
		EventFatalError:        StateFatalError,
	},
	StateRxData: {
		EventInitialize:        StateInitializing,
		EventInternalInterrupt: StateRxData,
		EventRxComplete:        StateTxStart,
		EventRxError:           StateRxFailure,
		EventRxMode:            StateRxMode,
		EventTimeout:           StateTimeout,
		EventError:             StateError,
		EventFatalError:        StateFatalError,
	},
	StateRxFailure: {
		EventInitialize: StateInitializing,
		EventRxMode:     StateRxMode,
		EventTimeout:    StateTimeout,
		EventError:      StateError,
		EventFatalError: StateFatalError,
	},
	StateTxStart: {
		EventInitialize:        StateInitializing,
		EventInternalInterrupt: StateTxData,
		EventRxMode:            StateRxMode,
		EventTxError:           StateTxFailure,
		EventTimeout:           StateTimeout,
		EventError:             StateError,
		EventFatalError:        StateFatalError,
	},
	StateTxData: {
		EventInitialize:        StateInitializing,
		EventInternalInterrupt: StateTxData,
		EventRxComplete:        StateRxMode,
		EventRxMode:            StateRxMode,
		EventTxError:           StateTxFailure,
		EventTimeout:           StateTimeout,
		EventError:             StateError,
		EventFatalError:        StateFatalError,
	},
	StateTxFailure: {
		EventInitialize: StateInitializing,
		EventRxMode:     StateRxMode,
		EventTimeout:    StateTimeout,
		EventError:      StateError,
		EventFatalError: StateFatalError,
	},
	StateTimeout: {
		EventInitialize: StateInitializing,
		EventRxMode:     StateRxMode,
		EventError:      StateError,
		EventFatalError: StateFatalError,
	},
	StateError: {
		EventInitialize: StateInitializing,
		EventError:      StateError,
		EventFatalError: StateFatalError,
	},
	StateFatalError: {},
}

// Transition returns the state reached from s on e, and false if the pair
// has no transition
func Transition(s State, e Event) (State, bool) {
	if s < 0 || s >= numStates {
		return s, false
	}
	next, ok := transitions[s][e]
	if !ok {
		return s, false
	}
	return next, true
}

// inTransaction reports whether s has an open TX or RX transaction
func (s State) inTransaction() bool {
	return s == StateRxData || s == StateTxStart || s == StateTxData
}

// operational reports whether the chip is configured and hopping
func (s State) operational() bool {
	switch s {
	case StateUninitialized, StateInitializing, StateError, StateFatalError:
		return false
	}
	return true
}
