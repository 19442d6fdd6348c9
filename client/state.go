package client

import (
	"fmt"
	"sync"
	"time"
)

// BatchState represents where a QueuedBatch is in its lifecycle.
type BatchState int

const (
	// StateEmpty indicates no commands are queued.
	StateEmpty BatchState = iota
	// StateQueuing indicates at least one command was appended since the last reset.
	StateQueuing
	// StateInvalid indicates an operation failed; the batch is unusable.
	StateInvalid
)

// String returns the string representation of the batch state.
func (s BatchState) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StateQueuing:
		return "QUEUING"
	case StateInvalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

// StateTransition represents a change in batch state with enriched context.
//
// Standard Metadata Keys:
//   - batch_id: string - batch identifier
//   - operation: string - "append" | "exec" | "discard" | "watch"
//   - commands: int - commands queued when the transition happened
type StateTransition struct {
	// From is the previous state.
	From BatchState

	// To is the new current state.
	To BatchState

	// Timestamp is when the transition occurred.
	Timestamp time.Time

	// Error is the failure that caused the transition (for StateInvalid).
	Error error

	// Duration is how long the previous state was held.
	Duration time.Duration

	// Metadata contains additional context about the transition.
	Metadata map[string]interface{}
}

// StateChangeHandler is called when the batch state changes.
type StateChangeHandler func(transition StateTransition)

// StateManager manages batch state transitions and event handlers.
type StateManager struct {
	current        BatchState
	lastTransition time.Time
	handlers       []StateChangeHandler
	mu             sync.RWMutex
}

// NewStateManager creates a new state manager in StateEmpty.
func NewStateManager() *StateManager {
	return &StateManager{
		current:        StateEmpty,
		lastTransition: time.Now(),
		handlers:       make([]StateChangeHandler, 0),
	}
}

// TransitionTo attempts to transition to a new state.
// Returns error if the transition is illegal.
//
// Legal transitions:
//   - EMPTY → QUEUING
//   - QUEUING → EMPTY (exec or discard)
//   - EMPTY | QUEUING → INVALID
func (sm *StateManager) TransitionTo(newState BatchState, err error, metadata map[string]interface{}) error {
	sm.mu.Lock()

	if !isLegalTransition(sm.current, newState) {
		from := sm.current
		sm.mu.Unlock()
		return fmt.Errorf("illegal state transition: %s → %s", from, newState)
	}

	now := time.Now()
	transition := StateTransition{
		From:      sm.current,
		To:        newState,
		Timestamp: now,
		Error:     err,
		Duration:  now.Sub(sm.lastTransition),
		Metadata:  metadata,
	}

	sm.current = newState
	sm.lastTransition = now

	handlers := make([]StateChangeHandler, len(sm.handlers))
	copy(handlers, sm.handlers)
	sm.mu.Unlock()

	// Handlers run without the lock so they may query the state
	for _, handler := range handlers {
		handler(transition)
	}

	return nil
}

// isLegalTransition checks if a state transition is allowed.
func isLegalTransition(from, to BatchState) bool {
	switch from {
	case StateEmpty:
		return to == StateQueuing || to == StateInvalid
	case StateQueuing:
		return to == StateEmpty || to == StateInvalid
	default:
		return false
	}
}

// OnStateChange registers a handler to be called on state transitions.
func (sm *StateManager) OnStateChange(handler StateChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.handlers = append(sm.handlers, handler)
}

// GetState returns the current batch state.
func (sm *StateManager) GetState() BatchState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// Since returns how long the current state has been held.
func (sm *StateManager) Since() time.Duration {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return time.Since(sm.lastTransition)
}
