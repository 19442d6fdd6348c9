package client

import (
	"errors"
	"testing"
	"time"
)

func TestBatchStateString(t *testing.T) {
	tests := []struct {
		state    BatchState
		expected string
	}{
		{StateEmpty, "EMPTY"},
		{StateQueuing, "QUEUING"},
		{StateInvalid, "INVALID"},
		{BatchState(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestNewStateManager(t *testing.T) {
	sm := NewStateManager()

	if sm.GetState() != StateEmpty {
		t.Errorf("expected initial state EMPTY, got %s", sm.GetState())
	}
}

func TestLegalStateTransitions(t *testing.T) {
	tests := []struct {
		name     string
		from     BatchState
		to       BatchState
		shouldOK bool
	}{
		{"EMPTY to QUEUING", StateEmpty, StateQueuing, true},
		{"EMPTY to INVALID", StateEmpty, StateInvalid, true},
		{"QUEUING to EMPTY", StateQueuing, StateEmpty, true},
		{"QUEUING to INVALID", StateQueuing, StateInvalid, true},
		// Illegal transitions
		{"EMPTY to EMPTY", StateEmpty, StateEmpty, false},
		{"QUEUING to QUEUING", StateQueuing, StateQueuing, false},
		{"INVALID to EMPTY", StateInvalid, StateEmpty, false},
		{"INVALID to QUEUING", StateInvalid, StateQueuing, false},
		{"INVALID to INVALID", StateInvalid, StateInvalid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewStateManager()

			// Get to the desired starting state
			switch tt.from {
			case StateQueuing:
				sm.TransitionTo(StateQueuing, nil, nil)
			case StateInvalid:
				sm.TransitionTo(StateInvalid, nil, nil)
			}

			err := sm.TransitionTo(tt.to, nil, nil)
			if tt.shouldOK && err != nil {
				t.Errorf("expected transition to succeed, got %v", err)
			}
			if !tt.shouldOK && err == nil {
				t.Errorf("expected transition to fail")
			}
			if !tt.shouldOK && sm.GetState() != tt.from {
				t.Errorf("illegal transition changed state to %s", sm.GetState())
			}
		})
	}
}

func TestStateChangeHandlers(t *testing.T) {
	sm := NewStateManager()
	cause := errors.New("boom")

	var transitions []StateTransition
	sm.OnStateChange(func(tr StateTransition) {
		transitions = append(transitions, tr)
		// Handlers may read the state without deadlocking
		if sm.GetState() != tr.To {
			t.Errorf("handler saw state %s, expected %s", sm.GetState(), tr.To)
		}
	})

	sm.TransitionTo(StateQueuing, nil, map[string]interface{}{"operation": "append"})
	time.Sleep(time.Millisecond)
	sm.TransitionTo(StateInvalid, cause, nil)

	if len(transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(transitions))
	}

	first := transitions[0]
	if first.From != StateEmpty || first.To != StateQueuing {
		t.Errorf("unexpected first transition %s → %s", first.From, first.To)
	}
	if first.Metadata["operation"] != "append" {
		t.Errorf("expected metadata to be forwarded, got %v", first.Metadata)
	}

	second := transitions[1]
	if second.Error != cause {
		t.Errorf("expected cause to be forwarded, got %v", second.Error)
	}
	if second.Duration <= 0 {
		t.Errorf("expected positive duration, got %v", second.Duration)
	}
}
