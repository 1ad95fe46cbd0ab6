package session

import "testing"

func TestStateMachineHappyPathToReady(t *testing.T) {
	steps := []struct {
		ev   Event
		want State
	}{
		{EventConnectSent, StateConnectMessageSent},
		{EventAcceptReceived, StateProtocolMessageSent},
		{EventProtocolSent, StateDataTypesMessageSent},
		{EventDataTypesSent, StateWaitingToStartAuthentication},
		{EventAuthPhaseOneSent, StateAuthenticating},
		{EventAuthPhaseTwoSent, StateAuthenticating},
		{EventAuthSucceeded, StateReadyForStatement},
	}
	s := StateInitialized
	for i, step := range steps {
		got, err := next(s, step.ev)
		if err != nil {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
		if got != step.want {
			t.Fatalf("step %d: got %s, want %s", i, got, step.want)
		}
		s = got
	}
}

func TestStateMachineRejectsInvalidTransition(t *testing.T) {
	_, err := next(StateInitialized, EventAuthSucceeded)
	if err == nil {
		t.Fatal("expected InvalidTransitionError")
	}
	if _, ok := err.(*InvalidTransitionError); !ok {
		t.Fatalf("expected InvalidTransitionError, got %T", err)
	}
}

func TestStateMachineStatementRoundTrip(t *testing.T) {
	got, err := next(StateReadyForStatement, EventStatementSubmitted)
	if err != nil || got != StateExecutingStatement {
		t.Fatalf("got %s, %v; want ExecutingStatement", got, err)
	}
	got, err = next(got, EventStatementCompleted)
	if err != nil || got != StateReadyForStatement {
		t.Fatalf("got %s, %v; want ReadyForStatement", got, err)
	}
}

func TestStateMachineTerminalStatesRejectEverything(t *testing.T) {
	for _, terminal := range []State{StateClosed, StateError} {
		if _, err := next(terminal, EventStatementSubmitted); err == nil {
			t.Fatalf("expected %s to reject all events", terminal)
		}
	}
}
