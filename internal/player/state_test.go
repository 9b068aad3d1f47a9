package player

import (
	"errors"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	states := []State{AwaitingClientAck, BrowsingRooms, JoinedAndWaiting, PlayingGame}
	events := []Event{EventClientAck, EventJoinRoom, EventGameStart}

	allowed := map[State]map[Event]State{
		AwaitingClientAck: {EventClientAck: BrowsingRooms},
		BrowsingRooms:     {EventJoinRoom: JoinedAndWaiting},
		JoinedAndWaiting:  {EventGameStart: PlayingGame},
	}

	for _, s := range states {
		for _, e := range events {
			t.Run(s.String()+"/"+e.String(), func(t *testing.T) {
				next, err := Transition(s, e)

				want, ok := allowed[s][e]
				if ok {
					if err != nil {
						t.Fatalf("Expected transition to %s, got error %v", want, err)
					}
					if next != want {
						t.Errorf("Expected %s, got %s", want, next)
					}
					return
				}

				if !errors.Is(err, ErrIllegalTransition) {
					t.Errorf("Expected ErrIllegalTransition, got %v", err)
				}
				if next != s {
					t.Errorf("Rejected transition changed state from %s to %s", s, next)
				}
			})
		}
	}
}

func TestStateStrings(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{AwaitingClientAck, "AWAITING_CLIENT_ACK"},
		{BrowsingRooms, "BROWSING_ROOMS"},
		{JoinedAndWaiting, "JOINED_AND_WAITING"},
		{PlayingGame, "PLAYING_GAME"},
		{State(9), "State(9)"},
	}

	for _, tt := range tests {
		if tt.state.String() != tt.expected {
			t.Errorf("State(%d).String() = %q, expected %q", uint8(tt.state), tt.state.String(), tt.expected)
		}
	}
}
