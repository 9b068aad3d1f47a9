package player

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a registered player
type State uint8

// Player lifecycle states, in the order a player moves through them
const (
	AwaitingClientAck State = iota // registered, waiting for the client to confirm
	BrowsingRooms                  // client asked for the rooms list
	JoinedAndWaiting               // joined a room, waiting for opponents
	PlayingGame                    // in a running game
)

// Event drives a lifecycle transition
type Event uint8

// Lifecycle events
const (
	EventClientAck Event = iota + 1
	EventJoinRoom
	EventGameStart
)

// ErrIllegalTransition is returned when an event does not apply to the current state
var ErrIllegalTransition = errors.New("illegal state transition")

type transitionKey struct {
	from  State
	event Event
}

var transitions = map[transitionKey]State{
	{AwaitingClientAck, EventClientAck}: BrowsingRooms,
	{BrowsingRooms, EventJoinRoom}:      JoinedAndWaiting,
	{JoinedAndWaiting, EventGameStart}:  PlayingGame,
}

// Transition returns the state reached from s on e
func Transition(s State, e Event) (State, error) {
	next, ok := transitions[transitionKey{s, e}]
	if !ok {
		return s, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, e, s)
	}
	return next, nil
}

func (s State) String() string {
	switch s {
	case AwaitingClientAck:
		return "AWAITING_CLIENT_ACK"
	case BrowsingRooms:
		return "BROWSING_ROOMS"
	case JoinedAndWaiting:
		return "JOINED_AND_WAITING"
	case PlayingGame:
		return "PLAYING_GAME"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

func (e Event) String() string {
	switch e {
	case EventClientAck:
		return "client_ack"
	case EventJoinRoom:
		return "join_room"
	case EventGameStart:
		return "game_start"
	default:
		return fmt.Sprintf("Event(%d)", uint8(e))
	}
}
