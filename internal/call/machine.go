// Package call drives the on-demand audio/video call between the two
// endpoints of a site. A single state machine owns the call state; every
// external event (user action, rendezvous envelope, media failure) is
// translated into a machine input and applied through one entry point.
package call

import "sync"

// State is the call state observed by the UI layer.
type State int

const (
	StateIdle State = iota
	StateOutgoing
	StateIncoming
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateOutgoing:
		return "outgoing"
	case StateIncoming:
		return "incoming"
	case StateConnected:
		return "connected"
	default:
		return "idle"
	}
}

// Input is an event fed into the machine.
type Input int

const (
	InputPlaceCall    Input = iota // local side places a call
	InputCancel                    // local side cancels its outgoing call
	InputAccept                    // local side accepts the incoming call
	InputDecline                   // local side declines the incoming call
	InputHangup                    // local side ends the connected call
	InputRemoteRing                // remote call signal received
	InputRemoteAnswer              // remote side accepted our call
	InputRemoteReject              // remote side declined our call
	InputRemoteHangup              // remote side ended or abandoned the call
	InputMediaFailed               // local media acquisition failed
)

func (i Input) String() string {
	switch i {
	case InputPlaceCall:
		return "place-call"
	case InputCancel:
		return "cancel"
	case InputAccept:
		return "accept"
	case InputDecline:
		return "decline"
	case InputHangup:
		return "hangup"
	case InputRemoteRing:
		return "remote-ring"
	case InputRemoteAnswer:
		return "remote-answer"
	case InputRemoteReject:
		return "remote-reject"
	case InputRemoteHangup:
		return "remote-hangup"
	case InputMediaFailed:
		return "media-failed"
	default:
		return "unknown"
	}
}

// transitions is the authoritative table. An input absent from the current
// state's row leaves the state unchanged; no event sequence can reach a
// state outside the four listed here.
var transitions = map[State]map[Input]State{
	StateIdle: {
		InputPlaceCall:  StateOutgoing,
		InputRemoteRing: StateIncoming,
	},
	StateOutgoing: {
		InputRemoteAnswer: StateConnected,
		InputCancel:       StateIdle,
		InputRemoteReject: StateIdle,
		InputRemoteHangup: StateIdle,
		InputMediaFailed:  StateIdle,
	},
	StateIncoming: {
		InputAccept:       StateConnected,
		InputDecline:      StateIdle,
		InputRemoteHangup: StateIdle,
		InputMediaFailed:  StateIdle,
	},
	StateConnected: {
		InputHangup:       StateIdle,
		InputRemoteHangup: StateIdle,
		InputMediaFailed:  StateIdle,
	},
}

// Machine is the authoritative call state holder. Apply is the only mutation
// entry point.
type Machine struct {
	mu       sync.Mutex
	state    State
	onChange func(State)
}

// NewMachine creates a machine in StateIdle. onChange, if non-nil, fires
// after every applied transition (not for ignored inputs).
func NewMachine(onChange func(State)) *Machine {
	return &Machine{state: StateIdle, onChange: onChange}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Apply feeds one input to the machine. It returns the resulting state and
// whether the input caused a transition; inputs invalid for the current
// state are ignored, not errors.
func (m *Machine) Apply(in Input) (State, bool) {
	m.mu.Lock()
	next, ok := transitions[m.state][in]
	if !ok {
		cur := m.state
		m.mu.Unlock()
		return cur, false
	}
	m.state = next
	cb := m.onChange
	m.mu.Unlock()

	if cb != nil {
		cb(next)
	}
	return next, true
}
