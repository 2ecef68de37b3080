// Package callstate tracks whose turn it is on a call.
//
// A Machine moves between Idle, Listening, Thinking and Speaking in response
// to Signals. A StartOfTurn while Speaking is a barge-in: the caller talked
// over the agent, and the returned Step tells the bridge to clear playback.
package callstate

import (
	"errors"
	"fmt"
	"sync"
)

// State is a call's turn-taking state.
type State int

const (
	Idle State = iota
	Listening
	Thinking
	Speaking
	Terminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Thinking:
		return "thinking"
	case Speaking:
		return "speaking"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Signal is an input to the state machine.
type Signal int

const (
	// CallStart fires once the media stream has started.
	CallStart Signal = iota
	// EndOfTurn fires when the caller finished speaking and the agent is responding.
	EndOfTurn
	// AgentAudio fires for every audio frame produced by the agent.
	AgentAudio
	// TurnComplete fires when the agent finished sending audio for its turn.
	TurnComplete
	// StartOfTurn fires when the caller starts speaking.
	StartOfTurn
	// Terminate fires on hangup, stop or a fatal error.
	Terminate
)

// String returns the signal name.
func (s Signal) String() string {
	switch s {
	case CallStart:
		return "call_start"
	case EndOfTurn:
		return "end_of_turn"
	case AgentAudio:
		return "agent_audio"
	case TurnComplete:
		return "turn_complete"
	case StartOfTurn:
		return "start_of_turn"
	case Terminate:
		return "terminate"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// ErrInvalidTransition is returned when a signal does not apply to the
// current state. The state is left unchanged.
var ErrInvalidTransition = errors.New("callstate: invalid transition")

// TransitionError carries the rejected (state, signal) pair.
type TransitionError struct {
	From   State
	Signal Signal
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("callstate: invalid transition: %s in %s", e.Signal, e.From)
}

// Is makes errors.Is(err, ErrInvalidTransition) true.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Step describes one accepted signal.
type Step struct {
	From   State
	To     State
	Signal Signal

	// BargeIn is set when the caller interrupted agent playback.
	BargeIn bool
}

// Changed reports whether the step moved to a different state.
func (s Step) Changed() bool {
	return s.From != s.To
}

type edge struct {
	from   State
	signal Signal
}

var transitions = map[edge]State{
	{Idle, CallStart}:        Listening,
	{Listening, EndOfTurn}:   Thinking,
	{Thinking, AgentAudio}:   Speaking,
	{Speaking, AgentAudio}:   Speaking,
	{Speaking, TurnComplete}: Listening,
	{Speaking, StartOfTurn}:  Listening,
}

// Observer is told about every accepted step.
type Observer func(Step)

// Machine is the turn state of one call. Its methods are safe for
// concurrent use, but a call should drive it from a single goroutine so
// that signals are applied in arrival order.
type Machine struct {
	mu       sync.Mutex
	state    State
	observer Observer
}

// New creates a Machine in the Idle state.
func New(observer Observer) *Machine {
	return &Machine{state: Idle, observer: observer}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire applies sig. On an invalid transition it returns a *TransitionError
// and leaves the state unchanged.
func (m *Machine) Fire(sig Signal) (Step, error) {
	m.mu.Lock()
	from := m.state

	var to State
	switch {
	case sig == Terminate && from != Terminated:
		to = Terminated
	default:
		next, ok := transitions[edge{from, sig}]
		if !ok {
			m.mu.Unlock()
			return Step{From: from, To: from, Signal: sig}, &TransitionError{From: from, Signal: sig}
		}
		to = next
	}

	m.state = to
	observer := m.observer
	m.mu.Unlock()

	step := Step{
		From:    from,
		To:      to,
		Signal:  sig,
		BargeIn: sig == StartOfTurn && from == Speaking,
	}
	if observer != nil {
		observer(step)
	}
	return step, nil
}

// Accepts reports whether sig would be accepted in the current state.
func (m *Machine) Accepts(sig Signal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sig == Terminate {
		return m.state != Terminated
	}
	_, ok := transitions[edge{m.state, sig}]
	return ok
}
