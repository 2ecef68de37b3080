package bridge

import (
	"time"

	"github.com/teslashibe/go-callbridge/pkg/callstate"
)

// Direction labels relayed audio.
type Direction string

const (
	// Inbound is caller audio sent to the agent.
	Inbound Direction = "inbound"
	// Outbound is agent audio sent to the caller.
	Outbound Direction = "outbound"
)

// CallInfo identifies a call to observers.
type CallInfo struct {
	ID        string    `json:"id"`
	StreamSID string    `json:"stream_sid"`
	CallSID   string    `json:"call_sid"`
	Voice     string    `json:"voice"`
	StartedAt time.Time `json:"started_at"`
}

// Observer receives call lifecycle notifications. Methods are called from
// session goroutines and must not block.
type Observer interface {
	CallStarted(info CallInfo)
	CallEnded(info CallInfo, err error, elapsed time.Duration)

	// Transition reports a state change and how long the call spent in the
	// state it left.
	Transition(info CallInfo, step callstate.Step, inState time.Duration)

	Transcript(info CallInfo, role, content string)
	AudioRelayed(dir Direction, bytes int)
}

// Observers fans notifications out to several observers.
type Observers []Observer

func (o Observers) CallStarted(info CallInfo) {
	for _, ob := range o {
		ob.CallStarted(info)
	}
}

func (o Observers) CallEnded(info CallInfo, err error, elapsed time.Duration) {
	for _, ob := range o {
		ob.CallEnded(info, err, elapsed)
	}
}

func (o Observers) Transition(info CallInfo, step callstate.Step, inState time.Duration) {
	for _, ob := range o {
		ob.Transition(info, step, inState)
	}
}

func (o Observers) Transcript(info CallInfo, role, content string) {
	for _, ob := range o {
		ob.Transcript(info, role, content)
	}
}

func (o Observers) AudioRelayed(dir Direction, bytes int) {
	for _, ob := range o {
		ob.AudioRelayed(dir, bytes)
	}
}
