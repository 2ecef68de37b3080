package monitor

import (
	"time"

	"github.com/teslashibe/go-callbridge/pkg/bridge"
)

// Event types sent to watchers.
const (
	TypeSnapshot    = "snapshot"
	TypeCallStarted = "call_started"
	TypeCallEnded   = "call_ended"
	TypeState       = "state"
	TypeTranscript  = "transcript"
)

// Event is one JSON message on the feed. Fields not relevant to Type are
// omitted.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`

	Call  *bridge.CallInfo  `json:"call,omitempty"`
	Calls []bridge.CallInfo `json:"calls,omitempty"`

	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Signal  string `json:"signal,omitempty"`
	BargeIn bool   `json:"barge_in,omitempty"`

	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}
