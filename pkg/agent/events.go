package agent

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
)

// Event is one message received from the agent. The concrete types below
// are the complete set; callers switch on them.
type Event interface {
	EventType() string
}

// Welcome is sent once the connection is accepted.
type Welcome struct {
	RequestID string `json:"request_id"`
}

// SettingsApplied acknowledges the session configuration.
type SettingsApplied struct{}

// UserStartedSpeaking means the caller began talking. During agent playback
// it is a barge-in.
type UserStartedSpeaking struct{}

// AgentThinking means the agent has the caller's turn and is generating a reply.
type AgentThinking struct {
	Content string `json:"content"`
}

// AgentStartedSpeaking precedes the first audio of an agent turn.
type AgentStartedSpeaking struct {
	TotalLatency float64 `json:"total_latency"`
	TTSLatency   float64 `json:"tts_latency"`
	TTTLatency   float64 `json:"ttt_latency"`
}

// AgentAudioDone follows the last audio frame of an agent turn.
type AgentAudioDone struct{}

// ConversationText is a transcript line for either party.
type ConversationText struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Warning is a non-fatal notice from the agent.
type Warning struct {
	Description string `json:"description"`
	Code        string `json:"code"`
}

// ErrorEvent reports a failure on the agent side.
type ErrorEvent struct {
	Description string `json:"description"`
	Code        string `json:"code"`
}

// Audio is a binary frame of synthesized speech in the output format.
type Audio struct {
	Data []byte
}

// Unknown is any JSON message with an unrecognized type. It is logged and
// otherwise ignored.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (Welcome) EventType() string              { return "Welcome" }
func (SettingsApplied) EventType() string      { return "SettingsApplied" }
func (UserStartedSpeaking) EventType() string  { return "UserStartedSpeaking" }
func (AgentThinking) EventType() string        { return "AgentThinking" }
func (AgentStartedSpeaking) EventType() string { return "AgentStartedSpeaking" }
func (AgentAudioDone) EventType() string       { return "AgentAudioDone" }
func (ConversationText) EventType() string     { return "ConversationText" }
func (Warning) EventType() string              { return "Warning" }
func (ErrorEvent) EventType() string           { return "Error" }
func (Audio) EventType() string                { return "Audio" }
func (u Unknown) EventType() string            { return u.Type }

// Error implements the error interface so an ErrorEvent can end a session.
func (e ErrorEvent) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("agent: error [%s]: %s", e.Code, e.Description)
	}
	return "agent: error: " + e.Description
}

// Decode turns one websocket message into an Event. Malformed JSON yields
// an error wrapping ErrMalformedEvent.
func Decode(messageType int, data []byte) (Event, error) {
	if messageType == websocket.BinaryMessage {
		return Audio{Data: data}, nil
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var ev Event
	switch head.Type {
	case "Welcome":
		ev = &Welcome{}
	case "SettingsApplied":
		return SettingsApplied{}, nil
	case "UserStartedSpeaking":
		return UserStartedSpeaking{}, nil
	case "AgentThinking":
		ev = &AgentThinking{}
	case "AgentStartedSpeaking":
		ev = &AgentStartedSpeaking{}
	case "AgentAudioDone":
		return AgentAudioDone{}, nil
	case "ConversationText":
		ev = &ConversationText{}
	case "Warning":
		ev = &Warning{}
	case "Error":
		ev = &ErrorEvent{}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	default:
		return Unknown{Type: head.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, head.Type, err)
	}

	// Hand out values so callers can switch on the plain types.
	switch e := ev.(type) {
	case *Welcome:
		return *e, nil
	case *AgentThinking:
		return *e, nil
	case *AgentStartedSpeaking:
		return *e, nil
	case *ConversationText:
		return *e, nil
	case *Warning:
		return *e, nil
	case *ErrorEvent:
		return *e, nil
	}
	return ev, nil
}
