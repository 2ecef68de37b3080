// Package twilio holds the Twilio pieces the bridge speaks: the Media Streams
// websocket protocol, TwiML responses and webhook signature validation.
package twilio

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Media stream event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
	EventClear     = "clear"
)

// Message is one inbound media stream message. Only the field matching
// Event is set.
type Message struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	StreamSID      string `json:"streamSid,omitempty"`
	Protocol       string `json:"protocol,omitempty"`
	Version        string `json:"version,omitempty"`

	Start *Start `json:"start,omitempty"`
	Media *Media `json:"media,omitempty"`
	Stop  *Stop  `json:"stop,omitempty"`
	Mark  *Mark  `json:"mark,omitempty"`
	DTMF  *DTMF  `json:"dtmf,omitempty"`
}

// Start describes the stream that just opened.
type Start struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaFormat is the stream's audio format. For phone calls it is always
// audio/x-mulaw at 8000 Hz, mono.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// Media carries one base64 audio frame.
type Media struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// Stop ends the stream.
type Stop struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// Mark echoes a mark previously sent to the stream.
type Mark struct {
	Name string `json:"name"`
}

// DTMF is a keypress on the caller's phone.
type DTMF struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

// Decode parses one inbound text message.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Event == "" {
		return Message{}, fmt.Errorf("%w: missing event", ErrMalformedMessage)
	}
	if msg.Event == EventStart && msg.Start == nil {
		return Message{}, fmt.Errorf("%w: start without metadata", ErrMalformedMessage)
	}
	if msg.Event == EventStart && msg.StreamSID == "" {
		msg.StreamSID = msg.Start.StreamSID
	}
	return msg, nil
}

// Audio returns the decoded payload of a media message.
func (m Message) Audio() ([]byte, error) {
	if m.Media == nil || m.Media.Payload == "" {
		return nil, nil
	}
	audio, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedMessage, err)
	}
	return audio, nil
}

// Outbound is a message sent to the media stream.
type Outbound struct {
	Event     string         `json:"event"`
	StreamSID string         `json:"streamSid"`
	Media     *OutboundMedia `json:"media,omitempty"`
	Mark      *Mark          `json:"mark,omitempty"`
}

// OutboundMedia carries base64 audio for playback.
type OutboundMedia struct {
	Payload string `json:"payload"`
}

// MediaMessage wraps agent audio for playback on the call.
func MediaMessage(streamSID string, audio []byte) Outbound {
	return Outbound{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &OutboundMedia{Payload: base64.StdEncoding.EncodeToString(audio)},
	}
}

// ClearMessage drops any audio Twilio has buffered but not yet played.
func ClearMessage(streamSID string) Outbound {
	return Outbound{Event: EventClear, StreamSID: streamSID}
}

// MarkMessage asks Twilio to echo name once playback reaches this point.
func MarkMessage(streamSID, name string) Outbound {
	return Outbound{Event: EventMark, StreamSID: streamSID, Mark: &Mark{Name: name}}
}
