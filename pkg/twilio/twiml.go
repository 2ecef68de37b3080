package twilio

import (
	"strings"

	"github.com/twilio/twilio-go/twiml"
)

// ContentType is the media type of TwiML responses.
const ContentType = "application/xml"

// ConnectStream answers a call by connecting it to a bidirectional media
// stream at streamURL.
func ConnectStream(streamURL string) (string, error) {
	return twiml.Voice([]twiml.Element{
		twiml.VoiceConnect{
			InnerElements: []twiml.Element{
				twiml.VoiceStream{Url: streamURL},
			},
		},
	})
}

// Reject declines a call without answering it.
func Reject() (string, error) {
	return twiml.Voice([]twiml.Element{twiml.VoiceReject{}})
}

// StreamURL returns the media websocket URL for a public base URL such as
// "https://calls.example.com". The scheme is always wss.
func StreamURL(publicURL, path string) string {
	host := strings.TrimSuffix(publicURL, "/")
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	return "wss://" + host + path
}
