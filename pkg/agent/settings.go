package agent

// Settings is the session configuration sent once, as the first message,
// on every agent connection.
type Settings struct {
	Type  string        `json:"type"`
	Audio AudioSettings `json:"audio"`
	Agent AgentSettings `json:"agent"`
}

// AudioSettings describes the audio formats in both directions.
type AudioSettings struct {
	Input  AudioFormat `json:"input"`
	Output AudioFormat `json:"output"`
}

// AudioFormat is an audio encoding and rate.
type AudioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Container  string `json:"container,omitempty"`
}

// AgentSettings configures listening, thinking and speaking.
type AgentSettings struct {
	Language string `json:"language"`
	Listen   Listen `json:"listen"`
	Think    Think  `json:"think"`
	Greeting string `json:"greeting,omitempty"`
	Speak    Speak  `json:"speak"`
}

// Provider names a backing service and model.
type Provider struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

// Listen configures speech recognition.
type Listen struct {
	Provider Provider `json:"provider"`
}

// Think configures the language model the agent calls each turn.
type Think struct {
	Provider Provider  `json:"provider"`
	Endpoint *Endpoint `json:"endpoint,omitempty"`
	Prompt   string    `json:"prompt,omitempty"`
}

// Endpoint points the agent at a custom completion URL.
type Endpoint struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Speak configures speech synthesis.
type Speak struct {
	Provider Provider `json:"provider"`
}

// Telephony audio: 8 kHz mu-law, no container.
const (
	Encoding   = "mulaw"
	SampleRate = 8000
)

// Profile holds the per-deployment parts of the session configuration.
type Profile struct {
	Language      string
	ListenModel   string
	ThinkProvider string
	ThinkModel    string
	Prompt        string
	Greeting      string
}

// DefaultProfile returns the phone-call profile.
func DefaultProfile() Profile {
	return Profile{
		Language:      "en",
		ListenModel:   "flux-general-en",
		ThinkProvider: "open_ai",
		ThinkModel:    "gpt-4o-mini",
		Prompt:        "Phone-call mode. Respond in short plain sentences suitable for speech. No markdown, bullet lists, or emojis.",
		Greeting:      "Hey! What's up?",
	}
}

// Settings builds the session configuration for one call. completionURL is
// where the agent sends each turn, secret the bearer token it must present
// there, and voice the speak model.
func (p Profile) Settings(completionURL, secret, voice string) Settings {
	endpoint := &Endpoint{URL: completionURL}
	if secret != "" {
		endpoint.Headers = map[string]string{"authorization": "Bearer " + secret}
	}

	return Settings{
		Type: "Settings",
		Audio: AudioSettings{
			Input:  AudioFormat{Encoding: Encoding, SampleRate: SampleRate},
			Output: AudioFormat{Encoding: Encoding, SampleRate: SampleRate, Container: "none"},
		},
		Agent: AgentSettings{
			Language: p.Language,
			Listen: Listen{
				Provider: Provider{Type: "deepgram", Model: p.ListenModel},
			},
			Think: Think{
				Provider: Provider{Type: p.ThinkProvider, Model: p.ThinkModel},
				Endpoint: endpoint,
				Prompt:   p.Prompt,
			},
			Greeting: p.Greeting,
			Speak: Speak{
				Provider: Provider{Type: "deepgram", Model: voice},
			},
		},
	}
}
