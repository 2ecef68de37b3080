// Package bridge connects a Twilio media stream to a Deepgram voice agent.
//
// Each media websocket becomes one Session. A session waits for the stream's
// start message, opens the agent connection with per-call settings, then
// runs its tasks in an errgroup until the stream stops, either connection
// fails, the turn timeout expires or the call is hung up. Whatever ends first
// cancels the rest and both connections are closed.
package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/teslashibe/go-callbridge/pkg/agent"
	"github.com/teslashibe/go-callbridge/pkg/twilio"
)

// Conn is the telephony side of a call. *websocket.Conn from either
// gorilla or the fiber contrib package satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// AgentConn is the agent side of a call. *agent.Client satisfies it.
type AgentConn interface {
	SendAudio(data []byte) error
	ReadEvent() (agent.Event, error)
	Close() error
}

// DialFunc opens an agent connection and sends settings.
type DialFunc func(ctx context.Context, settings agent.Settings) (AgentConn, error)

// PrewarmFunc primes the language-model session for a call.
type PrewarmFunc func(ctx context.Context, sessionKey string) error

// VoiceSource supplies the speak model for new calls.
type VoiceSource interface {
	Current() string
}

// AgentDialer returns a DialFunc backed by agent.Dial.
func AgentDialer(cfg agent.Config) DialFunc {
	return func(ctx context.Context, settings agent.Settings) (AgentConn, error) {
		c, err := agent.Dial(ctx, cfg, settings)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// CompletionsPath is appended to the public URL to form the agent's
// completion callback.
const CompletionsPath = "/v1/chat/completions"

// MediaPath is the media stream websocket route.
const MediaPath = "/twilio/media"

// Config holds bridge settings.
type Config struct {
	Profile agent.Profile
	Dial    DialFunc

	// Voices supplies the speak model; nil uses DefaultVoice.
	Voices       VoiceSource
	DefaultVoice string

	// Secret is the bearer token the agent presents on completion callbacks.
	Secret string

	// PublicURL overrides the base URL derived from request headers.
	PublicURL string

	// SessionKey tags gateway requests made on behalf of calls.
	SessionKey string
	Prewarm    PrewarmFunc

	ChunkBytes     int
	FlushInterval  time.Duration
	FirstAudioWarn time.Duration
	TurnTimeout    time.Duration

	// Validator checks webhook signatures; nil skips validation.
	Validator *twilio.Validator

	// OwnerPhone, when set, is the only caller whose calls are answered.
	OwnerPhone string

	Observer Observer
	Logger   *slog.Logger
}

// DefaultConfig returns bridge defaults. Dial must still be set.
func DefaultConfig() Config {
	return Config{
		Profile:        agent.DefaultProfile(),
		DefaultVoice:   "aura-2-thalia-en",
		ChunkBytes:     DefaultChunkBytes,
		FlushInterval:  10 * time.Millisecond,
		FirstAudioWarn: 5 * time.Second,
		TurnTimeout:    30 * time.Second,
	}
}

// Option configures a Bridge.
type Option func(*Config)

// WithDialer sets how agent connections are opened.
func WithDialer(d DialFunc) Option {
	return func(c *Config) { c.Dial = d }
}

// WithProfile sets the agent session profile.
func WithProfile(p agent.Profile) Option {
	return func(c *Config) { c.Profile = p }
}

// WithVoices sets the voice source and the model used when it is nil.
func WithVoices(v VoiceSource, fallback string) Option {
	return func(c *Config) {
		c.Voices = v
		if fallback != "" {
			c.DefaultVoice = fallback
		}
	}
}

// WithSecret sets the completion callback secret.
func WithSecret(secret string) Option {
	return func(c *Config) { c.Secret = secret }
}

// WithPublicURL fixes the externally reachable base URL.
func WithPublicURL(u string) Option {
	return func(c *Config) { c.PublicURL = u }
}

// WithSessionKey sets the gateway session key and an optional prewarm hook.
func WithSessionKey(key string, prewarm PrewarmFunc) Option {
	return func(c *Config) {
		c.SessionKey = key
		c.Prewarm = prewarm
	}
}

// WithChunking sets the chunk size and flush cadence for caller audio.
func WithChunking(bytes int, interval time.Duration) Option {
	return func(c *Config) {
		if bytes > 0 {
			c.ChunkBytes = bytes
		}
		if interval > 0 {
			c.FlushInterval = interval
		}
	}
}

// WithTurnTimeouts sets the first-audio warning and the hard turn timeout.
func WithTurnTimeouts(warn, hard time.Duration) Option {
	return func(c *Config) {
		c.FirstAudioWarn = warn
		c.TurnTimeout = hard
	}
}

// WithSignatureValidation enables webhook signature checks.
func WithSignatureValidation(authToken string) Option {
	return func(c *Config) { c.Validator = twilio.NewValidator(authToken) }
}

// WithOwnerPhone restricts inbound calls to one number.
func WithOwnerPhone(phone string) Option {
	return func(c *Config) { c.OwnerPhone = phone }
}

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(c *Config) { c.Observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Bridge accepts media streams and runs a Session for each.
type Bridge struct {
	cfg      Config
	registry *Registry
	logger   *slog.Logger
}

// New creates a Bridge.
func New(opts ...Option) (*Bridge, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Dial == nil {
		return nil, ErrMissingDialer
	}
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = DefaultChunkBytes
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Millisecond
	}
	if cfg.Observer == nil {
		cfg.Observer = Observers(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		cfg:      cfg,
		registry: NewRegistry(),
		logger:   logger.With("component", "bridge"),
	}, nil
}

// Registry returns the live session registry.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

// Serve runs one call over conn until it ends. host is the Host header of
// the websocket request, used when no public URL is configured.
func (b *Bridge) Serve(ctx context.Context, conn Conn, host string) error {
	s := newSession(b, conn, host)
	b.registry.add(s)
	defer b.registry.remove(s)
	return s.Run(ctx)
}

// Shutdown hangs up every live call.
func (b *Bridge) Shutdown() int {
	return b.registry.HangupAll()
}

func (b *Bridge) voice() string {
	if b.cfg.Voices != nil {
		if v := b.cfg.Voices.Current(); v != "" {
			return v
		}
	}
	return b.cfg.DefaultVoice
}

func (b *Bridge) callbackBase(host string) string {
	if b.cfg.PublicURL != "" {
		return b.cfg.PublicURL
	}
	if host == "" {
		host = "localhost:8000"
	}
	return "https://" + host
}
