// Package config loads callbridge configuration.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file, then environment variables (a .env file is read first and never
// overrides variables already present in the process environment).
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration. It is built once at startup and
// passed by value or pointer to constructors; nothing mutates it afterwards.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Deepgram DeepgramConfig `yaml:"deepgram"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Twilio   TwilioConfig   `yaml:"twilio"`
	Control  ControlConfig  `yaml:"control"`
	Persona  PersonaConfig  `yaml:"persona"`
	Voice    VoiceConfig    `yaml:"voice"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Log      LogConfig      `yaml:"log"`

	// Path is the YAML file the config was read from, if any.
	Path string `yaml:"-"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// PublicURL is the externally reachable base URL (https://example.com).
	// When empty it is derived from the Host header of each request.
	PublicURL string `yaml:"public_url"`

	Debug bool `yaml:"debug"`
}

// DeepgramConfig describes the speech agent session.
type DeepgramConfig struct {
	APIKey        string `yaml:"api_key"`
	AgentURL      string `yaml:"agent_url"`
	Language      string `yaml:"language"`
	ListenModel   string `yaml:"listen_model"`
	ThinkProvider string `yaml:"think_provider"`
	ThinkModel    string `yaml:"think_model"`
	Prompt        string `yaml:"prompt"`
	Greeting      string `yaml:"greeting"`

	// TTSModel is the speak model used when no voice preference is stored.
	TTSModel string `yaml:"tts_model"`
}

// GatewayConfig points at the local language-model gateway.
type GatewayConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
	Prewarm bool          `yaml:"prewarm"`
}

// ProxyConfig holds the shared secret the agent presents on completion callbacks.
type ProxyConfig struct {
	Secret string `yaml:"secret"`
}

// TwilioConfig controls inbound webhook handling.
type TwilioConfig struct {
	AuthToken          string `yaml:"auth_token"`
	ValidateSignatures bool   `yaml:"validate_signatures"`

	// OwnerPhone restricts inbound calls to one caller. Empty accepts everyone.
	OwnerPhone string `yaml:"owner_phone"`
}

// ControlConfig protects the local control endpoints.
type ControlConfig struct {
	Token         string `yaml:"token"`
	LocalhostOnly bool   `yaml:"localhost_only"`
}

// PersonaConfig locates the shared persona files injected into completions.
type PersonaConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Workspace string `yaml:"workspace"`
	MaxChars  int    `yaml:"max_chars"`
}

// VoiceConfig locates the persisted voice preference.
type VoiceConfig struct {
	PreferenceFile string `yaml:"preference_file"`
}

// BridgeConfig tunes per-call media handling.
type BridgeConfig struct {
	ChunkBytes     int           `yaml:"chunk_bytes"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	FirstAudioWarn time.Duration `yaml:"first_audio_warn"`
	TurnTimeout    time.Duration `yaml:"turn_timeout"`
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Deepgram: DeepgramConfig{
			AgentURL:      "wss://agent.deepgram.com/v1/agent/converse",
			Language:      "en",
			ListenModel:   "flux-general-en",
			ThinkProvider: "open_ai",
			ThinkModel:    "gpt-4o-mini",
			Prompt:        "Phone-call mode. Respond in short plain sentences suitable for speech. No markdown, bullet lists, or emojis.",
			Greeting:      "Hey! What's up?",
			TTSModel:      "aura-2-thalia-en",
		},
		Gateway: GatewayConfig{
			URL:     "http://127.0.0.1:18789",
			Model:   "openclaw/voice",
			Timeout: 45 * time.Second,
			Prewarm: true,
		},
		Twilio: TwilioConfig{
			ValidateSignatures: true,
		},
		Control: ControlConfig{
			LocalhostOnly: true,
		},
		Persona: PersonaConfig{
			Enabled:   true,
			Workspace: filepath.Join(home, ".openclaw", "workspace"),
			MaxChars:  12000,
		},
		Voice: VoiceConfig{
			PreferenceFile: filepath.Join(home, ".callbridge", "voice.txt"),
		},
		Bridge: BridgeConfig{
			ChunkBytes:     3200,
			FlushInterval:  10 * time.Millisecond,
			FirstAudioWarn: 5 * time.Second,
			TurnTimeout:    30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment. Missing .env files are ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.Path = path
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if cfg.Proxy.Secret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("config: generate proxy secret: %w", err)
		}
		cfg.Proxy.Secret = secret
	}

	cfg.Server.PublicURL = strings.TrimRight(strings.TrimSpace(cfg.Server.PublicURL), "/")
	cfg.Gateway.URL = strings.TrimRight(cfg.Gateway.URL, "/")
	cfg.Persona.Workspace = expandHome(cfg.Persona.Workspace)
	cfg.Voice.PreferenceFile = expandHome(cfg.Voice.PreferenceFile)

	return &cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("HOST", &c.Server.Host)
	e.int("PORT", &c.Server.Port)
	e.str("PUBLIC_URL", &c.Server.PublicURL)
	e.bool("DEBUG", &c.Server.Debug)

	e.str("DEEPGRAM_API_KEY", &c.Deepgram.APIKey)
	e.str("DEEPGRAM_AGENT_URL", &c.Deepgram.AgentURL)
	e.str("DEEPGRAM_TTS_MODEL", &c.Deepgram.TTSModel)
	e.str("AGENT_GREETING", &c.Deepgram.Greeting)

	e.str("OPENCLAW_GATEWAY_URL", &c.Gateway.URL)
	e.str("OPENCLAW_GATEWAY_TOKEN", &c.Gateway.Token)
	e.str("OPENCLAW_VOICE_MODEL", &c.Gateway.Model)
	e.duration("OPENCLAW_TIMEOUT", &c.Gateway.Timeout)
	e.bool("OPENCLAW_PREWARM", &c.Gateway.Prewarm)

	e.str("PROXY_SECRET", &c.Proxy.Secret)

	e.str("TWILIO_AUTH_TOKEN", &c.Twilio.AuthToken)
	e.bool("TWILIO_VALIDATE_SIGNATURES", &c.Twilio.ValidateSignatures)
	e.str("OWNER_PHONE", &c.Twilio.OwnerPhone)

	e.str("CONTROL_API_TOKEN", &c.Control.Token)
	e.bool("CONTROL_API_LOCALHOST_ONLY", &c.Control.LocalhostOnly)

	e.bool("VOICE_SHARED_PERSONA_ENABLED", &c.Persona.Enabled)
	e.str("OPENCLAW_MAIN_WORKSPACE", &c.Persona.Workspace)
	e.int("VOICE_PERSONA_MAX_CHARS", &c.Persona.MaxChars)

	e.str("VOICE_PREFERENCE_FILE", &c.Voice.PreferenceFile)

	e.int("BRIDGE_CHUNK_BYTES", &c.Bridge.ChunkBytes)
	e.duration("BRIDGE_FLUSH_INTERVAL", &c.Bridge.FlushInterval)
	e.duration("BRIDGE_FIRST_AUDIO_WARN", &c.Bridge.FirstAudioWarn)
	e.duration("BRIDGE_TURN_TIMEOUT", &c.Bridge.TurnTimeout)

	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("LOG_FORMAT", &c.Log.Format)

	return errors.Join(e.errs...)
}

// Validate reports every missing or inconsistent setting.
func (c *Config) Validate() error {
	var errs []error

	if c.Deepgram.APIKey == "" {
		errs = append(errs, ErrMissingDeepgramKey)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: port %d out of range", c.Server.Port))
	}
	if u, err := url.Parse(c.Gateway.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("config: invalid gateway url %q", c.Gateway.URL))
	}
	if c.Server.PublicURL != "" {
		if u, err := url.Parse(c.Server.PublicURL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("config: invalid public url %q", c.Server.PublicURL))
		}
	}
	if c.Twilio.ValidateSignatures && c.Twilio.AuthToken == "" {
		errs = append(errs, ErrMissingTwilioToken)
	}
	if c.Bridge.ChunkBytes <= 0 {
		errs = append(errs, fmt.Errorf("config: chunk bytes must be positive, got %d", c.Bridge.ChunkBytes))
	}
	if c.Bridge.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("config: flush interval must be positive"))
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("config: gateway timeout must be positive"))
	}
	if c.Persona.MaxChars <= 0 {
		errs = append(errs, fmt.Errorf("config: persona max chars must be positive"))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SessionKey is the gateway conversation key shared by every owner call.
func (c *Config) SessionKey() string {
	return "agent:voice:owner:" + c.Twilio.OwnerPhone
}

// Sentinel errors for configuration validation.
var (
	ErrMissingDeepgramKey = errors.New("config: DEEPGRAM_API_KEY is required")
	ErrMissingTwilioToken = errors.New("config: TWILIO_AUTH_TOKEN is required when signature validation is enabled")
)

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		e.errs = append(e.errs, fmt.Errorf("config: %s: invalid positive integer %q", key, v))
		return
	}
	*dst = n
}

func (e *envReader) bool(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		e.errs = append(e.errs, fmt.Errorf("config: %s: invalid boolean %q", key, v))
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Bare numbers are seconds.
		n, nerr := strconv.Atoi(v)
		if nerr != nil {
			e.errs = append(e.errs, fmt.Errorf("config: %s: invalid duration %q", key, v))
			return
		}
		d = time.Duration(n) * time.Second
	}
	*dst = d
}

func randomSecret() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
