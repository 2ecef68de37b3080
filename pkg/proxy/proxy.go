// Package proxy serves the chat-completion endpoint the speech agent calls
// at the end of each caller turn. Requests are forwarded to the local
// gateway and streamed responses are sanitized for speech on the way back.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-callbridge/internal/httpc"
)

const (
	// CompletionsPath is the route the agent is told to call.
	CompletionsPath = "/v1/chat/completions"

	// SessionKeyHeader carries the gateway conversation key.
	SessionKeyHeader = "X-OpenClaw-Session-Key"

	readBufferSize = 4096
	maxErrorBody   = 64 << 10
)

// SessionKeys resolves the gateway session key for the call in progress.
// An empty key means no call is active.
type SessionKeys interface {
	CurrentKey() string
}

// Recorder receives per-request outcomes. Implemented by the metrics package.
type Recorder interface {
	ObserveProxyRequest(outcome string, stream bool, elapsed time.Duration)
}

// Config holds proxy configuration.
type Config struct {
	// GatewayURL is the gateway base URL, without the completions path.
	GatewayURL string

	// GatewayToken authenticates the proxy to the gateway.
	GatewayToken string

	// Model replaces whatever model the agent asked for.
	Model string

	// Secret is the bearer token the agent must present.
	Secret string

	// Timeout bounds a whole gateway exchange, streaming included.
	Timeout time.Duration

	// Client performs gateway requests. It must not set an overall timeout
	// shorter than Timeout.
	Client *http.Client
	// PrewarmClient performs warm-up requests, which are bounded by
	// Timeout as a whole.
	PrewarmClient *http.Client

	Prompts  *Prompts
	Sessions SessionKeys
	Recorder Recorder
	Logger   *slog.Logger

	// Now is the clock used for the injected time message.
	Now func() time.Time
}

// Option configures the proxy.
type Option func(*Config)

// DefaultConfig returns the default proxy configuration.
func DefaultConfig() Config {
	return Config{
		Model:   "openclaw/voice",
		Timeout: 45 * time.Second,
		Now:     time.Now,
	}
}

// WithGateway sets the gateway base URL and bearer token.
func WithGateway(url, token string) Option {
	return func(c *Config) {
		c.GatewayURL = strings.TrimRight(url, "/")
		c.GatewayToken = token
	}
}

// WithModel sets the model forwarded to the gateway.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithSecret sets the shared secret callers must present.
func WithSecret(secret string) Option {
	return func(c *Config) { c.Secret = secret }
}

// WithTimeout bounds each gateway exchange.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithHTTPClient sets the client used for gateway requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.Client = client }
}

// WithPrompts sets the injected prompt builder.
func WithPrompts(p *Prompts) Option {
	return func(c *Config) { c.Prompts = p }
}

// WithSessions sets the source of the current gateway session key.
func WithSessions(s SessionKeys) Option {
	return func(c *Config) { c.Sessions = s }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Config) { c.Recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Config) { c.Now = now }
}

// Proxy forwards completion requests to the gateway.
type Proxy struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Proxy.
func New(opts ...Option) (*Proxy, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.GatewayURL == "" {
		return nil, ErrMissingGateway
	}
	if cfg.Client == nil {
		cfg.Client = httpc.NewStreamingClient()
	}
	if cfg.PrewarmClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = httpc.DefaultTimeout
		}
		cfg.PrewarmClient = httpc.NewClient(timeout)
	}
	if cfg.Prompts == nil {
		cfg.Prompts = &Prompts{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Proxy{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "proxy"),
	}, nil
}

// RegisterRoutes mounts the completions endpoint.
func (p *Proxy) RegisterRoutes(app fiber.Router) {
	app.Post(CompletionsPath, p.Handle)
}

// Handle serves one completion request.
func (p *Proxy) Handle(c *fiber.Ctx) error {
	started := time.Now()

	if !p.authorized(c.Get(fiber.HeaderAuthorization)) {
		p.logger.Warn("rejected completion request", "error", ErrUnauthorized, "ip", c.IP())
		p.observe("unauthorized", false, started)
		return writeError(c, fiber.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
	}

	body, stream, err := p.rewriteRequest(c.Body())
	if err != nil {
		p.observe("bad_request", false, started)
		return writeError(c, fiber.StatusBadRequest, "invalid_request_error", err.Error())
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), p.cfg.Timeout)
	resp, err := p.send(ctx, p.cfg.Client, body, stream, p.sessionKey())
	if err != nil {
		cancel()
		var up *UpstreamError
		if !errors.As(err, &up) {
			up = &UpstreamError{Cause: err}
		}
		p.logger.Error("gateway request failed", "error", err)
		p.observe("upstream_unavailable", stream, started)
		return writeError(c, up.Status(), up.Type(), "gateway unavailable")
	}

	if !stream {
		defer cancel()
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			p.observe("upstream_unavailable", false, started)
			return writeError(c, fiber.StatusBadGateway, "upstream_unavailable", "gateway response interrupted")
		}
		ct := resp.Header.Get(fiber.HeaderContentType)
		if ct == "" {
			ct = fiber.MIMEApplicationJSON
		}
		c.Set(fiber.HeaderContentType, ct)
		p.observe(outcomeForStatus(resp.StatusCode), false, started)
		return c.Status(resp.StatusCode).Send(data)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		up := &UpstreamError{StatusCode: resp.StatusCode, Body: string(data)}
		p.logger.Warn("gateway rejected streaming request", "error", up)
		p.observe("upstream_error", true, started)
		return writeError(c, up.Status(), up.Type(), up.Body)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("X-Accel-Buffering", "no")
	c.Status(fiber.StatusOK)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer resp.Body.Close()
		outcome := p.relay(resp.Body, w)
		p.observe(outcome, true, started)
	})
	return nil
}

// relay copies the gateway stream to w line by line, sanitizing deltas.
func (p *Proxy) relay(src io.Reader, w *bufio.Writer) string {
	var framer LineFramer
	rw := NewRewriter(p.logger)
	buf := make([]byte, readBufferSize)
	lines := 0

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			for _, line := range framer.Feed(buf[:n]) {
				if _, err := w.Write(rw.Line(line)); err != nil {
					p.logger.Info("caller went away mid-stream", "error", err)
					return "client_gone"
				}
				lines++
			}
			if err := w.Flush(); err != nil {
				p.logger.Info("caller went away mid-stream", "error", err)
				return "client_gone"
			}
		}

		if readErr == nil {
			continue
		}

		if tail := framer.Flush(); len(tail) > 0 {
			_, _ = w.Write(rw.Line(tail))
			lines++
		}
		// Streams that end without [DONE] still get their held-back text.
		if held := rw.Flush(); len(held) > 0 {
			_, _ = w.Write(held)
		}
		_ = w.Flush()

		rewritten, malformed := rw.Stats()
		if errors.Is(readErr, io.EOF) {
			p.logger.Debug("stream complete", "lines", lines, "rewritten", rewritten, "malformed", malformed)
			return "ok"
		}
		p.logger.Warn("gateway stream interrupted", "error", readErr, "lines", lines)
		return "stream_error"
	}
}

// rewriteRequest prepends the injected messages, pins the model and drops
// tool definitions the gateway does not accept.
func (p *Proxy) rewriteRequest(raw []byte) ([]byte, bool, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		return nil, false, fmt.Errorf("%w: expected a JSON object", ErrMalformedRequest)
	}

	var messages []json.RawMessage
	if rawMsgs, ok := body["messages"]; ok {
		if err := json.Unmarshal(rawMsgs, &messages); err != nil {
			return nil, false, fmt.Errorf("%w: messages must be an array", ErrMalformedRequest)
		}
	}

	injected := p.cfg.Prompts.Messages(p.cfg.Now())
	all := make([]any, 0, len(injected)+len(messages))
	for _, m := range injected {
		all = append(all, m)
	}
	for _, m := range messages {
		all = append(all, m)
	}

	var err error
	if body["messages"], err = json.Marshal(all); err != nil {
		return nil, false, err
	}
	if body["model"], err = json.Marshal(p.cfg.Model); err != nil {
		return nil, false, err
	}
	delete(body, "tools")
	delete(body, "tool_choice")

	var stream bool
	if rawStream, ok := body["stream"]; ok {
		_ = json.Unmarshal(rawStream, &stream)
	}

	out, err := json.Marshal(body)
	return out, stream, err
}

// send posts body to the gateway. Any status is returned as a response;
// only transport failures become errors.
func (p *Proxy) send(ctx context.Context, client *http.Client, body []byte, stream bool, sessionKey string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.GatewayURL+CompletionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, &UpstreamError{Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if p.cfg.GatewayToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.GatewayToken)
	}
	if sessionKey != "" {
		req.Header.Set(SessionKeyHeader, sessionKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Cause: err}
	}
	return resp, nil
}

// Prewarm sends a throw-away streaming request carrying the same message
// prefix as real requests so the gateway has the session and its prompt
// cache ready before the caller's first turn. The response is drained and
// discarded.
func (p *Proxy) Prewarm(ctx context.Context, sessionKey string) error {
	msgs := append(p.cfg.Prompts.Prefix(), Message{Role: "user", Content: "warmup"})
	body, err := json.Marshal(map[string]any{
		"model":    p.cfg.Model,
		"stream":   true,
		"messages": msgs,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := p.send(ctx, p.cfg.PrewarmClient, body, true, sessionKey)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return &UpstreamError{Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{StatusCode: resp.StatusCode}
	}
	p.logger.Info("gateway session pre-warmed", "session_key", sessionKey)
	return nil
}

func (p *Proxy) authorized(header string) bool {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(p.cfg.Secret)) == 1
}

func (p *Proxy) sessionKey() string {
	if p.cfg.Sessions == nil {
		return ""
	}
	return p.cfg.Sessions.CurrentKey()
}

func (p *Proxy) observe(outcome string, stream bool, started time.Time) {
	if p.cfg.Recorder != nil {
		p.cfg.Recorder.ObserveProxyRequest(outcome, stream, time.Since(started))
	}
}

func outcomeForStatus(status int) string {
	if status >= 200 && status <= 299 {
		return "ok"
	}
	return "upstream_error"
}

func writeError(c *fiber.Ctx, status int, typ, msg string) error {
	return c.Status(status).JSON(errorBody{Error: errorDetail{Type: typ, Message: msg}})
}
