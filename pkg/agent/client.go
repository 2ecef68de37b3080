// Package agent is a client for the Deepgram Voice Agent API.
//
// A Client owns one websocket to the agent service. Dial sends the session
// Settings before returning; afterwards audio goes out through SendAudio and
// events come back through ReadEvent.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultURL is the Voice Agent converse endpoint.
const DefaultURL = "wss://agent.deepgram.com/v1/agent/converse"

// Config holds connection settings.
type Config struct {
	// URL is the agent websocket endpoint.
	URL string

	// APIKey authenticates with "Authorization: Token <key>".
	APIKey string

	// HandshakeTimeout bounds the websocket handshake.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each write.
	WriteTimeout time.Duration

	// PingInterval is how often a keepalive ping is sent. Zero disables it.
	PingInterval time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns the default connection settings.
func DefaultConfig() Config {
	return Config{
		URL:              DefaultURL,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
	}
}

// Stats holds connection counters.
type Stats struct {
	AudioFramesSent uint64
	AudioBytesSent  uint64
	EventsReceived  uint64
	AudioReceived   uint64
}

// Client is a connected agent session.
type Client struct {
	cfg    Config
	ws     *websocket.Conn
	wsMu   sync.Mutex
	logger *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	framesSent     atomic.Uint64
	bytesSent      atomic.Uint64
	eventsReceived atomic.Uint64
	audioReceived  atomic.Uint64
}

// Dial connects to the agent service and sends settings.
func Dial(ctx context.Context, cfg Config, settings Settings) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+cfg.APIKey)

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	ws, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		ce := &ConnectionError{Reason: "dial failed", Cause: err}
		if resp != nil {
			ce.StatusCode = resp.StatusCode
		}
		return nil, ce
	}

	c := &Client{
		cfg:    cfg,
		ws:     ws,
		logger: logger.With("component", "agent"),
		done:   make(chan struct{}),
	}

	if err := c.writeJSON(settings); err != nil {
		ws.Close()
		return nil, &ConnectionError{Reason: "send settings failed", Cause: err}
	}
	c.logger.Debug("settings sent", "voice", settings.Agent.Speak.Provider.Model)

	if cfg.PingInterval > 0 {
		go c.keepAlive(cfg.PingInterval)
	}

	return c, nil
}

// keepAlive sends periodic pings to keep the connection alive through idle
// stretches such as a long gateway response.
func (c *Client) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.wsMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.wsMu.Unlock()
			if err != nil {
				c.logger.Debug("keepalive ping failed", "error", err)
				return
			}
		}
	}
}

// SendAudio sends one chunk of caller audio as a binary frame.
func (c *Client) SendAudio(data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return &ConnectionError{Reason: "send audio failed", Cause: err}
	}
	c.framesSent.Add(1)
	c.bytesSent.Add(uint64(len(data)))
	return nil
}

// ReadEvent blocks for the next event. It must be called from a single
// goroutine. A malformed message returns an error wrapping ErrMalformedEvent
// and the connection stays usable; any other error is terminal.
func (c *Client) ReadEvent() (Event, error) {
	msgType, data, err := c.ws.ReadMessage()
	if err != nil {
		if c.closed.Load() {
			return nil, ErrClosed
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, &ConnectionError{Reason: "closed by agent", Cause: errors.Join(ErrClosed, err)}
		}
		return nil, &ConnectionError{Reason: "read failed", Cause: err}
	}

	c.eventsReceived.Add(1)
	ev, err := Decode(msgType, data)
	if err != nil {
		return nil, err
	}
	if _, ok := ev.(Audio); ok {
		c.audioReceived.Add(1)
	}
	return ev, nil
}

// Close sends a close frame and closes the connection. It is safe to call
// more than once and concurrently with ReadEvent, which then returns ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)

		c.wsMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.wsMu.Unlock()

		err = c.ws.Close()
	})
	return err
}

// Stats returns connection counters.
func (c *Client) Stats() Stats {
	return Stats{
		AudioFramesSent: c.framesSent.Load(),
		AudioBytesSent:  c.bytesSent.Load(),
		EventsReceived:  c.eventsReceived.Load(),
		AudioReceived:   c.audioReceived.Load(),
	}
}

func (c *Client) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}
