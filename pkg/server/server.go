// Package server assembles the callbridge HTTP application.
//
// One fiber app carries every surface: the Twilio webhooks and media stream,
// the completion proxy the agent calls back into, the local control API,
// the call monitor feed, health and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-callbridge/internal/config"
	"github.com/teslashibe/go-callbridge/pkg/agent"
	"github.com/teslashibe/go-callbridge/pkg/bridge"
	"github.com/teslashibe/go-callbridge/pkg/metrics"
	"github.com/teslashibe/go-callbridge/pkg/monitor"
	"github.com/teslashibe/go-callbridge/pkg/proxy"
	"github.com/teslashibe/go-callbridge/pkg/voice"
)

// MonitorPath is the call monitor websocket route.
const MonitorPath = "/ws/calls"

const shutdownTimeout = 5 * time.Second

type options struct {
	dial       bridge.DialFunc
	httpClient *http.Client
	logger     *slog.Logger
	version    string
}

// Option configures a Server.
type Option func(*options)

// WithDialer replaces the agent dialer, for tests.
func WithDialer(d bridge.DialFunc) Option {
	return func(o *options) { o.dial = d }
}

// WithHTTPClient sets the client the proxy uses for gateway requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

type sessionKeyFunc func() string

func (f sessionKeyFunc) CurrentKey() string { return f() }

// Server owns the fiber app and the components behind it.
type Server struct {
	cfg     *config.Config
	app     *fiber.App
	bridge  *bridge.Bridge
	proxy   *proxy.Proxy
	hub     *monitor.Hub
	metrics *metrics.Metrics
	voices  *voice.Store
	logger  *slog.Logger
	version string
}

// New builds every component from cfg and mounts the routes.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	o := options{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		metrics: metrics.New("callbridge"),
		voices:  voice.NewStore(cfg.Voice.PreferenceFile, cfg.Deepgram.TTSModel),
		logger:  o.logger.With("component", "server"),
		version: o.version,
	}

	if o.dial == nil {
		o.dial = bridge.AgentDialer(agent.Config{
			URL:              cfg.Deepgram.AgentURL,
			APIKey:           cfg.Deepgram.APIKey,
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     5 * time.Second,
			PingInterval:     30 * time.Second,
			Logger:           o.logger,
		})
	}

	s.hub = monitor.New(o.logger, func() []bridge.CallInfo {
		return s.bridge.Registry().Calls()
	})

	proxyOpts := []proxy.Option{
		proxy.WithGateway(cfg.Gateway.URL, cfg.Gateway.Token),
		proxy.WithModel(cfg.Gateway.Model),
		proxy.WithSecret(cfg.Proxy.Secret),
		proxy.WithTimeout(cfg.Gateway.Timeout),
		proxy.WithPrompts(&proxy.Prompts{
			Workspace:      cfg.Persona.Workspace,
			PersonaEnabled: cfg.Persona.Enabled,
			MaxChars:       cfg.Persona.MaxChars,
		}),
		// Resolved per request; the bridge exists before the app serves.
		proxy.WithSessions(sessionKeyFunc(func() string {
			return s.bridge.Registry().CurrentKey()
		})),
		proxy.WithRecorder(s.metrics),
		proxy.WithLogger(o.logger),
	}
	if o.httpClient != nil {
		proxyOpts = append(proxyOpts, proxy.WithHTTPClient(o.httpClient))
	}
	var err error
	if s.proxy, err = proxy.New(proxyOpts...); err != nil {
		return nil, err
	}

	var prewarm bridge.PrewarmFunc
	if cfg.Gateway.Prewarm {
		prewarm = s.proxy.Prewarm
	}

	bridgeOpts := []bridge.Option{
		bridge.WithDialer(o.dial),
		bridge.WithProfile(agent.Profile{
			Language:      cfg.Deepgram.Language,
			ListenModel:   cfg.Deepgram.ListenModel,
			ThinkProvider: cfg.Deepgram.ThinkProvider,
			ThinkModel:    cfg.Deepgram.ThinkModel,
			Prompt:        cfg.Deepgram.Prompt,
			Greeting:      cfg.Deepgram.Greeting,
		}),
		bridge.WithVoices(s.voices, cfg.Deepgram.TTSModel),
		bridge.WithSecret(cfg.Proxy.Secret),
		bridge.WithPublicURL(cfg.Server.PublicURL),
		bridge.WithSessionKey(cfg.SessionKey(), prewarm),
		bridge.WithChunking(cfg.Bridge.ChunkBytes, cfg.Bridge.FlushInterval),
		bridge.WithTurnTimeouts(cfg.Bridge.FirstAudioWarn, cfg.Bridge.TurnTimeout),
		bridge.WithOwnerPhone(cfg.Twilio.OwnerPhone),
		bridge.WithObserver(bridge.Observers{s.metrics, s.hub}),
		bridge.WithLogger(o.logger),
	}
	if cfg.Twilio.ValidateSignatures {
		bridgeOpts = append(bridgeOpts, bridge.WithSignatureValidation(cfg.Twilio.AuthToken))
	}
	if s.bridge, err = bridge.New(bridgeOpts...); err != nil {
		return nil, err
	}

	s.app = s.routes()
	return s, nil
}

func (s *Server) routes() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "callbridge",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if s.cfg.Server.Debug {
		app.Use(logger.New())
	}

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	api := app.Group("/api", s.controlAuth)
	api.Get("/voice", s.handleGetVoice)
	api.Post("/voice", s.handleSetVoice)
	api.Get("/calls", s.handleListCalls)
	api.Delete("/calls/:id", s.handleHangup)

	s.proxy.RegisterRoutes(app)
	s.bridge.RegisterRoutes(app)
	s.hub.RegisterRoutes(app, MonitorPath)

	return app
}

// App returns the fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Bridge returns the media bridge.
func (s *Server) Bridge() *bridge.Bridge {
	return s.bridge
}

// Run serves on the configured address until ctx is cancelled, then hangs
// up live calls and shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.hub.Run(hubCtx)

	errc := make(chan error, 1)
	go func() {
		addr := s.cfg.Addr()
		s.logger.Info("listening", "addr", addr, "media", bridge.MediaPath, "completions", proxy.CompletionsPath)
		errc <- s.app.Listen(addr)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
	}
	return s.Shutdown()
}

// Shutdown hangs up every call and stops the HTTP server.
func (s *Server) Shutdown() error {
	if n := s.bridge.Shutdown(); n > 0 {
		s.logger.Info("hung up live calls", "count", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"service":  "callbridge",
		"version":  s.version,
		"calls":    s.bridge.Registry().Count(),
		"watchers": s.hub.ClientCount(),
	})
}
