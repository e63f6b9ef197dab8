// Package web serves the assistant's HTTP API and pushes pipeline state to
// websocket clients.
package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-assistant/pkg/assistant"
	"github.com/teslashibe/go-assistant/pkg/conversation"
	"github.com/teslashibe/go-assistant/pkg/hub"
	"github.com/teslashibe/go-assistant/pkg/inference"
	"github.com/teslashibe/go-assistant/pkg/metrics"
	"github.com/teslashibe/go-assistant/pkg/prefs"
)

// Controller is the part of the assistant the API drives.
type Controller interface {
	Snapshot() assistant.Snapshot
	History() []conversation.Turn
	Subscribe(fn func(assistant.Snapshot)) func()

	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (*inference.Reply, error)
	SendText(ctx context.Context, text string) (*inference.Reply, error)
	Regenerate(ctx context.Context) (*inference.Reply, error)
	Replay(ctx context.Context) error

	SetMuted(muted bool)
	Background()
	Reset()
}

var _ Controller = (*assistant.Assistant)(nil)

// Config holds server configuration.
type Config struct {
	Addr      string
	StaticDir string
	AccessLog io.Writer
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Config)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(c *Config) { c.Addr = addr }
}

// WithStaticDir serves a web client from dir at /.
func WithStaticDir(dir string) Option {
	return func(c *Config) { c.StaticDir = dir }
}

// WithAccessLog writes one line per request to w. Nil disables it.
func WithAccessLog(w io.Writer) Option {
	return func(c *Config) { c.AccessLog = w }
}

// WithMetrics records request metrics and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// Server is the assistant's web surface.
type Server struct {
	app       *fiber.App
	cfg       *Config
	assistant Controller
	prefs     *prefs.Store
	stateHub  *hub.Hub
	logger    *slog.Logger

	// turns run in the background under ctx so a request returning early
	// does not cancel them.
	ctx         context.Context
	cancel      context.CancelFunc
	turns       sync.WaitGroup
	unsubscribe func()

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a server for ctrl. Every snapshot ctrl publishes is broadcast
// on /ws/state.
func New(ctrl Controller, store *prefs.Store, opts ...Option) *Server {
	cfg := &Config{Addr: ":8080", AccessLog: os.Stdout}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		assistant: ctrl,
		prefs:     store,
		stateHub:  hub.New("state", cfg.Logger),
		logger:    cfg.Logger.With("component", "web.server"),
		ctx:       ctx,
		cancel:    cancel,
	}

	s.unsubscribe = ctrl.Subscribe(func(snap assistant.Snapshot) {
		if err := s.stateHub.BroadcastJSON(snap); err != nil {
			s.logger.Warn("encode snapshot failed", "error", err)
		}
	})

	s.app = s.routes()
	return s
}

func (s *Server) routes() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Assistant",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	if s.cfg.AccessLog != nil {
		app.Use(fiberlogger.New(fiberlogger.Config{Output: s.cfg.AccessLog}))
	}
	if s.cfg.Metrics != nil {
		app.Use(s.recordRequest)
		app.Get("/metrics", adaptor.HTTPHandler(s.cfg.Metrics.Handler()))
	}

	api := app.Group("/api")
	api.Get("/state", s.handleState)
	api.Get("/history", s.handleHistory)
	api.Post("/recording/start", s.handleStartRecording)
	api.Post("/recording/stop", s.handleStopRecording)
	api.Post("/messages", s.handleSendText)
	api.Post("/regenerate", s.handleRegenerate)
	api.Post("/replay", s.handleReplay)
	api.Post("/mute", s.handleMute)
	api.Post("/reset", s.handleReset)
	api.Post("/lifecycle", s.handleLifecycle)
	api.Get("/onboarding", s.handleOnboarding)
	api.Post("/onboarding/complete", s.handleCompleteOnboarding)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/state", websocket.New(s.handleStateWS))

	if s.cfg.StaticDir != "" {
		app.Static("/", s.cfg.StaticDir)
	}
	return app
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the snapshot broadcast hub.
func (s *Server) Hub() *hub.Hub {
	return s.stateHub
}

// Start runs the broadcast hub and serves until Shutdown or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	go s.stateHub.Run(ctx)
	go func() {
		select {
		case <-ctx.Done():
			if err := s.Shutdown(); err != nil {
				s.logger.Warn("shutdown failed", "error", err)
			}
		case <-s.ctx.Done():
		}
	}()

	s.logger.Info("listening", "addr", s.cfg.Addr)
	return s.app.Listen(s.cfg.Addr)
}

// Shutdown stops accepting requests, cancels background turns and waits for
// them to return.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.unsubscribe()
		s.cancel()
		s.shutdownErr = s.app.Shutdown()
		s.turns.Wait()
	})
	return s.shutdownErr
}

// runTurn runs fn in the background. Failures are already reflected in the
// published state; they are only logged here.
func (s *Server) runTurn(op string, fn func(ctx context.Context) error) {
	s.turns.Add(1)
	go func() {
		defer s.turns.Done()
		if err := fn(s.ctx); err != nil && !errors.Is(err, assistant.ErrSuperseded) {
			s.logger.Debug("turn ended with error", "op", op, "error", err)
		}
	}()
}

// recordRequest feeds request counts and latency to metrics, labelled by
// route pattern.
func (s *Server) recordRequest(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		status = fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
	}
	s.cfg.Metrics.RecordHTTPRequest(c.Method(), c.Route().Path, strconv.Itoa(status), time.Since(start))
	return err
}
