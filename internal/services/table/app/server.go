// Package app wires the table server: rules registry, game store, intent
// pipeline, AI scheduler and the HTTP and websocket transports.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/cardtable/internal/platform/logging"
	"github.com/louisbranch/cardtable/internal/platform/timeouts"
	"github.com/louisbranch/cardtable/internal/services/table/autoplay"
	"github.com/louisbranch/cardtable/internal/services/table/domain/rules"
	"github.com/louisbranch/cardtable/internal/services/table/domain/rules/eights"
	"github.com/louisbranch/cardtable/internal/services/table/domain/rules/luarules"
	"github.com/louisbranch/cardtable/internal/services/table/gamestore"
	"github.com/louisbranch/cardtable/internal/services/table/intent"
	"github.com/louisbranch/cardtable/internal/services/table/llmpolicy"
	"github.com/louisbranch/cardtable/internal/services/table/transport/httpapi"
	"github.com/louisbranch/cardtable/internal/services/table/transport/ws"
)

// Config configures the table server.
type Config struct {
	HTTPAddr          string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// RulesDir holds extra Lua rules scripts, one plugin per *.lua file
	// named after the file.
	RulesDir        string
	MaxActiveGames  int
	FinishedGameTTL time.Duration
	SweepInterval   time.Duration
	CheckInvariants bool

	AIEnabled      bool
	AITurnTimeout  time.Duration
	AIMinThinkTime time.Duration

	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	LLMTemperature *float64

	AllowGodView   bool
	OriginPatterns []string
}

// Server hosts the table HTTP and websocket endpoints.
type Server struct {
	logger          *zap.Logger
	store           *gamestore.Store
	scheduler       *autoplay.Scheduler
	httpServer      *http.Server
	listener        net.Listener
	shutdownTimeout time.Duration
}

// NewServer builds every component and binds the listen address.
func NewServer(cfg Config, logger *zap.Logger) (*Server, error) {
	logger = logging.OrNop(logger)
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		return nil, errors.New("http address is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = timeouts.Shutdown
	}

	registry, err := NewRegistry(cfg.RulesDir)
	if err != nil {
		return nil, err
	}
	store := gamestore.New(gamestore.Config{
		MaxActiveGames:  cfg.MaxActiveGames,
		FinishedGameTTL: cfg.FinishedGameTTL,
		SweepInterval:   cfg.SweepInterval,
		CheckInvariants: cfg.CheckInvariants,
	}, registry, gamestore.WithLogger(logger.Named("store")))

	pipeline := intent.NewPipeline(store, logger.Named("intent"))
	hub := ws.NewHub(ws.Config{
		OriginPatterns: cfg.OriginPatterns,
		AllowGodView:   cfg.AllowGodView,
	}, store, pipeline, logger.Named("ws"))

	scheduler := newScheduler(cfg, store, pipeline, logger)
	pipeline.SetScheduler(scheduler)

	handler := httpapi.NewHandler(httpapi.Config{AllowGodView: cfg.AllowGodView}, store, pipeline, hub.Broadcast, hub, logger.Named("http"))
	handler.SetScheduler(scheduler)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(httpapi.RequestIDMiddleware(), httpapi.LoggingMiddleware(logger.Named("http")))
	handler.Register(e)

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		scheduler.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}
	logger.Info("table server listening",
		zap.String("addr", listener.Addr().String()),
		zap.Strings("rules", registry.IDs()),
		zap.Bool("ai_enabled", cfg.AIEnabled),
	)

	return &Server{
		logger:    logger,
		store:     store,
		scheduler: scheduler,
		httpServer: &http.Server{
			Handler:           e,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		listener:        listener,
		shutdownTimeout: cfg.ShutdownTimeout,
	}, nil
}

func newScheduler(cfg Config, store *gamestore.Store, pipeline *intent.Pipeline, logger *zap.Logger) *autoplay.Scheduler {
	client := llmpolicy.NewOpenAIClient(llmpolicy.OpenAIConfig{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
	})
	policy := llmpolicy.New(client, llmpolicy.Config{
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
	}, llmpolicy.WithLogger(logger.Named("llm")))
	return autoplay.New(autoplay.Config{
		Enabled:      cfg.AIEnabled,
		TurnTimeout:  cfg.AITurnTimeout,
		MinThinkTime: cfg.AIMinThinkTime,
	}, store, pipeline, policy, autoplay.WithLogger(logger.Named("autoplay")))
}

// NewRegistry registers the built-in rules and every script in dir.
func NewRegistry(dir string) (*rules.Registry, error) {
	highcard, err := luarules.Highcard()
	if err != nil {
		return nil, fmt.Errorf("load highcard rules: %w", err)
	}
	registry, err := rules.NewRegistry(eights.New(), highcard)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dir) == "" {
		return registry, nil
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return nil, fmt.Errorf("list rules scripts: %w", err)
	}
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rules script: %w", err)
		}
		id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		plugin, err := luarules.New(id, string(src))
		if err != nil {
			return nil, fmt.Errorf("load rules script %s: %w", path, err)
		}
		if err := registry.Register(plugin); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Store exposes the game store.
func (s *Server) Store() *gamestore.Store {
	return s.store
}

// Serve runs the HTTP server and the finished-game sweeper until ctx ends,
// then shuts both down and stops in-flight AI turns.
func (s *Server) Serve(ctx context.Context) error {
	defer s.scheduler.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.store.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		s.logger.Info("table server stopped")
		return nil
	})
	return g.Wait()
}

// Run builds the server and serves until ctx ends.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	server, err := NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("init table server: %w", err)
	}
	return server.Serve(ctx)
}
