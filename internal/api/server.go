// Package api implements the admin HTTP API over the scheduler: job and
// trigger inspection, pause/resume, manual fires, execution history, and
// the Prometheus metrics endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/goquartz/internal/domain"
	"github.com/jonesrussell/goquartz/internal/history"
	"github.com/jonesrussell/goquartz/internal/logger"
	"github.com/jonesrussell/goquartz/internal/scheduler"
)

const (
	// DefaultHost is the default listen host.
	DefaultHost = "0.0.0.0"
	// DefaultPort is the default listen port.
	DefaultPort = 8080
	// DefaultReadTimeout is the default HTTP read timeout.
	DefaultReadTimeout = 10 * time.Second
	// DefaultWriteTimeout is the default HTTP write timeout.
	DefaultWriteTimeout = 30 * time.Second
	// DefaultShutdownTimeout bounds graceful server shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Config holds admin server configuration.
type Config struct {
	Enabled      bool          `mapstructure:"enabled"       yaml:"enabled"`
	Host         string        `mapstructure:"host"          yaml:"host"`
	Port         int           `mapstructure:"port"          yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"  yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Host:         DefaultHost,
		Port:         DefaultPort,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate checks the configuration for correctness.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Port)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("server read_timeout must be positive, got %v", c.ReadTimeout)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("server write_timeout must be positive, got %v", c.WriteTimeout)
	}
	return nil
}

// Address returns the host:port listen address.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// HistoryReader is the read side of the execution history log.
type HistoryReader interface {
	List(ctx context.Context, filter history.ListFilter) ([]*domain.ExecutionRecord, error)
}

// Server is the admin HTTP server.
type Server struct {
	config  Config
	log     logger.Logger
	sched   *scheduler.Scheduler
	history HistoryReader
	engine  *gin.Engine
	httpSrv *http.Server
}

// NewServer creates the admin server. history and gatherer may be nil;
// the corresponding endpoints degrade gracefully.
func NewServer(cfg Config, sched *scheduler.Scheduler, hist HistoryReader, gatherer prometheus.Gatherer, log logger.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		config:  cfg,
		log:     log.With(logger.String("component", "api")),
		sched:   sched,
		history: hist,
		engine:  engine,
	}
	s.registerRoutes(gatherer)
	return s, nil
}

// Handler returns the HTTP handler. Test hook.
func (s *Server) Handler() http.Handler { return s.engine }

// Start runs the server until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         s.config.Address(),
		Handler:      s.engine,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("admin server listening", logger.String("address", s.config.Address()))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("admin server failed: %w", err)
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	s.log.Info("admin server shutting down")
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	return nil
}

// registerRoutes wires all endpoints.
func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.engine.GET("/health", s.handleHealth)

	if gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.engine.Group("/api/v1")
	{
		v1.GET("/scheduler", s.handleSchedulerStatus)
		v1.POST("/scheduler/standby", s.handleStandby)
		v1.POST("/scheduler/start", s.handleStart)

		v1.GET("/jobs", s.handleListJobs)
		v1.GET("/jobs/:group/:name", s.handleGetJob)
		v1.DELETE("/jobs/:group/:name", s.handleDeleteJob)
		v1.POST("/jobs/:group/:name/pause", s.handlePauseJob)
		v1.POST("/jobs/:group/:name/resume", s.handleResumeJob)
		v1.POST("/jobs/:group/:name/run", s.handleRunJob)

		v1.GET("/triggers", s.handleListTriggers)
		v1.GET("/triggers/:group/:name", s.handleGetTrigger)
		v1.DELETE("/triggers/:group/:name", s.handleUnscheduleTrigger)
		v1.POST("/triggers/:group/:name/pause", s.handlePauseTrigger)
		v1.POST("/triggers/:group/:name/resume", s.handleResumeTrigger)

		v1.GET("/calendars", s.handleListCalendars)
		v1.GET("/executing", s.handleExecuting)
		v1.GET("/history", s.handleHistory)
	}
}
