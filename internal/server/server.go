// Package server exposes the prompt compiler over HTTP with gin.
//
// Every engine operation goes through the SDK client, which serializes access
// to the shared weights. The chat route is registered only when an LLM is
// configured and the admin cache routes only when a response cache is.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"promptcompiler/internal/cache"
	"promptcompiler/internal/llm"
	"promptcompiler/internal/metrics"
	"promptcompiler/pkg/promptcompiler"
)

const (
	defaultAddr            = ":8080"
	defaultShutdownTimeout = 10 * time.Second
)

// Completer is the part of the LLM client the chat route needs.
type Completer interface {
	Model() string
	Complete(ctx context.Context, messages []llm.Message) (llm.Response, error)
}

type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Version         string

	Client  *promptcompiler.Client
	LLM     Completer
	Cache   *cache.ResponseCache
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Server struct {
	cfg     Config
	client  *promptcompiler.Client
	llm     Completer
	cache   *cache.ResponseCache
	metrics *metrics.Metrics
	logger  *slog.Logger
	router  *gin.Engine
}

func New(cfg Config) (*Server, error) {
	if cfg.Client == nil {
		return nil, errors.New("server requires a prompt compiler client")
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		client:  cfg.Client,
		llm:     cfg.LLM,
		cache:   cfg.Cache,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.observe())

	router.GET("/health", s.health)
	router.GET("/info", s.info)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v1 := router.Group("/v1")
	v1.POST("/analyze", s.analyze)
	v1.POST("/compare", s.compare)
	v1.POST("/optimize", s.optimize)
	v1.POST("/dynamics/sequence", s.sequence)
	v1.GET("/records", s.listRecords)
	v1.GET("/records/:kind/:id", s.getRecord)
	if s.llm != nil {
		v1.POST("/chat/completions", s.chatCompletions)
	}
	if s.cache != nil {
		admin := v1.Group("/admin")
		admin.GET("/cache/stats", s.cacheStats)
		admin.POST("/cache/clear", s.cacheClear)
	}
	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.cfg.Addr, "rule", s.client.Rule(), "chat", s.llm != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server", "timeout", s.cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// observe logs every request and records its status and latency.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		s.metrics.ObserveRequest(route, status, elapsed)

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", elapsed,
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}
		switch {
		case status >= http.StatusInternalServerError:
			s.logger.Error("request failed", attrs...)
		case route == "/health" || route == "/metrics":
			s.logger.Debug("request", attrs...)
		default:
			s.logger.Info("request", attrs...)
		}
	}
}
