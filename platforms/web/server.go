package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"geminichat/core"
	"geminichat/core/history"
)

type Config struct {
	Listen         string `toml:"listen"`
	ReadTimeoutMs  int    `toml:"read_timeout_ms"`
	WriteTimeoutMs int    `toml:"write_timeout_ms"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
	// AuthToken guards /api when set.
	AuthToken string `toml:"auth_token"`
}

type Dispatcher interface {
	Handle(ctx context.Context, req core.Request) (core.Response, error)
}

// History is the optional conversation store.
type History interface {
	Save(ctx context.Context, c *history.Conversation) error
	ListByUser(ctx context.Context, userID string, limit int) ([]history.Conversation, error)
}

type Server struct {
	cfg        Config
	dispatcher Dispatcher
	history    History
	gatherer   prometheus.Gatherer
	log        zerolog.Logger

	// pending tracks fire-and-forget history writes. No write is queued once
	// draining is set.
	mu       sync.Mutex
	draining bool
	pending  sync.WaitGroup
}

type Option func(*Server)

func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

func NewServer(cfg Config, d Dispatcher, opts ...Option) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(requestIDMiddleware())
	r.Use(requestLogger(s.log))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	if strings.TrimSpace(s.cfg.AuthToken) != "" {
		api.Use(authMiddleware(s.cfg.AuthToken))
	}
	api.POST("/generate", s.handleGenerate)
	api.GET("/conversations", s.handleConversations)

	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// pending history writes.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.Router(),
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutMs) * time.Millisecond,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("listen", s.cfg.Listen).Msg("web server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.drain()
		s.log.Info().Msg("web server stopped")
		return err
	}
}

// Wait blocks until queued history writes have finished.
func (s *Server) Wait() {
	s.pending.Wait()
}

// drain stops new history writes and waits for the queued ones. Handlers
// still running after a timed-out Shutdown skip persistence.
func (s *Server) drain() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.pending.Wait()
}

func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.pending.Add(1)
	return true
}
