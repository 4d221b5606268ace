// Package server exposes the page cache and the chat transcript transform
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"lobby"
)

const shutdownTimeout = 10 * time.Second

// Server holds all dependencies of the HTTP surface.
type Server struct {
	cache    *lobby.PageCache[json.RawMessage]
	logger   *zap.Logger
	gatherer prometheus.Gatherer
	engine   *gin.Engine
	addr     string
}

// Options configures a Server.
type Options struct {
	Addr string
	// Gatherer serves /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// New builds the gin engine and routes.
func New(cache *lobby.PageCache[json.RawMessage], opts Options) *Server {
	s := &Server{
		cache:    cache,
		logger:   opts.Logger,
		gatherer: opts.Gatherer,
		addr:     opts.Addr,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(s.logger))
	r.GET("/health", healthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	v1.GET("/pages/:field", s.fetchPage)
	v1.GET("/pages/:field/cached", s.readPage)
	v1.POST("/pages/:field", s.mergePage)
	v1.DELETE("/cache", s.clearCache)
	v1.GET("/cache/stats", s.cacheStats)
	v1.POST("/chat/transcript", transcript)

	s.engine = r
	return s
}

// Handler returns the HTTP handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
