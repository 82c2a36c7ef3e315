// Package server hosts the process-wide HTTP engine. Collector and recommendation
// routes are mounted on Engine by their own packages; /health and /metrics live here.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aevon-lab/eventsim/internal/aggregation"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	pingTimeout     = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	Engine *gin.Engine
	Addr   string
	store  HealthChecker
	state  StateReporter
}

// HealthChecker is the storage backend as seen by /health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// StateReporter exposes the aggregator's in-memory counts.
type StateReporter interface {
	Stats() aggregation.Stats
}

// New builds the engine. store may be nil for a process without durable storage.
func New(addr string, store HealthChecker, mode string) *Server {
	if mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	s := &Server{
		Engine: r,
		Addr:   addr,
		store:  store,
	}

	r.GET("/health", s.healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

// ReportState adds aggregator counts to the /health body.
func (s *Server) ReportState(r StateReporter) {
	s.state = r
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()

	body := gin.H{"status": "healthy", "storage": "none"}
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			slog.Error("[Server] Health check failed: storage unreachable", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "storage unreachable",
			})
			return
		}
		body["storage"] = "connected"
	}

	if s.state != nil {
		st := s.state.Stats()
		body["aggregates"] = gin.H{
			"users":  st.Users,
			"events": st.Events,
			"pairs":  st.Pairs,
		}
	}

	c.JSON(http.StatusOK, body)
}

// Run serves until ctx is cancelled. In-flight requests get shutdownTimeout to finish.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.Addr,
		Handler: s.Engine,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		slog.Info("[Server] Draining HTTP connections", "timeout", shutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("[Server] Forced shutdown", "error", err)
		}
	}()

	slog.Info("[Server] Listening", "address", s.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	return nil
}
