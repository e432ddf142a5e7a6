package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netwatch-agent/internal/agent/version"
	"netwatch-agent/internal/model"
	"netwatch-agent/internal/state"
)

type snapshotQuerier interface {
	Query(ctx context.Context) ([]model.InterfaceRecord, error)
}

func (a *Agent) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(a.logger))

	r.GET("/healthz", a.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", a.hub.Handle)

	api := r.Group("/api")
	api.GET("/networks", a.handleNetworks)
	api.GET("/workers", a.handleWorkers)
	api.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, version.Get(a.cfg))
	})
	return r
}

// handleNetworks serves the on-demand query. A store that cannot be read
// within the query timeout yields 503 instead of a stale or partial list.
func (a *Agent) handleNetworks(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), a.cfg.QueryTimeout)
	defer cancel()

	records, err := a.query.Query(ctx)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, state.ErrStateUnavailable) {
			status = http.StatusServiceUnavailable
		}
		a.logger.Warn("network query failed", "error", err)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (a *Agent) handleWorkers(c *gin.Context) {
	running := a.supervisor.Running()
	c.JSON(http.StatusOK, gin.H{"count": len(running), "addresses": running})
}

func (a *Agent) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, a.healthSnapshot())
}

func (a *Agent) healthSnapshot() map[string]any {
	out := a.health.Snapshot()
	out["status"] = "ok"
	out["workers_running"] = a.supervisor.Count()
	out["subscribers"] = a.publisher.Subscribers()
	out["interfaces"] = a.store.Len()
	if last := a.ingestor.LastEventAt(); !last.IsZero() {
		out["last_event_at"] = last
	}
	return out
}

func (a *Agent) listen() (net.Listener, error) {
	addr := strings.TrimSpace(a.cfg.HTTPListenAddr)
	if addr == "" {
		return nil, fmt.Errorf("empty http listen address")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen http endpoint %s: %w", addr, err)
	}
	return ln, nil
}

func (a *Agent) serveHTTP(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.logger.Info("http endpoint listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http endpoint: %w", err)
	case <-ctx.Done():
	}

	a.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown incomplete, closing", "error", err)
		_ = srv.Close()
	}
	return nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
