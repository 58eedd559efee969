package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/friendfinder/svcman/internal/config"
	"github.com/friendfinder/svcman/internal/metrics"
)

// childProbeTimeout bounds the out-of-band HTTP check against the child's
// own health endpoint.
const childProbeTimeout = 2 * time.Second

// DBPinger is the read-only view of the database monitor.
type DBPinger interface {
	Healthy(ctx context.Context) bool
}

// ChildStatus is the read-only view of the child supervisor.
type ChildStatus interface {
	Running() bool
}

// Server exposes the manager's liveness endpoint on a port distinct from the
// application's own traffic port.
//
//	GET /health  composite health snapshot, 200 or 503
//	GET /        fixed informational payload for smoke tests
//	GET /metrics Prometheus metrics
type Server struct {
	cfg   config.ServerConfig
	log   *slog.Logger
	db    DBPinger
	child ChildStatus

	// probe checks the child's self-reported health; injectable for tests.
	probe func(ctx context.Context) bool
}

func New(cfg config.ServerConfig, log *slog.Logger, db DBPinger, child ChildStatus) *Server {
	s := &Server{
		cfg:   cfg,
		log:   log.With("component", "health"),
		db:    db,
		child: child,
	}
	s.probe = s.probeChildHTTP
	return s
}

// snapshot is computed on demand, never stored.
type snapshot struct {
	Status       string `json:"status"`
	Database     bool   `json:"database"`
	PythonServer bool   `json:"python_server"`
}

// Handler returns the gin handler so tests can drive it with httptest.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/health", s.handleHealth)
	g.GET("/", s.handleRoot)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

func (s *Server) handleHealth(c *gin.Context) {
	snap := s.snapshot(c.Request.Context())
	code := http.StatusOK
	if snap.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	metrics.IncHealthRequest(strconv.Itoa(code))
	c.JSON(code, snap)
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "Service Manager is running",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) snapshot(ctx context.Context) snapshot {
	dbOK := s.db.Healthy(ctx)
	// The child check is advisory: a child that is not yet listening reports
	// unhealthy rather than erroring.
	childOK := s.child.Running() && s.probe(ctx)

	status := "healthy"
	if !dbOK || !childOK {
		status = "unhealthy"
	}
	return snapshot{Status: status, Database: dbOK, PythonServer: childOK}
}

func (s *Server) probeChildHTTP(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, childProbeTimeout)
	defer cancel()
	url := fmt.Sprintf("http://localhost:%s/health", s.cfg.Port)
	req, err := http.NewRequestWithContext(pctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Run serves the liveness endpoint until ctx is cancelled, then drains open
// connections for at most DrainTimeout before closing.
func (s *Server) Run(ctx context.Context) {
	srv := &http.Server{
		Addr:              ":" + s.cfg.HealthPort,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	s.log.Info("liveness endpoint started", "port", s.cfg.HealthPort)

	select {
	case err := <-serverErr:
		s.log.Error("liveness endpoint error", "error", err)
	case <-ctx.Done():
		s.log.Info("shutting down liveness endpoint")
		sctx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			s.log.Warn("liveness endpoint shutdown error", "error", err)
		} else {
			s.log.Info("liveness endpoint shut down gracefully")
		}
	}
}
