package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
)

// shutdownTimeout bounds how long in-flight requests may run once the
// daemon is asked to stop.
const shutdownTimeout = 5 * time.Second

// Server serves the control API over a root-owned Unix socket.
type Server struct {
	cfg     *config.Config
	handler http.Handler
	logger  *logging.Logger
}

// NewServer wires the handler into the HTTP stack: metrics endpoint,
// request logging and peer-credential auth.
func NewServer(cfg *config.Config, h *Handler, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.WithComponent("daemon")
	}

	mux := h.Mux()
	if !cfg.DisableMetrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	var root http.Handler = mux
	root = requestMiddleware(root, logger)
	root = authMiddleware(root, logger)

	return &Server{cfg: cfg, handler: root, logger: logger}
}

type connKey struct{}

// connFromContext returns the accepted connection a request arrived on.
func connFromContext(ctx context.Context) (net.Conn, bool) {
	c, ok := ctx.Value(connKey{}).(net.Conn)
	return c, ok
}

// Start listens on the control socket and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	socketPath := s.cfg.SocketPath

	// A stale socket from a previous run would block the listen.
	os.Remove(socketPath)
	if dir := filepath.Dir(socketPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating socket dir: %w", err)
		}
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", socketPath, err)
	}
	if err := setSocketPermissions(socketPath, s.logger); err != nil {
		ln.Close()
		os.Remove(socketPath)
		return fmt.Errorf("setting socket permissions: %w", err)
	}

	srv := &http.Server{
		Handler: s.handler,
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			return context.WithValue(ctx, connKey{}, c)
		},
	}

	s.logger.Info("control API listening", "socket", socketPath)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			s.logger.Error("control API server error", "error", err)
		}
	}()

	// Uptime gauge, refreshed while the server runs.
	startedAt := time.Now()
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.Get().Uptime.Set(time.Since(startedAt).Seconds())
			}
		}
	}()

	<-ctx.Done()
	s.logger.Info("control API shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	os.Remove(socketPath)
	wg.Wait()
	return nil
}

// requestMiddleware tags each request with an ID and records it.
func requestMiddleware(next http.Handler, logger *logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-Id", reqID)

		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		metrics.Get().RecordAPIRequest(r.Method, r.URL.Path, rec.status, elapsed.Seconds())
		logger.Debug("request handled",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", elapsed)
	})
}

// statusRecorder captures the HTTP status code written to the response.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
