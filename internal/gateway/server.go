package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conductorhq/conductor/internal/config"
	"github.com/conductorhq/conductor/internal/observability"
	"github.com/conductorhq/conductor/internal/orchestrator"
)

// Server is the websocket gateway: it upgrades connections, enforces the
// connection cap, and hands each channel to the orchestrator.
type Server struct {
	cfg      config.ServerConfig
	auth     *Authenticator
	orch     *orchestrator.Orchestrator
	logger   *observability.Logger
	metrics  *observability.Metrics
	registry *prometheus.Registry

	upgrader websocket.Upgrader
	slots    chan struct{}
	httpSrv  *http.Server
}

// NewServer builds the gateway. The registry backs the /metrics endpoint and
// may be nil when metrics are disabled.
func NewServer(cfg config.ServerConfig, auth *Authenticator, orch *orchestrator.Orchestrator, logger *observability.Logger, metrics *observability.Metrics, registry *prometheus.Registry) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 256
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 300 * time.Second
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Server{
		cfg:      cfg,
		auth:     auth,
		orch:     orch,
		logger:   logger,
		metrics:  metrics,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		slots: make(chan struct{}, cfg.MaxConnections),
	}
}

// Handler returns the gateway routes: /ws, /healthz, and /metrics when a
// registry is configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	select {
	case s.slots <- struct{}{}:
	default:
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		<-s.slots
		s.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveConnections.Inc()
	}

	go func() {
		defer func() {
			<-s.slots
			if s.metrics != nil {
				s.metrics.ActiveConnections.Dec()
			}
		}()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		newChannel(conn, s).serve(ctx)
	}()
}

// ListenAndServe runs the gateway until ctx is cancelled, then drains with a
// short grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "gateway listening", "addr", addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
