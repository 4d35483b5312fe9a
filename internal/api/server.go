// Package api is the HTTP and WebSocket surface the presentation layer talks to.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"Go2NetMonitor/internal/config"
	"Go2NetMonitor/internal/correlator"
	"Go2NetMonitor/internal/metrics"
	"Go2NetMonitor/internal/persist"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

const defaultQueryTimeout = 10 * time.Second

// Orchestrator is the correlator surface the API exposes.
type Orchestrator interface {
	TrafficView(ctx context.Context) (correlator.TrafficView, error)
	DNSView(ctx context.Context) (correlator.DNSView, error)
	InteractionStarted(ctx context.Context, s correlator.Surface) error
	InteractionFinished(ctx context.Context, s correlator.Surface, startMs, endMs int64) error
	SnapBack(ctx context.Context, s correlator.Surface) error
	Isolate(ctx context.Context, iface string) (string, error)
	RequestDomains(ctx context.Context, startMs, endMs int64) (uint64, error)
	RequestDomainDetails(ctx context.Context, domain string, startMs, endMs int64) (uint64, error)
	Subscribe(ctx context.Context, buffer int) (<-chan correlator.Event, func(), error)
}

// Querier answers tagged range queries.
type Querier interface {
	GetSnapshotsInRange(id uint64, iface string, startMs, endMs int64, reply chan<- persist.Reply) error
	GetQPSSeries(id uint64, startMs, endMs int64, intervalSecs int, reply chan<- persist.Reply) error
	GetTopDomains(id uint64, startMs, endMs int64, limit int, reply chan<- persist.Reply) error
	GetAllDomains(id uint64, startMs, endMs int64, reply chan<- persist.Reply) error
	GetDomainDetails(id uint64, domain string, startMs, endMs int64, reply chan<- persist.Reply) error
}

// Controller starts and stops a producer.
type Controller interface {
	Start() error
	Stop()
	Running() bool
}

// Deps are the components the API drives. Sampler and Capture may be nil.
type Deps struct {
	Orchestrator Orchestrator
	Querier      Querier
	Sampler      Controller
	Capture      Controller
	Metrics      *metrics.Metrics
}

// Server serves the API on the configured address.
type Server struct {
	cfg          config.APIConfig
	deps         Deps
	logger       *slog.Logger
	queryTimeout time.Duration
	topDomains   int
	handler      http.Handler
}

// New builds the router. topDomains bounds /dns/top replies.
func New(cfg config.APIConfig, deps Deps, topDomains int, logger *slog.Logger) *Server {
	s := &Server{
		cfg:          cfg,
		deps:         deps,
		logger:       logger,
		queryTimeout: defaultQueryTimeout,
		topDomains:   topDomains,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/traffic/view", s.handleTrafficView).Methods(http.MethodGet)
	v1.HandleFunc("/dns/view", s.handleDNSView).Methods(http.MethodGet)
	v1.HandleFunc("/{surface:traffic|dns}/interaction", s.handleInteraction).Methods(http.MethodPost)
	v1.HandleFunc("/{surface:traffic|dns}/live", s.handleSnapBack).Methods(http.MethodPost)
	v1.HandleFunc("/traffic/isolate", s.handleIsolate).Methods(http.MethodPost)

	v1.HandleFunc("/snapshots", s.handleSnapshots).Methods(http.MethodGet)
	v1.HandleFunc("/dns/qps", s.handleQPS).Methods(http.MethodGet)
	v1.HandleFunc("/dns/top", s.handleTopDomains).Methods(http.MethodGet)
	v1.HandleFunc("/dns/domains", s.handleAllDomains).Methods(http.MethodGet)
	v1.HandleFunc("/dns/domains/{domain}", s.handleDomainDetails).Methods(http.MethodGet)
	v1.HandleFunc("/dns/domains", s.handleSelectDomains).Methods(http.MethodPost)
	v1.HandleFunc("/dns/domains/{domain}", s.handleSelectDomain).Methods(http.MethodPost)

	v1.HandleFunc("/{producer:sampler|capture}/{action:start|stop}", s.handleProducer).Methods(http.MethodPost)
	v1.HandleFunc("/live", s.handleLive).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	s.handler = c.Handler(r)
	return s
}

// Handler returns the CORS-wrapped router.
func (s *Server) Handler() http.Handler { return s.handler }

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API server starting.", "addr", s.cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP API server shutdown incomplete.", "err", err)
	}
	s.logger.Info("HTTP API server exited.")
	return nil
}
