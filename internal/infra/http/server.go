package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	Addr          string
	ExposeMetrics bool
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
	// AdminToken guards /admin/*; the routes are not mounted when it is empty.
	AdminToken string
	Admin      Admin
	// Payments serves POST /payments/approved when set.
	Payments http.Handler
	Log      *slog.Logger
	Now      func() time.Time
}

type Server struct {
	srv *http.Server
}

func New(cfg Config) *Server {
	return &Server{srv: &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// NewHandler builds the routing table of the service.
func NewHandler(cfg Config) http.Handler {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if cfg.ExposeMetrics {
		if cfg.Gatherer != nil {
			mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
		} else {
			mux.Handle("/metrics", promhttp.Handler())
		}
	}

	if cfg.Payments != nil {
		mux.Handle("POST /payments/approved", cfg.Payments)
	}

	if cfg.Admin != nil && cfg.AdminToken != "" {
		a := &adminAPI{billing: cfg.Admin, log: cfg.Log.With("component", "admin_http"), now: cfg.Now}
		guard := bearer(cfg.AdminToken)
		mux.Handle("POST /admin/reconcile", guard(http.HandlerFunc(a.reconcile)))
		mux.Handle("GET /admin/audit", guard(http.HandlerFunc(a.audit)))
		mux.Handle("GET /admin/restaurants/{id}/subscription", guard(http.HandlerFunc(a.subscription)))
		mux.Handle("GET /admin/restaurants/{id}/events", guard(http.HandlerFunc(a.events)))
		mux.Handle("POST /admin/restaurants/{id}/{action}", guard(http.HandlerFunc(a.command)))
	} else if cfg.Admin != nil {
		cfg.Log.Warn("admin HTTP routes disabled: http.admin_token is empty")
	}

	return mux
}

func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
