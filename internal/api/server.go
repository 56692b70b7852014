// Package api implements the HTTP boundary of the dispatch service.
package api

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"fielddispatch/internal/auth"
	"fielddispatch/internal/metrics"
	"fielddispatch/internal/model"
)

// Optimizer runs one route optimization.
type Optimizer interface {
	Optimize(ctx context.Context, req model.OptimizeRequest) (model.OptimizeResult, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	optimizer Optimizer
	ready     Pinger
	auth      *auth.Verifier
	validate  *validator.Validate
	log       *zap.Logger

	rps      rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter // client ip -> limiter
}

type Option func(*Server)

// WithRateLimit limits optimize calls per client IP. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		s.rps = rate.Limit(rps)
		s.burst = burst
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

func NewServer(optimizer Optimizer, ready Pinger, verifier *auth.Verifier, opts ...Option) *Server {
	s := &Server{
		optimizer: optimizer,
		ready:     ready,
		auth:      verifier,
		validate:  validator.New(),
		log:       zap.NewNop(),
		limiters:  map[string]*rate.Limiter{},
	}
	for _, o := range opts {
		o(s)
	}
	s.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	if s.auth == nil {
		s.auth = auth.NewVerifier("dev", "")
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.HealthHandler)
	r.Get("/readyz", s.ReadyHandler)
	r.Get("/version", s.VersionHandler)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.With(s.rateLimit, s.authenticate).Post("/routes/optimize", s.OptimizeHandler)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "", r.URL.Path)
	})
	return r
}
