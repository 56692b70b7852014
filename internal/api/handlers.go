package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"fielddispatch/internal/auth"
	"fielddispatch/internal/buildinfo"
	"fielddispatch/internal/dispatch"
	"fielddispatch/internal/model"
)

const maxRequestBytes = 1 << 20

type optimizeResponse struct {
	Message         string                `json:"message"`
	RunID           string                `json:"run_id"`
	Date            string                `json:"date"`
	ConsiderWeather bool                  `json:"consider_weather"`
	OptimizedRoutes []model.Route         `json:"optimized_routes"`
	Metrics         model.OptimizeMetrics `json:"metrics"`
}

// OptimizeHandler handles POST /v1/routes/optimize
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok || !auth.Authorize(p, "routes", "optimize") {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin privileges required", r.URL.Path)
		return
	}
	var req model.OptimizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeProblem(w, http.StatusRequestEntityTooLarge, "Request body too large", err.Error(), r.URL.Path)
			return
		}
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid optimize request", validationDetail(err), r.URL.Path)
		return
	}

	res, err := s.optimizer.Optimize(r.Context(), req)
	if err != nil {
		var ie *dispatch.InputError
		if errors.As(err, &ie) {
			writeProblem(w, http.StatusBadRequest, "Invalid optimize request", ie.Error(), r.URL.Path)
			return
		}
		s.log.Error("optimize failed", zap.String("date", req.Date), zap.String("subject", p.Subject), zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "Failed to optimize routes", "", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, optimizeResponse{
		Message:         "Routes optimized successfully",
		RunID:           res.RunID,
		Date:            res.Date,
		ConsiderWeather: res.ConsiderWeather,
		OptimizedRoutes: res.Routes,
		Metrics:         res.Metrics,
	})
}

func validationDetail(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return err.Error()
	}
	fe := ve[0]
	switch fe.Tag() {
	case "required":
		return "missing required field: " + fe.Field()
	case "datetime":
		return fe.Field() + " must be YYYY-MM-DD"
	default:
		return fe.Field() + " is invalid"
	}
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info())
}
