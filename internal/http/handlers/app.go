package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"imagepump/internal/clock"
	"imagepump/internal/delivery"
	"imagepump/internal/domain"
	"imagepump/internal/infra"
	"imagepump/internal/metrics"
	"imagepump/internal/pipeline"
	"imagepump/internal/providers/image"
	"imagepump/internal/settings"
	"imagepump/internal/storage"
)

// App carries the dependencies every handler shares. All fields are built
// in main and passed in; tests construct their own.
type App struct {
	Config       infra.Config
	Logger       *infra.Logger
	Clock        clock.Clock
	Queue        *pipeline.Queue
	Orchestrator *pipeline.Orchestrator
	Generators   *image.Registry
	Settings     *settings.Service
	Deliverer    *delivery.Deliverer
	Store        *storage.FileStore
	Events       *pipeline.Broadcaster
	Metrics      *metrics.Collector
}

func (a *App) logger() *infra.Logger {
	if a.Logger == nil {
		return infra.NopLogger()
	}
	return a.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, message string) {
	a.json(w, code, map[string]string{"error": message})
}

// fail maps domain errors onto status codes.
func (a *App) fail(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		a.error(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrRunInProgress), errors.Is(err, domain.ErrIllegalTransition):
		a.error(w, http.StatusConflict, err.Error())
	default:
		a.logger().Error().Err(err).Msg("handlers: unexpected error")
		a.error(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		a.error(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func (a *App) now() time.Time {
	if a.Clock == nil {
		return time.Now()
	}
	return a.Clock.Now()
}
