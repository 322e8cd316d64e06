package handlers

import (
	"errors"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"imagepump/internal/delivery"
	"imagepump/internal/pipeline"
	"imagepump/pkg/zip"
)

// CreateDelivery packs the deliverable jobs into archives under the
// delivery prefix, publishing progress as events.
func (a *App) CreateDelivery(w http.ResponseWriter, r *http.Request) {
	progress := func(current, total int) {
		if a.Events != nil {
			a.Events.Publish(pipeline.Event{Type: pipeline.EventDeliveryProgress, Batch: current, Total: total, At: a.now()})
		}
	}
	res, err := a.Deliverer.Deliver(r.Context(), a.Queue, progress)
	if a.Metrics != nil {
		for _, arc := range res.Archives {
			a.Metrics.ObserveArchive(arc.Bytes)
		}
	}
	switch {
	case errors.Is(err, delivery.ErrNothingToDeliver):
		a.error(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, delivery.ErrBatchTooLarge):
		a.error(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case err != nil:
		a.logger().Error().Err(err).Int("stored", len(res.Archives)).Msg("delivery: failed")
		a.error(w, http.StatusInternalServerError, "Failed to download")
		return
	}
	a.json(w, http.StatusCreated, res)
}

func (a *App) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	objs, err := a.Store.List(r.Context(), a.Deliverer.Prefix())
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"deliveries": objs})
}

// GetDelivery serves one stored archive by file name.
func (a *App) GetDelivery(w http.ResponseWriter, r *http.Request) {
	name := zip.SanitizeFilename(chi.URLParam(r, "name"))
	data, err := a.Store.Read(r.Context(), path.Join(a.Deliverer.Prefix(), name))
	if err != nil {
		a.error(w, http.StatusNotFound, "delivery not found")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+name+"\"")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
