package handlers

import (
	"net/http"
	"strconv"

	"imagepump/internal/codec"
)

func (a *App) Compress(w http.ResponseWriter, r *http.Request) {
	data, _, _, ok := a.readUpload(w, r)
	if !ok {
		return
	}
	quality, err := codec.ParseQuality(r.FormValue("quality"))
	if err != nil {
		a.error(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := codec.Compress(data, quality)
	if err != nil {
		a.logger().Error().Err(err).Msg("compress: failed")
		a.error(w, http.StatusInternalServerError, "Compression failed")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Original-Size", strconv.Itoa(len(data)))
	w.Header().Set("X-Compressed-Size", strconv.Itoa(len(out)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
