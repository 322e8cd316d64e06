package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"imagepump/internal/delivery"
	"imagepump/pkg/zip"
)

const defaultMaxDownloadBytes = 4_500_000

// Download zips the posted base64 images. It is the endpoint the
// HTTPPackager talks to.
func (a *App) Download(w http.ResponseWriter, r *http.Request) {
	limit := a.Config.MaxDownloadBytes
	if limit <= 0 {
		limit = defaultMaxDownloadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	var req delivery.DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			a.error(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		a.error(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if len(req.Images) == 0 {
		a.error(w, http.StatusBadRequest, "No images provided")
		return
	}
	assets := make([]zip.Asset, 0, len(req.Images))
	for _, img := range req.Images {
		if strings.TrimSpace(img.Filename) == "" {
			a.error(w, http.StatusBadRequest, "Invalid image data: missing filename")
			return
		}
		if img.Base64 == "" {
			a.error(w, http.StatusBadRequest, "Invalid image data: missing base64 data")
			return
		}
		data, err := decodeBase64(img.Base64)
		if err != nil {
			a.error(w, http.StatusBadRequest, "Invalid image data: invalid base64 data")
			return
		}
		assets = append(assets, zip.Asset{Filename: img.Filename, Data: data})
	}
	archive, err := zip.ArchiveAssets(assets)
	if err != nil {
		a.logger().Error().Err(err).Msg("download: archive failed")
		a.error(w, http.StatusInternalServerError, "Failed to generate download")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", delivery.ArchiveName(1, 1, a.now().UnixMilli())))
	w.Header().Set("Content-Length", strconv.Itoa(len(archive)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

// decodeBase64 accepts padded or unpadded data, optionally as a data URL.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
