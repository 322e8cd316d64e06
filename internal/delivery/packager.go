package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"imagepump/pkg/zip"
)

// ErrBatchTooLarge is returned when the packaging endpoint rejects a batch
// for its size. It is never retried.
var ErrBatchTooLarge = errors.New("Batch too large - try selecting fewer images")

// Packager turns a batch into a zip archive.
type Packager interface {
	Package(ctx context.Context, items []Item) ([]byte, error)
}

// LocalPackager archives in process.
type LocalPackager struct{}

func (LocalPackager) Package(ctx context.Context, items []Item) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	assets := make([]zip.Asset, 0, len(items))
	for _, item := range items {
		assets = append(assets, zip.Asset{Filename: item.Filename, MIME: "image/png", Data: item.Data})
	}
	data, err := zip.ArchiveAssets(assets)
	if err != nil {
		return nil, fmt.Errorf("delivery: archive: %w", err)
	}
	return data, nil
}

// Image is the wire shape of one entry in a download request.
type Image struct {
	Filename string `json:"filename"`
	Base64   string `json:"base64"`
}

// DownloadRequest is the body accepted by the download endpoint.
type DownloadRequest struct {
	Images []Image `json:"images"`
}

// HTTPPackager posts each batch to a download endpoint and returns the zip
// it answers with.
type HTTPPackager struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPPackager(endpoint string, client *http.Client) *HTTPPackager {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPPackager{Endpoint: strings.TrimSpace(endpoint), Client: client}
}

func (p *HTTPPackager) Package(ctx context.Context, items []Item) ([]byte, error) {
	payload := DownloadRequest{Images: make([]Image, 0, len(items))}
	for _, item := range items {
		payload.Images = append(payload.Images, Image{
			Filename: item.Filename,
			Base64:   base64.StdEncoding.EncodeToString(item.Data),
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("delivery: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("delivery: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("delivery: post batch: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("delivery: read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return nil, ErrBatchTooLarge
	case resp.StatusCode != http.StatusOK:
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("delivery: %s", apiErr.Error)
		}
		return nil, errors.New("delivery: Download failed")
	}
	return data, nil
}

var (
	_ Packager = LocalPackager{}
	_ Packager = (*HTTPPackager)(nil)
)
