// Package codec re-encodes uploaded images to size-reduced JPEGs.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // registers the webp decoder
)

// MaxEdge is the longest side kept on compression; larger images are
// downscaled with Lanczos resampling.
const MaxEdge = 2048

type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

var (
	ErrUnsupportedType = errors.New("Invalid file type. Only JPEG, PNG, and WebP are supported.")
	ErrInvalidQuality  = errors.New("Valid quality setting is required (low, medium, high)")
)

var jpegQuality = map[Quality]int{
	QualityLow:    60,
	QualityMedium: 80,
	QualityHigh:   92,
}

// ParseQuality accepts low, medium or high, case-insensitively.
func ParseQuality(s string) (Quality, error) {
	q := Quality(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := jpegQuality[q]; !ok {
		return "", ErrInvalidQuality
	}
	return q, nil
}

// JPEGQuality returns the encoder quality for q, or 0 for unknown presets.
func (q Quality) JPEGQuality() int { return jpegQuality[q] }

// SupportedMIME reports whether mime is an accepted upload type.
func SupportedMIME(mime string) bool {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg", "image/jpg", "image/png", "image/webp":
		return true
	}
	return false
}

// DetectMIME sniffs the content type of data.
func DetectMIME(data []byte) string {
	return strings.ToLower(http.DetectContentType(data))
}

// Compress decodes data, fits it within MaxEdge and encodes it as JPEG at
// the preset's quality.
func Compress(data []byte, q Quality) ([]byte, error) {
	quality := q.JPEGQuality()
	if quality == 0 {
		return nil, ErrInvalidQuality
	}
	if !SupportedMIME(DetectMIME(data)) {
		return nil, ErrUnsupportedType
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("codec: decode: %w", err)
	}
	b := img.Bounds()
	if b.Dx() > MaxEdge || b.Dy() > MaxEdge {
		img = imaging.Fit(img, MaxEdge, MaxEdge, imaging.Lanczos)
	}
	var out bytes.Buffer
	if err := imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return out.Bytes(), nil
}
