package codec

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
)

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 7 {
		for y := 0; y < h; y += 5 {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestParseQuality(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"low", 60, true},
		{"Medium", 80, true},
		{" high ", 92, true},
		{"max", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			q, err := ParseQuality(tc.in)
			if tc.ok != (err == nil) {
				t.Fatalf("ParseQuality(%q) err = %v", tc.in, err)
			}
			if q.JPEGQuality() != tc.want {
				t.Fatalf("quality = %d, want %d", q.JPEGQuality(), tc.want)
			}
		})
	}
}

func TestCompressProducesJPEG(t *testing.T) {
	out, err := Compress(pngOf(t, 64, 48), QualityMedium)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if DetectMIME(out) != "image/jpeg" {
		t.Fatalf("output type = %s", DetectMIME(out))
	}
	img, err := imaging.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 48 {
		t.Fatalf("small image resized to %v", img.Bounds())
	}
}

func TestCompressDownscalesLongEdge(t *testing.T) {
	out, err := Compress(pngOf(t, 4096, 1024), QualityLow)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	img, err := imaging.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if img.Bounds().Dx() != MaxEdge || img.Bounds().Dy() != 512 {
		t.Fatalf("bounds = %v, want 2048x512", img.Bounds())
	}
}

func TestCompressRejectsUnsupported(t *testing.T) {
	if _, err := Compress([]byte("GIF89a not really"), QualityHigh); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	if _, err := Compress(pngOf(t, 2, 2), Quality("max")); !errors.Is(err, ErrInvalidQuality) {
		t.Fatalf("expected ErrInvalidQuality, got %v", err)
	}
}

func TestSupportedMIME(t *testing.T) {
	for mime, want := range map[string]bool{
		"image/jpeg": true, "image/png": true, "image/webp": true, "image/gif": false, "": false,
	} {
		if SupportedMIME(mime) != want {
			t.Fatalf("SupportedMIME(%q) = %v", mime, !want)
		}
	}
}
