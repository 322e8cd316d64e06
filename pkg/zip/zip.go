package zip

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxFilenameLen caps sanitized entry names.
const MaxFilenameLen = 200

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// ErrNoAssets is returned when an archive would be empty.
var ErrNoAssets = errors.New("zip: no assets")

type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

// ArchiveAssets writes assets into a deflate-compressed archive. Entry names
// are sanitized; duplicates get a numeric suffix so no entry is shadowed.
func ArchiveAssets(assets []Asset) ([]byte, error) {
	if len(assets) == 0 {
		return nil, ErrNoAssets
	}
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, 6)
	})
	seen := make(map[string]int, len(assets))
	for _, asset := range assets {
		name := uniqueName(SanitizeFilename(asset.Filename), seen)
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}

// SanitizeFilename folds accented characters to ASCII, replaces anything
// outside [a-zA-Z0-9._-] with an underscore and truncates to MaxFilenameLen.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err == nil {
		name = folded
	}
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	if len(name) > MaxFilenameLen {
		name = name[:MaxFilenameLen]
	}
	if name == "" || name == "." || name == ".." {
		name = "file"
	}
	return name
}

func uniqueName(name string, seen map[string]int) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := ""
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		ext = name[i:]
		name = name[:i]
	}
	return fmt.Sprintf("%s-%d%s", name, n+1, ext)
}
