// Package delivery packs completed results into size-bounded zip archives
// and ships them one batch at a time.
package delivery

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"

	"imagepump/internal/domain"
)

// DefaultThreshold keeps a single transfer under a 4.5 MB body ceiling.
const DefaultThreshold = 3 * 1024 * 1024

// Item is one result ready for packaging. Size is the base64-encoded length,
// the number of bytes the JSON transport actually carries.
type Item struct {
	JobID    string
	Filename string
	Data     []byte
	Size     int
}

type Batch struct {
	Items []Item
	Size  int
}

// Prepare converts jobs into items named edited-<i>-<basename>.png where i
// is the 1-based position in jobs.
func Prepare(jobs []domain.ImageJob) []Item {
	items := make([]Item, 0, len(jobs))
	for i, job := range jobs {
		items = append(items, Item{
			JobID:    job.ID,
			Filename: fmt.Sprintf("edited-%d-%s.png", i+1, baseName(job.Filename)),
			Data:     job.Result,
			Size:     base64.StdEncoding.EncodedLen(len(job.Result)),
		})
	}
	return items
}

// Pack splits items into batches whose total size stays within threshold,
// preserving arrival order. An item larger than threshold travels alone.
func Pack(items []Item, threshold int) []Batch {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	var (
		batches []Batch
		current Batch
	)
	flush := func() {
		if len(current.Items) > 0 {
			batches = append(batches, current)
			current = Batch{}
		}
	}
	for _, item := range items {
		if item.Size > threshold {
			flush()
			batches = append(batches, Batch{Items: []Item{item}, Size: item.Size})
			continue
		}
		if len(current.Items) > 0 && current.Size+item.Size > threshold {
			flush()
		}
		current.Items = append(current.Items, item)
		current.Size += item.Size
	}
	flush()
	return batches
}

func baseName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if ext := filepath.Ext(name); ext != "" && ext != name {
		name = strings.TrimSuffix(name, ext)
	}
	if name == "" || name == "." || name == "/" {
		return "image"
	}
	return name
}
