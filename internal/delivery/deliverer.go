package delivery

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"imagepump/internal/clock"
	"imagepump/internal/domain"
	"imagepump/internal/infra"
)

const (
	// DefaultDelay separates consecutive transfers.
	DefaultDelay  = 500 * time.Millisecond
	DefaultPrefix = "deliveries"
)

// ErrNothingToDeliver is returned when no completed job has a result.
var ErrNothingToDeliver = errors.New("No images to download")

// Source supplies the delivery set and clears selection afterwards.
// *pipeline.Queue satisfies it.
type Source interface {
	Deliverable() []domain.ImageJob
	Deselect(ids ...string)
}

// Sink stores finished archives. *storage.FileStore satisfies it.
type Sink interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// ProgressFunc receives the 1-based batch index before each transfer.
type ProgressFunc func(current, total int)

type Options struct {
	Packager  Packager
	Sink      Sink
	Clock     clock.Clock
	Logger    *infra.Logger
	Threshold int
	Delay     time.Duration
	Prefix    string
}

// Archive describes one stored zip.
type Archive struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Items int    `json:"items"`
	Bytes int    `json:"bytes"`
}

type Result struct {
	Archives []Archive `json:"archives"`
	Items    int       `json:"items"`
}

type Deliverer struct {
	opts Options
}

func NewDeliverer(opts Options) *Deliverer {
	if opts.Packager == nil {
		opts.Packager = LocalPackager{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = infra.NopLogger()
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if strings.TrimSpace(opts.Prefix) == "" {
		opts.Prefix = DefaultPrefix
	}
	return &Deliverer{opts: opts}
}

// Deliver ships the source's deliverable jobs and, when every batch
// succeeds, deselects them.
func (d *Deliverer) Deliver(ctx context.Context, src Source, progress ProgressFunc) (Result, error) {
	jobs := src.Deliverable()
	res, err := d.DeliverJobs(ctx, jobs, progress)
	if err != nil {
		return res, err
	}
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	src.Deselect(ids...)
	return res, nil
}

// DeliverJobs packs jobs, packages each batch in order and writes it to the
// sink. It stops at the first failing batch; archives already written stay.
func (d *Deliverer) DeliverJobs(ctx context.Context, jobs []domain.ImageJob, progress ProgressFunc) (Result, error) {
	if len(jobs) == 0 {
		return Result{}, ErrNothingToDeliver
	}
	if d.opts.Sink == nil {
		return Result{}, errors.New("delivery: no sink configured")
	}
	batches := Pack(Prepare(jobs), d.opts.Threshold)
	total := len(batches)
	stamp := d.opts.Clock.Now().UnixMilli()
	log := d.opts.Logger.With().Int("batches", total).Int("items", len(jobs)).Logger()
	log.Info().Msg("delivery: started")

	var res Result
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if progress != nil {
			progress(i+1, total)
		}
		data, err := d.opts.Packager.Package(ctx, batch.Items)
		if err != nil {
			log.Error().Err(err).Int("batch", i+1).Msg("delivery: package failed")
			if errors.Is(err, ErrBatchTooLarge) {
				return res, err
			}
			return res, fmt.Errorf("delivery: batch %d of %d: %w", i+1, total, err)
		}
		name := ArchiveName(i+1, total, stamp)
		key, err := d.opts.Sink.Write(ctx, path.Join(d.opts.Prefix, name), data)
		if err != nil {
			return res, fmt.Errorf("delivery: store %s: %w", name, err)
		}
		res.Archives = append(res.Archives, Archive{Key: key, Name: name, Items: len(batch.Items), Bytes: len(data)})
		res.Items += len(batch.Items)
		log.Debug().Str("key", key).Int("batch", i+1).Int("bytes", len(data)).Msg("delivery: batch stored")

		if i < total-1 {
			if err := d.opts.Clock.Sleep(ctx, d.opts.Delay); err != nil {
				return res, err
			}
		}
	}
	log.Info().Int("archives", len(res.Archives)).Msg("delivery: finished")
	return res, nil
}

// ArchiveName names batch n of total using a millisecond timestamp.
func ArchiveName(n, total int, unixMilli int64) string {
	if total > 1 {
		return fmt.Sprintf("imagepump-part%d-of-%d-%d.zip", n, total, unixMilli)
	}
	return fmt.Sprintf("imagepump-%d.zip", unixMilli)
}

// Prefix is the sink directory archives are written under.
func (d *Deliverer) Prefix() string { return d.opts.Prefix }
