package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"imagepump/internal/clock"
	"imagepump/internal/domain"
	"imagepump/internal/infra"
	"imagepump/internal/providers"
	"imagepump/internal/providers/image"
	"imagepump/internal/retry"
)

// DefaultItemDelay is the pause between two provider calls of one run.
const DefaultItemDelay = time.Second

// Mode selects between editing uploads and generating from text.
type Mode string

const (
	ModeEdit     Mode = "edit"
	ModeGenerate Mode = "generate"
)

// GeneratorSource hands out the adapter for a provider, credential and model.
// *image.Registry satisfies it.
type GeneratorSource interface {
	Get(providerID, credential, model string) (image.Generator, error)
}

// Metrics receives per-job and per-run measurements.
type Metrics interface {
	ObserveJob(provider, status string, attempts int, took time.Duration)
	ObserveRun(provider string, summary domain.Summary)
}

// RunConfig is everything a run needs besides the queue.
type RunConfig struct {
	Provider   string
	Credential string
	Model      string
	Mode       Mode
}

// RunStatus describes the active or most recent run.
type RunStatus struct {
	Running      bool            `json:"running"`
	Provider     string          `json:"provider,omitempty"`
	StartedAt    time.Time       `json:"started_at,omitempty"`
	Total        int             `json:"total"`
	Done         int             `json:"done"`
	CurrentJobID string          `json:"current_job_id,omitempty"`
	LastSummary  *domain.Summary `json:"last_summary,omitempty"`
}

// Options configures an Orchestrator.
type Options struct {
	Queue      *Queue
	Generators GeneratorSource
	Retry      retry.Controller
	ItemDelay  time.Duration
	Clock      clock.Clock
	Logger     *infra.Logger
	Metrics    Metrics
}

// Orchestrator runs pending jobs one at a time through the selected provider.
type Orchestrator struct {
	queue      *Queue
	generators GeneratorSource
	retry      retry.Controller
	itemDelay  time.Duration
	clock      clock.Clock
	logger     *infra.Logger
	metrics    Metrics

	obsMu     sync.RWMutex
	observers []Observer

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	status RunStatus
}

func NewOrchestrator(opts Options) *Orchestrator {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	delay := opts.ItemDelay
	if delay < 0 {
		delay = 0
	}
	rc := opts.Retry
	if rc.Clock == nil {
		rc.Clock = clk
	}
	if rc.Logger == nil {
		rc.Logger = logger
	}
	return &Orchestrator{
		queue:      opts.Queue,
		generators: opts.Generators,
		retry:      rc,
		itemDelay:  delay,
		clock:      clk,
		logger:     logger,
		metrics:    opts.Metrics,
	}
}

// Observe registers fn for every future event.
func (o *Orchestrator) Observe(fn Observer) {
	o.obsMu.Lock()
	o.observers = append(o.observers, fn)
	o.obsMu.Unlock()
}

func (o *Orchestrator) emit(ev Event) {
	ev.At = o.clock.Now()
	o.obsMu.RLock()
	defer o.obsMu.RUnlock()
	for _, fn := range o.observers {
		fn(ev)
	}
}

func (o *Orchestrator) emitJob(job domain.ImageJob) {
	job.SourceBytes = nil
	job.Result = nil
	o.emit(Event{Type: EventJobUpdated, Job: &job})
}

type plan struct {
	cfg       RunConfig
	generator image.Generator
	ids       []string
	single    string
}

// Start validates cfg against the queue and processes it in the background.
// Validation errors and ErrRunInProgress are returned before any job moves.
func (o *Orchestrator) Start(ctx context.Context, cfg RunConfig) error {
	p, err := o.claim(cfg)
	if err != nil {
		return err
	}
	runCtx, done := o.begin(context.WithoutCancel(ctx), p)
	go func() {
		defer done()
		o.execute(runCtx, p)
	}()
	return nil
}

// Run is Start without the goroutine: it returns once every job has been
// handled or the run was cancelled.
func (o *Orchestrator) Run(ctx context.Context, cfg RunConfig) (domain.Summary, error) {
	p, err := o.claim(cfg)
	if err != nil {
		return domain.Summary{}, err
	}
	runCtx, done := o.begin(ctx, p)
	defer done()
	return o.execute(runCtx, p), nil
}

// claim takes ownership of the queue and validates the run. The queue is
// released again when validation fails.
func (o *Orchestrator) claim(cfg RunConfig) (*plan, error) {
	if !o.queue.tryBeginRun() {
		return nil, domain.ErrRunInProgress
	}
	p, err := o.prepare(cfg)
	if err != nil {
		o.queue.endRun()
		return nil, err
	}
	return p, nil
}

// Cancel stops the active run. It returns false when nothing is running.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel == nil {
		return false
	}
	o.cancel()
	return true
}

// Wait blocks until the active run, if any, has finished.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status returns the active run's progress, or the last summary when idle.
func (o *Orchestrator) Status() RunStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.status
	if st.LastSummary != nil {
		s := *st.LastSummary
		st.LastSummary = &s
	}
	return st
}

// GenerateSingle runs one text-to-image request outside of a queue run and
// appends the result as a new completed job.
func (o *Orchestrator) GenerateSingle(ctx context.Context, cfg RunConfig, prompt string) (domain.ImageJob, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return domain.ImageJob{}, domain.Validationf("Please set a prompt for generation")
	}
	gen, err := o.generator(cfg)
	if err != nil {
		return domain.ImageJob{}, err
	}
	if !o.queue.tryBeginRun() {
		return domain.ImageJob{}, domain.ErrRunInProgress
	}
	defer o.queue.endRun()
	return o.generateOne(ctx, cfg, gen, prompt)
}

func (o *Orchestrator) generator(cfg RunConfig) (image.Generator, error) {
	provider, ok := providers.Lookup(cfg.Provider)
	if !ok {
		return nil, domain.Validationf("unknown provider %q", cfg.Provider)
	}
	if strings.TrimSpace(cfg.Credential) == "" && !provider.CredentialOptional {
		return nil, &domain.ValidationError{Message: "Please set an API key for the selected provider"}
	}
	gen, err := o.generators.Get(provider.ID, cfg.Credential, cfg.Model)
	if err != nil {
		return nil, err
	}
	return gen, nil
}

// prepare performs every up-front check of a run. The caller holds the queue.
func (o *Orchestrator) prepare(cfg RunConfig) (*plan, error) {
	gen, err := o.generator(cfg)
	if err != nil {
		return nil, err
	}
	p := &plan{cfg: cfg, generator: gen, ids: o.queue.pendingIDs()}
	if len(p.ids) == 0 {
		if cfg.Mode == ModeGenerate && o.queue.DefaultPrompt() != "" {
			p.single = o.queue.DefaultPrompt()
			return p, nil
		}
		return nil, domain.Validationf("No images to process")
	}
	if n := o.queue.unresolved(p.ids); n > 0 {
		return nil, domain.Validationf("%d image(s) have no prompt assigned. Please set a default prompt or assign them to a group.", n)
	}
	return p, nil
}

// begin claims the queue and installs the cancellation token.
func (o *Orchestrator) begin(parent context.Context, p *plan) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	o.mu.Lock()
	o.cancel = cancel
	o.done = done
	total := len(p.ids)
	if p.single != "" {
		total = 1
	}
	o.status = RunStatus{
		Running:     true,
		Provider:    p.cfg.Provider,
		StartedAt:   o.clock.Now(),
		Total:       total,
		LastSummary: o.status.LastSummary,
	}
	o.mu.Unlock()

	return ctx, func() {
		cancel()
		o.queue.endRun()
		o.mu.Lock()
		o.cancel = nil
		o.done = nil
		o.status.Running = false
		o.status.CurrentJobID = ""
		o.mu.Unlock()
		close(done)
	}
}

func (o *Orchestrator) execute(ctx context.Context, p *plan) domain.Summary {
	o.logger.Info().
		Str("provider", p.cfg.Provider).
		Int("jobs", len(p.ids)).
		Msg("pipeline: run started")
	o.emit(Event{Type: EventRunStarted, Total: o.Status().Total})

	var summary domain.Summary
	if p.single != "" {
		summary = o.executeSingle(ctx, p)
	} else {
		summary = o.executeQueue(ctx, p)
	}

	o.mu.Lock()
	o.status.LastSummary = &summary
	o.mu.Unlock()
	if o.metrics != nil {
		o.metrics.ObserveRun(p.cfg.Provider, summary)
	}
	o.logger.Info().
		Str("provider", p.cfg.Provider).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("cancelled", summary.Cancelled).
		Msg("pipeline: run finished")
	o.emit(Event{Type: EventRunFinished, Summary: &summary})
	return summary
}

func (o *Orchestrator) executeSingle(ctx context.Context, p *plan) domain.Summary {
	summary := domain.Summary{Total: 1}
	_, err := o.generateOne(ctx, p.cfg, p.generator, p.single)
	switch {
	case err == nil:
		summary.Succeeded = 1
	case ctx.Err() != nil:
		summary.Cancelled = 1
	default:
		summary.Failed = 1
	}
	return summary
}

func (o *Orchestrator) generateOne(ctx context.Context, cfg RunConfig, gen image.Generator, prompt string) (domain.ImageJob, error) {
	start := o.clock.Now()
	out := o.retry.Do(ctx, func(ctx context.Context) ([]byte, error) {
		return gen.Generate(ctx, nil, prompt)
	})
	switch {
	case out.Cancelled:
		o.observeJob(cfg.Provider, "cancelled", out.Attempts, start)
		return domain.ImageJob{}, context.Canceled
	case out.Err != nil:
		o.observeJob(cfg.Provider, string(domain.JobStatusFailed), out.Attempts, start)
		o.logger.Warn().Err(out.Err).Str("provider", cfg.Provider).Msg("pipeline: generation failed")
		return domain.ImageJob{}, out.Err
	}
	job := o.queue.appendGenerated("generated.png", out.Result, http.DetectContentType(out.Result))
	o.observeJob(cfg.Provider, string(domain.JobStatusCompleted), out.Attempts, start)
	o.emitJob(job)
	return job, nil
}

func (o *Orchestrator) executeQueue(ctx context.Context, p *plan) domain.Summary {
	summary := domain.Summary{Total: len(p.ids)}
	for i, id := range p.ids {
		if ctx.Err() != nil {
			summary.Cancelled += len(p.ids) - i
			break
		}
		switch o.processJob(ctx, p, id) {
		case domain.JobStatusCompleted:
			summary.Succeeded++
		case domain.JobStatusFailed:
			summary.Failed++
		default:
			summary.Cancelled++
		}
		o.mu.Lock()
		o.status.Done = i + 1
		o.mu.Unlock()

		if i < len(p.ids)-1 && o.itemDelay > 0 {
			if err := o.clock.Sleep(ctx, o.itemDelay); err != nil {
				summary.Cancelled += len(p.ids) - i - 1
				break
			}
		}
	}
	return summary
}

// processJob walks one job through processing. It returns the status the
// job ended in; pending means the run was cancelled during the call.
func (o *Orchestrator) processJob(ctx context.Context, p *plan, id string) domain.JobStatus {
	// Resolved once; every retry of this job reuses the same prompt.
	prompt, ok := o.queue.ResolvePrompt(id)
	job, err := o.queue.markProcessing(id)
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", id).Msg("pipeline: job vanished before processing")
		return domain.JobStatusPending
	}
	o.mu.Lock()
	o.status.CurrentJobID = id
	o.mu.Unlock()
	o.emitJob(job)

	start := o.clock.Now()
	if !ok {
		job, _ = o.queue.fail(id, "No prompt assigned")
		o.emitJob(job)
		return domain.JobStatusFailed
	}

	if job, err = o.queue.setProgress(id, 30); err == nil {
		o.emitJob(job)
	}
	source := job.SourceBytes
	out := o.retry.Do(ctx, func(ctx context.Context) ([]byte, error) {
		return p.generator.Generate(ctx, source, prompt)
	})
	if !out.Cancelled {
		if job, err = o.queue.setProgress(id, 70); err == nil {
			o.emitJob(job)
		}
	}

	var status domain.JobStatus
	switch {
	case out.Cancelled:
		job, err = o.queue.requeue(id)
		status = domain.JobStatusPending
		o.observeJob(p.cfg.Provider, "cancelled", out.Attempts, start)
	case out.Err != nil:
		job, err = o.queue.fail(id, errorMessage(out.Err))
		status = domain.JobStatusFailed
		o.observeJob(p.cfg.Provider, string(status), out.Attempts, start)
		o.logger.Warn().
			Err(out.Err).
			Str("job_id", id).
			Str("provider", p.cfg.Provider).
			Int("attempts", out.Attempts).
			Msg("pipeline: job failed")
	default:
		job, err = o.queue.complete(id, out.Result, http.DetectContentType(out.Result))
		status = domain.JobStatusCompleted
		o.observeJob(p.cfg.Provider, string(status), out.Attempts, start)
		o.logger.Debug().
			Str("job_id", id).
			Int("bytes", len(out.Result)).
			Msg("pipeline: job completed")
	}
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", id).Msg("pipeline: record outcome")
		return status
	}
	o.emitJob(job)
	return status
}

func (o *Orchestrator) observeJob(provider, status string, attempts int, start time.Time) {
	if o.metrics != nil {
		o.metrics.ObserveJob(provider, status, attempts, o.clock.Now().Sub(start))
	}
}

// errorMessage keeps provider messages verbatim and falls back to the error text.
func errorMessage(err error) string {
	var perr *image.Error
	if errors.As(err, &perr) && perr.Message != "" {
		return perr.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Unknown error"
}
