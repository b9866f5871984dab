package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/heimdex/heimdex-render/internal/composition"
	"github.com/heimdex/heimdex-render/internal/design"
	"github.com/heimdex/heimdex-render/internal/engine"
	"github.com/heimdex/heimdex-render/internal/logging"
)

const (
	DefaultURLPrefix       = "/renders"
	DefaultMaxConcurrent   = 2
	DefaultStallTimeout    = 2 * time.Minute
	DefaultRetention       = time.Hour
	DefaultJanitorInterval = time.Minute

	maxErrorLen = 1024
)

// ErrShutdown is the cancellation cause for runs interrupted by Shutdown.
var ErrShutdown = errors.New("render service shutting down")

// Notifier is told about every job that reaches a terminal state.
type Notifier interface {
	Notify(ctx context.Context, job *Job) error
}

// Options are the caller's render options.
type Options struct {
	FPS    design.Number `json:"fps"`
	Size   design.Size   `json:"size"`
	Format string        `json:"format,omitempty"`
}

// Settings converts options into composition settings.
func (o *Options) Settings() composition.Settings {
	if o == nil {
		return composition.Settings{}
	}
	return composition.Settings{
		FPS:    o.FPS.Or(0),
		Width:  int(math.Round(o.Size.Width.Or(0))),
		Height: int(math.Round(o.Size.Height.Or(0))),
	}
}

// SubmitRequest is the body of a render submission.
type SubmitRequest struct {
	Design  *design.Design `json:"design"`
	Options *Options       `json:"options"`
}

// Config configures a Manager.
type Config struct {
	Engine engine.Engine
	Store  Store

	// RendersDir receives <jobID>.<format> artifacts, served under URLPrefix.
	RendersDir string
	URLPrefix  string

	MaxConcurrent   int
	StallTimeout    time.Duration
	Retention       time.Duration
	JanitorInterval time.Duration

	Notifier Notifier
	Logger   *slog.Logger
}

// Manager accepts render requests and drives each one to a terminal state.
// Every job has exactly one run goroutine, which is the only writer of its
// progress.
type Manager struct {
	engine          engine.Engine
	store           Store
	rendersDir      string
	urlPrefix       string
	stallTimeout    time.Duration
	retention       time.Duration
	janitorInterval time.Duration
	notifier        Notifier
	logger          *slog.Logger

	sem  *semaphore.Weighted
	base context.Context
	stop context.CancelCauseFunc

	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc

	wg     sync.WaitGroup
	closed atomic.Bool
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("render engine is required")
	}
	if cfg.RendersDir == "" {
		return nil, fmt.Errorf("renders directory is required")
	}
	if err := os.MkdirAll(cfg.RendersDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create renders directory: %w", err)
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.URLPrefix == "" {
		cfg.URLPrefix = DefaultURLPrefix
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = DefaultJanitorInterval
	}

	base, stop := context.WithCancelCause(context.Background())
	return &Manager{
		engine:          cfg.Engine,
		store:           cfg.Store,
		rendersDir:      cfg.RendersDir,
		urlPrefix:       cfg.URLPrefix,
		stallTimeout:    cfg.StallTimeout,
		retention:       cfg.Retention,
		janitorInterval: cfg.JanitorInterval,
		notifier:        cfg.Notifier,
		logger:          logging.WithComponent(logging.OrDiscard(cfg.Logger), "render"),
		sem:             semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		base:            base,
		stop:            stop,
		cancels:         make(map[string]context.CancelCauseFunc),
	}, nil
}

// Submit validates req, records a PENDING job and starts rendering it in
// the background. It returns as soon as the job is stored.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if req.Design == nil {
		return nil, &ValidationError{Field: "design", Message: "design is required"}
	}
	if req.Options == nil {
		return nil, &ValidationError{Field: "options", Message: "options are required"}
	}
	format, err := engine.ParseFormat(req.Options.Format)
	if err != nil {
		return nil, &ValidationError{Field: "options.format", Message: err.Error()}
	}
	if err := checkLimits(req); err != nil {
		return nil, err
	}
	if m.closed.Load() {
		return nil, ErrShutdown
	}

	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Format:    string(format),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to store job: %w", err)
	}

	runCtx, cancel := context.WithCancelCause(m.base)
	m.mu.Lock()
	m.cancels[job.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(runCtx, job.ID, req.Design, req.Options.Settings(), format)

	m.logger.Info("render job submitted", "job_id", job.ID, "format", format)
	return job, nil
}

func checkLimits(req SubmitRequest) error {
	err := design.CheckFPS("options.fps", req.Options.FPS)
	if err == nil {
		items, _ := design.Merge(req.Design)
		err = design.CheckLimits(req.Design, items)
	}
	var le *design.LimitError
	if errors.As(err, &le) {
		return &ValidationError{Field: le.Field, Message: le.Error()}
	}
	return err
}

// Status returns a snapshot of the job.
func (m *Manager) Status(ctx context.Context, id string) (*Job, error) {
	return m.store.Get(ctx, id)
}

// List returns recent jobs, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]*Job, error) {
	return m.store.List(ctx, limit)
}

// Cancel stops a pending or running job and marks it CANCELLED. Jobs that
// already finished return ErrTerminal with their final state.
func (m *Manager) Cancel(ctx context.Context, id string) (*Job, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, ErrTerminal
	}

	m.mu.Lock()
	cancel := m.cancels[id]
	m.mu.Unlock()
	if cancel != nil {
		cancel(ErrCancelled)
	}

	job, err = m.terminate(ctx, id, func(j *Job) error {
		j.finish(StatusCancelled, time.Now().UTC())
		j.Error = ErrCancelled.Error()
		return nil
	})
	if errors.Is(err, ErrTerminal) && job != nil && job.Status == StatusCancelled {
		// The run goroutine observed the cancel first.
		return job, nil
	}
	return job, err
}

func (m *Manager) run(ctx context.Context, id string, d *design.Design, s composition.Settings, format engine.Format) {
	defer m.wg.Done()
	defer m.forget(id)
	logger := logging.WithJobID(m.logger, id)

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.complete(logger, id, format, context.Cause(ctx))
		return
	}
	defer m.sem.Release(1)

	start := time.Now()
	err := m.execute(ctx, logger, id, d, s, format)
	if err != nil && ctx.Err() != nil {
		err = context.Cause(ctx)
	}
	m.complete(logger, id, format, err)

	if c, ok := m.engine.(interface{ Cleanup(jobID string) error }); ok {
		if cerr := c.Cleanup(id); cerr != nil {
			logger.Warn("failed to clean up bundle", "error", cerr)
		}
	}
	logger.Debug("render run finished", "duration", time.Since(start))
}

func (m *Manager) execute(ctx context.Context, logger *slog.Logger, id string, d *design.Design, s composition.Settings, format engine.Format) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("render panicked", "panic", r)
			err = fmt.Errorf("render panic: %v", r)
		}
	}()

	if err := m.advance(ctx, id, ProgressStarted, true); err != nil {
		return err
	}

	bundle, err := m.engine.Bundle(ctx, id, d, s)
	if err != nil {
		return fmt.Errorf("bundle failed: %w", err)
	}
	if err := m.advance(ctx, id, ProgressBundled, false); err != nil {
		return err
	}

	plan, err := m.engine.SelectComposition(ctx, bundle)
	if err != nil {
		return fmt.Errorf("select composition failed: %w", err)
	}
	if err := m.advance(ctx, id, ProgressSelected, false); err != nil {
		return err
	}
	logger.Info("composition selected",
		"frames", plan.DurationInFrames,
		"fps", plan.FPS,
		"width", plan.Width,
		"height", plan.Height,
		"groups", len(plan.Groups),
	)

	return m.renderMedia(ctx, id, plan, format)
}

// renderMedia runs the executor and folds its progress into the job. A gap
// longer than the stall timeout between progress messages cancels the
// executor with ErrStalled.
func (m *Manager) renderMedia(ctx context.Context, id string, plan *composition.Plan, format engine.Format) error {
	rctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	progress := make(chan float64)
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("render panic: %v", r)
			}
		}()
		done <- m.engine.RenderMedia(rctx, plan, format, m.OutputPath(id, format), progress)
	}()

	var stall <-chan time.Time
	var timer *time.Timer
	if m.stallTimeout > 0 {
		timer = time.NewTimer(m.stallTimeout)
		defer timer.Stop()
		stall = timer.C
	}

	for {
		select {
		case f := <-progress:
			if timer != nil {
				timer.Reset(m.stallTimeout)
			}
			if err := m.advance(ctx, id, RenderProgress(f), false); err != nil && ctx.Err() == nil {
				m.logger.Warn("failed to record progress", "job_id", id, "error", err)
			}
		case err := <-done:
			if err != nil {
				return fmt.Errorf("render media failed: %w", err)
			}
			return nil
		case <-stall:
			cancel(ErrStalled)
			<-done
			return fmt.Errorf("%w: no progress for %s", ErrStalled, m.stallTimeout)
		}
	}
}

// RenderProgress maps an executor fraction onto the 50..100 band.
func RenderProgress(f float64) int {
	if math.IsNaN(f) || f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return int(math.Round(ProgressSelected + f*(ProgressDone-ProgressSelected)))
}

// advance records a progress milestone, optionally moving the job to PROCESSING.
func (m *Manager) advance(ctx context.Context, id string, progress int, processing bool) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	_, err := m.store.Update(ctx, id, func(j *Job) error {
		if processing {
			j.Status = StatusProcessing
		}
		j.Progress = progress
		return nil
	})
	if errors.Is(err, ErrTerminal) {
		return ErrCancelled
	}
	return err
}

// complete records the outcome of a run.
func (m *Manager) complete(logger *slog.Logger, id string, format engine.Format, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	outputPath := m.OutputPath(id, format)
	job, err := m.terminate(ctx, id, func(j *Job) error {
		now := time.Now().UTC()
		switch {
		case runErr == nil:
			j.finish(StatusCompleted, now)
			j.Progress = ProgressDone
			j.OutputPath = outputPath
			j.URL = m.URL(id, format)
		case errors.Is(runErr, ErrStalled):
			j.finish(StatusTimeout, now)
			j.Error = truncateStr(runErr.Error(), maxErrorLen)
		case errors.Is(runErr, ErrCancelled), errors.Is(runErr, ErrShutdown):
			j.finish(StatusCancelled, now)
			j.Error = runErr.Error()
		default:
			j.finish(StatusError, now)
			j.Error = errorMessage(runErr)
		}
		return nil
	})
	if errors.Is(err, ErrTerminal) {
		// Already settled by Cancel.
		if runErr == nil {
			os.Remove(outputPath)
		}
		return
	}
	if err != nil {
		logger.Error("failed to record job outcome", "error", err)
		return
	}

	switch job.Status {
	case StatusCompleted:
		logger.Info("render completed", "url", job.URL)
	case StatusError:
		logger.Error("render failed", "error", job.Error)
	default:
		logger.Warn("render stopped", "status", job.Status, "reason", job.Error)
	}
}

// terminate applies a terminal update and notifies on success.
func (m *Manager) terminate(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	job, err := m.store.Update(ctx, id, fn)
	if err != nil {
		return job, err
	}
	if m.notifier != nil && job.Status.Terminal() {
		m.wg.Add(1)
		go func(j *Job) {
			defer m.wg.Done()
			nctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := m.notifier.Notify(nctx, j); err != nil {
				m.logger.Warn("job notification failed", "job_id", j.ID, "error", err)
			}
		}(job.Clone())
	}
	return job, nil
}

func errorMessage(err error) string {
	if err == nil || err.Error() == "" {
		return UnknownErrorMessage
	}
	return truncateStr(err.Error(), maxErrorLen)
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	cancel := m.cancels[id]
	delete(m.cancels, id)
	m.mu.Unlock()
	if cancel != nil {
		cancel(nil)
	}
}

// OutputPath is where the artifact of job id is written.
func (m *Manager) OutputPath(id string, format engine.Format) string {
	return filepath.Join(m.rendersDir, id+"."+string(format))
}

// URL is the public location of the artifact of job id.
func (m *Manager) URL(id string, format engine.Format) string {
	return path.Join(m.urlPrefix, id+"."+string(format))
}

// RendersDir returns the artifact directory.
func (m *Manager) RendersDir() string {
	return m.rendersDir
}

// Active returns the number of jobs with a live run goroutine.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancels)
}

// Start runs the retention janitor until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.janitorInterval)
	defer ticker.Stop()

	m.logger.Info("render janitor started", "retention", m.retention, "interval", m.janitorInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.base.Done():
			return
		case now := <-ticker.C:
			if _, err := m.Sweep(ctx, now); err != nil {
				m.logger.Warn("janitor sweep failed", "error", err)
			}
		}
	}
}

// Sweep evicts jobs that finished more than the retention period before
// now, along with artifacts of the same age.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-m.retention)
	n, err := m.store.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to evict jobs: %w", err)
	}
	if n > 0 {
		m.logger.Info("evicted finished jobs", "count", n)
	}

	entries, err := os.ReadDir(m.rendersDir)
	if err != nil {
		return n, nil
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(m.rendersDir, e.Name())); err == nil {
			m.logger.Debug("removed expired artifact", "file", e.Name())
		}
	}
	return n, nil
}

// Shutdown stops accepting jobs, cancels runs in flight and waits for them
// to settle or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closed.Store(true)
	m.stop(ErrShutdown)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every submitted run and notification has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}
