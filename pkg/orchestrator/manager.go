// Package orchestrator runs download jobs in the background.
//
// A Manager owns the job registry and the cancellation set. Each submitted
// job runs on its own goroutine, exactly once:
//   - wait for a download slot (max concurrent downloads)
//   - move the job to downloading and resolve its output folder
//   - invoke the engine with a progress callback and a cancellation probe
//   - record the terminal status, whatever the engine did
//
// Status, list and cancel calls only touch the registry and never block on
// a running job.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/tunegrab/pkg/engine"
	"github.com/3leaps/tunegrab/pkg/jobregistry"
	"github.com/3leaps/tunegrab/pkg/pathplan"
)

// ErrShuttingDown is returned by Submit once Shutdown has begun.
var ErrShuttingDown = errors.New("service is shutting down")

// ShutdownMessage is recorded on jobs aborted by Shutdown.
const ShutdownMessage = "service shutting down"

// Defaults for Config.
const (
	DefaultAudioFormat  = "mp3"
	DefaultAudioQuality = "192"
)

// DefaultAllowedHosts are the source hosts accepted when none are configured.
var DefaultAllowedHosts = []string{
	"youtube.com",
	"www.youtube.com",
	"m.youtube.com",
	"music.youtube.com",
	"youtu.be",
}

// Settings are the runtime-adjustable placement and scheduling values.
type Settings struct {
	// DownloadDir is the root all output folders live under.
	DownloadDir string

	// OrganizeByDate places single-item jobs in a shared YYYY-MM-DD folder.
	OrganizeByDate bool

	// MaxConcurrent bounds simultaneously running engine invocations.
	// Zero means unlimited.
	MaxConcurrent int
}

// Publisher receives the files of completed jobs (e.g., an archive
// mirror). Publish errors are logged and never change the job status.
type Publisher interface {
	Publish(ctx context.Context, job jobregistry.Job, root string, files []string) error
}

// Config configures a Manager.
type Config struct {
	Settings Settings

	// AudioFormat and AudioQuality are passed to every engine request.
	// Default: mp3 at 192 kbps.
	AudioFormat  string
	AudioQuality string

	// AllowedHosts restricts submitted URLs. Default: DefaultAllowedHosts.
	AllowedHosts []string

	// ProgressLogInterval throttles per-job progress log lines.
	// Default: 2s
	ProgressLogInterval time.Duration

	// AbortGrace bounds how long Shutdown waits for aborted workers after
	// its context expires.
	// Default: 5s
	AbortGrace time.Duration
}

// Submission is a client request to start a job.
type Submission struct {
	URL string

	// CustomName replaces the title-derived filename. Single-item jobs only.
	CustomName string

	// Batch fetches the whole collection into a dedicated folder.
	Batch bool

	// FolderName names the batch folder. Empty means derive from the title.
	FolderName string

	Origin *jobregistry.Origin
}

// Manager coordinates job submission, execution and cancellation.
//
// Manager is safe for concurrent use.
type Manager struct {
	registry  *jobregistry.Registry
	cancels   *jobregistry.CancelSet
	engine    engine.Engine
	planner   *pathplan.Planner
	publisher Publisher
	limiter   *limiter
	logger    *zap.Logger
	cfg       Config

	baseCtx context.Context
	abort   context.CancelFunc

	mu       sync.Mutex
	settings Settings
	closed   bool
	done     map[string]chan struct{}
	wg       sync.WaitGroup
}

// Option customizes a Manager.
type Option func(*Manager)

// WithRegistry injects a registry (tests inspect it directly).
func WithRegistry(r *jobregistry.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// WithPlanner injects a path planner.
func WithPlanner(p *pathplan.Planner) Option {
	return func(m *Manager) { m.planner = p }
}

// WithPublisher attaches a publisher for completed jobs.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithLogger sets the logger. Nil disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a manager running jobs on eng.
func New(eng engine.Engine, cfg Config, opts ...Option) *Manager {
	if cfg.AudioFormat == "" {
		cfg.AudioFormat = DefaultAudioFormat
	}
	if cfg.AudioQuality == "" {
		cfg.AudioQuality = DefaultAudioQuality
	}
	if len(cfg.AllowedHosts) == 0 {
		cfg.AllowedHosts = DefaultAllowedHosts
	}
	if cfg.ProgressLogInterval <= 0 {
		cfg.ProgressLogInterval = 2 * time.Second
	}
	if cfg.AbortGrace <= 0 {
		cfg.AbortGrace = 5 * time.Second
	}

	baseCtx, abort := context.WithCancel(context.Background())
	m := &Manager{
		cancels:  jobregistry.NewCancelSet(),
		engine:   eng,
		logger:   zap.NewNop(),
		cfg:      cfg,
		settings: cfg.Settings,
		limiter:  newLimiter(cfg.Settings.MaxConcurrent),
		baseCtx:  baseCtx,
		abort:    abort,
		done:     make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = jobregistry.New()
	}
	if m.planner == nil {
		m.planner = pathplan.NewPlanner()
	}
	return m
}

// Registry exposes the underlying registry.
func (m *Manager) Registry() *jobregistry.Registry {
	return m.registry
}

// Settings returns the current runtime settings.
func (m *Manager) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// ApplySettings replaces the runtime settings. Running jobs keep the
// placement they resolved; the concurrency limit applies immediately.
func (m *Manager) ApplySettings(s Settings) {
	m.mu.Lock()
	m.settings = s
	m.mu.Unlock()

	m.limiter.SetLimit(s.MaxConcurrent)
	m.logger.Info("Settings applied",
		zap.String("download_dir", s.DownloadDir),
		zap.Bool("organize_by_date", s.OrganizeByDate),
		zap.Int("max_concurrent", s.MaxConcurrent))
}

// Submit validates sub, records a queued job and starts its worker. It
// returns as soon as the job is registered.
func (m *Manager) Submit(sub Submission) (jobregistry.Job, error) {
	sub.URL = strings.TrimSpace(sub.URL)
	if err := ValidateURL(sub.URL, m.cfg.AllowedHosts); err != nil {
		return jobregistry.Job{}, err
	}
	if sub.CustomName != "" {
		if sub.Batch {
			return jobregistry.Job{}, jobregistry.InvalidInput("Submit", "custom name applies to single-item downloads only")
		}
		if pathplan.Sanitize(sub.CustomName) == "" {
			return jobregistry.Job{}, jobregistry.InvalidInput("Submit", "custom name is empty after sanitizing")
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return jobregistry.Job{}, ErrShuttingDown
	}
	job := m.registry.Create(sub.URL, sub.Batch, sub.Origin)
	done := make(chan struct{})
	m.done[job.JobID] = done
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("Download queued",
		zap.String("job_id", job.JobID),
		zap.String("url", sub.URL),
		zap.Bool("batch", sub.Batch))

	go m.run(job.JobID, sub, done)
	return job, nil
}

// Get returns a snapshot of one job.
func (m *Manager) Get(jobID string) (jobregistry.Job, error) {
	return m.registry.Get(jobID)
}

// List returns all jobs, most recently created first.
func (m *Manager) List() []jobregistry.Job {
	return m.registry.List()
}

// Cancel requests cooperative cancellation. Repeating the request on a job
// that is already cancelling succeeds without effect.
func (m *Manager) Cancel(jobID string) (jobregistry.Job, error) {
	job, changed, err := m.registry.RequestCancel(jobID)
	if err != nil {
		return job, err
	}

	m.cancels.Request(jobID)
	// The worker may have finished between the two calls; it has already
	// cleared its marker, so drop the one we just set.
	if cur, err := m.registry.Get(jobID); err == nil && cur.State.IsTerminal() {
		m.cancels.Clear(jobID)
	}

	if changed {
		m.logger.Info("Cancellation requested", zap.String("job_id", jobID))
	}
	return job, nil
}

// Clear removes a terminal job from the registry.
func (m *Manager) Clear(jobID string) error {
	if err := m.registry.Remove(jobID); err != nil {
		return err
	}
	m.cancels.Clear(jobID)

	m.mu.Lock()
	delete(m.done, jobID)
	m.mu.Unlock()
	return nil
}

// Wait blocks until the job reaches a terminal status or ctx is done.
func (m *Manager) Wait(ctx context.Context, jobID string) (jobregistry.Job, error) {
	m.mu.Lock()
	done, ok := m.done[jobID]
	m.mu.Unlock()
	if !ok {
		return m.registry.Get(jobID)
	}

	select {
	case <-done:
		return m.registry.Get(jobID)
	case <-ctx.Done():
		return jobregistry.Job{}, ctx.Err()
	}
}

// Shutdown stops accepting submissions and waits for running jobs. When
// ctx expires first, remaining engine invocations are aborted and their
// jobs end cancelled with ShutdownMessage.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		m.abort()
		return nil
	case <-ctx.Done():
	}

	m.logger.Warn("Shutdown deadline reached; aborting running downloads")
	m.abort()

	select {
	case <-finished:
	case <-time.After(m.cfg.AbortGrace):
		return fmt.Errorf("workers still running after abort: %w", ctx.Err())
	}
	return ctx.Err()
}
