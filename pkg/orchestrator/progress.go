package orchestrator

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/tunegrab/pkg/engine"
	"github.com/3leaps/tunegrab/pkg/jobregistry"
)

// progressTracker turns engine byte events into the job's 0..100 progress.
//
// For collection jobs with a known item count, progress is aggregated over
// items: (finished*100 + current) / count. Without a count, the current
// item's ratio is reported, capped below 100 until the job completes; the
// registry keeps the value monotone.
//
// A tracker belongs to a single run and is not safe for concurrent use.
type progressTracker struct {
	jobID    string
	registry *jobregistry.Registry
	batch    bool
	items    int
	finished int

	logLimiter *rate.Limiter
	logger     *zap.Logger
}

func newProgressTracker(jobID string, registry *jobregistry.Registry, batch bool, items int, logEvery time.Duration, logger *zap.Logger) *progressTracker {
	return &progressTracker{
		jobID:      jobID,
		registry:   registry,
		batch:      batch,
		items:      items,
		logLimiter: rate.NewLimiter(rate.Every(logEvery), 1),
		logger:     logger,
	}
}

// Observe applies one progress event.
func (t *progressTracker) Observe(ev engine.ProgressEvent) {
	var current int
	switch ev.Phase {
	case engine.PhaseInProgress:
		p, ok := ev.Ratio()
		if !ok {
			return
		}
		current = p
	case engine.PhaseFinished:
		current = 100
	default:
		return
	}

	value := t.aggregate(current)
	if ev.Phase == engine.PhaseFinished && t.batch {
		t.finished++
	}

	stored, err := t.registry.SetProgress(t.jobID, value)
	if err != nil {
		return
	}
	if t.logLimiter.Allow() {
		t.logger.Debug("Download progress",
			zap.Int("progress", stored),
			zap.String("file", ev.Filename))
	}
}

func (t *progressTracker) aggregate(current int) int {
	if !t.batch {
		return current
	}
	if t.items <= 0 {
		return min(current, 99)
	}
	done := t.finished
	if done >= t.items {
		return 100
	}
	return (done*100 + current) / t.items
}
