package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/tunegrab/pkg/engine"
	"github.com/3leaps/tunegrab/pkg/jobregistry"
	"github.com/3leaps/tunegrab/pkg/pathplan"
)

// titleTemplate is the engine placeholder for the item title.
const titleTemplate = "%(title)s"

// run executes one job. Every exit path leaves the job terminal and its
// cancellation marker removed.
func (m *Manager) run(jobID string, sub Submission, done chan struct{}) {
	logger := m.logger.With(zap.String("job_id", jobID))

	defer m.wg.Done()
	defer close(done)
	defer m.cancels.Clear(jobID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Download worker panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			m.finish(logger, jobID, jobregistry.Outcome{
				State:        jobregistry.JobStateError,
				ErrorMessage: fmt.Sprintf("internal error: %v", r),
			})
		}
	}()

	if err := m.limiter.Acquire(m.baseCtx, m.cancels.Done(jobID)); err != nil {
		m.finish(logger, jobID, m.abortOutcome())
		return
	}
	defer m.limiter.Release()

	if _, err := m.registry.Transition(jobID, jobregistry.JobStateDownloading); err != nil {
		// Cancelled while queued.
		m.finish(logger, jobID, m.abortOutcome())
		return
	}

	settings := m.Settings()
	ctx := m.baseCtx

	var meta *engine.Metadata
	folderName := sub.FolderName
	if sub.Batch {
		meta = m.probe(ctx, logger, sub.URL)
		if folderName == "" && meta != nil {
			folderName = meta.Title
		}
	}

	plan, err := m.planner.Resolve(settings.DownloadDir,
		pathplan.ForJob(sub.Batch, folderName, settings.OrganizeByDate))
	if err != nil {
		m.finish(logger, jobID, jobregistry.Outcome{
			State:        jobregistry.JobStateError,
			ErrorMessage: fmt.Sprintf("prepare output folder: %v", err),
		})
		return
	}
	_ = m.registry.SetOutputDir(jobID, plan.Dir)
	logger.Info("Download started", zap.String("url", sub.URL), zap.String("dir", plan.Dir))

	if m.cancels.Requested(jobID) {
		m.finish(logger, jobID, jobregistry.Outcome{State: jobregistry.JobStateCancelled})
		return
	}

	tracker := newProgressTracker(jobID, m.registry, sub.Batch, entryCount(meta), m.cfg.ProgressLogInterval, logger)
	req := engine.Request{
		URL:            sub.URL,
		OutputTemplate: filepath.Join(plan.Dir, outputName(sub.CustomName)),
		AudioFormat:    m.cfg.AudioFormat,
		AudioQuality:   m.cfg.AudioQuality,
		Items:          engine.ItemsSingle,
		Metadata:       meta,
		OnProgress:     tracker.Observe,
		Cancelled:      func() bool { return m.cancels.Requested(jobID) },
	}
	if sub.Batch {
		req.Items = engine.ItemsAll
		req.IgnoreItemErrors = true
	}

	res, err := m.engine.Fetch(ctx, req)
	out := m.outcome(sub, plan, res, err)
	job := m.finish(logger, jobID, out)

	if job.State == jobregistry.JobStateCompleted && m.publisher != nil {
		if perr := m.publisher.Publish(ctx, job, settings.DownloadDir, res.Files()); perr != nil {
			logger.Warn("Publishing downloaded files failed", zap.Error(perr))
		}
	}
}

// outcome converts the engine result into a terminal registry outcome.
func (m *Manager) outcome(sub Submission, plan *pathplan.Plan, res *engine.Result, err error) jobregistry.Outcome {
	switch {
	case err != nil && engine.IsCancellation(err):
		return jobregistry.Outcome{State: jobregistry.JobStateCancelled}
	case err != nil && m.baseCtx.Err() != nil:
		return jobregistry.Outcome{State: jobregistry.JobStateCancelled, ErrorMessage: ShutdownMessage}
	case err != nil:
		return jobregistry.Outcome{State: jobregistry.JobStateError, ErrorMessage: err.Error()}
	case res == nil:
		return jobregistry.Outcome{State: jobregistry.JobStateError, ErrorMessage: "engine returned no result"}
	}

	title := res.Title
	if sub.Batch {
		if title == "" {
			title = plan.Folder
		}
		fetched, skipped := res.Counts()
		return jobregistry.Outcome{
			State:         jobregistry.JobStateCompleted,
			Title:         title,
			ResultMessage: BatchSummary(fetched, skipped),
		}
	}

	if title == "" {
		title = pathplan.Sanitize(sub.CustomName)
	}
	return jobregistry.Outcome{
		State:         jobregistry.JobStateCompleted,
		Title:         title,
		ResultMessage: "saved to " + plan.Dir,
	}
}

// BatchSummary renders the result message of a collection job.
func BatchSummary(fetched, skipped int) string {
	return fmt.Sprintf("%d succeeded, %d skipped", fetched, skipped)
}

// abortOutcome is used when a run ends before the engine starts.
func (m *Manager) abortOutcome() jobregistry.Outcome {
	if m.baseCtx.Err() != nil {
		return jobregistry.Outcome{State: jobregistry.JobStateCancelled, ErrorMessage: ShutdownMessage}
	}
	return jobregistry.Outcome{State: jobregistry.JobStateCancelled}
}

func (m *Manager) finish(logger *zap.Logger, jobID string, out jobregistry.Outcome) jobregistry.Job {
	job, err := m.registry.Finish(jobID, out)
	if err != nil {
		// Already terminal (e.g., finished before a panic) or cleared.
		if !errors.Is(err, jobregistry.ErrInvalidState) && !errors.Is(err, jobregistry.ErrNotFound) {
			logger.Error("Recording job outcome failed", zap.Error(err))
		}
		return job
	}

	fields := []zap.Field{zap.String("status", string(job.State))}
	switch job.State {
	case jobregistry.JobStateCompleted:
		fields = append(fields, zap.String("title", job.Title))
		if job.ResultMessage != "" {
			fields = append(fields, zap.String("result", job.ResultMessage))
		}
		logger.Info("Download finished", fields...)
	case jobregistry.JobStateCancelled:
		logger.Info("Download cancelled", append(fields, zap.String("reason", job.ErrorMessage))...)
	default:
		logger.Warn("Download failed", append(fields, zap.String("error", job.ErrorMessage))...)
	}
	return job
}

func (m *Manager) probe(ctx context.Context, logger *zap.Logger, sourceURL string) *engine.Metadata {
	meta, err := m.engine.Probe(ctx, sourceURL)
	if err != nil {
		logger.Warn("Metadata probe failed; using fallback folder name", zap.Error(err))
		return nil
	}
	return meta
}

func entryCount(meta *engine.Metadata) int {
	if meta == nil {
		return 0
	}
	return meta.EntryCount
}

// outputName is the filename pattern handed to the engine. Percent signs in
// custom names are escaped so they are not read as template fields.
func outputName(customName string) string {
	name := pathplan.Sanitize(customName)
	if name == "" {
		name = titleTemplate
	} else {
		name = strings.ReplaceAll(name, "%", "%%")
	}
	return name + ".%(ext)s"
}
