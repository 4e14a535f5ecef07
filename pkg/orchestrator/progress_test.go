package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3leaps/tunegrab/pkg/engine"
	"github.com/3leaps/tunegrab/pkg/jobregistry"
)

func trackerFor(t *testing.T, batch bool, items int) (*progressTracker, *jobregistry.Registry, string) {
	t.Helper()
	reg := jobregistry.New()
	job := reg.Create("https://youtu.be/abc", batch, nil)
	_, err := reg.Transition(job.JobID, jobregistry.JobStateDownloading)
	require.NoError(t, err)
	return newProgressTracker(job.JobID, reg, batch, items, time.Second, zap.NewNop()), reg, job.JobID
}

func progressOf(t *testing.T, reg *jobregistry.Registry, id string) int {
	t.Helper()
	job, err := reg.Get(id)
	require.NoError(t, err)
	return job.Progress
}

func inProgress(done, total int64) engine.ProgressEvent {
	return engine.ProgressEvent{Phase: engine.PhaseInProgress, DownloadedBytes: done, TotalBytes: total}
}

func TestProgressTracker_Single(t *testing.T) {
	tr, reg, id := trackerFor(t, false, 0)

	tr.Observe(inProgress(25, 100))
	assert.Equal(t, 25, progressOf(t, reg, id))

	tr.Observe(inProgress(10, 100))
	assert.Equal(t, 25, progressOf(t, reg, id), "progress never decreases")

	tr.Observe(inProgress(90, 0))
	assert.Equal(t, 25, progressOf(t, reg, id), "unknown total leaves progress unchanged")

	tr.Observe(engine.ProgressEvent{Phase: engine.PhaseFinished})
	assert.Equal(t, 100, progressOf(t, reg, id))
}

func TestProgressTracker_BatchAggregates(t *testing.T) {
	tr, reg, id := trackerFor(t, true, 4)

	tr.Observe(inProgress(50, 100))
	assert.Equal(t, 12, progressOf(t, reg, id))

	tr.Observe(engine.ProgressEvent{Phase: engine.PhaseFinished})
	assert.Equal(t, 25, progressOf(t, reg, id))

	tr.Observe(inProgress(50, 100))
	assert.Equal(t, 37, progressOf(t, reg, id))

	for i := 0; i < 3; i++ {
		tr.Observe(engine.ProgressEvent{Phase: engine.PhaseFinished})
	}
	assert.Equal(t, 100, progressOf(t, reg, id))
}

func TestProgressTracker_BatchWithoutCountStaysBelowDone(t *testing.T) {
	tr, reg, id := trackerFor(t, true, 0)

	tr.Observe(inProgress(40, 100))
	assert.Equal(t, 40, progressOf(t, reg, id))

	tr.Observe(engine.ProgressEvent{Phase: engine.PhaseFinished})
	assert.Equal(t, 99, progressOf(t, reg, id))
}

func TestProgressTracker_IgnoresTerminalJob(t *testing.T) {
	tr, reg, id := trackerFor(t, false, 0)
	_, err := reg.Finish(id, jobregistry.Outcome{State: jobregistry.JobStateError, ErrorMessage: "boom"})
	require.NoError(t, err)

	tr.Observe(inProgress(50, 100))
	assert.Equal(t, 0, progressOf(t, reg, id))
}
