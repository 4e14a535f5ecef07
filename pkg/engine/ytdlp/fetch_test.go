package ytdlp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/tunegrab/pkg/engine"
)

// fakeBinary is a stand-in yt-dlp script that records its argv.
type fakeBinary struct {
	path     string
	argsFile string
}

// args returns the arguments of the last invocation.
func (f fakeBinary) args(t *testing.T) []string {
	t.Helper()
	b, err := os.ReadFile(f.argsFile)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(b), "\n"), "\n")
}

// newFakeBinary writes a shell script that prints stdout and stderr lines,
// then runs tail (e.g. "exit 1"). printf is a shell builtin, so the script
// spawns no children before tail.
func newFakeBinary(t *testing.T, stdout, stderr []string, tail string) fakeBinary {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake yt-dlp needs a POSIX shell")
	}
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	dir := t.TempDir()
	f := fakeBinary{
		path:     filepath.Join(dir, "yt-dlp"),
		argsFile: filepath.Join(dir, "args.txt"),
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "printf '%%s\\n' \"$@\" > '%s'\n", f.argsFile)
	for _, line := range stdout {
		fmt.Fprintf(&b, "printf '%%s\\n' '%s'\n", line)
	}
	for _, line := range stderr {
		fmt.Fprintf(&b, "printf '%%s\\n' '%s' >&2\n", line)
	}
	b.WriteString(tail + "\n")

	require.NoError(t, os.WriteFile(f.path, []byte(b.String()), 0o755))
	return f
}

func progressLine(id, status string, downloaded, total int) string {
	return fmt.Sprintf(`progress:{"info":{"_type":"video","id":%q},"progress":{"status":%q,"downloaded_bytes":%d,"total_bytes":%d,"filename":"/dl/%s.webm"}}`,
		id, status, downloaded, total, id)
}

func infoLine(id, title string) string {
	return fmt.Sprintf(`{"_type":"video","id":%q,"title":%q,"filename":"/dl/%s.webm"}`, id, title, title)
}

func singleRequest(url string) engine.Request {
	return engine.Request{
		URL:            url,
		OutputTemplate: "/dl/%(title)s.%(ext)s",
		AudioFormat:    "mp3",
		AudioQuality:   "192",
		Items:          engine.ItemsSingle,
	}
}

func TestFetch_SingleItemFromCollectionURL(t *testing.T) {
	bin := newFakeBinary(t, []string{infoLine("a", "One")}, nil, "exit 0")
	e := New(Options{Binary: bin.path})

	res, err := e.Fetch(context.Background(), singleRequest("https://www.youtube.com/playlist?list=PL123"))
	require.NoError(t, err)

	args := bin.args(t)
	assert.Contains(t, args, "--no-playlist")
	assert.NotContains(t, args, "--yes-playlist")
	require.Contains(t, args, "--playlist-items")
	for i, a := range args {
		if a == "--playlist-items" {
			require.Less(t, i+1, len(args))
			assert.Equal(t, "1", args[i+1])
		}
	}
	assert.Equal(t, "https://www.youtube.com/playlist?list=PL123", args[len(args)-1])

	assert.Equal(t, "One", res.Title)
	require.Len(t, res.Items, 1)
	assert.True(t, res.Items[0].Fetched)
	assert.Equal(t, "/dl/One.mp3", res.Items[0].Filename)
}

func TestFetch_SingleItemRejectsExtraItems(t *testing.T) {
	bin := newFakeBinary(t, []string{infoLine("a", "One"), infoLine("b", "Two")}, nil, "exit 0")
	e := New(Options{Binary: bin.path})

	_, err := e.Fetch(context.Background(), singleRequest("https://youtu.be/a"))
	require.Error(t, err)

	var failure *engine.Failure
	require.ErrorAs(t, err, &failure)
	assert.Contains(t, err.Error(), "2 items")
	assert.False(t, engine.IsCancellation(err))
}

func TestFetch_SingleItemFailure(t *testing.T) {
	bin := newFakeBinary(t, nil, []string{"ERROR: [youtube] abc: Video unavailable"}, "exit 1")
	e := New(Options{Binary: bin.path})

	_, err := e.Fetch(context.Background(), singleRequest("https://youtu.be/abc"))
	require.Error(t, err)

	var failure *engine.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "https://youtu.be/abc", failure.URL)
	assert.Contains(t, err.Error(), "Video unavailable")
	assert.False(t, engine.IsCancellation(err))
}

func TestFetch_ReportsProgress(t *testing.T) {
	bin := newFakeBinary(t, []string{
		progressLine("a", "downloading", 10, 40),
		progressLine("a", "downloading", 40, 40),
		progressLine("a", "finished", 40, 40),
		infoLine("a", "One"),
	}, nil, "exit 0")
	e := New(Options{Binary: bin.path})

	var mu sync.Mutex
	var events []engine.ProgressEvent
	req := singleRequest("https://youtu.be/a")
	req.OnProgress = func(ev engine.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}

	_, err := e.Fetch(context.Background(), req)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	assert.Equal(t, engine.ProgressEvent{Phase: engine.PhaseInProgress, DownloadedBytes: 10, TotalBytes: 40, Filename: "/dl/a.webm"}, events[0])
	pct, ok := events[1].Ratio()
	assert.True(t, ok)
	assert.Equal(t, 100, pct)
	assert.Equal(t, engine.PhaseFinished, events[2].Phase)
}

func TestFetch_CancelledDuringDownload(t *testing.T) {
	bin := newFakeBinary(t, []string{
		progressLine("a", "downloading", 1, 100),
		progressLine("a", "downloading", 2, 100),
		progressLine("a", "downloading", 3, 100),
	}, nil, "exec sleep 10")
	e := New(Options{Binary: bin.path})

	// The first check happens before yt-dlp starts; the third is the
	// second progress tick.
	var checks atomic.Int32
	var delivered atomic.Int32
	req := singleRequest("https://youtu.be/a")
	req.Cancelled = func() bool { return checks.Add(1) > 2 }
	req.OnProgress = func(engine.ProgressEvent) { delivered.Add(1) }

	start := time.Now()
	_, err := e.Fetch(context.Background(), req)
	require.Error(t, err)

	assert.True(t, engine.IsCancellation(err), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second, "process should be killed, not awaited")
	assert.Equal(t, int32(1), delivered.Load(), "no events after the abort")
}

func TestFetch_CollectionSkipsFailedItems(t *testing.T) {
	bin := newFakeBinary(t,
		[]string{infoLine("a", "One"), infoLine("c", "Three")},
		[]string{"ERROR: [youtube] b: Video unavailable"},
		"exit 1")
	e := New(Options{Binary: bin.path})

	req := singleRequest("https://www.youtube.com/playlist?list=PL123")
	req.Items = engine.ItemsAll
	req.IgnoreItemErrors = true
	req.Metadata = &engine.Metadata{
		Title:        "Road Trip",
		IsCollection: true,
		Entries:      []engine.Entry{{ID: "a", Title: "One"}, {ID: "b", Title: "Two"}, {ID: "c", Title: "Three"}},
		EntryCount:   3,
	}

	res, err := e.Fetch(context.Background(), req)
	require.NoError(t, err)

	args := bin.args(t)
	assert.Contains(t, args, "--yes-playlist")
	assert.Contains(t, args, "--ignore-errors")
	assert.NotContains(t, args, "--playlist-items")

	assert.Equal(t, "Road Trip", res.Title)
	fetched, skipped := res.Counts()
	assert.Equal(t, 2, fetched)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, SkipReasonUnavailable, res.Items[1].Reason)
	assert.Equal(t, []string{"/dl/One.mp3", "/dl/Three.mp3"}, res.Files())
}

func TestFetch_CollectionFailsWithoutIgnoreErrors(t *testing.T) {
	bin := newFakeBinary(t,
		[]string{infoLine("a", "One")},
		[]string{"ERROR: [youtube] b: Video unavailable"},
		"exit 1")
	e := New(Options{Binary: bin.path})

	req := singleRequest("https://www.youtube.com/playlist?list=PL123")
	req.Items = engine.ItemsAll
	req.Metadata = &engine.Metadata{Title: "Road Trip", IsCollection: true, EntryCount: 2}

	_, err := e.Fetch(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Video unavailable")
}
