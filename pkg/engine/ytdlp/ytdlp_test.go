package ytdlp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/tunegrab/pkg/engine"
)

func TestNewAppliesDefaults(t *testing.T) {
	e := New(Options{})
	assert.Equal(t, DefaultBinary, e.Binary())
	assert.Equal(t, DefaultProgressInterval, e.opts.ProgressInterval)
	assert.Equal(t, DefaultProbeTimeout, e.opts.ProbeTimeout)
	assert.NotNil(t, e.logger)

	e = New(Options{Binary: "/opt/bin/yt-dlp"})
	assert.Equal(t, "/opt/bin/yt-dlp", e.Binary())
}

func TestFetch_CancelledBeforeStart(t *testing.T) {
	e := New(Options{Binary: "/nonexistent/yt-dlp"})

	_, err := e.Fetch(context.Background(), engine.Request{
		URL:       "https://youtu.be/abc",
		Cancelled: func() bool { return true },
	})
	require.Error(t, err)
	assert.True(t, engine.IsCancellation(err))
}

func TestToEvent(t *testing.T) {
	ev, ok := toEvent("downloading", 10, 40, "/tmp/a.webm")
	require.True(t, ok)
	assert.Equal(t, engine.PhaseInProgress, ev.Phase)
	assert.Equal(t, int64(10), ev.DownloadedBytes)
	assert.Equal(t, int64(40), ev.TotalBytes)
	assert.Equal(t, "/tmp/a.webm", ev.Filename)

	ev, ok = toEvent("downloading", 10, -1, "")
	require.True(t, ok)
	assert.Zero(t, ev.TotalBytes)

	ev, ok = toEvent("finished", 0, 0, "/tmp/a.webm")
	require.True(t, ok)
	assert.Equal(t, engine.PhaseFinished, ev.Phase)

	_, ok = toEvent("post_processing", 0, 0, "")
	assert.False(t, ok)
}

func TestParseDump_Playlist(t *testing.T) {
	stdout := `[youtube:tab] Downloading playlist
{"id":"PL1","title":"Road Trip","_type":"playlist","playlist_count":3,"entries":[{"id":"a","title":"One"},{"id":"b","title":"Two"},{"id":"c","title":"Three"}]}`

	meta, err := parseDump(stdout)
	require.NoError(t, err)
	assert.Equal(t, "Road Trip", meta.Title)
	assert.True(t, meta.IsCollection)
	assert.Equal(t, 3, meta.EntryCount)
	assert.Equal(t, engine.Entry{ID: "b", Title: "Two"}, meta.Entries[1])
}

func TestParseDump_SingleVideo(t *testing.T) {
	meta, err := parseDump(`{"id":"abc","title":"  A Song  "}` + "\n")
	require.NoError(t, err)
	assert.Equal(t, "A Song", meta.Title)
	assert.False(t, meta.IsCollection)
	assert.Zero(t, meta.EntryCount)
}

func TestParseDump_Errors(t *testing.T) {
	_, err := parseDump("")
	assert.Error(t, err)

	_, err = parseDump("{not json")
	assert.Error(t, err)
}

func TestCollectionOutcomes(t *testing.T) {
	meta := &engine.Metadata{
		Title: "Mix",
		Entries: []engine.Entry{
			{ID: "a", Title: "One"},
			{ID: "b", Title: "Two"},
			{ID: "c", Title: "Three"},
			{ID: "d", Title: "Four"},
			{ID: "e", Title: "Five"},
		},
		EntryCount: 5,
	}
	fetched := []fetchedItem{
		{ID: "a", Title: "One", Filename: "/dl/Mix/One.webm"},
		{ID: "c", Filename: "/dl/Mix/Three.m4a"},
		{ID: "e", Title: "Five", Filename: "/dl/Mix/Five.opus"},
	}

	out := collectionOutcomes(meta, fetched, "mp3")
	require.Len(t, out, 5)

	res := &engine.Result{Items: out}
	ok, skipped := res.Counts()
	assert.Equal(t, 3, ok)
	assert.Equal(t, 2, skipped)

	assert.Equal(t, "Three", out[2].Title, "entry title fills missing fetched title")
	assert.Equal(t, "/dl/Mix/Three.mp3", out[2].Filename)
	assert.Equal(t, SkipReasonUnavailable, out[1].Reason)
	assert.False(t, out[3].Fetched)
}

func TestCollectionOutcomes_NoEntryList(t *testing.T) {
	out := collectionOutcomes(&engine.Metadata{EntryCount: 4}, []fetchedItem{{ID: "x"}}, "mp3")
	require.Len(t, out, 4)
	ok, skipped := (&engine.Result{Items: out}).Counts()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 3, skipped)

	out = collectionOutcomes(nil, []fetchedItem{{ID: "x"}, {ID: "y"}}, "mp3")
	assert.Len(t, out, 2)
}

func TestAudioFilename(t *testing.T) {
	assert.Equal(t, "/dl/Song.mp3", audioFilename("/dl/Song.webm", "mp3"))
	assert.Equal(t, "/dl/Song.v2.mp3", audioFilename("/dl/Song.v2.m4a", "mp3"))
	assert.Equal(t, "/dl/Song.mp3", audioFilename("/dl/Song", "mp3"))
	assert.Equal(t, "", audioFilename("", "mp3"))
	assert.Equal(t, "/dl/Song.webm", audioFilename("/dl/Song.webm", ""))
}

func TestDescribeRunError_NoResult(t *testing.T) {
	base := errors.New("exit status 1")
	assert.Same(t, base, describeRunError(base, nil))
}
