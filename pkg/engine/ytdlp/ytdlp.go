// Package ytdlp implements engine.Engine on top of the yt-dlp binary via
// github.com/lrstanley/go-ytdlp.
package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"go.uber.org/zap"

	"github.com/3leaps/tunegrab/pkg/engine"
)

// Defaults for Options.
const (
	DefaultBinary           = "yt-dlp"
	DefaultProgressInterval = 500 * time.Millisecond
	DefaultProbeTimeout     = 60 * time.Second
	DefaultFormat           = "bestaudio/best"
)

// SkipReasonUnavailable marks collection items yt-dlp could not fetch.
const SkipReasonUnavailable = "unavailable"

// Options configures the adapter.
type Options struct {
	// Binary is the yt-dlp executable name or path.
	Binary string

	// ProgressInterval throttles progress callbacks.
	ProgressInterval time.Duration

	// ProbeTimeout bounds metadata-only probes.
	ProbeTimeout time.Duration

	Logger *zap.Logger
}

// Engine runs yt-dlp for each request.
type Engine struct {
	opts   Options
	logger *zap.Logger
}

var _ engine.Engine = (*Engine)(nil)

// New returns an adapter with defaults applied.
func New(opts Options) *Engine {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{opts: opts, logger: logger}
}

// Binary returns the configured executable.
func (e *Engine) Binary() string {
	return e.opts.Binary
}

func (e *Engine) command() *ytdlp.Command {
	return ytdlp.New().SetExecutable(e.opts.Binary)
}

// Fetch downloads and converts req.URL.
//
// The cancellation probe is checked on every progress tick; when it
// reports true the yt-dlp process is killed through a derived context and
// Fetch returns engine.Cancelled().
func (e *Engine) Fetch(ctx context.Context, req engine.Request) (*engine.Result, error) {
	if req.Cancelled != nil && req.Cancelled() {
		return nil, engine.Cancelled()
	}

	collection := req.Items == engine.ItemsAll

	meta := req.Metadata
	if collection && meta == nil {
		m, err := e.Probe(ctx, req.URL)
		if err != nil {
			e.logger.Warn("Collection probe failed; continuing without item list",
				zap.String("url", req.URL), zap.Error(err))
		} else {
			meta = m
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var aborted atomic.Bool
	var cbMu sync.Mutex
	var closed bool

	cmd := e.command().
		Format(DefaultFormat).
		ExtractAudio().
		AudioFormat(req.AudioFormat).
		AudioQuality(req.AudioQuality).
		Output(req.OutputTemplate).
		PrintJSON()
	if collection {
		cmd = cmd.YesPlaylist()
		if req.IgnoreItemErrors {
			cmd = cmd.IgnoreErrors()
		}
	} else {
		// yt-dlp ignores --no-playlist for URLs that only name a playlist.
		cmd = cmd.NoPlaylist().PlaylistItems("1")
	}

	cmd.ProgressFunc(e.opts.ProgressInterval, func(update ytdlp.ProgressUpdate) {
		cbMu.Lock()
		defer cbMu.Unlock()
		if closed || aborted.Load() {
			return
		}
		if req.Cancelled != nil && req.Cancelled() {
			aborted.Store(true)
			cancel()
			return
		}
		if req.OnProgress == nil {
			return
		}
		if ev, ok := toEvent(string(update.Status), int64(update.DownloadedBytes), int64(update.TotalBytes), update.Filename); ok {
			req.OnProgress(ev)
		}
	})

	res, runErr := cmd.Run(runCtx, req.URL)

	cbMu.Lock()
	closed = true
	cbMu.Unlock()

	if aborted.Load() {
		return nil, engine.Cancelled()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &engine.Failure{URL: req.URL, Err: ctxErr}
	}

	var fetched []fetchedItem
	if res != nil {
		infos, err := res.GetExtractedInfo()
		if err == nil {
			for _, info := range infos {
				if info == nil {
					continue
				}
				fetched = append(fetched, fetchedItem{
					ID:       info.ID,
					Title:    deref(info.Title),
					Filename: deref(info.Filename),
				})
			}
		}
	}

	if !collection {
		if runErr != nil {
			return nil, &engine.Failure{URL: req.URL, Err: describeRunError(runErr, res)}
		}
		switch {
		case len(fetched) == 0:
			return nil, &engine.Failure{URL: req.URL, Err: errors.New("yt-dlp reported no downloaded item")}
		case len(fetched) > 1:
			return nil, &engine.Failure{URL: req.URL, Err: fmt.Errorf("yt-dlp fetched %d items for a single-item request", len(fetched))}
		}
		item := fetched[0]
		return &engine.Result{
			Title: item.Title,
			Items: []engine.ItemOutcome{{
				ID:       item.ID,
				Title:    item.Title,
				Filename: audioFilename(item.Filename, req.AudioFormat),
				Fetched:  true,
			}},
		}, nil
	}

	// Collection: per-item failures are expected with IgnoreErrors and only
	// fail the job when nothing could be enumerated or fetched.
	enumerated := meta != nil && meta.EntryCount > 0
	if runErr != nil && len(fetched) == 0 && !enumerated {
		return nil, &engine.Failure{URL: req.URL, Err: describeRunError(runErr, res)}
	}
	if runErr != nil && !req.IgnoreItemErrors {
		return nil, &engine.Failure{URL: req.URL, Err: describeRunError(runErr, res)}
	}

	out := &engine.Result{Items: collectionOutcomes(meta, fetched, req.AudioFormat)}
	if meta != nil {
		out.Title = meta.Title
	}
	if out.Title == "" && len(fetched) > 0 {
		out.Title = fetched[0].Title
	}
	return out, nil
}

// Probe reads metadata with a flat, download-free dump.
func (e *Engine) Probe(ctx context.Context, sourceURL string) (*engine.Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.ProbeTimeout)
	defer cancel()

	res, err := e.command().
		SkipDownload().
		FlatPlaylist().
		DumpSingleJSON().
		Run(ctx, sourceURL)
	if err != nil {
		return nil, &engine.Failure{URL: sourceURL, Err: describeRunError(err, res)}
	}
	if res == nil {
		return nil, &engine.Failure{URL: sourceURL, Err: errors.New("yt-dlp returned no output")}
	}
	return parseDump(res.Stdout)
}

// ProbeTitle returns the source title for batch folder naming.
func (e *Engine) ProbeTitle(ctx context.Context, sourceURL string) (string, error) {
	meta, err := e.Probe(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	return meta.Title, nil
}

type fetchedItem struct {
	ID       string
	Title    string
	Filename string
}

// dump is the subset of yt-dlp's --dump-single-json output we consume.
type dump struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Type          string      `json:"_type"`
	PlaylistCount int         `json:"playlist_count"`
	Entries       []dumpEntry `json:"entries"`
}

type dumpEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func parseDump(stdout string) (*engine.Metadata, error) {
	line := lastJSONLine(stdout)
	if line == "" {
		return nil, errors.New("yt-dlp metadata dump is empty")
	}
	var d dump
	if err := json.Unmarshal([]byte(line), &d); err != nil {
		return nil, fmt.Errorf("decode yt-dlp metadata: %w", err)
	}

	meta := &engine.Metadata{
		Title:        strings.TrimSpace(d.Title),
		IsCollection: d.Type == "playlist" || len(d.Entries) > 0,
	}
	for _, ent := range d.Entries {
		meta.Entries = append(meta.Entries, engine.Entry{ID: ent.ID, Title: ent.Title})
	}
	meta.EntryCount = len(meta.Entries)
	if d.PlaylistCount > meta.EntryCount {
		meta.EntryCount = d.PlaylistCount
	}
	return meta, nil
}

func lastJSONLine(stdout string) string {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if strings.HasPrefix(l, "{") {
			return l
		}
	}
	return ""
}

// toEvent maps a yt-dlp progress update onto the engine contract. Only
// downloading and finished updates are forwarded.
func toEvent(status string, downloaded, total int64, filename string) (engine.ProgressEvent, bool) {
	switch status {
	case string(ytdlp.ProgressStatusDownloading):
		if total < 0 {
			total = 0
		}
		return engine.ProgressEvent{
			Phase:           engine.PhaseInProgress,
			DownloadedBytes: downloaded,
			TotalBytes:      total,
			Filename:        filename,
		}, true
	case string(ytdlp.ProgressStatusFinished):
		return engine.ProgressEvent{Phase: engine.PhaseFinished, Filename: filename}, true
	default:
		return engine.ProgressEvent{}, false
	}
}

// collectionOutcomes merges the enumerated entries with what yt-dlp reported
// as fetched. Entries that never produced a file are skipped.
func collectionOutcomes(meta *engine.Metadata, fetched []fetchedItem, audioFormat string) []engine.ItemOutcome {
	byID := make(map[string]fetchedItem, len(fetched))
	for _, f := range fetched {
		byID[f.ID] = f
	}

	var out []engine.ItemOutcome
	seen := make(map[string]bool, len(fetched))

	if meta != nil {
		for _, ent := range meta.Entries {
			if f, ok := byID[ent.ID]; ok && !seen[ent.ID] {
				seen[ent.ID] = true
				out = append(out, engine.ItemOutcome{
					ID:       f.ID,
					Title:    firstNonEmpty(f.Title, ent.Title),
					Filename: audioFilename(f.Filename, audioFormat),
					Fetched:  true,
				})
				continue
			}
			out = append(out, engine.ItemOutcome{
				ID:     ent.ID,
				Title:  ent.Title,
				Reason: SkipReasonUnavailable,
			})
		}
	}

	for _, f := range fetched {
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		out = append(out, engine.ItemOutcome{
			ID:       f.ID,
			Title:    f.Title,
			Filename: audioFilename(f.Filename, audioFormat),
			Fetched:  true,
		})
	}

	// Entry list unavailable but a count is known: pad with anonymous skips.
	if meta != nil && len(meta.Entries) == 0 && meta.EntryCount > len(out) {
		for i := len(out); i < meta.EntryCount; i++ {
			out = append(out, engine.ItemOutcome{Reason: SkipReasonUnavailable})
		}
	}
	return out
}

// audioFilename swaps the container extension yt-dlp reports for the
// post-processed audio extension.
func audioFilename(name, audioFormat string) string {
	if name == "" || audioFormat == "" {
		return name
	}
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "." + audioFormat
}

func describeRunError(err error, res *ytdlp.Result) error {
	if res == nil {
		return err
	}
	stderr := strings.TrimSpace(res.Stderr)
	if stderr == "" {
		return err
	}
	lines := strings.Split(stderr, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); strings.HasPrefix(l, "ERROR:") {
			return fmt.Errorf("%s: %w", strings.TrimSpace(strings.TrimPrefix(l, "ERROR:")), err)
		}
	}
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
