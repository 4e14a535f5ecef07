// Package engine defines the contract between the job orchestrator and the
// media fetch engine.
//
// An engine fetches content for a source URL, converts it to audio, and
// reports progress through a callback. Engines are opaque: the orchestrator
// only sees progress events, a result summary, or an error carrying a
// message.
package engine

import (
	"context"
)

// Engine fetches and converts media.
//
// Implementations should:
//   - Invoke Request.OnProgress serially, never after Fetch returns
//   - Check Request.Cancelled alongside every progress tick and abort with
//     an error recognized by IsCancellation when it reports true
//   - Be safe for concurrent use by independent jobs
type Engine interface {
	// Fetch runs the request to completion. It blocks for the whole
	// network fetch and transcode.
	Fetch(ctx context.Context, req Request) (*Result, error)

	// Probe reads source metadata without fetching content.
	Probe(ctx context.Context, sourceURL string) (*Metadata, error)
}

// Items selects how many items of a collection URL are fetched.
type Items string

const (
	// ItemsSingle fetches exactly one item even if the URL addresses a
	// collection.
	ItemsSingle Items = "single"

	// ItemsAll fetches every item of a collection.
	ItemsAll Items = "all"
)

// Request configures one engine invocation.
type Request struct {
	// URL is the source to fetch.
	URL string

	// OutputTemplate is the destination directory joined with a filename
	// pattern. The pattern may contain the %(title)s placeholder.
	OutputTemplate string

	// AudioFormat is the target codec (e.g., "mp3").
	AudioFormat string

	// AudioQuality is the target bitrate in kbps (e.g., "192").
	AudioQuality string

	// Items selects single-item or whole-collection fetching.
	Items Items

	// Metadata is an optional earlier Probe result for URL. Engines may use
	// it instead of probing again.
	Metadata *Metadata

	// IgnoreItemErrors skips unfetchable collection items instead of
	// failing the whole invocation.
	IgnoreItemErrors bool

	// OnProgress receives progress events. May be nil.
	OnProgress func(ProgressEvent)

	// Cancelled is the cancellation probe. May be nil.
	Cancelled func() bool
}

// Phase tags a progress event.
type Phase string

const (
	// PhaseInProgress carries byte counts for the item being fetched.
	PhaseInProgress Phase = "in-progress"

	// PhaseFinished marks the end of an item's fetch.
	PhaseFinished Phase = "finished"
)

// ProgressEvent is a single progress callback payload.
type ProgressEvent struct {
	Phase Phase

	// DownloadedBytes and TotalBytes describe the current item. TotalBytes
	// is zero when the size is unknown.
	DownloadedBytes int64
	TotalBytes      int64

	// Filename is the file being written, when known.
	Filename string
}

// Ratio returns the completed fraction of the current item in percent, and
// false when the total is unknown.
func (e ProgressEvent) Ratio() (int, bool) {
	if e.TotalBytes <= 0 {
		return 0, false
	}
	done := e.DownloadedBytes
	if done < 0 {
		done = 0
	}
	if done > e.TotalBytes {
		done = e.TotalBytes
	}
	return int(done * 100 / e.TotalBytes), true
}

// ItemOutcome reports one item of a collection fetch.
type ItemOutcome struct {
	ID       string
	Title    string
	Filename string

	// Fetched is false for skipped or unavailable items.
	Fetched bool

	// Reason explains a skipped item.
	Reason string
}

// Result summarizes a successful (or partially successful) fetch.
type Result struct {
	// Title is the source title: the item title for single fetches, the
	// collection title for collection fetches.
	Title string

	// Items lists per-item outcomes. Single-item fetches carry one entry.
	Items []ItemOutcome
}

// Counts returns the number of fetched and skipped items.
func (r *Result) Counts() (fetched, skipped int) {
	if r == nil {
		return 0, 0
	}
	for _, it := range r.Items {
		if it.Fetched {
			fetched++
		} else {
			skipped++
		}
	}
	return fetched, skipped
}

// Files returns the filenames of fetched items.
func (r *Result) Files() []string {
	if r == nil {
		return nil
	}
	var out []string
	for _, it := range r.Items {
		if it.Fetched && it.Filename != "" {
			out = append(out, it.Filename)
		}
	}
	return out
}

// Metadata is the read-only probe result for a source.
type Metadata struct {
	Title string

	// IsCollection reports whether the URL addresses multiple items.
	IsCollection bool

	// EntryCount is the number of items in a collection; zero if unknown.
	EntryCount int

	// Entries lists collection items when the engine can enumerate them.
	Entries []Entry
}

// Entry identifies one item of a collection.
type Entry struct {
	ID    string
	Title string
}
