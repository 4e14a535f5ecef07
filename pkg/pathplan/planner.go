package pathplan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/3leaps/tunegrab/pkg/jobregistry"
)

// DateLayout names date-bucketed folders.
const DateLayout = "2006-01-02"

// Mode selects how a job's destination directory is derived.
type Mode string

const (
	// ModeFlat writes straight into the root.
	ModeFlat Mode = "flat"

	// ModeDated writes into a shared root/YYYY-MM-DD folder.
	ModeDated Mode = "dated"

	// ModeBatch writes into a freshly created, uniquely named folder.
	ModeBatch Mode = "batch"
)

// Placement is the per-job placement directive.
type Placement struct {
	Mode Mode

	// FolderName is the batch folder base name, usually the requested name
	// or the probed source title. Empty means DefaultBatchName.
	FolderName string
}

// DefaultBatchName stands in for a batch folder name when neither the
// submission nor the source supplies one.
const DefaultBatchName = "Playlist"

// Plan is a resolved destination.
type Plan struct {
	// Dir is the absolute destination directory; it exists on return.
	Dir string

	// Folder is the batch folder name actually used (batch mode only).
	Folder string

	// Created reports whether Resolve created Dir.
	Created bool
}

// Planner resolves placements into directories.
//
// Planner is safe for concurrent use. Batch folder resolution is
// serialized so that concurrent jobs asking for the same name receive
// distinct folders.
type Planner struct {
	now func() time.Time

	mu sync.Mutex
}

// NewPlanner returns a planner on the wall clock.
func NewPlanner() *Planner {
	return &Planner{now: time.Now}
}

// WithClock overrides the time source (tests).
func (p *Planner) WithClock(now func() time.Time) *Planner {
	if now != nil {
		p.now = now
	}
	return p
}

// ForJob returns the placement a job should use. Batch placement takes
// precedence over the organize-by-date setting.
func ForJob(batch bool, folderName string, organizeByDate bool) Placement {
	switch {
	case batch:
		return Placement{Mode: ModeBatch, FolderName: folderName}
	case organizeByDate:
		return Placement{Mode: ModeDated}
	default:
		return Placement{Mode: ModeFlat}
	}
}

// Resolve returns the destination under root, creating
// directories as needed. Batch folders are named "<name> YYYY-MM-DD" and
// created exactly once per call.
func (p *Planner) Resolve(root string, placement Placement) (*Plan, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, jobregistry.InvalidInput("Resolve", "download root is empty")
	}
	root = filepath.Clean(root)

	switch placement.Mode {
	case ModeFlat, "":
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, fmt.Errorf("create download root: %w", err)
		}
		return &Plan{Dir: root}, nil

	case ModeDated:
		dir := filepath.Join(root, p.now().Format(DateLayout))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create date folder: %w", err)
		}
		return &Plan{Dir: dir}, nil

	case ModeBatch:
		name := p.batchName(placement.FolderName)

		p.mu.Lock()
		defer p.mu.Unlock()

		dir, err := CreateUnique(root, name)
		if err != nil {
			return nil, err
		}
		return &Plan{Dir: dir, Folder: filepath.Base(dir), Created: true}, nil

	default:
		return nil, jobregistry.InvalidInput("Resolve", fmt.Sprintf("unknown placement mode %q", placement.Mode))
	}
}

// datedSuffixLen is the length of " YYYY-MM-DD".
const datedSuffixLen = len(DateLayout) + 1

func (p *Planner) batchName(requested string) string {
	name := Sanitize(requested)
	if name == "" {
		name = DefaultBatchName
	}
	if runes := []rune(name); len(runes) > MaxNameLength-datedSuffixLen {
		name = trimEdges(string(runes[:MaxNameLength-datedSuffixLen]))
	}
	return name + " " + p.now().Format(DateLayout)
}
