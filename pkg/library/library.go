// Package library lists and resolves downloaded audio files under the
// download root.
package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/tunegrab/pkg/jobregistry"
)

// File describes one downloaded file.
type File struct {
	// Name is the base filename.
	Name string `json:"name"`

	// Path is the slash-separated path relative to the root.
	Path string `json:"path"`

	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Config configures a Library.
type Config struct {
	Root string

	// Extensions limits listing to these file extensions (without dot,
	// case-insensitive). Empty means every regular file.
	Extensions []string
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("library root is required")
	}
	return nil
}

// Library reads the download root.
type Library struct {
	root string
	exts map[string]bool
}

// New returns a library for cfg.
func New(cfg Config) (*Library, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	exts := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			exts[e] = true
		}
	}
	return &Library{root: filepath.Clean(cfg.Root), exts: exts}, nil
}

// Root returns the cleaned root directory.
func (l *Library) Root() string {
	return l.root
}

// List walks the root and returns matching files, most recently modified
// first. pattern is an optional doublestar glob matched against the
// relative path (e.g., "2026-*/**" or "**/*Live*").
//
// A missing root yields an empty list.
func (l *Library) List(ctx context.Context, pattern string) ([]File, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return nil, jobregistry.InvalidInput("List", fmt.Sprintf("invalid pattern %q", pattern))
	}

	if _, err := os.Stat(l.root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []File{}, nil
		}
		return nil, fmt.Errorf("stat library root: %w", err)
	}

	files := []File{}
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped.
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !l.accepts(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if pattern != "" {
			ok, _ := doublestar.Match(pattern, rel)
			if !ok {
				return nil
			}
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, File{
			Name:     d.Name(),
			Path:     rel,
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].Modified.Equal(files[j].Modified) {
			return files[i].Modified.After(files[j].Modified)
		}
		return files[i].Path < files[j].Path
	})
	return files, nil
}

// Resolve maps a relative path to an existing regular file under the root.
// Paths escaping the root are rejected.
func (l *Library) Resolve(rel string) (string, error) {
	full, err := l.fullPath(rel)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &jobregistry.JobError{Op: "Resolve", Err: fmt.Errorf("%w: %s", jobregistry.ErrNotFound, rel)}
		}
		return "", fmt.Errorf("stat %s: %w", rel, err)
	}
	if st.IsDir() {
		return "", &jobregistry.JobError{Op: "Resolve", Err: fmt.Errorf("%w: %s is a directory", jobregistry.ErrNotFound, rel)}
	}
	return full, nil
}

// Rel returns the slash-separated path of full relative to the root, or an
// error when full lies outside it.
func (l *Library) Rel(full string) (string, error) {
	rel, err := filepath.Rel(l.root, filepath.Clean(full))
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", jobregistry.InvalidInput("Rel", "path is outside the library root")
	}
	return rel, nil
}

func (l *Library) accepts(name string) bool {
	if len(l.exts) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	return l.exts[ext]
}

func (l *Library) fullPath(rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return "", jobregistry.InvalidInput("Resolve", "path is required")
	}
	// Prevent path traversal.
	clean := filepath.Clean("/" + rel)
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", jobregistry.InvalidInput("Resolve", "invalid file path")
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}
