package library

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/tunegrab/pkg/jobregistry"
)

func writeFile(t *testing.T, root, rel string, size int, mod time.Time) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, make([]byte, size), 0644))
	require.NoError(t, os.Chtimes(full, mod, mod))
}

func newTestLibrary(t *testing.T) (*Library, string) {
	t.Helper()
	root := t.TempDir()
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	writeFile(t, root, "old.mp3", 10, base)
	writeFile(t, root, "2026-02-03/new.mp3", 20, base.Add(48*time.Hour))
	writeFile(t, root, "Road Trip/01 Live.MP3", 30, base.Add(24*time.Hour))
	writeFile(t, root, "Road Trip/cover.jpg", 5, base.Add(72*time.Hour))

	lib, err := New(Config{Root: root, Extensions: []string{".mp3"}})
	require.NoError(t, err)
	return lib, root
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Root: "  "})
	assert.Error(t, err)
}

func TestList_NewestFirstFilteredByExtension(t *testing.T) {
	lib, _ := newTestLibrary(t)

	files, err := lib.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, files, 3)

	assert.Equal(t, "2026-02-03/new.mp3", files[0].Path)
	assert.Equal(t, "new.mp3", files[0].Name)
	assert.Equal(t, int64(20), files[0].Size)
	assert.Equal(t, "Road Trip/01 Live.MP3", files[1].Path)
	assert.Equal(t, "old.mp3", files[2].Path)
}

func TestList_Pattern(t *testing.T) {
	lib, _ := newTestLibrary(t)

	files, err := lib.List(context.Background(), "Road Trip/**")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "Road Trip/01 Live.MP3", files[0].Path)

	files, err = lib.List(context.Background(), "2026-*/*")
	require.NoError(t, err)
	require.Len(t, files, 1)

	_, err = lib.List(context.Background(), "[unclosed")
	require.Error(t, err)
	assert.True(t, jobregistry.IsInvalidInput(err))
}

func TestList_AllExtensions(t *testing.T) {
	_, root := newTestLibrary(t)
	lib, err := New(Config{Root: root})
	require.NoError(t, err)

	files, err := lib.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, files, 4)
	assert.Equal(t, "Road Trip/cover.jpg", files[0].Path)
}

func TestList_MissingRoot(t *testing.T) {
	lib, err := New(Config{Root: filepath.Join(t.TempDir(), "nope")})
	require.NoError(t, err)

	files, err := lib.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestList_ContextCancelled(t *testing.T) {
	lib, _ := newTestLibrary(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := lib.List(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolve(t *testing.T) {
	lib, root := newTestLibrary(t)

	full, err := lib.Resolve("Road Trip/01 Live.MP3")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Road Trip", "01 Live.MP3"), full)

	_, err = lib.Resolve("missing.mp3")
	assert.True(t, jobregistry.IsNotFound(err))

	_, err = lib.Resolve("Road Trip")
	assert.True(t, jobregistry.IsNotFound(err))

	for _, bad := range []string{"", "  ", "/..", "/"} {
		_, err = lib.Resolve(bad)
		assert.True(t, jobregistry.IsInvalidInput(err), "path %q", bad)
	}

	// Traversal is clamped to the root.
	full, err = lib.Resolve("../../old.mp3")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "old.mp3"), full)
}

func TestRel(t *testing.T) {
	lib, root := newTestLibrary(t)

	rel, err := lib.Rel(filepath.Join(root, "Road Trip", "01 Live.MP3"))
	require.NoError(t, err)
	assert.Equal(t, "Road Trip/01 Live.MP3", rel)

	_, err = lib.Rel(filepath.Join(filepath.Dir(root), "elsewhere.mp3"))
	assert.Error(t, err)
}
