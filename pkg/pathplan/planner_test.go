package pathplan

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/tunegrab/pkg/jobregistry"
)

var fixedNow = func() time.Time { return time.Date(2026, 3, 7, 9, 30, 0, 0, time.UTC) }

func TestUniqueName(t *testing.T) {
	root := t.TempDir()

	got, err := UniqueName(root, "Mix")
	require.NoError(t, err)
	assert.Equal(t, "Mix", got)

	require.NoError(t, os.Mkdir(filepath.Join(root, "Mix"), 0755))
	got, err = UniqueName(root, "Mix")
	require.NoError(t, err)
	assert.Equal(t, "Mix (2)", got)

	require.NoError(t, os.Mkdir(filepath.Join(root, "Mix (2)"), 0755))
	got, err = UniqueName(root, "Mix")
	require.NoError(t, err)
	assert.Equal(t, "Mix (3)", got)
}

func TestUniqueName_FileOccupiesName(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Mix"), []byte("x"), 0644))

	got, err := UniqueName(root, "Mix")
	require.NoError(t, err)
	assert.Equal(t, "Mix (2)", got)
}

func TestUniqueName_RejectsUnsafeNames(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"", "  ", ".", "..", "a/b", `a\b`} {
		_, err := UniqueName(root, name)
		require.Error(t, err, "name %q", name)
		assert.True(t, jobregistry.IsInvalidInput(err), "name %q", name)
	}
}

func TestCreateUnique_Concurrent(t *testing.T) {
	root := t.TempDir()
	const n = 8

	var wg sync.WaitGroup
	dirs := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dir, err := CreateUnique(root, "Mix")
			if err == nil {
				dirs <- dir
			}
		}()
	}
	wg.Wait()
	close(dirs)

	seen := make(map[string]bool)
	for d := range dirs {
		assert.False(t, seen[d], "folder %s handed out twice", d)
		seen[d] = true
	}
	assert.Len(t, seen, n)
}

func TestForJob(t *testing.T) {
	assert.Equal(t, Placement{Mode: ModeBatch, FolderName: "x"}, ForJob(true, "x", true))
	assert.Equal(t, Placement{Mode: ModeBatch}, ForJob(true, "", false))
	assert.Equal(t, Placement{Mode: ModeDated}, ForJob(false, "ignored", true))
	assert.Equal(t, Placement{Mode: ModeFlat}, ForJob(false, "", false))
}

func TestPlanner_Flat(t *testing.T) {
	root := filepath.Join(t.TempDir(), "downloads")
	p := NewPlanner()

	plan, err := p.Resolve(root, Placement{Mode: ModeFlat})
	require.NoError(t, err)
	assert.Equal(t, root, plan.Dir)
	assert.DirExists(t, root)
}

func TestPlanner_DatedIsShared(t *testing.T) {
	root := t.TempDir()
	p := NewPlanner().WithClock(fixedNow)

	first, err := p.Resolve(root, Placement{Mode: ModeDated})
	require.NoError(t, err)
	second, err := p.Resolve(root, Placement{Mode: ModeDated})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "2026-03-07"), first.Dir)
	assert.Equal(t, first.Dir, second.Dir)
	assert.DirExists(t, first.Dir)
}

func TestPlanner_BatchNameIsSanitizedAndDated(t *testing.T) {
	root := t.TempDir()
	p := NewPlanner().WithClock(fixedNow)

	plan, err := p.Resolve(root, Placement{Mode: ModeBatch, FolderName: "Road: Trip"})
	require.NoError(t, err)
	assert.Equal(t, "Road_ Trip 2026-03-07", plan.Folder)
	assert.Equal(t, filepath.Join(root, "Road_ Trip 2026-03-07"), plan.Dir)
	assert.True(t, plan.Created)
	assert.DirExists(t, plan.Dir)
}

func TestPlanner_BatchDefaultsWhenNameMissing(t *testing.T) {
	root := t.TempDir()
	p := NewPlanner().WithClock(fixedNow)

	for _, name := range []string{"", "  ", "..."} {
		plan, err := p.Resolve(root, Placement{Mode: ModeBatch, FolderName: name})
		require.NoError(t, err)
		assert.Contains(t, plan.Folder, "Playlist 2026-03-07", "name %q", name)
	}
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestPlanner_BatchLongNameKeepsDate(t *testing.T) {
	root := t.TempDir()
	p := NewPlanner().WithClock(fixedNow)

	plan, err := p.Resolve(root, Placement{Mode: ModeBatch, FolderName: strings.Repeat("a", 300)})
	require.NoError(t, err)
	assert.Len(t, plan.Folder, MaxNameLength)
	assert.True(t, strings.HasSuffix(plan.Folder, " 2026-03-07"))
}

func TestPlanner_BatchNeverReusesFolder(t *testing.T) {
	root := t.TempDir()
	p := NewPlanner().WithClock(fixedNow)
	placement := Placement{Mode: ModeBatch, FolderName: "Mix"}

	first, err := p.Resolve(root, placement)
	require.NoError(t, err)
	second, err := p.Resolve(root, placement)
	require.NoError(t, err)
	third, err := p.Resolve(root, placement)
	require.NoError(t, err)

	assert.Equal(t, "Mix 2026-03-07", first.Folder)
	assert.Equal(t, "Mix 2026-03-07 (2)", second.Folder)
	assert.Equal(t, "Mix 2026-03-07 (3)", third.Folder)
}

func TestPlanner_BatchIgnoresOrganizeByDate(t *testing.T) {
	root := t.TempDir()
	p := NewPlanner().WithClock(fixedNow)

	plan, err := p.Resolve(root, ForJob(true, "Mix", true))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Mix 2026-03-07"), plan.Dir, "no shared date bucket above the batch folder")
}

func TestPlanner_Errors(t *testing.T) {
	p := NewPlanner()

	_, err := p.Resolve("  ", Placement{Mode: ModeFlat})
	require.Error(t, err)
	assert.True(t, jobregistry.IsInvalidInput(err))

	_, err = p.Resolve(t.TempDir(), Placement{Mode: "sideways"})
	require.Error(t, err)
	assert.True(t, jobregistry.IsInvalidInput(err))
}
