package pathplan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/3leaps/tunegrab/pkg/jobregistry"
)

// maxUniqueAttempts caps the counter suffix search.
const maxUniqueAttempts = 10000

// ErrNoUniqueName is returned when every candidate up to the cap is taken.
var ErrNoUniqueName = errors.New("no unique name available")

// UniqueName returns name if nothing exists at parent/name, otherwise the
// first unoccupied "name (2)", "name (3)", ...
//
// The check is not atomic against other processes. Callers that create the
// directory should use CreateUnique, which retries on a lost race.
func UniqueName(parent, name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	for n := 1; n <= maxUniqueAttempts; n++ {
		candidate := candidateName(name, n)
		_, err := os.Lstat(filepath.Join(parent, candidate))
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("probe %s: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoUniqueName, name)
}

// CreateUnique resolves a unique name under parent and creates it as a
// directory, returning the full path.
func CreateUnique(parent, name string) (string, error) {
	if err := os.MkdirAll(parent, 0755); err != nil {
		return "", fmt.Errorf("create parent dir: %w", err)
	}
	for attempt := 0; attempt < maxUniqueAttempts; attempt++ {
		candidate, err := UniqueName(parent, name)
		if err != nil {
			return "", err
		}
		full := filepath.Join(parent, candidate)
		err = os.Mkdir(full, 0755)
		if err == nil {
			return full, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("create folder %s: %w", candidate, err)
		}
		// Lost a race with another creator; probe again.
	}
	return "", fmt.Errorf("%w: %s", ErrNoUniqueName, name)
}

func candidateName(name string, n int) string {
	if n <= 1 {
		return name
	}
	return fmt.Sprintf("%s (%d)", name, n)
}

func validateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return jobregistry.InvalidInput("UniqueName", "folder name is empty")
	case name == "." || name == "..":
		return jobregistry.InvalidInput("UniqueName", "folder name is a relative path element")
	case strings.ContainsAny(name, `/\`):
		return jobregistry.InvalidInput("UniqueName", "folder name contains a path separator")
	}
	return nil
}
