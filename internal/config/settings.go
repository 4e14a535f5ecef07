package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/schema"
	"gopkg.in/yaml.v3"

	schemasassets "github.com/3leaps/tunegrab/internal/assets/schemas"
	"github.com/3leaps/tunegrab/pkg/jobregistry"
)

// SettingsFileName is the default settings document name.
const SettingsFileName = "settings.json"

// Settings is the persisted runtime settings document. Field names are
// part of the GET/POST /config contract.
type Settings struct {
	DownloadPath           string `json:"download_path" yaml:"download_path"`
	MaxConcurrentDownloads int    `json:"max_concurrent_downloads" yaml:"max_concurrent_downloads"`
	OrganizeByDate         bool   `json:"organize_by_date" yaml:"organize_by_date"`

	// OrganizeByArtist is stored and returned but placement does not use it.
	OrganizeByArtist bool `json:"organize_by_artist" yaml:"organize_by_artist"`
}

// SettingsPatch is a partial update; nil fields are left unchanged.
type SettingsPatch struct {
	DownloadPath           *string `json:"download_path,omitempty"`
	MaxConcurrentDownloads *int    `json:"max_concurrent_downloads,omitempty"`
	OrganizeByDate         *bool   `json:"organize_by_date,omitempty"`
	OrganizeByArtist       *bool   `json:"organize_by_artist,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p SettingsPatch) IsEmpty() bool {
	return p.DownloadPath == nil && p.MaxConcurrentDownloads == nil &&
		p.OrganizeByDate == nil && p.OrganizeByArtist == nil
}

// Apply returns s with p's fields applied.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.DownloadPath != nil {
		s.DownloadPath = *p.DownloadPath
	}
	if p.MaxConcurrentDownloads != nil {
		s.MaxConcurrentDownloads = *p.MaxConcurrentDownloads
	}
	if p.OrganizeByDate != nil {
		s.OrganizeByDate = *p.OrganizeByDate
	}
	if p.OrganizeByArtist != nil {
		s.OrganizeByArtist = *p.OrganizeByArtist
	}
	return s
}

// DefaultSettings derives the initial settings document from the
// downloads section. An empty path means ~/Music/tunegrab.
func DefaultSettings(d DownloadsConfig) Settings {
	path := strings.TrimSpace(d.Path)
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, "Music", DefaultIdentity.ConfigName)
		} else {
			path = filepath.Join(".", "downloads")
		}
	}
	return Settings{
		DownloadPath:           path,
		MaxConcurrentDownloads: d.MaxConcurrent,
		OrganizeByDate:         d.OrganizeByDate,
		OrganizeByArtist:       d.OrganizeByArtist,
	}
}

// DefaultSettingsPath returns <app data dir>/settings.json.
func DefaultSettingsPath() string {
	return filepath.Join(gfconfig.GetAppDataDir(Identity().ConfigName), SettingsFileName)
}

// SettingsStore holds the current settings and persists every change.
//
// Files ending in .yaml or .yml are read and written as YAML, everything
// else as JSON. Writes go to a temp file in the same directory and are
// renamed into place.
type SettingsStore struct {
	mu          sync.RWMutex
	path        string
	current     Settings
	subscribers []func(Settings)
}

// OpenSettingsStore loads path, or starts from defaults when it does not
// exist yet. The download directory is created either way.
func OpenSettingsStore(path string, defaults Settings) (*SettingsStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultSettingsPath()
	}

	current := defaults
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if current, err = decodeSettings(path, b, defaults); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}

	current = normalizeSettings(current)
	if err := validateSettings(current); err != nil {
		return nil, fmt.Errorf("settings %s: %w", path, err)
	}
	if err := os.MkdirAll(current.DownloadPath, 0755); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	return &SettingsStore{path: path, current: current}, nil
}

// Path returns the settings document location.
func (s *SettingsStore) Path() string {
	return s.path
}

// Get returns the current settings.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe registers fn to be called with the new settings after every
// successful Patch. Callbacks run synchronously on the patching goroutine.
func (s *SettingsStore) Subscribe(fn func(Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Patch validates and persists a partial update, then notifies
// subscribers. Invalid values return jobregistry.ErrInvalidInput and leave
// the stored document untouched.
func (s *SettingsStore) Patch(p SettingsPatch) (Settings, error) {
	s.mu.Lock()
	next := normalizeSettings(p.Apply(s.current))
	if err := validateSettings(next); err != nil {
		s.mu.Unlock()
		return Settings{}, jobregistry.InvalidInput("UpdateSettings", err.Error())
	}
	if next.DownloadPath != s.current.DownloadPath {
		if err := os.MkdirAll(next.DownloadPath, 0755); err != nil {
			s.mu.Unlock()
			return Settings{}, fmt.Errorf("create download directory: %w", err)
		}
	}
	if err := s.writeLocked(next); err != nil {
		s.mu.Unlock()
		return Settings{}, err
	}
	s.current = next
	subs := append([]func(Settings){}, s.subscribers...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return next, nil
}

// Save writes the current settings to disk.
func (s *SettingsStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(s.current)
}

func (s *SettingsStore) writeLocked(settings Settings) error {
	b, err := encodeSettings(s.path, settings)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp settings file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename settings file: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// decodeSettings overlays the file onto defaults so documents written by
// older versions keep working when fields are added.
func decodeSettings(path string, b []byte, defaults Settings) (Settings, error) {
	s := defaults
	var err error
	if isYAML(path) {
		err = yaml.Unmarshal(b, &s)
	} else {
		err = json.Unmarshal(b, &s)
	}
	if err != nil {
		return Settings{}, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return s, nil
}

func encodeSettings(path string, s Settings) ([]byte, error) {
	if isYAML(path) {
		b, err := yaml.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("encode settings: %w", err)
		}
		return b, nil
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return append(b, '\n'), nil
}

func normalizeSettings(s Settings) Settings {
	s.DownloadPath = strings.TrimSpace(s.DownloadPath)
	if s.DownloadPath != "" {
		s.DownloadPath = filepath.Clean(expandHome(s.DownloadPath))
	}
	return s
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Cached validator instance (compiled once from embedded schema)
var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

func getValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		validator, validatorErr = schema.NewValidator(schemasassets.SettingsSchema)
		if validatorErr != nil {
			validatorErr = fmt.Errorf("compile settings schema: %w", validatorErr)
		}
	})
	return validator, validatorErr
}

// validateSettings checks s against the embedded schema.
func validateSettings(s Settings) error {
	v, err := getValidator()
	if err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("serialize settings: %w", err)
	}
	diags, err := v.ValidateJSON(data)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	var msgs []string
	for _, d := range diags {
		if d.Severity != schema.SeverityError {
			continue
		}
		if d.Pointer != "" {
			msgs = append(msgs, d.Pointer+": "+d.Message)
		} else {
			msgs = append(msgs, d.Message)
		}
	}
	if len(msgs) > 0 {
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}
