// Package config loads service configuration and persists the runtime
// settings document.
//
// Precedence (highest first): runtime overrides, TUNEGRAB_* environment
// variables, tunegrab.yaml in the user config directory or the working
// directory, built-in defaults.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Health    HealthConfig    `mapstructure:"health"`
	Downloads DownloadsConfig `mapstructure:"downloads"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Settings  SettingsConfig  `mapstructure:"settings"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig configures the service logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// HealthConfig toggles the health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DownloadsConfig seeds the settings document and fixes the audio policy.
//
// Path, MaxConcurrent, OrganizeByDate and OrganizeByArtist are only used
// when no settings file exists yet.
type DownloadsConfig struct {
	Path             string   `mapstructure:"path"`
	MaxConcurrent    int      `mapstructure:"max_concurrent"`
	OrganizeByDate   bool     `mapstructure:"organize_by_date"`
	OrganizeByArtist bool     `mapstructure:"organize_by_artist"`
	AudioFormat      string   `mapstructure:"audio_format"`
	AudioQuality     string   `mapstructure:"audio_quality"`
	AllowedHosts     []string `mapstructure:"allowed_hosts"`
}

// EngineConfig configures the yt-dlp adapter.
type EngineConfig struct {
	Binary           string        `mapstructure:"binary"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

// SettingsConfig locates the persisted settings document.
// Empty File means <app data dir>/settings.json.
type SettingsConfig struct {
	File string `mapstructure:"file"`
}

// MirrorConfig configures the optional S3 archive of completed downloads.
type MirrorConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Bucket         string `mapstructure:"bucket"`
	Prefix         string `mapstructure:"prefix"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	DetectRegion   bool   `mapstructure:"detect_region"`
	StorageClass   string `mapstructure:"storage_class"`
}

// EnvSpec maps one environment variable onto a config key path.
type EnvSpec struct {
	Name string
	Path []string
	Type string
}

var (
	configMu    sync.RWMutex
	appIdentity *AppIdentity
	appConfig   *Config
)

// Load reads configuration and stores it for GetConfig.
//
// Each overrides map is nested like the YAML file, e.g.
// {"server": {"port": 9000}}. Later maps win.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}
	configMu.Unlock()

	v := viper.New()
	SetDefaults(v)

	v.SetConfigName(Identity().ConfigName)
	v.SetConfigType("yaml")
	for _, dir := range getUserConfigPaths() {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(strings.Join(spec.Path, "."), spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, value := range flatten("", o) {
			v.Set(key, value)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg)

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// GetConfig returns the most recently loaded config, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Identity returns the application identity, falling back to
// DefaultIdentity before Load has run.
func Identity() AppIdentity {
	configMu.RLock()
	defer configMu.RUnlock()
	if appIdentity == nil {
		return DefaultIdentity
	}
	return *appIdentity
}

// SetDefaults registers built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	v.SetDefault("health.enabled", true)

	v.SetDefault("downloads.path", "")
	v.SetDefault("downloads.max_concurrent", 3)
	v.SetDefault("downloads.organize_by_date", false)
	v.SetDefault("downloads.organize_by_artist", true)
	v.SetDefault("downloads.audio_format", "mp3")
	v.SetDefault("downloads.audio_quality", "192")
	v.SetDefault("downloads.allowed_hosts", []string{
		"youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be",
	})

	v.SetDefault("engine.binary", "yt-dlp")
	v.SetDefault("engine.probe_timeout", "60s")
	v.SetDefault("engine.progress_interval", "500ms")

	v.SetDefault("settings.file", "")

	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.force_path_style", false)
	v.SetDefault("mirror.detect_region", false)
}

func normalize(cfg *Config) {
	cfg.Logging.Profile = strings.ToUpper(strings.TrimSpace(cfg.Logging.Profile))
	cfg.Downloads.AudioFormat = strings.ToLower(strings.TrimSpace(cfg.Downloads.AudioFormat))

	hosts := cfg.Downloads.AllowedHosts[:0]
	for _, h := range cfg.Downloads.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	cfg.Downloads.AllowedHosts = hosts
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

// getUserConfigPaths returns the directories searched for tunegrab.yaml.
func getUserConfigPaths() []string {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []string{}
	}

	var paths []string
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		paths = append(paths, filepath.Join(xdg, id.ConfigName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", id.ConfigName))
	}
	return paths
}

// getEnvSpecs lists every supported environment variable.
func getEnvSpecs() []EnvSpec {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []EnvSpec{}
	}

	p := id.EnvPrefix
	return []EnvSpec{
		{Name: p + "HOST", Path: []string{"server", "host"}, Type: "string"},
		{Name: p + "PORT", Path: []string{"server", "port"}, Type: "int"},
		{Name: p + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: "duration"},
		{Name: p + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: "duration"},
		{Name: p + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: "duration"},
		{Name: p + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: "duration"},
		{Name: p + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: "string"},
		{Name: p + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: "string"},
		{Name: p + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: "bool"},
		{Name: p + "DOWNLOAD_PATH", Path: []string{"downloads", "path"}, Type: "string"},
		{Name: p + "MAX_CONCURRENT", Path: []string{"downloads", "max_concurrent"}, Type: "int"},
		{Name: p + "ORGANIZE_BY_DATE", Path: []string{"downloads", "organize_by_date"}, Type: "bool"},
		{Name: p + "ORGANIZE_BY_ARTIST", Path: []string{"downloads", "organize_by_artist"}, Type: "bool"},
		{Name: p + "AUDIO_FORMAT", Path: []string{"downloads", "audio_format"}, Type: "string"},
		{Name: p + "AUDIO_QUALITY", Path: []string{"downloads", "audio_quality"}, Type: "string"},
		{Name: p + "ALLOWED_HOSTS", Path: []string{"downloads", "allowed_hosts"}, Type: "list"},
		{Name: p + "ENGINE_BINARY", Path: []string{"engine", "binary"}, Type: "string"},
		{Name: p + "PROBE_TIMEOUT", Path: []string{"engine", "probe_timeout"}, Type: "duration"},
		{Name: p + "PROGRESS_INTERVAL", Path: []string{"engine", "progress_interval"}, Type: "duration"},
		{Name: p + "SETTINGS_FILE", Path: []string{"settings", "file"}, Type: "string"},
		{Name: p + "MIRROR_ENABLED", Path: []string{"mirror", "enabled"}, Type: "bool"},
		{Name: p + "MIRROR_BUCKET", Path: []string{"mirror", "bucket"}, Type: "string"},
		{Name: p + "MIRROR_PREFIX", Path: []string{"mirror", "prefix"}, Type: "string"},
		{Name: p + "MIRROR_REGION", Path: []string{"mirror", "region"}, Type: "string"},
		{Name: p + "MIRROR_ENDPOINT", Path: []string{"mirror", "endpoint"}, Type: "string"},
		{Name: p + "MIRROR_PROFILE", Path: []string{"mirror", "profile"}, Type: "string"},
		{Name: p + "MIRROR_FORCE_PATH_STYLE", Path: []string{"mirror", "force_path_style"}, Type: "bool"},
		{Name: p + "MIRROR_DETECT_REGION", Path: []string{"mirror", "detect_region"}, Type: "bool"},
		{Name: p + "MIRROR_STORAGE_CLASS", Path: []string{"mirror", "storage_class"}, Type: "string"},
	}
}
