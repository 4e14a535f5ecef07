// Package cmd implements the tunegrab command line.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/tunegrab/internal/config"
	"github.com/3leaps/tunegrab/internal/observability"
	"github.com/3leaps/tunegrab/internal/server/handlers"
)

// DefaultServerURL is where client commands look for a running service.
const DefaultServerURL = "http://localhost:8000"

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var appIdentity *config.AppIdentity

var (
	verbose   bool
	serverURL string
)

// osExit is replaced in tests.
var osExit = os.Exit

var rootCmd = &cobra.Command{
	Use:   "tunegrab",
	Short: "Fetch audio from media URLs as managed background jobs",
	Long: `tunegrab accepts media URLs, fetches and converts them to audio in the
background, and tracks every request as a job with progress and a final
outcome.

Run 'tunegrab serve' to start the HTTP service, or 'tunegrab fetch' for a
single in-process download. The jobs and files commands talk to a running
service.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initIdentity()
		observability.InitCLILogger(appIdentity.BinaryName, verbose)
	},
}

func init() {
	loadDotEnv(".env")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("TUNEGRAB_SERVER_URL", DefaultServerURL), "Base URL of a running tunegrab service")
}

// Execute runs the root command and exits with the command's exit code on
// failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		code := 1
		var ce *cliError
		if errors.As(err, &ce) {
			code = ce.code
		}
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		osExit(code)
	}
}

// SetVersionInfo records build metadata injected through ldflags.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity once the root command has run.
func GetAppIdentity() *config.AppIdentity {
	return appIdentity
}

func initIdentity() {
	if appIdentity != nil {
		return
	}
	id := config.DefaultIdentity
	appIdentity = &id
}

// setDefaults seeds the global viper instance with the service defaults.
func setDefaults() {
	config.SetDefaults(viper.GetViper())
}

// loadDotEnv reads KEY=VALUE pairs from path when it exists. Variables
// already set in the environment win.
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// cliError carries the process exit code for a failed command.
type cliError struct {
	code    int
	message string
	err     error
}

func (e *cliError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s (exit code %d)", e.message, e.code)
	}
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *cliError) Unwrap() error {
	return e.err
}

func exitError(code int, message string, err error) error {
	return &cliError{code: code, message: message, err: err}
}

// ExitWithCode logs message and err, then terminates the process.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Error(message, zap.Error(err), zap.Int("exit_code", code))
	osExit(code)
}
