package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/tunegrab/internal/config"
	errwrap "github.com/3leaps/tunegrab/internal/errors"
	"github.com/3leaps/tunegrab/internal/observability"
	"github.com/3leaps/tunegrab/internal/server/handlers"
	"github.com/3leaps/tunegrab/pkg/engine/ytdlp"
	"github.com/3leaps/tunegrab/pkg/mirror"
)

var doctorMirror bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  tunegrab doctor            # Full environment check
  tunegrab doctor --mirror   # Also check the S3 mirror`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorMirror, "mirror", false, "Also check AWS credentials and the mirror bucket")
}

func runDoctor(cmd *cobra.Command, args []string) {
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	log := observability.CLILogger
	log.Info("=== " + bannerName + " ===")
	log.Info("")
	log.Info("Running diagnostic checks...")
	log.Info("")

	cfg, cfgErr := config.Load(cmd.Context())

	allChecks := true
	checkNum := 1
	totalChecks := 8
	if doctorMirror {
		totalChecks = 11
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		log.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Crucible access
	version := crucible.GetVersion()
	if version.Crucible != "" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Crucible access... ✅ v%s", checkNum, totalChecks, version.Crucible),
			zap.String("crucible_version", version.Crucible))
	} else {
		log.Error(fmt.Sprintf("[%d/%d] Checking Crucible access... ❌ Cannot access Crucible", checkNum, totalChecks))
		ExitWithCode(log, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible",
			errwrap.NewExternalServiceError("Crucible service unavailable"))
		allChecks = false
	}
	checkNum++

	// Check 3: Gofulmen access
	if version.Gofulmen != "" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ✅ v%s", checkNum, totalChecks, version.Gofulmen),
			zap.String("gofulmen_version", version.Gofulmen))
	} else {
		log.Error(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ❌ Cannot access Gofulmen", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	// Check 4: Configuration
	if cfgErr != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking configuration... ❌ %v", checkNum, totalChecks, cfgErr))
		ExitWithCode(log, foundry.ExitInvalidArgument, "Invalid configuration",
			errwrap.WrapInternal(cmd.Context(), cfgErr, "Invalid configuration"))
		return
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking config directory... ❌ Cannot find config directory", checkNum, totalChecks),
			zap.Error(err))
		ExitWithCode(log, foundry.ExitFileNotFound, "Cannot find config directory",
			errwrap.WrapInternal(cmd.Context(), err, "Cannot find config directory"))
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking config directory... ✅ %s", checkNum, totalChecks, configDir),
			zap.String("config_dir", configDir))
	}
	checkNum++

	// Check 5: yt-dlp
	binary := cfg.Engine.Binary
	if binary == "" {
		binary = ytdlp.DefaultBinary
	}
	if !checkExecutable(checkNum, totalChecks, binary, "Install yt-dlp: https://github.com/yt-dlp/yt-dlp#installation") {
		allChecks = false
	}
	checkNum++

	// Check 6: ffmpeg (audio extraction)
	if !checkExecutable(checkNum, totalChecks, "ffmpeg", "Install ffmpeg; yt-dlp needs it to convert audio") {
		allChecks = false
	}
	checkNum++

	// Check 7: Download directory
	if !checkDownloadDir(cmd.Context(), checkNum, totalChecks, cfg) {
		allChecks = false
	}
	checkNum++

	// Check 8: Environment
	log.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	if doctorMirror {
		allChecks = runMirrorChecks(cmd.Context(), cfg.Mirror, checkNum, totalChecks, allChecks)
	}

	log.Info("")
	if allChecks {
		log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	log.Info("")
	log.Info("=== End Diagnostics ===")
}

func checkExecutable(checkNum, totalChecks int, name, hint string) bool {
	path, err := exec.LookPath(name)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking %s... ❌ not found on PATH", checkNum, totalChecks, name),
			zap.Error(err))
		observability.CLILogger.Info("  " + hint)
		return false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking %s... ✅ %s", checkNum, totalChecks, name, path),
		zap.String("path", path))
	return true
}

func checkDownloadDir(ctx context.Context, checkNum, totalChecks int, cfg *config.Config) bool {
	store, err := config.OpenSettingsStore(cfg.Settings.File, config.DefaultSettings(cfg.Downloads))
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking download directory... ❌ Cannot open settings", checkNum, totalChecks),
			zap.Error(err))
		return false
	}
	dir := store.Get().DownloadPath
	if err := (handlers.DirChecker{Dir: func() string { return dir }}).CheckHealth(ctx); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking download directory... ❌ %s not writable", checkNum, totalChecks, dir),
			zap.Error(err))
		return false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking download directory... ✅ %s", checkNum, totalChecks, dir),
		zap.String("download_dir", dir),
		zap.String("settings_file", store.Path()))
	return true
}

// runMirrorChecks runs S3 mirror diagnostic checks.
func runMirrorChecks(ctx context.Context, mc config.MirrorConfig, checkNum, totalChecks int, allChecks bool) bool {
	log := observability.CLILogger
	log.Info("")
	log.Info("S3 Mirror Checks:")

	// Check 9: AWS credentials
	var opts []func(*awsconfig.LoadOptions) error
	if mc.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(mc.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	maskedKey := maskAccessKey(creds.AccessKeyID)
	log.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskedKey),
		zap.String("source", creds.Source))
	checkNum++

	// Check 10: Credential source info
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	log.Info(fmt.Sprintf("[%d/%d] Checking credential source... ✅ %s", checkNum, totalChecks, source),
		zap.String("credential_source", source))
	checkNum++

	// Check 11: Bucket reachable
	m, err := mirror.New(ctx, mirrorConfig(mc), log)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking mirror bucket... ❌ Invalid mirror configuration", checkNum, totalChecks),
			zap.Error(err))
		log.Info("  Set mirror.bucket in tunegrab.yaml or TUNEGRAB_MIRROR_BUCKET")
		return false
	}
	if err := m.Check(ctx); err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking mirror bucket... ❌ s3://%s unreachable", checkNum, totalChecks, m.Bucket()),
			zap.Error(err))
		return false
	}
	log.Info(fmt.Sprintf("[%d/%d] Checking mirror bucket... ✅ s3://%s (%s)", checkNum, totalChecks, m.Bucket(), m.Region()),
		zap.String("bucket", m.Bucket()),
		zap.String("region", m.Region()))

	return allChecks
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	log := observability.CLILogger
	log.Info("")
	log.Info("To configure AWS credentials for the mirror:")
	log.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	log.Info("  2. Run 'aws configure' and set mirror.profile, or")
	log.Info("  3. Use an IAM role when running on AWS infrastructure")
	log.Info("")
	log.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	log.Info("  - mirror.endpoint and mirror.force_path_style")
	log.Info("")
}
