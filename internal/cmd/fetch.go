package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/tunegrab/internal/config"
	"github.com/3leaps/tunegrab/internal/observability"
	"github.com/3leaps/tunegrab/pkg/engine"
	"github.com/3leaps/tunegrab/pkg/engine/ytdlp"
	"github.com/3leaps/tunegrab/pkg/jobregistry"
	"github.com/3leaps/tunegrab/pkg/orchestrator"
)

// fetchPollInterval is how often fetch refreshes the progress line.
const fetchPollInterval = 250 * time.Millisecond

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Download one URL in the foreground",
	Long: `Run a single download job in this process and wait for it to finish.

The job uses the same settings document as the service. Press Ctrl-C once
to cancel the download; the job ends cancelled and the command exits with
the interrupt exit code.

Examples:
  tunegrab fetch https://youtu.be/dQw4w9WgXcQ
  tunegrab fetch https://youtu.be/dQw4w9WgXcQ --name "My Song"
  tunegrab fetch "https://www.youtube.com/playlist?list=PL123" --playlist --playlist-name "Road Trip"
  tunegrab fetch https://youtu.be/dQw4w9WgXcQ --probe`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

var (
	fetchName         string
	fetchPlaylist     bool
	fetchPlaylistName string
	fetchDir          string
	fetchByDate       bool
	fetchProbe        bool
	fetchQuiet        bool
)

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVar(&fetchName, "name", "", "Custom output filename (single items only)")
	fetchCmd.Flags().BoolVar(&fetchPlaylist, "playlist", false, "Fetch every item of a playlist into its own folder")
	fetchCmd.Flags().StringVar(&fetchPlaylistName, "playlist-name", "", "Folder name for --playlist")
	fetchCmd.Flags().StringVarP(&fetchDir, "dir", "d", "", "Download directory (default from settings)")
	fetchCmd.Flags().BoolVar(&fetchByDate, "by-date", false, "Place single items in a YYYY-MM-DD folder")
	fetchCmd.Flags().BoolVar(&fetchProbe, "probe", false, "Print source metadata without downloading")
	fetchCmd.Flags().BoolVarP(&fetchQuiet, "quiet", "q", false, "Suppress progress output")
}

func runFetch(cmd *cobra.Command, args []string) error {
	sourceURL := strings.TrimSpace(args[0])

	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
	}
	if err := orchestrator.ValidateURL(sourceURL, cfg.Downloads.AllowedHosts); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid URL", err)
	}

	eng := ytdlp.New(ytdlp.Options{
		Binary:           cfg.Engine.Binary,
		ProgressInterval: cfg.Engine.ProgressInterval,
		ProbeTimeout:     cfg.Engine.ProbeTimeout,
		Logger:           observability.CLILogger,
	})

	if fetchProbe {
		return runFetchProbe(cmd.Context(), cmd.OutOrStdout(), eng, sourceURL)
	}

	settings, err := fetchSettings(cmd, cfg)
	if err != nil {
		return err
	}

	manager := orchestrator.New(eng, orchestrator.Config{
		Settings:     settings,
		AudioFormat:  cfg.Downloads.AudioFormat,
		AudioQuality: cfg.Downloads.AudioQuality,
		AllowedHosts: cfg.Downloads.AllowedHosts,
	}, orchestrator.WithLogger(observability.CLILogger))
	defer func() { _ = manager.Shutdown(context.Background()) }()

	job, err := manager.Submit(orchestrator.Submission{
		URL:        sourceURL,
		CustomName: fetchName,
		Batch:      fetchPlaylist,
		FolderName: fetchPlaylistName,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Download rejected", err)
	}
	observability.CLILogger.Debug("Job queued", zap.String("job_id", job.JobID))

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	final := waitForJob(cmd.Context(), manager, job.JobID, interrupts, progressPrinter(cmd.ErrOrStderr()))
	return reportFinal(cmd.OutOrStdout(), final)
}

func fetchSettings(cmd *cobra.Command, cfg *config.Config) (orchestrator.Settings, error) {
	store, err := config.OpenSettingsStore(cfg.Settings.File, config.DefaultSettings(cfg.Downloads))
	if err != nil {
		return orchestrator.Settings{}, exitError(foundry.ExitFileReadError, "Failed to read settings", err)
	}
	s := managerSettings(store.Get())
	if cmd.Flags().Changed("dir") {
		s.DownloadDir = fetchDir
	}
	if cmd.Flags().Changed("by-date") {
		s.OrganizeByDate = fetchByDate
	}
	return s, nil
}

// jobWatcher is the part of the manager fetch polls.
type jobWatcher interface {
	Get(jobID string) (jobregistry.Job, error)
	Cancel(jobID string) (jobregistry.Job, error)
	Wait(ctx context.Context, jobID string) (jobregistry.Job, error)
}

// waitForJob polls jobID until it is terminal. The first interrupt requests
// cancellation; the job's own terminal state decides the result.
func waitForJob(ctx context.Context, jobs jobWatcher, jobID string, interrupts <-chan os.Signal, onProgress func(jobregistry.Job)) jobregistry.Job {
	ticker := time.NewTicker(fetchPollInterval)
	defer ticker.Stop()

	cancelled := false
	last := -1
	for {
		job, err := jobs.Get(jobID)
		if err == nil {
			if onProgress != nil && (job.Progress != last || job.State.IsTerminal()) {
				onProgress(job)
				last = job.Progress
			}
			if job.State.IsTerminal() {
				return job
			}
		}

		select {
		case <-ticker.C:
		case <-interrupts:
			if !cancelled {
				cancelled = true
				observability.CLILogger.Info("Cancelling download...")
				_, _ = jobs.Cancel(jobID)
			}
		case <-ctx.Done():
			if !cancelled {
				cancelled = true
				_, _ = jobs.Cancel(jobID)
			}
			final, _ := jobs.Wait(context.Background(), jobID)
			return final
		}
	}
}

func progressPrinter(w io.Writer) func(jobregistry.Job) {
	if fetchQuiet {
		return nil
	}
	return func(job jobregistry.Job) {
		_, _ = fmt.Fprintf(w, "\r[%3d%%] %s", job.Progress, job.State)
		if job.State.IsTerminal() {
			_, _ = fmt.Fprintln(w)
		}
	}
}

func reportFinal(w io.Writer, job jobregistry.Job) error {
	switch job.State {
	case jobregistry.JobStateCompleted:
		title := job.Title
		if title == "" {
			title = job.SourceURL
		}
		_, _ = fmt.Fprintf(w, "%s: %s\n", title, job.ResultMessage)
		return nil
	case jobregistry.JobStateCancelled:
		return exitError(foundry.ExitSignalInt, "Download cancelled", errors.New(job.ErrorMessage))
	default:
		return exitError(foundry.ExitExternalServiceUnavailable, "Download failed", errors.New(job.ErrorMessage))
	}
}

// probeEngine is an engine that can also read a title cheaply.
type probeEngine interface {
	engine.Engine
	ProbeTitle(ctx context.Context, sourceURL string) (string, error)
}

func runFetchProbe(ctx context.Context, w io.Writer, eng probeEngine, sourceURL string) error {
	if !fetchPlaylist {
		title, err := eng.ProbeTitle(ctx, sourceURL)
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Probe failed", err)
		}
		_, _ = fmt.Fprintf(w, "title=%s\n", title)
		return nil
	}

	meta, err := eng.Probe(ctx, sourceURL)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Probe failed", err)
	}
	printMetadata(w, meta)
	return nil
}

func printMetadata(w io.Writer, meta *engine.Metadata) {
	_, _ = fmt.Fprintf(w, "title=%s\n", meta.Title)
	_, _ = fmt.Fprintf(w, "collection=%t\n", meta.IsCollection)
	_, _ = fmt.Fprintf(w, "entries=%d\n", meta.EntryCount)
	for i, e := range meta.Entries {
		_, _ = fmt.Fprintf(w, "  %3d  %s\n", i+1, e.Title)
	}
}
