package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/tunegrab/internal/config"
	"github.com/3leaps/tunegrab/pkg/jobregistry"
	"github.com/3leaps/tunegrab/pkg/library"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List downloaded audio files",
	Long: `List audio files under the download directory, most recently modified
first. This reads the directory directly and does not need a running
service.

Examples:
  tunegrab files
  tunegrab files --pattern "2026-*/**"
  tunegrab files --pattern "**/*Live*" --json`,
	RunE: runFiles,
}

var (
	filesPattern string
	filesDir     string
	filesJSON    bool
)

func init() {
	rootCmd.AddCommand(filesCmd)

	filesCmd.Flags().StringVarP(&filesPattern, "pattern", "p", "", "Glob on the relative path (supports **)")
	filesCmd.Flags().StringVarP(&filesDir, "dir", "d", "", "Directory to list (default from settings)")
	filesCmd.Flags().BoolVar(&filesJSON, "json", false, "Output as JSON")
}

func runFiles(cmd *cobra.Command, _ []string) error {
	root := filesDir
	if root == "" {
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
		}
		store, err := config.OpenSettingsStore(cfg.Settings.File, config.DefaultSettings(cfg.Downloads))
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to read settings", err)
		}
		root = store.Get().DownloadPath
	}

	lib, err := library.New(library.Config{Root: root, Extensions: audioExtensions})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid download directory", err)
	}
	files, err := lib.List(cmd.Context(), filesPattern)
	if err != nil {
		if jobregistry.IsInvalidInput(err) {
			return exitError(foundry.ExitInvalidArgument, "Invalid --pattern value", err)
		}
		return exitError(foundry.ExitFileReadError, "Failed to list files", err)
	}

	if filesJSON {
		return writeJSON(cmd.OutOrStdout(), files)
	}
	if len(files) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No files found")
		return nil
	}
	printFileTable(cmd.OutOrStdout(), files)
	return nil
}

func printFileTable(out io.Writer, files []library.File) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "MODIFIED\tSIZE\tPATH")
	for _, f := range files {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n",
			f.Modified.UTC().Format(time.RFC3339),
			formatSize(f.Size),
			f.Path,
		)
	}
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
