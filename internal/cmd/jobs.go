package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/tunegrab/internal/server/handlers"
	"github.com/3leaps/tunegrab/pkg/jobregistry"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage download jobs on a running service",
	Long: `Submit, inspect, cancel and clear download jobs on a running tunegrab
service (see --server).

Job ids may be shortened to any unique prefix, as printed by 'jobs list'.`,
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit <url>",
	Short: "Queue a download",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsSubmit,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show status for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job_id>",
	Short: "Request cancellation of a queued or downloading job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

var jobsClearCmd = &cobra.Command{
	Use:   "clear <job_id>",
	Short: "Remove a finished job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsClear,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsSubmitCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	jobsCmd.AddCommand(jobsClearCmd)

	jobsSubmitCmd.Flags().String("name", "", "Custom output filename (single items only)")
	jobsSubmitCmd.Flags().Bool("playlist", false, "Fetch every item of a playlist into its own folder")
	jobsSubmitCmd.Flags().String("playlist-name", "", "Folder name for --playlist")
	jobsSubmitCmd.Flags().Bool("wait", false, "Wait for the job to finish")
	jobsSubmitCmd.Flags().Bool("json", false, "Output as JSON")
	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
	jobsCancelCmd.Flags().Bool("json", false, "Output as JSON")
}

func runJobsSubmit(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	playlist, _ := cmd.Flags().GetBool("playlist")
	playlistName, _ := cmd.Flags().GetString("playlist-name")
	wait, _ := cmd.Flags().GetBool("wait")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	client := newAPIClient(serverURL)
	ack, err := client.Submit(cmd.Context(), handlers.SubmitRequest{
		URL:          strings.TrimSpace(args[0]),
		CustomName:   name,
		IsPlaylist:   playlist,
		PlaylistName: playlistName,
	})
	if err != nil {
		return clientError("Submit failed", err)
	}

	if !wait {
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), ack)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ack.DownloadID, ack.Status)
		return nil
	}

	job, err := pollJob(cmd.Context(), client, ack.DownloadID, time.Second)
	if err != nil {
		return clientError("Wait failed", err)
	}
	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), job); err != nil {
			return err
		}
	} else {
		printJob(cmd.OutOrStdout(), job)
	}
	if job.State != jobregistry.JobStateCompleted {
		return exitError(foundry.ExitExternalServiceUnavailable, "Download did not complete", errors.New(job.ErrorMessage))
	}
	return nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	jobs, err := newAPIClient(serverURL).List(cmd.Context())
	if err != nil {
		return clientError("List failed", err)
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), jobs)
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
		return nil
	}
	printJobTable(cmd.OutOrStdout(), jobs)
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	client := newAPIClient(serverURL)

	jobID, err := resolveJobID(cmd.Context(), client, args[0])
	if err != nil {
		return clientError("Status failed", err)
	}
	job, err := client.Get(cmd.Context(), jobID)
	if err != nil {
		return clientError("Status failed", err)
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), job)
	}
	printJob(cmd.OutOrStdout(), job)
	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	client := newAPIClient(serverURL)

	jobID, err := resolveJobID(cmd.Context(), client, args[0])
	if err != nil {
		return clientError("Cancel failed", err)
	}
	job, err := client.Cancel(cmd.Context(), jobID)
	if err != nil {
		return clientError("Cancel failed", err)
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), job)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for %s (status=%s)\n", job.JobID, job.State)
	return nil
}

func runJobsClear(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL)

	jobID, err := resolveJobID(cmd.Context(), client, args[0])
	if err != nil {
		return clientError("Clear failed", err)
	}
	msg, err := client.Clear(cmd.Context(), jobID)
	if err != nil {
		return clientError("Clear failed", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", jobID, msg.Message)
	return nil
}

// clientError maps service responses onto exit codes.
func clientError(message string, err error) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusNotFound:
			return exitError(foundry.ExitFileNotFound, message, err)
		case http.StatusBadRequest, http.StatusConflict:
			return exitError(foundry.ExitInvalidArgument, message, err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, message, err)
	}
	if errors.Is(err, errAmbiguousJobID) || errors.Is(err, errJobIDRequired) {
		return exitError(foundry.ExitInvalidArgument, message, err)
	}
	if errors.Is(err, jobregistry.ErrNotFound) {
		return exitError(foundry.ExitFileNotFound, message, err)
	}
	return exitError(foundry.ExitExternalServiceUnavailable, message, err)
}

// jobLister lists jobs on the service.
type jobLister interface {
	List(ctx context.Context) ([]jobregistry.Job, error)
}

var (
	errJobIDRequired  = errors.New("job_id is required")
	errAmbiguousJobID = errors.New("job id prefix is ambiguous")
)

// resolveJobID expands a unique prefix to the full job id.
func resolveJobID(ctx context.Context, jobs jobLister, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errJobIDRequired
	}

	list, err := jobs.List(ctx)
	if err != nil {
		return "", err
	}
	matches := make([]string, 0, 2)
	for _, j := range list {
		if j.JobID == input {
			return input, nil
		}
		if strings.HasPrefix(j.JobID, input) {
			matches = append(matches, j.JobID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("job %s: %w", input, jobregistry.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w (%d matches); use the full job id", errAmbiguousJobID, len(matches))
	}
}

// jobGetter reads one job.
type jobGetter interface {
	Get(ctx context.Context, jobID string) (jobregistry.Job, error)
}

// pollJob re-reads jobID every interval until it is terminal.
func pollJob(ctx context.Context, jobs jobGetter, jobID string, interval time.Duration) (jobregistry.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := jobs.Get(ctx, jobID)
		if err != nil {
			return jobregistry.Job{}, err
		}
		if job.State.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printJobTable(out io.Writer, jobs []jobregistry.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tSTATUS\tPROGRESS\tCREATED\tCOMPLETED\tTITLE\tURL")
	for _, j := range jobs {
		title := j.Title
		if title == "" {
			title = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d%%\t%s\t%s\t%s\t%s\n",
			shortJobID(j.JobID),
			j.State,
			j.Progress,
			j.CreatedAt.UTC().Format(time.RFC3339),
			formatOptionalTime(j.CompletedAt),
			title,
			j.SourceURL,
		)
	}
}

func printJob(out io.Writer, job jobregistry.Job) {
	_, _ = fmt.Fprintf(out, "download_id=%s\n", job.JobID)
	_, _ = fmt.Fprintf(out, "url=%s\n", job.SourceURL)
	_, _ = fmt.Fprintf(out, "status=%s\n", job.State)
	_, _ = fmt.Fprintf(out, "progress=%d\n", job.Progress)
	if job.Title != "" {
		_, _ = fmt.Fprintf(out, "title=%s\n", job.Title)
	}
	if job.OutputDir != "" {
		_, _ = fmt.Fprintf(out, "output_dir=%s\n", job.OutputDir)
	}
	if job.ResultMessage != "" {
		_, _ = fmt.Fprintf(out, "result=%s\n", job.ResultMessage)
	}
	if job.ErrorMessage != "" {
		_, _ = fmt.Fprintf(out, "error=%s\n", job.ErrorMessage)
	}
	_, _ = fmt.Fprintf(out, "created_at=%s\n", job.CreatedAt.UTC().Format(time.RFC3339))
	if job.StartedAt != nil {
		_, _ = fmt.Fprintf(out, "started_at=%s\n", job.StartedAt.UTC().Format(time.RFC3339))
	}
	if job.CompletedAt != nil {
		_, _ = fmt.Fprintf(out, "completed_at=%s\n", job.CompletedAt.UTC().Format(time.RFC3339))
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// shortJobLen keeps the prefix, the millisecond timestamp and a few
// random digits of a v7 job id.
const shortJobLen = 24

func shortJobID(jobID string) string {
	jobID = strings.TrimSpace(jobID)
	if len(jobID) <= shortJobLen {
		return jobID
	}
	return jobID[:shortJobLen]
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
