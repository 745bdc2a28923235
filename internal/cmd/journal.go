package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/goscour/internal/observability"
	"github.com/3leaps/goscour/pkg/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal <path>",
	Short: "Inspect a removal journal",
	Long: `Inspect a removal journal database.

Shows per-key totals by status, run history, and the most recent
failures. The journal is written by rm --journal; this command reads it
without touching any storage provider.

Examples:
  goscour journal run.db
  goscour journal run.db --failures 25
  goscour journal run.db --json
  goscour journal libsql://team-journal.turso.io --auth-token-env TURSO_TOKEN`,
	Args: cobra.ExactArgs(1),
	RunE: runJournal,
}

var (
	journalFailures int
	journalJSON     bool
	journalTokenEnv string
)

func init() {
	rootCmd.AddCommand(journalCmd)

	journalCmd.Flags().IntVar(&journalFailures, "failures", 10, "Max recent failures to show")
	journalCmd.Flags().BoolVar(&journalJSON, "json", false, "Output as JSON")
	journalCmd.Flags().StringVar(&journalTokenEnv, "auth-token-env", "", "Environment variable holding the auth token for remote journals")
}

func runJournal(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	target := args[0]

	cfg := journal.Config{}
	if strings.Contains(target, "://") {
		cfg.URL = target
	} else {
		// Opening a journal creates it when absent; inspection of a
		// missing path should report the typo instead.
		if _, err := os.Stat(target); err != nil {
			if os.IsNotExist(err) {
				return exitError(foundry.ExitFileNotFound, "Journal not found", err)
			}
			return exitError(foundry.ExitFileReadError, "Failed to read journal", err)
		}
		cfg.Path = target
	}
	if journalTokenEnv != "" {
		cfg.AuthToken = os.Getenv(journalTokenEnv)
	}

	j, err := journal.Open(ctx, cfg)
	if err != nil {
		observability.CLILogger.Error("Failed to open journal", zap.String("journal", target), zap.Error(err))
		return exitError(foundry.ExitFileReadError, "Failed to open journal", err)
	}
	defer func() { _ = j.Close() }()

	s, err := j.Summarize(ctx, journalFailures)
	if err != nil {
		observability.CLILogger.Error("Failed to summarize journal", zap.Error(err))
		return exitError(foundry.ExitFileReadError, "Failed to summarize journal", err)
	}

	if journalJSON {
		return printJournalJSON(target, s)
	}
	return printJournalTable(target, s)
}

func printJournalTable(target string, s *journal.Summary) error {
	_, _ = fmt.Fprintf(os.Stdout, "Journal: %s\n", target)
	_, _ = fmt.Fprintln(os.Stdout)

	_, _ = fmt.Fprintln(os.Stdout, "Items:")
	_, _ = fmt.Fprintf(os.Stdout, "  Deleted:    %d\n", s.Deleted)
	_, _ = fmt.Fprintf(os.Stdout, "  Not Found:  %d\n", s.NotFound)
	_, _ = fmt.Fprintf(os.Stdout, "  Failed:     %d\n", s.Failed)
	_, _ = fmt.Fprintf(os.Stdout, "  Total:      %d\n", s.TotalItems)
	_, _ = fmt.Fprintf(os.Stdout, "  Bytes:      %s\n", formatSize(s.BytesDeleted))
	_, _ = fmt.Fprintln(os.Stdout)

	if len(s.Runs) > 0 {
		_, _ = fmt.Fprintln(os.Stdout, "Runs:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "  STARTED\tSTATUS\tDRY\tTARGET\tDELETED\tFAILED\tBYTES")
		for _, r := range s.Runs {
			dry := "-"
			if r.DryRun {
				dry = "yes"
			}
			_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				journalTimestamp(r.StartedAt),
				r.Status,
				dry,
				r.Target,
				r.ObjectsDeleted,
				r.ObjectsFailed,
				formatSize(r.BytesDeleted),
			)
		}
		_ = w.Flush()
		_, _ = fmt.Fprintln(os.Stdout)
	}

	if len(s.RecentFailures) > 0 {
		_, _ = fmt.Fprintln(os.Stdout, "Recent Failures:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "  KEY\tCODE\tUPDATED")
		for _, f := range s.RecentFailures {
			code := f.ErrorCode
			if code == "" {
				code = "-"
			}
			_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\n", f.Key, code, journalTimestamp(f.UpdatedAt))
		}
		_ = w.Flush()
	}

	return nil
}

func printJournalJSON(target string, s *journal.Summary) error {
	type jsonRun struct {
		JobID          string `json:"job_id"`
		Target         string `json:"target"`
		Provider       string `json:"provider"`
		Status         string `json:"status"`
		DryRun         bool   `json:"dry_run"`
		StartedAt      string `json:"started_at"`
		FinishedAt     string `json:"finished_at,omitempty"`
		ObjectsDeleted int64  `json:"objects_deleted"`
		ObjectsFailed  int64  `json:"objects_failed"`
		BytesDeleted   int64  `json:"bytes_deleted"`
	}

	type jsonFailure struct {
		Key          string `json:"key"`
		ErrorCode    string `json:"error_code,omitempty"`
		ErrorMessage string `json:"error_message,omitempty"`
		UpdatedAt    string `json:"updated_at"`
	}

	out := struct {
		Journal        string        `json:"journal"`
		TotalItems     int64         `json:"total_items"`
		Deleted        int64         `json:"deleted"`
		NotFound       int64         `json:"not_found"`
		Failed         int64         `json:"failed"`
		BytesDeleted   int64         `json:"bytes_deleted"`
		Runs           []jsonRun     `json:"runs"`
		RecentFailures []jsonFailure `json:"recent_failures"`
	}{
		Journal:        target,
		TotalItems:     s.TotalItems,
		Deleted:        s.Deleted,
		NotFound:       s.NotFound,
		Failed:         s.Failed,
		BytesDeleted:   s.BytesDeleted,
		Runs:           []jsonRun{},
		RecentFailures: []jsonFailure{},
	}
	for _, r := range s.Runs {
		out.Runs = append(out.Runs, jsonRun{
			JobID:          r.JobID,
			Target:         r.Target,
			Provider:       r.Provider,
			Status:         r.Status,
			DryRun:         r.DryRun,
			StartedAt:      r.StartedAt,
			FinishedAt:     r.FinishedAt,
			ObjectsDeleted: r.ObjectsDeleted,
			ObjectsFailed:  r.ObjectsFailed,
			BytesDeleted:   r.BytesDeleted,
		})
	}
	for _, f := range s.RecentFailures {
		out.RecentFailures = append(out.RecentFailures, jsonFailure{
			Key:          f.Key,
			ErrorCode:    f.ErrorCode,
			ErrorMessage: f.ErrorMessage,
			UpdatedAt:    f.UpdatedAt,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// journalTimestamp renders a stored RFC3339 timestamp for table display.
func journalTimestamp(ts string) string {
	if ts == "" {
		return "-"
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
