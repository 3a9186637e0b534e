package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jvs-project/rsyncer/internal/history"
	"github.com/jvs-project/rsyncer/internal/jobs"
	"github.com/jvs-project/rsyncer/pkg/color"
	"github.com/jvs-project/rsyncer/pkg/config"
	"github.com/jvs-project/rsyncer/pkg/errclass"
	"github.com/jvs-project/rsyncer/pkg/progress"
	"github.com/jvs-project/rsyncer/pkg/rsync"
)

var (
	jobsRunProgress bool
	historyLimit    int
	historyJob      string
	historyVerify   bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage configured sync jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if jsonOutput {
			list := cfg.Jobs
			if list == nil {
				list = []config.Job{}
			}
			return outputJSON(list)
		}
		if len(cfg.Jobs) == 0 {
			fmt.Println("No jobs configured.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSOURCE\tDEST")
		for _, j := range cfg.Jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\n", j.Name, location(j.SourceSSH, j.Source), location(j.DestSSH, j.Dest))
		}
		return w.Flush()
	},
}

func location(remote, path string) string {
	if remote == "" {
		return path
	}
	return remote + ":" + path
}

var jobsRunCmd = &cobra.Command{
	Use:   "run [name...]",
	Short: "Run configured jobs",
	Long: `Run configured jobs.

With no names every job runs. At most max_parallel jobs run at once;
every job runs to completion even when another fails. Each run is
recorded in the history file, in the metrics textfile when metrics_file
is set, and sent to the configured webhooks.

If any job fails, rsyncer exits with the first failing job's rsync exit
code, or 1 when rsync never produced one.

Examples:
  rsyncer jobs run
  rsyncer jobs run photos documents
  rsyncer jobs run --progress photos`,
	ValidArgsFunction: completeJobNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, cfgPath, err := loadConfig()
		if err != nil {
			return err
		}
		selected, err := selectJobs(cfg, args)
		if err != nil {
			return err
		}
		if len(selected) == 0 {
			return fmt.Errorf("no jobs configured\n  %s", suggestJobs("", nil))
		}

		r, closeRunner := newRunner(cfg, cfgPath)
		defer closeRunner()
		if jobsRunProgress {
			flag := progressFlag(r.Version)
			for i := range selected {
				selected[i].Flags = append(append([]string(nil), selected[i].Flags...), flag)
			}
		}

		ctx, stop := signalContext()
		defer stop()

		bar := progress.NewTerminal(os.Stderr, "", 100, jobsRunProgress && !jsonOutput)
		results, runErr := r.RunAll(ctx, selected, progress.Multi(bar.Callback(), logProgress))
		if runErr != nil {
			bar.Abort("")
		} else {
			bar.Done("done")
		}

		if jsonOutput {
			if err := outputJSON(results); err != nil {
				return err
			}
		} else {
			for _, res := range results {
				printResult(res)
			}
		}
		if runErr != nil {
			return &exitError{code: firstExitCode(results), err: runErr}
		}
		return nil
	},
}

// selectJobs resolves names against cfg; no names selects every job.
func selectJobs(cfg *config.Config, names []string) ([]config.Job, error) {
	if len(names) == 0 {
		return jobs.Select(cfg, nil)
	}
	var errs []error
	selected := make([]config.Job, 0, len(names))
	for _, name := range names {
		j, err := lookupJob(cfg, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		selected = append(selected, j)
	}
	return selected, errors.Join(errs...)
}

func firstExitCode(results []jobs.Result) int {
	for _, res := range results {
		if !res.OK() && res.ExitCode > 0 {
			return res.ExitCode
		}
	}
	return 1
}

func completeJobNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var out []string
	for _, name := range cfg.JobNames() {
		if strings.HasPrefix(name, toComplete) {
			out = append(out, name)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

var jobsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded runs",
	Long: `Show recorded runs, oldest first.

Every run appends a record to the history file (history_file, or
history.jsonl next to the config file). Records are hash-chained;
--verify checks the whole chain and fails if any record was altered.

Examples:
  rsyncer jobs history
  rsyncer jobs history -n 5 --job photos
  rsyncer jobs history --verify`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, cfgPath, err := loadConfig()
		if err != nil {
			return err
		}
		log := history.NewLog(historyPath(cfg, cfgPath))

		if historyVerify {
			n, err := log.Verify()
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(map[string]any{"path": log.Path(), "records": n, "ok": true})
			}
			fmt.Printf("%s %d records verified in %s\n", color.Success("ok"), n, log.Path())
			return nil
		}

		records, err := log.List(0)
		if err != nil {
			return err
		}
		if historyJob != "" {
			filtered := records[:0]
			for _, rec := range records {
				if rec.Job == historyJob {
					filtered = append(filtered, rec)
				}
			}
			records = filtered
		}
		if historyLimit > 0 && len(records) > historyLimit {
			records = records[len(records)-historyLimit:]
		}

		if jsonOutput {
			if records == nil {
				records = []history.Record{}
			}
			return outputJSON(records)
		}
		if len(records) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tJOB\tRESULT\tEXIT\tDURATION")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				rec.Timestamp.Local().Format("2006-01-02 15:04:05"),
				rec.Job,
				colorResult(rec.Result),
				rec.ExitCode,
				(time.Duration(rec.DurationMS) * time.Millisecond).String(),
			)
		}
		return w.Flush()
	},
}

var jobsLogCmd = &cobra.Command{
	Use:   "log <session-id>",
	Short: "Print the archived rsync output of a run",
	Long: `Print the archived rsync output of a run.

Logs are archived only when log_archive_dir is set. Session IDs are shown
by "rsyncer jobs history --json".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.LogArchiveDir == "" {
			return errclass.ErrConfigInvalid.WithMessage("log_archive_dir is not set")
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return errclass.ErrInvalidOptions.WithMessagef("session id must be a UUID: %q", args[0])
		}
		data, err := rsync.ReadArchive(filepath.Join(cfg.LogArchiveDir, rsync.ArchiveName(id.String())))
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func colorResult(result string) string {
	switch result {
	case history.ResultSuccess:
		return color.Success(result)
	case history.ResultKilled:
		return color.Warning(result)
	default:
		return color.Error(result)
	}
}

func init() {
	jobsRunCmd.Flags().BoolVar(&jobsRunProgress, "progress", false, "show a progress bar")
	jobsHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "show at most this many records (0 for all)")
	jobsHistoryCmd.Flags().StringVar(&historyJob, "job", "", "only show runs of this job")
	jobsHistoryCmd.Flags().BoolVar(&historyVerify, "verify", false, "verify the hash chain instead of listing")
	jobsCmd.AddCommand(jobsListCmd, jobsRunCmd, jobsHistoryCmd, jobsLogCmd)
	rootCmd.AddCommand(jobsCmd)
}
