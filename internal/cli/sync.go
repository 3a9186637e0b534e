package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jvs-project/rsyncer/internal/jobs"
	"github.com/jvs-project/rsyncer/pkg/color"
	"github.com/jvs-project/rsyncer/pkg/config"
	"github.com/jvs-project/rsyncer/pkg/pathutil"
	"github.com/jvs-project/rsyncer/pkg/progress"
)

// transferFlags are the options shared by sync and command.
type transferFlags struct {
	name      string
	includes  []string
	excludes  []string
	flags     []string
	sourceSSH string
	destSSH   string
	keepLog   string
}

func (f *transferFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "sync", "name used in logs, metrics, history and {job}")
	cmd.Flags().StringArrayVar(&f.includes, "include", nil, "include pattern (can be repeated)")
	cmd.Flags().StringArrayVar(&f.excludes, "exclude", nil, "exclude pattern (can be repeated)")
	cmd.Flags().StringArrayVar(&f.flags, "flag", nil, "extra rsync flag (can be repeated)")
	cmd.Flags().StringVar(&f.sourceSSH, "source-ssh", "", "remote qualifier for the source, e.g. user@host")
	cmd.Flags().StringVar(&f.destSSH, "dest-ssh", "", "remote qualifier for the destination, e.g. user@host")
}

func (f *transferFlags) job(source, dest string) (config.Job, error) {
	if err := pathutil.ValidateJobName(f.name); err != nil {
		return config.Job{}, err
	}
	return config.Job{
		Name:      f.name,
		Source:    source,
		Dest:      dest,
		SourceSSH: f.sourceSSH,
		DestSSH:   f.destSSH,
		Includes:  f.includes,
		Excludes:  f.excludes,
		Flags:     f.flags,
		KeepLog:   f.keepLog,
	}, nil
}

var (
	syncFlags    transferFlags
	syncProgress bool
)

var syncCmd = &cobra.Command{
	Use:   "sync <source> <dest>",
	Short: "Run rsync once and wait for it to finish",
	Long: `Run rsync once and wait for it to finish.

Base flags, default excludes and the rsync binary come from the config
file. Source and dest may contain placeholders such as {date} or {job}.
Use --progress to draw a progress bar on stderr while rsync runs.

If rsync exits non-zero, rsyncer exits with the same code.

Examples:
  rsyncer sync /data/ /backup/data/
  rsyncer sync --dest-ssh backup@nas /data/ /srv/backup/{date}/
  rsyncer sync --exclude '*.tmp' --flag --delete --progress ~/photos/ /mnt/photos/`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, cfgPath, err := loadConfig()
		if err != nil {
			return err
		}
		job, err := syncFlags.job(args[0], args[1])
		if err != nil {
			return err
		}

		r, closeRunner := newRunner(cfg, cfgPath)
		defer closeRunner()
		if syncProgress {
			job.Flags = append(append([]string(nil), job.Flags...), progressFlag(r.Version))
		}

		ctx, stop := signalContext()
		defer stop()

		bar := progress.NewTerminal(os.Stderr, job.Name, 100, syncProgress && !jsonOutput)
		res, runErr := r.Run(ctx, job, progress.Multi(bar.Callback(), logProgress))
		if runErr != nil {
			bar.Abort("failed")
		} else {
			bar.Done("done")
		}

		if jsonOutput {
			if err := outputJSON(res); err != nil {
				return err
			}
		} else if runErr == nil {
			printResult(res)
		}
		if runErr != nil {
			return &exitError{code: res.ExitCode, err: runErr}
		}
		return nil
	},
}

// printResult writes a one-line summary of res to stdout.
func printResult(res jobs.Result) {
	took := res.Duration.Round(time.Millisecond)
	switch {
	case res.OK():
		fmt.Printf("%s %s (%s)\n", color.Success("ok"), res.Job, took)
	case res.Killed:
		fmt.Printf("%s %s: terminated after %s\n", color.Warning("killed"), res.Job, took)
	default:
		fmt.Printf("%s %s: %s\n", color.Error("failed"), res.Job, res.Error)
	}
}

func init() {
	syncFlags.register(syncCmd)
	syncCmd.Flags().StringVar(&syncFlags.keepLog, "keep-log", "", "write rsync's output to this file and keep it")
	syncCmd.Flags().BoolVar(&syncProgress, "progress", false, "show a progress bar")
	rootCmd.AddCommand(syncCmd)
}
