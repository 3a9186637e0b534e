package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/rsyncer/internal/jobs"
	"github.com/jvs-project/rsyncer/pkg/config"
	"github.com/jvs-project/rsyncer/pkg/rsync"
)

var (
	commandFlags transferFlags
	commandJob   string
)

// commandOutput is the JSON shape of `rsyncer command`.
type commandOutput struct {
	Binary  string   `json:"binary"`
	Args    []string `json:"args"`
	Command string   `json:"command"`
}

var commandCmd = &cobra.Command{
	Use:   "command [<source> <dest>]",
	Short: "Print the rsync command line without running it",
	Long: `Print the rsync command line without running it.

The command is built exactly as "rsyncer sync" or "rsyncer jobs run"
would build it, with arguments quoted for a POSIX shell.

Examples:
  rsyncer command --exclude .cache /home/ /backup/home/
  rsyncer command --job photos
  rsyncer command --json --job photos`,
	Args: func(cmd *cobra.Command, args []string) error {
		if commandJob != "" {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(2)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		var job config.Job
		if commandJob != "" {
			job, err = lookupJob(cfg, commandJob)
		} else {
			job, err = commandFlags.job(args[0], args[1])
		}
		if err != nil {
			return err
		}
		job = (&jobs.Runner{Config: cfg}).Expand(job)

		opts := cfg.Options(job)
		argv, err := rsync.BuildArgs(opts)
		if err != nil {
			return err
		}
		line, err := opts.CommandLine()
		if err != nil {
			return err
		}

		if jsonOutput {
			binary := opts.Binary
			if binary == "" {
				binary = rsync.DefaultBinary
			}
			return outputJSON(commandOutput{Binary: binary, Args: argv, Command: line})
		}
		fmt.Println(line)
		return nil
	},
}

// lookupJob returns the named job, adding suggestions when it is unknown.
func lookupJob(cfg *config.Config, name string) (config.Job, error) {
	job, err := cfg.Job(name)
	if err != nil {
		return config.Job{}, fmt.Errorf("%w\n  %s", err, suggestJobs(name, cfg.JobNames()))
	}
	return job, nil
}

func init() {
	commandFlags.register(commandCmd)
	commandCmd.Flags().StringVar(&commandJob, "job", "", "print the command for a configured job")
	_ = commandCmd.RegisterFlagCompletionFunc("job", completeJobNames)
	rootCmd.AddCommand(commandCmd)
}
