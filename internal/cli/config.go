package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jvs-project/rsyncer/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config <command>",
	Short: "Manage rsyncer configuration",
	Long: `Manage rsyncer configuration stored in the config file
($RSYNCER_CONFIG, --config, or <user config dir>/rsyncer/config.yaml).

Configuration keys:
  binary               - rsync executable (default rsync)
  base_flags           - flags replacing the default -a (list)
  default_excludes     - exclude patterns added to every run (list)
  progress.pattern     - regexp with one capture group for the percentage
  progress.tail_bytes  - how much of the log end to scan for progress
  progress.interval    - how often jobs poll progress (e.g. 500ms)
  log_archive_dir      - keep zstd-compressed rsync logs here
  logging.level        - debug, info, warn, error
  logging.format       - text, json
  metrics_file         - Prometheus textfile written after each run
  history_file         - run history (default history.jsonl beside the config)
  max_parallel         - jobs run at once by "jobs run"
  webhooks.enabled     - send webhook notifications (true, false)

Lists accept "a,b,c" or "[a, b, c]". Jobs and webhooks are edited in the
file itself.

Available commands:
  show              - Show current configuration
  set <key> <value> - Set a configuration value
  get <key>         - Get a configuration value
  path              - Print the config file location`,
	DisableFlagsInUseLine: true,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		if jsonOutput {
			out := make(map[string]any, len(config.Keys())+1)
			for _, key := range config.Keys() {
				out[key], _ = cfg.Get(key)
			}
			out["jobs"] = cfg.JobNames()
			return outputJSON(out)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Println("# rsyncer configuration")
		fmt.Printf("# Location: %s\n\n", path)
		fmt.Print(string(data))
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:               "get <key>",
	Short:             "Get a configuration value",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeConfigKeys,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		value, err := cfg.Get(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(map[string]string{args[0]: value})
		}
		fmt.Println(value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:               "set <key> <value>",
	Short:             "Set a configuration value",
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeConfigKeys,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		key, value := args[0], args[1]
		if err := cfg.Set(key, value); err != nil {
			return err
		}
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		stored, _ := cfg.Get(key)
		if jsonOutput {
			return outputJSON(map[string]string{key: stored})
		}
		fmt.Printf("Set %s = %s\n", key, stored)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(map[string]string{"path": path})
		}
		fmt.Println(path)
		return nil
	},
}

func completeConfigKeys(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return config.Keys(), cobra.ShellCompDirectiveNoFileComp
}

func init() {
	configCmd.AddCommand(configShowCmd, configGetCmd, configSetCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}
