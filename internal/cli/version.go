package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/rsyncer/pkg/rsync"
)

// versionInfo is the JSON shape of `rsyncer version`.
type versionInfo struct {
	Version      string `json:"version"`
	RsyncBinary  string `json:"rsync_binary"`
	RsyncVersion string `json:"rsync_version,omitempty"`
	Grammar      string `json:"grammar"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show rsyncer and rsync versions",
	Long: `Show the rsyncer version, the rsync release found on PATH (or the
configured binary) and the progress grammar selected for it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		info := versionInfo{Version: Version, RsyncBinary: cfg.Binary}

		v := detectVersion(cfg)
		if v != nil {
			info.RsyncVersion = v.String()
		}
		g, err := cfg.CustomGrammar()
		if err != nil {
			return err
		}
		if g == nil {
			g = rsync.GrammarFor(v)
		}
		info.Grammar = g.String()

		if jsonOutput {
			return outputJSON(info)
		}
		fmt.Printf("rsyncer %s\n", info.Version)
		if info.RsyncVersion != "" {
			fmt.Printf("rsync   %s (%s)\n", info.RsyncVersion, info.RsyncBinary)
		} else {
			fmt.Printf("rsync   unknown (%s)\n", info.RsyncBinary)
		}
		fmt.Printf("grammar %s\n", info.Grammar)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
