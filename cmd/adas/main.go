// Command adas runs the driver-assistance stack: the supervised worker
// set, the dashboard, and the simulator bridge. Subcommands run the full
// stack, a single worker, or inject mock sensor data.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ucarlab/go-adas/internal/config"
	"github.com/ucarlab/go-adas/internal/log"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "adas",
	Short:        "Supervised driver-assistance worker stack",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "",
		"path to YAML config file (defaults apply when empty)")
	rootCmd.AddCommand(runCmd, workerCmd, injectCmd)
}

// loadConfig reads configuration and initializes logging.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cfg, err
	}
	log.Init(cfg.LogLevel)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
