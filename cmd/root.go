// Package cmd implements the goquartz command-line interface: the serve
// command running the scheduler daemon, and utility commands for inspecting
// cron schedules.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the release version, overridable at build time with
// -ldflags "-X github.com/jonesrussell/goquartz/cmd.Version=...".
var Version = "dev"

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// debug forces debug-level logging regardless of configuration.
	debug bool

	rootCmd = &cobra.Command{
		Use:   "goquartz",
		Short: "An in-process job scheduler",
		Long: `goquartz schedules jobs against cron, fixed-interval, and
calendar-interval triggers, with exclusion calendars, misfire recovery,
and an admin HTTP API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./config.yml or ./config/config.yml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("goquartz version %s\n", Version)
		},
	})
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newPreviewCommand())
}
