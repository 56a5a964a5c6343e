package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set via ldflags at build time
var (
	Version   = "dev"
	BuildTime = ""
	GitCommit = ""
)

var rootCmd = &cobra.Command{
	Use:     "realtimectl",
	Short:   "realtimectl - inspect and exercise a Realtime server from the command line",
	Long:    `A CLI built on the realtime client: connect to a server, subscribe to channels, and print what comes across the wire.`,
	Version: Version,
}

func init() {
	// Set the version template; it prints the version only
	rootCmd.SetVersionTemplate("realtimectl version {{.Version}}\n")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
