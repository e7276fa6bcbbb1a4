package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/evernode/sashimono-agent/pkg/salog"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sagent",
	Short: "sagent - node-local Hot Pocket contract instance agent",
	Long: `sagent manages the lifecycle of Hot Pocket contract instances on a
single node: provisioning host users and contract directories, driving
containers, and exposing a local control socket and remote sessions for
instance create/initiate/start/stop/destroy/inspect/list.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"sagent version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	salog.Init(salog.Config{
		Level:      salog.Level(logLevel),
		JSONOutput: logJSON,
	})
}
