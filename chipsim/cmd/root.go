// Package cmd provides the command-line interface for chipsim.
package cmd

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// Environment variables that provide defaults for flags. They can also be
// set in a .env file.
const (
	EnvMonitorPort = "CHIPSIM_MONITOR_PORT"
	EnvSnapshotDB  = "CHIPSIM_SNAPSHOT_DB"
	EnvTraceDB     = "CHIPSIM_TRACE_DB"
)

const defaultEnvFile = ".env"

// NewRootCommand creates the chipsim command with all its subcommands.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "chipsim",
		Short: "chipsim runs and inspects simulated machines.",
		Long: `chipsim builds a machine from a description file, runs it ` +
			`in simulated time and keeps snapshots of its state.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("env-file")
			return loadEnv(path)
		},
	}

	root.PersistentFlags().String("env-file", defaultEnvFile,
		"File with environment defaults")
	root.PersistentFlags().BoolP("verbose", "v", false,
		"Log phases, quanta and unmapped accesses to stderr")

	root.AddCommand(newRunCommand())
	root.AddCommand(newValidateCommand())
	root.AddCommand(newSnapshotCommand())

	return root
}

// Execute runs the command line and exits.
func Execute() {
	err := NewRootCommand().Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func loadEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) && path == defaultEnvFile {
		return nil
	}

	return err
}

// stringSetting returns the flag value, or the environment variable when the
// flag is not given.
func stringSetting(cmd *cobra.Command, flag, env string) string {
	v, _ := cmd.Flags().GetString(flag)
	if cmd.Flags().Changed(flag) {
		return v
	}

	if e, ok := os.LookupEnv(env); ok {
		return e
	}

	return v
}

func intSetting(cmd *cobra.Command, flag, env string) int {
	v, _ := cmd.Flags().GetInt(flag)
	if cmd.Flags().Changed(flag) {
		return v
	}

	if e, ok := os.LookupEnv(env); ok {
		n, err := strconv.Atoi(e)
		if err != nil {
			log.Printf("ignoring %s=%q: %v", env, e, err)
			return v
		}

		return n
	}

	return v
}
