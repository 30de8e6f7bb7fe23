// Package cli wires the cobra command surface to the harness.
package cli

import (
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "snaplat",
	Short:   "Filesystem snapshot latency stress harness",
	Version: version,
	Long: `Snaplat measures how snapshot lifecycle operations (create,
wait-for-commit, destroy) and volume syncs interfere with the latency
of concurrent metadata operations issued against the same volume.

A pool of workers hammers the volume with chmod or file-creation
calls while the controller drives snapshot or sync cycles, publishing
each lifecycle phase; every operation's latency is recorded against
the phases observed around it.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command. The caller turns a non-nil error
// into exit code 1.
func Execute() error {
	return RootCmd.Execute()
}

func init() {
	RootCmd.AddCommand(runCmd)
}
