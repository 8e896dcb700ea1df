// Package commands implements the CLI commands for lockerctl.
package commands

import (
	"github.com/mdslocker/lockerd/cmd/lockerctl/cmdutil"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "lockerctl",
	Short: "Locker inspection client",
	Long: `lockerctl attaches to a running lockersimd --debug-addr listener and
prints each cached inode's HARD/FILE state, file data version and
capability-holding clients, and each cached dentry's DN state, xlocker and
null flag.

Use "lockerctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cmdutil.Flags.Addr, _ = cmd.Flags().GetString("addr")
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("addr", "localhost:8099", "Address of a running lockersimd --debug-addr listener")

	rootCmd.AddCommand(inodeCmd)
	rootCmd.AddCommand(dentryCmd)
	rootCmd.AddCommand(versionCmd)
}
