// Package commands implements the ftpd command line.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "ftpd",
	Short: "ftpd - an FTP and FTPS server",
	Long: `ftpd serves a directory tree over FTP (RFC 959) with explicit and
implicit FTPS, UTF-8 path names, MLSD/MLST listings and passive or active
data connections.

Every configuration key can be overridden from the environment as
FTPD_<SECTION>_<KEY>, for example FTPD_SERVER_ADDRESS=:21.

Use "ftpd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ftpd %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

// Execute runs the root command. It is called by main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults and FTPD_* variables)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(commandsCmd)
	rootCmd.AddCommand(hashPasswordCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
