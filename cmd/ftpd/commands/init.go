package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gonzalop/ftpd/internal/config"
)

const defaultConfigPath = "ftpd.yaml"

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	Long: `Write the default ftpd configuration to --config, or to ./ftpd.yaml.

Examples:
  # Initialize in the current directory
  ftpd init

  # Initialize a system-wide file, replacing any existing one
  ftpd init --config /etc/ftpd/ftpd.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, _ []string) error {
	path := GetConfigFile()
	if path == "" {
		path = defaultConfigPath
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := config.Save(config.Default(), path); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Set filesystem.root to the directory to serve")
	fmt.Fprintln(out, "  2. Add users with hashes from: ftpd hash-password")
	fmt.Fprintf(out, "  3. Start the server with: ftpd start --config %s\n", path)
	return nil
}
