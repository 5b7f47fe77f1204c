package commands

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/gonzalop/ftpd/internal/config"
	"github.com/gonzalop/ftpd/server"
)

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List the FTP commands the configuration enables",
	Long: `Print the command registry a server would be built with, after
server.disable_commands is applied. Commands that need TLS are listed even
when TLS is off; the server answers them with 502.`,
	RunE: runCommands,
}

func runCommands(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()
	if path := GetConfigFile(); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return err
		}
	}
	// The table does not depend on what is served.
	cfg.Filesystem.Type = "memory"
	cfg.Server.TransferLog = ""
	cfg.TLS = config.TLSConfig{}

	d, err := newDeployment(cfg, slog.New(slog.DiscardHandler), noop.NewTracerProvider())
	if err != nil {
		return err
	}
	defer d.Close()

	printRegistry(cmd.OutOrStdout(), d.server.Registry())
	return nil
}

func printRegistry(w io.Writer, r *server.Registry) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Command", "Source", "Before login", "TLS", "Features"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, e := range r.Entries() {
		table.Append([]string{
			e.Name,
			e.Source,
			yesNo(e.Public),
			yesNo(e.RequiresTLS),
			strings.Join(e.Features, ", "),
		})
	}
	table.Render()
	fmt.Fprintf(w, "\n%d commands\n", r.Len())
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}
