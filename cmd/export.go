package cmd

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/iruzo/rimap/mbox"
)

// NewExportCommand bundles an archive directory into a single mbox file.
func NewExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export <archive_dir> <out.mbox>",
		Short: "Write the .eml files of an archive directory into one mbox file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := mbox.Export(cmd.Context(), args[0], args[1], slog.Default())
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("Exported %d messages to %s", n, args[1])
			return nil
		},
	}
}
