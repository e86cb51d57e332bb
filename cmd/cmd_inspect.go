// cmd_inspect.go - Medien-Dateien erkennen und beschreiben
// Hauptfunktionen: newInspectCmd, inspectHandler
package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/7blacky7/infera/format"
	"github.com/7blacky7/infera/media"
)

// newInspectCmd - Meldet Format, Modalitaet und Groesse von Medien-Dateien
func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE...",
		Short: "Detect the format of media files",
		Long: `Detect the format of media files.

Formats are detected from file contents, not extensions. Unknown or
truncated files are reported as such rather than failing the command.`,
		Args: cobra.MinimumNArgs(1),
		RunE: inspectHandler,
	}
}

func inspectHandler(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tFORMAT\tMODALITY\tMIME\tSIZE")

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t-\t-\t%v\n", path, err)
			continue
		}

		f := media.DetectFormat(data)
		modality := "-"
		mime := "-"
		if f != media.FormatUnknown {
			modality = string(f.Modality())
			mime = f.MimeType()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", path, f, modality, mime, format.HumanBytes2(uint64(len(data))))
	}

	return w.Flush()
}
