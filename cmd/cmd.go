// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/7blacky7/infera/envconfig"
	"github.com/7blacky7/infera/version"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

func envDocs() []envconfig.EnvVar {
	m := envconfig.AsMap()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	envs := make([]envconfig.EnvVar, 0, len(keys))
	for _, k := range keys {
		envs = append(envs, m[k])
	}
	return envs
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "infera",
		Short:         "Embeddable inference session runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if v, _ := cmd.Flags().GetBool("version"); v {
				fmt.Fprintln(cmd.OutOrStdout(), version.Version)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	runCmd := newRunCmd()
	grammarCmd := newGrammarCmd()
	inspectCmd := newInspectCmd()

	for _, cmd := range []*cobra.Command{runCmd, grammarCmd, inspectCmd} {
		appendEnvDocs(cmd, envDocs())
	}

	rootCmd.AddCommand(runCmd, grammarCmd, inspectCmd)

	return rootCmd
}
