// cmd_grammar.go - Grammatik-Synthese auf der Kommandozeile
// Hauptfunktionen: newGrammarCmd, grammarHandler
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/7blacky7/infera/api"
	"github.com/7blacky7/infera/grammar"
)

// newGrammarCmd - Uebersetzt ein JSON-Schema oder Tool-Spezifikationen in GBNF
func newGrammarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grammar [FILE]",
		Short: "Translate a JSON schema or tool specs into a GBNF grammar",
		Long: `Translate a JSON schema or tool specs into a GBNF grammar.

Reads the input from FILE, or from stdin when FILE is omitted or "-".
By default the input is treated as a JSON schema; pass --tools to treat
it as an array of tool specs instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: grammarHandler,
	}

	cmd.Flags().Bool("tools", false, "Treat the input as tool specs")
	cmd.Flags().Bool("multiple", false, "Allow multiple tool calls per response (tool mode)")
	cmd.Flags().Bool("strict", false, "Reject schema constructs that cannot be enforced exactly")

	return cmd
}

func grammarHandler(cmd *cobra.Command, args []string) error {
	data, err := readInput(args)
	if err != nil {
		return err
	}

	var g *grammar.Grammar
	if tools, _ := cmd.Flags().GetBool("tools"); tools {
		var specs api.Tools
		if err := json.Unmarshal(data, &specs); err != nil {
			return fmt.Errorf("parse tool specs: %w", err)
		}
		multiple, _ := cmd.Flags().GetBool("multiple")
		g, err = grammar.FromToolSpecs(specs, multiple)
	} else if strict, _ := cmd.Flags().GetBool("strict"); strict {
		g, err = grammar.FromJSONSchemaStrict(data)
	} else {
		g, err = grammar.FromJSONSchema(data)
	}
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), g.Text)
	return nil
}

// readInput - Liest die Eingabe aus Datei oder stdin
func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(args[0])
}
