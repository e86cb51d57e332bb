// tools.go - Tool-Spezifikationen zu GBNF Kompilierung
// Erzwingt einen Tool-Call-Envelope {"id":...,"name":...,"arguments":...}.
// Die Tool-Namen werden als Literal-Alternation eingebettet: die Grammatik
// enumeriert die geschlossene Menge der aufrufbaren Tools zum
// Kompilierzeitpunkt. Ein neues Tool erfordert eine neue Grammatik.
package grammar

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/7blacky7/infera/api"
)

// FromToolSpecs kompiliert eine Tool-Liste zu einer Envelope-Grammatik.
// Mit allowMultiple ist das Root-Symbol ein Objekt mit einem tool_calls-Array
// aus einem oder mehr Envelopes, sonst genau ein Envelope.
func FromToolSpecs(tools api.Tools, allowMultiple bool) (*Grammar, error) {
	if len(tools) == 0 {
		return nil, fmt.Errorf("%w: no tools given", api.ErrSchema)
	}

	b := newBuilder(false)
	b.wsRule()
	b.stringRule()

	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		if tool.Function.Name == "" {
			return nil, fmt.Errorf("%w: tool without function name", api.ErrSchema)
		}
		enc, _ := json.Marshal(tool.Function.Name)
		names = append(names, Literal(string(enc)))
	}
	b.add("tool-name", strings.Join(names, " | "))

	// Argumente: beliebiges JSON-Objekt. Die Parameter-Schemas der Tools
	// normieren nur die Semantik, nicht die Envelope-Syntax; ein Modell darf
	// optionale Parameter weglassen.
	argsRule := b.jsonObjectRule()

	call := fmt.Sprintf(
		`"{" ws %s ws ":" ws string ws "," ws %s ws ":" ws tool-name ws "," ws %s ws ":" ws %s ws "}"`,
		Literal(`"id"`), Literal(`"name"`), Literal(`"arguments"`), argsRule)
	b.add("tool-call", call)

	if allowMultiple {
		b.add("tool-calls", `tool-call ws ("," ws tool-call ws)*`)
		b.add("envelope", fmt.Sprintf(`"{" ws %s ws ":" ws "[" ws tool-calls "]" ws "}"`, Literal(`"tool_calls"`)))
		b.alias("root", "envelope")
	} else {
		b.alias("root", "tool-call")
	}

	return Compile(b.text(), "root")
}
