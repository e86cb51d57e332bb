// Package grammar - Synthese und Auswertung formaler GBNF-Grammatiken
//
// Dieses Paket kompiliert High-Level-Intents (JSON-Schemas, Tool-Spezifikationen)
// zu GBNF-Grammatiken und stellt eine Parse-Maschine bereit, mit der ein
// Sampler-Stage Token fuer Token gegen die Grammatik prueft.
package grammar

import (
	"fmt"

	"github.com/7blacky7/infera/api"
)

// Grammar ist eine kompilierte Grammatik: Root-Symbol, GBNF-Text und die
// geparsten Regeln. Eine Grammatik kann nacheinander in mehrere Chains
// installiert werden, aber nur eine Chain darf sie gleichzeitig als aktiven
// Stage halten - zwei Parse-Zustaende auf derselben Grammatik waehrend des
// Decodens waeren nicht unterscheidbar.
type Grammar struct {
	Root string
	Text string

	rules  ruleSet
	refs   int
	active bool
}

// Compile parst einen GBNF-Text. Alle referenzierten Regeln muessen
// definiert sein; das Root-Symbol muss existieren.
func Compile(text, root string) (*Grammar, error) {
	rules, err := parseGBNF(text)
	if err != nil {
		return nil, err
	}

	if _, ok := rules[root]; !ok {
		return nil, fmt.Errorf("%w: root rule %q not defined", api.ErrGrammar, root)
	}

	for name, alts := range rules {
		for _, alt := range alts {
			for _, el := range alt {
				if el.kind == elemRef {
					if _, ok := rules[el.name]; !ok {
						return nil, fmt.Errorf("%w: rule %q references undefined rule %q", api.ErrGrammar, name, el.name)
					}
				}
			}
		}
	}

	return &Grammar{Root: root, Text: text, rules: rules}, nil
}

// Acquire erhoeht den Referenzzaehler. Jeder Halter ruft Release genau einmal.
func (g *Grammar) Acquire() {
	g.refs++
}

// Release gibt eine Referenz zurueck.
func (g *Grammar) Release() {
	if g.refs > 0 {
		g.refs--
	}
}

// Refs gibt den aktuellen Referenzstand zurueck.
func (g *Grammar) Refs() int {
	return g.refs
}

// Activate markiert die Grammatik als aktiven Stage einer Chain. Eine bereits
// aktive Grammatik kann nicht ein zweites Mal aktiviert werden.
func (g *Grammar) Activate() error {
	if g.active {
		return fmt.Errorf("%w: grammar already active in another chain", api.ErrGrammar)
	}
	g.active = true
	return nil
}

// Deactivate gibt die Grammatik fuer die naechste Chain frei.
func (g *Grammar) Deactivate() {
	g.active = false
}
