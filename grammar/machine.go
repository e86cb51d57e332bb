// machine.go - Parse-Maschine fuer kompilierte Grammatiken
// Haelt eine Menge von Ableitungs-Stacks (analog zum llama.cpp
// Grammar-Sampler). Ein Stack ist die Liste der noch zu matchenden Symbole;
// Referenzen werden lazy expandiert, bis oben ein Terminal (Zeichenklasse)
// oder nichts mehr liegt. Ein leerer Stack bedeutet: die Eingabe ist eine
// vollstaendige Ableitung des Root-Symbols.
package grammar

import (
	"fmt"
	"strings"

	"github.com/7blacky7/infera/api"
)

// maxExpandDepth begrenzt die Referenz-Expansion, damit zyklische
// Epsilon-Ableitungen nicht endlos expandieren.
const maxExpandDepth = 512

// Machine ist der fortschreibbare Parse-Zustand einer Grammatik.
type Machine struct {
	rules  ruleSet
	stacks []alternate
}

// NewMachine erstellt den Startzustand am Root-Symbol.
func (g *Grammar) NewMachine() (*Machine, error) {
	m := &Machine{rules: g.rules}

	var stacks []alternate
	seen := map[string]bool{}
	if err := expand(g.rules, alternate{{kind: elemRef, name: g.Root}}, &stacks, seen, 0); err != nil {
		return nil, err
	}
	m.stacks = stacks
	return m, nil
}

// expand ersetzt Referenzen an der Stack-Spitze durch ihre Alternativen, bis
// oben ein Terminal liegt oder der Stack leer ist. Duplikate werden ueber
// einen Signatur-Key verworfen.
func expand(rules ruleSet, stack alternate, out *[]alternate, seen map[string]bool, depth int) error {
	if depth > maxExpandDepth {
		return fmt.Errorf("%w: expansion depth exceeded (left-recursive rule?)", api.ErrGrammar)
	}

	if len(stack) == 0 || stack[0].kind == elemClass {
		key := stackKey(stack)
		if !seen[key] {
			seen[key] = true
			*out = append(*out, stack)
		}
		return nil
	}

	for _, alt := range rules[stack[0].name] {
		next := make(alternate, 0, len(alt)+len(stack)-1)
		next = append(next, alt...)
		next = append(next, stack[1:]...)
		if err := expand(rules, next, out, seen, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func stackKey(stack alternate) string {
	var sb strings.Builder
	for _, el := range stack {
		if el.kind == elemRef {
			sb.WriteByte(1)
			sb.WriteString(el.name)
		} else {
			sb.WriteByte(2)
			if el.negated {
				sb.WriteByte('^')
			}
			for _, cr := range el.ranges {
				sb.WriteRune(cr.lo)
				sb.WriteRune(cr.hi)
			}
		}
		sb.WriteByte(0)
	}
	return sb.String()
}

// advance verbraucht genau ein Zeichen und gibt die Folge-Stacks zurueck.
func advance(rules ruleSet, stacks []alternate, r rune) ([]alternate, error) {
	var next []alternate
	seen := map[string]bool{}
	for _, stack := range stacks {
		if len(stack) == 0 || !stack[0].matches(r) {
			continue
		}
		if err := expand(rules, stack[1:], &next, seen, 0); err != nil {
			return nil, err
		}
	}
	return next, nil
}

// Done meldet ob die bisher akzeptierte Eingabe eine vollstaendige Ableitung ist.
func (m *Machine) Done() bool {
	for _, stack := range m.stacks {
		if len(stack) == 0 {
			return true
		}
	}
	return false
}

// Dead meldet ob kein Fortschritt mehr moeglich ist.
func (m *Machine) Dead() bool {
	return len(m.stacks) == 0
}

// Allows prueft ob s vom aktuellen Zustand aus akzeptiert werden kann, ohne
// den Zustand zu veraendern.
func (m *Machine) Allows(s string) bool {
	stacks := m.stacks
	for _, r := range s {
		next, err := advance(m.rules, stacks, r)
		if err != nil || len(next) == 0 {
			return false
		}
		stacks = next
	}
	return true
}

// Accept schreibt s in den Zustand fort. Ein nicht akzeptierbares s ist ein
// Fehler; der Zustand bleibt dann unveraendert.
func (m *Machine) Accept(s string) error {
	stacks := m.stacks
	for _, r := range s {
		next, err := advance(m.rules, stacks, r)
		if err != nil {
			return err
		}
		if len(next) == 0 {
			return fmt.Errorf("%w: %q not accepted at current parse state", api.ErrGrammar, s)
		}
		stacks = next
	}
	m.stacks = stacks
	return nil
}

// AcceptsAll prueft ob s eine vollstaendige Ableitung des Root-Symbols ist.
// Praktisch fuer Tests und zur Validierung fertiger Ausgaben.
func (m *Machine) AcceptsAll(s string) bool {
	stacks := m.stacks
	for _, r := range s {
		next, err := advance(m.rules, stacks, r)
		if err != nil || len(next) == 0 {
			return false
		}
		stacks = next
	}
	for _, stack := range stacks {
		if len(stack) == 0 {
			return true
		}
	}
	return false
}
