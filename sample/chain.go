// chain.go - Die Sampler-Chain
// Eine Chain haelt eine geordnete Stage-Liste und fuehrt pro Decode-Schritt
// Sample und Accept aus. Add validiert streng: ein Grammar-Stage kann nur
// vor jedem verengenden Stage stehen.
package sample

import (
	"fmt"
	"math/rand/v2"

	"github.com/emirpasic/gods/v2/lists/arraylist"

	"github.com/7blacky7/infera/api"
	"github.com/7blacky7/infera/grammar"
)

// Chain ist eine geordnete Sampling-Pipeline. Nicht intern synchronisiert;
// genau eine Session besitzt und serialisiert sie.
type Chain struct {
	stages *arraylist.List[Stage]
	rng    *rand.Rand
}

// NewChain erstellt eine leere Chain mit reproduzierbarem Zufallsstrom.
// Ein negativer Seed waehlt einen zufaelligen Startpunkt.
func NewChain(seed int64) *Chain {
	if seed < 0 {
		seed = int64(rand.Uint64() >> 1)
	}
	return &Chain{
		stages: arraylist.New[Stage](),
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed)+1)),
	}
}

// Add haengt einen Stage hinten an. Ein Grammar-Stage hinter einem bereits
// verengenden Stage wird abgelehnt: die Verengung koennte das einzig
// grammatik-gueltige Token verwerfen, bevor die Grammatik es sieht. Die
// Grammatik des Stages wird exklusiv fuer diese Chain aktiviert.
func (c *Chain) Add(s Stage) error {
	if s == nil {
		return fmt.Errorf("%w: nil stage", api.ErrInvalidParam)
	}

	if g := grammarOf(s); g != nil {
		var conflict Stage
		c.stages.Each(func(_ int, existing Stage) {
			if conflict == nil && narrowing(existing) {
				conflict = existing
			}
		})
		if conflict != nil {
			return fmt.Errorf("%w: grammar stage must precede narrowing stage %s", api.ErrInvalidParam, conflict)
		}
		if err := g.Activate(); err != nil {
			return err
		}
		g.Acquire()
	}

	c.stages.Add(s)
	return nil
}

// RemoveAt entfernt den Stage an Position i. Eine dort installierte
// Grammatik wird deaktiviert und freigegeben.
func (c *Chain) RemoveAt(i int) error {
	s, ok := c.stages.Get(i)
	if !ok {
		return fmt.Errorf("%w: stage index %d out of range (len %d)", api.ErrInvalidParam, i, c.stages.Size())
	}
	if g := grammarOf(s); g != nil {
		g.Deactivate()
		g.Release()
	}
	c.stages.Remove(i)
	return nil
}

// Len gibt die Anzahl der Stages zurueck.
func (c *Chain) Len() int {
	return c.stages.Size()
}

// At gibt den Stage an Position i zurueck.
func (c *Chain) At(i int) (Stage, error) {
	s, ok := c.stages.Get(i)
	if !ok {
		return nil, fmt.Errorf("%w: stage index %d out of range (len %d)", api.ErrInvalidParam, i, c.stages.Size())
	}
	return s, nil
}

// Sample waehlt aus den Logits das naechste Token. Die Stages laufen in
// Registrierungs-Reihenfolge; der finale Zug zieht aus der Restverteilung.
// Eine leere Restmenge ist ein Fehler, kein Panik-Fall.
func (c *Chain) Sample(logits []float32) (int32, error) {
	if len(logits) == 0 {
		return 0, fmt.Errorf("%w: empty logits", api.ErrInvalidParam)
	}

	td := newTokenDataArray(logits)
	c.stages.Each(func(_ int, s Stage) {
		s.Apply(td)
	})

	if len(td.Items) == 0 {
		return 0, fmt.Errorf("%w: no candidate survived the sampler chain", api.ErrDecode)
	}
	if len(td.Items) == 1 {
		return td.Items[0].ID, nil
	}

	td.softmax()
	r := c.rng.Float32()
	var cum float32
	for _, it := range td.Items {
		cum += it.Prob
		if r <= cum {
			return it.ID, nil
		}
	}
	return td.Items[len(td.Items)-1].ID, nil
}

// Accept meldet das emittierte Token an alle Stages weiter. Ohne diesen
// Aufruf laufen Penalties, Mirostat und Grammar aus dem Tritt.
func (c *Chain) Accept(id int32) {
	c.stages.Each(func(_ int, s Stage) {
		s.Accept(id)
	})
}

// Reset setzt jeden Stage fuer eine neue Generierung zurueck.
func (c *Chain) Reset() {
	c.stages.Each(func(_ int, s Stage) {
		s.Reset()
	})
}

// Close deaktiviert installierte Grammatiken und leert die Chain. Erfuellt
// das Resource-Interface der Handle-Tabelle.
func (c *Chain) Close() error {
	c.stages.Each(func(_ int, s Stage) {
		if g := grammarOf(s); g != nil {
			g.Deactivate()
			g.Release()
		}
	})
	c.stages.Clear()
	return nil
}

// FromOptions baut die kanonische Chain fuer einen Generierungslauf:
// grammar, penalties, top_k, typical, top_p, min_p, temperature. Der finale
// Zug kommt aus Sample selbst.
func FromOptions(opts api.Options, g *grammar.Grammar, vocab Vocab) (*Chain, error) {
	c := NewChain(int64(opts.Seed))

	add := func(s Stage, err error) error {
		if err != nil {
			return err
		}
		return c.Add(s)
	}

	if g != nil {
		if err := add(GrammarStage(g, vocab)); err != nil {
			return nil, err
		}
	}
	if opts.RepeatLastN > 0 && (opts.RepeatPenalty != 1 || opts.FrequencyPenalty != 0 || opts.PresencePenalty != 0) {
		if err := add(Penalties(opts.RepeatLastN, opts.RepeatPenalty, opts.FrequencyPenalty, opts.PresencePenalty)); err != nil {
			return nil, err
		}
	}

	switch opts.Mirostat {
	case 1:
		if err := add(Mirostat(opts.MirostatTau, opts.MirostatEta, 100)); err != nil {
			return nil, err
		}
	case 2:
		if err := add(MirostatV2(opts.MirostatTau, opts.MirostatEta)); err != nil {
			return nil, err
		}
	default:
		if opts.TopK > 0 {
			if err := add(TopK(opts.TopK)); err != nil {
				return nil, err
			}
		}
		if opts.TypicalP > 0 && opts.TypicalP < 1 {
			if err := add(Typical(opts.TypicalP, 1)); err != nil {
				return nil, err
			}
		}
		if opts.TopP > 0 && opts.TopP < 1 {
			if err := add(TopP(opts.TopP, 1)); err != nil {
				return nil, err
			}
		}
		if opts.MinP > 0 {
			if err := add(MinP(opts.MinP, 1)); err != nil {
				return nil, err
			}
		}
	}

	if err := add(Temperature(opts.Temperature)); err != nil {
		return nil, err
	}
	return c, nil
}
