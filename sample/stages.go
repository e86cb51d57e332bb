// stages.go - Die einzelnen Sampler-Stages
// Jeder Konstruktor validiert seine Parameter; ein ungueltiger Stage
// entsteht nie. Die Namen und Rechenwege folgen den ueblichen
// llama.cpp-Samplern.
package sample

import (
	"fmt"
	"math"
	"sort"

	"github.com/7blacky7/infera/api"
	"github.com/7blacky7/infera/grammar"
)

// ---------------------------------------------------------------------------
// Top-K

type topK struct {
	k int
}

// TopK behaelt die k wahrscheinlichsten Token.
func TopK(k int) (Stage, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: top_k must be > 0, got %d", api.ErrInvalidParam, k)
	}
	return &topK{k: k}, nil
}

func (s *topK) Apply(td *TokenDataArray) {
	td.sortByLogit()
	td.truncate(s.k)
}

func (s *topK) Accept(int32)  {}
func (s *topK) Reset()        {}
func (s *topK) String() string { return fmt.Sprintf("top_k(%d)", s.k) }

// ---------------------------------------------------------------------------
// Top-P (Nucleus)

type topP struct {
	p       float32
	minKeep int
}

// TopP behaelt den kleinsten Praefix der sortierten Kandidaten, dessen
// kumulierte Wahrscheinlichkeit p erreicht.
func TopP(p float32, minKeep int) (Stage, error) {
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("%w: top_p must be in [0,1], got %g", api.ErrInvalidParam, p)
	}
	if minKeep < 1 {
		return nil, fmt.Errorf("%w: min_keep must be >= 1, got %d", api.ErrInvalidParam, minKeep)
	}
	return &topP{p: p, minKeep: minKeep}, nil
}

func (s *topP) Apply(td *TokenDataArray) {
	if s.p >= 1 {
		return
	}
	td.softmax()

	var cum float32
	cut := len(td.Items)
	for i := range td.Items {
		cum += td.Items[i].Prob
		if cum >= s.p && i+1 >= s.minKeep {
			cut = i + 1
			break
		}
	}
	td.truncate(cut)
}

func (s *topP) Accept(int32)  {}
func (s *topP) Reset()        {}
func (s *topP) String() string { return fmt.Sprintf("top_p(%g)", s.p) }

// ---------------------------------------------------------------------------
// Min-P

type minP struct {
	p       float32
	minKeep int
}

// MinP behaelt Token, deren Wahrscheinlichkeit mindestens p-mal die des
// besten Kandidaten betraegt.
func MinP(p float32, minKeep int) (Stage, error) {
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("%w: min_p must be in [0,1], got %g", api.ErrInvalidParam, p)
	}
	if minKeep < 1 {
		return nil, fmt.Errorf("%w: min_keep must be >= 1, got %d", api.ErrInvalidParam, minKeep)
	}
	return &minP{p: p, minKeep: minKeep}, nil
}

func (s *minP) Apply(td *TokenDataArray) {
	if s.p <= 0 || len(td.Items) == 0 {
		return
	}
	td.softmax()

	threshold := s.p * td.Items[0].Prob
	cut := len(td.Items)
	for i := range td.Items {
		if td.Items[i].Prob < threshold && i >= s.minKeep {
			cut = i
			break
		}
	}
	td.truncate(cut)
}

func (s *minP) Accept(int32)  {}
func (s *minP) Reset()        {}
func (s *minP) String() string { return fmt.Sprintf("min_p(%g)", s.p) }

// ---------------------------------------------------------------------------
// Typical

type typical struct {
	p       float32
	minKeep int
}

// Typical behaelt Token, deren Surprise nah an der Entropie der Verteilung
// liegt (locally typical sampling).
func Typical(p float32, minKeep int) (Stage, error) {
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("%w: typical_p must be in [0,1], got %g", api.ErrInvalidParam, p)
	}
	if minKeep < 1 {
		return nil, fmt.Errorf("%w: min_keep must be >= 1, got %d", api.ErrInvalidParam, minKeep)
	}
	return &typical{p: p, minKeep: minKeep}, nil
}

func (s *typical) Apply(td *TokenDataArray) {
	if s.p >= 1 || len(td.Items) == 0 {
		return
	}
	td.softmax()

	var entropy float64
	for i := range td.Items {
		p := float64(td.Items[i].Prob)
		if p > 0 {
			entropy -= p * math.Log(p)
		}
	}

	// Abstand jedes Kandidaten zur Entropie, aufsteigend
	type scored struct {
		item  TokenData
		shift float64
	}
	sc := make([]scored, len(td.Items))
	for i, it := range td.Items {
		surprise := math.Inf(1)
		if it.Prob > 0 {
			surprise = -math.Log(float64(it.Prob))
		}
		sc[i] = scored{item: it, shift: math.Abs(surprise - entropy)}
	}
	sortStableBy(sc, func(a, b scored) bool { return a.shift < b.shift })

	var cum float32
	cut := len(sc)
	for i := range sc {
		cum += sc[i].item.Prob
		if cum >= s.p && i+1 >= s.minKeep {
			cut = i + 1
			break
		}
	}

	td.Items = td.Items[:0]
	for i := 0; i < cut; i++ {
		td.Items = append(td.Items, sc[i].item)
	}
	td.Sorted = false
}

func (s *typical) Accept(int32)  {}
func (s *typical) Reset()        {}
func (s *typical) String() string { return fmt.Sprintf("typical(%g)", s.p) }

// ---------------------------------------------------------------------------
// Temperature

type temperature struct {
	t float32
}

// Temperature skaliert die Logits. t == 0 bedeutet Greedy: die Menge wird
// auf den besten Kandidaten reduziert, Gleichstaende gehen an die kleinste
// Token-ID.
func Temperature(t float32) (Stage, error) {
	if t < 0 {
		return nil, fmt.Errorf("%w: temperature must be >= 0, got %g", api.ErrInvalidParam, t)
	}
	return &temperature{t: t}, nil
}

func (s *temperature) Apply(td *TokenDataArray) {
	if len(td.Items) == 0 {
		return
	}
	if s.t == 0 {
		best := 0
		for i := 1; i < len(td.Items); i++ {
			if td.Items[i].Logit > td.Items[best].Logit ||
				(td.Items[i].Logit == td.Items[best].Logit && td.Items[i].ID < td.Items[best].ID) {
				best = i
			}
		}
		td.Items[0] = td.Items[best]
		td.Items = td.Items[:1]
		td.Sorted = true
		return
	}
	for i := range td.Items {
		td.Items[i].Logit /= s.t
	}
}

func (s *temperature) Accept(int32)  {}
func (s *temperature) Reset()        {}
func (s *temperature) String() string { return fmt.Sprintf("temperature(%g)", s.t) }

// ---------------------------------------------------------------------------
// TemperatureExt (Dynatemp)

type temperatureExt struct {
	t        float32
	delta    float32
	exponent float32
}

// TemperatureExt skaliert die Logits mit einer entropieabhaengigen
// Temperatur im Band [t-delta, t+delta].
func TemperatureExt(t, delta, exponent float32) (Stage, error) {
	if t < 0 {
		return nil, fmt.Errorf("%w: temperature must be >= 0, got %g", api.ErrInvalidParam, t)
	}
	if delta < 0 {
		return nil, fmt.Errorf("%w: temperature delta must be >= 0, got %g", api.ErrInvalidParam, delta)
	}
	if exponent <= 0 {
		return nil, fmt.Errorf("%w: temperature exponent must be > 0, got %g", api.ErrInvalidParam, exponent)
	}
	return &temperatureExt{t: t, delta: delta, exponent: exponent}, nil
}

func (s *temperatureExt) Apply(td *TokenDataArray) {
	if s.delta == 0 || len(td.Items) <= 1 {
		(&temperature{t: s.t}).Apply(td)
		return
	}
	td.softmax()

	var entropy float64
	for i := range td.Items {
		p := float64(td.Items[i].Prob)
		if p > 0 {
			entropy -= p * math.Log(p)
		}
	}
	maxEntropy := math.Log(float64(len(td.Items)))
	norm := entropy / maxEntropy

	lo := s.t - s.delta
	if lo < 0 {
		lo = 0
	}
	hi := s.t + s.delta
	dyn := lo + (hi-lo)*float32(math.Pow(norm, float64(s.exponent)))

	(&temperature{t: dyn}).Apply(td)
}

func (s *temperatureExt) Accept(int32) {}
func (s *temperatureExt) Reset()       {}
func (s *temperatureExt) String() string {
	return fmt.Sprintf("temperature_ext(%g,%g,%g)", s.t, s.delta, s.exponent)
}

// ---------------------------------------------------------------------------
// Penalties

type penalties struct {
	lastN    int
	repeat   float32
	freq     float32
	presence float32

	recent []int32
}

// Penalties daempft Token, die im Fenster der letzten lastN emittierten
// Token vorkommen (Repeat-, Frequency- und Presence-Penalty).
func Penalties(lastN int, repeat, freq, presence float32) (Stage, error) {
	if lastN < 0 {
		return nil, fmt.Errorf("%w: penalty window must be >= 0, got %d", api.ErrInvalidParam, lastN)
	}
	if repeat < 0 {
		return nil, fmt.Errorf("%w: repeat penalty must be >= 0, got %g", api.ErrInvalidParam, repeat)
	}
	return &penalties{lastN: lastN, repeat: repeat, freq: freq, presence: presence}, nil
}

func (s *penalties) Apply(td *TokenDataArray) {
	if s.lastN == 0 || len(s.recent) == 0 {
		return
	}

	counts := make(map[int32]int, len(s.recent))
	for _, id := range s.recent {
		counts[id]++
	}

	for i := range td.Items {
		c, ok := counts[td.Items[i].ID]
		if !ok {
			continue
		}
		if s.repeat != 0 && s.repeat != 1 {
			if td.Items[i].Logit > 0 {
				td.Items[i].Logit /= s.repeat
			} else {
				td.Items[i].Logit *= s.repeat
			}
		}
		td.Items[i].Logit -= float32(c)*s.freq + s.presence
	}
	td.Sorted = false
}

func (s *penalties) Accept(id int32) {
	if s.lastN == 0 {
		return
	}
	s.recent = append(s.recent, id)
	if len(s.recent) > s.lastN {
		s.recent = s.recent[len(s.recent)-s.lastN:]
	}
}

func (s *penalties) Reset()        { s.recent = s.recent[:0] }
func (s *penalties) String() string { return fmt.Sprintf("penalties(%d)", s.lastN) }

// ---------------------------------------------------------------------------
// Mirostat

type mirostat struct {
	tau float32
	eta float32
	m   int

	mu       float32
	lastDist map[int32]float32
}

// Mirostat (v1) haelt die beobachtete Surprise ueber ein adaptives Top-K
// nahe am Zielwert tau.
func Mirostat(tau, eta float32, m int) (Stage, error) {
	if tau <= 0 {
		return nil, fmt.Errorf("%w: mirostat tau must be > 0, got %g", api.ErrInvalidParam, tau)
	}
	if eta <= 0 {
		return nil, fmt.Errorf("%w: mirostat eta must be > 0, got %g", api.ErrInvalidParam, eta)
	}
	if m <= 0 {
		return nil, fmt.Errorf("%w: mirostat m must be > 0, got %d", api.ErrInvalidParam, m)
	}
	return &mirostat{tau: tau, eta: eta, m: m, mu: 2 * tau}, nil
}

func (s *mirostat) Apply(td *TokenDataArray) {
	td.softmax()
	n := len(td.Items)
	if n == 0 {
		return
	}

	// s_hat aus den Logit-Abstaenden der Top-m Kandidaten schaetzen
	var num, den float64
	limit := s.m
	if limit > n-1 {
		limit = n - 1
	}
	for i := 0; i < limit; i++ {
		t := math.Log(float64(i+2) / float64(i+1))
		var b float64
		if td.Items[i+1].Prob > 0 {
			b = math.Log(float64(td.Items[i].Prob) / float64(td.Items[i+1].Prob))
		}
		num += t * b
		den += t * t
	}
	sHat := 1.0
	if den > 0 {
		sHat = num / den
	}

	eps := sHat - 1
	k := n
	if eps > 0 {
		kf := math.Pow(eps*math.Pow(2, float64(s.mu))/(1-math.Pow(float64(n), -eps)), 1/sHat)
		if kf < float64(n) {
			k = int(kf)
		}
	}
	if k < 1 {
		k = 1
	}
	td.truncate(k)
	s.snapshot(td)
}

func (s *mirostat) Accept(id int32) {
	p, ok := s.lastDist[id]
	if !ok || p <= 0 {
		return
	}
	surprise := float32(-math.Log2(float64(p)))
	s.mu -= s.eta * (surprise - s.tau)
}

func (s *mirostat) Reset() {
	s.mu = 2 * s.tau
	s.lastDist = nil
}

func (s *mirostat) String() string { return fmt.Sprintf("mirostat(%g,%g)", s.tau, s.eta) }

func (s *mirostat) snapshot(td *TokenDataArray) {
	// Neuberechnung der Probs nach dem Truncate, damit die Surprise des
	// akzeptierten Tokens zur tatsaechlichen Zugverteilung passt
	td.Sorted = true
	td.softmax()
	s.lastDist = make(map[int32]float32, len(td.Items))
	for _, it := range td.Items {
		s.lastDist[it.ID] = it.Prob
	}
}

type mirostatV2 struct {
	tau float32
	eta float32

	mu       float32
	lastDist map[int32]float32
}

// MirostatV2 verwirft Kandidaten, deren Surprise den laufenden Schwellwert
// mu uebersteigt, und regelt mu nach jedem Token nach.
func MirostatV2(tau, eta float32) (Stage, error) {
	if tau <= 0 {
		return nil, fmt.Errorf("%w: mirostat tau must be > 0, got %g", api.ErrInvalidParam, tau)
	}
	if eta <= 0 {
		return nil, fmt.Errorf("%w: mirostat eta must be > 0, got %g", api.ErrInvalidParam, eta)
	}
	return &mirostatV2{tau: tau, eta: eta, mu: 2 * tau}, nil
}

func (s *mirostatV2) Apply(td *TokenDataArray) {
	td.softmax()
	if len(td.Items) == 0 {
		return
	}

	cut := len(td.Items)
	for i := range td.Items {
		surprise := float32(math.Inf(1))
		if td.Items[i].Prob > 0 {
			surprise = float32(-math.Log2(float64(td.Items[i].Prob)))
		}
		if surprise > s.mu && i > 0 {
			cut = i
			break
		}
	}
	td.truncate(cut)

	td.Sorted = true
	td.softmax()
	s.lastDist = make(map[int32]float32, len(td.Items))
	for _, it := range td.Items {
		s.lastDist[it.ID] = it.Prob
	}
}

func (s *mirostatV2) Accept(id int32) {
	p, ok := s.lastDist[id]
	if !ok || p <= 0 {
		return
	}
	surprise := float32(-math.Log2(float64(p)))
	s.mu -= s.eta * (surprise - s.tau)
}

func (s *mirostatV2) Reset() {
	s.mu = 2 * s.tau
	s.lastDist = nil
}

func (s *mirostatV2) String() string { return fmt.Sprintf("mirostat_v2(%g,%g)", s.tau, s.eta) }

// ---------------------------------------------------------------------------
// Grammar

type grammarStage struct {
	g       *grammar.Grammar
	machine *grammar.Machine
	vocab   Vocab
}

// Grammar verwirft jedes Token, dessen Textstueck der aktuelle
// Parse-Zustand nicht akzeptiert. End-of-Generation bleibt nur erlaubt,
// wenn die Grammatik eine vollstaendige Ableitung erreicht hat.
func GrammarStage(g *grammar.Grammar, vocab Vocab) (Stage, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil grammar", api.ErrInvalidParam)
	}
	if vocab == nil {
		return nil, fmt.Errorf("%w: nil vocab", api.ErrInvalidParam)
	}
	m, err := g.NewMachine()
	if err != nil {
		return nil, err
	}
	return &grammarStage{g: g, machine: m, vocab: vocab}, nil
}

func (s *grammarStage) Apply(td *TokenDataArray) {
	kept := td.Items[:0]
	for _, it := range td.Items {
		if s.vocab.IsEOG(it.ID) {
			if s.machine.Done() {
				kept = append(kept, it)
			}
			continue
		}
		piece := s.vocab.Piece(it.ID)
		if piece == "" {
			continue
		}
		if s.machine.Allows(piece) {
			kept = append(kept, it)
		}
	}
	td.Items = kept
}

func (s *grammarStage) Accept(id int32) {
	if s.vocab.IsEOG(id) {
		return
	}
	// Apply hat das Token bereits als zulaessig geprueft
	_ = s.machine.Accept(s.vocab.Piece(id))
}

func (s *grammarStage) Reset() {
	if m, err := s.g.NewMachine(); err == nil {
		s.machine = m
	}
}

func (s *grammarStage) String() string { return fmt.Sprintf("grammar(%s)", s.g.Root) }

// grammarOf erkennt den Grammar-Stage fuer die Ordnungspruefung der Chain.
func grammarOf(s Stage) *grammar.Grammar {
	if gs, ok := s.(*grammarStage); ok {
		return gs.g
	}
	return nil
}

// narrowing meldet ob ein Stage Kandidaten verwerfen kann. Ein Grammar-Stage
// hinter einem solchen Stage koennte das einzig grammatik-gueltige Token
// nie mehr sehen.
func narrowing(s Stage) bool {
	switch t := s.(type) {
	case *topK, *topP, *minP, *typical, *mirostat, *mirostatV2:
		return true
	case *temperature:
		return t.t == 0
	case *temperatureExt:
		return t.t == 0 && t.delta == 0
	default:
		return false
	}
}

// sortStableBy haelt die Eingabeordnung bei Gleichstand.
func sortStableBy[T any](s []T, less func(a, b T) bool) {
	sort.SliceStable(s, func(i, j int) bool { return less(s[i], s[j]) })
}
