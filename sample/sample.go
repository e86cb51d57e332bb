// MODUL: sample - Token-Auswahl ueber eine Stage-Pipeline
// ZWECK: Wandelt eine Logit-Verteilung schrittweise in genau ein Token um.
//        Jeder Stage liest die aktuelle Kandidatenmenge und verengt oder
//        gewichtet sie; der finale Zug zieht aus der Restverteilung.
// HINWEISE: Eine Chain gehoert genau einer Session. Nach jedem emittierten
//           Token muss Accept gerufen werden, damit zustandsbehaftete Stages
//           (Penalties, Mirostat, Grammar) konsistent bleiben.
package sample

import (
	"math"
	"sort"
)

// TokenData ist ein Kandidat der aktuellen Verteilung.
type TokenData struct {
	ID    int32
	Logit float32
	Prob  float32
}

// TokenDataArray ist die veraenderliche Kandidatenmenge, die durch die
// Stages einer Chain laeuft. Sorted markiert absteigende Logit-Ordnung.
type TokenDataArray struct {
	Items  []TokenData
	Sorted bool
}

// Stage ist ein Schritt der Sampling-Pipeline.
type Stage interface {
	// Apply verengt oder gewichtet die Kandidatenmenge in-place.
	Apply(td *TokenDataArray)
	// Accept meldet das tatsaechlich emittierte Token an den Stage.
	Accept(id int32)
	// Reset verwirft jeden internen Zustand fuer eine neue Generierung.
	Reset()
	String() string
}

// Vocab liefert den Text eines Tokens und markiert End-of-Generation-Tokens.
// Der Grammar-Stage braucht beides, um Token-Stuecke gegen den Parse-Zustand
// zu pruefen.
type Vocab interface {
	Piece(id int32) string
	IsEOG(id int32) bool
}

// newTokenDataArray baut die Startmenge aus rohen Logits. Der Index im
// Slice ist die Token-ID.
func newTokenDataArray(logits []float32) *TokenDataArray {
	items := make([]TokenData, len(logits))
	for i, l := range logits {
		items[i] = TokenData{ID: int32(i), Logit: l}
	}
	return &TokenDataArray{Items: items}
}

// sortByLogit sortiert absteigend nach Logit, bei Gleichstand aufsteigend
// nach ID. Die ID-Ordnung macht Greedy-Zuege reproduzierbar.
func (td *TokenDataArray) sortByLogit() {
	if td.Sorted {
		return
	}
	sort.SliceStable(td.Items, func(i, j int) bool {
		if td.Items[i].Logit != td.Items[j].Logit {
			return td.Items[i].Logit > td.Items[j].Logit
		}
		return td.Items[i].ID < td.Items[j].ID
	})
	td.Sorted = true
}

// softmax berechnet die Wahrscheinlichkeiten der Kandidaten, numerisch
// stabil ueber den Maximal-Logit.
func (td *TokenDataArray) softmax() {
	td.sortByLogit()
	if len(td.Items) == 0 {
		return
	}

	maxLogit := td.Items[0].Logit
	var sum float64
	for i := range td.Items {
		p := math.Exp(float64(td.Items[i].Logit - maxLogit))
		td.Items[i].Prob = float32(p)
		sum += p
	}
	for i := range td.Items {
		td.Items[i].Prob = float32(float64(td.Items[i].Prob) / sum)
	}
}

// truncate behaelt die ersten n Kandidaten der sortierten Menge.
func (td *TokenDataArray) truncate(n int) {
	if n < len(td.Items) {
		td.Items = td.Items[:n]
	}
}
