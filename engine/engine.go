// MODUL: engine
// ZWECK: Kollaborations-Vertrag zur nativen Inferenz-Engine
// INPUT: Modellpfade, Token, Embeddings, Adapter-Referenzen
// OUTPUT: Logits, Token-Stuecke, Zustands-Blobs
// NEBENEFFEKTE: abhaengig von der Engine-Implementierung
// ABHAENGIGKEITEN: media (Embedding-Typ)
// HINWEISE: Genau eine Session besitzt ein Handle; das Handle ist nie
//           kopierbar und nach erfolgreichem Load nie nil

package engine

import "github.com/7blacky7/infera/media"

// Engine oeffnet Modelle. Die Laufzeit behandelt die Engine als externen
// Kollaborateur: alles hinter diesem Interface darf nativ sein.
type Engine interface {
	Load(modelPath string, params ModelParams) (Handle, error)
}

// ModelParams parametrisiert das Laden eines Modells.
type ModelParams struct {
	// ContextLength 0 uebernimmt den envconfig-Standard
	ContextLength int
	// Threads 0 laesst die Engine entscheiden
	Threads int
}

// AdapterRef ist eine engine-opake Referenz auf einen geladenen Adapter.
type AdapterRef interface{}

// ModelInfo beschreibt das geladene Modell.
type ModelInfo struct {
	NumVocab      int
	ContextLength int
	EmbeddingDim  int
	Architecture  string
}

// Handle ist ein geladenes Modell samt Inferenz-Kontext. Alle Methoden
// werden von der besitzenden Session serialisiert.
type Handle interface {
	// Tokenize zerlegt Text in Token-IDs
	Tokenize(text string, addSpecial bool) ([]int32, error)
	// Detokenize setzt Token-IDs zu Text zusammen
	Detokenize(tokens []int32) string
	// TokenToPiece gibt das Textstueck eines einzelnen Tokens zurueck
	TokenToPiece(token int32) string
	// IsEOG meldet End-of-Generation-Token
	IsEOG(token int32) bool

	// Decode verarbeitet Token und aktualisiert die Logits
	Decode(tokens []int32) error
	// DecodeEmbed verarbeitet vorgerechnete Embeddings (Medien-Slots)
	DecodeEmbed(embeds [][]float32) error
	// Logits gibt die Verteilung nach dem letzten Decode zurueck
	Logits() []float32

	// LoadAdapter laedt einen Adapter, ohne ihn zu aktivieren
	LoadAdapter(path string) (AdapterRef, error)
	// AttachAdapter aktiviert einen Adapter mit Skalierung
	AttachAdapter(ref AdapterRef, scale float32) error
	// DetachAdapter deaktiviert einen Adapter; die Logits entsprechen
	// danach exakt dem Zustand ohne diesen Adapter
	DetachAdapter(ref AdapterRef) error

	// InitVisionEncoder laedt den Multimodal-Projektor
	InitVisionEncoder(projectorPath string) error
	VisionInitialized() bool
	AudioInitialized() bool
	EncodeImage(pixels []float32, width, height int) (media.Embedding, int, error)
	EncodeAudio(samples []float32, rate int) (media.Embedding, int, error)

	// SaveState serialisiert den engine-internen Kontextzustand
	SaveState() ([]byte, error)
	// LoadState stellt einen mit SaveState erzeugten Zustand wieder her
	LoadState(state []byte) error

	Info() ModelInfo
	Close() error
}
