// MODUL: mock
// ZWECK: Deterministische Referenz-Engine fuer Tests und CLI-Demo
// INPUT: beliebige Modellpfade, Token, Pixel, Samples
// OUTPUT: hash-getriebene, reproduzierbare Logits und Embeddings
// NEBENEFFEKTE: keine (rein in-memory)
// ABHAENGIGKEITEN: media (Embedding-Typ)
// HINWEISE: Byte-Level-Tokenizer (IDs 0-255, EOS 256). Adapter-Deltas sind
//           reine Funktionen von Pfad und Token-ID und damit exakt umkehrbar

package engine

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/7blacky7/infera/api"
	"github.com/7blacky7/infera/media"
)

const (
	mockVocabSize = 257
	mockEOS       = 256
)

// Mock ist eine Engine ohne natives Backend.
type Mock struct {
	// FailLoad laesst jeden Load-Versuch scheitern
	FailLoad bool
}

// Load erstellt ein deterministisches Handle. Der Modellpfad fliesst in
// die Logit-Hashes ein, verschiedene "Modelle" antworten verschieden.
func (e *Mock) Load(modelPath string, params ModelParams) (Handle, error) {
	if e.FailLoad {
		return nil, fmt.Errorf("%w: mock engine set to fail", api.ErrLoadFailed)
	}
	if modelPath == "" {
		return nil, fmt.Errorf("%w: empty model path", api.ErrLoadFailed)
	}

	ctxLen := params.ContextLength
	if ctxLen <= 0 {
		ctxLen = 4096
	}

	return &MockHandle{
		modelPath: modelPath,
		ctxLen:    ctxLen,
		adapters:  map[AdapterRef]*mockAdapter{},
	}, nil
}

type mockAdapter struct {
	path     string
	scale    float32
	attached bool
}

// MockHandle ist das Handle der Mock-Engine.
type MockHandle struct {
	modelPath string
	ctxLen    int
	history   []int32
	adapters  map[AdapterRef]*mockAdapter
	nextRef   int

	vision bool
	audio  bool
	closed bool

	// FailDecodeAfter laesst den n-ten Decode-Aufruf scheitern (0 = nie)
	FailDecodeAfter int
	decodeCalls     int
}

func (h *MockHandle) guard() error {
	if h.closed {
		return fmt.Errorf("%w: engine handle", api.ErrAlreadyClosed)
	}
	return nil
}

// Tokenize zerlegt Text in Byte-Token.
func (h *MockHandle) Tokenize(text string, addSpecial bool) ([]int32, error) {
	if err := h.guard(); err != nil {
		return nil, err
	}
	tokens := make([]int32, 0, len(text))
	for _, b := range []byte(text) {
		tokens = append(tokens, int32(b))
	}
	return tokens, nil
}

func (h *MockHandle) Detokenize(tokens []int32) string {
	buf := make([]byte, 0, len(tokens))
	for _, t := range tokens {
		if t >= 0 && t < 256 {
			buf = append(buf, byte(t))
		}
	}
	return string(buf)
}

func (h *MockHandle) TokenToPiece(token int32) string {
	if token < 0 || token >= 256 {
		return ""
	}
	return string([]byte{byte(token)})
}

func (h *MockHandle) IsEOG(token int32) bool {
	return token == mockEOS
}

// Decode haengt Token an die Historie an.
func (h *MockHandle) Decode(tokens []int32) error {
	if err := h.guard(); err != nil {
		return err
	}
	h.decodeCalls++
	if h.FailDecodeAfter > 0 && h.decodeCalls >= h.FailDecodeAfter {
		return fmt.Errorf("%w: injected decode failure at call %d", api.ErrDecode, h.decodeCalls)
	}
	if len(h.history)+len(tokens) > h.ctxLen {
		return fmt.Errorf("%w: context window of %d tokens exhausted", api.ErrOutOfMemory, h.ctxLen)
	}
	h.history = append(h.history, tokens...)
	return nil
}

// DecodeEmbed mischt vorgerechnete Embeddings als Pseudo-Token in die
// Historie, damit Medien den weiteren Verlauf beeinflussen.
func (h *MockHandle) DecodeEmbed(embeds [][]float32) error {
	if err := h.guard(); err != nil {
		return err
	}
	h.decodeCalls++
	if h.FailDecodeAfter > 0 && h.decodeCalls >= h.FailDecodeAfter {
		return fmt.Errorf("%w: injected decode failure at call %d", api.ErrDecode, h.decodeCalls)
	}
	for _, row := range embeds {
		hash := fnv.New64a()
		for _, v := range row {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(int32(v*1000)))
			hash.Write(b[:])
		}
		h.history = append(h.history, int32(hash.Sum64()%256))
	}
	return nil
}

// Logits berechnet die Verteilung rein aus Historie, Modellpfad und den
// aktiven Adaptern. Keine interne Zufallsquelle.
func (h *MockHandle) Logits() []float32 {
	logits := make([]float32, mockVocabSize)
	for id := int32(0); id < mockVocabSize; id++ {
		logits[id] = hashLogit(h.modelPath, h.history, id)
		// Adapter in Lade-Reihenfolge, damit die Summe bitgenau
		// reproduzierbar bleibt
		for ref := 1; ref <= h.nextRef; ref++ {
			if a, ok := h.adapters[ref]; ok && a.attached {
				logits[id] += a.scale * adapterDelta(a.path, id)
			}
		}
	}
	return logits
}

// hashLogit bildet (Modell, Historie, Kandidat) auf [0,8) ab.
func hashLogit(model string, history []int32, id int32) float32 {
	hash := fnv.New64a()
	hash.Write([]byte(model))
	for _, t := range history {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(t))
		hash.Write(b[:])
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(id))
	hash.Write(b[:])
	return float32(hash.Sum64()%8000) / 1000
}

// adapterDelta ist die reine Delta-Funktion eines Adapters.
func adapterDelta(path string, id int32) float32 {
	hash := fnv.New64a()
	hash.Write([]byte(path))
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(id))
	hash.Write(b[:])
	return float32(hash.Sum64()%2000)/1000 - 1
}

func (h *MockHandle) LoadAdapter(path string) (AdapterRef, error) {
	if err := h.guard(); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty adapter path", api.ErrLoadFailed)
	}
	h.nextRef++
	ref := h.nextRef
	h.adapters[ref] = &mockAdapter{path: path}
	return ref, nil
}

func (h *MockHandle) AttachAdapter(ref AdapterRef, scale float32) error {
	if err := h.guard(); err != nil {
		return err
	}
	a, ok := h.adapters[ref]
	if !ok {
		return fmt.Errorf("%w: adapter ref %v", api.ErrNotFound, ref)
	}
	a.scale = scale
	a.attached = true
	return nil
}

func (h *MockHandle) DetachAdapter(ref AdapterRef) error {
	if err := h.guard(); err != nil {
		return err
	}
	a, ok := h.adapters[ref]
	if !ok {
		return fmt.Errorf("%w: adapter ref %v", api.ErrNotFound, ref)
	}
	a.attached = false
	delete(h.adapters, ref)
	return nil
}

func (h *MockHandle) InitVisionEncoder(projectorPath string) error {
	if err := h.guard(); err != nil {
		return err
	}
	if projectorPath == "" {
		return fmt.Errorf("%w: empty projector path", api.ErrLoadFailed)
	}
	h.vision = true
	h.audio = true
	return nil
}

func (h *MockHandle) VisionInitialized() bool { return h.vision && !h.closed }
func (h *MockHandle) AudioInitialized() bool  { return h.audio && !h.closed }

// EncodeImage bildet Pixel-Statistiken auf ein Embedding fester Laenge ab.
func (h *MockHandle) EncodeImage(pixels []float32, width, height int) (media.Embedding, int, error) {
	if err := h.guard(); err != nil {
		return media.Embedding{}, 0, err
	}
	if !h.vision {
		return media.Embedding{}, 0, fmt.Errorf("%w: vision encoder not initialized", api.ErrMultimodalNotSupported)
	}

	var sum, min, max float32
	if len(pixels) > 0 {
		min, max = pixels[0], pixels[0]
	}
	for _, p := range pixels {
		sum += p
		if p < min {
			min = p
		}
		if p > max {
			max = p
		}
	}
	mean := float32(0)
	if len(pixels) > 0 {
		mean = sum / float32(len(pixels))
	}

	values := make([]float32, h.Info().EmbeddingDim)
	values[0] = mean
	values[1] = min
	values[2] = max
	values[3] = float32(width)
	values[4] = float32(height)
	return media.NewEmbedding(values), 4, nil
}

// EncodeAudio bildet Sample-Statistiken auf ein Embedding ab.
func (h *MockHandle) EncodeAudio(samples []float32, rate int) (media.Embedding, int, error) {
	if err := h.guard(); err != nil {
		return media.Embedding{}, 0, err
	}
	if !h.audio {
		return media.Embedding{}, 0, fmt.Errorf("%w: audio encoder not initialized", api.ErrMultimodalNotSupported)
	}

	var sum float32
	for _, s := range samples {
		sum += s
	}
	values := make([]float32, h.Info().EmbeddingDim)
	values[0] = sum
	values[1] = float32(len(samples))
	values[2] = float32(rate)
	return media.NewEmbedding(values), 2, nil
}

const mockStateMagic = uint32(0x494E4645) // "INFE"

// SaveState serialisiert die Token-Historie.
func (h *MockHandle) SaveState() ([]byte, error) {
	if err := h.guard(); err != nil {
		return nil, err
	}
	buf := make([]byte, 8+4*len(h.history))
	binary.LittleEndian.PutUint32(buf[0:4], mockStateMagic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(h.history)))
	for i, t := range h.history {
		binary.LittleEndian.PutUint32(buf[8+4*i:], uint32(t))
	}
	return buf, nil
}

// LoadState stellt eine mit SaveState erzeugte Historie wieder her.
func (h *MockHandle) LoadState(state []byte) error {
	if err := h.guard(); err != nil {
		return err
	}
	if len(state) < 8 || binary.LittleEndian.Uint32(state[0:4]) != mockStateMagic {
		return fmt.Errorf("%w: not a mock engine state blob", api.ErrInvalidParam)
	}
	n := int(binary.LittleEndian.Uint32(state[4:8]))
	if len(state) != 8+4*n {
		return fmt.Errorf("%w: state blob of %d bytes does not hold %d tokens", api.ErrInvalidParam, len(state), n)
	}
	history := make([]int32, n)
	for i := range history {
		history[i] = int32(binary.LittleEndian.Uint32(state[8+4*i:]))
	}
	h.history = history
	return nil
}

func (h *MockHandle) Info() ModelInfo {
	return ModelInfo{
		NumVocab:      mockVocabSize,
		ContextLength: h.ctxLen,
		EmbeddingDim:  8,
		Architecture:  "mock",
	}
}

func (h *MockHandle) Close() error {
	if h.closed {
		return fmt.Errorf("%w: engine handle", api.ErrAlreadyClosed)
	}
	h.closed = true
	h.history = nil
	h.adapters = nil
	return nil
}

// History gibt die bisher dekodierte Token-Folge zurueck (nur fuer Tests).
func (h *MockHandle) History() []int32 {
	out := make([]int32, len(h.history))
	copy(out, h.history)
	return out
}
