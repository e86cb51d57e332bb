// MODUL: mock_test
// ZWECK: Tests fuer die deterministische Referenz-Engine
// INPUT: synthetische Token-Folgen und Adapter-Pfade
// OUTPUT: Testresultate
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: testing, go-cmp
// HINWEISE: Prueft insbesondere die exakte Umkehrbarkeit von Adaptern

package engine

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/7blacky7/infera/api"
)

func loadMock(t *testing.T) *MockHandle {
	t.Helper()
	h, err := (&Mock{}).Load("testmodel.bin", ModelParams{ContextLength: 128})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return h.(*MockHandle)
}

func TestLoadValidation(t *testing.T) {
	if _, err := (&Mock{}).Load("", ModelParams{}); !errors.Is(err, api.ErrLoadFailed) {
		t.Errorf("Load(leer) = %v, erwartet ErrLoadFailed", err)
	}
	if _, err := (&Mock{FailLoad: true}).Load("x", ModelParams{}); !errors.Is(err, api.ErrLoadFailed) {
		t.Errorf("Load(FailLoad) = %v, erwartet ErrLoadFailed", err)
	}
}

func TestTokenizeRoundTrip(t *testing.T) {
	h := loadMock(t)

	tokens, err := h.Tokenize("2+2=", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != 4 {
		t.Fatalf("len(tokens) = %d", len(tokens))
	}
	if got := h.Detokenize(tokens); got != "2+2=" {
		t.Errorf("Detokenize = %q", got)
	}
	if h.TokenToPiece(tokens[0]) != "2" {
		t.Errorf("TokenToPiece = %q", h.TokenToPiece(tokens[0]))
	}
	if !h.IsEOG(256) || h.IsEOG(65) {
		t.Error("IsEOG fehlerhaft")
	}
}

func TestLogitsDeterministic(t *testing.T) {
	h1 := loadMock(t)
	h2 := loadMock(t)

	tokens, _ := h1.Tokenize("hallo", true)
	if err := h1.Decode(tokens); err != nil {
		t.Fatal(err)
	}
	if err := h2.Decode(tokens); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(h1.Logits(), h2.Logits()); diff != "" {
		t.Errorf("Logits weichen ab (-h1 +h2):\n%s", diff)
	}
}

func TestAdapterExactlyReversible(t *testing.T) {
	h := loadMock(t)
	tokens, _ := h.Tokenize("abc", true)
	if err := h.Decode(tokens); err != nil {
		t.Fatal(err)
	}

	before := h.Logits()

	ref, err := h.LoadAdapter("style.lora")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.AttachAdapter(ref, 0.75); err != nil {
		t.Fatal(err)
	}

	with := h.Logits()
	if diff := cmp.Diff(before, with); diff == "" {
		t.Fatal("Adapter hat die Logits nicht veraendert")
	}

	if err := h.DetachAdapter(ref); err != nil {
		t.Fatal(err)
	}
	after := h.Logits()
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("Logits nach Detach nicht identisch (-vorher +nachher):\n%s", diff)
	}
}

func TestAttachUnknownRef(t *testing.T) {
	h := loadMock(t)
	if err := h.AttachAdapter(99, 1); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("AttachAdapter = %v, erwartet ErrNotFound", err)
	}
	if err := h.DetachAdapter(99); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("DetachAdapter = %v, erwartet ErrNotFound", err)
	}
}

func TestDecodeFailureInjection(t *testing.T) {
	h := loadMock(t)
	h.FailDecodeAfter = 2

	if err := h.Decode([]int32{1}); err != nil {
		t.Fatalf("erster Decode: %v", err)
	}
	if err := h.Decode([]int32{2}); !errors.Is(err, api.ErrDecode) {
		t.Fatalf("zweiter Decode = %v, erwartet ErrDecode", err)
	}
}

func TestContextWindowExhaustion(t *testing.T) {
	h, err := (&Mock{}).Load("m", ModelParams{ContextLength: 4})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Decode([]int32{1, 2, 3, 4, 5}); !errors.Is(err, api.ErrOutOfMemory) {
		t.Fatalf("Decode = %v, erwartet ErrOutOfMemory", err)
	}
}

func TestStateRoundTrip(t *testing.T) {
	h := loadMock(t)
	tokens, _ := h.Tokenize("zustand", true)
	if err := h.Decode(tokens); err != nil {
		t.Fatal(err)
	}

	blob, err := h.SaveState()
	if err != nil {
		t.Fatal(err)
	}
	logitsBefore := h.Logits()

	h2 := loadMock(t)
	if err := h2.LoadState(blob); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(logitsBefore, h2.Logits()); diff != "" {
		t.Errorf("Logits nach LoadState weichen ab:\n%s", diff)
	}

	if err := h2.LoadState([]byte("kein blob")); !errors.Is(err, api.ErrInvalidParam) {
		t.Errorf("LoadState(muell) = %v, erwartet ErrInvalidParam", err)
	}
}

func TestVisionEncoderLifecycle(t *testing.T) {
	h := loadMock(t)

	if h.VisionInitialized() {
		t.Fatal("VisionInitialized vor Init")
	}
	if _, _, err := h.EncodeImage([]float32{0.5}, 1, 1); !errors.Is(err, api.ErrMultimodalNotSupported) {
		t.Fatalf("EncodeImage = %v, erwartet ErrMultimodalNotSupported", err)
	}

	if err := h.InitVisionEncoder("proj.bin"); err != nil {
		t.Fatal(err)
	}
	emb, tokens, err := h.EncodeImage([]float32{0.25, 0.5, 0.75}, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if tokens != 4 {
		t.Errorf("tokens = %d, erwartet 4", tokens)
	}
	if emb.Dim() != h.Info().EmbeddingDim {
		t.Errorf("Dim = %d, erwartet %d", emb.Dim(), h.Info().EmbeddingDim)
	}
}

func TestClosedHandle(t *testing.T) {
	h := loadMock(t)
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}

	if err := h.Close(); !errors.Is(err, api.ErrAlreadyClosed) {
		t.Errorf("zweites Close = %v, erwartet ErrAlreadyClosed", err)
	}
	if _, err := h.Tokenize("x", true); !errors.Is(err, api.ErrAlreadyClosed) {
		t.Errorf("Tokenize nach Close = %v, erwartet ErrAlreadyClosed", err)
	}
	if err := h.Decode([]int32{1}); !errors.Is(err, api.ErrAlreadyClosed) {
		t.Errorf("Decode nach Close = %v, erwartet ErrAlreadyClosed", err)
	}
}
