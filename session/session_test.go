// MODUL: session_test
// ZWECK: End-to-End-Tests der Session ueber der Referenz-Engine
// INPUT: Mock-Engine, synthetische Prompts und Medien
// OUTPUT: Testresultate
// NEBENEFFEKTE: temporaere Snapshot-Dateien
// ABHAENGIGKEITEN: testing, engine (Mock)
// HINWEISE: Die Mock-Engine ist hash-deterministisch; gleiche Eingaben
//           ergeben byte-gleiche Ausgaben

package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"testing"

	"github.com/7blacky7/infera/api"
	"github.com/7blacky7/infera/engine"
	"github.com/7blacky7/infera/grammar"
)

func openSession(t *testing.T, params Params) *Session {
	t.Helper()
	if params.ModelPath == "" {
		params.ModelPath = "testmodel.bin"
	}
	s, err := Open(&engine.Mock{}, params)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

// collect fuehrt eine Generierung aus und sammelt den gestreamten Text
func collect(t *testing.T, s *Session, req api.GenerateRequest) (string, api.GenerateResponse) {
	t.Helper()
	var sb strings.Builder
	var last api.GenerateResponse
	err := s.Generate(context.Background(), req, func(r api.GenerateResponse) {
		sb.WriteString(r.Content)
		if r.Done {
			last = r
		}
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return sb.String(), last
}

func TestOpenValidation(t *testing.T) {
	if _, err := Open(nil, Params{ModelPath: "m"}); !errors.Is(err, api.ErrInvalidParam) {
		t.Errorf("Open(nil engine) = %v", err)
	}
	if _, err := Open(&engine.Mock{}, Params{}); !errors.Is(err, api.ErrInvalidParam) {
		t.Errorf("Open(ohne Modell) = %v", err)
	}
	if _, err := Open(&engine.Mock{FailLoad: true}, Params{ModelPath: "m"}); !errors.Is(err, api.ErrLoadFailed) {
		t.Errorf("Open(FailLoad) = %v", err)
	}
}

func TestGreedyGenerationReproducible(t *testing.T) {
	req := api.GenerateRequest{
		Prompt:  "2+2=",
		Options: api.Options{Temperature: 0, NumPredict: 5},
	}

	s1 := openSession(t, Params{})
	out1, done1 := collect(t, s1, req)

	s2 := openSession(t, Params{})
	out2, done2 := collect(t, s2, req)

	if out1 != out2 {
		t.Fatalf("Ausgaben weichen ab: %q != %q", out1, out2)
	}
	if done1.EvalCount != done2.EvalCount {
		t.Errorf("EvalCount weicht ab: %d != %d", done1.EvalCount, done2.EvalCount)
	}
	if done1.EvalCount < 1 || done1.EvalCount > 5 {
		t.Errorf("EvalCount = %d, erwartet 1..5", done1.EvalCount)
	}
	if done1.DoneReason != done2.DoneReason {
		t.Errorf("DoneReason weicht ab: %s != %s", done1.DoneReason, done2.DoneReason)
	}
	if done1.PromptEvalCount != 4 {
		t.Errorf("PromptEvalCount = %d, erwartet 4", done1.PromptEvalCount)
	}
	if s1.State() != StateCompleted {
		t.Errorf("State = %s, erwartet completed", s1.State())
	}
}

func TestCancellationAtIterationBoundary(t *testing.T) {
	s := openSession(t, Params{})
	ctx, cancel := context.WithCancel(context.Background())

	const k = 3
	var pieces int
	var done api.GenerateResponse
	err := s.Generate(ctx, api.GenerateRequest{
		Prompt: "erzaehl",
		// Lange Pflicht-Ableitung: jedes Token ist ein sichtbares Zeichen
		Grammar: `root ::= "abcdefghijklmnopqrstuvwxyz"`,
		Options: api.Options{Temperature: 0, NumPredict: 100},
	}, func(r api.GenerateResponse) {
		if r.Done {
			done = r
			return
		}
		pieces++
		if pieces == k {
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Abbruch nach K Token: exakt K, nie K+1
	if done.EvalCount != k {
		t.Errorf("EvalCount = %d, erwartet exakt %d", done.EvalCount, k)
	}
	if done.DoneReason != api.DoneReasonAborted {
		t.Errorf("DoneReason = %s, erwartet aborted", done.DoneReason)
	}
	if s.State() != StateAborted {
		t.Errorf("State = %s, erwartet aborted", s.State())
	}
}

func TestAdapterLoadRemoveIsIdentity(t *testing.T) {
	req := api.GenerateRequest{
		Prompt:  "hallo",
		Options: api.Options{Temperature: 0, NumPredict: 8},
	}

	plain := openSession(t, Params{})
	want, _ := collect(t, plain, req)

	adapted := openSession(t, Params{})
	id, err := adapted.LoadAdapter("style.lora", 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if err := adapted.RemoveAdapter(id); err != nil {
		t.Fatal(err)
	}
	got, _ := collect(t, adapted, req)

	if got != want {
		t.Errorf("Ausgabe nach Load+Remove = %q, ohne Adapter %q", got, want)
	}
}

func TestAdapterChangesLogits(t *testing.T) {
	plain := openSession(t, Params{})
	adapted := openSession(t, Params{})
	if _, err := adapted.LoadAdapter("style.lora", 1.5); err != nil {
		t.Fatal(err)
	}

	want := sessionHandle(t, plain).Logits()
	got := sessionHandle(t, adapted).Logits()
	if len(got) != len(want) {
		t.Fatalf("Logit-Laengen: %d != %d", len(got), len(want))
	}
	changed := false
	for i := range got {
		if got[i] != want[i] {
			changed = true
			break
		}
	}
	if !changed {
		t.Error("aktiver Adapter hat die Logits nicht veraendert")
	}
}

func TestAdapterOps(t *testing.T) {
	s := openSession(t, Params{})

	if _, err := s.LoadAdapter("a.lora", 3.0); !errors.Is(err, api.ErrInvalidParam) {
		t.Errorf("LoadAdapter(scale 3) = %v, erwartet ErrInvalidParam", err)
	}

	id1, err := s.LoadAdapter("a.lora", 0.5)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.LoadAdapter("b.lora", 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Adapters(); len(got) != 2 || got[0] != id1 || got[1] != id2 {
		t.Errorf("Adapters = %v, erwartet Lade-Reihenfolge [%v %v]", got, id1, id2)
	}

	if err := s.SetAdapterScale(id1, 0.8); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAdapterScale(id1, 5); !errors.Is(err, api.ErrInvalidParam) {
		t.Errorf("SetAdapterScale(5) = %v", err)
	}

	if err := s.RemoveAdapter(id1); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveAdapter(id1); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("zweites RemoveAdapter = %v, erwartet ErrNotFound", err)
	}

	if err := s.ClearAdapters(); err != nil {
		t.Fatal(err)
	}
	if got := s.Adapters(); len(got) != 0 {
		t.Errorf("Adapters nach Clear = %v", got)
	}
}

func TestGrammarConstrainedGeneration(t *testing.T) {
	s := openSession(t, Params{})

	out, done := collect(t, s, api.GenerateRequest{
		Prompt:  "antworte",
		Grammar: `root ::= "ok" | "no"`,
		Options: api.Options{Temperature: 0, NumPredict: 10},
	})

	if out != "ok" && out != "no" {
		t.Fatalf("Ausgabe = %q, erwartet ok oder no", out)
	}
	if done.DoneReason != api.DoneReasonStop {
		t.Errorf("DoneReason = %s, erwartet stop (EOG nach vollstaendiger Ableitung)", done.DoneReason)
	}
}

func TestSchemaConstrainedGeneration(t *testing.T) {
	s := openSession(t, Params{})

	schema := []byte(`{"type":"object","properties":{"ok":{"type":"boolean"}}}`)
	out, done := collect(t, s, api.GenerateRequest{
		Prompt:  "antworte",
		Format:  schema,
		Options: api.Options{Temperature: 0, NumPredict: 200},
	})

	if done.DoneReason != api.DoneReasonStop {
		t.Fatalf("DoneReason = %s, Ausgabe %q", done.DoneReason, out)
	}

	g, err := grammar.FromJSONSchema(schema)
	if err != nil {
		t.Fatal(err)
	}
	m, err := g.NewMachine()
	if err != nil {
		t.Fatal(err)
	}
	if !m.AcceptsAll(out) {
		t.Errorf("Ausgabe %q ist keine gueltige Ableitung des Schemas", out)
	}
}

func TestConstraintSourcesMutuallyExclusive(t *testing.T) {
	s := openSession(t, Params{})

	err := s.Generate(context.Background(), api.GenerateRequest{
		Prompt:  "x",
		Grammar: `root ::= "a"`,
		Tools:   api.Tools{{Type: "function", Function: api.ToolFunction{Name: "f"}}},
	}, func(api.GenerateResponse) {})
	if !errors.Is(err, api.ErrInvalidParam) {
		t.Fatalf("Generate = %v, erwartet ErrInvalidParam", err)
	}
	if s.State() != StateFailed {
		t.Errorf("State = %s, erwartet failed", s.State())
	}
}

func TestStopSequence(t *testing.T) {
	s := openSession(t, Params{})

	// Die Grammatik erzwingt den Strom Zeichen fuer Zeichen; die
	// Stop-Sequenz faellt ueber mehrere Token verteilt an
	out, done := collect(t, s, api.GenerateRequest{
		Prompt:  "stopp",
		Grammar: `root ::= "zielsatz ende rest"`,
		Options: api.Options{Temperature: 0, NumPredict: 50, Stop: []string{" ende"}},
	})

	if out != "zielsatz" {
		t.Errorf("Ausgabe = %q, erwartet %q", out, "zielsatz")
	}
	if strings.Contains(out, " ende") {
		t.Errorf("Ausgabe %q enthaelt die Stop-Sequenz", out)
	}
	if done.DoneReason != api.DoneReasonStop {
		t.Errorf("DoneReason = %s, erwartet stop", done.DoneReason)
	}
}

func TestDecodeFailurePreservesPartialOutput(t *testing.T) {
	s := openSession(t, Params{})
	h := sessionHandle(t, s)
	h.FailDecodeAfter = 4 // Prompt-Decode + 3 Token

	var out strings.Builder
	var done api.GenerateResponse
	err := s.Generate(context.Background(), api.GenerateRequest{
		Prompt:  "kaputt",
		Grammar: `root ::= "abcdefgh"`,
		Options: api.Options{Temperature: 0, NumPredict: 50},
	}, func(r api.GenerateResponse) {
		out.WriteString(r.Content)
		if r.Done {
			done = r
		}
	})
	if !errors.Is(err, api.ErrDecode) {
		t.Fatalf("Generate = %v, erwartet ErrDecode", err)
	}
	if done.DoneReason != api.DoneReasonFailed {
		t.Errorf("DoneReason = %s, erwartet failed", done.DoneReason)
	}
	if out.String() != "ab" {
		t.Errorf("Teilausgabe = %q, erwartet %q", out.String(), "ab")
	}
	if s.State() != StateFailed {
		t.Errorf("State = %s, erwartet failed", s.State())
	}
}

func TestMultimodalPrompt(t *testing.T) {
	s := openSession(t, Params{ProjectorPath: "proj.bin"})
	if !s.SupportsVision() {
		t.Fatal("SupportsVision = false trotz Projektor")
	}

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	_, done := collect(t, s, api.GenerateRequest{
		Prompt:  "beschreibe [img-0] kurz",
		Images:  []api.ImageData{buf.Bytes()},
		Options: api.Options{Temperature: 0, NumPredict: 4},
	})

	// Textanteile plus 4 Embedding-Slots des Mock-Encoders
	textTokens := len("beschreibe ") + len(" kurz")
	if done.PromptEvalCount != textTokens+4 {
		t.Errorf("PromptEvalCount = %d, erwartet %d", done.PromptEvalCount, textTokens+4)
	}
}

func TestMultimodalWithoutProjector(t *testing.T) {
	s := openSession(t, Params{})

	err := s.Generate(context.Background(), api.GenerateRequest{
		Prompt:  "[img-0]",
		Images:  []api.ImageData{{0x89}},
		Options: api.Options{Temperature: 0, NumPredict: 1},
	}, func(api.GenerateResponse) {})
	if !errors.Is(err, api.ErrMultimodalNotSupported) {
		t.Fatalf("Generate = %v, erwartet ErrMultimodalNotSupported", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.infs")

	req := api.GenerateRequest{Prompt: "fortsetzung", Options: api.Options{Temperature: 0, NumPredict: 6}}

	s1 := openSession(t, Params{})
	if err := s1.Generate(context.Background(), api.GenerateRequest{
		Prompt: "praefix", Options: api.Options{Temperature: 0, NumPredict: 2},
	}, func(api.GenerateResponse) {}); err != nil {
		t.Fatal(err)
	}
	if err := s1.SaveSession(path); err != nil {
		t.Fatal(err)
	}
	want, _ := collect(t, s1, req)

	s2 := openSession(t, Params{})
	if err := s2.LoadSession(path); err != nil {
		t.Fatal(err)
	}
	got, _ := collect(t, s2, req)

	if got != want {
		t.Errorf("Fortsetzung nach LoadSession = %q, erwartet %q", got, want)
	}

	if err := s2.LoadSession(filepath.Join(t.TempDir(), "fehlt")); err == nil {
		t.Error("LoadSession(fehlende Datei) = nil")
	}
}

func TestCloseLifecycle(t *testing.T) {
	s, err := Open(&engine.Mock{}, Params{ModelPath: "m"})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); !errors.Is(err, api.ErrAlreadyClosed) {
		t.Errorf("zweites Close = %v, erwartet ErrAlreadyClosed", err)
	}
	if _, err := s.LoadAdapter("a", 1); !errors.Is(err, api.ErrAlreadyClosed) {
		t.Errorf("LoadAdapter nach Close = %v, erwartet ErrAlreadyClosed", err)
	}
	err = s.Generate(context.Background(), api.GenerateRequest{Prompt: "x"}, func(api.GenerateResponse) {})
	if !errors.Is(err, api.ErrAlreadyClosed) {
		t.Errorf("Generate nach Close = %v, erwartet ErrAlreadyClosed", err)
	}
}

func TestCloseRefusedWhileGenerating(t *testing.T) {
	s := openSession(t, Params{})

	var closeErr error
	err := s.Generate(context.Background(), api.GenerateRequest{
		Prompt:  "lauf",
		Options: api.Options{Temperature: 0, NumPredict: 2},
	}, func(r api.GenerateResponse) {
		if !r.Done && closeErr == nil {
			closeErr = s.Close()
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(closeErr, api.ErrInvalidParam) {
		t.Errorf("Close waehrend Generierung = %v, erwartet ErrInvalidParam", closeErr)
	}
}

// sessionHandle greift fuer Fehlerinjektion auf das Mock-Handle durch
func sessionHandle(t *testing.T, s *Session) *engine.MockHandle {
	t.Helper()
	h, ok := s.handle.(*engine.MockHandle)
	if !ok {
		t.Fatal("Session laeuft nicht auf der Mock-Engine")
	}
	return h
}
