// generate.go - Der Generierungspfad einer Session
// Zustandsmaschine Idle -> PromptEncoding -> Generating -> Endzustand.
// Abbruch ist kooperativ: das Context-Signal wird an Iterationsgrenzen
// geprueft, nie mitten in einem Decode-Schritt. Teilausgaben bleiben bei
// Abbruch und Fehler erhalten.
package session

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/7blacky7/infera/api"
	"github.com/7blacky7/infera/grammar"
	"github.com/7blacky7/infera/handles"
	"github.com/7blacky7/infera/media"
	"github.com/7blacky7/infera/sample"
)

var imageTag = regexp.MustCompile(`\[img-(\d+)\]`)

// vocab adaptiert das Engine-Handle an den Sampler.
type vocab struct {
	h interface {
		TokenToPiece(int32) string
		IsEOG(int32) bool
	}
}

func (v vocab) Piece(id int32) string { return v.h.TokenToPiece(id) }
func (v vocab) IsEOG(id int32) bool   { return v.h.IsEOG(id) }

// Generate fuehrt eine Generierung aus und streamt jedes Textstueck ueber
// fn. Die letzte Antwort traegt Done samt Statistiken. Ein Abbruch ueber
// ctx beendet die Schleife an der naechsten Iterationsgrenze: nach K
// emittierten Token bleiben es exakt K.
func (s *Session) Generate(ctx context.Context, req api.GenerateRequest, fn func(api.GenerateResponse)) error {
	if fn == nil {
		return fmt.Errorf("%w: nil response callback", api.ErrInvalidParam)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: session %s", api.ErrAlreadyClosed, s.id)
	}
	if s.generating {
		s.mu.Unlock()
		return fmt.Errorf("%w: generation already running", api.ErrInvalidParam)
	}
	s.generating = true
	s.state = StatePromptEncoding
	s.mu.Unlock()

	final, err := s.generate(ctx, req, fn)

	s.mu.Lock()
	s.generating = false
	s.state = final
	s.mu.Unlock()
	return err
}

// generate traegt den eigentlichen Ablauf und gibt den Endzustand zurueck.
func (s *Session) generate(ctx context.Context, req api.GenerateRequest, fn func(api.GenerateResponse)) (State, error) {
	opts := req.Options

	g, err := s.compileConstraint(req)
	if err != nil {
		return StateFailed, err
	}

	chain, err := sample.FromOptions(opts, g, vocab{s.handle})
	if err != nil {
		return StateFailed, err
	}
	chainID := s.table.Register(handles.KindSampler, chain)
	defer func() {
		_ = s.table.Release(chainID)
	}()

	promptStart := time.Now()
	promptTokens, err := s.encodePrompt(req)
	if err != nil {
		return StateFailed, err
	}
	promptDuration := time.Since(promptStart)

	s.mu.Lock()
	s.state = StateGenerating
	s.mu.Unlock()

	numPredict := opts.NumPredict
	if numPredict == 0 {
		numPredict = -1
	}

	em := &emitter{fn: fn, stops: opts.Stop}
	evalStart := time.Now()
	reason := api.DoneReasonLength
	var evalCount int
	var genErr error

	for numPredict < 0 || evalCount < numPredict {
		// Iterationsgrenze: Abbruch greift bevor ein weiteres Token faellt
		if ctx.Err() != nil {
			reason = api.DoneReasonAborted
			break
		}

		id, err := chain.Sample(s.handle.Logits())
		if err != nil {
			genErr = err
			reason = api.DoneReasonFailed
			break
		}
		if s.handle.IsEOG(id) {
			reason = api.DoneReasonStop
			break
		}
		chain.Accept(id)

		if err := s.handle.Decode([]int32{id}); err != nil {
			genErr = err
			reason = api.DoneReasonFailed
			break
		}

		evalCount++
		if em.push(s.handle.TokenToPiece(id)) {
			reason = api.DoneReasonStop
			break
		}
	}

	// Teilausgabe in jedem Endzustand erhalten
	em.flush(true)
	fn(api.GenerateResponse{
		Done:               true,
		DoneReason:         reason,
		PromptEvalCount:    promptTokens,
		PromptEvalDuration: promptDuration,
		EvalCount:          evalCount,
		EvalDuration:       time.Since(evalStart),
	})

	s.logger.Debug("generierung beendet",
		"reason", reason.String(),
		"prompt_tokens", promptTokens,
		"eval_tokens", evalCount)

	switch reason {
	case api.DoneReasonAborted:
		return StateAborted, nil
	case api.DoneReasonFailed:
		return StateFailed, genErr
	default:
		return StateCompleted, nil
	}
}

// compileConstraint uebersetzt Format, Grammar oder Tools in eine
// Grammatik. Hoechstens eine Quelle darf gesetzt sein.
func (s *Session) compileConstraint(req api.GenerateRequest) (*grammar.Grammar, error) {
	var set int
	if len(req.Format) > 0 {
		set++
	}
	if req.Grammar != "" {
		set++
	}
	if len(req.Tools) > 0 {
		set++
	}
	if set > 1 {
		return nil, fmt.Errorf("%w: format, grammar and tools are mutually exclusive", api.ErrInvalidParam)
	}

	switch {
	case req.Grammar != "":
		return grammar.Compile(req.Grammar, "root")
	case len(req.Tools) > 0:
		return grammar.FromToolSpecs(req.Tools, req.AllowMultipleCalls)
	case len(req.Format) > 0:
		if string(req.Format) == `"json"` {
			// blosses "json": maximal permissive JSON-Ausgabe
			return grammar.FromJSONSchema([]byte(`{}`))
		}
		return grammar.FromJSONSchema(req.Format)
	default:
		return nil, nil
	}
}

// encodePrompt splittet den Prompt an [img-N] Tags, tokenisiert die
// Textteile und dekodiert Bild-Embeddings an den Platzhaltern.
func (s *Session) encodePrompt(req api.GenerateRequest) (int, error) {
	parts := []string{req.Prompt}
	var matches [][]string
	if len(req.Images) > 0 {
		parts = imageTag.Split(req.Prompt, -1)
		matches = imageTag.FindAllStringSubmatch(req.Prompt, -1)
	}

	var promptTokens int
	for i, part := range parts {
		if part != "" {
			tokens, err := s.handle.Tokenize(part, i == 0)
			if err != nil {
				return promptTokens, err
			}
			if len(tokens) > 0 {
				if err := s.handle.Decode(tokens); err != nil {
					return promptTokens, err
				}
				promptTokens += len(tokens)
			}
		}

		if i < len(matches) {
			n, _ := strconv.Atoi(matches[i][1])
			if n < 0 || n >= len(req.Images) {
				return promptTokens, fmt.Errorf("%w: image index %d out of range (%d images)", api.ErrInvalidParam, n, len(req.Images))
			}

			pipe, err := s.Media()
			if err != nil {
				return promptTokens, err
			}
			res, err := pipe.Process(media.ImageFromBytes(req.Images[n]))
			if err != nil {
				return promptTokens, err
			}

			// Das Embedding belegt res.Tokens Prompt-Slots
			values := res.Embedding.ToFloat32()
			rows := make([][]float32, res.Tokens)
			for r := range rows {
				rows[r] = values
			}
			if err := s.handle.DecodeEmbed(rows); err != nil {
				return promptTokens, err
			}
			promptTokens += res.Tokens
		}
	}

	return promptTokens, nil
}

// emitter streamt Textstuecke UTF-8-sicher und haelt potentielle
// Stop-Sequenz-Praefixe zurueck, bis sie entschieden sind.
type emitter struct {
	fn      func(api.GenerateResponse)
	stops   []string
	pending string
}

// push nimmt ein Token-Stueck auf und streamt den entscheidbaren Teil.
// true bedeutet: eine Stop-Sequenz wurde erreicht.
func (e *emitter) push(piece string) bool {
	e.pending += piece

	for _, stop := range e.stops {
		if idx := strings.Index(e.pending, stop); idx >= 0 {
			e.pending = e.pending[:idx]
			e.flush(true)
			return true
		}
	}

	e.flush(false)
	return false
}

// flush sendet den sicheren Teil von pending. Ohne final bleiben
// unvollstaendige UTF-8-Sequenzen und moegliche Stop-Praefixe zurueck;
// mit final wird hart auf gueltiges Unicode gekuerzt.
func (e *emitter) flush(final bool) {
	out := e.pending

	if final {
		for len(out) > 0 && !utf8.ValidString(out) {
			out = out[:len(out)-1]
		}
		e.pending = ""
	} else {
		hold := e.holdback()
		if hold >= len(out) {
			return
		}
		out = out[:len(out)-hold]
		for len(out) > 0 && !utf8.ValidString(out) {
			out = out[:len(out)-1]
		}
		e.pending = e.pending[len(out):]
	}

	if out != "" {
		e.fn(api.GenerateResponse{Content: out})
	}
}

// holdback bestimmt wie viele Bytes am Ende von pending noch Teil einer
// Stop-Sequenz werden koennten.
func (e *emitter) holdback() int {
	hold := 0
	for _, stop := range e.stops {
		for l := len(stop) - 1; l > 0; l-- {
			if l > len(e.pending) {
				continue
			}
			if strings.HasSuffix(e.pending, stop[:l]) {
				if l > hold {
					hold = l
				}
				break
			}
		}
	}
	return hold
}
