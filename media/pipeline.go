// MODUL: pipeline
// ZWECK: Ingest-Pipeline von der Medien-Quelle bis zum Encoder-Embedding
// INPUT: Input-Beschreibungen, initialisierter Encoder
// OUTPUT: Result mit Embedding und Token-Anzahl, Batch-Einzelergebnisse
// NEBENEFFEKTE: Dateisystem-Lesezugriff fuer Datei-Quellen
// ABHAENGIGKEITEN: golang.org/x/sync/errgroup (extern)
// HINWEISE: Batch-Verarbeitung ist parallel; ein Fehler bricht die
//           Geschwister nie ab, Teilfehler sind inspizierbare Ergebnisse

package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/7blacky7/infera/api"
	"github.com/7blacky7/infera/envconfig"
	"github.com/7blacky7/infera/format"
)

// Encoder ist die Encoder-Seite des Engine-Handles, auf die sich die
// Pipeline stuetzt. Token gibt an wie viele Prompt-Slots das Embedding
// auf der Textseite belegt.
type Encoder interface {
	VisionInitialized() bool
	AudioInitialized() bool
	EncodeImage(pixels []float32, width, height int) (Embedding, int, error)
	EncodeAudio(samples []float32, rate int) (Embedding, int, error)
}

// Validation ist das Ergebnis einer Format-Aufloesung ohne Encoder-Lauf.
// Supported ist ein gemeldetes Feld, kein Fehler: der Aufrufer darf vor
// einem erneuten Versuch konvertieren.
type Validation struct {
	Format    Format
	Modality  Modality
	ByteSize  int64
	Supported bool
}

// Result ist das Ergebnis einer verarbeiteten Eingabe.
type Result struct {
	Embedding Embedding
	Tokens    int
	Format    Format
}

// Outcome ist das Einzelergebnis eines Batch-Laufs.
type Outcome struct {
	Index  int
	Result *Result
	Err    error
}

// Pipeline verarbeitet Medien-Eingaben fuer eine Session.
type Pipeline struct {
	enc      Encoder
	maxBytes uint64
	logger   *slog.Logger
}

// NewPipeline erstellt eine Pipeline ueber dem Encoder des Engine-Handles.
func NewPipeline(enc Encoder, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		enc:      enc,
		maxBytes: envconfig.MaxMediaSize(),
		logger:   logger,
	}
}

// Close trennt die Pipeline vom Encoder. Spaetere Process-Aufrufe melden
// ErrMultimodalNotSupported. Erfuellt das Resource-Interface der
// Handle-Tabelle.
func (p *Pipeline) Close() error {
	p.enc = nil
	return nil
}

// Validate loest das Format auf, ohne den Encoder zu starten. Einziger
// harter Fehler ist ein unaufloesbares Format oder eine unlesbare Quelle.
func (p *Pipeline) Validate(in Input) (Validation, error) {
	if in.Source == SourceSamples {
		return Validation{
			Modality:  ModalityAudio,
			Supported: p.enc != nil && p.enc.AudioInitialized(),
		}, nil
	}

	data, err := in.bytes()
	if err != nil {
		return Validation{}, err
	}

	f, err := in.resolveFormat(data)
	if err != nil {
		return Validation{}, err
	}

	v := Validation{
		Format:   f,
		Modality: f.Modality(),
		ByteSize: int64(len(data)),
	}
	switch v.Modality {
	case ModalityImage:
		v.Supported = p.enc != nil && p.enc.VisionInitialized()
	case ModalityAudio:
		v.Supported = p.enc != nil && p.enc.AudioInitialized()
	}
	return v, nil
}

// Process verarbeitet genau eine Eingabe zum Embedding. Der Encoder muss
// fuer die Modalitaet initialisiert sein, sonst ist das Ergebnis ein
// ErrMultimodalNotSupported, nie ein Absturz.
func (p *Pipeline) Process(in Input) (*Result, error) {
	if in.Source == SourceSamples {
		return p.processAudioSamples(in.Samples, in.SampleRate)
	}

	data, err := in.bytes()
	if err != nil {
		return nil, err
	}
	if p.maxBytes > 0 && uint64(len(data)) > p.maxBytes {
		return nil, fmt.Errorf("%w: input of %s exceeds limit %s", api.ErrIngest,
			format.HumanBytes2(uint64(len(data))), format.HumanBytes2(p.maxBytes))
	}

	f, err := in.resolveFormat(data)
	if err != nil {
		return nil, err
	}

	switch f.Modality() {
	case ModalityImage:
		return p.processImage(data, f, &in)
	case ModalityAudio:
		samples, rate, channels, err := decodeWAV(data)
		if err != nil {
			return nil, err
		}
		if in.Channels > 0 && in.Channels != channels {
			return nil, fmt.Errorf("%w: declared %d channels, container has %d", api.ErrIngest, in.Channels, channels)
		}
		res, err := p.processAudioSamples(samples, rate)
		if err != nil {
			return nil, err
		}
		res.Format = f
		return res, nil
	default:
		return nil, fmt.Errorf("%w: no modality for format %q", api.ErrIngest, f)
	}
}

func (p *Pipeline) processImage(data []byte, f Format, in *Input) (*Result, error) {
	if p.enc == nil || !p.enc.VisionInitialized() {
		return nil, fmt.Errorf("%w: vision encoder not initialized", api.ErrMultimodalNotSupported)
	}

	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	if in.Width > 0 && in.Width != bounds.Dx() {
		return nil, fmt.Errorf("%w: declared width %d, image is %d", api.ErrIngest, in.Width, bounds.Dx())
	}
	if in.Height > 0 && in.Height != bounds.Dy() {
		return nil, fmt.Errorf("%w: declared height %d, image is %d", api.ErrIngest, in.Height, bounds.Dy())
	}

	pixels, w, h := prepareImage(img, in)
	emb, tokens, err := p.enc.EncodeImage(pixels, w, h)
	if err != nil {
		return nil, fmt.Errorf("%w: encode image: %v", api.ErrIngest, err)
	}

	p.logger.Debug("media verarbeitet", "format", f, "width", w, "height", h, "tokens", tokens)
	return &Result{Embedding: emb, Tokens: tokens, Format: f}, nil
}

func (p *Pipeline) processAudioSamples(samples []float32, rate int) (*Result, error) {
	if p.enc == nil || !p.enc.AudioInitialized() {
		return nil, fmt.Errorf("%w: audio encoder not initialized", api.ErrMultimodalNotSupported)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty audio input", api.ErrIngest)
	}
	if rate <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", api.ErrIngest, rate)
	}

	emb, tokens, err := p.enc.EncodeAudio(samples, rate)
	if err != nil {
		return nil, fmt.Errorf("%w: encode audio: %v", api.ErrIngest, err)
	}

	p.logger.Debug("media verarbeitet", "format", FormatWAV, "samples", len(samples), "tokens", tokens)
	return &Result{Embedding: emb, Tokens: tokens, Format: FormatWAV}, nil
}

// ProcessBatch verarbeitet Eingaben unabhaengig und parallel. Das Ergebnis
// enthaelt pro Eingabe einen Outcome; der Gesamtfehler ist nur gesetzt,
// wenn mindestens eine Eingabe fehlschlug.
func (p *Pipeline) ProcessBatch(ctx context.Context, inputs []Input) ([]Outcome, error) {
	outcomes := make([]Outcome, len(inputs))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, in := range inputs {
		g.Go(func() error {
			res, err := p.Process(in)
			outcomes[i] = Outcome{Index: i, Result: res, Err: err}
			// Fehler werden im Outcome gesammelt, nie an errgroup
			// gemeldet: Geschwister laufen immer zu Ende
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("input %d: %w", o.Index, o.Err))
		}
	}
	return outcomes, errors.Join(errs...)
}
