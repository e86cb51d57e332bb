// MODUL: pipeline_test
// ZWECK: Tests fuer die Ingest-Pipeline
// INPUT: synthetische PNG- und WAV-Daten, Fake-Encoder
// OUTPUT: Testresultate
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: testing
// HINWEISE: Der Fake-Encoder liefert deterministische Embeddings aus
//           Pixel-Statistiken

package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/7blacky7/infera/api"
)

// fakeEncoder bildet Pixel-Statistiken deterministisch auf ein Embedding ab
type fakeEncoder struct {
	vision bool
	audio  bool
	fail   bool
}

func (f *fakeEncoder) VisionInitialized() bool { return f.vision }
func (f *fakeEncoder) AudioInitialized() bool  { return f.audio }

func (f *fakeEncoder) EncodeImage(pixels []float32, w, h int) (Embedding, int, error) {
	if f.fail {
		return Embedding{}, 0, errors.New("encoder kaputt")
	}
	var sum float32
	for _, p := range pixels {
		sum += p
	}
	return NewEmbedding([]float32{sum, float32(w), float32(h)}), 4, nil
}

func (f *fakeEncoder) EncodeAudio(samples []float32, rate int) (Embedding, int, error) {
	if f.fail {
		return Embedding{}, 0, errors.New("encoder kaputt")
	}
	return NewEmbedding([]float32{float32(len(samples)), float32(rate)}), 2, nil
}

// testPNG erzeugt ein kleines PNG mit einheitlicher Farbe
func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 128, G: 64, B: 32, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// testWAV erzeugt einen minimalen PCM16-Mono-WAV-Container
func testWAV(t *testing.T, samples []int16, rate int) []byte {
	t.Helper()
	var pcm bytes.Buffer
	for _, s := range samples {
		binary.Write(&pcm, binary.LittleEndian, s)
	}

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+pcm.Len()))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(rate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(pcm.Len()))
	buf.Write(pcm.Bytes())
	return buf.Bytes()
}

func TestProcessImage(t *testing.T) {
	p := NewPipeline(&fakeEncoder{vision: true}, nil)

	in := ImageFromBytes(testPNG(t, 8, 6))
	in.TargetSize = 4
	in.PadToSquare = true

	res, err := p.Process(in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Format != FormatPNG {
		t.Errorf("Format = %v, erwartet PNG", res.Format)
	}
	if res.Tokens != 4 {
		t.Errorf("Tokens = %d, erwartet 4", res.Tokens)
	}
	emb := res.Embedding.ToFloat32()
	if len(emb) != 3 || emb[1] != 4 || emb[2] != 4 {
		t.Errorf("Embedding = %v, erwartet quadratisches 4x4-Bild", emb)
	}
}

func TestProcessRequiresInitializedEncoder(t *testing.T) {
	p := NewPipeline(&fakeEncoder{vision: false}, nil)

	_, err := p.Process(ImageFromBytes(testPNG(t, 2, 2)))
	if !errors.Is(err, api.ErrMultimodalNotSupported) {
		t.Fatalf("Process = %v, erwartet ErrMultimodalNotSupported", err)
	}
}

func TestProcessAudioWAV(t *testing.T) {
	p := NewPipeline(&fakeEncoder{audio: true}, nil)

	wav := testWAV(t, []int16{0, 16384, -16384, 32767}, 16000)
	res, err := p.Process(ImageFromBytes(wav)) // Modalitaet kommt aus dem Sniffen
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Format != FormatWAV {
		t.Errorf("Format = %v, erwartet WAV", res.Format)
	}
	emb := res.Embedding.ToFloat32()
	if emb[0] != 4 || emb[1] != 16000 {
		t.Errorf("Embedding = %v, erwartet 4 Samples bei 16000 Hz", emb)
	}
}

func TestDeclaredGeometryChecked(t *testing.T) {
	p := NewPipeline(&fakeEncoder{vision: true, audio: true}, nil)

	// Passende Deklaration laeuft durch
	in := ImageFromBytes(testPNG(t, 8, 6))
	in.Width, in.Height = 8, 6
	if _, err := p.Process(in); err != nil {
		t.Fatalf("Process mit korrekter Geometrie: %v", err)
	}

	// Abweichende Breite ist ein Ingest-Fehler
	in = ImageFromBytes(testPNG(t, 8, 6))
	in.Width = 16
	if _, err := p.Process(in); !errors.Is(err, api.ErrIngest) {
		t.Errorf("Process mit falscher Breite = %v, erwartet ErrIngest", err)
	}

	in = ImageFromBytes(testPNG(t, 8, 6))
	in.Height = 7
	if _, err := p.Process(in); !errors.Is(err, api.ErrIngest) {
		t.Errorf("Process mit falscher Hoehe = %v, erwartet ErrIngest", err)
	}

	// Kanalzahl gegen den WAV-Container pruefen (testWAV ist mono)
	wav := ImageFromBytes(testWAV(t, []int16{1, 2, 3}, 8000))
	wav.Channels = 1
	if _, err := p.Process(wav); err != nil {
		t.Fatalf("Process mit korrekter Kanalzahl: %v", err)
	}

	wav = ImageFromBytes(testWAV(t, []int16{1, 2, 3}, 8000))
	wav.Channels = 2
	if _, err := p.Process(wav); !errors.Is(err, api.ErrIngest) {
		t.Errorf("Process mit falscher Kanalzahl = %v, erwartet ErrIngest", err)
	}
}

func TestDecodeWAVReportsChannels(t *testing.T) {
	wav := testWAV(t, []int16{0, 100, -100, 200}, 8000)

	samples, rate, channels, err := decodeWAV(wav)
	if err != nil {
		t.Fatal(err)
	}
	if channels != 1 || rate != 8000 || len(samples) != 4 {
		t.Errorf("decodeWAV = %d Kanaele, %d Hz, %d Samples; erwartet 1, 8000, 4", channels, rate, len(samples))
	}
}

func TestDecodeWAVRejectsNonPCM(t *testing.T) {
	wav := testWAV(t, []int16{1, 2}, 8000)
	// Audio-Format auf IEEE float (3) patchen
	wav[20] = 3

	if _, _, _, err := decodeWAV(wav); !errors.Is(err, api.ErrIngest) {
		t.Fatalf("decodeWAV = %v, erwartet ErrIngest", err)
	}
}

func TestValidateReportsUnsupported(t *testing.T) {
	p := NewPipeline(&fakeEncoder{vision: false, audio: false}, nil)

	v, err := p.Validate(ImageFromBytes(testPNG(t, 2, 2)))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v.Format != FormatPNG || v.Modality != ModalityImage {
		t.Errorf("Validation = %+v", v)
	}
	if v.Supported {
		t.Error("Supported = true ohne initialisierten Encoder")
	}
	if v.ByteSize == 0 {
		t.Error("ByteSize fehlt")
	}
}

func TestValidateUnresolvedFormatIsError(t *testing.T) {
	p := NewPipeline(&fakeEncoder{}, nil)

	_, err := p.Validate(ImageFromBytes([]byte{0x00, 0x01, 0x02, 0x03, 0x04}))
	if !errors.Is(err, api.ErrIngest) {
		t.Fatalf("Validate = %v, erwartet ErrIngest", err)
	}
}

func TestDeclaredFormatBeatsSniffing(t *testing.T) {
	p := NewPipeline(&fakeEncoder{vision: true}, nil)

	in := ImageFromBytes(testPNG(t, 2, 2))
	in.Format = FormatPNG

	v, err := p.Validate(in)
	if err != nil {
		t.Fatal(err)
	}
	if v.Format != FormatPNG {
		t.Errorf("Format = %v", v.Format)
	}
}

func TestProcessBatchPartialFailure(t *testing.T) {
	p := NewPipeline(&fakeEncoder{vision: true}, nil)

	inputs := []Input{
		ImageFromBytes(testPNG(t, 2, 2)),
		ImageFromBytes([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00}), // unaufloesbar
		ImageFromBytes(testPNG(t, 3, 3)),
	}

	outcomes, err := p.ProcessBatch(context.Background(), inputs)
	if err == nil {
		t.Fatal("ProcessBatch = nil, erwartet Sammelfehler")
	}
	if len(outcomes) != 3 {
		t.Fatalf("len(outcomes) = %d", len(outcomes))
	}

	if outcomes[0].Err != nil || outcomes[0].Result == nil {
		t.Errorf("Eingabe 0 sollte erfolgreich sein: %v", outcomes[0].Err)
	}
	if outcomes[1].Err == nil {
		t.Error("Eingabe 1 sollte fehlschlagen")
	}
	if outcomes[2].Err != nil || outcomes[2].Result == nil {
		t.Errorf("Eingabe 2 sollte trotz Fehler von Eingabe 1 erfolgreich sein: %v", outcomes[2].Err)
	}
}

func TestProcessBatchAllGood(t *testing.T) {
	p := NewPipeline(&fakeEncoder{vision: true}, nil)

	outcomes, err := p.ProcessBatch(context.Background(), []Input{
		ImageFromBytes(testPNG(t, 2, 2)),
		ImageFromBytes(testPNG(t, 4, 4)),
	})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	for _, o := range outcomes {
		if o.Err != nil || o.Result == nil {
			t.Errorf("Outcome %d: %v", o.Index, o.Err)
		}
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	values := []float32{0.5, -0.25, 1.0, 0}
	emb := NewEmbedding(values)

	if emb.Dim() != 4 {
		t.Fatalf("Dim = %d", emb.Dim())
	}
	back := emb.ToFloat32()
	for i := range values {
		if back[i] != values[i] {
			// f16 stellt diese Werte exakt dar
			t.Errorf("Wert %d: %g != %g", i, back[i], values[i])
		}
	}

	n := emb.Normalized()
	if !n.IsNormalized() {
		t.Error("IsNormalized = false")
	}
	if sim := n.CosineSimilarity(emb); sim < 0.999 {
		t.Errorf("CosineSimilarity = %g, erwartet ~1", sim)
	}
}
