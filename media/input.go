// MODUL: input
// ZWECK: Beschreibung einer einzelnen Nicht-Text-Eingabe
// INPUT: Dateipfad, Base64, Roh-Bytes oder Roh-Samples
// OUTPUT: Input Struktur fuer die Pipeline
// NEBENEFFEKTE: Dateisystem-Lesezugriff beim Aufloesen von Datei-Quellen
// ABHAENGIGKEITEN: keine (nur Standardbibliothek)
// HINWEISE: Ein Input wird genau einmal von Pipeline.Process konsumiert

package media

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/7blacky7/infera/api"
)

// Modality unterscheidet Bild- und Audio-Eingaben
type Modality string

const (
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
)

// SourceKind benennt die Herkunft der Nutzdaten
type SourceKind string

const (
	SourceFile    SourceKind = "file"
	SourceBase64  SourceKind = "base64"
	SourceBytes   SourceKind = "bytes"
	SourceSamples SourceKind = "samples"
)

// Input beschreibt eine Medien-Eingabe mit Verarbeitungsoptionen.
// Das Format muss vor der Uebergabe an den Encoder aufgeloest sein,
// deklariert oder per Magic-Bytes erkannt.
type Input struct {
	Modality Modality
	Source   SourceKind

	Path   string
	Base64 string
	Data   []byte

	// Roh-Samples fuer Audio ohne Container
	Samples    []float32
	SampleRate int

	// Deklariertes Format; leer bedeutet: sniffen
	Format Format

	// Deklarierte Geometrie. 0 bedeutet: aus der Dekodierung uebernehmen;
	// gesetzte Werte werden gegen das dekodierte Material geprueft.
	Width    int
	Height   int
	Channels int

	// Verarbeitungsoptionen fuer Bilder
	TargetSize  int
	KeepAspect  bool
	PadToSquare bool
}

// ImageFromFile erstellt eine Bild-Eingabe aus einem Dateipfad
func ImageFromFile(path string) Input {
	return Input{Modality: ModalityImage, Source: SourceFile, Path: path}
}

// ImageFromBytes erstellt eine Bild-Eingabe aus Roh-Bytes
func ImageFromBytes(data []byte) Input {
	return Input{Modality: ModalityImage, Source: SourceBytes, Data: data}
}

// ImageFromBase64 erstellt eine Bild-Eingabe aus Base64-Daten
func ImageFromBase64(enc string) Input {
	return Input{Modality: ModalityImage, Source: SourceBase64, Base64: enc}
}

// AudioFromFile erstellt eine Audio-Eingabe aus einer WAV-Datei
func AudioFromFile(path string) Input {
	return Input{Modality: ModalityAudio, Source: SourceFile, Path: path}
}

// AudioFromSamples erstellt eine Audio-Eingabe aus Roh-Samples
func AudioFromSamples(samples []float32, rate int) Input {
	return Input{Modality: ModalityAudio, Source: SourceSamples, Samples: samples, SampleRate: rate}
}

// bytes loest die Quelle zu Roh-Bytes auf. Sample-Quellen haben keine
// Byte-Repraesentation.
func (in *Input) bytes() ([]byte, error) {
	switch in.Source {
	case SourceFile:
		data, err := os.ReadFile(in.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", api.ErrIngest, in.Path, err)
		}
		return data, nil
	case SourceBase64:
		data, err := base64.StdEncoding.DecodeString(in.Base64)
		if err != nil {
			return nil, fmt.Errorf("%w: base64 decode: %v", api.ErrIngest, err)
		}
		return data, nil
	case SourceBytes:
		return in.Data, nil
	case SourceSamples:
		return nil, fmt.Errorf("%w: raw samples carry no byte form", api.ErrIngest)
	default:
		return nil, fmt.Errorf("%w: unknown source kind %q", api.ErrIngest, in.Source)
	}
}

// resolveFormat bestimmt das Format: deklariert schlaegt gesnifft, Datei-
// Quellen duerfen zusaetzlich ueber die Endung aufgeloest werden. Ein
// unaufgeloestes Format ist ein harter Fehler, nie ein Ratespiel.
func (in *Input) resolveFormat(data []byte) (Format, error) {
	if in.Format != "" && in.Format != FormatUnknown {
		return in.Format, nil
	}

	if f := DetectFormat(data); f != FormatUnknown {
		return f, nil
	}

	if in.Source == SourceFile {
		if f := FormatFromExtension(in.Path); f != FormatUnknown {
			return f, nil
		}
	}

	return FormatUnknown, fmt.Errorf("%w: format could not be resolved", api.ErrIngest)
}
