// MODUL: formats
// ZWECK: Format-Erkennung und Validierung fuer Medien-Eingaben
// INPUT: Medien-Bytes oder Format-String
// OUTPUT: Format, Fehler bei ungueltigem Format
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: keine (nur Standardbibliothek)
// HINWEISE: Magic-Bytes-basierte Erkennung, unterstuetzt JPEG/PNG/BMP/WebP/WAV

package media

import (
	"path/filepath"
	"strings"
)

// Format repraesentiert ein erkanntes Medienformat
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatBMP     Format = "bmp"
	FormatWebP    Format = "webp"
	FormatWAV     Format = "wav"
	FormatUnknown Format = "unknown"
)

// Magic-Byte-Signaturen
var (
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicPNG  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	magicBMP  = []byte{0x42, 0x4D}
	magicRIFF = []byte{0x52, 0x49, 0x46, 0x46} // "RIFF", WebP und WAV
)

// DetectFormat erkennt das Format anhand der Magic-Bytes. Reine Funktion
// der fuehrenden Bytes; ein unbekanntes Format wird nie geraten.
func DetectFormat(data []byte) Format {
	if len(data) < 4 {
		return FormatUnknown
	}

	if matchesMagic(data, magicJPEG) {
		return FormatJPEG
	}

	if matchesMagic(data, magicPNG) {
		return FormatPNG
	}

	if matchesMagic(data, magicBMP) {
		return FormatBMP
	}

	if matchesMagic(data, magicRIFF) {
		switch riffType(data) {
		case "WEBP":
			return FormatWebP
		case "WAVE":
			return FormatWAV
		}
	}

	return FormatUnknown
}

// FormatFromExtension bildet eine Dateiendung auf ein Format ab
func FormatFromExtension(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG
	case ".png":
		return FormatPNG
	case ".bmp":
		return FormatBMP
	case ".webp":
		return FormatWebP
	case ".wav":
		return FormatWAV
	default:
		return FormatUnknown
	}
}

// matchesMagic prueft ob die Daten mit der Signatur beginnen
func matchesMagic(data, magic []byte) bool {
	if len(data) < len(magic) {
		return false
	}
	for i, b := range magic {
		if data[i] != b {
			return false
		}
	}
	return true
}

// riffType liest den Container-Typ nach dem RIFF-Header
func riffType(data []byte) string {
	if len(data) < 12 {
		return ""
	}
	return string(data[8:12])
}

// Modality gibt die Modalitaet eines Formats zurueck
func (f Format) Modality() Modality {
	if f == FormatWAV {
		return ModalityAudio
	}
	if f == FormatUnknown {
		return ""
	}
	return ModalityImage
}

// MimeType gibt den MIME-Type fuer ein Format zurueck
func (f Format) MimeType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatBMP:
		return "image/bmp"
	case FormatWebP:
		return "image/webp"
	case FormatWAV:
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// Extension gibt die Dateiendung fuer ein Format zurueck
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatPNG:
		return ".png"
	case FormatBMP:
		return ".bmp"
	case FormatWebP:
		return ".webp"
	case FormatWAV:
		return ".wav"
	default:
		return ".bin"
	}
}

// String implementiert Stringer Interface
func (f Format) String() string {
	return string(f)
}
