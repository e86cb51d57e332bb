// errors.go - Fehler-Taxonomie der Laufzeit
// Enthaelt: Sentinel-Fehler fuer alle Operationen, Hilfsfunktionen fuer Wrapping
package api

import (
	"errors"
	"fmt"
)

// Sentinel-Fehler der Laufzeit. Jede Operation gibt einen dieser Fehler
// (gewrappt mit Kontext) zurueck; Aufrufer pruefen mit errors.Is.
var (
	// ErrInvalidParam: Parameter ausserhalb des gueltigen Bereichs oder
	// fehlerhaft. Wird lokal erkannt bevor die Engine beruehrt wird.
	ErrInvalidParam = errors.New("invalid parameter")

	// ErrNotFound: Operation auf unbekanntem Handle oder unbekannter Id.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyClosed: Operation auf einer geschlossenen Session.
	ErrAlreadyClosed = errors.New("session already closed")

	// ErrLoadFailed: Modell, Adapter oder Projektor konnte nicht geladen werden.
	ErrLoadFailed = errors.New("load failed")

	// ErrOutOfMemory: Engine konnte Kontext oder Puffer nicht allozieren.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrDecode: Engine-Fehler waehrend der Generierung. Bereits generierter
	// Text bleibt erhalten und wird im Ergebnis mitgeliefert.
	ErrDecode = errors.New("decode failed")

	// ErrSchema: JSON-Schema konnte nicht zu einer Grammatik kompiliert werden.
	ErrSchema = errors.New("invalid schema")

	// ErrGrammar: GBNF-Grammatik ist fehlerhaft oder nicht kompilierbar.
	ErrGrammar = errors.New("invalid grammar")

	// ErrIngest: Medien-Validierung oder -Dekodierung fehlgeschlagen.
	ErrIngest = errors.New("media ingest failed")

	// ErrMultimodalNotSupported: Medien uebergeben, aber kein Vision/Audio
	// Encoder initialisiert (oder das Modell unterstuetzt die Modalitaet nicht).
	ErrMultimodalNotSupported = errors.New("multimodal not supported")
)

// Invalidf wrappt ErrInvalidParam mit einer formatierten Meldung.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParam, fmt.Sprintf(format, args...))
}
