// config.go - Haupt-Konfigurationsfunktionen fuer die Laufzeit
//
// Dieses Modul enthaelt:
// - LogLevel: Gibt Log-Level zurueck (INFERA_DEBUG)
// - ContextLength: Standard-Context-Laenge (INFERA_CONTEXT_LENGTH)
// - Threads: Anzahl Engine-Threads (INFERA_THREADS)
// - MaxMediaSize: Maximale Groesse eines Medien-Payloads (INFERA_MAX_MEDIA)
// - Var: Rohzugriff auf Environment-Variablen
//
// Utility-Getter und AsMap sind ausgelagert in config_utils.go
package envconfig

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

var (
	// ContextLength setzt die Standard-Context-Laenge
	ContextLength = Uint("INFERA_CONTEXT_LENGTH", 4096)

	// Threads setzt die Anzahl der Engine-Threads (0 = Engine entscheidet)
	Threads = Uint("INFERA_THREADS", 0)

	// MaxMediaSize begrenzt die Groesse eines einzelnen Medien-Payloads in Bytes
	MaxMediaSize = Uint64("INFERA_MAX_MEDIA", 64*1024*1024)
)

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via INFERA_DEBUG: bool fuer Debug, Zahl fuer feinere Stufen
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("INFERA_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
