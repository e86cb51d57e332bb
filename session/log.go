// log.go - Prozessweiter Log-Haken fuer Engine- und Session-Meldungen
package session

import (
	"log/slog"
	"os"
	"sync"

	"github.com/7blacky7/infera/envconfig"
	"github.com/7blacky7/infera/logutil"
)

var (
	logMu     sync.Mutex
	logTarget *slog.Logger
)

// SetLogHandler setzt den prozessweiten Handler fuer alle kuenftig
// geoeffneten Sessions. nil stellt den Standard wieder her.
func SetLogHandler(h slog.Handler) {
	logMu.Lock()
	defer logMu.Unlock()
	if h == nil {
		logTarget = nil
		return
	}
	logTarget = slog.New(h)
}

func sessionLogger() *slog.Logger {
	logMu.Lock()
	defer logMu.Unlock()
	if logTarget != nil {
		return logTarget
	}
	return logutil.NewLogger(os.Stderr, envconfig.LogLevel())
}
