// snapshot.go - Persistenz des engine-opaken Kontextzustands
// Das Dateiformat validiert nur Magic und Laenge; der Blob selbst gehoert
// der Engine und wird hier nie interpretiert.
package session

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/7blacky7/infera/api"
	"github.com/7blacky7/infera/format"
)

var snapshotMagic = [4]byte{'I', 'N', 'F', 'S'}

// SaveSession schreibt den Kontextzustand der Engine in eine Datei.
func (s *Session) SaveSession(path string) error {
	if err := s.beginMutation(); err != nil {
		return err
	}

	blob, err := s.handle.SaveState()
	if err != nil {
		return err
	}

	buf := make([]byte, 12+len(blob))
	copy(buf[0:4], snapshotMagic[:])
	binary.LittleEndian.PutUint64(buf[4:12], uint64(len(blob)))
	copy(buf[12:], blob)

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}

	s.logger.Debug("snapshot geschrieben", "path", path, "size", format.HumanBytes2(uint64(len(buf))))
	return nil
}

// LoadSession stellt einen mit SaveSession geschriebenen Zustand wieder her.
func (s *Session) LoadSession(path string) error {
	if err := s.beginMutation(); err != nil {
		return err
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot %s: %w", path, err)
	}
	if len(buf) < 12 || [4]byte(buf[0:4]) != snapshotMagic {
		return fmt.Errorf("%w: %s is not a session snapshot", api.ErrInvalidParam, path)
	}
	size := binary.LittleEndian.Uint64(buf[4:12])
	if uint64(len(buf)-12) != size {
		return fmt.Errorf("%w: snapshot %s truncated (header %d bytes, payload %d)", api.ErrInvalidParam, path, size, len(buf)-12)
	}

	if err := s.handle.LoadState(buf[12:]); err != nil {
		return err
	}

	s.logger.Debug("snapshot geladen", "path", path, "size", format.HumanBytes2(uint64(len(buf))))
	return nil
}
