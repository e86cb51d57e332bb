// MODUL: session
// ZWECK: Orchestrierung einer Inferenz-Session ueber dem Engine-Handle
// INPUT: Engine, Modellparameter, Generierungs-Anfragen
// OUTPUT: gestreamte Antworten, Adapter- und Snapshot-Verwaltung
// NEBENEFFEKTE: Engine-Aufrufe, Dateisystem bei Snapshots
// ABHAENGIGKEITEN: engine, handles, sample, grammar, media, uuid (extern)
// HINWEISE: Eine Session serialisiert alle Zugriffe auf ihr Handle. Waehrend
//           einer laufenden Generierung werden mutierende Aufrufe abgelehnt.

package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/7blacky7/infera/api"
	"github.com/7blacky7/infera/engine"
	"github.com/7blacky7/infera/envconfig"
	"github.com/7blacky7/infera/handles"
	"github.com/7blacky7/infera/media"
)

// State ist der Zustand der Generierungs-Zustandsmaschine.
type State int

const (
	StateIdle State = iota
	StatePromptEncoding
	StateGenerating
	StateCompleted
	StateAborted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePromptEncoding:
		return "prompt-encoding"
	case StateGenerating:
		return "generating"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Params parametrisiert Session.Open.
type Params struct {
	ModelPath     string
	ProjectorPath string

	// ContextLength 0 uebernimmt INFERA_CONTEXT_LENGTH
	ContextLength int
	// Threads 0 uebernimmt INFERA_THREADS
	Threads int
}

// adapter ist ein geladener Adapter in Lade-Reihenfolge.
type adapter struct {
	id    handles.ID
	ref   engine.AdapterRef
	path  string
	scale float32
}

// adapterResource bindet das Detach an die Handle-Tabelle: Release loest
// den Adapter von der Engine, bevor sein Eintrag verschwindet.
type adapterResource struct {
	handle engine.Handle
	ref    engine.AdapterRef
}

func (r *adapterResource) Close() error {
	return r.handle.DetachAdapter(r.ref)
}

// Session besitzt genau ein Engine-Handle und alle darauf erzeugten
// Ressourcen. Nicht fuer parallele Nutzung durch mehrere Goroutinen gedacht;
// mu schuetzt nur den Zustandsuebergang.
type Session struct {
	id     string
	logger *slog.Logger

	handle   engine.Handle
	table    *handles.Table
	pipeline *media.Pipeline
	mediaID  handles.ID

	adapters []*adapter

	mu         sync.Mutex
	state      State
	generating bool
	closed     bool
}

// Open laedt das Modell und erstellt die Session. Ein nicht leerer
// ProjectorPath initialisiert zusaetzlich den Multimodal-Encoder.
func Open(eng engine.Engine, params Params) (*Session, error) {
	if eng == nil {
		return nil, fmt.Errorf("%w: nil engine", api.ErrInvalidParam)
	}
	if params.ModelPath == "" {
		return nil, fmt.Errorf("%w: empty model path", api.ErrInvalidParam)
	}

	ctxLen := params.ContextLength
	if ctxLen <= 0 {
		ctxLen = int(envconfig.ContextLength())
	}
	threads := params.Threads
	if threads <= 0 {
		threads = int(envconfig.Threads())
	}

	handle, err := eng.Load(params.ModelPath, engine.ModelParams{
		ContextLength: ctxLen,
		Threads:       threads,
	})
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", params.ModelPath, err)
	}

	s := &Session{
		id:     uuid.NewString(),
		handle: handle,
		table:  handles.NewTable(),
	}
	s.logger = sessionLogger().With("session", s.id)

	if params.ProjectorPath != "" {
		if err := handle.InitVisionEncoder(params.ProjectorPath); err != nil {
			_ = handle.Close()
			return nil, fmt.Errorf("init projector %s: %w", params.ProjectorPath, err)
		}
		s.pipeline = media.NewPipeline(handle, s.logger)
		s.mediaID = s.table.Register(handles.KindMediaContext, s.pipeline)
	}

	info := handle.Info()
	s.logger.Info("session geoeffnet",
		"model", params.ModelPath,
		"arch", info.Architecture,
		"vocab", info.NumVocab,
		"ctx", info.ContextLength,
		"vision", handle.VisionInitialized())

	return s, nil
}

// ID gibt die Session-Id zurueck.
func (s *Session) ID() string {
	return s.id
}

// State gibt den Zustand der letzten bzw. laufenden Generierung zurueck.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info reicht die Modell-Metadaten durch.
func (s *Session) Info() engine.ModelInfo {
	return s.handle.Info()
}

// SupportsVision meldet ob Bild-Eingaben verarbeitet werden koennen.
func (s *Session) SupportsVision() bool {
	return s.handle.VisionInitialized()
}

// SupportsAudio meldet ob Audio-Eingaben verarbeitet werden koennen.
func (s *Session) SupportsAudio() bool {
	return s.handle.AudioInitialized()
}

// Media gibt die Ingest-Pipeline zurueck, sofern ein Projektor geladen ist.
func (s *Session) Media() (*media.Pipeline, error) {
	if s.pipeline == nil {
		return nil, fmt.Errorf("%w: session opened without projector", api.ErrMultimodalNotSupported)
	}
	return s.pipeline, nil
}

// beginMutation prueft Lebenszustand und laufende Generierung.
func (s *Session) beginMutation() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: session %s", api.ErrAlreadyClosed, s.id)
	}
	if s.generating {
		return fmt.Errorf("%w: session is generating", api.ErrInvalidParam)
	}
	return nil
}

// LoadAdapter laedt einen Adapter und aktiviert ihn mit der Skalierung.
// Adapter wirken in Lade-Reihenfolge.
func (s *Session) LoadAdapter(path string, scale float32) (handles.ID, error) {
	if err := s.beginMutation(); err != nil {
		return 0, err
	}
	if scale < 0 || scale > 2 {
		return 0, fmt.Errorf("%w: adapter scale must be in [0,2], got %g", api.ErrInvalidParam, scale)
	}

	ref, err := s.handle.LoadAdapter(path)
	if err != nil {
		return 0, err
	}
	if err := s.handle.AttachAdapter(ref, scale); err != nil {
		return 0, err
	}

	id := s.table.Register(handles.KindAdapter, &adapterResource{handle: s.handle, ref: ref})
	s.adapters = append(s.adapters, &adapter{id: id, ref: ref, path: path, scale: scale})

	s.logger.Debug("adapter geladen", "path", path, "scale", scale, "id", id.String())
	return id, nil
}

// SetAdapterScale aendert die Skalierung eines aktiven Adapters.
func (s *Session) SetAdapterScale(id handles.ID, scale float32) error {
	if err := s.beginMutation(); err != nil {
		return err
	}
	if scale < 0 || scale > 2 {
		return fmt.Errorf("%w: adapter scale must be in [0,2], got %g", api.ErrInvalidParam, scale)
	}

	a := s.adapterByID(id)
	if a == nil {
		return fmt.Errorf("%w: adapter %s", api.ErrNotFound, id)
	}
	if err := s.handle.AttachAdapter(a.ref, scale); err != nil {
		return err
	}
	a.scale = scale
	return nil
}

// RemoveAdapter loest den Adapter von der Engine und gibt ihn frei.
func (s *Session) RemoveAdapter(id handles.ID) error {
	if err := s.beginMutation(); err != nil {
		return err
	}

	a := s.adapterByID(id)
	if a == nil {
		return fmt.Errorf("%w: adapter %s", api.ErrNotFound, id)
	}

	// Release detacht ueber die adapterResource, dann faellt der Eintrag
	if err := s.table.Release(id); err != nil {
		return err
	}
	for i, other := range s.adapters {
		if other == a {
			s.adapters = append(s.adapters[:i], s.adapters[i+1:]...)
			break
		}
	}
	s.logger.Debug("adapter entfernt", "path", a.path, "id", id.String())
	return nil
}

// ClearAdapters detacht alle Adapter in einem Zug.
func (s *Session) ClearAdapters() error {
	if err := s.beginMutation(); err != nil {
		return err
	}

	err := s.table.ReleaseAll(handles.KindAdapter)
	s.adapters = s.adapters[:0]
	return err
}

// Adapters gibt die aktiven Adapter-Ids in Lade-Reihenfolge zurueck.
func (s *Session) Adapters() []handles.ID {
	ids := make([]handles.ID, len(s.adapters))
	for i, a := range s.adapters {
		ids[i] = a.id
	}
	return ids
}

func (s *Session) adapterByID(id handles.ID) *adapter {
	for _, a := range s.adapters {
		if a.id == id {
			return a
		}
	}
	return nil
}

// Close gibt alle Ressourcen und dann das Engine-Handle frei. Waehrend
// einer laufenden Generierung wird Close abgelehnt; ein zweites Close ist
// ErrAlreadyClosed. Teardown-Fehler werden gesammelt, nie uebersprungen.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: session %s", api.ErrAlreadyClosed, s.id)
	}
	if s.generating {
		s.mu.Unlock()
		return fmt.Errorf("%w: session is generating", api.ErrInvalidParam)
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	// Reihenfolge ist tragend: erst jede Ressource, die das Handle
	// referenziert, dann das Handle selbst
	if err := s.table.Close(); err != nil {
		errs = append(errs, err)
	}
	s.adapters = nil
	if err := s.handle.Close(); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("session geschlossen")
	return errors.Join(errs...)
}
