// MODUL: table
// ZWECK: Ownership-Registry fuer native Ressourcen (Adapter, Sampler, Encoder-Kontexte)
// INPUT: Ressourcen mit Close-Methode, Handle-Ids
// OUTPUT: Generation-gepruefte Ids, Ressourcen-Lookup, deterministische Freigabe
// NEBENEFFEKTE: Ruft Close auf registrierten Ressourcen auf
// ABHAENGIGKEITEN: api (Fehler-Taxonomie)
// HINWEISE: Nicht intern synchronisiert - eine Session serialisiert alle Zugriffe

package handles

import (
	"errors"
	"fmt"

	"github.com/7blacky7/infera/api"
)

// Kind gruppiert Ressourcen fuer ReleaseAll
type Kind uint8

const (
	KindAdapter Kind = iota + 1
	KindSampler
	KindMediaContext
	KindGrammar
)

func (k Kind) String() string {
	switch k {
	case KindAdapter:
		return "adapter"
	case KindSampler:
		return "sampler"
	case KindMediaContext:
		return "media-context"
	case KindGrammar:
		return "grammar"
	default:
		return "unknown"
	}
}

// releaseOrder legt die Reihenfolge fuer Close fest. Sampler und Grammatiken
// zuerst (sie referenzieren ggf. Vocab-Daten), Encoder-Kontexte und Adapter
// danach. Alle Kinds muessen vor dem Engine-Handle freigegeben sein; das
// stellt die Session sicher.
var releaseOrder = []Kind{KindSampler, KindGrammar, KindMediaContext, KindAdapter}

// Resource ist eine heap-eigene native Ressource. Close gibt den
// darunterliegenden Speicher genau einmal frei.
type Resource interface {
	Close() error
}

// ID identifiziert eine registrierte Ressource. Kodiert Kind, Slot-Index und
// Generation: ein veraltetes Handle nach Slot-Wiederverwendung ergibt
// ErrNotFound statt eine fremde Ressource zu treffen.
type ID uint64

func makeID(kind Kind, index int, gen uint32) ID {
	return ID(uint64(kind)<<56 | uint64(index)<<32 | uint64(gen))
}

func (id ID) Kind() Kind    { return Kind(id >> 56) }
func (id ID) index() int    { return int(uint32(id>>32) & 0xFFFFFF) }
func (id ID) gen() uint32   { return uint32(id) }
func (id ID) String() string {
	return fmt.Sprintf("%s/%d.%d", id.Kind(), id.index(), id.gen())
}

type slot struct {
	kind Kind
	gen  uint32
	res  Resource
	live bool
}

// Table ist die Ownership-Registry. Register uebernimmt die Ressource;
// danach darf der Aufrufer sie nur noch ueber die Table erreichen.
type Table struct {
	slots []slot
	free  []int
}

func NewTable() *Table {
	return &Table{}
}

// Register uebernimmt die Ressource und gibt eine Id zurueck.
func (t *Table) Register(kind Kind, res Resource) ID {
	var idx int
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, slot{})
		idx = len(t.slots) - 1
	}

	s := &t.slots[idx]
	s.kind = kind
	s.gen++
	s.res = res
	s.live = true

	return makeID(kind, idx, s.gen)
}

// Lookup gibt die Ressource zu einer Id zurueck.
func (t *Table) Lookup(id ID) (Resource, error) {
	s := t.slot(id)
	if s == nil {
		return nil, fmt.Errorf("%w: handle %s", api.ErrNotFound, id)
	}
	return s.res, nil
}

// Release gibt genau eine Ressource frei. Ein zweiter Aufruf mit derselben Id
// ist ein ErrNotFound, kein Doppel-Free.
func (t *Table) Release(id ID) error {
	s := t.slot(id)
	if s == nil {
		return fmt.Errorf("%w: handle %s", api.ErrNotFound, id)
	}

	res := s.res
	s.res = nil
	s.live = false
	t.free = append(t.free, id.index())

	return res.Close()
}

// ReleaseAll gibt alle Ressourcen eines Kinds in Registrierungs-Reihenfolge
// frei. Fehler werden gesammelt; die Freigabe bricht nie vorzeitig ab.
func (t *Table) ReleaseAll(kind Kind) error {
	var errs []error
	for i := range t.slots {
		s := &t.slots[i]
		if !s.live || s.kind != kind {
			continue
		}
		if err := t.Release(makeID(kind, i, s.gen)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close gibt saemtliche Ressourcen in fester Kind-Reihenfolge frei.
func (t *Table) Close() error {
	var errs []error
	for _, kind := range releaseOrder {
		if err := t.ReleaseAll(kind); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len zaehlt die lebenden Ressourcen eines Kinds.
func (t *Table) Len(kind Kind) int {
	var n int
	for i := range t.slots {
		if t.slots[i].live && t.slots[i].kind == kind {
			n++
		}
	}
	return n
}

func (t *Table) slot(id ID) *slot {
	idx := id.index()
	if idx < 0 || idx >= len(t.slots) {
		return nil
	}
	s := &t.slots[idx]
	if !s.live || s.kind != id.Kind() || s.gen != id.gen() {
		return nil
	}
	return s
}
