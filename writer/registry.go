package writer

import (
	"errors"

	"github.com/wudi/pdfcore/parser"
	"github.com/wudi/pdfcore/pdferr"
	"github.com/wudi/pdfcore/xref"
)

// RefKind tells used slots from free ones in the write registry.
type RefKind int

const (
	RefFree RefKind = iota
	RefUsed
)

// freeHeadGen is the generation of slot 0, the head of the free list.
const freeHeadGen = 65535

// ObjectWriteInfo is what the registry knows about one object number.
type ObjectWriteInfo struct {
	Kind RefKind
	Gen  int
	// Written is true once the object sits in the output, including
	// objects carried over from the base of an incremental update.
	Written bool
	// Dirty marks slots that the next cross-reference section must list.
	Dirty    bool
	Position int64
}

var (
	errUnknownID      = errors.New("object number was never allocated")
	errAlreadyWritten = errors.New("object already written")
	errNotWritten     = errors.New("object was not written before")
)

// Registry allocates object numbers and records where each object was
// written. Slot 0 is reserved for the free-list head.
type Registry struct {
	entries []ObjectWriteInfo
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.Reset()
	return r
}

func (r *Registry) Reset() {
	r.entries = []ObjectWriteInfo{{Kind: RefFree, Gen: freeHeadGen, Written: true, Dirty: true}}
}

// AllocateNewObjectID returns the next unused object number.
func (r *Registry) AllocateNewObjectID() int {
	r.entries = append(r.entries, ObjectWriteInfo{Kind: RefUsed, Dirty: true})
	return len(r.entries) - 1
}

func (r *Registry) MarkObjectAsWritten(id int, position int64) error {
	if id <= 0 || id >= len(r.entries) {
		return pdferr.Reference("mark object written", id, errUnknownID)
	}
	e := &r.entries[id]
	if e.Written {
		return pdferr.Reference("mark object written", id, errAlreadyWritten)
	}
	e.Written, e.Dirty, e.Position = true, true, position
	return nil
}

// MarkObjectAsUpdated records a new version of an object carried over from
// the base document.
func (r *Registry) MarkObjectAsUpdated(id int, position int64) error {
	if id <= 0 || id >= len(r.entries) {
		return pdferr.Reference("mark object updated", id, errUnknownID)
	}
	e := &r.entries[id]
	if !e.Written {
		return pdferr.Reference("mark object updated", id, errNotWritten)
	}
	e.Kind, e.Dirty, e.Position = RefUsed, true, position
	return nil
}

// DeleteObject frees id and bumps its generation for the next reuse.
func (r *Registry) DeleteObject(id int) error {
	if id <= 0 || id >= len(r.entries) {
		return pdferr.Reference("delete object", id, errUnknownID)
	}
	e := &r.entries[id]
	e.Kind, e.Dirty, e.Written, e.Position = RefFree, true, true, 0
	if e.Gen < freeHeadGen {
		e.Gen++
	}
	r.entries[0].Dirty = true
	return nil
}

func (r *Registry) GetObjectWriteInformation(id int) (ObjectWriteInfo, bool) {
	if id < 0 || id >= len(r.entries) {
		return ObjectWriteInfo{}, false
	}
	return r.entries[id], true
}

// Count is the number of slots, slot 0 included: the trailer /Size.
func (r *Registry) Count() int { return len(r.entries) }

// listedFree reports whether slot id goes out as a free entry. An object
// allocated but never written is listed free.
func (r *Registry) listedFree(id int) bool {
	e := r.entries[id]
	return e.Kind == RefFree || !e.Written
}

// nextFree returns the free slot after id, wrapping to 0 at the end.
func (r *Registry) nextFree(id int) int {
	for n := id + 1; n < len(r.entries); n++ {
		if r.listedFree(n) {
			return n
		}
	}
	return 0
}

// SetupFromParser seeds the registry with the merged table of a parsed
// document. Carried slots are clean: only later changes get listed.
func (r *Registry) SetupFromParser(p *parser.Parser) {
	r.Reset()
	r.entries[0].Dirty = false
	for id := 1; id < p.XrefSize(); id++ {
		e, _ := p.XrefEntry(id)
		info := ObjectWriteInfo{Written: true}
		switch e.Kind {
		case xref.KindUsed:
			info.Kind, info.Gen, info.Position = RefUsed, e.Gen, e.Offset
		case xref.KindInObjectStream:
			info.Kind = RefUsed
		case xref.KindFree:
			info.Kind, info.Gen = RefFree, e.Gen
		default:
			info.Kind = RefFree
		}
		r.entries = append(r.entries, info)
	}
}
