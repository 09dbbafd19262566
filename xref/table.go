package xref

import "fmt"

// Kind is the state of one cross-reference slot.
type Kind int

const (
	KindUndefined Kind = iota
	KindFree
	KindUsed
	KindInObjectStream
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindFree:
		return "free"
	case KindUsed:
		return "used"
	case KindInObjectStream:
		return "objstm"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Entry locates one object. Offset and Gen apply to KindUsed (and carry the
// free-list link for KindFree); Stream and Index apply to KindInObjectStream.
type Entry struct {
	Kind   Kind
	Offset int64
	Gen    int
	Stream int
	Index  int
}

// Table is the merged view of every cross-reference section in a file,
// indexed by object number.
type Table struct {
	entries []Entry
}

func NewTable(size int) *Table {
	if size < 0 {
		size = 0
	}
	return &Table{entries: make([]Entry, size)}
}

func (t *Table) Size() int { return len(t.entries) }

// Extend grows the table to size slots. It never shrinks.
func (t *Table) Extend(size int) {
	if size <= len(t.entries) {
		return
	}
	grown := make([]Entry, size)
	copy(grown, t.entries)
	t.entries = grown
}

// Entry returns the slot for id; out-of-range ids read as KindUndefined.
func (t *Table) Entry(id int) Entry {
	if id < 0 || id >= len(t.entries) {
		return Entry{}
	}
	return t.entries[id]
}

// Set stores e at id, extending the table when needed.
func (t *Table) Set(id int, e Entry) {
	if id < 0 {
		return
	}
	t.Extend(id + 1)
	t.entries[id] = e
}

// Lookup returns the byte offset and generation of a directly stored object.
func (t *Table) Lookup(id int) (int64, int, bool) {
	e := t.Entry(id)
	if e.Kind != KindUsed {
		return 0, 0, false
	}
	return e.Offset, e.Gen, true
}

// ObjStream returns the container and index of an object stored in an
// object stream.
func (t *Table) ObjStream(id int) (int, int, bool) {
	e := t.Entry(id)
	if e.Kind != KindInObjectStream {
		return 0, 0, false
	}
	return e.Stream, e.Index, true
}

// Objects lists the ids of every live object in ascending order.
func (t *Table) Objects() []int {
	var out []int
	for id, e := range t.entries {
		if e.Kind == KindUsed || e.Kind == KindInObjectStream {
			out = append(out, id)
		}
	}
	return out
}

// merge applies an older section under the table: only undefined slots are
// filled. Entries past the current size extend the table when extend is set
// and are dropped otherwise.
func (t *Table) merge(sec *Section, extend bool) (dropped int) {
	if extend {
		if max := sec.maxID(); max >= len(t.entries) {
			t.Extend(max + 1)
		}
	}
	for _, rec := range sec.Entries {
		if rec.ID < 0 || rec.ID >= len(t.entries) {
			dropped++
			continue
		}
		if t.entries[rec.ID].Kind != KindUndefined {
			continue
		}
		t.entries[rec.ID] = rec.Entry
	}
	return dropped
}
