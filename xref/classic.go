package xref

import (
	"context"
	"fmt"

	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/pdferr"
)

const opClassic = "read xref table"

// readClassic parses "xref", its subsections of fixed-width records and the
// trailer dictionary that follows them.
func (r *resolver) readClassic(ctx context.Context, off int64) (*Section, error) {
	c := r.cursor
	c.pos = off
	c.skipSpace()
	if !c.hasPrefix("xref") {
		return nil, pdferr.Structuralf(opClassic, off, "xref keyword not found")
	}
	c.pos += len64("xref")

	sec := &Section{Offset: off, Form: FormClassic, Prev: -1, XRefStm: -1}
	firstStart, firstCount := -1, 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.skipSpace()
		if c.hasPrefix("trailer") {
			c.pos += len64("trailer")
			break
		}
		headerAt := c.pos
		start, ok := c.readUint()
		if !ok {
			return nil, pdferr.Structuralf(opClassic, headerAt, "invalid subsection header %q", c.read(16))
		}
		c.skipBlanks()
		count, ok := c.readUint()
		if !ok {
			return nil, pdferr.Structuralf(opClassic, headerAt, "invalid subsection count %q", c.read(16))
		}
		if firstStart < 0 {
			firstStart, firstCount = int(start), int(count)
		}
		c.skipSpace()
		for i := int64(0); i < count; i++ {
			recAt := c.pos
			e, n, err := parseRecord(c.read(20))
			if err != nil {
				return nil, pdferr.Structuralf(opClassic, recAt, "unreadable record for object %d: %v", start+i, err)
			}
			c.pos += int64(n)
			sec.Entries = append(sec.Entries, Record{ID: int(start + i), Entry: e})
		}
	}

	if err := r.reader.Seek(c.pos); err != nil {
		return nil, pdferr.Structural(opClassic, c.pos, err)
	}
	obj, err := r.reader.ReadValue()
	if err != nil {
		return nil, pdferr.Structural(opClassic, c.pos, fmt.Errorf("trailer: %w", err))
	}
	trailer, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, pdferr.Structuralf(opClassic, c.pos, "trailer is %s, not a dictionary", obj.Type())
	}
	sec.Trailer = trailer
	if prev, ok := trailer.Int("Prev"); ok {
		sec.Prev = prev
	}
	if stm, ok := trailer.Int("XRefStm"); ok {
		sec.XRefStm = stm
	}
	r.shiftFirstSegment(sec, firstStart, firstCount)
	return sec, nil
}

// shiftFirstSegment renumbers the first subsection of a standalone table to
// start at 0. Some writers emit "1 n" while still listing the object 0 free
// entry first.
func (r *resolver) shiftFirstSegment(sec *Section, start, count int) {
	if !r.cfg.Lenient || len(r.sections) > 0 || sec.Prev >= 0 || start <= 0 || count == 0 {
		return
	}
	if first := sec.Entries[0]; first.Kind != KindFree || first.Gen != 65535 {
		return
	}
	for i := 0; i < count; i++ {
		sec.Entries[i].ID -= start
	}
	r.log.Warn("renumbered first xref subsection", observability.Int("from", start))
}

// parseRecord decodes "oooooooooo ggggg x" plus its line end. The standard
// width is 20 bytes; single-byte line ends (19 bytes) are accepted too.
func parseRecord(rec []byte) (Entry, int, error) {
	if len(rec) < 19 {
		return Entry{}, 0, fmt.Errorf("short record %q", rec)
	}
	off, ok := digits(rec[0:10])
	if !ok || rec[10] != ' ' {
		return Entry{}, 0, fmt.Errorf("bad offset field %q", rec[:11])
	}
	gen, ok := digits(rec[11:16])
	if !ok || rec[16] != ' ' {
		return Entry{}, 0, fmt.Errorf("bad generation field %q", rec[11:17])
	}
	var kind Kind
	switch rec[17] {
	case 'n':
		kind = KindUsed
	case 'f':
		kind = KindFree
	default:
		return Entry{}, 0, fmt.Errorf("bad entry type %q", rec[17])
	}
	n := 20
	switch {
	case isEOL(rec[18]) && (len(rec) < 20 || !isEOL(rec[19])):
		n = 19
	case len(rec) == 20 && (rec[18] == ' ' || isEOL(rec[18])) && isEOL(rec[19]):
	default:
		return Entry{}, 0, fmt.Errorf("bad line end %q", rec[18:])
	}
	return Entry{Kind: kind, Offset: off, Gen: int(gen)}, n, nil
}

func digits(b []byte) (int64, bool) {
	var v int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + int64(c-'0')
	}
	return v, true
}

func len64(s string) int64 { return int64(len(s)) }
