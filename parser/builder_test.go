package parser

import (
	"bytes"
	"fmt"
	"sort"
)

// docBuilder assembles test documents object by object and records the
// offset of each one for the cross-reference section.
type docBuilder struct {
	buf     bytes.Buffer
	offsets map[int]int64
	objStm  map[int][2]int
}

func newDoc(version string) *docBuilder {
	b := &docBuilder{offsets: make(map[int]int64), objStm: make(map[int][2]int)}
	fmt.Fprintf(&b.buf, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", version)
	return b
}

func (b *docBuilder) obj(id int, body string) *docBuilder {
	b.offsets[id] = int64(b.buf.Len())
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", id, body)
	return b
}

func (b *docBuilder) stream(id int, dict string, data []byte) *docBuilder {
	b.offsets[id] = int64(b.buf.Len())
	fmt.Fprintf(&b.buf, "%d 0 obj\n<< %s /Length %d >>\nstream\n", id, dict, len(data))
	b.buf.Write(data)
	b.buf.WriteString("\nendstream\nendobj\n")
	return b
}

// inObjStm declares id as member index of object stream stm.
func (b *docBuilder) inObjStm(id, stm, index int) *docBuilder {
	b.objStm[id] = [2]int{stm, index}
	return b
}

func (b *docBuilder) size() int {
	max := 0
	for id := range b.offsets {
		if id > max {
			max = id
		}
	}
	for id := range b.objStm {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// finish writes a classic table covering 0..max and a trailer holding
// extra.
func (b *docBuilder) finish(extra string) []byte {
	size := b.size()
	xrefAt := b.buf.Len()
	fmt.Fprintf(&b.buf, "xref\n0 %d\n", size)
	for id := 0; id < size; id++ {
		if off, ok := b.offsets[id]; ok {
			fmt.Fprintf(&b.buf, "%010d %05d n\r\n", off, 0)
		} else {
			fmt.Fprintf(&b.buf, "%010d %05d f\r\n", 0, 65535)
		}
	}
	fmt.Fprintf(&b.buf, "trailer\n<< /Size %d %s >>\nstartxref\n%d\n%%%%EOF\n", size, extra, xrefAt)
	return b.buf.Bytes()
}

// finishStream writes an uncompressed cross-reference stream (W [1 4 2])
// as object id.
func (b *docBuilder) finishStream(id int, extra string) []byte {
	b.offsets[id] = int64(b.buf.Len())
	size := b.size()
	var rows bytes.Buffer
	for n := 0; n < size; n++ {
		if loc, ok := b.objStm[n]; ok {
			rows.Write([]byte{2, 0, 0, byte(loc[0] >> 8), byte(loc[0]), byte(loc[1] >> 8), byte(loc[1])})
			continue
		}
		off, ok := b.offsets[n]
		if !ok {
			rows.Write([]byte{0, 0, 0, 0, 0, 0xFF, 0xFF})
			continue
		}
		rows.Write([]byte{1, byte(off >> 24), byte(off >> 16), byte(off >> 8), byte(off), 0, 0})
	}
	xrefAt := b.buf.Len()
	fmt.Fprintf(&b.buf, "%d 0 obj\n<< /Type /XRef /Size %d /W [1 4 2] %s /Length %d >>\nstream\n", id, size, extra, rows.Len())
	b.buf.Write(rows.Bytes())
	fmt.Fprintf(&b.buf, "\nendstream\nendobj\nstartxref\n%d\n%%%%EOF\n", xrefAt)
	return b.buf.Bytes()
}

// objStmPayload lays out members as an object stream body and returns it
// with the /First offset.
func objStmPayload(members map[int]string) ([]byte, int) {
	ids := make([]int, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	var header, body bytes.Buffer
	for _, id := range ids {
		fmt.Fprintf(&header, "%d %d ", id, body.Len())
		body.WriteString(members[id])
		body.WriteByte('\n')
	}
	header.WriteByte('\n')
	first := header.Len()
	return append(header.Bytes(), body.Bytes()...), first
}
