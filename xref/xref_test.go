package xref_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/wudi/pdfcore/filters"
	"github.com/wudi/pdfcore/pdferr"
	"github.com/wudi/pdfcore/xref"
)

func buildSimplePDF() ([]byte, map[int]int64) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	offsets := make(map[int]int64)

	offsets[1] = int64(buf.Len())
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")

	offsets[2] = int64(buf.Len())
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	xrefOffset := buf.Len()
	buf.WriteString("xref\n0 3\n")
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= 2; i++ {
		buf.WriteString(fmt.Sprintf("%010d 00000 n \n", offsets[i]))
	}
	buf.WriteString("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	buf.WriteString("startxref\n")
	buf.WriteString(fmt.Sprintf("%d\n", xrefOffset))
	buf.WriteString("%%EOF\n")

	return buf.Bytes(), offsets
}

type readerAt struct {
	data []byte
}

func (r *readerAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if off+int64(n) >= int64(len(r.data)) {
		return n, io.EOF
	}
	return n, nil
}

func resolve(t *testing.T, data []byte, cfg xref.ResolverConfig) (xref.Resolver, *xref.Table) {
	t.Helper()
	resolver := xref.NewResolver(cfg)
	table, err := resolver.Resolve(context.Background(), &readerAt{data: data})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return resolver, table
}

func TestResolverParsesXRefTable(t *testing.T) {
	pdf, offsets := buildSimplePDF()
	resolver, table := resolve(t, pdf, xref.ResolverConfig{})

	for obj, off := range offsets {
		gotOff, gen, ok := table.Lookup(obj)
		if !ok {
			t.Fatalf("missing object %d", obj)
		}
		if gotOff != off || gen != 0 {
			t.Fatalf("object %d: expected (%d,0), got (%d,%d)", obj, off, gotOff, gen)
		}
	}
	if e := table.Entry(0); e.Kind != xref.KindFree || e.Gen != 65535 {
		t.Fatalf("object 0: %+v", e)
	}
	if resolver.Form() != xref.FormClassic {
		t.Fatalf("expected classic form, got %s", resolver.Form())
	}
	if root, ok := resolver.Trailer().Ref("Root"); !ok || root.Num != 1 {
		t.Fatalf("trailer root: %v %v", root, ok)
	}
}

func buildXRefStreamPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")

	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	// Object stream with two objects (4 and 5)
	objStreamContent := "<< /Val 7 >> 5"
	header := "4 0 5 " + fmt.Sprintf("%d ", len("<< /Val 7 >>")+1)
	first := len(header)
	decoded := []byte(header + objStreamContent)
	off3 := buf.Len()
	buf.WriteString("3 0 obj\n<< /Type /ObjStm /N 2 /First ")
	buf.WriteString(fmt.Sprintf("%d", first))
	buf.WriteString(" /Length ")
	buf.WriteString(fmt.Sprintf("%d", len(decoded)))
	buf.WriteString(" >>\nstream\n")
	buf.Write(decoded)
	buf.WriteString("\nendstream\nendobj\n")

	xrefOffset := buf.Len()
	entries := buildXRefStreamEntries(7, map[int]int{
		1: off1,
		2: off2,
		3: off3,
		6: xrefOffset,
	}, map[int]struct {
		objstm int
		idx    int
	}{
		4: {objstm: 3, idx: 0},
		5: {objstm: 3, idx: 1},
	})
	buf.WriteString("6 0 obj\n<< /Type /XRef /Size 7 /Root 1 0 R /W [1 4 1] /Index [0 7] /Length ")
	buf.WriteString(fmt.Sprintf("%d", len(entries)))
	buf.WriteString(" >>\nstream\n")
	buf.Write(entries)
	buf.WriteString("\nendstream\nendobj\n")

	buf.WriteString("startxref\n")
	buf.WriteString(fmt.Sprintf("%d\n", xrefOffset))
	buf.WriteString("%%EOF\n")
	return buf.Bytes()
}

func buildXRefStreamEntries(size int, offsets map[int]int, objStreams map[int]struct {
	objstm int
	idx    int
}) []byte {
	entrySize := 6 // w: [1 4 1]
	total := make([]byte, entrySize*size)
	for obj, off := range offsets {
		idx := obj * entrySize
		total[idx] = 1 // type 1
		total[idx+1] = byte(off >> 24)
		total[idx+2] = byte(off >> 16)
		total[idx+3] = byte(off >> 8)
		total[idx+4] = byte(off)
		total[idx+5] = 0
	}
	for obj, meta := range objStreams {
		idx := obj * entrySize
		total[idx] = 2 // type 2
		total[idx+1] = byte(meta.objstm >> 24)
		total[idx+2] = byte(meta.objstm >> 16)
		total[idx+3] = byte(meta.objstm >> 8)
		total[idx+4] = byte(meta.objstm)
		total[idx+5] = byte(meta.idx)
	}
	return total
}

func buildHybridXRefPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	xrefStreamOff := buf.Len()
	entries := buildXRefStreamEntries(6, map[int]int{
		1: off1,
		2: off2,
		4: xrefStreamOff,
	}, nil)
	fmt.Fprintf(buf, "4 0 obj\n<< /Type /XRef /Size 6 /Root 1 0 R /W [1 4 1] /Index [0 6] /Length %d >>\nstream\n", len(entries))
	buf.Write(entries)
	buf.WriteString("\nendstream\nendobj\n")

	baseStart := xrefStreamOff
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", baseStart)

	// incremental update with hybrid xref table referencing the stream
	obj5Off := buf.Len()
	buf.WriteString("5 0 obj\n<< /Producer (inc) >>\nendobj\n")
	tableOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 1\n0000000000 65535 f \n5 1\n%010d 00000 n \n", obj5Off)
	fmt.Fprintf(buf, "trailer\n<< /Size 6 /Root 1 0 R /Prev %d /XRefStm %d >>\nstartxref\n%d\n%%%%EOF\n", baseStart, xrefStreamOff, tableOff)
	return buf.Bytes()
}

func TestResolverParsesXRefStreamAndObjStm(t *testing.T) {
	resolver, table := resolve(t, buildXRefStreamPDF(), xref.ResolverConfig{})
	if resolver.Form() != xref.FormStream {
		t.Fatalf("expected xref-stream table, got %s", resolver.Form())
	}
	if os, idx, ok := table.ObjStream(4); !ok || os != 3 || idx != 0 {
		t.Fatalf("expected obj 4 in objstm 3 idx0, got %v %v %v", os, idx, ok)
	}
	if os, idx, ok := table.ObjStream(5); !ok || os != 3 || idx != 1 {
		t.Fatalf("expected obj 5 in objstm 3 idx1, got %v %v %v", os, idx, ok)
	}
	off, _, ok := table.Lookup(1)
	if !ok || off == 0 {
		t.Fatalf("object 1 missing offset")
	}
	if got := table.Objects(); len(got) != 6 {
		t.Fatalf("expected 6 live objects, got %v", got)
	}
}

func TestResolverParsesHybridXRefTableWithXRefStream(t *testing.T) {
	resolver, table := resolve(t, buildHybridXRefPDF(), xref.ResolverConfig{})
	// Newest revision has xref table, older objects should be served from embedded xref stream.
	if resolver.Form() != xref.FormClassic {
		t.Fatalf("expected classic table as primary, got %s", resolver.Form())
	}
	off1, _, ok := table.Lookup(1)
	if !ok || off1 == 0 {
		t.Fatalf("missing object 1 offset")
	}
	off5, _, ok := table.Lookup(5)
	if !ok || off5 == 0 {
		t.Fatalf("missing appended object 5 offset")
	}
	if _, _, ok := table.ObjStream(5); ok {
		t.Fatalf("object 5 should not be in an object stream")
	}
	// The Prev chain revisits the hybrid stream; the loop guard must not trip
	// on the XRefStm offset itself.
	if n := len(resolver.Sections()); n != 3 {
		t.Fatalf("expected 3 sections, got %d", n)
	}
}

// buildRevisions writes objects 1..5, then an update that frees 3 and moves 2.
func buildRevisions(stream bool) ([]byte, int64) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.4\n")
	offs := map[int]int{}
	for i := 1; i <= 5; i++ {
		offs[i] = buf.Len()
		fmt.Fprintf(buf, "%d 0 obj\n(v%d)\nendobj\n", i, i)
	}
	base := buf.Len()
	if stream {
		entries := buildXRefStreamEntries(7, map[int]int{1: offs[1], 2: offs[2], 3: offs[3], 4: offs[4], 5: offs[5], 6: base}, nil)
		fmt.Fprintf(buf, "6 0 obj\n<< /Type /XRef /Size 7 /Root 1 0 R /W [1 4 1] /Length %d >>\nstream\n", len(entries))
		buf.Write(entries)
		buf.WriteString("\nendstream\nendobj\n")
	} else {
		buf.WriteString("xref\n0 6\n0000000000 65535 f \n")
		for i := 1; i <= 5; i++ {
			fmt.Fprintf(buf, "%010d 00000 n \n", offs[i])
		}
		buf.WriteString("trailer\n<< /Size 6 /Root 1 0 R >>\n")
	}
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", base)

	moved := buf.Len()
	buf.WriteString("2 0 obj\n(v2b)\nendobj\n")
	update := buf.Len()
	if stream {
		rec := func(typ byte, f1 int, f2 byte) []byte {
			return []byte{typ, byte(f1 >> 24), byte(f1 >> 16), byte(f1 >> 8), byte(f1), f2}
		}
		var entries []byte
		entries = append(entries, rec(1, moved, 0)...)
		entries = append(entries, rec(0, 0, 1)...)
		entries = append(entries, rec(1, update, 0)...)
		fmt.Fprintf(buf, "7 0 obj\n<< /Type /XRef /Size 8 /Root 1 0 R /Prev %d /W [1 4 1] /Index [2 2 7 1] /Length %d >>\nstream\n", base, len(entries))
		buf.Write(entries)
		buf.WriteString("\nendstream\nendobj\n")
	} else {
		fmt.Fprintf(buf, "xref\n2 2\n%010d 00000 n \n0000000000 00001 f \n", moved)
		fmt.Fprintf(buf, "trailer\n<< /Size 6 /Root 1 0 R /Prev %d >>\n", base)
	}
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", update)
	return buf.Bytes(), int64(moved)
}

func TestResolverMergesNewestFirst(t *testing.T) {
	for _, stream := range []bool{false, true} {
		t.Run(fmt.Sprintf("stream=%v", stream), func(t *testing.T) {
			data, moved := buildRevisions(stream)
			_, table := resolve(t, data, xref.ResolverConfig{})

			if off, _, ok := table.Lookup(2); !ok || off != moved {
				t.Fatalf("object 2 should come from the update: %d %v", off, ok)
			}
			if e := table.Entry(3); e.Kind != xref.KindFree || e.Gen != 1 {
				t.Fatalf("object 3 should be freed by the update: %+v", e)
			}
			for _, id := range []int{1, 4, 5} {
				if _, _, ok := table.Lookup(id); !ok {
					t.Fatalf("object %d lost in merge", id)
				}
			}
		})
	}
}

func TestClassicAndStreamFormsAgree(t *testing.T) {
	classic, _ := buildRevisions(false)
	stream, _ := buildRevisions(true)
	_, a := resolve(t, classic, xref.ResolverConfig{})
	_, b := resolve(t, stream, xref.ResolverConfig{})
	for id := 1; id <= 5; id++ {
		ea, eb := a.Entry(id), b.Entry(id)
		if ea.Kind != eb.Kind || ea.Gen != eb.Gen {
			t.Fatalf("object %d differs:\n%s%s", id, spew.Sdump(ea), spew.Sdump(eb))
		}
		if ea.Kind == xref.KindUsed && (ea.Offset == 0 || eb.Offset == 0) {
			t.Fatalf("object %d has no offset", id)
		}
	}
}

func buildUndersized() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	objOff := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	xrefOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 2\n0000000000 65535 f \n%010d 00000 n \n", objOff)
	buf.WriteString("trailer\n<< /Size 1 /Root 1 0 R >>\nstartxref\n")
	fmt.Fprintf(buf, "%d\n%%%%EOF\n", xrefOff)
	return buf.Bytes()
}

func TestSegmentExtension(t *testing.T) {
	_, table := resolve(t, buildUndersized(), xref.ResolverConfig{})
	if table.Size() != 2 {
		t.Fatalf("table should grow to 2, got %d", table.Size())
	}
	if _, _, ok := table.Lookup(1); !ok {
		t.Fatalf("object 1 should be kept")
	}

	_, table = resolve(t, buildUndersized(), xref.ResolverConfig{DisableSegmentExtension: true})
	if table.Size() != 1 {
		t.Fatalf("table should stay at 1, got %d", table.Size())
	}
	if _, _, ok := table.Lookup(1); ok {
		t.Fatalf("object 1 should be dropped")
	}
}

func TestNineteenByteRecords(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.3\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< >>\nendobj\n")
	xrefOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 2\n0000000000 65535 f\n%010d 00000 n\n", off1)
	fmt.Fprintf(buf, "trailer\n<< /Size 2 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF", xrefOff)

	_, table := resolve(t, buf.Bytes(), xref.ResolverConfig{})
	if off, _, ok := table.Lookup(1); !ok || off != int64(off1) {
		t.Fatalf("object 1: %d %v", off, ok)
	}
}

func buildShiftedFirstSegment() ([]byte, int) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.3\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< >>\nendobj\n")
	xrefOff := buf.Len()
	fmt.Fprintf(buf, "xref\n1 2\n0000000000 65535 f \n%010d 00000 n \n", off1)
	fmt.Fprintf(buf, "trailer\n<< /Size 2 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xrefOff)
	return buf.Bytes(), off1
}

func TestFirstSegmentShift(t *testing.T) {
	data, off1 := buildShiftedFirstSegment()

	_, table := resolve(t, data, xref.ResolverConfig{Lenient: true})
	if off, _, ok := table.Lookup(1); !ok || off != int64(off1) {
		t.Fatalf("lenient: object 1 should be renumbered: %d %v", off, ok)
	}

	_, table = resolve(t, data, xref.ResolverConfig{})
	if e := table.Entry(1); e.Kind != xref.KindFree {
		t.Fatalf("strict: object 1 should read as the free head, got %+v", e)
	}
}

func TestResolverFailures(t *testing.T) {
	pdf, _ := buildSimplePDF()
	stream := buildXRefStreamPDF()

	loop := &bytes.Buffer{}
	loop.WriteString("%PDF-1.4\n1 0 obj\n<< >>\nendobj\n")
	loopOff := loop.Len()
	fmt.Fprintf(loop, "xref\n0 2\n0000000000 65535 f \n0000000009 00000 n \ntrailer\n<< /Size 2 /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", loopOff, loopOff)

	badType := bytes.Replace(stream, []byte{1, 0, 0, 0}, []byte{3, 0, 0, 0}, 1)
	badW := bytes.Replace(stream, []byte("/W [1 4 1]"), []byte("/W [1 4]  "), 1)

	tests := []struct {
		name string
		data []byte
	}{
		{"missing eof", bytes.TrimSuffix(pdf, []byte("%%EOF\n"))},
		{"trailing garbage", append(append([]byte{}, pdf...), "garbage\n"...)},
		{"startxref out of range", bytes.Replace(pdf, []byte("startxref\n"), []byte("startxref\n99999"), 1)},
		{"prev loop", loop.Bytes()},
		{"unknown stream entry type", badType},
		{"bad widths", badW},
		{"bad record", bytes.Replace(pdf, []byte("00000 n"), []byte("00000 x"), 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := xref.NewResolver(xref.ResolverConfig{}).Resolve(context.Background(), &readerAt{data: tt.data})
			if err == nil {
				t.Fatalf("expected failure")
			}
			if !errors.Is(err, pdferr.ErrStructural) {
				t.Fatalf("expected structural error, got %v", err)
			}
		})
	}
}

func TestLenientToleratesTrailingGarbage(t *testing.T) {
	pdf, offsets := buildSimplePDF()
	data := append(append([]byte{}, pdf...), "garbage\n"...)
	_, table := resolve(t, data, xref.ResolverConfig{Lenient: true})
	if off, _, ok := table.Lookup(2); !ok || off != offsets[2] {
		t.Fatalf("object 2: %d %v", off, ok)
	}
}

func TestCompressedXRefStreamWithPredictor(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.5\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	xrefOff := buf.Len()

	rows := [][]byte{
		{0, 0, 0, 0, 0xff, 0xff},
		{1, 0, 0, byte(off1), 0, 0},
		{1, 0, byte(xrefOff >> 8), byte(xrefOff), 0, 0},
	}
	var plain []byte
	for _, row := range rows {
		plain = append(plain, 0) // PNG None
		plain = append(plain, row...)
	}
	packed, err := filters.FlateEncode(plain)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	fmt.Fprintf(buf, "2 0 obj\n<< /Type /XRef /Size 3 /Root 1 0 R /W [1 3 2] /Filter /FlateDecode /DecodeParms << /Predictor 12 /Columns 6 >> /Length %d >>\nstream\n", len(packed))
	buf.Write(packed)
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOff)

	_, table := resolve(t, buf.Bytes(), xref.ResolverConfig{})
	if off, _, ok := table.Lookup(1); !ok || off != int64(off1) {
		t.Fatalf("object 1: %d %v", off, ok)
	}
	if off, _, ok := table.Lookup(2); !ok || off != int64(xrefOff) {
		t.Fatalf("object 2: %d %v", off, ok)
	}
	if e := table.Entry(0); e.Kind != xref.KindFree || e.Gen != 0xffff {
		t.Fatalf("object 0: %+v", e)
	}
}

func TestShortXRefStreamStops(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.5\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	xrefOff := buf.Len()
	entries := buildXRefStreamEntries(2, map[int]int{1: off1}, nil)
	fmt.Fprintf(buf, "2 0 obj\n<< /Type /XRef /Size 5 /Root 1 0 R /W [1 4 1] /Length %d >>\nstream\n", len(entries))
	buf.Write(entries)
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOff)

	_, table := resolve(t, buf.Bytes(), xref.ResolverConfig{})
	if _, _, ok := table.Lookup(1); !ok {
		t.Fatalf("object 1 should be read")
	}
	if e := table.Entry(3); e.Kind != xref.KindUndefined {
		t.Fatalf("object 3 should be undefined, got %+v", e)
	}
}
