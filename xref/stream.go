package xref

import (
	"context"
	"fmt"

	"github.com/wudi/pdfcore/filters"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/pdferr"
)

const opStream = "read xref stream"

// readStream parses a cross-reference stream object at off. Its payload is
// decoded with the stream's own filters; it is never encrypted.
func (r *resolver) readStream(ctx context.Context, off int64) (*Section, error) {
	if err := r.reader.Seek(off); err != nil {
		return nil, pdferr.Structural(opStream, off, err)
	}
	ref, obj, err := r.reader.ReadIndirectObject()
	if err != nil {
		return nil, pdferr.Structural(opStream, off, err)
	}
	stm, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, pdferr.Structuralf(opStream, off, "object %d is %s, not a stream", ref.Num, obj.Type())
	}
	dict := stm.Dict
	if typ, ok := dict.Name("Type"); ok && typ != "XRef" {
		return nil, pdferr.Structuralf(opStream, off, "object %d has /Type /%s", ref.Num, typ)
	}

	w, err := readWidths(dict)
	if err != nil {
		return nil, pdferr.Structural(opStream, off, err)
	}
	index, err := readIndex(dict)
	if err != nil {
		return nil, pdferr.Structural(opStream, off, err)
	}

	names, params, err := filters.ExtractFilters(dict, nil)
	if err != nil {
		return nil, pdferr.Structural(opStream, off, err)
	}
	data, err := filters.NewPipeline(r.registry, r.cfg.Limits).Decode(ctx, stm.Data, names, params)
	if err != nil {
		return nil, pdferr.Structural(opStream, off, fmt.Errorf("decode: %w", err))
	}

	sec := &Section{Offset: off, Form: FormStream, Trailer: dict, Prev: -1, XRefStm: -1}
	if prev, ok := dict.Int("Prev"); ok {
		sec.Prev = prev
	}
	recLen := w[0] + w[1] + w[2]
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, count := index[i], index[i+1]
		for j := 0; j < count; j++ {
			if pos+recLen > len(data) {
				r.log.Debug("xref stream shorter than its index", observability.Int64("offset", off))
				return sec, nil
			}
			rec := data[pos : pos+recLen]
			pos += recLen
			typ := int64(1)
			if w[0] > 0 {
				typ = field(rec[:w[0]])
			}
			f1 := field(rec[w[0] : w[0]+w[1]])
			f2 := field(rec[w[0]+w[1]:])
			var e Entry
			switch typ {
			case 0:
				e = Entry{Kind: KindFree, Offset: f1, Gen: int(f2)}
			case 1:
				e = Entry{Kind: KindUsed, Offset: f1, Gen: int(f2)}
			case 2:
				e = Entry{Kind: KindInObjectStream, Stream: int(f1), Index: int(f2)}
			default:
				return nil, pdferr.Structuralf(opStream, off, "object %d has unknown entry type %d", start+j, typ)
			}
			sec.Entries = append(sec.Entries, Record{ID: start + j, Entry: e})
		}
	}
	return sec, nil
}

// readWidths validates /W: exactly three non-negative integers.
func readWidths(dict *raw.DictObj) ([3]int, error) {
	var w [3]int
	arr, ok := dict.Array("W")
	if !ok {
		return w, fmt.Errorf("missing /W")
	}
	if arr.Len() != 3 {
		return w, fmt.Errorf("/W has %d entries, want 3", arr.Len())
	}
	for i, item := range arr.Items {
		n, ok := raw.AsInt(item)
		if !ok || n < 0 || n > 8 {
			return w, fmt.Errorf("/W[%d] is not a width", i)
		}
		w[i] = int(n)
	}
	if w[0]+w[1]+w[2] == 0 {
		return w, fmt.Errorf("/W describes empty records")
	}
	return w, nil
}

// readIndex returns the flattened (start, count) pairs, defaulting to
// [0 Size].
func readIndex(dict *raw.DictObj) ([]int, error) {
	size, ok := dict.Int("Size")
	if !ok || size < 0 {
		return nil, fmt.Errorf("missing or invalid /Size")
	}
	arr, ok := dict.Array("Index")
	if !ok {
		return []int{0, int(size)}, nil
	}
	if arr.Len()%2 != 0 {
		return nil, fmt.Errorf("/Index has odd length %d", arr.Len())
	}
	out := make([]int, 0, arr.Len())
	for i, item := range arr.Items {
		n, ok := raw.AsInt(item)
		if !ok || n < 0 {
			return nil, fmt.Errorf("/Index[%d] is not a non-negative integer", i)
		}
		out = append(out, int(n))
	}
	return out, nil
}

func field(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}
