package xref

import (
	"context"
	"errors"
	"io"
	"sort"

	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/pdferr"
	"github.com/wudi/pdfcore/scanner"
)

// repair scans the entire file to reconstruct the xref table.
// It looks for "<num> <gen> obj" patterns and "trailer" dictionaries; later
// definitions of an object replace earlier ones.
func (r *resolver) repair(ctx context.Context) (*Table, error) {
	s := scanner.New(r.cursor.r, scanner.Config{})
	rd := raw.NewReader(s, nil)
	found := make(map[int]Entry)
	var lastTrailer *raw.DictObj

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		before := rd.Position()
		tok, err := rd.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Skip invalid tokens during repair scan
			if rd.Position() <= before {
				if rd.Seek(before+1) != nil {
					break
				}
			}
			continue
		}

		switch {
		case tok.Type == scanner.TokenNumber && tok.IsInt:
			genTok, err := rd.Next()
			if err != nil {
				continue
			}
			if genTok.Type != scanner.TokenNumber || !genTok.IsInt {
				continue
			}
			objTok, err := rd.Next()
			if err != nil {
				continue
			}
			if objTok.IsKeyword("obj") {
				found[int(tok.Int)] = Entry{Kind: KindUsed, Offset: tok.Pos, Gen: int(genTok.Int)}
				continue
			}
			// The generation token may itself start an object header, as in
			// "999 1 0 obj".
			if err := rd.Seek(genTok.Pos); err != nil {
				return nil, err
			}
		case tok.IsKeyword("trailer"):
			if obj, err := rd.ReadValue(); err == nil {
				if dict, ok := obj.(*raw.DictObj); ok {
					lastTrailer = dict
				}
			}
		}
	}

	if len(found) == 0 {
		return nil, pdferr.Structural("repair xref", -1, errNoObjects)
	}

	ids := make([]int, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	size := ids[len(ids)-1] + 1

	if lastTrailer == nil {
		lastTrailer = raw.Dict()
	}
	if n, ok := lastTrailer.Int("Size"); !ok || int(n) < size {
		lastTrailer.Set("Size", raw.NumberInt(int64(size)))
	}
	if !lastTrailer.Has("Root") {
		if root, ok := r.findCatalog(rd, ids, found); ok {
			lastTrailer.Set("Root", raw.RefObj{R: root})
		}
	}

	table := NewTable(size)
	table.Set(0, Entry{Kind: KindFree, Gen: 65535})
	sec := Section{Offset: -1, Form: FormClassic, Trailer: lastTrailer, Prev: -1, XRefStm: -1}
	for _, id := range ids {
		table.Set(id, found[id])
		sec.Entries = append(sec.Entries, Record{ID: id, Entry: found[id]})
	}
	r.sections = []Section{sec}
	r.trailer = lastTrailer
	r.repaired = true
	r.log.Info("cross-reference table rebuilt", observability.Int("objects", len(ids)))
	return table, nil
}

// findCatalog returns the last object whose dictionary has /Type /Catalog.
func (r *resolver) findCatalog(rd *raw.Reader, ids []int, found map[int]Entry) (raw.ObjectRef, bool) {
	for i := len(ids) - 1; i >= 0; i-- {
		e := found[ids[i]]
		if rd.Seek(e.Offset) != nil {
			continue
		}
		ref, obj, err := rd.ReadIndirectObject()
		if err != nil {
			continue
		}
		if d, ok := raw.AsDict(obj); ok {
			if t, _ := d.Name("Type"); t == "Catalog" {
				return ref, true
			}
		}
	}
	return raw.ObjectRef{}, false
}
