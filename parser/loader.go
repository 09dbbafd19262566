package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/pdferr"
	"github.com/wudi/pdfcore/recovery"
	"github.com/wudi/pdfcore/scanner"
	"github.com/wudi/pdfcore/xref"
)

var (
	errNotInTable = errors.New("object not in cross-reference table")
	errFree       = errors.New("object is free")
	errTooDeep    = errors.New("reference chain too deep")
)

// objectStream is the decoded payload of an object stream plus its header:
// member i is object members[i].num at first+members[i].offset.
type objectStream struct {
	first   int64
	data    []byte
	members []objectStreamMember
}

type objectStreamMember struct {
	num    int
	offset int64
}

// ParseNewObject parses object id as the merged table locates it. Objects
// out of range, free or undefined yield a reference error; a declaration
// that does not match the table is a structural error.
func (p *Parser) ParseNewObject(id int) (raw.Object, error) {
	if p.table == nil {
		return nil, pdferr.Reference("parse object", id, errors.New("no document"))
	}
	if id < 0 || id >= p.table.Size() {
		return nil, pdferr.Reference("parse object", id, errNotInTable)
	}
	if p.depth >= p.limits.MaxIndirectDepth {
		return nil, pdferr.Reference("parse object", id, errTooDeep)
	}
	p.depth++
	defer func() { p.depth-- }()

	e := p.table.Entry(id)
	switch e.Kind {
	case xref.KindUsed:
		return p.cached(raw.ObjectRef{Num: id, Gen: e.Gen}, func() (raw.Object, error) {
			return p.parseDirect(id, e)
		})
	case xref.KindInObjectStream:
		return p.cached(raw.ObjectRef{Num: id}, func() (raw.Object, error) {
			return p.parseInObjectStream(id, e)
		})
	case xref.KindFree:
		return nil, pdferr.Reference("parse object", id, errFree)
	}
	return nil, pdferr.Reference("parse object", id, errNotInTable)
}

func (p *Parser) cached(ref raw.ObjectRef, parse func() (raw.Object, error)) (raw.Object, error) {
	if p.opts.Cache != nil {
		if obj, ok := p.opts.Cache.Get(ref); ok {
			return obj, nil
		}
	}
	obj, err := parse()
	if err != nil {
		return nil, err
	}
	if p.opts.Cache != nil {
		p.opts.Cache.Put(ref, obj)
	}
	return obj, nil
}

// parseDirect reads "id gen obj" at the entry offset. The outermost parse
// uses the session reader; nested ones (an indirect /Length) get their own
// so the outer token state survives.
func (p *Parser) parseDirect(id int, e xref.Entry) (raw.Object, error) {
	const op = "parse object"
	rd := p.reader
	if p.depth > 1 {
		rd = p.newReader()
	}
	if err := rd.Seek(e.Offset); err != nil {
		return nil, pdferr.AtObject(pdferr.Structural(op, e.Offset, err), id)
	}
	rd.SetRecoveryLocation(recovery.Location{ByteOffset: e.Offset, ObjectNum: id, ObjectGen: e.Gen, Component: "parser"})
	ref, err := rd.ReadIndirectHeader()
	if err != nil {
		return nil, pdferr.AtObject(pdferr.Structural(op, e.Offset, err), id)
	}
	if ref.Num != id || ref.Gen != e.Gen {
		return nil, pdferr.AtObject(pdferr.Structuralf(op, e.Offset, "declared as %d %d, expected %d %d", ref.Num, ref.Gen, id, e.Gen), id)
	}

	// the Encrypt dictionary itself is never encrypted
	if id == p.encryptID {
		p.decryption.PauseDecryption()
		defer p.decryption.ReleaseDecryption()
	}
	p.decryption.OnObjectStart(id, e.Gen)
	obj, err := p.readBody(rd)
	if err == nil {
		obj, err = p.decryptStrings(obj)
	}
	p.decryption.OnObjectEnd(obj)
	if err != nil {
		return nil, pdferr.AtObject(pdferr.Structural(op, e.Offset, err), id)
	}
	return obj, nil
}

// readBody reads the value after "obj"; an empty object is null.
func (p *Parser) readBody(rd *raw.Reader) (raw.Object, error) {
	tok, err := rd.Next()
	if err != nil {
		return nil, err
	}
	if tok.IsKeyword("endobj") {
		return raw.NullObj{}, nil
	}
	rd.Unread(tok)
	return rd.ReadValue()
}

// parseInObjectStream reads member e.Index of object stream e.Stream.
// Members are protected by the container's encryption, so decryption is
// paused while they are read.
func (p *Parser) parseInObjectStream(id int, e xref.Entry) (raw.Object, error) {
	const op = "parse object stream member"
	os, err := p.objectStream(e.Stream)
	if err != nil {
		return nil, pdferr.AtObject(err, id)
	}
	if e.Index < 0 || e.Index >= len(os.members) || os.members[e.Index].num != id {
		found := -1
		if e.Index >= 0 && e.Index < len(os.members) {
			found = os.members[e.Index].num
		}
		return nil, pdferr.AtObject(pdferr.Structuralf(op, -1, "object stream %d index %d holds object %d", e.Stream, e.Index, found), id)
	}
	off := os.first + os.members[e.Index].offset
	if off < 0 || off >= int64(len(os.data)) {
		return nil, pdferr.AtObject(pdferr.Structuralf(op, off, "member offset outside object stream %d", e.Stream), id)
	}

	rd := raw.NewReader(scanner.New(bytes.NewReader(os.data), p.scannerConfig()), nil)
	if err := rd.Seek(off); err != nil {
		return nil, pdferr.AtObject(pdferr.Structural(op, off, err), id)
	}
	p.decryption.PauseDecryption()
	p.decryption.OnObjectStart(id, 0)
	obj, err := rd.ReadValue()
	p.decryption.OnObjectEnd(obj)
	p.decryption.ReleaseDecryption()
	if err != nil {
		return nil, pdferr.AtObject(pdferr.Structural(op, off, err), id)
	}
	return obj, nil
}

// objectStream returns the decoded container num, reading and caching its
// header on first use.
func (p *Parser) objectStream(num int) (*objectStream, error) {
	const op = "read object stream"
	if os, ok := p.objStreams[num]; ok {
		return os, nil
	}
	obj, err := p.ParseNewObject(num)
	if err != nil {
		return nil, err
	}
	stm, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, pdferr.Structuralf(op, -1, "object %d is %s, not a stream", num, kindName(obj))
	}
	n, ok := raw.AsInt(p.QueryDictionaryObject(stm.Dict, "N"))
	if !ok || n < 0 {
		return nil, pdferr.Structuralf(op, -1, "object stream %d has no /N", num)
	}
	first, ok := raw.AsInt(p.QueryDictionaryObject(stm.Dict, "First"))
	if !ok || first < 0 {
		return nil, pdferr.Structuralf(op, -1, "object stream %d has no /First", num)
	}
	data, err := p.DecodeStream(context.Background(), stm)
	if err != nil {
		return nil, pdferr.Structural(op, -1, fmt.Errorf("object stream %d: %w", num, err))
	}

	rd := raw.NewReader(scanner.New(bytes.NewReader(data), p.scannerConfig()), nil)
	members := make([]objectStreamMember, 0, n)
	for i := int64(0); i < n; i++ {
		numObj, err := rd.ReadValue()
		if err != nil {
			return nil, pdferr.Structural(op, -1, fmt.Errorf("object stream %d header: %w", num, err))
		}
		offObj, err := rd.ReadValue()
		if err != nil {
			return nil, pdferr.Structural(op, -1, fmt.Errorf("object stream %d header: %w", num, err))
		}
		objNum, ok1 := raw.AsInt(numObj)
		objOff, ok2 := raw.AsInt(offObj)
		if !ok1 || !ok2 {
			return nil, pdferr.Structuralf(op, -1, "object stream %d header entry %d is not a pair of integers", num, i)
		}
		members = append(members, objectStreamMember{num: int(objNum), offset: objOff})
	}
	os := &objectStream{first: first, data: data, members: members}
	p.objStreams[num] = os
	p.log.Debug("object stream loaded", observability.Int("object", num), observability.Int("members", len(members)))
	return os, nil
}

// decryptStrings replaces every string in obj by its decryption under the
// key of the object being parsed.
func (p *Parser) decryptStrings(obj raw.Object) (raw.Object, error) {
	if !p.decryption.IsDecrypting() {
		return obj, nil
	}
	switch v := obj.(type) {
	case raw.StringObj:
		b, err := p.decryption.DecryptString(v.Bytes)
		if err != nil {
			return nil, err
		}
		return raw.Str(b), nil
	case raw.HexStringObj:
		b, err := p.decryption.DecryptString(v.Bytes)
		if err != nil {
			return nil, err
		}
		return raw.HexStr(b), nil
	case *raw.ArrayObj:
		for i, item := range v.Items {
			d, err := p.decryptStrings(item)
			if err != nil {
				return nil, err
			}
			v.Items[i] = d
		}
	case *raw.DictObj:
		for k, item := range v.KV {
			d, err := p.decryptStrings(item)
			if err != nil {
				return nil, err
			}
			v.KV[k] = d
		}
	case *raw.StreamObj:
		if _, err := p.decryptStrings(v.Dict); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// QueryDictionaryObject returns d[key], following a reference. Missing keys
// and dangling references read as nil.
func (p *Parser) QueryDictionaryObject(d *raw.DictObj, key string) raw.Object {
	v, ok := d.Get(key)
	if !ok {
		return nil
	}
	return p.follow(v)
}

// QueryArrayObject returns a[i], following a reference.
func (p *Parser) QueryArrayObject(a *raw.ArrayObj, i int) raw.Object {
	v, ok := a.Get(i)
	if !ok {
		return nil
	}
	return p.follow(v)
}

func (p *Parser) follow(v raw.Object) raw.Object {
	ref, ok := v.(raw.RefObj)
	if !ok {
		return v
	}
	obj, err := p.ParseNewObject(ref.R.Num)
	if err != nil {
		p.log.Debug("reference unresolved", observability.String("ref", ref.R.String()), observability.Error("error", err))
		return nil
	}
	return obj
}

// Resolve is follow for callers holding a value that may be a reference.
func (p *Parser) Resolve(v raw.Object) raw.Object {
	if v == nil {
		return nil
	}
	return p.follow(v)
}

func kindName(o raw.Object) string {
	if o == nil {
		return "nothing"
	}
	return o.Type().String()
}
