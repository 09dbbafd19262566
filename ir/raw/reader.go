package raw

import (
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfcore/recovery"
	"github.com/wudi/pdfcore/scanner"
)

// LengthResolver returns the integer value of an indirect stream /Length.
// It may move the underlying scanner; Reader restores the position.
type LengthResolver func(ref ObjectRef) (int64, bool)

// Reader builds Objects from a token stream. It is shared by the xref
// reader, the object loader and the object-stream decoder.
type Reader struct {
	s             scanner.Scanner
	buf           []scanner.Token
	resolveLength LengthResolver
	maxDepth      int
}

func NewReader(s scanner.Scanner, resolve LengthResolver) *Reader {
	return &Reader{s: s, resolveLength: resolve, maxDepth: 512}
}

// Scanner exposes the underlying scanner.
func (r *Reader) Scanner() scanner.Scanner { return r.s }

// Seek repositions the reader and drops any pushed-back tokens.
func (r *Reader) Seek(offset int64) error {
	r.buf = r.buf[:0]
	return r.s.Seek(offset)
}

// Position returns the offset of the next token to be read.
func (r *Reader) Position() int64 {
	if l := len(r.buf); l > 0 {
		return r.buf[l-1].Pos
	}
	return r.s.Position()
}

func (r *Reader) Next() (scanner.Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

func (r *Reader) Unread(tok scanner.Token) { r.buf = append(r.buf, tok) }

// SetRecoveryLocation forwards object context to a recovery-aware scanner.
func (r *Reader) SetRecoveryLocation(loc recovery.Location) {
	if rc, ok := r.s.(interface{ SetRecoveryLocation(recovery.Location) }); ok {
		rc.SetRecoveryLocation(loc)
	}
}

// ReadIndirectHeader consumes "num gen obj".
func (r *Reader) ReadIndirectHeader() (ObjectRef, error) {
	numTok, err := r.Next()
	if err != nil {
		return ObjectRef{}, err
	}
	if numTok.Type != scanner.TokenNumber || !numTok.IsInt {
		return ObjectRef{}, fmt.Errorf("expected object number at %d, got %s", numTok.Pos, numTok.Type)
	}
	genTok, err := r.Next()
	if err != nil {
		return ObjectRef{}, err
	}
	if genTok.Type != scanner.TokenNumber || !genTok.IsInt {
		return ObjectRef{}, fmt.Errorf("expected generation number at %d, got %s", genTok.Pos, genTok.Type)
	}
	kw, err := r.Next()
	if err != nil {
		return ObjectRef{}, err
	}
	if !kw.IsKeyword("obj") {
		return ObjectRef{}, fmt.Errorf("expected obj keyword at %d, got %s %q", kw.Pos, kw.Type, kw.Str)
	}
	return ObjectRef{Num: int(numTok.Int), Gen: int(genTok.Int)}, nil
}

// ReadIndirectObject consumes "num gen obj <value> endobj". A missing endobj
// is tolerated.
func (r *Reader) ReadIndirectObject() (ObjectRef, Object, error) {
	ref, err := r.ReadIndirectHeader()
	if err != nil {
		return ObjectRef{}, nil, err
	}
	tok, err := r.Next()
	if err != nil {
		return ref, nil, err
	}
	if tok.IsKeyword("endobj") {
		return ref, NullObj{}, nil
	}
	r.Unread(tok)
	obj, err := r.ReadValue()
	if err != nil {
		return ref, nil, fmt.Errorf("object %d %d: %w", ref.Num, ref.Gen, err)
	}
	if tok, err := r.Next(); err == nil && !tok.IsKeyword("endobj") {
		r.Unread(tok)
	}
	return ref, obj, nil
}

// ReadValue reads one value. A dictionary directly followed by a stream
// payload is returned as a *StreamObj.
func (r *Reader) ReadValue() (Object, error) {
	obj, err := r.readValue(0)
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(*DictObj)
	if !ok {
		return obj, nil
	}
	r.s.SetNextStreamLength(r.streamLength(dict))
	tok, err := r.Next()
	if err != nil {
		r.s.SetNextStreamLength(-1)
		if errors.Is(err, io.EOF) {
			return dict, nil
		}
		return nil, err
	}
	if tok.Type != scanner.TokenStream {
		r.s.SetNextStreamLength(-1)
		r.Unread(tok)
		return dict, nil
	}
	return NewStream(dict, tok.Bytes), nil
}

// streamLength reads /Length from dict, resolving a reference through the
// configured resolver. -1 asks the scanner to search for endstream.
func (r *Reader) streamLength(dict *DictObj) int64 {
	if len(r.buf) > 0 {
		return -1
	}
	v, ok := dict.Get("Length")
	if !ok {
		return -1
	}
	if n, ok := AsInt(v); ok && n >= 0 {
		return n
	}
	ref, ok := AsRef(v)
	if !ok || r.resolveLength == nil {
		return -1
	}
	pos := r.s.Position()
	n, ok := r.resolveLength(ref)
	if err := r.s.Seek(pos); err != nil || !ok || n < 0 {
		return -1
	}
	return n
}

func (r *Reader) readValue(depth int) (Object, error) {
	if depth > r.maxDepth {
		return nil, fmt.Errorf("nesting deeper than %d", r.maxDepth)
	}
	tok, err := r.Next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenName:
		return NameObj{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return NumberInt(tok.Int), nil
		}
		return NumberFloat(tok.Float), nil
	case scanner.TokenBoolean:
		return BoolObj{V: tok.Bool}, nil
	case scanner.TokenNull:
		return NullObj{}, nil
	case scanner.TokenString:
		if tok.Hex {
			return HexStringObj{Bytes: tok.Bytes}, nil
		}
		return StringObj{Bytes: tok.Bytes}, nil
	case scanner.TokenRef:
		return RefObj{R: ObjectRef{Num: int(tok.Int), Gen: tok.Gen}}, nil
	case scanner.TokenArray:
		return r.readArray(depth)
	case scanner.TokenDict:
		return r.readDict(depth)
	case scanner.TokenKeyword:
		switch tok.Str {
		case "]", ">>", ">", "obj", "endobj", "endstream", "R":
			return nil, fmt.Errorf("unexpected %q at %d", tok.Str, tok.Pos)
		}
		return SymbolObj{Val: tok.Str}, nil
	}
	return nil, fmt.Errorf("unexpected %s token at %d", tok.Type, tok.Pos)
}

func (r *Reader) readArray(depth int) (Object, error) {
	arr := &ArrayObj{}
	for {
		tok, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("unterminated array: %w", err)
		}
		if tok.IsKeyword("]") {
			return arr, nil
		}
		r.Unread(tok)
		item, err := r.readValue(depth + 1)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func (r *Reader) readDict(depth int) (Object, error) {
	d := Dict()
	for {
		tok, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("unterminated dictionary: %w", err)
		}
		if tok.IsKeyword(">>") {
			return d, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("expected name key in dictionary at %d, got %s", tok.Pos, tok.Type)
		}
		val, err := r.readValue(depth + 1)
		if err != nil {
			return nil, fmt.Errorf("/%s: %w", tok.Str, err)
		}
		d.Set(tok.Str, val)
	}
}
