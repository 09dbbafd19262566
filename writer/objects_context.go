package writer

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/wudi/pdfcore/filters"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/pdferr"
	"github.com/wudi/pdfcore/security"
)

// positionWriter counts the bytes that reach w. The first write error
// sticks.
type positionWriter struct {
	w   io.Writer
	pos int64
	err error
}

func (p *positionWriter) Write(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	n, err := p.w.Write(b)
	p.pos += int64(n)
	p.err = err
	return n, err
}

// ObjectsContext writes indirect objects and cross-reference sections to
// the output. Strings and streams of an open object are encrypted with that
// object's key when encryption is on.
type ObjectsContext struct {
	out          *positionWriter
	registry     *Registry
	enc          *security.EncryptionHelper
	compress     bool
	interceptors []Interceptor
	log          observability.Logger

	current raw.ObjectRef
}

func newObjectsContext(out io.Writer, enc *security.EncryptionHelper, compress bool, interceptors []Interceptor, log observability.Logger) *ObjectsContext {
	return &ObjectsContext{
		out:          &positionWriter{w: out},
		registry:     NewRegistry(),
		enc:          enc,
		compress:     compress,
		interceptors: interceptors,
		log:          log,
	}
}

func (c *ObjectsContext) Registry() *Registry { return c.registry }

// CurrentPosition is the offset of the next byte written.
func (c *ObjectsContext) CurrentPosition() int64 { return c.out.pos }

func (c *ObjectsContext) writeString(s string) error {
	_, err := io.WriteString(c.out, s)
	if err != nil {
		return pdferr.IO("write output", c.out.pos, err)
	}
	return nil
}

func (c *ObjectsContext) writeBytes(b []byte) error {
	if _, err := c.out.Write(b); err != nil {
		return pdferr.IO("write output", c.out.pos, err)
	}
	return nil
}

// StartNewIndirectObject allocates a number and opens "n 0 obj".
func (c *ObjectsContext) StartNewIndirectObject() (int, error) {
	id := c.registry.AllocateNewObjectID()
	return id, c.StartNewIndirectObjectWithID(id)
}

// StartNewIndirectObjectWithID opens an object whose number was allocated
// earlier, for forward references.
func (c *ObjectsContext) StartNewIndirectObjectWithID(id int) error {
	if err := c.registry.MarkObjectAsWritten(id, c.out.pos); err != nil {
		return err
	}
	return c.openObject(id)
}

// StartModifiedIndirectObject opens a new version of an object of the base
// document, keeping its generation.
func (c *ObjectsContext) StartModifiedIndirectObject(id int) error {
	if err := c.registry.MarkObjectAsUpdated(id, c.out.pos); err != nil {
		return err
	}
	return c.openObject(id)
}

func (c *ObjectsContext) openObject(id int) error {
	info, _ := c.registry.GetObjectWriteInformation(id)
	c.current = raw.ObjectRef{Num: id, Gen: info.Gen}
	c.enc.OnObjectStart(id, info.Gen)
	return c.writeString(fmt.Sprintf("%d %d obj\n", id, info.Gen))
}

func (c *ObjectsContext) EndIndirectObject() error {
	c.enc.OnObjectEnd()
	c.current = raw.ObjectRef{}
	return c.writeString("\nendobj\n")
}

// WriteValue serializes obj into the open object.
func (c *ObjectsContext) WriteValue(obj raw.Object) error {
	var buf bytes.Buffer
	if err := c.serialize(&buf, obj); err != nil {
		return err
	}
	return c.writeBytes(buf.Bytes())
}

// writeIndirect writes obj as object id, started by start.
func (c *ObjectsContext) writeIndirect(id int, obj raw.Object, start func(int) error) error {
	for _, i := range c.interceptors {
		if err := i.BeforeWrite(id, obj); err != nil {
			return err
		}
	}
	at := c.out.pos
	if err := start(id); err != nil {
		return err
	}
	if err := c.WriteValue(obj); err != nil {
		c.enc.OnObjectEnd()
		return err
	}
	if err := c.EndIndirectObject(); err != nil {
		return err
	}
	for _, i := range c.interceptors {
		if err := i.AfterWrite(id, obj, c.out.pos-at); err != nil {
			return err
		}
	}
	return nil
}

// FormatObject renders obj in file syntax without encryption. Stream
// payloads are included as is.
func FormatObject(obj raw.Object) ([]byte, error) {
	enc := security.NewEncryptionHelper()
	enc.SetupNoEncryption()
	c := &ObjectsContext{enc: enc, log: observability.NopLogger{}}
	var buf bytes.Buffer
	if err := c.serialize(&buf, obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *ObjectsContext) serialize(buf *bytes.Buffer, obj raw.Object) error {
	switch v := obj.(type) {
	case nil, raw.NullObj:
		buf.WriteString("null")
	case raw.BoolObj:
		buf.WriteString(strconv.FormatBool(v.V))
	case raw.NumberObj:
		buf.WriteString(formatNumber(v))
	case raw.NameObj:
		buf.WriteString(nameLiteral(v.Val))
	case raw.SymbolObj:
		buf.WriteString(v.Val)
	case raw.StringObj:
		b, err := c.enc.EncryptString(v.Bytes)
		if err != nil {
			return pdferr.AtObject(pdferr.Encryption("encrypt string", err), c.current.Num)
		}
		buf.Write(escapeLiteralString(b))
	case raw.HexStringObj:
		b, err := c.enc.EncryptString(v.Bytes)
		if err != nil {
			return pdferr.AtObject(pdferr.Encryption("encrypt string", err), c.current.Num)
		}
		buf.WriteByte('<')
		buf.WriteString(hexUpper(b))
		buf.WriteByte('>')
	case raw.RefObj:
		fmt.Fprintf(buf, "%d %d R", v.R.Num, v.R.Gen)
	case *raw.ArrayObj:
		buf.WriteByte('[')
		for i, item := range v.Items {
			if i > 0 {
				buf.WriteByte(' ')
			}
			if err := c.serialize(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case *raw.DictObj:
		return c.serializeDict(buf, v)
	case *raw.StreamObj:
		return c.serializeStream(buf, v)
	default:
		return fmt.Errorf("cannot serialize %T", obj)
	}
	return nil
}

func (c *ObjectsContext) serializeDict(buf *bytes.Buffer, d *raw.DictObj) error {
	buf.WriteString("<<")
	keys := make([]string, 0, len(d.KV))
	for k := range d.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteString(nameLiteral(k))
		buf.WriteByte(' ')
		if err := c.serialize(buf, d.KV[k]); err != nil {
			return err
		}
	}
	buf.WriteString(">>")
	return nil
}

// serializeStream writes the payload encrypted with the stream engine.
// Cross-reference streams, and /Metadata streams of documents that keep
// metadata in clear, are written as is.
func (c *ObjectsContext) serializeStream(buf *bytes.Buffer, s *raw.StreamObj) error {
	dict := raw.Dict()
	if s.Dict != nil {
		dict = s.Dict.Clone()
	}
	typ, _ := dict.Name("Type")
	data := s.Data
	if c.compress && !dict.Has("Filter") && typ != "Metadata" && typ != "XRef" {
		z, err := filters.FlateEncode(data)
		if err != nil {
			return err
		}
		data = z
		dict.Set("Filter", raw.NameLiteral("FlateDecode"))
	}

	enc := data
	if typ != "XRef" && (typ != "Metadata" || c.enc.EncryptMetadata()) {
		var err error
		if enc, err = c.enc.EncryptStream(data); err != nil {
			return pdferr.AtObject(pdferr.Encryption("encrypt stream", err), c.current.Num)
		}
	}
	dict.Set("Length", raw.NumberInt(int64(len(enc))))
	if err := c.serializeDict(buf, dict); err != nil {
		return err
	}
	buf.WriteString("\nstream\n")
	buf.Write(enc)
	buf.WriteString("\nendstream")
	return nil
}

// WriteXrefTable writes a classic section covering the dirty slots and
// returns its offset. Free slots chain through slot 0.
func (c *ObjectsContext) WriteXrefTable() (int64, error) {
	at := c.out.pos
	var buf bytes.Buffer
	buf.WriteString("xref\n")
	for _, seg := range c.dirtySegments() {
		fmt.Fprintf(&buf, "%d %d\n", seg[0], seg[1])
		for id := seg[0]; id < seg[0]+seg[1]; id++ {
			e, _ := c.registry.GetObjectWriteInformation(id)
			if c.registry.listedFree(id) {
				c.warnUnwritten(id, e)
				fmt.Fprintf(&buf, "%010d %05d f\r\n", c.registry.nextFree(id), e.Gen)
				continue
			}
			fmt.Fprintf(&buf, "%010d %05d n\r\n", e.Position, e.Gen)
		}
	}
	return at, c.writeBytes(buf.Bytes())
}

// WriteXrefStream writes a cross-reference stream carrying trailer as its
// dictionary and returns its offset. The stream lists itself.
func (c *ObjectsContext) WriteXrefStream(trailer *raw.DictObj) (int64, error) {
	c.enc.PauseEncryption()
	defer c.enc.ReleaseEncryption()

	id := c.registry.AllocateNewObjectID()
	at := c.out.pos
	if err := c.registry.MarkObjectAsWritten(id, at); err != nil {
		return 0, err
	}

	segs := c.dirtySegments()
	var max int64
	for _, seg := range segs {
		for n := seg[0]; n < seg[0]+seg[1]; n++ {
			e, _ := c.registry.GetObjectWriteInformation(n)
			f := e.Position
			if c.registry.listedFree(n) {
				f = int64(c.registry.nextFree(n))
			}
			if f > max {
				max = f
			}
		}
	}
	width := offsetWidth(max)

	index := raw.NewArray()
	var rows []byte
	for _, seg := range segs {
		index.Append(raw.NumberInt(int64(seg[0])), raw.NumberInt(int64(seg[1])))
		for n := seg[0]; n < seg[0]+seg[1]; n++ {
			e, _ := c.registry.GetObjectWriteInformation(n)
			if c.registry.listedFree(n) {
				c.warnUnwritten(n, e)
				rows = appendXRefStreamEntry(rows, 0, int64(c.registry.nextFree(n)), width, e.Gen)
				continue
			}
			rows = appendXRefStreamEntry(rows, 1, e.Position, width, e.Gen)
		}
	}

	dict := trailer.Clone()
	dict.Set("Type", raw.NameLiteral("XRef"))
	dict.Set("Size", raw.NumberInt(int64(c.registry.Count())))
	dict.Set("W", raw.NewArray(raw.NumberInt(1), raw.NumberInt(int64(width)), raw.NumberInt(2)))
	dict.Set("Index", index)

	if err := c.openObject(id); err != nil {
		return 0, err
	}
	if err := c.WriteValue(raw.NewStream(dict, rows)); err != nil {
		return 0, err
	}
	return at, c.EndIndirectObject()
}

func (c *ObjectsContext) warnUnwritten(id int, e ObjectWriteInfo) {
	if e.Kind == RefUsed && !e.Written {
		c.log.Warn("object allocated but never written, listed as free", observability.Int("object", id))
	}
}

// dirtySegments groups dirty slots into [start, count] runs.
func (c *ObjectsContext) dirtySegments() [][2]int {
	var segs [][2]int
	for id := 0; id < c.registry.Count(); id++ {
		e, _ := c.registry.GetObjectWriteInformation(id)
		if !e.Dirty {
			continue
		}
		if n := len(segs); n > 0 && segs[n-1][0]+segs[n-1][1] == id {
			segs[n-1][1]++
			continue
		}
		segs = append(segs, [2]int{id, 1})
	}
	return segs
}

// offsetWidth is the byte count of the widest second field.
func offsetWidth(max int64) int {
	w := 1
	for max > 0xFF {
		max >>= 8
		w++
	}
	return w
}

func appendXRefStreamEntry(buf []byte, typ byte, field2 int64, width, gen int) []byte {
	buf = append(buf, typ)
	for i := width - 1; i >= 0; i-- {
		buf = append(buf, byte(field2>>(8*uint(i))))
	}
	return append(buf, byte(gen>>8), byte(gen))
}

func formatNumber(n raw.NumberObj) string {
	if n.IsInt {
		return strconv.FormatInt(n.I, 10)
	}
	if math.IsNaN(n.F) || math.IsInf(n.F, 0) {
		return "0.0"
	}
	// a real keeps its decimal point so it reads back as a real
	s := strconv.FormatFloat(n.F, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

func hexUpper(b []byte) string {
	return string(bytes.ToUpper([]byte(hex.EncodeToString(b))))
}

func escapeLiteralString(rawBytes []byte) []byte {
	var b bytes.Buffer
	b.WriteByte('(')
	for _, ch := range rawBytes {
		switch ch {
		case '\\', '(', ')':
			b.WriteByte('\\')
			b.WriteByte(ch)
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		case '\b':
			b.WriteString("\\b")
		case '\f':
			b.WriteString("\\f")
		default:
			if ch < 0x20 || ch >= 0x80 {
				fmt.Fprintf(&b, "\\%03o", ch)
			} else {
				b.WriteByte(ch)
			}
		}
	}
	b.WriteByte(')')
	return b.Bytes()
}

// nameLiteral writes /value with delimiters, whitespace, '#' and bytes
// outside printable ASCII as #xx.
func nameLiteral(value string) string {
	var b bytes.Buffer
	b.WriteByte('/')
	for i := 0; i < len(value); i++ {
		ch := value[i]
		switch {
		case ch < '!' || ch > '~', ch == '#', ch == '/', ch == '%',
			ch == '(', ch == ')', ch == '<', ch == '>', ch == '[', ch == ']', ch == '{', ch == '}':
			fmt.Fprintf(&b, "#%02X", ch)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}
