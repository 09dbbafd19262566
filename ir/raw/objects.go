package raw

import "sort"

type NameObj struct{ Val string }

func (n NameObj) Type() Kind       { return KindName }
func (n NameObj) IsIndirect() bool { return false }
func (n NameObj) Value() string    { return n.Val }
func (NameObj) sealed()            {}

// NumberObj is an integer when IsInt is set and a real otherwise.
type NumberObj struct {
	I     int64
	F     float64
	IsInt bool
}

func (n NumberObj) Type() Kind {
	if n.IsInt {
		return KindInteger
	}
	return KindReal
}
func (n NumberObj) IsIndirect() bool { return false }
func (n NumberObj) Int() int64 {
	if n.IsInt {
		return n.I
	}
	return int64(n.F)
}
func (n NumberObj) Float() float64 {
	if n.IsInt {
		return float64(n.I)
	}
	return n.F
}
func (n NumberObj) IsInteger() bool { return n.IsInt }
func (NumberObj) sealed()           {}

type BoolObj struct{ V bool }

func (b BoolObj) Type() Kind       { return KindBoolean }
func (b BoolObj) IsIndirect() bool { return false }
func (b BoolObj) Value() bool      { return b.V }
func (BoolObj) sealed()            {}

type NullObj struct{}

func (n NullObj) Type() Kind       { return KindNull }
func (n NullObj) IsIndirect() bool { return false }
func (NullObj) sealed()            {}

// StringObj is a literal string: (...).
type StringObj struct{ Bytes []byte }

func (s StringObj) Type() Kind       { return KindString }
func (s StringObj) IsIndirect() bool { return false }
func (s StringObj) Value() []byte    { return s.Bytes }
func (StringObj) sealed()            {}

// HexStringObj is a hexadecimal string: <...>.
type HexStringObj struct{ Bytes []byte }

func (s HexStringObj) Type() Kind       { return KindHexString }
func (s HexStringObj) IsIndirect() bool { return false }
func (s HexStringObj) Value() []byte    { return s.Bytes }
func (HexStringObj) sealed()            {}

// SymbolObj is a bare keyword in value position.
type SymbolObj struct{ Val string }

func (s SymbolObj) Type() Kind       { return KindSymbol }
func (s SymbolObj) IsIndirect() bool { return false }
func (s SymbolObj) Value() string    { return s.Val }
func (SymbolObj) sealed()            {}

type ArrayObj struct{ Items []Object }

func (a *ArrayObj) Type() Kind       { return KindArray }
func (a *ArrayObj) IsIndirect() bool { return false }
func (*ArrayObj) sealed()            {}
func (a *ArrayObj) Get(i int) (Object, bool) {
	if a == nil || i < 0 || i >= len(a.Items) {
		return nil, false
	}
	return a.Items[i], true
}
func (a *ArrayObj) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Items)
}
func (a *ArrayObj) Append(o ...Object) { a.Items = append(a.Items, o...) }

// DictObj keys are unique names stored without the leading slash.
type DictObj struct{ KV map[string]Object }

func (d *DictObj) Type() Kind       { return KindDict }
func (d *DictObj) IsIndirect() bool { return false }
func (*DictObj) sealed()            {}

func (d *DictObj) Get(key string) (Object, bool) {
	if d == nil {
		return nil, false
	}
	o, ok := d.KV[key]
	return o, ok
}

func (d *DictObj) Set(key string, value Object) {
	if d.KV == nil {
		d.KV = make(map[string]Object)
	}
	d.KV[key] = value
}

func (d *DictObj) Delete(key string) { delete(d.KV, key) }

func (d *DictObj) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Keys returns the keys in sorted order.
func (d *DictObj) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, 0, len(d.KV))
	for k := range d.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d *DictObj) Len() int {
	if d == nil {
		return 0
	}
	return len(d.KV)
}

// Clone returns a shallow copy.
func (d *DictObj) Clone() *DictObj {
	out := Dict()
	if d != nil {
		for k, v := range d.KV {
			out.KV[k] = v
		}
	}
	return out
}

func (d *DictObj) Name(key string) (string, bool) {
	o, _ := d.Get(key)
	return AsName(o)
}

func (d *DictObj) Int(key string) (int64, bool) {
	o, _ := d.Get(key)
	return AsInt(o)
}

func (d *DictObj) Bool(key string) (bool, bool) {
	o, _ := d.Get(key)
	return AsBool(o)
}

func (d *DictObj) Bytes(key string) ([]byte, bool) {
	o, _ := d.Get(key)
	return AsString(o)
}

func (d *DictObj) Array(key string) (*ArrayObj, bool) {
	o, _ := d.Get(key)
	return AsArray(o)
}

func (d *DictObj) Dict(key string) (*DictObj, bool) {
	o, _ := d.Get(key)
	return AsDict(o)
}

func (d *DictObj) Ref(key string) (ObjectRef, bool) {
	o, _ := d.Get(key)
	return AsRef(o)
}

// StreamObj pairs a dictionary with its still-encoded payload.
type StreamObj struct {
	Dict *DictObj
	Data []byte
}

func (s *StreamObj) Type() Kind           { return KindStream }
func (s *StreamObj) IsIndirect() bool     { return false }
func (*StreamObj) sealed()                {}
func (s *StreamObj) Dictionary() *DictObj { return s.Dict }
func (s *StreamObj) RawData() []byte      { return s.Data }
func (s *StreamObj) Length() int64        { return int64(len(s.Data)) }

type RefObj struct{ R ObjectRef }

func (r RefObj) Type() Kind       { return KindRef }
func (r RefObj) IsIndirect() bool { return true }
func (r RefObj) Ref() ObjectRef   { return r.R }
func (RefObj) sealed()            {}

func NameLiteral(v string) NameObj    { return NameObj{Val: v} }
func NumberInt(i int64) NumberObj     { return NumberObj{I: i, IsInt: true} }
func NumberFloat(f float64) NumberObj { return NumberObj{F: f} }
func Bool(v bool) BoolObj             { return BoolObj{V: v} }
func Str(b []byte) StringObj          { return StringObj{Bytes: b} }
func HexStr(b []byte) HexStringObj    { return HexStringObj{Bytes: b} }
func Symbol(v string) SymbolObj       { return SymbolObj{Val: v} }
func NewArray(items ...Object) *ArrayObj {
	return &ArrayObj{Items: items}
}
func Dict() *DictObj { return &DictObj{KV: make(map[string]Object)} }
func NewStream(dict *DictObj, data []byte) *StreamObj {
	if dict == nil {
		dict = Dict()
	}
	return &StreamObj{Dict: dict, Data: data}
}
func Ref(num, gen int) RefObj { return RefObj{R: ObjectRef{Num: num, Gen: gen}} }
