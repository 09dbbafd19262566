package raw

import "bytes"

// The As* accessors never panic: a nil Object or a different variant yields
// the zero value and false.

func AsName(o Object) (string, bool) {
	n, ok := o.(NameObj)
	return n.Val, ok
}

// AsInt accepts integers only.
func AsInt(o Object) (int64, bool) {
	n, ok := o.(NumberObj)
	if !ok || !n.IsInt {
		return 0, false
	}
	return n.I, true
}

// AsNumber accepts integers and reals.
func AsNumber(o Object) (float64, bool) {
	n, ok := o.(NumberObj)
	if !ok {
		return 0, false
	}
	return n.Float(), true
}

func AsBool(o Object) (bool, bool) {
	b, ok := o.(BoolObj)
	return b.V, ok
}

// AsString accepts literal and hex strings.
func AsString(o Object) ([]byte, bool) {
	switch s := o.(type) {
	case StringObj:
		return s.Bytes, true
	case HexStringObj:
		return s.Bytes, true
	}
	return nil, false
}

func AsArray(o Object) (*ArrayObj, bool) {
	a, ok := o.(*ArrayObj)
	return a, ok && a != nil
}

func AsDict(o Object) (*DictObj, bool) {
	d, ok := o.(*DictObj)
	return d, ok && d != nil
}

func AsStream(o Object) (*StreamObj, bool) {
	s, ok := o.(*StreamObj)
	return s, ok && s != nil
}

func AsRef(o Object) (ObjectRef, bool) {
	r, ok := o.(RefObj)
	return r.R, ok
}

func AsSymbol(o Object) (string, bool) {
	s, ok := o.(SymbolObj)
	return s.Val, ok
}

// IsNull reports whether o is absent or the null object.
func IsNull(o Object) bool {
	if o == nil {
		return true
	}
	_, ok := o.(NullObj)
	return ok
}

// Equal reports whether a and b are the same variant with equal contents.
// References compare by identity, not by what they point at.
func Equal(a, b Object) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	if a.Type() != b.Type() {
		return false
	}
	switch av := a.(type) {
	case NameObj:
		return av.Val == b.(NameObj).Val
	case NumberObj:
		bv := b.(NumberObj)
		if av.IsInt {
			return av.I == bv.I
		}
		return av.F == bv.F
	case BoolObj:
		return av.V == b.(BoolObj).V
	case StringObj:
		return bytes.Equal(av.Bytes, b.(StringObj).Bytes)
	case HexStringObj:
		return bytes.Equal(av.Bytes, b.(HexStringObj).Bytes)
	case SymbolObj:
		return av.Val == b.(SymbolObj).Val
	case RefObj:
		return av.R == b.(RefObj).R
	case *ArrayObj:
		bv := b.(*ArrayObj)
		if av.Len() != bv.Len() {
			return false
		}
		for i := range av.Items {
			if !Equal(av.Items[i], bv.Items[i]) {
				return false
			}
		}
		return true
	case *DictObj:
		return equalDict(av, b.(*DictObj))
	case *StreamObj:
		bv := b.(*StreamObj)
		return equalDict(av.Dict, bv.Dict) && bytes.Equal(av.Data, bv.Data)
	}
	return false
}

func equalDict(a, b *DictObj) bool {
	if a == nil || b == nil {
		return a.Len() == 0 && b.Len() == 0
	}
	if a.Len() != b.Len() {
		return false
	}
	for k, v := range a.KV {
		w, ok := b.KV[k]
		if !ok || !Equal(v, w) {
			return false
		}
	}
	return true
}
