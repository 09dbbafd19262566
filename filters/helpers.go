package filters

import (
	"fmt"

	"github.com/wudi/pdfcore/ir/raw"
)

// Resolver dereferences indirect values found in Filter and DecodeParms.
type Resolver func(raw.Object) raw.Object

// ExtractFilters reads Filter and DecodeParms from a stream dictionary.
// Filter must be a name or an array of names; DecodeParms entries are
// matched to filters by index.
func ExtractFilters(dict *raw.DictObj, resolve Resolver) ([]string, []*raw.DictObj, error) {
	if resolve == nil {
		resolve = func(o raw.Object) raw.Object { return o }
	}
	filterObj, ok := dict.Get("Filter")
	if !ok {
		return nil, nil, nil
	}
	filterObj = resolve(filterObj)

	var names []string
	switch f := filterObj.(type) {
	case raw.NameObj:
		names = []string{f.Val}
	case *raw.ArrayObj:
		for i, item := range f.Items {
			n, ok := raw.AsName(resolve(item))
			if !ok {
				return nil, nil, fmt.Errorf("Filter[%d] is %s, not a name", i, kindOf(item))
			}
			names = append(names, n)
		}
	case raw.NullObj:
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("Filter is %s, not a name or array", kindOf(filterObj))
	}

	params := make([]*raw.DictObj, len(names))
	pObj, ok := dict.Get("DecodeParms")
	if !ok {
		return names, params, nil
	}
	switch p := resolve(pObj).(type) {
	case *raw.DictObj:
		params[0] = p
	case *raw.ArrayObj:
		for i := 0; i < len(p.Items) && i < len(names); i++ {
			if d, ok := raw.AsDict(resolve(p.Items[i])); ok {
				params[i] = d
			}
		}
	}
	return names, params, nil
}

func kindOf(o raw.Object) string {
	if o == nil {
		return "missing"
	}
	return o.Type().String()
}

// HasFilter reports whether name appears in the stream's filter chain.
func HasFilter(dict *raw.DictObj, name string, resolve Resolver) bool {
	names, _, err := ExtractFilters(dict, resolve)
	if err != nil {
		return false
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func intParam(params *raw.DictObj, key string, def int) int {
	if params == nil {
		return def
	}
	if v, ok := params.Int(key); ok {
		return int(v)
	}
	return def
}
