// Package raw holds the PDF object model: the closed set of value variants,
// safe accessors over them and the reader that builds them from tokens.
package raw

import "fmt"

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Kind tags each value variant.
type Kind int

const (
	KindNull Kind = iota
	KindBoolean
	KindInteger
	KindReal
	KindString
	KindHexString
	KindName
	KindArray
	KindDict
	KindRef
	KindStream
	KindSymbol
)

var kindNames = [...]string{
	KindNull:      "null",
	KindBoolean:   "boolean",
	KindInteger:   "integer",
	KindReal:      "real",
	KindString:    "string",
	KindHexString: "hexstring",
	KindName:      "name",
	KindArray:     "array",
	KindDict:      "dict",
	KindRef:       "ref",
	KindStream:    "stream",
	KindSymbol:    "symbol",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Object is implemented by every value variant in this package and by no
// other type.
type Object interface {
	Type() Kind
	IsIndirect() bool
	sealed()
}
