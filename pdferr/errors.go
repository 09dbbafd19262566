// Package pdferr classifies failures raised while reading or writing a document.
package pdferr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindStructural covers malformed syntax: bad header, missing startxref
	// or trailer, object number mismatch at an expected position.
	KindStructural Kind = iota + 1
	// KindReference covers dangling or mistyped indirect references.
	KindReference
	// KindEncryption covers unsupported handlers and failed authentication.
	KindEncryption
	// KindIO covers failures of the underlying byte source or sink.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindReference:
		return "reference"
	case KindEncryption:
		return "encryption"
	case KindIO:
		return "io"
	}
	return "unknown"
}

var (
	ErrStructural = errors.New("malformed document structure")
	ErrReference  = errors.New("unresolvable reference")
	ErrEncryption = errors.New("encryption not supported or not unlocked")
	ErrIO         = errors.New("i/o failure")
)

// Error carries the failing operation and, where known, the byte offset and
// object number involved.
type Error struct {
	Kind   Kind
	Op     string
	Offset int64 // -1 when unknown
	Object int   // 0 when not object-specific
	Err    error
}

func (e *Error) Error() string {
	var where string
	switch {
	case e.Object > 0 && e.Offset >= 0:
		where = fmt.Sprintf(" (object %d at offset %d)", e.Object, e.Offset)
	case e.Object > 0:
		where = fmt.Sprintf(" (object %d)", e.Object)
	case e.Offset >= 0:
		where = fmt.Sprintf(" (offset %d)", e.Offset)
	}
	if e.Err == nil {
		return fmt.Sprintf("pdf: %s%s: %s", e.Op, where, e.sentinel())
	}
	return fmt.Sprintf("pdf: %s%s: %v", e.Op, where, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind so callers can write
// errors.Is(err, pdferr.ErrStructural).
func (e *Error) Is(target error) bool { return target == e.sentinel() }

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindStructural:
		return ErrStructural
	case KindReference:
		return ErrReference
	case KindEncryption:
		return ErrEncryption
	case KindIO:
		return ErrIO
	}
	return nil
}

func newError(kind Kind, op string, offset int64, err error) error {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == kind && pe.Op == op {
		return err
	}
	return &Error{Kind: kind, Op: op, Offset: offset, Err: err}
}

// Structural reports malformed syntax at offset (-1 when unknown).
func Structural(op string, offset int64, err error) error {
	return newError(KindStructural, op, offset, err)
}

// Structuralf is Structural with a formatted cause.
func Structuralf(op string, offset int64, format string, args ...interface{}) error {
	return newError(KindStructural, op, offset, fmt.Errorf(format, args...))
}

// Reference reports an unresolvable reference to object num.
func Reference(op string, num int, err error) error {
	return &Error{Kind: KindReference, Op: op, Offset: -1, Object: num, Err: err}
}

func Encryption(op string, err error) error {
	return newError(KindEncryption, op, -1, err)
}

func IO(op string, offset int64, err error) error {
	return newError(KindIO, op, offset, err)
}

// AtObject returns a copy of err annotated with an object number when err is an *Error.
func AtObject(err error, num int) error {
	var pe *Error
	if !errors.As(err, &pe) {
		return err
	}
	cp := *pe
	cp.Object = num
	return &cp
}

// KindOf returns the kind of the outermost *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
