// Package recovery decides how tolerant the scanner and xref reader are of
// malformed input.
package recovery

// Strategy is consulted whenever a recoverable fault is found.
type Strategy interface {
	OnError(ctx Context, err error, location Location) Action
}

// Location pinpoints a fault in the input.
type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

func (a Action) String() string {
	switch a {
	case ActionFail:
		return "fail"
	case ActionSkip:
		return "skip"
	case ActionFix:
		return "fix"
	case ActionWarn:
		return "warn"
	}
	return "unknown"
}

type Context interface{ Done() <-chan struct{} }
