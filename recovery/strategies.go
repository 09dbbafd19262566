package recovery

import (
	"fmt"

	"github.com/wudi/pdfcore/observability"
)

// StrictStrategy fails on every fault.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(ctx Context, err error, location Location) Action {
	return ActionFail
}

// LenientStrategy records every fault, logs it and lets the caller continue.
type LenientStrategy struct {
	Errors []error
	Logger observability.Logger
}

func NewLenientStrategy() *LenientStrategy {
	return &LenientStrategy{}
}

func (s *LenientStrategy) OnError(ctx Context, err error, location Location) Action {
	s.Errors = append(s.Errors, fmt.Errorf("[%s] offset %d: %w", location.Component, location.ByteOffset, err))
	if s.Logger != nil {
		s.Logger.Warn("recovered from malformed input",
			observability.String("component", location.Component),
			observability.Int64("offset", location.ByteOffset),
			observability.Int("object", location.ObjectNum),
			observability.Error("error", err))
	}
	return ActionWarn
}
