// Package filters decodes and encodes stream payloads by filter name.
package filters

import (
	"context"
	"fmt"
	"time"

	"github.com/wudi/pdfcore/ir/raw"
)

type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params *raw.DictObj) ([]byte, error)
}

type Limits struct {
	MaxDecompressedSize int64
	MaxDecodeTime       time.Duration
}

// UnsupportedError reports a filter name with no registered decoder.
type UnsupportedError struct{ Filter string }

func (e UnsupportedError) Error() string { return "unsupported filter: " + e.Filter }

// LimitError reports output that grew past Limits.MaxDecompressedSize.
type LimitError struct {
	Filter string
	Limit  int64
}

func (e LimitError) Error() string {
	return fmt.Sprintf("%s: decoded size exceeds limit of %d bytes", e.Filter, e.Limit)
}

// Registry maps filter names to decoders. Each parse session owns its own.
type Registry struct{ decoders map[string]Decoder }

func NewRegistry(decoders ...Decoder) *Registry {
	r := &Registry{decoders: make(map[string]Decoder, len(decoders))}
	for _, d := range decoders {
		r.Register(d)
	}
	return r
}

// DefaultRegistry returns a registry holding every built-in decoder except
// Crypt, which needs a decryption callback.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewFlateDecoder(),
		NewLZWDecoder(),
		NewASCIIHexDecoder(),
		NewASCII85Decoder(),
		NewDCTDecoder(),
	)
}

func (r *Registry) Register(d Decoder) {
	if r.decoders == nil {
		r.decoders = make(map[string]Decoder)
	}
	r.decoders[d.Name()] = d
}

func (r *Registry) Get(name string) (Decoder, bool) {
	d, ok := r.decoders[name]
	return d, ok
}

// With returns a copy of r with extra decoders registered on top.
func (r *Registry) With(decoders ...Decoder) *Registry {
	out := &Registry{decoders: make(map[string]Decoder, len(r.decoders)+len(decoders))}
	for k, v := range r.decoders {
		out.decoders[k] = v
	}
	for _, d := range decoders {
		out.Register(d)
	}
	return out
}

type Pipeline struct {
	registry *Registry
	limits   Limits
}

func NewPipeline(registry *Registry, limits Limits) *Pipeline {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Pipeline{registry: registry, limits: limits}
}

// Decode applies filterNames in order; params[i] belongs to filterNames[i]
// and may be nil.
func (p *Pipeline) Decode(ctx context.Context, input []byte, filterNames []string, params []*raw.DictObj) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if p.limits.MaxDecodeTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.limits.MaxDecodeTime)
		defer cancel()
	}
	ctx = withLimit(ctx, p.limits.MaxDecompressedSize)
	data := input
	for i, name := range filterNames {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		dec, ok := p.registry.Get(name)
		if !ok {
			return nil, UnsupportedError{Filter: name}
		}
		var param *raw.DictObj
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(ctx, data, param)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, LimitError{Filter: name, Limit: p.limits.MaxDecompressedSize}
		}
		data = out
	}
	return data, nil
}

type limitKey struct{}

func withLimit(ctx context.Context, n int64) context.Context {
	if n <= 0 {
		return ctx
	}
	return context.WithValue(ctx, limitKey{}, n)
}

// outputLimit returns the decompressed size cap carried by ctx, or 0.
func outputLimit(ctx context.Context) int64 {
	if ctx == nil {
		return 0
	}
	n, _ := ctx.Value(limitKey{}).(int64)
	return n
}
