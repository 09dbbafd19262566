package parser

import (
	"bytes"
	"context"
	"io"

	"github.com/wudi/pdfcore/filters"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/security"
)

// ReadStreamData returns the payload of stm decrypted but still encoded,
// for copying a stream without re-encoding it.
func (p *Parser) ReadStreamData(stm *raw.StreamObj) ([]byte, error) {
	if f := p.defaultDecryption(stm); f != nil {
		return f(stm.Data)
	}
	return stm.Data, nil
}

// DecodeStream decrypts stm, then runs its filter chain. A /Crypt entry in
// the chain decrypts with the named crypt filter in place of the default
// decryption.
func (p *Parser) DecodeStream(ctx context.Context, stm *raw.StreamObj) ([]byte, error) {
	data, err := p.ReadStreamData(stm)
	if err != nil {
		return nil, err
	}
	names, params, err := filters.ExtractFilters(stm.Dict, p.Resolve)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return data, nil
	}
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanStreamDecode)
	defer span.Finish()
	span.SetTag("filters", names)
	reg := p.registry.With(filters.NewCryptDecoder(func(name string, in []byte) ([]byte, error) {
		return p.decryption.CreateDecryptionFilterForStream(stm, name)(in)
	}))
	out, err := filters.NewPipeline(reg, p.filterLimits()).Decode(ctx, data, names, params)
	if err != nil {
		span.SetError(err)
	}
	return out, err
}

// CreateInputStreamReader returns a reader over the decoded payload of stm.
func (p *Parser) CreateInputStreamReader(ctx context.Context, stm *raw.StreamObj) (io.Reader, error) {
	data, err := p.DecodeStream(ctx, stm)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

func (p *Parser) defaultDecryption(stm *raw.StreamObj) security.StreamFilter {
	if !p.IsEncrypted() || !p.IsEncryptionSupported() {
		return nil
	}
	return p.decryption.CreateDefaultDecryptionFilterForStream(stm)
}
