// Package parser opens a document for reading: it checks the header, folds
// the cross-reference chain, sets up decryption and lists the pages. Objects
// are then parsed on demand by number.
package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/wudi/pdfcore/filters"
	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/pdferr"
	"github.com/wudi/pdfcore/recovery"
	"github.com/wudi/pdfcore/scanner"
	"github.com/wudi/pdfcore/security"
	"github.com/wudi/pdfcore/xref"
)

// Options controls one parse session. The zero value parses strictly with
// an empty password and default limits.
type Options struct {
	Password string
	// Lenient accepts a header preceded by junk, searches backwards for
	// %%EOF, renumbers a first xref subsection that does not start at 0 and
	// rebuilds unreadable xref tables by scanning for objects.
	Lenient bool
	// DisableSegmentExtension ignores xref entries beyond the trailer /Size.
	DisableSegmentExtension bool
	Limits                  security.Limits
	Logger                  observability.Logger
	// Tracer receives a span per parse session, xref resolution and
	// stream decode.
	Tracer   observability.Tracer
	Recovery recovery.Strategy
	// Cache, when set, memoizes parsed objects by reference.
	Cache Cache
}

// Cache stores parsed objects for the lifetime of a session.
type Cache interface {
	Get(ref raw.ObjectRef) (raw.Object, bool)
	Put(ref raw.ObjectRef, obj raw.Object)
}

const pdfMagic = "%PDF-"

// headerWindow bounds the search for the header in lenient mode.
const headerWindow = 1024

// Parser is one read session over an immutable byte source. It is not safe
// for concurrent use.
type Parser struct {
	opts     Options
	limits   security.Limits
	log      observability.Logger
	tracer   observability.Tracer
	registry *filters.Registry

	src      io.ReaderAt
	level    float64
	resolver xref.Resolver
	table    *xref.Table
	trailer  *raw.DictObj

	reader     *raw.Reader
	depth      int
	objStreams map[int]*objectStream
	decryption *security.DecryptionHelper
	encryptID  int

	pageIDs []int
}

var _ security.ObjectSource = (*Parser)(nil)

func New() *Parser {
	p := &Parser{}
	p.Reset()
	return p
}

// Reset discards everything read in the current session.
func (p *Parser) Reset() {
	p.src = nil
	p.level = 0
	p.resolver, p.table, p.trailer = nil, nil, nil
	p.reader = nil
	p.depth = 0
	p.objStreams = make(map[int]*objectStream)
	p.encryptID = -1
	p.pageIDs = nil
	p.log = observability.OrNop(p.opts.Logger).With(observability.String("component", "parser"))
	p.tracer = observability.OrNopTracer(p.opts.Tracer)
	p.decryption = security.NewDecryptionHelper(p.opts.Logger)
	p.registry = filters.DefaultRegistry()
}

// StartParsing reads the header, the cross-reference chain and the page
// tree. On failure no part of the document is usable. A document whose
// encryption cannot be opened still parses, with zero pages.
func (p *Parser) StartParsing(ctx context.Context, src io.ReaderAt, opts Options) error {
	p.opts = opts
	p.Reset()
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanParse)
	defer span.Finish()
	if err := p.startParsing(ctx, src, opts); err != nil {
		span.SetError(err)
		return err
	}
	span.SetTag("objects", p.table.Size())
	span.SetTag("pages", len(p.pageIDs))
	return nil
}

func (p *Parser) startParsing(ctx context.Context, src io.ReaderAt, opts Options) error {
	p.limits = opts.Limits.WithDefaults()
	p.src = src

	level, err := p.parseHeader()
	if err != nil {
		p.log.Error("bad header", observability.Error("error", err))
		return err
	}
	p.level = level

	p.resolver = xref.NewResolver(xref.ResolverConfig{
		MaxXRefDepth:            p.limits.MaxXRefDepth,
		Recovery:                opts.Recovery,
		Lenient:                 opts.Lenient,
		DisableSegmentExtension: opts.DisableSegmentExtension,
		Filters:                 p.registry,
		Limits:                  p.filterLimits(),
		Logger:                  opts.Logger,
	})
	xctx, xspan := p.tracer.StartSpan(ctx, observability.SpanXRef)
	table, err := p.resolver.Resolve(xctx, src)
	if err != nil {
		xspan.SetError(err)
		xspan.Finish()
		p.log.Error("cross-reference resolution failed", observability.Error("error", err))
		return err
	}
	xspan.SetTag("repaired", p.resolver.Repaired())
	xspan.Finish()
	p.table = table
	p.trailer = p.resolver.Trailer()
	p.reader = p.newReader()
	if ref, ok := p.trailer.Ref("Encrypt"); ok {
		p.encryptID = ref.Num
	}

	p.decryption.Setup(p, opts.Password)
	if p.IsEncrypted() && !p.IsEncryptionSupported() {
		p.log.Warn("document encryption cannot be opened, pages not read",
			observability.Bool("supported", p.decryption.SupportsDecryption()),
			observability.Bool("bad_password", p.decryption.DidFailPasswordVerification()))
		return nil
	}
	if err := p.parsePageIDs(); err != nil {
		p.log.Error("page tree unreadable", observability.Error("error", err))
		return err
	}
	p.log.Debug("document opened",
		observability.Int("objects", p.table.Size()),
		observability.Int("pages", len(p.pageIDs)))
	return nil
}

// parseHeader returns the version from the %PDF-M.m line.
func (p *Parser) parseHeader() (float64, error) {
	const op = "read header"
	buf := make([]byte, headerWindow)
	n, err := p.src.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, pdferr.IO(op, 0, err)
	}
	buf = buf[:n]
	at := 0
	if !bytes.HasPrefix(buf, []byte(pdfMagic)) {
		at = bytes.Index(buf, []byte(pdfMagic))
		if at < 0 || !p.opts.Lenient {
			return 0, pdferr.Structuralf(op, 0, "file does not start with %q", pdfMagic)
		}
		p.log.Warn("header preceded by junk", observability.Int("offset", at))
	}
	rest := buf[at+len(pdfMagic):]
	end := 0
	for end < len(rest) && (rest[end] == '.' || rest[end] >= '0' && rest[end] <= '9') {
		end++
	}
	level, err := strconv.ParseFloat(string(rest[:end]), 64)
	if err != nil {
		return 0, pdferr.Structuralf(op, int64(at), "bad version %q", rest[:end])
	}
	return level, nil
}

func (p *Parser) filterLimits() filters.Limits {
	return filters.Limits{MaxDecompressedSize: p.limits.MaxDecompressedSize, MaxDecodeTime: p.limits.MaxDecodeTime}
}

func (p *Parser) scannerConfig() scanner.Config {
	return scanner.Config{
		Recovery:        p.opts.Recovery,
		MaxStringLength: p.limits.MaxStringLength,
		MaxArrayDepth:   p.limits.MaxNestingDepth,
		MaxDictDepth:    p.limits.MaxNestingDepth,
		MaxStreamLength: p.limits.MaxStreamLength,
	}
}

func (p *Parser) newReader() *raw.Reader {
	return raw.NewReader(scanner.New(p.src, p.scannerConfig()), p.lengthOf)
}

// lengthOf resolves an indirect stream /Length.
func (p *Parser) lengthOf(ref raw.ObjectRef) (int64, bool) {
	obj, err := p.ParseNewObject(ref.Num)
	if err != nil {
		p.log.Debug("stream length unresolved", observability.Int("object", ref.Num), observability.Error("error", err))
		return 0, false
	}
	return raw.AsInt(obj)
}

func (p *Parser) GetTrailer() *raw.DictObj { return p.trailer }

// PDFLevel is the version declared in the header.
func (p *Parser) PDFLevel() float64 { return p.level }

// Source is the byte source of the session.
func (p *Parser) Source() io.ReaderAt { return p.src }

// XrefPosition is the offset of the newest cross-reference section.
func (p *Parser) XrefPosition() int64 {
	if p.resolver == nil {
		return -1
	}
	return p.resolver.StartXRef()
}

// XrefSize is the number of slots in the merged table.
func (p *Parser) XrefSize() int {
	if p.table == nil {
		return 0
	}
	return p.table.Size()
}

// XrefEntry returns the merged entry of id; ok is false past the table end.
func (p *Parser) XrefEntry(id int) (xref.Entry, bool) {
	if p.table == nil || id < 0 || id >= p.table.Size() {
		return xref.Entry{}, false
	}
	return p.table.Entry(id), true
}

// XrefForm is the form of the newest section. A repaired table reads as
// FormClassic.
func (p *Parser) XrefForm() xref.Form {
	if p.resolver == nil {
		return xref.FormClassic
	}
	return p.resolver.Form()
}

// XrefSections lists the sections read, newest first.
func (p *Parser) XrefSections() []xref.Section {
	if p.resolver == nil {
		return nil
	}
	return p.resolver.Sections()
}

// Repaired reports that the cross-reference table was rebuilt by scanning.
func (p *Parser) Repaired() bool { return p.resolver != nil && p.resolver.Repaired() }

func (p *Parser) Decryption() *security.DecryptionHelper { return p.decryption }

func (p *Parser) IsEncrypted() bool { return p.decryption.IsEncrypted() }

// IsEncryptionSupported reports whether an encrypted document can be read.
func (p *Parser) IsEncryptionSupported() bool { return p.decryption.CanDecryptDocument() }

func (p *Parser) String() string {
	return fmt.Sprintf("parser(level=%.1f objects=%d pages=%d)", p.level, p.XrefSize(), len(p.pageIDs))
}
