// Package xref locates and merges the cross-reference sections of a
// document: classic tables, cross-reference streams and hybrid files, with
// their Prev chains folded newest first.
package xref

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
)

// Form tells whether a section was written as a table or as a stream.
type Form int

const (
	FormClassic Form = iota
	FormStream
)

func (f Form) String() string {
	if f == FormStream {
		return "xref-stream"
	}
	return "table"
}

// Record is one entry as read from a section.
type Record struct {
	ID int
	Entry
}

// Section is one cross-reference section and the dictionary that closes it.
type Section struct {
	Offset  int64
	Form    Form
	Trailer *raw.DictObj
	Entries []Record
	Prev    int64 // -1 when absent
	XRefStm int64 // hybrid files only; -1 when absent
}

func (s *Section) maxID() int {
	max := -1
	for _, rec := range s.Entries {
		if rec.ID > max {
			max = rec.ID
		}
	}
	return max
}

type Resolver interface {
	Resolve(ctx context.Context, r io.ReaderAt) (*Table, error)
	// Trailer is the newest trailer (or xref stream dictionary).
	Trailer() *raw.DictObj
	// StartXRef is the offset named by the final startxref.
	StartXRef() int64
	// Sections lists the sections in the order they were read, newest first.
	Sections() []Section
	// Form is the form of the newest section.
	Form() Form
	// Repaired reports that the table was rebuilt by scanning the file.
	Repaired() bool
}

type ResolverConfig struct {
	MaxXRefDepth int
	Recovery     recovery.Strategy
	// Lenient enables repair of unreadable tables, the backward %%EOF search
	// and renumbering of a first subsection that does not start at 0.
	Lenient bool
	// DisableSegmentExtension drops entries beyond the trailer /Size instead
	// of growing the table to hold them.
	DisableSegmentExtension bool
	Filters                 *filters.Registry
	Limits                  filters.Limits
	Logger                  observability.Logger
}

func NewResolver(cfg ResolverConfig) Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = 64
	}
	reg := cfg.Filters
	if reg == nil {
		reg = filters.DefaultRegistry()
	}
	return &resolver{cfg: cfg, registry: reg, log: observability.OrNop(cfg.Logger).With(observability.String("component", "xref"))}
}

type resolver struct {
	cfg      ResolverConfig
	registry *filters.Registry
	log      observability.Logger

	cursor    *cursor
	reader    *raw.Reader
	size      int64
	sections  []Section
	trailer   *raw.DictObj
	startxref int64
	repaired  bool
}

func (r *resolver) Trailer() *raw.DictObj { return r.trailer }
func (r *resolver) StartXRef() int64      { return r.startxref }
func (r *resolver) Sections() []Section   { return r.sections }
func (r *resolver) Repaired() bool        { return r.repaired }

func (r *resolver) Form() Form {
	if len(r.sections) == 0 {
		return FormClassic
	}
	return r.sections[0].Form
}

func (r *resolver) Resolve(ctx context.Context, src io.ReaderAt) (*Table, error) {
	r.size = sizeOf(src)
	r.cursor = newCursor(src, r.size)
	r.reader = raw.NewReader(scanner.New(src, scanner.Config{Recovery: r.cfg.Recovery}), nil)
	r.sections, r.trailer, r.startxref, r.repaired = nil, nil, -1, false

	table, err := r.resolveChain(ctx)
	if err == nil {
		return table, nil
	}
	if ctx.Err() != nil || !r.canRepair(ctx, err) {
		return nil, err
	}
	r.log.Warn("rebuilding cross-reference table", observability.Error("error", err))
	return r.repair(ctx)
}

func (r *resolver) canRepair(ctx context.Context, err error) bool {
	if r.cfg.Lenient {
		return true
	}
	if r.cfg.Recovery == nil {
		return false
	}
	return r.cfg.Recovery.OnError(ctx, err, recovery.Location{ByteOffset: -1, Component: "xref"}) != recovery.ActionFail
}

func (r *resolver) resolveChain(ctx context.Context) (*Table, error) {
	start, err := r.findStartXRef()
	if err != nil {
		return nil, err
	}
	r.startxref = start

	seen := make(map[int64]bool)
	for off := start; off >= 0; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if seen[off] {
			return nil, pdferr.Structuralf("read xref chain", off, "Prev loop")
		}
		if len(seen) >= r.cfg.MaxXRefDepth {
			return nil, pdferr.Structuralf("read xref chain", off, "more than %d sections", r.cfg.MaxXRefDepth)
		}
		seen[off] = true
		sec, err := r.readSection(ctx, off)
		if err != nil {
			return nil, err
		}
		r.sections = append(r.sections, *sec)
		if sec.XRefStm >= 0 {
			hybrid, err := r.readStream(ctx, sec.XRefStm)
			if err != nil {
				return nil, err
			}
			hybrid.Prev = -1
			r.sections = append(r.sections, *hybrid)
		}
		off = sec.Prev
	}

	r.trailer = r.sections[0].Trailer
	return r.fold()
}

// readSection dispatches on what starts at off.
func (r *resolver) readSection(ctx context.Context, off int64) (*Section, error) {
	if off >= r.size {
		return nil, pdferr.Structuralf("read xref chain", off, "offset beyond end of file (%d)", r.size)
	}
	r.cursor.pos = off
	r.cursor.skipSpace()
	if r.cursor.hasPrefix("xref") {
		return r.readClassic(ctx, off)
	}
	return r.readStream(ctx, off)
}

// fold merges the sections newest first. The table starts at the newest
// /Size; older sections only fill slots that are still undefined.
func (r *resolver) fold() (*Table, error) {
	size, ok := r.trailer.Int("Size")
	if !ok || size < 0 {
		return nil, pdferr.Structuralf("read trailer", r.sections[0].Offset, "missing or invalid /Size")
	}
	table := NewTable(int(size))
	extend := !r.cfg.DisableSegmentExtension
	for i := range r.sections {
		if dropped := table.merge(&r.sections[i], extend); dropped > 0 {
			r.log.Warn("dropped entries beyond /Size",
				observability.Int64("offset", r.sections[i].Offset),
				observability.Int("count", dropped))
		}
	}
	return table, nil
}

const tailWindow = 4096

// findStartXRef reads the end of the file: the last line must be %%EOF and
// the startxref keyword before it names the newest section.
func (r *resolver) findStartXRef() (int64, error) {
	const op = "find startxref"
	from := r.size - tailWindow
	if from < 0 {
		from = 0
	}
	tail := make([]byte, r.size-from)
	if n, err := r.cursor.r.ReadAt(tail, from); n < len(tail) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return 0, pdferr.IO(op, from, err)
	}

	end := len(tail)
	for end > 0 && isSpace(tail[end-1]) {
		end--
	}
	lineStart := bytes.LastIndexAny(tail[:end], "\r\n") + 1
	eof := lineStart
	if !bytes.HasPrefix(tail[lineStart:end], []byte("%%EOF")) {
		if !r.cfg.Lenient {
			return 0, pdferr.Structuralf(op, from+int64(lineStart), "file does not end with %%%%EOF")
		}
		eof = bytes.LastIndex(tail[:end], []byte("%%EOF"))
		if eof < 0 {
			return 0, pdferr.Structuralf(op, -1, "no %%%%EOF marker")
		}
		r.log.Warn("data after %%EOF ignored", observability.Int64("offset", from+int64(eof)))
	}

	kw := bytes.LastIndex(tail[:eof], []byte("startxref"))
	if kw < 0 {
		return 0, pdferr.Structuralf(op, -1, "startxref not found")
	}
	rest := bytes.TrimLeft(tail[kw+len("startxref"):eof], " \t\r\n\f\x00")
	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits == 0 {
		return 0, pdferr.Structuralf(op, from+int64(kw), "startxref has no offset")
	}
	off, err := strconv.ParseInt(string(rest[:digits]), 10, 64)
	if err != nil {
		return 0, pdferr.Structural(op, from+int64(kw), err)
	}
	if off <= 0 || off >= r.size {
		return 0, pdferr.Structural(op, from+int64(kw), fmt.Errorf("offset %d out of range", off))
	}
	return off, nil
}

var errNoObjects = errors.New("no objects found")
