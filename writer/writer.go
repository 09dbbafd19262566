// Package writer produces documents: a registry of object numbers, a
// serializer that encrypts per object, classic or stream cross-reference
// sections, the trailer and a balanced page tree. A writer either starts a
// new file or appends an incremental update to a parsed one.
package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/parser"
	"github.com/wudi/pdfcore/pdferr"
	"github.com/wudi/pdfcore/security"
)

type PDFVersion string

const (
	PDF13 PDFVersion = "1.3"
	PDF14 PDFVersion = "1.4"
	PDF15 PDFVersion = "1.5"
	PDF16 PDFVersion = "1.6"
	PDF17 PDFVersion = "1.7"
)

func (v PDFVersion) level() float64 {
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return 1.7
	}
	return f
}

// EncryptionOptions turns on the standard security handler. The scheme
// follows the output version.
type EncryptionOptions struct {
	UserPassword  string
	OwnerPassword string
	Permissions   security.Permissions
	// EncryptMetadata false leaves /Metadata streams in clear.
	EncryptMetadata bool
}

type Config struct {
	// Version defaults to 1.7. An incremental update writes it into the
	// catalog only when it is above the base header version.
	Version PDFVersion
	// Compress Flate-encodes streams written without a /Filter.
	Compress bool
	// XRefStream writes a cross-reference stream instead of a table. An
	// incremental update follows its base document instead.
	XRefStream bool
	Encryption *EncryptionOptions
	// OutputName feeds the file identifier.
	OutputName string
	Logger     observability.Logger
	// Tracer receives one span per End.
	Tracer observability.Tracer
	// Now replaces time.Now, for reproducible output.
	Now func() time.Time
}

// Interceptor observes every indirect object written through the writer.
type Interceptor interface {
	BeforeWrite(id int, obj raw.Object) error
	AfterWrite(id int, obj raw.Object, bytesWritten int64) error
}

type WriterBuilder struct{ interceptors []Interceptor }

func (b *WriterBuilder) WithInterceptor(i Interceptor) *WriterBuilder {
	b.interceptors = append(b.interceptors, i)
	return b
}

func (b *WriterBuilder) Build(out io.Writer, cfg Config) *Writer {
	return newWriter(out, cfg, b.interceptors)
}

// New returns a writer over out without interceptors.
func New(out io.Writer, cfg Config) *Writer { return newWriter(out, cfg, nil) }

var (
	errNotStarted = errors.New("writer not started")
	errStarted    = errors.New("writer already started")
	errNoRoot     = errors.New("no catalog to reference from the trailer")
)

// Writer assembles one output file. It is not safe for concurrent use.
type Writer struct {
	cfg     Config
	log     observability.Logger
	tracer  observability.Tracer
	enc     *security.EncryptionHelper
	objects *ObjectsContext
	pages   pageTree

	// Info is written at End when not empty.
	Info Info
	// Catalog holds extra entries for the catalog. In an incremental
	// update any entry forces the catalog to be rewritten.
	Catalog *raw.DictObj

	started, ended  bool
	explicitVersion bool
	root            raw.ObjectRef
	hasPrev         bool
	prev            int64
	encrypt         raw.ObjectRef
	infoRef         raw.ObjectRef
	newID, origID   []byte
	base            *parser.Parser
}

func newWriter(out io.Writer, cfg Config, interceptors []Interceptor) *Writer {
	explicit := cfg.Version != ""
	if !explicit {
		cfg.Version = PDF17
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := observability.OrNop(cfg.Logger).With(observability.String("component", "writer"))
	enc := security.NewEncryptionHelper()
	w := &Writer{
		cfg:     cfg,
		log:     log,
		tracer:  observability.OrNopTracer(cfg.Tracer),
		enc:     enc,
		objects: newObjectsContext(out, enc, cfg.Compress, interceptors, log),
		Catalog: raw.Dict(),

		explicitVersion: explicit,
	}
	w.pages.reg = w.objects.registry
	return w
}

func (w *Writer) Objects() *ObjectsContext { return w.objects }

func (w *Writer) Encryption() *security.EncryptionHelper { return w.enc }

// StartPDF writes the header of a new file and sets up encryption. With
// encryption the file identifier is fixed now, since the keys depend on it.
func (w *Writer) StartPDF() error {
	if w.started {
		return errStarted
	}
	w.started = true
	if err := w.objects.writeString(fmt.Sprintf("%%PDF-%s\n%%\xBD\xBE\xBC\n", w.cfg.Version)); err != nil {
		return err
	}
	if opts := w.cfg.Encryption; opts != nil {
		w.newID = generateID(w.cfg.Now(), w.cfg.OutputName, w.objects.CurrentPosition(), &w.Info)
		w.enc.Setup(w.cfg.Version.level(), opts.UserPassword, opts.OwnerPassword, opts.Permissions.Flags(), opts.EncryptMetadata, w.newID)
		w.log.Debug("encryption set up", observability.String("version", string(w.cfg.Version)))
	} else {
		w.enc.SetupNoEncryption()
	}
	return nil
}

// AllocateObjectID reserves a number for an object written later with
// WriteObjectWithID.
func (w *Writer) AllocateObjectID() int { return w.objects.registry.AllocateNewObjectID() }

// WriteObject writes obj as a new indirect object and returns its number.
func (w *Writer) WriteObject(obj raw.Object) (int, error) {
	if !w.started {
		return 0, errNotStarted
	}
	id := w.AllocateObjectID()
	return id, w.WriteObjectWithID(id, obj)
}

func (w *Writer) WriteObjectWithID(id int, obj raw.Object) error {
	if !w.started {
		return errNotStarted
	}
	return w.objects.writeIndirect(id, obj, w.objects.StartNewIndirectObjectWithID)
}

// WriteModifiedObject writes a new version of object id of the base
// document.
func (w *Writer) WriteModifiedObject(id int, obj raw.Object) error {
	if w.base == nil {
		return pdferr.Reference("write modified object", id, errors.New("no base document"))
	}
	return w.objects.writeIndirect(id, obj, w.objects.StartModifiedIndirectObject)
}

// DeleteObject frees object id in the next cross-reference section.
func (w *Writer) DeleteObject(id int) error { return w.objects.registry.DeleteObject(id) }

// AddPage writes page as a new /Page object placed in the page tree and
// returns its number. /Type and /Parent are set by the writer.
func (w *Writer) AddPage(page *raw.DictObj) (int, error) {
	if !w.started {
		return 0, errNotStarted
	}
	d := raw.Dict()
	if page != nil {
		d = page.Clone()
	}
	id := w.AllocateObjectID()
	parent := w.pages.add(id)
	d.Set("Type", raw.NameLiteral("Page"))
	d.Set("Parent", raw.Ref(parent, 0))
	return id, w.WriteObjectWithID(id, d)
}

// End writes everything pending: the page tree, the catalog, the
// information and encryption dictionaries, then the cross-reference
// section and trailer.
func (w *Writer) End() error {
	if !w.started {
		return errNotStarted
	}
	if w.ended {
		return errors.New("writer already ended")
	}
	w.ended = true
	name := observability.SpanFinalize
	if w.base != nil {
		name = observability.SpanIncremental
	}
	_, span := w.tracer.StartSpan(context.Background(), name)
	defer span.Finish()
	var err error
	if w.base != nil {
		err = w.finalizeModified()
	} else {
		err = w.finalizeNew()
	}
	if err != nil {
		span.SetError(err)
		w.log.Error("finishing document failed", observability.Error("error", err))
		return err
	}
	span.SetTag("objects", w.objects.registry.Count())
	span.SetTag("bytes", w.objects.CurrentPosition())
	return nil
}

func (w *Writer) finalizeNew() error {
	pagesRoot := 0
	if !w.pages.empty() {
		if _, err := w.pages.write(w.objects, w.pages.root, 0); err != nil {
			return err
		}
		pagesRoot = w.pages.root.id
	} else if w.root.Num == 0 && !w.Catalog.Has("Pages") {
		// a catalog always needs a page tree, even an empty one
		empty := raw.Dict()
		empty.Set("Type", raw.NameLiteral("Pages"))
		empty.Set("Count", raw.NumberInt(0))
		empty.Set("Kids", raw.NewArray())
		id, err := w.WriteObject(empty)
		if err != nil {
			return err
		}
		pagesRoot = id
	}
	if w.root.Num == 0 {
		catalog := raw.Dict()
		for k, v := range w.Catalog.KV {
			catalog.Set(k, v)
		}
		catalog.Set("Type", raw.NameLiteral("Catalog"))
		if pagesRoot != 0 {
			catalog.Set("Pages", raw.Ref(pagesRoot, 0))
		}
		id, err := w.WriteObject(catalog)
		if err != nil {
			return err
		}
		w.root = raw.ObjectRef{Num: id}
	}
	if err := w.writeInfo(); err != nil {
		return err
	}
	if w.enc.IsDocumentEncrypted() {
		w.enc.PauseEncryption()
		id, err := w.WriteObject(w.enc.EncryptionDictionary())
		w.enc.ReleaseEncryption()
		if err != nil {
			return err
		}
		w.encrypt = raw.ObjectRef{Num: id}
	}
	return w.writeXref(w.cfg.XRefStream)
}

func (w *Writer) writeInfo() error {
	if w.Info.IsEmpty() {
		return nil
	}
	id, err := w.WriteObject(w.Info.dictionary())
	if err != nil {
		return err
	}
	w.infoRef = raw.ObjectRef{Num: id}
	return nil
}

// trailer builds the trailer entries. The identifier goes out in clear:
// [original new] for an update, [new new] otherwise.
func (w *Writer) trailer() (*raw.DictObj, error) {
	if w.root.Num == 0 {
		return nil, pdferr.Structural("write trailer", w.objects.CurrentPosition(), errNoRoot)
	}
	t := raw.Dict()
	t.Set("Size", raw.NumberInt(int64(w.objects.registry.Count())))
	if w.hasPrev {
		t.Set("Prev", raw.NumberInt(w.prev))
	}
	t.Set("Root", raw.Ref(w.root.Num, w.root.Gen))
	if w.encrypt.Num != 0 {
		t.Set("Encrypt", raw.Ref(w.encrypt.Num, w.encrypt.Gen))
	}
	if w.infoRef.Num != 0 {
		t.Set("Info", raw.Ref(w.infoRef.Num, w.infoRef.Gen))
	}
	if w.newID == nil {
		w.newID = generateID(w.cfg.Now(), w.cfg.OutputName, w.objects.CurrentPosition(), &w.Info)
	}
	first := w.newID
	if w.origID != nil {
		first = w.origID
	}
	t.Set("ID", raw.NewArray(raw.HexStr(first), raw.HexStr(w.newID)))
	return t, nil
}

func (w *Writer) writeXref(stream bool) error {
	// trailer values and the identifier are never encrypted
	w.enc.PauseEncryption()
	defer w.enc.ReleaseEncryption()

	var at int64
	if stream {
		t, err := w.trailer()
		if err != nil {
			return err
		}
		if at, err = w.objects.WriteXrefStream(t); err != nil {
			return err
		}
	} else {
		var err error
		if at, err = w.objects.WriteXrefTable(); err != nil {
			return err
		}
		t, err := w.trailer()
		if err != nil {
			return err
		}
		if err := w.objects.writeString("trailer\n"); err != nil {
			return err
		}
		if err := w.objects.WriteValue(t); err != nil {
			return err
		}
		if err := w.objects.writeString("\n"); err != nil {
			return err
		}
	}
	w.log.Debug("cross-reference written",
		observability.Int64("offset", at),
		observability.Bool("stream", stream),
		observability.Int("size", w.objects.registry.Count()))
	return w.objects.writeString(fmt.Sprintf("startxref\n%d\n%%%%EOF\n", at))
}
