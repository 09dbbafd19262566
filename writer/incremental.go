package writer

import (
	"errors"
	"io"
	"math"

	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/parser"
	"github.com/wudi/pdfcore/pdferr"
)

const opModify = "set up incremental update"

// SetupModifiedFile starts an incremental update of p: the original bytes
// are copied to the output, the registry takes over p's table and the new
// section will chain to p's newest one. The trailer keeps the original
// first identifier and the encryption of p carries over.
func (w *Writer) SetupModifiedFile(p *parser.Parser) error {
	if w.started {
		return errStarted
	}
	trailer := p.GetTrailer()
	if trailer == nil {
		return pdferr.Structural(opModify, -1, errors.New("base document has no trailer"))
	}
	root, ok := trailer.Ref("Root")
	if !ok {
		return pdferr.Structural(opModify, -1, errors.New("base trailer has no /Root reference"))
	}
	if p.IsEncrypted() && !p.IsEncryptionSupported() {
		return pdferr.Encryption(opModify, errors.New("base document encryption cannot be opened"))
	}

	data, err := io.ReadAll(io.NewSectionReader(p.Source(), 0, math.MaxInt64))
	if err != nil {
		return pdferr.IO(opModify, 0, err)
	}
	if err := w.objects.writeBytes(data); err != nil {
		return err
	}
	if n := len(data); n > 0 && data[n-1] != '\n' && data[n-1] != '\r' {
		if err := w.objects.writeString("\n"); err != nil {
			return err
		}
	}

	w.objects.registry.SetupFromParser(p)
	w.base = p
	w.started = true
	w.root = root
	w.hasPrev, w.prev = true, p.XrefPosition()

	if ids, ok := raw.AsArray(p.QueryDictionaryObject(trailer, "ID")); ok && ids.Len() == 2 {
		if first, ok := raw.AsString(ids.Items[0]); ok {
			w.origID = first
		}
	}
	if info, ok := raw.AsDict(p.QueryDictionaryObject(trailer, "Info")); ok {
		w.Info.readInfo(info, p.Resolve)
	}
	w.Info.ModDate = w.cfg.Now()

	if p.IsEncrypted() {
		w.enc.SetupFromDecryption(p.Decryption())
	} else {
		w.enc.SetupNoEncryption()
	}
	w.log.Debug("incremental update set up",
		observability.Int64("prev", w.prev),
		observability.Int("size", w.objects.registry.Count()),
		observability.Bool("encrypted", w.enc.IsDocumentEncrypted()))
	return nil
}

// finalizeModified writes the update tail. New pages go under a combined
// root whose kids are the untouched original root and the new subtree. The
// catalog is rewritten only for a new page root, a version increase or
// caller entries.
func (w *Writer) finalizeModified() error {
	origRoot := w.originalPageTreeRoot()
	pagesRoot := origRoot
	newRoot := false
	if !w.pages.empty() {
		if origRoot.Num != 0 {
			id, err := w.writeCombinedPageTree(origRoot)
			if err != nil {
				return err
			}
			pagesRoot = raw.ObjectRef{Num: id}
		} else {
			if _, err := w.pages.write(w.objects, w.pages.root, 0); err != nil {
				return err
			}
			pagesRoot = raw.ObjectRef{Num: w.pages.root.id}
		}
		newRoot = true
	}

	versionUp := w.explicitVersion && w.cfg.Version.level() > w.base.PDFLevel()
	if newRoot || versionUp || w.Catalog.Len() > 0 {
		if err := w.rewriteCatalog(pagesRoot, versionUp); err != nil {
			return err
		}
	}
	if err := w.writeInfo(); err != nil {
		return err
	}
	if err := w.copyEncryptionDictionary(); err != nil {
		return err
	}
	typ, _ := w.base.GetTrailer().Name("Type")
	return w.writeXref(typ == "XRef")
}

// originalPageTreeRoot is the /Pages of the base catalog, unless the
// caller deleted it.
func (w *Writer) originalPageTreeRoot() raw.ObjectRef {
	catalog, ok := raw.AsDict(w.base.Resolve(raw.RefObj{R: w.root}))
	if !ok {
		w.log.Warn("base catalog unreadable", observability.Int("object", w.root.Num))
		return raw.ObjectRef{}
	}
	ref, ok := catalog.Ref("Pages")
	if !ok {
		return raw.ObjectRef{}
	}
	info, ok := w.objects.registry.GetObjectWriteInformation(ref.Num)
	if !ok || info.Kind != RefUsed {
		return raw.ObjectRef{}
	}
	return ref
}

func (w *Writer) writeCombinedPageTree(orig raw.ObjectRef) (int, error) {
	combined := w.AllocateObjectID()
	newCount, err := w.pages.write(w.objects, w.pages.root, combined)
	if err != nil {
		return 0, err
	}

	origDict, ok := raw.AsDict(w.base.Resolve(raw.RefObj{R: orig}))
	if !ok {
		return 0, pdferr.Reference("write combined page tree", orig.Num, errors.New("original page tree root unreadable"))
	}
	origCount := int64(1)
	if typ, _ := raw.AsName(w.base.QueryDictionaryObject(origDict, "Type")); typ != "Page" {
		origCount, _ = raw.AsInt(w.base.QueryDictionaryObject(origDict, "Count"))
	}
	d := origDict.Clone()
	d.Set("Parent", raw.Ref(combined, 0))
	if err := w.WriteModifiedObject(orig.Num, d); err != nil {
		return 0, err
	}

	root := raw.Dict()
	root.Set("Type", raw.NameLiteral("Pages"))
	root.Set("Count", raw.NumberInt(origCount+int64(newCount)))
	root.Set("Kids", raw.NewArray(raw.Ref(orig.Num, orig.Gen), raw.Ref(w.pages.root.id, 0)))
	return combined, w.WriteObjectWithID(combined, root)
}

// rewriteCatalog writes a new catalog: caller entries and the new page
// root win, everything else is copied from the base catalog.
func (w *Writer) rewriteCatalog(pagesRoot raw.ObjectRef, versionUp bool) error {
	catalog := raw.Dict()
	catalog.Set("Type", raw.NameLiteral("Catalog"))
	if pagesRoot.Num != 0 {
		catalog.Set("Pages", raw.Ref(pagesRoot.Num, pagesRoot.Gen))
	}
	if versionUp {
		catalog.Set("Version", raw.NameLiteral(string(w.cfg.Version)))
	}
	for k, v := range w.Catalog.KV {
		if !catalog.Has(k) {
			catalog.Set(k, v)
		}
	}
	if base, ok := raw.AsDict(w.base.Resolve(raw.RefObj{R: w.root})); ok {
		for k, v := range base.KV {
			if !catalog.Has(k) {
				catalog.Set(k, v)
			}
		}
	}
	id, err := w.WriteObject(catalog)
	if err != nil {
		return err
	}
	w.root = raw.ObjectRef{Num: id}
	return nil
}

// copyEncryptionDictionary points the new trailer at the base /Encrypt,
// moving a direct dictionary into an object of its own.
func (w *Writer) copyEncryptionDictionary() error {
	v, ok := w.base.GetTrailer().Get("Encrypt")
	if !ok {
		return nil
	}
	if ref, ok := v.(raw.RefObj); ok {
		w.encrypt = ref.R
		return nil
	}
	d, ok := raw.AsDict(v)
	if !ok {
		return pdferr.Structural(opModify, -1, errors.New("base /Encrypt is not a dictionary"))
	}
	w.enc.PauseEncryption()
	id, err := w.WriteObject(d)
	w.enc.ReleaseEncryption()
	if err != nil {
		return err
	}
	w.encrypt = raw.ObjectRef{Num: id}
	return nil
}
