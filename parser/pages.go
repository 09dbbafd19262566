package parser

import (
	"errors"
	"fmt"

	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/pdferr"
)

const opPages = "read page tree"

// parsePageIDs lists page object numbers in document order by walking the
// tree from the catalog /Pages entry. A catalog, or a /Pages root, that is
// itself a /Page makes a one-page document.
func (p *Parser) parsePageIDs() error {
	rootRef, ok := p.trailer.Ref("Root")
	if !ok {
		return pdferr.Structural(opPages, -1, errors.New("trailer has no /Root reference"))
	}
	catalog, err := p.parseDict(rootRef.Num)
	if err != nil {
		return err
	}
	if typ, _ := raw.AsName(p.QueryDictionaryObject(catalog, "Type")); typ == "Page" {
		p.pageIDs = []int{rootRef.Num}
		return nil
	}
	pagesRef, ok := catalog.Ref("Pages")
	if !ok {
		return pdferr.Structural(opPages, -1, errors.New("catalog has no /Pages reference"))
	}
	root, err := p.parseDict(pagesRef.Num)
	if err != nil {
		return err
	}
	if typ, _ := raw.AsName(p.QueryDictionaryObject(root, "Type")); typ == "Page" {
		p.pageIDs = []int{pagesRef.Num}
		return nil
	}
	count, ok := raw.AsInt(p.QueryDictionaryObject(root, "Count"))
	if !ok || count < 0 {
		return pdferr.Structural(opPages, -1, errors.New("page tree root has no /Count"))
	}

	p.pageIDs = make([]int, 0, count)
	w := &pageWalk{p: p, count: int(count), seen: make(map[int]bool)}
	if err := w.visit(root, pagesRef.Num); err != nil {
		p.pageIDs = nil
		return err
	}
	if missing := int(count) - len(p.pageIDs); missing > 0 {
		p.log.Warn("page tree holds fewer pages than /Count",
			observability.Int("count", int(count)),
			observability.Int("found", len(p.pageIDs)))
		p.pageIDs = append(p.pageIDs, make([]int, missing)...)
	}
	return nil
}

type pageWalk struct {
	p     *Parser
	count int
	seen  map[int]bool
}

func (w *pageWalk) visit(node *raw.DictObj, id int) error {
	if w.seen[id] {
		return pdferr.Structuralf(opPages, -1, "page tree loops back to object %d", id)
	}
	w.seen[id] = true

	typ, ok := raw.AsName(w.p.QueryDictionaryObject(node, "Type"))
	if !ok {
		return pdferr.Structuralf(opPages, -1, "page tree node %d has no /Type", id)
	}
	switch typ {
	case "Page":
		if len(w.p.pageIDs) >= w.count {
			return pdferr.Structuralf(opPages, -1, "more pages than /Count %d", w.count)
		}
		w.p.pageIDs = append(w.p.pageIDs, id)
		return nil
	case "Pages":
	default:
		return pdferr.Structuralf(opPages, -1, "page tree node %d has /Type /%s", id, typ)
	}

	kids, ok := raw.AsArray(w.p.QueryDictionaryObject(node, "Kids"))
	if !ok {
		return pdferr.Structuralf(opPages, -1, "page tree node %d has no /Kids", id)
	}
	for i, kid := range kids.Items {
		switch k := kid.(type) {
		case raw.NullObj:
			// a hole in the tree still takes a page slot
			if len(w.p.pageIDs) >= w.count {
				return pdferr.Structuralf(opPages, -1, "more pages than /Count %d", w.count)
			}
			w.p.pageIDs = append(w.p.pageIDs, 0)
		case raw.RefObj:
			child, err := w.p.parseDict(k.R.Num)
			if err != nil {
				return err
			}
			if err := w.visit(child, k.R.Num); err != nil {
				return err
			}
		default:
			return pdferr.Structuralf(opPages, -1, "/Kids[%d] of node %d is %s, not a reference", i, id, kindName(kid))
		}
	}
	return nil
}

func (p *Parser) parseDict(id int) (*raw.DictObj, error) {
	obj, err := p.ParseNewObject(id)
	if err != nil {
		return nil, err
	}
	d, ok := raw.AsDict(obj)
	if !ok {
		return nil, pdferr.Structural(opPages, -1, fmt.Errorf("object %d is %s, not a dictionary", id, kindName(obj)))
	}
	return d, nil
}

func (p *Parser) GetPagesCount() int { return len(p.pageIDs) }

// PageObjectID returns the object number of page index, 0 for a hole or an
// index out of range.
func (p *Parser) PageObjectID(index int) int {
	if index < 0 || index >= len(p.pageIDs) {
		return 0
	}
	return p.pageIDs[index]
}

// ParsePage parses page index and checks that it is a /Page.
func (p *Parser) ParsePage(index int) (*raw.DictObj, error) {
	id := p.PageObjectID(index)
	if id == 0 {
		return nil, pdferr.Reference("parse page", 0, fmt.Errorf("no page at index %d", index))
	}
	page, err := p.parseDict(id)
	if err != nil {
		return nil, err
	}
	if typ, _ := raw.AsName(p.QueryDictionaryObject(page, "Type")); typ != "Page" {
		return nil, pdferr.Reference("parse page", id, fmt.Errorf("page %d is not a /Page", index))
	}
	return page, nil
}
