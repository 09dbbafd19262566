// pdfinspect prints the structure of a PDF file: its trailer, the
// cross-reference sections, the page list, single objects and decoded
// stream data.
//
//	usage: pdfinspect [flags] <pdf>
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/davecgh/go-spew/spew"

	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/parser"
	"github.com/wudi/pdfcore/recovery"
	"github.com/wudi/pdfcore/writer"
	"github.com/wudi/pdfcore/xref"
)

type options struct {
	pdfPath  string
	password string
	lenient  bool
	verbose  bool
	dump     bool
	pages    bool
	xref     bool
	object   int
	stream   int
}

var errUsage = errors.New("usage")

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if err != errUsage {
			fmt.Fprintf(os.Stderr, "pdfinspect: %v\n", err)
		}
		os.Exit(2)
	}
	if err := run(opts, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "pdfinspect: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("pdfinspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pdfinspect [flags] <pdf>\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.password, "password", "", "Password to open encrypted PDFs")
	fs.BoolVar(&opts.lenient, "lenient", false, "Repair damaged cross-reference data instead of failing")
	fs.BoolVar(&opts.verbose, "v", false, "Log parser diagnostics to stderr")
	fs.BoolVar(&opts.dump, "dump", false, "Print objects as Go values")
	fs.BoolVar(&opts.pages, "pages", false, "List page object numbers")
	fs.BoolVar(&opts.xref, "xref", false, "List cross-reference sections and entries")
	fs.IntVar(&opts.object, "obj", 0, "Print object `N`")
	fs.IntVar(&opts.stream, "stream", 0, "Write the decoded data of stream object `N` to stdout")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return options{}, errUsage
		}
		return options{}, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return options{}, fmt.Errorf("missing pdf path")
	}
	if opts.object < 0 || opts.stream < 0 {
		return options{}, fmt.Errorf("object numbers are positive")
	}
	opts.pdfPath = fs.Arg(0)
	return opts, nil
}

func run(opts options, stdout, stderr io.Writer) error {
	data, err := os.ReadFile(opts.pdfPath)
	if err != nil {
		return fmt.Errorf("open pdf: %w", err)
	}

	level := observability.LevelWarn
	if opts.verbose {
		level = observability.LevelDebug
	}
	log := observability.NewWriterLogger(stderr, level)
	popts := parser.Options{Password: opts.password, Lenient: opts.lenient, Logger: log}
	if opts.lenient {
		popts.Recovery = recovery.NewLenientStrategy()
	}
	p := parser.New()
	if err := p.StartParsing(context.Background(), bytes.NewReader(data), popts); err != nil {
		return fmt.Errorf("parse pdf: %w", err)
	}

	switch {
	case opts.stream != 0:
		return writeStream(p, opts.stream, stdout)
	case opts.object != 0:
		return printObject(p, opts.object, opts.dump, stdout)
	}
	if opts.pages {
		printPages(p, stdout)
	}
	if opts.xref {
		printXref(p, stdout)
	}
	if !opts.pages && !opts.xref {
		return printSummary(p, opts.dump, stdout)
	}
	return nil
}

func printSummary(p *parser.Parser, dump bool, w io.Writer) error {
	fmt.Fprintf(w, "== document ==\n")
	fmt.Fprintf(w, "version    %.1f\n", p.PDFLevel())
	fmt.Fprintf(w, "objects    %d\n", p.XrefSize())
	fmt.Fprintf(w, "xref       %s at %d\n", p.XrefForm(), p.XrefPosition())
	fmt.Fprintf(w, "sections   %d\n", len(p.XrefSections()))
	fmt.Fprintf(w, "repaired   %v\n", p.Repaired())
	if p.IsEncrypted() {
		d := p.Decryption()
		fmt.Fprintf(w, "encrypted  V%d R%d %d-bit, opened=%v owner=%v\n",
			d.V(), d.Revision(), d.Length()*8, p.IsEncryptionSupported(), d.DidSucceedOwnerPasswordVerification())
	} else {
		fmt.Fprintf(w, "encrypted  no\n")
	}
	fmt.Fprintf(w, "pages      %d\n\n", p.GetPagesCount())
	fmt.Fprintf(w, "== trailer ==\n")
	return printValue(p.GetTrailer(), dump, w)
}

func printPages(p *parser.Parser, w io.Writer) {
	fmt.Fprintf(w, "== pages ==\n")
	for i := 0; i < p.GetPagesCount(); i++ {
		id := p.PageObjectID(i)
		if id == 0 {
			fmt.Fprintf(w, "%4d  (missing)\n", i+1)
			continue
		}
		fmt.Fprintf(w, "%4d  %d 0 R\n", i+1, id)
	}
	fmt.Fprintln(w)
}

func printXref(p *parser.Parser, w io.Writer) {
	for _, sec := range p.XrefSections() {
		fmt.Fprintf(w, "== %s at %d", sec.Form, sec.Offset)
		if sec.Prev >= 0 {
			fmt.Fprintf(w, ", prev %d", sec.Prev)
		}
		fmt.Fprintf(w, " ==\n")
		for _, rec := range sec.Entries {
			fmt.Fprintf(w, "%6d  %s\n", rec.ID, entryString(rec.Entry))
		}
		fmt.Fprintln(w)
	}
}

func entryString(e xref.Entry) string {
	switch e.Kind {
	case xref.KindUsed:
		return fmt.Sprintf("used    offset %d gen %d", e.Offset, e.Gen)
	case xref.KindInObjectStream:
		return fmt.Sprintf("objstm  stream %d index %d", e.Stream, e.Index)
	case xref.KindFree:
		return fmt.Sprintf("free    gen %d", e.Gen)
	}
	return "undefined"
}

func printObject(p *parser.Parser, id int, dump bool, w io.Writer) error {
	obj, err := p.ParseNewObject(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "== object %d ==\n", id)
	return printValue(obj, dump, w)
}

func printValue(obj raw.Object, dump bool, w io.Writer) error {
	if dump {
		_, err := io.WriteString(w, spew.Sdump(obj))
		return err
	}
	stm, isStream := obj.(*raw.StreamObj)
	if isStream {
		obj = stm.Dict
	}
	text, err := writer.FormatObject(obj)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n", text)
	if isStream {
		fmt.Fprintf(w, "stream, %d bytes\n", len(stm.Data))
	}
	return nil
}

func writeStream(p *parser.Parser, id int, w io.Writer) error {
	obj, err := p.ParseNewObject(id)
	if err != nil {
		return err
	}
	stm, ok := obj.(*raw.StreamObj)
	if !ok {
		return fmt.Errorf("object %d is not a stream", id)
	}
	r, err := p.CreateInputStreamReader(context.Background(), stm)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, r)
	return err
}
