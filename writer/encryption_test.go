package writer_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/security"
	"github.com/wudi/pdfcore/writer"
)

const secret = "BT (top secret) Tj ET"

func writeEncrypted(t *testing.T, version writer.PDFVersion, opts writer.EncryptionOptions) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := writer.New(&buf, writer.Config{Version: version, Encryption: &opts, Now: fixedNow})
	w.Info.Title = "classified"
	if err := w.StartPDF(); err != nil {
		t.Fatal(err)
	}
	content, err := w.WriteObject(raw.NewStream(raw.Dict(), []byte(secret)))
	if err != nil {
		t.Fatal(err)
	}
	md := raw.Dict()
	md.Set("Type", raw.NameLiteral("Metadata"))
	md.Set("Subtype", raw.NameLiteral("XML"))
	meta, err := w.WriteObject(raw.NewStream(md, []byte("<x:xmpmeta>meta</x:xmpmeta>")))
	if err != nil {
		t.Fatal(err)
	}
	w.Catalog.Set("Metadata", raw.Ref(meta, 0))
	if _, err := w.AddPage(page("hidden label", content)); err != nil {
		t.Fatal(err)
	}
	if err := w.End(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestEncryptedRoundTrip(t *testing.T) {
	opts := writer.EncryptionOptions{
		UserPassword:    "user",
		OwnerPassword:   "owner",
		Permissions:     security.Permissions{Print: true, Copy: true},
		EncryptMetadata: true,
	}
	cases := []struct {
		version  writer.PDFVersion
		password string
		aes      bool
		rev      int64
	}{
		{writer.PDF13, "user", false, 2},
		{writer.PDF14, "user", false, 3},
		{writer.PDF14, "owner", false, 3},
		{writer.PDF16, "user", true, 4},
		{writer.PDF17, "owner", true, 4},
	}
	for _, tc := range cases {
		t.Run(string(tc.version)+"/"+tc.password, func(t *testing.T) {
			data := writeEncrypted(t, tc.version, opts)
			if bytes.Contains(data, []byte("top secret")) || bytes.Contains(data, []byte("hidden label")) {
				t.Fatalf("plain text leaked into the file")
			}
			p := parse(t, data, tc.password)
			if !p.IsEncrypted() || !p.IsEncryptionSupported() {
				t.Fatalf("encrypted=%v supported=%v", p.IsEncrypted(), p.IsEncryptionSupported())
			}
			d := p.Decryption()
			if d.Revision() != int(tc.rev) {
				t.Fatalf("revision = %d, want %d", d.Revision(), tc.rev)
			}
			if got := security.PermissionsFromP(d.P()); !got.Print || !got.Copy || got.Modify {
				t.Fatalf("permissions = %s", spew.Sdump(got))
			}
			if owner := tc.password == "owner"; d.DidSucceedOwnerPasswordVerification() != owner {
				t.Fatalf("owner verification = %v", !owner)
			}

			pg, err := p.ParsePage(0)
			if err != nil {
				t.Fatal(err)
			}
			if label, _ := raw.AsString(pg.KV["Label"]); string(label) != "hidden label" {
				t.Fatalf("label = %q", label)
			}
			stm, _ := raw.AsStream(p.QueryDictionaryObject(pg, "Contents"))
			got, err := p.DecodeStream(context.Background(), stm)
			if err != nil || string(got) != secret {
				t.Fatalf("content = %q, %v", got, err)
			}
			info, _ := raw.AsDict(p.QueryDictionaryObject(p.GetTrailer(), "Info"))
			if title, _ := raw.AsString(info.KV["Title"]); string(title) != "classified" {
				t.Fatalf("title = %q", title)
			}
		})
	}
}

func TestEncryptedWrongPassword(t *testing.T) {
	data := writeEncrypted(t, writer.PDF14, writer.EncryptionOptions{UserPassword: "user", EncryptMetadata: true})
	p := parse(t, data, "nope")
	if p.IsEncryptionSupported() || p.GetPagesCount() != 0 {
		t.Fatalf("wrong password opened the document: %s", p)
	}
	if !p.Decryption().DidFailPasswordVerification() {
		t.Fatalf("password failure not reported")
	}
}

func TestMetadataLeftInClear(t *testing.T) {
	data := writeEncrypted(t, writer.PDF16, writer.EncryptionOptions{UserPassword: "user", EncryptMetadata: false})
	if !bytes.Contains(data, []byte("<x:xmpmeta>meta</x:xmpmeta>")) {
		t.Fatalf("metadata was encrypted")
	}
	if bytes.Contains(data, []byte("top secret")) {
		t.Fatalf("content was not encrypted")
	}
	p := parse(t, data, "user")
	catalog, _ := raw.AsDict(p.QueryDictionaryObject(p.GetTrailer(), "Root"))
	md, ok := raw.AsStream(p.QueryDictionaryObject(catalog, "Metadata"))
	if !ok {
		t.Fatalf("no metadata: %s", spew.Sdump(catalog))
	}
	got, err := p.DecodeStream(context.Background(), md)
	if err != nil || string(got) != "<x:xmpmeta>meta</x:xmpmeta>" {
		t.Fatalf("metadata = %q, %v", got, err)
	}
}

func TestEncryptDictionaryInClear(t *testing.T) {
	data := writeEncrypted(t, writer.PDF17, writer.EncryptionOptions{UserPassword: "u", EncryptMetadata: true})
	for _, want := range []string{"/Filter /Standard", "/CFM /AESV2", "/StmF /StdCF"} {
		if !bytes.Contains(data, []byte(want)) {
			t.Fatalf("encryption dictionary lacks %q", want)
		}
	}
}
