package pdferr

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKindsMatchSentinels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
		kind Kind
	}{
		{"structural", Structuralf("read xref", 120, "bad record %q", "x"), ErrStructural, KindStructural},
		{"reference", Reference("resolve", 12, errors.New("missing")), ErrReference, KindReference},
		{"encryption", Encryption("setup", errors.New("unsupported V 5")), ErrEncryption, KindEncryption},
		{"io", IO("read", 0, io.ErrUnexpectedEOF), ErrIO, KindIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !errors.Is(wrapped, tt.want) {
				t.Fatalf("expected %v to match %v", wrapped, tt.want)
			}
			if KindOf(wrapped) != tt.kind {
				t.Fatalf("expected kind %v, got %v", tt.kind, KindOf(wrapped))
			}
			for _, other := range []error{ErrStructural, ErrReference, ErrEncryption, ErrIO} {
				if other != tt.want && errors.Is(tt.err, other) {
					t.Fatalf("%v should not match %v", tt.err, other)
				}
			}
		})
	}
}

func TestUnwrapKeepsCause(t *testing.T) {
	err := IO("read", 10, io.ErrUnexpectedEOF)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected cause to be reachable")
	}
}

func TestMessageIncludesLocation(t *testing.T) {
	err := AtObject(Structuralf("parse object", 512, "generation mismatch"), 4)
	want := "pdf: parse object (object 4 at offset 512): generation mismatch"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}
