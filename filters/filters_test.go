package filters

import (
	"bytes"
	"compress/lzw"
	"compress/zlib"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/wudi/pdfcore/ir/raw"
)

func zlibBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	w.Close()
	return buf.Bytes()
}

func predictorParams(predictor, colors, bpc, columns int64) *raw.DictObj {
	params := raw.Dict()
	params.Set("Predictor", raw.NumberInt(predictor))
	params.Set("Colors", raw.NumberInt(colors))
	params.Set("BitsPerComponent", raw.NumberInt(bpc))
	params.Set("Columns", raw.NumberInt(columns))
	return params
}

func TestFlateDecode(t *testing.T) {
	out, err := NewFlateDecoder().Decode(context.Background(), zlibBytes(t, []byte("hello world")), nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "hello world" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestFlateDecodeWithPredictor(t *testing.T) {
	// PNG Sub row: filter byte 1, then deltas.
	comp := zlibBytes(t, []byte{1, 10, 12, 20})
	out, err := NewFlateDecoder().Decode(context.Background(), comp, predictorParams(12, 1, 8, 3))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	want := []byte{10, 22, 42}
	if !bytes.Equal(out, want) {
		t.Fatalf("predictor output mismatch: got %v want %v", out, want)
	}
}

func TestPNGPredictorRowTags(t *testing.T) {
	// Two columns of one byte: rows use Up, Average and Paeth after a None row.
	data := []byte{
		0, 10, 20,
		2, 1, 1, // up: 11 21
		3, 5, 5, // avg: 11/2+5=10, (10+21)/2+5=20
		4, 0, 0, // paeth: left/up/upleft
	}
	out, err := applyPredictor(data, predictorParams(15, 1, 8, 2))
	if err != nil {
		t.Fatalf("predictor: %v", err)
	}
	want := []byte{10, 20, 11, 21, 10, 20, 10, 20}
	if !bytes.Equal(out, want) {
		t.Fatalf("got %v want %v", out, want)
	}
}

func TestTIFFPredictor(t *testing.T) {
	out, err := applyPredictor([]byte{1, 2, 3, 4, 10, 1, 1, 1}, predictorParams(2, 1, 8, 4))
	if err != nil {
		t.Fatalf("predictor: %v", err)
	}
	if want := []byte{1, 3, 6, 10, 10, 11, 12, 13}; !bytes.Equal(out, want) {
		t.Fatalf("got %v want %v", out, want)
	}
}

func TestPredictorRejectsUnknown(t *testing.T) {
	for _, p := range []int64{3, 9, 16} {
		if _, err := applyPredictor([]byte{0, 1}, predictorParams(p, 1, 8, 1)); err == nil {
			t.Fatalf("predictor %d accepted", p)
		}
	}
}

func TestLZWDecodeEarlyChange(t *testing.T) {
	input := []byte("hello hello hello")
	var buf bytes.Buffer
	w := lzw.NewWriter(&buf, lzw.MSB, 8)
	w.Write(input)
	w.Close()

	tests := []struct {
		name   string
		params *raw.DictObj
	}{
		{"default early change", nil},
		{"early change 0", func() *raw.DictObj {
			d := raw.Dict()
			d.Set("EarlyChange", raw.NumberInt(0))
			return d
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewLZWDecoder().Decode(context.Background(), buf.Bytes(), tt.params)
			if err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if !bytes.Equal(out, input) {
				t.Fatalf("unexpected output: %q", out)
			}
		})
	}
}

func TestASCIIDecoders(t *testing.T) {
	out, err := NewASCII85Decoder().Decode(context.Background(), []byte("<~87cURD_*#4DfTZ)+T~>"), nil)
	if err != nil || string(out) != "Hello, World!" {
		t.Fatalf("ascii85: %q %v", out, err)
	}
	out, err = NewASCIIHexDecoder().Decode(context.Background(), []byte("68 656c6c6f20776f726c64 7>"), nil)
	if err != nil || string(out) != "hello worldp" {
		t.Fatalf("asciihex: %q %v", out, err)
	}
}

func TestEncodersRoundTrip(t *testing.T) {
	payload := []byte("stream payload \x00\xff with binary")
	ctx := context.Background()

	flated, err := FlateEncode(payload)
	if err != nil {
		t.Fatalf("flate encode: %v", err)
	}
	if out, err := NewFlateDecoder().Decode(ctx, flated, nil); err != nil || !bytes.Equal(out, payload) {
		t.Fatalf("flate round trip: %q %v", out, err)
	}
	if out, err := NewASCIIHexDecoder().Decode(ctx, ASCIIHexEncode(payload), nil); err != nil || !bytes.Equal(out, payload) {
		t.Fatalf("hex round trip: %q %v", out, err)
	}
	if out, err := NewASCII85Decoder().Decode(ctx, ASCII85Encode(payload), nil); err != nil || !bytes.Equal(out, payload) {
		t.Fatalf("ascii85 round trip: %q %v", out, err)
	}
}

func TestDCTDecode(t *testing.T) {
	encode := func(img image.Image) []byte {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
			t.Fatalf("encode jpeg: %v", err)
		}
		return buf.Bytes()
	}

	gray := image.NewGray(image.Rect(0, 0, 2, 1))
	gray.SetGray(0, 0, color.Gray{Y: 30})
	gray.SetGray(1, 0, color.Gray{Y: 220})
	out, err := NewDCTDecoder().Decode(context.Background(), encode(gray), nil)
	if err != nil {
		t.Fatalf("decode gray: %v", err)
	}
	if len(out) != 2 || out[0] > 100 || out[1] < 150 {
		t.Fatalf("unexpected gray samples %v", out)
	}

	rgb := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	rgb.Set(0, 0, color.NRGBA{R: 255, A: 255})
	rgb.Set(1, 0, color.NRGBA{G: 255, A: 255})
	out, err = NewDCTDecoder().Decode(context.Background(), encode(rgb), nil)
	if err != nil {
		t.Fatalf("decode rgb: %v", err)
	}
	if len(out) != 2*3 {
		t.Fatalf("unexpected sample count: %d", len(out))
	}
}

func TestPipelineChainsAndCrypt(t *testing.T) {
	var gotName string
	reg := DefaultRegistry().With(NewCryptDecoder(func(name string, data []byte) ([]byte, error) {
		gotName = name
		if string(data) != "sealed" {
			t.Fatalf("crypt saw %q", data)
		}
		return []byte("68656c6c6f>"), nil
	}))
	cryptParams := raw.Dict()
	cryptParams.Set("Name", raw.NameLiteral("StdCF"))

	p := NewPipeline(reg, Limits{})
	out, err := p.Decode(context.Background(), []byte("sealed"),
		[]string{"Crypt", "ASCIIHexDecode"}, []*raw.DictObj{cryptParams, nil})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(out) != "hello" || gotName != "StdCF" {
		t.Fatalf("unexpected result %q via %q", out, gotName)
	}
	if _, ok := DefaultRegistry().Get("Crypt"); ok {
		t.Fatalf("With must not modify the source registry")
	}
}

func TestPipelineErrors(t *testing.T) {
	p := NewPipeline(nil, Limits{MaxDecompressedSize: 8})
	_, err := p.Decode(context.Background(), []byte{0}, []string{"JBIG2Decode"}, nil)
	var ue UnsupportedError
	if !errors.As(err, &ue) || ue.Filter != "JBIG2Decode" {
		t.Fatalf("expected unsupported error, got %v", err)
	}
	_, err = p.Decode(context.Background(), zlibBytes(t, bytes.Repeat([]byte("a"), 64)), []string{"FlateDecode"}, nil)
	if err == nil || !strings.Contains(err.Error(), "exceeds limit") {
		t.Fatalf("expected size limit error, got %v", err)
	}
}

func TestExtractFilters(t *testing.T) {
	parms := raw.Dict()
	parms.Set("Predictor", raw.NumberInt(12))
	dict := raw.Dict()
	dict.Set("Filter", raw.NewArray(raw.NameLiteral("ASCII85Decode"), raw.NameLiteral("FlateDecode")))
	dict.Set("DecodeParms", raw.NewArray(raw.NullObj{}, parms))

	names, params, err := ExtractFilters(dict, nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(names) != 2 || names[1] != "FlateDecode" {
		t.Fatalf("unexpected names %v", names)
	}
	if params[0] != nil || params[1] != parms {
		t.Fatalf("params not matched by index: %v", params)
	}

	dict.Set("Filter", raw.NumberInt(3))
	if _, _, err := ExtractFilters(dict, nil); err == nil {
		t.Fatalf("expected error for numeric Filter")
	}
	if HasFilter(raw.Dict(), "Crypt", nil) {
		t.Fatalf("empty dictionary has no filters")
	}
}
