package filters

import (
	"bytes"
	"compress/lzw"
	"compress/zlib"
	"context"
	"encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"github.com/wudi/pdfcore/ir/raw"
	tifflzw "golang.org/x/image/tiff/lzw"
)

type flateDecoder struct{}

func NewFlateDecoder() Decoder    { return flateDecoder{} }
func (flateDecoder) Name() string { return "FlateDecode" }

func (flateDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := readLimited(ctx, zr)
	// Truncated zlib trailers are common; keep what inflated cleanly.
	if err != nil && !(len(out) > 0 && errors.Is(err, io.ErrUnexpectedEOF)) {
		return nil, err
	}
	return applyPredictor(out, params)
}

// lzwDecoder follows EarlyChange: 1 (the default) switches code width one
// code early, which golang.org/x/image/tiff/lzw implements; 0 matches compress/lzw.
type lzwDecoder struct{}

func NewLZWDecoder() Decoder    { return lzwDecoder{} }
func (lzwDecoder) Name() string { return "LZWDecode" }

func (lzwDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	var r io.ReadCloser
	if intParam(params, "EarlyChange", 1) == 0 {
		r = lzw.NewReader(bytes.NewReader(in), lzw.MSB, 8)
	} else {
		r = tifflzw.NewReader(bytes.NewReader(in), tifflzw.MSB, 8)
	}
	defer r.Close()
	out, err := readLimited(ctx, r)
	if err != nil && len(out) == 0 {
		return nil, err
	}
	return applyPredictor(out, params)
}

type asciiHexDecoder struct{}

func NewASCIIHexDecoder() Decoder    { return asciiHexDecoder{} }
func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }

func (asciiHexDecoder) Decode(ctx context.Context, in []byte, _ *raw.DictObj) ([]byte, error) {
	digits := make([]byte, 0, len(in))
	for _, c := range in {
		if c == '>' {
			break
		}
		switch c {
		case ' ', '\t', '\r', '\n', '\f', 0:
			continue
		}
		digits = append(digits, c)
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, hex.DecodedLen(len(digits)))
	n, err := hex.Decode(out, digits)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

type ascii85Decoder struct{}

func NewASCII85Decoder() Decoder    { return ascii85Decoder{} }
func (ascii85Decoder) Name() string { return "ASCII85Decode" }

func (ascii85Decoder) Decode(ctx context.Context, in []byte, _ *raw.DictObj) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	trimmed = bytes.TrimPrefix(trimmed, []byte("<~"))
	if i := bytes.Index(trimmed, []byte("~>")); i >= 0 {
		trimmed = trimmed[:i]
	}
	out := make([]byte, 4*len(trimmed)+4)
	n, _, err := ascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// dctDecoder returns interleaved 8-bit samples: one per pixel for gray
// images, three (RGB) for color and four for CMYK.
type dctDecoder struct{}

func NewDCTDecoder() Decoder    { return dctDecoder{} }
func (dctDecoder) Name() string { return "DCTDecode" }

func (dctDecoder) Decode(ctx context.Context, in []byte, _ *raw.DictObj) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(in))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	switch m := img.(type) {
	case *image.Gray:
		out := make([]byte, 0, b.Dx()*b.Dy())
		for y := b.Min.Y; y < b.Max.Y; y++ {
			out = append(out, m.Pix[m.PixOffset(b.Min.X, y):m.PixOffset(b.Max.X, y)]...)
		}
		return out, nil
	case *image.CMYK:
		out := make([]byte, 0, 4*b.Dx()*b.Dy())
		for y := b.Min.Y; y < b.Max.Y; y++ {
			out = append(out, m.Pix[m.PixOffset(b.Min.X, y):m.PixOffset(b.Max.X, y)]...)
		}
		return out, nil
	}
	out := make([]byte, 0, 3*b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out = append(out, byte(r>>8), byte(g>>8), byte(bl>>8))
		}
	}
	return out, nil
}

// CryptFunc decrypts data with the crypt filter called name.
type CryptFunc func(name string, data []byte) ([]byte, error)

type cryptDecoder struct{ fn CryptFunc }

// NewCryptDecoder binds the Crypt filter to a decryption callback. The
// filter name comes from DecodeParms /Name and defaults to Identity.
func NewCryptDecoder(fn CryptFunc) Decoder { return cryptDecoder{fn: fn} }
func (cryptDecoder) Name() string          { return "Crypt" }

func (d cryptDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	name := "Identity"
	if params != nil {
		if n, ok := params.Name("Name"); ok {
			name = n
		}
	}
	if d.fn == nil || name == "Identity" {
		return in, nil
	}
	return d.fn(name, in)
}

func readLimited(ctx context.Context, r io.Reader) ([]byte, error) {
	limit := outputLimit(ctx)
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	var out bytes.Buffer
	_, err := out.ReadFrom(r)
	if limit > 0 && int64(out.Len()) > limit {
		return nil, fmt.Errorf("decoded size exceeds limit of %d bytes", limit)
	}
	return out.Bytes(), err
}
