package filters

import (
	"fmt"

	"github.com/wudi/pdfcore/ir/raw"
)

// applyPredictor reverses the Predictor named in params. Missing or 1 means
// none, 2 is the TIFF predictor and 10-15 are the PNG predictors, where each
// row carries its own algorithm tag.
func applyPredictor(data []byte, params *raw.DictObj) ([]byte, error) {
	predictor := intParam(params, "Predictor", 1)
	if predictor == 1 {
		return data, nil
	}
	colors := intParam(params, "Colors", 1)
	bpc := intParam(params, "BitsPerComponent", 8)
	columns := intParam(params, "Columns", 1)
	if colors < 1 || columns < 1 {
		return nil, fmt.Errorf("invalid predictor geometry: Colors %d, Columns %d", colors, columns)
	}
	switch bpc {
	case 1, 2, 4, 8, 16:
	default:
		return nil, fmt.Errorf("invalid BitsPerComponent %d", bpc)
	}
	rowBytes := (columns*colors*bpc + 7) / 8
	bpp := (colors*bpc + 7) / 8

	switch {
	case predictor == 2:
		return tiffPredictor(data, rowBytes, colors, bpc)
	case predictor >= 10 && predictor <= 15:
		return pngPredictor(data, rowBytes, bpp)
	}
	return nil, fmt.Errorf("unsupported predictor %d", predictor)
}

func pngPredictor(data []byte, rowBytes, bpp int) ([]byte, error) {
	stride := rowBytes + 1
	out := make([]byte, 0, len(data)/stride*rowBytes)
	prev := make([]byte, rowBytes)
	for off := 0; off < len(data); off += stride {
		end := off + stride
		if end > len(data) {
			end = len(data)
		}
		tag := data[off]
		row := make([]byte, rowBytes)
		copy(row, data[off+1:end])
		for i := range row {
			var left, upLeft byte
			if i >= bpp {
				left = row[i-bpp]
				upLeft = prev[i-bpp]
			}
			up := prev[i]
			switch tag {
			case 0:
			case 1:
				row[i] += left
			case 2:
				row[i] += up
			case 3:
				row[i] += byte((int(left) + int(up)) / 2)
			case 4:
				row[i] += paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("invalid PNG row filter %d", tag)
			}
		}
		out = append(out, row[:end-off-1]...)
		prev = row
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func tiffPredictor(data []byte, rowBytes, colors, bpc int) ([]byte, error) {
	out := append([]byte(nil), data...)
	for start := 0; start < len(out); start += rowBytes {
		end := start + rowBytes
		if end > len(out) {
			end = len(out)
		}
		row := out[start:end]
		switch bpc {
		case 8:
			for i := colors; i < len(row); i++ {
				row[i] += row[i-colors]
			}
		case 16:
			for i := 2 * colors; i+1 < len(row); i += 2 {
				v := uint16(row[i])<<8 | uint16(row[i+1])
				p := uint16(row[i-2*colors])<<8 | uint16(row[i-2*colors+1])
				v += p
				row[i], row[i+1] = byte(v>>8), byte(v)
			}
		default:
			// Sub-byte samples: unpack, accumulate per component, repack.
			mask := 1<<bpc - 1
			samples := len(row) * 8 / bpc
			get := func(k int) int {
				bit := k * bpc
				return int(row[bit/8]>>(8-bpc-bit%8)) & mask
			}
			set := func(k, v int) {
				bit := k * bpc
				shift := 8 - bpc - bit%8
				row[bit/8] = row[bit/8]&^byte(mask<<shift) | byte((v&mask)<<shift)
			}
			for k := colors; k < samples; k++ {
				set(k, get(k)+get(k-colors))
			}
		}
	}
	return out, nil
}
