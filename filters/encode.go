package filters

import (
	"bytes"
	"compress/zlib"
	"encoding/ascii85"
	"encoding/hex"
)

// FlateEncode compresses data in the zlib format FlateDecode expects.
func FlateEncode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ASCIIHexEncode writes upper-case hex digits terminated by '>'.
func ASCIIHexEncode(data []byte) []byte {
	out := make([]byte, hex.EncodedLen(len(data))+1)
	hex.Encode(out, data)
	out[len(out)-1] = '>'
	return bytes.ToUpper(out)
}

// ASCII85Encode writes data terminated by "~>".
func ASCII85Encode(data []byte) []byte {
	out := make([]byte, ascii85.MaxEncodedLen(len(data)))
	n := ascii85.Encode(out, data)
	return append(out[:n], '~', '>')
}
