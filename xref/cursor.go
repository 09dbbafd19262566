package xref

import "io"

const windowSize = 64 * 1024

// cursor reads bytes from a ReaderAt through a single sliding window. The
// classic table is fixed-width text, so it is read without the tokenizer.
type cursor struct {
	r    io.ReaderAt
	size int64
	pos  int64
	base int64
	buf  []byte
}

func newCursor(r io.ReaderAt, size int64) *cursor {
	return &cursor{r: r, size: size}
}

func (c *cursor) byteAt(off int64) (byte, bool) {
	if off < 0 || off >= c.size {
		return 0, false
	}
	if off < c.base || off >= c.base+int64(len(c.buf)) {
		n := int64(windowSize)
		if off+n > c.size {
			n = c.size - off
		}
		buf := make([]byte, n)
		m, err := c.r.ReadAt(buf, off)
		if m == 0 && err != nil {
			return 0, false
		}
		c.buf, c.base = buf[:m], off
	}
	return c.buf[off-c.base], true
}

func (c *cursor) peek() (byte, bool) { return c.byteAt(c.pos) }

func (c *cursor) skipSpace() {
	for {
		b, ok := c.peek()
		if !ok || !isSpace(b) {
			return
		}
		c.pos++
	}
}

// skipBlanks skips spaces and tabs but stops at line ends.
func (c *cursor) skipBlanks() {
	for {
		b, ok := c.peek()
		if !ok || (b != ' ' && b != '\t') {
			return
		}
		c.pos++
	}
}

func (c *cursor) hasPrefix(p string) bool {
	for i := 0; i < len(p); i++ {
		b, ok := c.byteAt(c.pos + int64(i))
		if !ok || b != p[i] {
			return false
		}
	}
	return true
}

// readUint consumes a run of decimal digits.
func (c *cursor) readUint() (int64, bool) {
	var v int64
	n := 0
	for {
		b, ok := c.peek()
		if !ok || b < '0' || b > '9' {
			break
		}
		v = v*10 + int64(b-'0')
		c.pos++
		n++
	}
	return v, n > 0
}

// read returns up to n bytes starting at the cursor without advancing it.
func (c *cursor) read(n int) []byte {
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		b, ok := c.byteAt(c.pos + int64(i))
		if !ok {
			break
		}
		out = append(out, b)
	}
	return out
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}

func isEOL(b byte) bool { return b == '\r' || b == '\n' }

// sizeOf reports the length of r, probing with ReadAt when r does not
// expose a Size method.
func sizeOf(r io.ReaderAt) int64 {
	if s, ok := r.(interface{ Size() int64 }); ok {
		return s.Size()
	}
	var one [1]byte
	hi := int64(1)
	for {
		if n, _ := r.ReadAt(one[:], hi-1); n == 0 {
			break
		}
		hi *= 2
	}
	lo := hi / 2
	for lo < hi {
		mid := (lo + hi) / 2
		if n, _ := r.ReadAt(one[:], mid); n == 1 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
