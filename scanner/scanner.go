// Package scanner tokenizes PDF syntax read from an io.ReaderAt.
package scanner

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/wudi/pdfcore/recovery"
)

type TokenType int

const (
	TokenDict    TokenType = iota // '<<'
	TokenArray                    // '['
	TokenName                     // '/Name'
	TokenString                   // literal or hex string
	TokenNumber                   // integer or real
	TokenBoolean                  // true/false
	TokenNull                     // null
	TokenRef                      // '5 0 R'
	TokenStream                   // stream payload, keyword consumed through endstream
	TokenKeyword                  // obj, endobj, >>, ], xref, trailer, startxref and any other bare word
)

func (t TokenType) String() string {
	switch t {
	case TokenDict:
		return "dict"
	case TokenArray:
		return "array"
	case TokenName:
		return "name"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenBoolean:
		return "boolean"
	case TokenNull:
		return "null"
	case TokenRef:
		return "ref"
	case TokenStream:
		return "stream"
	case TokenKeyword:
		return "keyword"
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token is a single lexical unit. Only the fields relevant to Type are set:
// Str for names and keywords, Bytes for strings and stream payloads,
// Int/Float/IsInt for numbers, Int/Gen for references.
type Token struct {
	Type  TokenType
	Str   string
	Bytes []byte
	Int   int64
	Float float64
	IsInt bool
	Bool  bool
	Gen   int
	Hex   bool
	Pos   int64
}

// IsKeyword reports whether the token is the bare word kw.
func (t Token) IsKeyword(kw string) bool { return t.Type == TokenKeyword && t.Str == kw }

type Scanner interface {
	Next() (Token, error)
	Position() int64
	Seek(offset int64) error
	// SetNextStreamLength tells the scanner how many payload bytes follow the
	// next 'stream' keyword. A negative value means search for endstream.
	SetNextStreamLength(n int64)
}

type Config struct {
	MaxStringLength int64
	MaxArrayDepth   int
	MaxDictDepth    int
	MaxStreamLength int64
	MaxStreamScan   int64
	WindowSize      int64
	Recovery        recovery.Strategy
}

// pdfScanner buffers data from a ReaderAt in fixed-size windows as it advances.
type pdfScanner struct {
	reader        io.ReaderAt
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
	chunkSize     int64
	eof           bool
	arrayDepth    int
	dictDepth     int
	recLoc        recovery.Location
	lastAction    recovery.Action
}

func New(r io.ReaderAt, cfg Config) Scanner {
	chunk := cfg.WindowSize
	if chunk <= 0 {
		chunk = 64 * 1024
	}
	return &pdfScanner{reader: r, cfg: cfg, nextStreamLen: -1, chunkSize: chunk}
}

func (s *pdfScanner) Position() int64 { return s.pos }

func (s *pdfScanner) Seek(offset int64) error {
	if offset < 0 {
		return fmt.Errorf("seek to %d: out of range", offset)
	}
	if err := s.ensure(offset); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if offset > int64(len(s.data)) {
		return fmt.Errorf("seek to %d: beyond end of input (%d)", offset, len(s.data))
	}
	s.pos = offset
	s.arrayDepth, s.dictDepth = 0, 0
	return nil
}

func (s *pdfScanner) SetNextStreamLength(n int64) { s.nextStreamLen = n }

// SetRecoveryLocation attaches object context to errors reported to the recovery strategy.
func (s *pdfScanner) SetRecoveryLocation(loc recovery.Location) { s.recLoc = loc }

func (s *pdfScanner) Next() (Token, error) {
	if err := s.skipWSAndComments(); err != nil {
		return Token{}, err
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peekAhead(1) == '<' {
			s.pos += 2
			return s.emit(Token{Type: TokenDict, Str: "<<", Pos: start})
		}
		return s.scanHexString()
	case '>':
		if s.peekAhead(1) == '>' {
			s.pos += 2
			return s.emit(Token{Type: TokenKeyword, Str: ">>", Pos: start})
		}
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: ">", Pos: start})
	case '[':
		s.pos++
		return s.emit(Token{Type: TokenArray, Str: "[", Pos: start})
	case ']':
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: "]", Pos: start})
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	if isNumberStart(c) {
		return s.scanNumberOrRef()
	}
	if isRegular(c) {
		return s.scanKeyword()
	}
	s.pos++
	return s.emit(Token{Type: TokenKeyword, Str: string(c), Pos: start})
}

func (s *pdfScanner) skipWSAndComments() error {
	for {
		if err := s.ensure(s.pos); err != nil {
			return err
		}
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for {
				s.pos++
				if err := s.ensure(s.pos); err != nil {
					return err
				}
				if isEOL(s.data[s.pos]) {
					break
				}
			}
			continue
		}
		return nil
	}
}

// ensure makes byte n addressable, returning io.EOF when the input is shorter.
func (s *pdfScanner) ensure(n int64) error {
	for int64(len(s.data)) <= n {
		if s.eof {
			return io.EOF
		}
		if err := s.loadMore(); err != nil {
			return err
		}
	}
	return nil
}

func (s *pdfScanner) loadMore() error {
	buf := make([]byte, s.chunkSize)
	n, err := s.reader.ReadAt(buf, int64(len(s.data)))
	if n > 0 {
		s.data = append(s.data, buf[:n]...)
	}
	switch {
	case errors.Is(err, io.EOF):
		s.eof = true
		return nil
	case err != nil:
		return err
	case n == 0:
		s.eof = true
	}
	return nil
}

// available reports whether byte i exists, loading more input as needed.
func (s *pdfScanner) available(i int64) bool { return s.ensure(i) == nil }

func (s *pdfScanner) peekAhead(n int64) byte {
	if !s.available(s.pos + n) {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *pdfScanner) scanName() (Token, error) {
	start := s.pos
	s.pos++
	var out bytes.Buffer
	for s.available(s.pos) {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' && s.available(s.pos+2) && isHex(s.data[s.pos+1]) && isHex(s.data[s.pos+2]) {
			out.WriteByte(unhex(s.data[s.pos+1])<<4 | unhex(s.data[s.pos+2]))
			s.pos += 3
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return s.emit(Token{Type: TokenName, Str: out.String(), Pos: start})
}

func (s *pdfScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++
	var buf bytes.Buffer
	depth := 1
	for depth > 0 && s.available(s.pos) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if !s.available(s.pos) {
				continue
			}
			esc := s.data[s.pos]
			s.pos++
			switch {
			case esc == '\r':
				if s.available(s.pos) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case esc == '\n':
			case esc >= '0' && esc <= '7':
				val := int(esc - '0')
				for k := 0; k < 2 && s.available(s.pos); k++ {
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = val<<3 + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(esc))
			}
			continue
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				continue
			}
		}
		buf.WriteByte(c)
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, s.recover(errors.New("literal string too long"), "literal")
		}
	}
	if depth != 0 {
		if err := s.recover(errors.New("unterminated literal string"), "literal"); err != nil && s.lastAction != recovery.ActionFix {
			return Token{}, err
		}
	}
	return s.emit(Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start})
}

func (s *pdfScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++
	var digits []byte
	closed := false
	for s.available(s.pos) {
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			closed = true
			break
		}
		if isWhitespace(c) {
			continue
		}
		if !isHex(c) {
			if err := s.recover(fmt.Errorf("invalid hex digit %q", c), "hex"); err != nil {
				return Token{}, err
			}
			continue
		}
		digits = append(digits, c)
	}
	if !closed {
		if err := s.recover(errors.New("unterminated hex string"), "hex"); err != nil && s.lastAction != recovery.ActionFix {
			return Token{}, err
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	if s.cfg.MaxStringLength > 0 && int64(len(digits)/2) > s.cfg.MaxStringLength {
		return Token{}, s.recover(errors.New("hex string too long"), "hex")
	}
	out := make([]byte, len(digits)/2)
	for i := range out {
		out[i] = unhex(digits[2*i])<<4 | unhex(digits[2*i+1])
	}
	return s.emit(Token{Type: TokenString, Bytes: out, Hex: true, Pos: start})
}

func (s *pdfScanner) scanKeyword() (Token, error) {
	start := s.pos
	for s.available(s.pos) && !isDelimiter(s.data[s.pos]) {
		s.pos++
	}
	kw := string(s.data[start:s.pos])
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Str: kw, Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Str: kw, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	}
	return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
}

// scanStream reads the payload after a 'stream' keyword. With a length hint
// the payload is exactly that many bytes; otherwise it runs to the first
// endstream marker that starts a line.
func (s *pdfScanner) scanStream(start int64) (Token, error) {
	hint := s.nextStreamLen
	s.nextStreamLen = -1
	if !s.available(s.pos) {
		return Token{}, s.recover(errors.New("stream missing EOL before data"), "stream")
	}
	switch s.data[s.pos] {
	case '\r':
		s.pos++
		if s.available(s.pos) && s.data[s.pos] == '\n' {
			s.pos++
		}
	case '\n':
		s.pos++
	default:
		if err := s.recover(errors.New("stream missing EOL before data"), "stream"); err != nil {
			return Token{}, err
		}
	}
	dataStart := s.pos
	if hint >= 0 {
		if s.cfg.MaxStreamLength > 0 && hint > s.cfg.MaxStreamLength {
			return Token{}, fmt.Errorf("stream length %d exceeds limit %d", hint, s.cfg.MaxStreamLength)
		}
		if hint > 0 && !s.available(dataStart+hint-1) {
			if err := s.recover(errors.New("stream ended before declared length"), "stream"); err != nil && s.lastAction != recovery.ActionFix {
				return Token{}, err
			}
			hint = int64(len(s.data)) - dataStart
		}
		end := dataStart + hint
		payload := append([]byte(nil), s.data[dataStart:end]...)
		s.pos = end
		if err := s.skipWSAndComments(); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.hasPrefixAt(s.pos, endstream) {
			s.pos += int64(len(endstream))
		} else if idx := s.indexFrom(s.pos, endstream); idx >= 0 {
			s.pos = idx + int64(len(endstream))
		}
		return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
	}

	idx := int64(-1)
	for i := dataStart; s.available(i + int64(len(endstream)) - 1); i++ {
		if s.cfg.MaxStreamScan > 0 && i-dataStart > s.cfg.MaxStreamScan {
			if err := s.recover(errors.New("endstream not found within scan limit"), "stream"); err != nil && s.lastAction != recovery.ActionFix {
				return Token{}, err
			}
			break
		}
		if s.data[i] == 'e' && s.hasPrefixAt(i, endstream) && hasBreakBefore(s.data, i, dataStart) {
			after := i + int64(len(endstream))
			if !s.available(after) || isDelimiter(s.data[after]) {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		if err := s.recover(errors.New("endstream not found"), "stream"); err != nil && s.lastAction != recovery.ActionFix {
			return Token{}, err
		}
		payload := append([]byte(nil), s.data[dataStart:]...)
		s.pos = int64(len(s.data))
		return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
	}
	end := idx
	if end > dataStart && s.data[end-1] == '\n' {
		end--
	}
	if end > dataStart && s.data[end-1] == '\r' {
		end--
	}
	if s.cfg.MaxStreamLength > 0 && end-dataStart > s.cfg.MaxStreamLength {
		return Token{}, s.recover(errors.New("stream too long"), "stream")
	}
	payload := append([]byte(nil), s.data[dataStart:end]...)
	s.pos = idx + int64(len(endstream))
	return s.emit(Token{Type: TokenStream, Bytes: payload, Pos: start})
}

var endstream = []byte("endstream")

func (s *pdfScanner) hasPrefixAt(i int64, p []byte) bool {
	if !s.available(i + int64(len(p)) - 1) {
		return false
	}
	return bytes.Equal(s.data[i:i+int64(len(p))], p)
}

func (s *pdfScanner) indexFrom(i int64, p []byte) int64 {
	for !s.eof {
		if err := s.loadMore(); err != nil {
			break
		}
	}
	if i >= int64(len(s.data)) {
		return -1
	}
	idx := bytes.Index(s.data[i:], p)
	if idx < 0 {
		return -1
	}
	return i + int64(idx)
}

// scanNumberOrRef reads a number and looks ahead for the 'n g R' form.
func (s *pdfScanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	first := s.scanNumberString()
	if first == "" {
		s.pos++
		if err := s.recover(fmt.Errorf("invalid number at %d", start), "number"); err != nil {
			return Token{}, err
		}
		return s.Next()
	}
	tok, err := numberToken(first, start)
	if err != nil {
		if err := s.recover(err, "number"); err != nil {
			return Token{}, err
		}
		return s.Next()
	}
	if !tok.IsInt || tok.Int < 0 {
		return s.emit(tok)
	}

	afterFirst := s.pos
	if err := s.skipWSAndComments(); err == nil {
		second := s.scanNumberString()
		if gen, err := strconv.Atoi(second); err == nil && gen >= 0 && second[0] != '+' {
			if err := s.skipWSAndComments(); err == nil && s.data[s.pos] == 'R' &&
				(!s.available(s.pos+1) || isDelimiter(s.data[s.pos+1])) {
				s.pos++
				return s.emit(Token{Type: TokenRef, Int: tok.Int, Gen: gen, Pos: start})
			}
		}
	}
	s.pos = afterFirst
	return s.emit(tok)
}

func numberToken(lit string, pos int64) (Token, error) {
	if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return Token{Type: TokenNumber, Int: i, Float: float64(i), IsInt: true, Str: lit, Pos: pos}, nil
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		// Producers occasionally emit "--5" or "1.2.3"; keep the leading valid part.
		f, err = strconv.ParseFloat(trimNumber(lit), 64)
		if err != nil {
			return Token{}, fmt.Errorf("invalid number %q", lit)
		}
	}
	return Token{Type: TokenNumber, Float: f, Str: lit, Pos: pos}, nil
}

func trimNumber(lit string) string {
	for len(lit) > 1 && (lit[0] == '-' || lit[0] == '+') && (lit[1] == '-' || lit[1] == '+') {
		lit = lit[1:]
	}
	if i := bytes.IndexByte([]byte(lit), '.'); i >= 0 {
		if j := bytes.IndexByte([]byte(lit[i+1:]), '.'); j >= 0 {
			lit = lit[:i+1+j]
		}
	}
	return lit
}

func (s *pdfScanner) scanNumberString() string {
	start := s.pos
	seenDigit := false
	for s.available(s.pos) {
		c := s.data[s.pos]
		if !isNumberStart(c) {
			break
		}
		if c >= '0' && c <= '9' {
			seenDigit = true
		}
		s.pos++
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return string(s.data[start:s.pos])
}

func (s *pdfScanner) recover(err error, component string) error {
	s.lastAction = recovery.ActionFail
	if s.cfg.Recovery == nil {
		return err
	}
	loc := s.recLoc
	loc.ByteOffset = s.pos
	if loc.Component != "" {
		loc.Component += "->"
	}
	loc.Component += "scanner:" + component
	s.lastAction = s.cfg.Recovery.OnError(nil, err, loc)
	switch s.lastAction {
	case recovery.ActionSkip, recovery.ActionFix, recovery.ActionWarn:
		return nil
	default:
		return err
	}
}

func (s *pdfScanner) emit(tok Token) (Token, error) {
	switch tok.Type {
	case TokenArray:
		s.arrayDepth++
		if s.cfg.MaxArrayDepth > 0 && s.arrayDepth > s.cfg.MaxArrayDepth {
			return Token{}, fmt.Errorf("array depth exceeds %d", s.cfg.MaxArrayDepth)
		}
	case TokenDict:
		s.dictDepth++
		if s.cfg.MaxDictDepth > 0 && s.dictDepth > s.cfg.MaxDictDepth {
			return Token{}, fmt.Errorf("dictionary depth exceeds %d", s.cfg.MaxDictDepth)
		}
	case TokenKeyword:
		switch tok.Str {
		case "]":
			if s.arrayDepth > 0 {
				s.arrayDepth--
			}
		case ">>":
			if s.dictDepth > 0 {
				s.dictDepth--
			}
		}
	}
	return tok, nil
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isEOL(c byte) bool { return c == '\r' || c == '\n' }

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return isWhitespace(c)
}

func isRegular(c byte) bool { return !isDelimiter(c) }

func isNumberStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	}
	return c
}

// hasBreakBefore reports whether position i starts a line or follows whitespace.
func hasBreakBefore(data []byte, i, dataStart int64) bool {
	if i == dataStart {
		return true
	}
	return isWhitespace(data[i-1])
}
