package writer

import (
	"crypto/md5"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/wudi/pdfcore/ir/raw"
)

type Trapped int

const (
	TrappedUnknown Trapped = iota
	TrappedTrue
	TrappedFalse
)

// Info is the document information dictionary. Empty fields and zero
// times are left out.
type Info struct {
	Title, Author, Subject, Keywords, Creator, Producer string
	CreationDate, ModDate                                time.Time
	Trapped                                              Trapped
	// Extra holds further text entries by key.
	Extra map[string]string
}

func (i *Info) IsEmpty() bool {
	return i.Title == "" && i.Author == "" && i.Subject == "" && i.Keywords == "" &&
		i.Creator == "" && i.Producer == "" && i.CreationDate.IsZero() && i.ModDate.IsZero() &&
		i.Trapped == TrappedUnknown && len(i.Extra) == 0
}

func (i *Info) dictionary() *raw.DictObj {
	d := raw.Dict()
	text := func(key, v string) {
		if v != "" {
			d.Set(key, raw.TextString(v))
		}
	}
	text("Title", i.Title)
	text("Author", i.Author)
	text("Subject", i.Subject)
	text("Keywords", i.Keywords)
	text("Creator", i.Creator)
	text("Producer", i.Producer)
	if !i.CreationDate.IsZero() {
		d.Set("CreationDate", raw.Str([]byte(FormatDate(i.CreationDate))))
	}
	if !i.ModDate.IsZero() {
		d.Set("ModDate", raw.Str([]byte(FormatDate(i.ModDate))))
	}
	switch i.Trapped {
	case TrappedTrue:
		d.Set("Trapped", raw.NameLiteral("True"))
	case TrappedFalse:
		d.Set("Trapped", raw.NameLiteral("False"))
	}
	for k, v := range i.Extra {
		if !d.Has(k) {
			text(k, v)
		}
	}
	return d
}

// readInfo fills i from a parsed information dictionary; resolve follows
// references. Unparseable dates are dropped.
func (i *Info) readInfo(d *raw.DictObj, resolve func(raw.Object) raw.Object) {
	for _, k := range d.Keys() {
		b, ok := raw.AsString(resolve(d.KV[k]))
		if !ok {
			if k == "Trapped" {
				switch v, _ := raw.AsName(resolve(d.KV[k])); v {
				case "True":
					i.Trapped = TrappedTrue
				case "False":
					i.Trapped = TrappedFalse
				}
			}
			continue
		}
		s := raw.DecodeText(b)
		switch k {
		case "Title":
			i.Title = s
		case "Author":
			i.Author = s
		case "Subject":
			i.Subject = s
		case "Keywords":
			i.Keywords = s
		case "Creator":
			i.Creator = s
		case "Producer":
			i.Producer = s
		case "CreationDate":
			if t, err := ParseDate(s); err == nil {
				i.CreationDate = t
			}
		case "ModDate":
			if t, err := ParseDate(s); err == nil {
				i.ModDate = t
			}
		default:
			if i.Extra == nil {
				i.Extra = make(map[string]string)
			}
			i.Extra[k] = s
		}
	}
}

// FormatDate renders t as D:YYYYMMDDHHmmSSOHH'mm'.
func FormatDate(t time.Time) string {
	s := t.Format("D:20060102150405")
	_, off := t.Zone()
	if off == 0 {
		return s + "Z"
	}
	sign := '+'
	if off < 0 {
		sign, off = '-', -off
	}
	return fmt.Sprintf("%s%c%02d'%02d'", s, sign, off/3600, off%3600/60)
}

// ParseDate reads a date string. Every field after the year is optional.
func ParseDate(s string) (time.Time, error) {
	if len(s) >= 2 && s[:2] == "D:" {
		s = s[2:]
	}
	fields := []int{0, 1, 1, 0, 0, 0}
	widths := []int{4, 2, 2, 2, 2, 2}
	pos := 0
	for i, w := range widths {
		if pos+w > len(s) || !digits(s[pos:pos+w]) {
			if i == 0 {
				return time.Time{}, fmt.Errorf("bad date %q", s)
			}
			break
		}
		fields[i], _ = strconv.Atoi(s[pos : pos+w])
		pos += w
	}
	loc := time.UTC
	if pos < len(s) && (s[pos] == '+' || s[pos] == '-') {
		rest := s[pos+1:]
		var hh, mm int
		if len(rest) >= 2 && digits(rest[:2]) {
			hh, _ = strconv.Atoi(rest[:2])
			rest = rest[2:]
			if len(rest) > 0 && rest[0] == '\'' {
				rest = rest[1:]
			}
			if len(rest) >= 2 && digits(rest[:2]) {
				mm, _ = strconv.Atoi(rest[:2])
			}
		}
		off := hh*3600 + mm*60
		if s[pos] == '-' {
			off = -off
		}
		loc = time.FixedZone("", off)
	}
	return time.Date(fields[0], time.Month(fields[1]), fields[2], fields[3], fields[4], fields[5], 0, loc), nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// generateID hashes the time, the output name, the position and the
// information entries into a fresh file identifier.
func generateID(now time.Time, name string, position int64, info *Info) []byte {
	h := md5.New()
	io.WriteString(h, FormatDate(now))
	io.WriteString(h, now.Format(time.RFC3339Nano))
	io.WriteString(h, name)
	io.WriteString(h, strconv.FormatInt(position, 10))
	for _, v := range []string{info.Title, info.Author, info.Subject, info.Keywords, info.Creator, info.Producer} {
		io.WriteString(h, v)
	}
	if !info.CreationDate.IsZero() {
		io.WriteString(h, FormatDate(info.CreationDate))
	}
	if !info.ModDate.IsZero() {
		io.WriteString(h, FormatDate(info.ModDate))
	}
	fmt.Fprintf(h, "%d", info.Trapped)
	keys := make([]string, 0, len(info.Extra))
	for k := range info.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		io.WriteString(h, info.Extra[k])
	}
	return h.Sum(nil)
}
