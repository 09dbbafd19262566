package security

import (
	"errors"
	"fmt"

	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/pdferr"
)

// ObjectSource is the read side the helpers need: the trailer plus
// reference-resolving lookups. The parser implements it.
type ObjectSource interface {
	GetTrailer() *raw.DictObj
	QueryDictionaryObject(d *raw.DictObj, key string) raw.Object
	QueryArrayObject(a *raw.ArrayObj, i int) raw.Object
}

// StreamFilter transforms raw stream bytes.
type StreamFilter func(data []byte) ([]byte, error)

func passThrough(data []byte) ([]byte, error) { return data, nil }

const stdCF = "StdCF"

// DecryptionHelper holds the Standard security handler state of a parsed
// document. Setup reads /Encrypt and authenticates the password; the parser
// then brackets every indirect object with OnObjectStart/OnObjectEnd so
// strings and streams are decrypted with their own object key.
type DecryptionHelper struct {
	log observability.Logger
	src ObjectSource

	isEncrypted    bool
	supports       bool
	failedPassword bool
	ownerOK        bool

	v, revision, length int
	p                   int32
	o, u, fileID        []byte
	encryptMetadata     bool

	engines                map[string]*Engine
	streams, strings, auth *Engine
	pauseLevel             int

	// keys saved by OnObjectEnd for streams decoded later
	streamKeys map[*raw.StreamObj][]byte
}

func NewDecryptionHelper(log observability.Logger) *DecryptionHelper {
	h := &DecryptionHelper{log: observability.OrNop(log).With(observability.String("component", "decrypt"))}
	h.Reset()
	return h
}

func (h *DecryptionHelper) Reset() {
	h.src = nil
	h.isEncrypted, h.supports, h.failedPassword, h.ownerOK = false, false, false, false
	h.engines = make(map[string]*Engine)
	h.streams, h.strings, h.auth = nil, nil, nil
	h.pauseLevel = 0
	h.streamKeys = make(map[*raw.StreamObj][]byte)
}

// computeLength converts an Encrypt or crypt filter /Length to bytes. Some
// writers store bytes instead of bits, so values under 40 are taken as is.
func computeLength(o raw.Object) int {
	n, ok := raw.AsInt(o)
	if !ok {
		n = 40
	}
	if n < 40 {
		return int(n)
	}
	return int(n / 8)
}

// Setup reads the trailer /Encrypt dictionary. An unencrypted document, or
// one this handler cannot decrypt, leaves SupportsDecryption false; a wrong
// password sets DidFailPasswordVerification.
func (h *DecryptionHelper) Setup(src ObjectSource, password string) {
	h.Reset()
	h.src = src

	enc, _ := raw.AsDict(src.QueryDictionaryObject(src.GetTrailer(), "Encrypt"))
	h.isEncrypted = enc != nil
	if !h.isEncrypted {
		return
	}
	if err := h.readEncryptDictionary(enc); err != nil {
		h.log.Warn("decryption not supported", observability.Error("error", err))
		return
	}

	k := h.keyParams()
	pwd := []byte(password)
	switch {
	case h.revision < 2 || h.revision > 4:
		h.log.Warn("decryption not supported", observability.Int("revision", h.revision))
		return
	case h.v == 4 && !h.hasCryptFilter(enc, stdCF):
		// no StdCF: there is nothing to authenticate against
	default:
		if user, ok := authenticateOwner(pwd, h.u, k); ok {
			h.ownerOK = true
			pwd = user
		} else if !authenticateUser(pwd, h.u, k) {
			h.failedPassword = true
		}
	}

	if h.v == 4 {
		h.setupCryptFilters(enc, pwd)
	} else {
		e := newEngine(false, fileKey(pwd, k))
		h.engines[stdCF] = e
		h.streams, h.strings, h.auth = e, e, e
	}
	h.supports = true
	h.log.Debug("encryption set up",
		observability.Int("v", h.v),
		observability.Int("revision", h.revision),
		observability.Bool("owner", h.ownerOK),
		observability.Bool("failed", h.failedPassword))
}

func (h *DecryptionHelper) readEncryptDictionary(enc *raw.DictObj) error {
	q := h.src.QueryDictionaryObject
	if filter, _ := raw.AsName(q(enc, "Filter")); filter != "Standard" {
		return fmt.Errorf("unsupported security handler %q", filter)
	}
	if v := q(enc, "V"); v == nil {
		h.v = 0
	} else if n, ok := raw.AsInt(v); ok {
		h.v = int(n)
	} else {
		return errors.New("/V is not a number")
	}
	if h.v != 1 && h.v != 2 && h.v != 4 {
		return fmt.Errorf("unsupported /V %d", h.v)
	}
	r, ok := raw.AsInt(q(enc, "R"))
	if !ok {
		return errors.New("missing /R")
	}
	h.revision = int(r)
	if h.o, ok = raw.AsString(q(enc, "O")); !ok {
		return errors.New("missing /O")
	}
	if h.u, ok = raw.AsString(q(enc, "U")); !ok {
		return errors.New("missing /U")
	}
	p, ok := raw.AsInt(q(enc, "P"))
	if !ok {
		return errors.New("missing /P")
	}
	h.p = int32(p)
	h.encryptMetadata = true
	if b, ok := raw.AsBool(q(enc, "EncryptMetadata")); ok {
		h.encryptMetadata = b
	}
	h.fileID = nil
	if ids, ok := raw.AsArray(h.src.QueryDictionaryObject(h.src.GetTrailer(), "ID")); ok && ids.Len() > 0 {
		h.fileID, _ = raw.AsString(h.src.QueryArrayObject(ids, 0))
	}
	h.length = 5
	if l := q(enc, "Length"); l != nil {
		h.length = computeLength(l)
	}
	return nil
}

func (h *DecryptionHelper) hasCryptFilter(enc *raw.DictObj, name string) bool {
	cf, ok := raw.AsDict(h.src.QueryDictionaryObject(enc, "CF"))
	return ok && cf.Has(name)
}

// setupCryptFilters builds one engine per /CF entry and binds /StmF and
// /StrF. A role without a binding, or bound to a name missing from /CF,
// is Identity.
func (h *DecryptionHelper) setupCryptFilters(enc *raw.DictObj, pwd []byte) {
	q := h.src.QueryDictionaryObject
	cf, ok := raw.AsDict(q(enc, "CF"))
	if !ok {
		return
	}
	for _, name := range cf.Keys() {
		entry, ok := raw.AsDict(q(cf, name))
		if !ok {
			continue
		}
		cfm, _ := raw.AsName(q(entry, "CFM"))
		if cfm == "None" {
			continue
		}
		length := h.length
		if l := q(entry, "Length"); l != nil {
			length = computeLength(l)
		}
		k := h.keyParams()
		k.Length = length
		h.engines[name] = newEngine(cfm == "AESV2", fileKey(pwd, k))
	}
	stmF, strF := "Identity", "Identity"
	if n, ok := raw.AsName(q(enc, "StmF")); ok {
		stmF = n
	}
	if n, ok := raw.AsName(q(enc, "StrF")); ok {
		strF = n
	}
	h.streams = h.engines[stmF]
	h.strings = h.engines[strF]
	h.auth = h.engines[stdCF]
}

func (h *DecryptionHelper) keyParams() keyParams {
	return keyParams{
		Revision:        h.revision,
		Length:          h.length,
		O:               h.o,
		P:               h.p,
		FileID:          h.fileID,
		EncryptMetadata: h.encryptMetadata,
	}
}

func (h *DecryptionHelper) IsEncrypted() bool        { return h.isEncrypted }
func (h *DecryptionHelper) SupportsDecryption() bool { return h.supports }

func (h *DecryptionHelper) CanDecryptDocument() bool {
	return h.supports && !h.failedPassword
}

func (h *DecryptionHelper) DidFailPasswordVerification() bool { return h.failedPassword }

func (h *DecryptionHelper) DidSucceedOwnerPasswordVerification() bool { return h.ownerOK }

// IsDecrypting reports whether strings read now should be decrypted.
func (h *DecryptionHelper) IsDecrypting() bool {
	return h.isEncrypted && h.CanDecryptDocument() && h.pauseLevel == 0
}

// PauseDecryption and ReleaseDecryption nest.
func (h *DecryptionHelper) PauseDecryption()   { h.pauseLevel++ }
func (h *DecryptionHelper) ReleaseDecryption() { h.pauseLevel-- }

func (h *DecryptionHelper) OnObjectStart(id, gen int) {
	for _, e := range h.engines {
		e.OnObjectStart(id, gen)
	}
}

// OnObjectEnd closes the object opened by the matching OnObjectStart. For a
// stream the current key of its crypt filter is kept so the payload can be
// decoded after the object is closed.
func (h *DecryptionHelper) OnObjectEnd(obj raw.Object) {
	if stm, ok := obj.(*raw.StreamObj); ok && h.IsDecrypting() && h.streamEncrypted(stm) {
		if e := h.GetCryptForStream(stm); e != nil {
			h.streamKeys[stm] = append([]byte{}, e.CurrentObjectKey()...)
		}
	}
	for _, e := range h.engines {
		e.OnObjectEnd()
	}
}

// streamEncrypted excludes payloads the format leaves in the clear.
func (h *DecryptionHelper) streamEncrypted(stm *raw.StreamObj) bool {
	typ, _ := raw.AsName(h.src.QueryDictionaryObject(stm.Dict, "Type"))
	switch typ {
	case "XRef":
		return false
	case "Metadata":
		return h.encryptMetadata
	}
	return true
}

// GetCryptForStream returns the engine that protects stm: the one named by
// its Crypt filter parameters, or the default stream engine. nil means
// Identity.
func (h *DecryptionHelper) GetCryptForStream(stm *raw.StreamObj) *Engine {
	if !h.hasStreamCryptFilter(stm) {
		return h.streams
	}
	q := h.src.QueryDictionaryObject
	switch f := q(stm.Dict, "Filter").(type) {
	case *raw.ArrayObj:
		idx := -1
		for i := 0; i < f.Len(); i++ {
			if n, _ := raw.AsName(h.src.QueryArrayObject(f, i)); n == "Crypt" {
				idx = i
				break
			}
		}
		if idx < 0 {
			return h.streams
		}
		parms, ok := raw.AsArray(q(stm.Dict, "DecodeParms"))
		if !ok {
			return h.streams
		}
		item, ok := raw.AsDict(h.src.QueryArrayObject(parms, idx))
		if !ok {
			return h.streams
		}
		return h.engineByParms(item)
	case raw.NameObj:
		item, ok := raw.AsDict(q(stm.Dict, "DecodeParms"))
		if !ok {
			return h.streams
		}
		return h.engineByParms(item)
	}
	return h.streams
}

func (h *DecryptionHelper) engineByParms(parms *raw.DictObj) *Engine {
	name, ok := raw.AsName(h.src.QueryDictionaryObject(parms, "Name"))
	if !ok {
		return nil
	}
	return h.engines[name]
}

func (h *DecryptionHelper) hasStreamCryptFilter(stm *raw.StreamObj) bool {
	switch f := h.src.QueryDictionaryObject(stm.Dict, "Filter").(type) {
	case raw.NameObj:
		return f.Val == "Crypt"
	case *raw.ArrayObj:
		for i := 0; i < f.Len(); i++ {
			n, ok := raw.AsName(h.src.QueryArrayObject(f, i))
			if !ok {
				return false
			}
			if n == "Crypt" {
				return true
			}
		}
	}
	return false
}

// DecryptString decrypts a string of the object currently open.
func (h *DecryptionHelper) DecryptString(data []byte) ([]byte, error) {
	if !h.IsDecrypting() || h.strings == nil {
		return data, nil
	}
	return h.strings.decrypt(h.strings.CurrentObjectKey(), data)
}

// CreateDefaultDecryptionFilterForStream returns the decryption applied to
// stm before its filters, or nil when none applies: the document is not
// decryptable, the stream declares its own Crypt filter, or the stream
// role is Identity.
func (h *DecryptionHelper) CreateDefaultDecryptionFilterForStream(stm *raw.StreamObj) StreamFilter {
	if !h.isEncrypted || !h.CanDecryptDocument() || h.hasStreamCryptFilter(stm) || h.streams == nil {
		return nil
	}
	key, ok := h.streamKeys[stm]
	if !ok {
		return nil
	}
	e := h.streams
	return func(data []byte) ([]byte, error) { return e.decrypt(key, data) }
}

// CreateDecryptionFilterForStream returns the decryption for the crypt
// filter called name. Unlike the default filter it never returns nil.
func (h *DecryptionHelper) CreateDecryptionFilterForStream(stm *raw.StreamObj, name string) StreamFilter {
	if !h.isEncrypted || !h.CanDecryptDocument() {
		return passThrough
	}
	key, ok := h.streamKeys[stm]
	if !ok {
		return passThrough
	}
	e := h.engines[name]
	if e == nil {
		return passThrough
	}
	return func(data []byte) ([]byte, error) { return e.decrypt(key, data) }
}

func (h *DecryptionHelper) Length() int                 { return h.length }
func (h *DecryptionHelper) V() int                      { return h.v }
func (h *DecryptionHelper) Revision() int               { return h.revision }
func (h *DecryptionHelper) P() int32                    { return h.p }
func (h *DecryptionHelper) EncryptMetadata() bool       { return h.encryptMetadata }
func (h *DecryptionHelper) FileIDPart1() []byte         { return h.fileID }
func (h *DecryptionHelper) O() []byte                   { return h.o }
func (h *DecryptionHelper) U() []byte                   { return h.u }
func (h *DecryptionHelper) Engines() map[string]*Engine { return h.engines }
func (h *DecryptionHelper) StreamEngine() *Engine       { return h.streams }
func (h *DecryptionHelper) StringEngine() *Engine       { return h.strings }
func (h *DecryptionHelper) AuthEngine() *Engine         { return h.auth }

// Permissions decodes /P.
func (h *DecryptionHelper) Permissions() Permissions { return PermissionsFromP(h.p) }

// InitialKey returns the document key of the authentication filter.
func (h *DecryptionHelper) InitialKey() ([]byte, error) {
	if !h.supports {
		return nil, pdferr.Encryption("initial key", errors.New("decryption not supported"))
	}
	if h.auth == nil {
		return nil, pdferr.Encryption("initial key", errors.New("no StdCF crypt filter"))
	}
	return h.auth.InitialKey(), nil
}
