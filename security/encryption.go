package security

import (
	"github.com/wudi/pdfcore/ir/raw"
)

// EncryptionHelper encrypts strings and streams while a document is
// written. The writer brackets each indirect object with OnObjectStart and
// OnObjectEnd, exactly as the parser does for DecryptionHelper.
type EncryptionHelper struct {
	encrypted  bool
	supports   bool
	pauseLevel int

	v, revision, length int
	p                   int32
	o, u, fileID        []byte
	encryptMetadata     bool

	engines                map[string]*Engine
	streams, strings, auth *Engine
}

func NewEncryptionHelper() *EncryptionHelper {
	return &EncryptionHelper{supports: true, engines: make(map[string]*Engine)}
}

// Setup prepares encryption for a new document. The scheme follows the
// output version: 1.6 and later use AESV2 (V4/R4), 1.4 and later RC4 with
// a 128-bit key (V2/R3), older files 40-bit RC4 (V1, R3 when any of the
// extended permission bits 0xF00 is requested, R2 otherwise). flags holds
// the permission bits to grant; the owner password defaults to the user
// password.
func (h *EncryptionHelper) Setup(level float64, userPassword, ownerPassword string, flags int64, encryptMetadata bool, fileID []byte) {
	h.reset()
	aes := level >= 1.6
	switch {
	case aes:
		h.length, h.v, h.revision = 16, 4, 4
	case level >= 1.4:
		h.length, h.v, h.revision = 16, 2, 3
	default:
		h.length, h.v = 5, 1
		h.revision = 2
		if flags&0xF00 != 0 {
			h.revision = 3
		}
	}
	h.p = PValue(flags)
	h.encryptMetadata = encryptMetadata
	h.fileID = append([]byte{}, fileID...)

	if ownerPassword == "" {
		ownerPassword = userPassword
	}
	h.o = computeO([]byte(ownerPassword), []byte(userPassword), h.revision, h.length)
	k := keyParams{Revision: h.revision, Length: h.length, O: h.o, P: h.p, FileID: h.fileID, EncryptMetadata: h.encryptMetadata}
	h.u = computeU([]byte(userPassword), k)

	e := newEngine(aes, fileKey([]byte(userPassword), k))
	h.engines[stdCF] = e
	h.streams, h.strings, h.auth = e, e, e
	h.encrypted = true
}

func (h *EncryptionHelper) SetupNoEncryption() {
	h.reset()
}

// SetupFromDecryption continues the encryption of a parsed document, for
// incremental updates. Each crypt filter keeps its document key and role.
func (h *EncryptionHelper) SetupFromDecryption(d *DecryptionHelper) {
	h.reset()
	if !d.IsEncrypted() || !d.CanDecryptDocument() {
		return
	}
	h.length, h.v, h.revision = d.Length(), d.V(), d.Revision()
	h.p = d.P()
	h.encryptMetadata = d.EncryptMetadata()
	h.fileID, h.o, h.u = d.FileIDPart1(), d.O(), d.U()
	for name, src := range d.Engines() {
		e := newEngine(src.UsesAES(), src.InitialKey())
		h.engines[name] = e
		if src == d.StreamEngine() {
			h.streams = e
		}
		if src == d.StringEngine() {
			h.strings = e
		}
		if src == d.AuthEngine() {
			h.auth = e
		}
	}
	h.encrypted = true
}

func (h *EncryptionHelper) reset() {
	h.encrypted, h.supports, h.pauseLevel = false, true, 0
	h.engines = make(map[string]*Engine)
	h.streams, h.strings, h.auth = nil, nil, nil
}

func (h *EncryptionHelper) SupportsEncryption() bool  { return h.supports }
func (h *EncryptionHelper) IsDocumentEncrypted() bool { return h.encrypted }

// IsEncrypting reports whether output written now is encrypted.
func (h *EncryptionHelper) IsEncrypting() bool { return h.encrypted && h.pauseLevel == 0 }

func (h *EncryptionHelper) PauseEncryption()   { h.pauseLevel++ }
func (h *EncryptionHelper) ReleaseEncryption() { h.pauseLevel-- }

func (h *EncryptionHelper) OnObjectStart(id, gen int) {
	if !h.IsEncrypting() {
		return
	}
	for _, e := range h.engines {
		e.OnObjectStart(id, gen)
	}
}

func (h *EncryptionHelper) OnObjectEnd() {
	if !h.IsEncrypting() {
		return
	}
	for _, e := range h.engines {
		e.OnObjectEnd()
	}
}

// EncryptString encrypts a string of the object currently open.
func (h *EncryptionHelper) EncryptString(data []byte) ([]byte, error) {
	if !h.IsEncrypting() || h.strings == nil {
		return data, nil
	}
	return h.strings.encrypt(h.strings.CurrentObjectKey(), data)
}

// EncryptStream encrypts a stream payload of the object currently open.
func (h *EncryptionHelper) EncryptStream(data []byte) ([]byte, error) {
	if !h.IsEncrypting() || h.streams == nil {
		return data, nil
	}
	return h.streams.encrypt(h.streams.CurrentObjectKey(), data)
}

func (h *EncryptionHelper) FileIDPart1() []byte { return h.fileID }

// EncryptMetadata is false when /Metadata streams are left in clear.
func (h *EncryptionHelper) EncryptMetadata() bool { return h.encryptMetadata }

// EncryptionDictionary builds the /Encrypt dictionary. /Length is omitted
// for 40-bit keys.
func (h *EncryptionHelper) EncryptionDictionary() *raw.DictObj {
	d := raw.Dict()
	d.Set("Filter", raw.NameLiteral("Standard"))
	d.Set("V", raw.NumberInt(int64(h.v)))
	if h.length != 5 {
		d.Set("Length", raw.NumberInt(int64(h.length*8)))
	}
	d.Set("R", raw.NumberInt(int64(h.revision)))
	d.Set("O", raw.HexStr(h.o))
	d.Set("U", raw.HexStr(h.u))
	d.Set("P", raw.NumberInt(int64(h.p)))
	d.Set("EncryptMetadata", raw.Bool(h.encryptMetadata))
	if h.v == 4 {
		std := raw.Dict()
		std.Set("Type", raw.NameLiteral("CryptFilter"))
		std.Set("CFM", raw.NameLiteral("AESV2"))
		std.Set("AuthEvent", raw.NameLiteral("DocOpen"))
		std.Set("Length", raw.NumberInt(128))
		cf := raw.Dict()
		cf.Set(stdCF, std)
		d.Set("CF", cf)
		d.Set("StmF", raw.NameLiteral(stdCF))
		d.Set("StrF", raw.NameLiteral(stdCF))
	}
	return d
}
