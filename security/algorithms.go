package security

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
)

var passwordPadding = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

func padPassword(pwd []byte) []byte {
	padded := make([]byte, 32)
	n := copy(padded, pwd)
	copy(padded[n:], passwordPadding)
	return padded
}

// keyParams are the Encrypt dictionary values every key derivation needs.
type keyParams struct {
	Revision        int
	Length          int // key length in bytes
	O               []byte
	P               int32
	FileID          []byte
	EncryptMetadata bool
}

func (k keyParams) length() int {
	if k.Revision == 2 || k.Length <= 0 {
		return 5
	}
	if k.Length > 16 {
		return 16
	}
	return k.Length
}

// fileKey is algorithm 3.2: the document key for a user password.
func fileKey(pwd []byte, k keyParams) []byte {
	n := k.length()
	h := md5.New()
	h.Write(padPassword(pwd))
	h.Write(k.O)
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], uint32(k.P))
	h.Write(p[:])
	h.Write(k.FileID)
	if k.Revision >= 4 && !k.EncryptMetadata {
		h.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	}
	key := h.Sum(nil)
	if k.Revision >= 3 {
		for i := 0; i < 50; i++ {
			sum := md5.Sum(key[:n])
			key = sum[:]
		}
	}
	return key[:n]
}

// ownerKey is the RC4 key derived from the owner password (steps a-d of
// algorithm 3.3).
func ownerKey(owner []byte, revision, length int) []byte {
	n := keyParams{Revision: revision, Length: length}.length()
	sum := md5.Sum(padPassword(owner))
	key := sum[:]
	if revision >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(key)
			key = sum[:]
		}
	}
	return key[:n]
}

// computeO is algorithm 3.3: the /O value.
func computeO(owner, user []byte, revision, length int) []byte {
	key := ownerKey(owner, revision, length)
	out := rc4XOR(key, padPassword(user))
	if revision >= 3 {
		for i := 1; i <= 19; i++ {
			out = rc4XOR(xorKey(key, byte(i)), out)
		}
	}
	return out
}

// computeU is algorithm 3.4 (revision 2) or 3.5 (revision 3 and later).
func computeU(user []byte, k keyParams) []byte {
	key := fileKey(user, k)
	if k.Revision == 2 {
		return rc4XOR(key, passwordPadding)
	}
	h := md5.New()
	h.Write(passwordPadding)
	h.Write(k.FileID)
	out := rc4XOR(key, h.Sum(nil))
	for i := 1; i <= 19; i++ {
		out = rc4XOR(xorKey(key, byte(i)), out)
	}
	// Remaining 16 bytes are arbitrary padding.
	return append(out, passwordPadding[:16]...)
}

// authenticateUser is algorithm 3.6.
func authenticateUser(user, u []byte, k keyParams) bool {
	want := computeU(user, k)
	if k.Revision == 2 {
		return len(u) >= 32 && bytes.Equal(want[:32], u[:32])
	}
	return len(u) >= 16 && bytes.Equal(want[:16], u[:16])
}

// recoverUserPassword runs steps a-b of algorithm 3.7: decrypting /O with
// the owner key yields the padded user password.
func recoverUserPassword(owner []byte, k keyParams) []byte {
	key := ownerKey(owner, k.Revision, k.Length)
	if k.Revision == 2 {
		return rc4XOR(key, k.O)
	}
	out := append([]byte{}, k.O...)
	for i := 19; i >= 0; i-- {
		out = rc4XOR(xorKey(key, byte(i)), out)
	}
	return out
}

// authenticateOwner is algorithm 3.7. On success it returns the user
// password recovered from /O.
func authenticateOwner(owner, u []byte, k keyParams) ([]byte, bool) {
	user := recoverUserPassword(owner, k)
	if !authenticateUser(user, u, k) {
		return nil, false
	}
	return user, true
}

// objectKey salts the document key with the object number and generation.
// AES keys add "sAlT". The result is min(n+5, 16) bytes.
func objectKey(key []byte, id, gen int, aes bool) []byte {
	buf := make([]byte, 0, len(key)+9)
	buf = append(buf, key...)
	buf = append(buf, byte(id), byte(id>>8), byte(id>>16), byte(gen), byte(gen>>8))
	if aes {
		buf = append(buf, 's', 'A', 'l', 'T')
	}
	sum := md5.Sum(buf)
	n := len(key) + 5
	if n > 16 {
		n = 16
	}
	return sum[:n]
}

func xorKey(key []byte, b byte) []byte {
	out := make([]byte, len(key))
	for i, c := range key {
		out[i] = c ^ b
	}
	return out
}
