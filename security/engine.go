package security

// Engine is one crypt filter: a cipher plus the document key it was set up
// with. Object keys are pushed by OnObjectStart and popped by OnObjectEnd,
// so nested objects (a stream's Length, an object stream member) restore
// the outer key when they finish.
type Engine struct {
	aes     bool
	initial []byte
	stack   [][]byte
}

func newEngine(aes bool, key []byte) *Engine {
	return &Engine{aes: aes, initial: append([]byte{}, key...)}
}

func (e *Engine) UsesAES() bool { return e.aes }

// InitialKey is the document key before per-object salting.
func (e *Engine) InitialKey() []byte { return e.initial }

func (e *Engine) OnObjectStart(id, gen int) {
	e.stack = append(e.stack, objectKey(e.initial, id, gen, e.aes))
}

func (e *Engine) OnObjectEnd() {
	if n := len(e.stack); n > 0 {
		e.stack = e.stack[:n-1]
	}
}

// CurrentObjectKey is the key of the innermost open object, or the initial
// key when no object is open.
func (e *Engine) CurrentObjectKey() []byte {
	if n := len(e.stack); n > 0 {
		return e.stack[n-1]
	}
	return e.initial
}

func (e *Engine) decrypt(key, data []byte) ([]byte, error) {
	if e.aes {
		return aesDecrypt(key, data)
	}
	return rc4XOR(key, data), nil
}

func (e *Engine) encrypt(key, data []byte) ([]byte, error) {
	if e.aes {
		return aesEncrypt(key, data)
	}
	return rc4XOR(key, data), nil
}
