package vdisk

// Decompressor is the external text-compression utility collaborator
// (spec.md §1): the virtual disk's two embedded files may be stored
// compressed in ROM and are expanded once, when NewTranslator builds the
// Translator. The core only depends on
// this contract; a board package supplies the real decompressor (or
// none, if the embedded files are stored uncompressed).
type Decompressor interface {
	Decompress(compressed []byte) ([]byte, error)
}

// passthrough is used when no Decompressor is configured: the embedded
// payload is already plain text.
type passthrough struct{}

func (passthrough) Decompress(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
