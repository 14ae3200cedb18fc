package vm

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// ChunkMagic tags every encoded chunk.
const ChunkMagic = "BLXC"

// ChunkFileExt is the conventional extension for compiled chunk files.
const ChunkFileExt = ".blxc"

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type wireValue struct {
	Kind ValueKind `cbor:"k"`
	Num  float64   `cbor:"n,omitempty"`
	Str  string    `cbor:"s,omitempty"`
}

type wireInstruction struct {
	Op    Opcode     `cbor:"o"`
	Value *wireValue `cbor:"v,omitempty"`
	Name  string     `cbor:"g,omitempty"`
}

type wireChunk struct {
	Magic   string            `cbor:"magic"`
	Version int               `cbor:"version"`
	Code    []wireInstruction `cbor:"code"`
	Lines   []int             `cbor:"lines"`
}

func toWireValue(v Value) (*wireValue, error) {
	w := &wireValue{Kind: v.kind}
	switch v.kind {
	case KindNil:
	case KindBool, KindNumber:
		w.Num = v.num
	case KindObject:
		s, ok := v.AsString()
		if !ok {
			return nil, fmt.Errorf("cannot encode %s object", v.kind)
		}
		w.Str = s
	}
	return w, nil
}

func fromWireValue(w *wireValue) (Value, error) {
	if w == nil {
		return Nil, nil
	}
	switch w.Kind {
	case KindNil:
		return Nil, nil
	case KindBool:
		return Bool(w.Num != 0), nil
	case KindNumber:
		return Number(w.Num), nil
	case KindObject:
		return String(w.Str), nil
	}
	return Nil, fmt.Errorf("unknown value kind %d", w.Kind)
}

// MarshalChunk serializes a Chunk to canonical CBOR bytes.
func MarshalChunk(c *Chunk) ([]byte, error) {
	wc := wireChunk{
		Magic:   ChunkMagic,
		Version: c.Version,
		Code:    make([]wireInstruction, len(c.Code)),
		Lines:   c.Lines,
	}
	for i, in := range c.Code {
		wi := wireInstruction{Op: in.Op, Name: in.Name}
		if in.Op.Info().Operand == OperandValue {
			wv, err := toWireValue(in.Value)
			if err != nil {
				return nil, fmt.Errorf("vm: marshal chunk: offset %d: %w", i, err)
			}
			wi.Value = wv
		}
		wc.Code[i] = wi
	}
	return cborEncMode.Marshal(wc)
}

// UnmarshalChunk deserializes a Chunk from CBOR bytes and verifies it.
func UnmarshalChunk(data []byte) (*Chunk, error) {
	var wc wireChunk
	if err := cbor.Unmarshal(data, &wc); err != nil {
		return nil, fmt.Errorf("vm: unmarshal chunk: %w", err)
	}
	if wc.Magic != ChunkMagic {
		return nil, fmt.Errorf("vm: unmarshal chunk: bad magic %q", wc.Magic)
	}

	c := &Chunk{
		Version: wc.Version,
		Code:    make([]Instruction, len(wc.Code)),
		Lines:   wc.Lines,
	}
	for i, wi := range wc.Code {
		v, err := fromWireValue(wi.Value)
		if err != nil {
			return nil, fmt.Errorf("vm: unmarshal chunk: offset %d: %w", i, err)
		}
		c.Code[i] = Instruction{Op: wi.Op, Value: v, Name: wi.Name}
	}
	if err := c.Verify(); err != nil {
		return nil, fmt.Errorf("vm: unmarshal chunk: %w", err)
	}
	return c, nil
}

// WriteChunkFile encodes c and writes it to path.
func WriteChunkFile(path string, c *Chunk) error {
	data, err := MarshalChunk(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("vm: write chunk: %w", err)
	}
	return nil
}

// ReadChunkFile reads and decodes a chunk file.
func ReadChunkFile(path string) (*Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vm: read chunk: %w", err)
	}
	return UnmarshalChunk(data)
}
