// Package gguf reads the metadata section of GGUF model files. Tensor
// descriptors and weights are never loaded; llama.cpp does that itself.
package gguf

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const magic = "GGUF"

var (
	ErrNotGGUF            = errors.New("gguf: bad magic")
	ErrUnsupportedVersion = errors.New("gguf: unsupported version")
)

type ValueType uint32

const (
	TypeUint8   ValueType = 0
	TypeInt8    ValueType = 1
	TypeUint16  ValueType = 2
	TypeInt16   ValueType = 3
	TypeUint32  ValueType = 4
	TypeInt32   ValueType = 5
	TypeFloat32 ValueType = 6
	TypeBool    ValueType = 7
	TypeString  ValueType = 8
	TypeArray   ValueType = 9
	TypeUint64  ValueType = 10
	TypeInt64   ValueType = 11
	TypeFloat64 ValueType = 12
)

func (t ValueType) String() string {
	switch t {
	case TypeUint8:
		return "u8"
	case TypeInt8:
		return "i8"
	case TypeUint16:
		return "u16"
	case TypeInt16:
		return "i16"
	case TypeUint32:
		return "u32"
	case TypeInt32:
		return "i32"
	case TypeUint64:
		return "u64"
	case TypeInt64:
		return "i64"
	case TypeFloat32:
		return "f32"
	case TypeFloat64:
		return "f64"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeArray:
		return "array"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// fixed returns the encoded width of scalar types, or 0 for strings and
// arrays.
func (t ValueType) fixed() uint64 {
	switch t {
	case TypeUint8, TypeInt8, TypeBool:
		return 1
	case TypeUint16, TypeInt16:
		return 2
	case TypeUint32, TypeInt32, TypeFloat32:
		return 4
	case TypeUint64, TypeInt64, TypeFloat64:
		return 8
	default:
		return 0
	}
}

// Array stands in for array values, which are skipped rather than decoded
// (the tokenizer vocabulary alone can run to hundreds of thousands of
// entries).
type Array struct {
	Elem ValueType
	Len  uint64
}

// Metadata is the header and key/value section of a GGUF file.
type Metadata struct {
	Version     uint32
	TensorCount uint64
	KV          map[string]any
}

// Read opens path and decodes its metadata.
func Read(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	md, err := Decode(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return md, nil
}

// Decode reads the metadata from r. size bounds string and array lengths;
// pass 0 when it is unknown.
func Decode(rd io.Reader, size int64) (*Metadata, error) {
	r := newReader(rd, size)

	m, err := r.readN(4)
	if err != nil {
		return nil, err
	}
	if string(m) != magic {
		return nil, fmt.Errorf("%w: %q", ErrNotGGUF, string(m))
	}
	version, err := r.readU32()
	if err != nil {
		return nil, err
	}
	if version < 2 || version > 3 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	tensorCount, err := r.readU64()
	if err != nil {
		return nil, err
	}
	kvCount, err := r.readU64()
	if err != nil {
		return nil, err
	}
	if size > 0 && kvCount > uint64(size) {
		return nil, fmt.Errorf("gguf: implausible key count %d", kvCount)
	}

	kv := make(map[string]any, kvCount)
	for i := range kvCount {
		key, err := r.readString()
		if err != nil {
			return nil, fmt.Errorf("read key %d: %w", i, err)
		}
		vt, err := r.readU32()
		if err != nil {
			return nil, fmt.Errorf("read value type for %s: %w", key, err)
		}
		val, err := readValue(r, ValueType(vt))
		if err != nil {
			return nil, fmt.Errorf("read value for %s: %w", key, err)
		}
		kv[key] = val
	}

	return &Metadata{Version: version, TensorCount: tensorCount, KV: kv}, nil
}

func readValue(r *reader, t ValueType) (any, error) {
	switch t {
	case TypeUint8:
		return r.readU8()
	case TypeInt8:
		v, err := r.readU8()
		return int8(v), err
	case TypeUint16:
		return r.readU16()
	case TypeInt16:
		v, err := r.readU16()
		return int16(v), err
	case TypeUint32:
		return r.readU32()
	case TypeInt32:
		v, err := r.readU32()
		return int32(v), err
	case TypeUint64:
		return r.readU64()
	case TypeInt64:
		v, err := r.readU64()
		return int64(v), err
	case TypeFloat32:
		return r.readF32()
	case TypeFloat64:
		return r.readF64()
	case TypeBool:
		v, err := r.readU8()
		return v != 0, err
	case TypeString:
		return r.readString()
	case TypeArray:
		et, err := r.readU32()
		if err != nil {
			return nil, err
		}
		n, err := r.readU64()
		if err != nil {
			return nil, err
		}
		arr := Array{Elem: ValueType(et), Len: n}
		if err := skipArray(r, arr); err != nil {
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unsupported value type %d", uint32(t))
	}
}

func skipArray(r *reader, arr Array) error {
	if w := arr.Elem.fixed(); w > 0 {
		if r.size > 0 && arr.Len > uint64(r.size)/w {
			return fmt.Errorf("array of %d %s exceeds file size", arr.Len, arr.Elem)
		}
		return r.skip(arr.Len * w)
	}
	if r.size > 0 && arr.Len > uint64(r.size) {
		return fmt.Errorf("array length too large: %d", arr.Len)
	}
	for range arr.Len {
		if _, err := readValue(r, arr.Elem); err != nil {
			return err
		}
	}
	return nil
}

// GetString returns the string stored under key.
func (m *Metadata) GetString(key string) (string, bool) {
	s, ok := m.KV[key].(string)
	return s, ok
}

// GetUint returns an unsigned or non-negative signed integer stored under key.
func (m *Metadata) GetUint(key string) (uint64, bool) {
	switch v := m.KV[key].(type) {
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	case int8:
		return uint64(v), v >= 0
	case int16:
		return uint64(v), v >= 0
	case int32:
		return uint64(v), v >= 0
	case int64:
		return uint64(v), v >= 0
	default:
		return 0, false
	}
}

func (m *Metadata) Architecture() string {
	s, _ := m.GetString("general.architecture")
	return s
}

func (m *Metadata) Name() string {
	s, _ := m.GetString("general.name")
	return s
}

// ContextLength is the context window the model was trained with.
func (m *Metadata) ContextLength() uint64 {
	arch := m.Architecture()
	if arch == "" {
		return 0
	}
	n, _ := m.GetUint(arch + ".context_length")
	return n
}

// VocabSize counts the tokenizer vocabulary, or returns 0 when the file
// carries none.
func (m *Metadata) VocabSize() uint64 {
	arr, ok := m.KV["tokenizer.ggml.tokens"].(Array)
	if !ok {
		return 0
	}
	return arr.Len
}

var fileTypes = map[uint64]string{
	0:  "F32",
	1:  "F16",
	2:  "Q4_0",
	3:  "Q4_1",
	7:  "Q8_0",
	8:  "Q5_0",
	9:  "Q5_1",
	10: "Q2_K",
	11: "Q3_K_S",
	12: "Q3_K_M",
	13: "Q3_K_L",
	14: "Q4_K_S",
	15: "Q4_K_M",
	16: "Q5_K_S",
	17: "Q5_K_M",
	18: "Q6_K",
	32: "BF16",
}

// FileType names the quantization recorded in general.file_type.
func (m *Metadata) FileType() string {
	n, ok := m.GetUint("general.file_type")
	if !ok {
		return ""
	}
	if s, ok := fileTypes[n]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", n)
}

// IsPath reports whether path names a GGUF file by extension.
func IsPath(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gguf")
}
