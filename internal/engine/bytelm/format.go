// Package bytelm is a small pure-Go language model over a byte vocabulary.
// It exists so the whole generation path can run without native libraries:
// weights are random unless trained elsewhere, but tokenization, decoding,
// sampling and grammar constraints behave like a real engine.
package bytelm

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"

	"golang.org/x/sys/unix"
)

const (
	// ByteTokens are ids 0..255, one per byte value.
	ByteTokens = 256
	BOS        = 256
	EOS        = 257
	VocabSize  = 258

	headerSize = 32
	version    = 1
)

var magic = [4]byte{'C', 'B', 'M', '1'}

var (
	ErrInvalidMagic = errors.New("bytelm: invalid model magic")
	ErrCorruptFile  = errors.New("bytelm: corrupt model file")
)

// Header is the fixed prefix of a .cbm file. Weights follow as little-endian
// float32: embedding [vocab][hidden], projection [hidden][vocab], bias [vocab].
type Header struct {
	Version uint32
	Vocab   uint32
	Hidden  uint32
	Seed    uint64
}

func (h Header) weightCount() int {
	v, d := int(h.Vocab), int(h.Hidden)
	return v*d + d*v + v
}

func (h Header) fileSize() int {
	return headerSize + 4*h.weightCount()
}

func encodeHeader(h Header) []byte {
	b := make([]byte, headerSize)
	copy(b[0:4], magic[:])
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.Vocab)
	binary.LittleEndian.PutUint32(b[12:16], h.Hidden)
	binary.LittleEndian.PutUint64(b[16:24], h.Seed)
	return b
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, ErrCorruptFile
	}
	if [4]byte(b[0:4]) != magic {
		return Header{}, ErrInvalidMagic
	}
	h := Header{
		Version: binary.LittleEndian.Uint32(b[4:8]),
		Vocab:   binary.LittleEndian.Uint32(b[8:12]),
		Hidden:  binary.LittleEndian.Uint32(b[12:16]),
		Seed:    binary.LittleEndian.Uint64(b[16:24]),
	}
	if h.Version != version {
		return Header{}, fmt.Errorf("bytelm: unsupported version %d", h.Version)
	}
	if h.Vocab != VocabSize || h.Hidden == 0 || h.Hidden > 4096 {
		return Header{}, ErrCorruptFile
	}
	return h, nil
}

// WriteModel writes a model with deterministic random weights derived from
// seed. EOS gets a negative bias so short prompts do not end immediately.
func WriteModel(path string, hidden int, seed uint64) error {
	if hidden <= 0 || hidden > 4096 {
		return fmt.Errorf("bytelm: hidden size %d out of range", hidden)
	}
	h := Header{Version: version, Vocab: VocabSize, Hidden: uint32(hidden), Seed: seed}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(encodeHeader(h)); err != nil {
		_ = f.Close()
		return err
	}

	rng := rand.New(rand.NewPCG(seed, 0))
	scale := 1 / math.Sqrt(float64(hidden))
	var buf [4]byte
	put := func(v float32) error {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		_, err := w.Write(buf[:])
		return err
	}
	for i := 0; i < 2*VocabSize*hidden; i++ {
		if err := put(float32(rng.NormFloat64() * scale)); err != nil {
			_ = f.Close()
			return err
		}
	}
	for v := 0; v < VocabSize; v++ {
		bias := float32(0)
		switch {
		case v == EOS:
			bias = -2
		case v == BOS || v < 0x20 || v > 0x7e:
			bias = -4
		}
		if err := put(bias); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// mapping is the raw model bytes plus how they were obtained.
type mapping struct {
	data    []byte
	mmapped bool
}

// openFile maps path read-only, falling back to ReadAt when mmap is not
// available or not requested.
func openFile(path string, useMmap bool) (*mapping, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, Header{}, err
	}
	size64 := stat.Size()
	if size64 < headerSize || size64 > int64(int(^uint(0)>>1)) {
		return nil, Header{}, ErrCorruptFile
	}
	size := int(size64)

	if useMmap {
		data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
		if err == nil {
			h, err := validate(data)
			if err != nil {
				_ = unix.Munmap(data)
				return nil, Header{}, err
			}
			return &mapping{data: data, mmapped: true}, h, nil
		}
	}

	data, err := readAllAt(f, size)
	if err != nil {
		return nil, Header{}, err
	}
	h, err := validate(data)
	if err != nil {
		return nil, Header{}, err
	}
	return &mapping{data: data}, h, nil
}

func validate(data []byte) (Header, error) {
	h, err := decodeHeader(data)
	if err != nil {
		return Header{}, err
	}
	if h.fileSize() != len(data) {
		return Header{}, ErrCorruptFile
	}
	return h, nil
}

func (m *mapping) close() error {
	if m == nil || m.data == nil {
		return nil
	}
	var err error
	if m.mmapped {
		err = unix.Munmap(m.data)
	}
	m.data = nil
	return err
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}
