package gguf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

type reader struct {
	r    *bufio.Reader
	off  int64
	size int64
}

func newReader(rd io.Reader, size int64) *reader {
	return &reader{
		r:    bufio.NewReader(rd),
		size: size,
	}
}

func (r *reader) remaining(n uint64) error {
	if r.size > 0 && n > uint64(r.size-r.off) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (r *reader) readN(n int) ([]byte, error) {
	if err := r.remaining(uint64(n)); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	r.off += int64(n)
	return buf, nil
}

func (r *reader) skip(n uint64) error {
	if err := r.remaining(n); err != nil {
		return err
	}
	got, err := r.r.Discard(int(n))
	r.off += int64(got)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

func (r *reader) readU8() (uint8, error) {
	b, err := r.readN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) readU16() (uint16, error) {
	b, err := r.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) readU32() (uint32, error) {
	b, err := r.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) readU64() (uint64, error) {
	b, err := r.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) readF32() (float32, error) {
	u, err := r.readU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(u), nil
}

func (r *reader) readF64() (float64, error) {
	u, err := r.readU64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(u), nil
}

func (r *reader) readString() (string, error) {
	n, err := r.readU64()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if r.size > 0 && n > uint64(r.size) {
		return "", fmt.Errorf("string length too large: %d", n)
	}
	if r.size == 0 && n > 1<<24 {
		return "", fmt.Errorf("string length too large: %d", n)
	}
	b, err := r.readN(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
