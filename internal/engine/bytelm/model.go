package bytelm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/samcharles93/cinder/internal/engine"
)

// Backend loads .cbm models.
type Backend struct{}

func (Backend) Name() string { return "go" }

// ErrGPUUnsupported is returned when GPU offload is requested; callers are
// expected to retry with GPULayers == 0.
var ErrGPUUnsupported = errors.New("bytelm: gpu offload is not supported")

func (Backend) LoadModel(path string, params engine.ModelParams) (engine.Model, error) {
	return Load(path, params)
}

// Model is a loaded byte-level model. Weights are read directly from the
// mapped file.
type Model struct {
	mu     sync.Mutex
	file   *mapping
	header Header
	closed bool
}

func Load(path string, params engine.ModelParams) (*Model, error) {
	if params.GPULayers > 0 {
		return nil, ErrGPUUnsupported
	}
	file, h, err := openFile(path, params.UseMmap)
	if err != nil {
		return nil, fmt.Errorf("bytelm: open %s: %w", path, err)
	}
	return &Model{file: file, header: h}, nil
}

func (m *Model) Header() Header { return m.header }

func (m *Model) Mmapped() bool { return m.file != nil && m.file.mmapped }

func (m *Model) weight(i int) float32 {
	off := headerSize + 4*i
	return math.Float32frombits(binary.LittleEndian.Uint32(m.file.data[off : off+4]))
}

func (m *Model) embedding(tok, j int) float32 {
	return m.weight(tok*int(m.header.Hidden) + j)
}

func (m *Model) projection(j, v int) float32 {
	d, n := int(m.header.Hidden), int(m.header.Vocab)
	return m.weight(n*d + j*n + v)
}

func (m *Model) bias(v int) float32 {
	d, n := int(m.header.Hidden), int(m.header.Vocab)
	return m.weight(2*n*d + v)
}

func (m *Model) NewContext(params engine.ContextParams) (engine.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, engine.ErrClosed
	}
	if params.ContextSize <= 0 {
		return nil, fmt.Errorf("bytelm: context size must be positive, got %d", params.ContextSize)
	}
	batch := params.BatchSize
	if batch <= 0 || batch > params.ContextSize {
		batch = params.ContextSize
	}
	return newContext(m, params.ContextSize, batch), nil
}

// Tokenize maps each byte of text to its own token, prefixed by BOS when
// addSpecial is set.
func (m *Model) Tokenize(text string, out []engine.Token, addSpecial bool) int {
	n := len(text)
	if addSpecial {
		n++
	}
	if len(out) < n {
		return -n
	}
	i := 0
	if addSpecial {
		out[0] = BOS
		i = 1
	}
	for j := 0; j < len(text); j++ {
		out[i] = engine.Token(text[j])
		i++
	}
	return n
}

func (m *Model) TokenToPiece(tok engine.Token, buf []byte) int {
	switch {
	case tok >= 0 && tok < ByteTokens:
		if len(buf) < 1 {
			return -1
		}
		buf[0] = byte(tok)
		return 1
	case tok == BOS || tok == EOS:
		return 0
	default:
		return -1
	}
}

func (m *Model) IsEOG(tok engine.Token) bool { return tok == EOS }

func (m *Model) NewSamplerChain(stages ...engine.Stage) (engine.SamplerChain, error) {
	c := &SamplerChain{model: m}
	for _, s := range stages {
		if err := c.Add(s); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (m *Model) SizeBytes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0
	}
	return uint64(len(m.file.data))
}

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.file.close()
}
