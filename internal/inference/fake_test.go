package inference

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/samcharles93/cinder/internal/engine"
)

// Scripted engine for session tests. The prompt tokenizes one token per
// byte; generated tokens render through pieces.

const fakeEOS engine.Token = 1000

type fakeBackend struct {
	model       *fakeModel
	failGPU     bool
	failLoad    bool
	loadedWith  []engine.ModelParams
	contextFail bool
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) LoadModel(path string, params engine.ModelParams) (engine.Model, error) {
	b.loadedWith = append(b.loadedWith, params)
	if b.failLoad || (b.failGPU && params.GPULayers > 0) {
		return nil, errors.New("fake load failure")
	}
	if b.contextFail {
		b.model.contextErr = errors.New("fake context failure")
	}
	return b.model, nil
}

type fakeModel struct {
	mu sync.Mutex

	pieces     map[engine.Token][]byte
	script     []engine.Token
	contextErr error
	tokenizeN  func(text string) int

	ctx    *fakeContext
	chains []*fakeChain

	// sampleHook runs before every Sample with the zero-based step.
	sampleHook  func(step int)
	samplePanic bool

	closed bool
}

func newFakeModel(script []engine.Token, pieces map[engine.Token][]byte) *fakeModel {
	return &fakeModel{script: script, pieces: pieces}
}

func (m *fakeModel) NewContext(p engine.ContextParams) (engine.Context, error) {
	if m.contextErr != nil {
		return nil, m.contextErr
	}
	m.ctx = &fakeContext{size: p.ContextSize, batch: p.BatchSize, threads: p.Threads}
	return m.ctx, nil
}

func (m *fakeModel) Tokenize(text string, out []engine.Token, addSpecial bool) int {
	n := len(text)
	if m.tokenizeN != nil {
		n = m.tokenizeN(text)
	}
	if len(out) < n {
		return -n
	}
	for i := 0; i < n && i < len(text); i++ {
		out[i] = engine.Token(text[i])
	}
	return n
}

func (m *fakeModel) TokenToPiece(tok engine.Token, buf []byte) int {
	p, ok := m.pieces[tok]
	if !ok {
		return -1
	}
	if len(buf) < len(p) {
		return -len(p)
	}
	return copy(buf, p)
}

func (m *fakeModel) IsEOG(tok engine.Token) bool { return tok == fakeEOS }

func (m *fakeModel) NewSamplerChain(stages ...engine.Stage) (engine.SamplerChain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &fakeChain{model: m, stages: append([]engine.Stage(nil), stages...)}
	m.chains = append(m.chains, c)
	return c, nil
}

func (m *fakeModel) SizeBytes() uint64 { return 3 * 1024 * 1024 }

func (m *fakeModel) Close() error {
	m.closed = true
	return nil
}

type fakeContext struct {
	size, batch, threads int

	decodes [][]engine.Token
	resets  int
	failAt  int // 1-based decode call to fail; 0 never
	closed  bool
	calls   int
	pos     int

	resetErr error

	memReads atomic.Int32
}

func (c *fakeContext) Decode(toks []engine.Token) error {
	c.calls++
	c.pos += len(toks)
	c.decodes = append(c.decodes, append([]engine.Token(nil), toks...))
	if c.failAt > 0 && c.calls == c.failAt {
		return errors.New("fake decode failure")
	}
	return nil
}

func (c *fakeContext) Reset() error {
	c.resets++
	if c.resetErr != nil {
		return c.resetErr
	}
	c.calls = 0
	c.pos = 0
	c.decodes = nil
	return nil
}

func (c *fakeContext) ContextSize() int { return c.size }
func (c *fakeContext) BatchSize() int   { return c.batch }

// MemoryBytes grows with the evaluated position, starting at 4096.
func (c *fakeContext) MemoryBytes() uint64 {
	c.memReads.Add(1)
	return 4096 + 64*uint64(c.pos)
}

func (c *fakeContext) Close() error {
	c.closed = true
	return nil
}

type fakeChain struct {
	model    *fakeModel
	stages   []engine.Stage
	accepted []engine.Token
	// acceptedBeforeAdd is len(accepted) when each late stage was added.
	acceptedBeforeAdd []int
	step              int
	closed            bool
}

func (c *fakeChain) Sample(engine.Context) engine.Token {
	if c.model.sampleHook != nil {
		c.model.sampleHook(c.step)
	}
	if c.model.samplePanic {
		panic("sample boom")
	}
	defer func() { c.step++ }()
	if c.step < len(c.model.script) {
		return c.model.script[c.step]
	}
	return fakeEOS
}

func (c *fakeChain) Accept(tok engine.Token) { c.accepted = append(c.accepted, tok) }

func (c *fakeChain) Add(s engine.Stage) error {
	c.stages = append(c.stages, s)
	c.acceptedBeforeAdd = append(c.acceptedBeforeAdd, len(c.accepted))
	return nil
}

func (c *fakeChain) Close() error {
	c.closed = true
	return nil
}

// recordingSink collects events for assertions.
type recordingSink struct {
	mu        sync.Mutex
	tokens    []string
	completes int
	errs      []string
	onToken   func(n int)
}

func (s *recordingSink) OnToken(text string) {
	s.mu.Lock()
	s.tokens = append(s.tokens, text)
	n := len(s.tokens)
	hook := s.onToken
	s.mu.Unlock()
	if hook != nil {
		hook(n)
	}
}

func (s *recordingSink) OnComplete() {
	s.mu.Lock()
	s.completes++
	s.mu.Unlock()
}

func (s *recordingSink) OnError(message string) {
	s.mu.Lock()
	s.errs = append(s.errs, message)
	s.mu.Unlock()
}

func (s *recordingSink) joined() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out string
	for _, t := range s.tokens {
		out += t
	}
	return out
}
