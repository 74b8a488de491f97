//go:build yzma

// Package llamacpp drives llama.cpp through yzma's purego bindings, so no
// cgo toolchain is needed. The shared libraries are located with
// CINDER_LLAMA_LIB (or YZMA_LIB) and loaded once per process.
package llamacpp

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/hybridgroup/yzma/pkg/llama"

	"github.com/samcharles93/cinder/internal/engine"
)

var (
	initOnce sync.Once
	initErr  error
)

// Init loads the llama.cpp libraries. It is safe to call repeatedly.
func Init() error {
	initOnce.Do(func() {
		libPath := os.Getenv("CINDER_LLAMA_LIB")
		if libPath == "" {
			libPath = os.Getenv("YZMA_LIB")
		}
		if libPath == "" {
			initErr = errors.New("llamacpp: set CINDER_LLAMA_LIB to the llama.cpp library directory")
			return
		}
		if err := llama.Load(libPath); err != nil {
			initErr = fmt.Errorf("llamacpp: load libraries from %s: %w", libPath, err)
			return
		}
		llama.Init()
	})
	return initErr
}

type Backend struct{}

func (Backend) Name() string { return "llamacpp" }

func (Backend) LoadModel(path string, params engine.ModelParams) (engine.Model, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	mp := llama.ModelDefaultParams()
	mp.NGpuLayers = int32(params.GPULayers)
	m, err := llama.ModelLoadFromFile(path, mp)
	if err != nil {
		return nil, fmt.Errorf("llamacpp: load %s: %w", path, err)
	}
	return &Model{model: m, vocab: llama.ModelGetVocab(m)}, nil
}

type Model struct {
	model  llama.Model
	vocab  llama.Vocab
	closed bool
}

func (m *Model) NewContext(params engine.ContextParams) (engine.Context, error) {
	if m.closed {
		return nil, engine.ErrClosed
	}
	cp := llama.ContextDefaultParams()
	cp.NCtx = uint32(params.ContextSize)
	cp.NBatch = uint32(params.BatchSize)
	cp.NThreads = int32(params.Threads)
	cp.NThreadsBatch = int32(params.Threads)
	cp.Embeddings = 0
	lctx, err := llama.InitFromModel(m.model, cp)
	if err != nil {
		return nil, fmt.Errorf("llamacpp: init context: %w", err)
	}
	return &Context{lctx: lctx, ctxSize: params.ContextSize, batchSize: params.BatchSize}, nil
}

// Tokenize emulates llama.cpp's size query on top of yzma's slice API.
func (m *Model) Tokenize(text string, out []engine.Token, addSpecial bool) int {
	toks := llama.Tokenize(m.vocab, text, addSpecial, false)
	if len(out) < len(toks) {
		return -len(toks)
	}
	for i, t := range toks {
		out[i] = engine.Token(t)
	}
	return len(toks)
}

func (m *Model) TokenToPiece(tok engine.Token, buf []byte) int {
	return int(llama.TokenToPiece(m.vocab, llama.Token(tok), buf, 0, true))
}

func (m *Model) IsEOG(tok engine.Token) bool {
	return llama.VocabIsEOG(m.vocab, llama.Token(tok))
}

func (m *Model) NewSamplerChain(stages ...engine.Stage) (engine.SamplerChain, error) {
	c := &SamplerChain{
		model:   m,
		sampler: llama.SamplerChainInit(llama.SamplerChainDefaultParams()),
	}
	for _, s := range stages {
		if err := c.Add(s); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return c, nil
}

func (m *Model) SizeBytes() uint64 {
	if m.closed {
		return 0
	}
	return llama.ModelSize(m.model)
}

func (m *Model) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	llama.ModelFree(m.model)
	return nil
}

type Context struct {
	lctx      llama.Context
	ctxSize   int
	batchSize int
	closed    bool
}

func (c *Context) Decode(tokens []engine.Token) error {
	if c.closed {
		return engine.ErrClosed
	}
	toks := make([]llama.Token, len(tokens))
	for i, t := range tokens {
		toks[i] = llama.Token(t)
	}
	// BatchGetOne does not allocate; the batch must not be freed.
	if _, err := llama.Decode(c.lctx, llama.BatchGetOne(toks)); err != nil {
		return fmt.Errorf("llamacpp: decode %d tokens: %w", len(tokens), err)
	}
	return nil
}

func (c *Context) Reset() error {
	if c.closed {
		return engine.ErrClosed
	}
	mem, err := llama.GetMemory(c.lctx)
	if err != nil {
		return fmt.Errorf("llamacpp: get memory: %w", err)
	}
	if err := llama.MemoryClear(mem, true); err != nil {
		return fmt.Errorf("llamacpp: clear memory: %w", err)
	}
	return nil
}

func (c *Context) ContextSize() int { return c.ctxSize }
func (c *Context) BatchSize() int   { return c.batchSize }

func (c *Context) MemoryBytes() uint64 {
	if c.closed {
		return 0
	}
	return uint64(llama.StateGetSize(c.lctx))
}

func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	llama.Free(c.lctx)
	return nil
}

// SamplerChain appends stages to a llama.cpp sampler chain as they are
// added, except dist, which is held back and appended on the first Sample
// so a grammar added after prompt replay still runs before the draw.
type SamplerChain struct {
	model   *Model
	sampler llama.Sampler

	dist    *engine.Stage
	started bool
	closed  bool
}

func (c *SamplerChain) Add(s engine.Stage) error {
	if c.closed {
		return engine.ErrClosed
	}
	if c.started {
		return fmt.Errorf("llamacpp: cannot add %s stage after sampling started", s.Kind)
	}
	switch s.Kind {
	case engine.StageTopP:
		llama.SamplerChainAdd(c.sampler, llama.SamplerInitTopP(s.TopP, uint32(max(s.MinKeep, 1))))
	case engine.StageTemperature:
		llama.SamplerChainAdd(c.sampler, llama.SamplerInitTempExt(s.Temperature, 0, 1))
	case engine.StagePenalties:
		llama.SamplerChainAdd(c.sampler, llama.SamplerInitPenalties(
			int32(s.PenaltyLastN), s.RepeatPenalty, s.FrequencyPenalty, s.PresencePenalty))
	case engine.StageGrammar:
		if s.Schema == nil {
			return errors.New("llamacpp: grammar stage without schema")
		}
		llama.SamplerChainAdd(c.sampler, llama.SamplerInitGrammar(c.model.vocab, s.Schema.GBNF(), "root"))
	case engine.StageDist:
		stage := s
		c.dist = &stage
	default:
		return fmt.Errorf("llamacpp: unsupported sampler stage %s", s.Kind)
	}
	return nil
}

func (c *SamplerChain) Sample(ctx engine.Context) engine.Token {
	lc, ok := ctx.(*Context)
	if !ok || c.closed {
		return -1
	}
	if !c.started {
		c.started = true
		if c.dist != nil {
			llama.SamplerChainAdd(c.sampler, llama.SamplerInitDist(c.dist.Seed))
		} else {
			llama.SamplerChainAdd(c.sampler, llama.SamplerInitGreedy())
		}
	}
	return engine.Token(llama.SamplerSample(c.sampler, lc.lctx, -1))
}

func (c *SamplerChain) Accept(tok engine.Token) {
	if c.closed {
		return
	}
	llama.SamplerAccept(c.sampler, llama.Token(tok))
}

func (c *SamplerChain) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	llama.SamplerFree(c.sampler)
	return nil
}
