package bytelm

import (
	"fmt"

	"github.com/samcharles93/cinder/internal/engine"
)

// decay is how much of the previous hidden state survives each token.
const decay = 0.5

// Context keeps a running hidden state: h = decay*h + embed(tok). Logits for
// the next token are projection·h + bias.
type Context struct {
	model     *Model
	ctxSize   int
	batchSize int

	pos       int
	hidden    []float32
	logits    []float32
	hasLogits bool
	closed    bool
}

func newContext(m *Model, ctxSize, batchSize int) *Context {
	return &Context{
		model:     m,
		ctxSize:   ctxSize,
		batchSize: batchSize,
		hidden:    make([]float32, m.header.Hidden),
		logits:    make([]float32, m.header.Vocab),
	}
}

func (c *Context) Decode(tokens []engine.Token) error {
	if c.closed {
		return engine.ErrClosed
	}
	if len(tokens) == 0 {
		return fmt.Errorf("bytelm: empty batch")
	}
	if len(tokens) > c.batchSize {
		return fmt.Errorf("bytelm: batch of %d exceeds batch size %d", len(tokens), c.batchSize)
	}
	if c.pos+len(tokens) > c.ctxSize {
		return fmt.Errorf("bytelm: position %d exceeds context window %d", c.pos+len(tokens), c.ctxSize)
	}
	for _, tok := range tokens {
		if tok < 0 || int(tok) >= int(c.model.header.Vocab) {
			return fmt.Errorf("bytelm: token %d out of range", tok)
		}
	}

	for _, tok := range tokens {
		for j := range c.hidden {
			c.hidden[j] = decay*c.hidden[j] + c.model.embedding(int(tok), j)
		}
	}
	c.pos += len(tokens)

	for v := range c.logits {
		sum := c.model.bias(v)
		for j, h := range c.hidden {
			sum += h * c.model.projection(j, v)
		}
		c.logits[v] = sum
	}
	c.hasLogits = true
	return nil
}

// Logits returns the logits from the last Decode, or nil before any Decode.
func (c *Context) Logits() []float32 {
	if !c.hasLogits {
		return nil
	}
	return c.logits
}

func (c *Context) Position() int { return c.pos }

func (c *Context) Reset() error {
	if c.closed {
		return engine.ErrClosed
	}
	c.pos = 0
	clear(c.hidden)
	c.hasLogits = false
	return nil
}

func (c *Context) ContextSize() int { return c.ctxSize }
func (c *Context) BatchSize() int   { return c.batchSize }

func (c *Context) MemoryBytes() uint64 {
	if c.closed {
		return 0
	}
	return uint64(4 * (len(c.hidden) + len(c.logits)))
}

func (c *Context) Close() error {
	c.closed = true
	c.hasLogits = false
	return nil
}
