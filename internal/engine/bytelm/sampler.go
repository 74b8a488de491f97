package bytelm

import (
	"fmt"

	"github.com/samcharles93/cinder/internal/engine"
	"github.com/samcharles93/cinder/internal/grammar"
	"github.com/samcharles93/cinder/internal/logits"
	"github.com/samcharles93/cinder/internal/utf8stream"
)

// SamplerChain applies its stages in order over the candidate set and then
// performs the dist draw. Without a dist stage it picks the argmax. Byte
// tokens that would make the accepted output invalid UTF-8 are never
// candidates.
type SamplerChain struct {
	model  *Model
	stages []engine.Stage

	penalties *logits.Penalizer
	matcher   *grammar.Matcher
	dist      *logits.Distribution

	// pending holds the accepted bytes of an unfinished UTF-8 sequence.
	pending []byte
	scratch []byte

	cands  logits.Candidates
	closed bool
}

func (c *SamplerChain) Add(s engine.Stage) error {
	if c.closed {
		return engine.ErrClosed
	}
	switch s.Kind {
	case engine.StageTopP, engine.StageTemperature:
	case engine.StagePenalties:
		c.penalties = logits.NewPenalizer(s.PenaltyLastN, s.RepeatPenalty, s.FrequencyPenalty, s.PresencePenalty)
	case engine.StageDist:
		c.dist = logits.NewDistribution(uint64(s.Seed))
	case engine.StageGrammar:
		if s.Schema == nil {
			return fmt.Errorf("bytelm: grammar stage without schema")
		}
		c.matcher = grammar.NewMatcher(s.Schema)
	default:
		return fmt.Errorf("bytelm: unsupported sampler stage %s", s.Kind)
	}
	c.stages = append(c.stages, s)
	return nil
}

// Sample returns EOS when the context has no logits or no candidate
// survives the grammar.
func (c *SamplerChain) Sample(ctx engine.Context) engine.Token {
	bc, ok := ctx.(*Context)
	if !ok || c.closed {
		return EOS
	}
	raw := bc.Logits()
	if raw == nil {
		return EOS
	}

	c.cands.Load(raw)
	c.applyUTF8()
	for _, s := range c.stages {
		c.apply(s)
	}
	if c.matcher != nil && len(c.cands.Data) == 0 {
		// The stochastic stages cut every token the grammar allows; constrain
		// first and run them again.
		c.cands.Load(raw)
		c.applyUTF8()
		c.applyGrammar()
		for _, s := range c.stages {
			if s.Kind != engine.StageGrammar {
				c.apply(s)
			}
		}
	}
	if len(c.cands.Data) == 0 {
		return EOS
	}
	if c.dist == nil {
		best := 0
		for i := range c.cands.Data {
			if c.cands.Data[i].Logit > c.cands.Data[best].Logit {
				best = i
			}
		}
		return engine.Token(c.cands.Data[best].ID)
	}
	return engine.Token(c.dist.Draw(&c.cands))
}

func (c *SamplerChain) apply(s engine.Stage) {
	switch s.Kind {
	case engine.StageTopP:
		logits.TopP(&c.cands, s.TopP, max(s.MinKeep, 1))
	case engine.StageTemperature:
		logits.Temperature(&c.cands, s.Temperature)
	case engine.StagePenalties:
		c.penalties.Apply(&c.cands)
	case engine.StageGrammar:
		c.applyGrammar()
	}
}

// applyUTF8 keeps byte tokens that extend the pending bytes into valid or
// still-unfinished UTF-8. EOS is only allowed on a character boundary.
func (c *SamplerChain) applyUTF8() {
	logits.Mask(&c.cands, func(id int32) bool {
		switch {
		case id == EOS:
			return len(c.pending) == 0
		case id >= 0 && id < ByteTokens:
			c.scratch = append(append(c.scratch[:0], c.pending...), byte(id))
			cls := utf8stream.Classify(c.scratch)
			return cls == utf8stream.Complete || cls == utf8stream.PartialTail
		default:
			return false
		}
	})
}

func (c *SamplerChain) applyGrammar() {
	complete := c.matcher.Complete()
	logits.Mask(&c.cands, func(id int32) bool {
		switch {
		case id == EOS:
			return complete
		case id < ByteTokens:
			return !complete && c.matcher.Allows([]byte{byte(id)})
		default:
			return false
		}
	})
}

func (c *SamplerChain) Accept(tok engine.Token) {
	if c.closed {
		return
	}
	if c.penalties != nil {
		c.penalties.Accept(int32(tok))
	}
	if tok >= 0 && tok < ByteTokens {
		c.acceptByte(byte(tok))
		if c.matcher != nil {
			c.matcher.Accept([]byte{byte(tok)})
		}
	}
}

func (c *SamplerChain) acceptByte(b byte) {
	c.pending = append(c.pending, b)
	if utf8stream.Classify(c.pending) != utf8stream.PartialTail {
		// A finished or malformed sequence leaves nothing pending.
		c.pending = c.pending[:0]
	}
}

// Pending returns the bytes of an unfinished UTF-8 character accepted so far.
func (c *SamplerChain) Pending() []byte {
	return append([]byte(nil), c.pending...)
}

// Stages returns the configured stages in the order they were added.
func (c *SamplerChain) Stages() []engine.Stage {
	return append([]engine.Stage(nil), c.stages...)
}

func (c *SamplerChain) Close() error {
	c.closed = true
	return nil
}
