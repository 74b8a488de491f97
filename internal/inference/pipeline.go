package inference

import (
	"fmt"
	"math/rand/v2"

	"github.com/samcharles93/cinder/internal/engine"
	"github.com/samcharles93/cinder/internal/grammar"
)

// Repetition penalties applied to every per-request chain.
const (
	PenaltyLastN     = 64
	RepeatPenalty    = 1.10
	FrequencyPenalty = 0.20
	PresencePenalty  = 0.20
)

// pipeline is the sampler chain for one generation. Chains built for the
// request are closed with it; the handle's default chain is borrowed.
type pipeline struct {
	chain  engine.SamplerChain
	stages []engine.Stage
	owned  bool
}

func defaultStages(seed uint32) []engine.Stage {
	return []engine.Stage{
		engine.TopP(DefaultTopP, 1),
		engine.Temperature(DefaultTemperature),
		engine.Dist(seed),
	}
}

// buildPipeline composes top-p, temperature, penalties and dist, replays
// the prompt through Accept, then attaches the grammar last so it only
// sees generated tokens.
func (h *Handle) buildPipeline(req Request, seq *TokenSequence) (*pipeline, error) {
	structured := req.structured()

	var p *pipeline
	if req.Sampling == nil && !structured {
		p = &pipeline{chain: h.defaultChain, stages: h.defaultStages}
	} else {
		sp := SamplingParams{Temperature: DefaultTemperature, TopP: DefaultTopP}
		if req.Sampling != nil {
			sp = *req.Sampling
		}
		seed := rand.Uint32()
		if req.Seed != nil {
			seed = *req.Seed
		}
		stages := []engine.Stage{
			engine.TopP(sp.TopP, 1),
			engine.Temperature(sp.Temperature),
			engine.Penalties(PenaltyLastN, RepeatPenalty, FrequencyPenalty, PresencePenalty),
			engine.Dist(seed),
		}
		var chain engine.SamplerChain
		buildErr, err := safeCall("NewSamplerChain", func() error {
			var err error
			chain, err = h.model.NewSamplerChain(stages...)
			return err
		})
		if err == nil {
			err = buildErr
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSamplerInitFailed, err)
		}
		p = &pipeline{chain: chain, stages: stages, owned: true}
	}

	for _, tok := range seq.Tokens() {
		p.chain.Accept(tok)
	}

	if structured {
		g := engine.Grammar(grammar.Proofreading())
		if err := p.chain.Add(g); err != nil {
			p.close()
			return nil, fmt.Errorf("%w: grammar: %w", ErrSamplerInitFailed, err)
		}
		p.stages = append(p.stages, g)
	}
	return p, nil
}

func (p *pipeline) describe() string { return engine.DescribeChain(p.stages) }

func (p *pipeline) close() {
	if p.owned && p.chain != nil {
		_ = p.chain.Close()
	}
	p.chain = nil
}
