package inference

import (
	"fmt"
	"strings"
)

const (
	// MaxPromptBytes bounds prompt size independently of the engine.
	MaxPromptBytes = 8192

	DefaultMaxTokens   = 512
	DefaultTemperature = 0.8
	DefaultTopP        = 0.9

	// DefaultStructuredMaxTokens applies to JSON requests when no limit is
	// given. Byte-vocabulary models spend one token per output byte.
	DefaultStructuredMaxTokens = 2048
)

// StructuredMode selects grammar-constrained JSON output.
type StructuredMode int

const (
	// StructuredAuto enables the grammar when the prompt contains
	// StructuredMarker.
	StructuredAuto StructuredMode = iota
	StructuredOn
	StructuredOff
)

// StructuredMarker in a prompt switches StructuredAuto requests to JSON.
const StructuredMarker = "JSON only"

func ParseStructuredMode(s string) (StructuredMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return StructuredAuto, nil
	case "on", "json", "true":
		return StructuredOn, nil
	case "off", "false", "none":
		return StructuredOff, nil
	default:
		return StructuredAuto, fmt.Errorf("unknown structured mode %q (expected auto, on or off)", s)
	}
}

func (m StructuredMode) String() string {
	switch m {
	case StructuredOn:
		return "on"
	case StructuredOff:
		return "off"
	default:
		return "auto"
	}
}

// SamplingParams are the caller-tunable parts of the sampler pipeline.
type SamplingParams struct {
	Temperature float32
	TopP        float32
}

// Request is one generation call. A nil Sampling uses the handle's default
// chain. A nil Seed draws a fresh random seed.
type Request struct {
	Prompt     string
	MaxTokens  int
	Sampling   *SamplingParams
	Structured StructuredMode
	Seed       *uint32
}

func (r Request) structured() bool {
	switch r.Structured {
	case StructuredOn:
		return true
	case StructuredOff:
		return false
	default:
		return strings.Contains(r.Prompt, StructuredMarker)
	}
}

func (r Request) validate() error {
	if r.MaxTokens < 0 {
		return fmt.Errorf("%w: max tokens %d is negative", ErrInvalidSampling, r.MaxTokens)
	}
	if r.Sampling == nil {
		return nil
	}
	if !(r.Sampling.Temperature > 0) {
		return fmt.Errorf("%w: temperature %v must be positive", ErrInvalidSampling, r.Sampling.Temperature)
	}
	if !(r.Sampling.TopP > 0 && r.Sampling.TopP <= 1) {
		return fmt.Errorf("%w: top-p %v must be in (0, 1]", ErrInvalidSampling, r.Sampling.TopP)
	}
	return nil
}

// RequestOptions is the partially specified form of a Request used by the
// CLI, config file and HTTP API. Nil fields take defaults.
type RequestOptions struct {
	Prompt      string
	MaxTokens   *int
	Temperature *float64
	TopP        *float64
	Structured  *string
	Seed        *int64
}

func ResolveRequest(opts RequestOptions) (Request, error) {
	req := Request{
		Prompt:    opts.Prompt,
		MaxTokens: DefaultMaxTokens,
	}
	if opts.Temperature != nil || opts.TopP != nil {
		sp := &SamplingParams{Temperature: DefaultTemperature, TopP: DefaultTopP}
		if opts.Temperature != nil {
			sp.Temperature = float32(*opts.Temperature)
		}
		if opts.TopP != nil {
			sp.TopP = float32(*opts.TopP)
		}
		req.Sampling = sp
	}
	if opts.Structured != nil {
		mode, err := ParseStructuredMode(*opts.Structured)
		if err != nil {
			return Request{}, err
		}
		req.Structured = mode
	}
	switch {
	case opts.MaxTokens != nil:
		req.MaxTokens = *opts.MaxTokens
	case req.structured():
		req.MaxTokens = DefaultStructuredMaxTokens
	}
	if opts.Seed != nil && *opts.Seed >= 0 {
		seed := uint32(*opts.Seed)
		req.Seed = &seed
	}
	return req, req.validate()
}
