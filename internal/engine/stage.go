package engine

import (
	"fmt"
	"strings"

	"github.com/samcharles93/cinder/internal/grammar"
)

// StageKind identifies one transform in a sampler chain.
type StageKind int

const (
	StageTopP StageKind = iota
	StageTemperature
	StagePenalties
	StageDist
	StageGrammar
)

func (k StageKind) String() string {
	switch k {
	case StageTopP:
		return "top-p"
	case StageTemperature:
		return "temperature"
	case StagePenalties:
		return "penalties"
	case StageDist:
		return "dist"
	case StageGrammar:
		return "grammar"
	default:
		return fmt.Sprintf("stage(%d)", int(k))
	}
}

// Stage is one configured sampler transform. Only the fields relevant to
// Kind are read by engines.
type Stage struct {
	Kind StageKind

	TopP    float32
	MinKeep int

	Temperature float32

	PenaltyLastN     int
	RepeatPenalty    float32
	FrequencyPenalty float32
	PresencePenalty  float32

	Seed uint32

	Schema *grammar.Schema
}

// TopP keeps the smallest candidate set whose cumulative probability
// reaches p.
func TopP(p float32, minKeep int) Stage {
	return Stage{Kind: StageTopP, TopP: p, MinKeep: minKeep}
}

func Temperature(t float32) Stage {
	return Stage{Kind: StageTemperature, Temperature: t}
}

// Penalties downweights tokens seen in the last lastN accepted tokens.
func Penalties(lastN int, repeat, frequency, presence float32) Stage {
	return Stage{
		Kind:             StagePenalties,
		PenaltyLastN:     lastN,
		RepeatPenalty:    repeat,
		FrequencyPenalty: frequency,
		PresencePenalty:  presence,
	}
}

// Dist draws the final token from the remaining distribution.
func Dist(seed uint32) Stage {
	return Stage{Kind: StageDist, Seed: seed}
}

// Grammar restricts candidates to those that keep the output a valid
// prefix of schema.
func Grammar(schema *grammar.Schema) Stage {
	return Stage{Kind: StageGrammar, Schema: schema}
}

// DescribeChain renders stages for logs, e.g. "top-p(0.90) > temperature(0.80) > dist".
func DescribeChain(stages []Stage) string {
	parts := make([]string, 0, len(stages))
	for _, s := range stages {
		switch s.Kind {
		case StageTopP:
			parts = append(parts, fmt.Sprintf("top-p(%.2f)", s.TopP))
		case StageTemperature:
			parts = append(parts, fmt.Sprintf("temperature(%.2f)", s.Temperature))
		case StagePenalties:
			parts = append(parts, fmt.Sprintf("penalties(%d,%.2f,%.2f,%.2f)",
				s.PenaltyLastN, s.RepeatPenalty, s.FrequencyPenalty, s.PresencePenalty))
		default:
			parts = append(parts, s.Kind.String())
		}
	}
	return strings.Join(parts, " > ")
}
