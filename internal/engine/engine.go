// Package engine defines the contract between the generation orchestrator
// and a token-level inference engine. The orchestrator never touches model
// weights or numerics; it only drives these interfaces.
package engine

import "errors"

// Token is an engine-defined vocabulary id.
type Token int32

// ErrClosed is returned by engine objects used after Close.
var ErrClosed = errors.New("engine: resource is closed")

// ModelParams controls how model weights are brought into memory.
type ModelParams struct {
	GPULayers int
	UseMmap   bool
}

// ContextParams sizes an evaluation context.
type ContextParams struct {
	ContextSize int
	BatchSize   int
	Threads     int
}

// Backend loads models for one engine implementation.
type Backend interface {
	Name() string
	LoadModel(path string, params ModelParams) (Model, error)
}

// Model is a loaded set of weights plus its vocabulary.
type Model interface {
	NewContext(params ContextParams) (Context, error)

	// Tokenize writes the tokens for text into out and returns the count.
	// When out is too small (including empty, used as a size query) it
	// returns the negated number of tokens required.
	Tokenize(text string, out []Token, addSpecial bool) int

	// TokenToPiece writes the raw bytes of tok into buf and returns the
	// length. A negative result means the token could not be rendered.
	TokenToPiece(tok Token, buf []byte) int

	IsEOG(tok Token) bool
	NewSamplerChain(stages ...Stage) (SamplerChain, error)
	SizeBytes() uint64
	Close() error
}

// Context holds evaluation state (position, cached activations) for one
// model. Decode advances the position by len(tokens).
type Context interface {
	Decode(tokens []Token) error
	// Reset clears all evaluated state and rewinds the position to zero.
	Reset() error
	ContextSize() int
	BatchSize() int
	MemoryBytes() uint64
	Close() error
}

// SamplerChain picks the next token from the logits of the last Decode.
//
// Add appends a stage after construction. Stages added this way only observe
// tokens accepted after they were added, which is how the grammar stage is
// kept out of prompt replay. Engines always perform the dist draw after every
// other stage, whatever order the stages were supplied in.
type SamplerChain interface {
	Sample(ctx Context) Token
	Accept(tok Token)
	Add(stage Stage) error
	Close() error
}
