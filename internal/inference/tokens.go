package inference

import (
	"fmt"

	"github.com/samcharles93/cinder/internal/engine"
)

// TokenSequence is the append-only prompt plus continuation of one
// generation.
type TokenSequence struct {
	toks []engine.Token
}

// tokenize asks the model for the token count first, then fills a slice of
// exactly that size and trims it to what was actually written.
func tokenize(m engine.Model, text string) (*TokenSequence, error) {
	need, err := safeCall("Tokenize", func() int { return m.Tokenize(text, nil, true) })
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenizationFailed, err)
	}
	if need < 0 {
		need = -need
	}
	if need == 0 {
		return nil, fmt.Errorf("%w: prompt produced no tokens", ErrTokenizationFailed)
	}

	buf := make([]engine.Token, need)
	n, err := safeCall("Tokenize", func() int { return m.Tokenize(text, buf, true) })
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenizationFailed, err)
	}
	if n <= 0 || n > need {
		return nil, fmt.Errorf("%w: engine reported %d tokens for a buffer of %d", ErrTokenizationFailed, n, need)
	}
	return &TokenSequence{toks: buf[:n:n]}, nil
}

func (s *TokenSequence) Len() int { return len(s.toks) }

func (s *TokenSequence) Append(tok engine.Token) { s.toks = append(s.toks, tok) }

// Tokens returns the sequence. The slice must not be modified.
func (s *TokenSequence) Tokens() []engine.Token { return s.toks }

// Chunks splits the sequence into consecutive runs of at most size tokens.
func (s *TokenSequence) Chunks(size int) [][]engine.Token {
	if size <= 0 {
		size = len(s.toks)
	}
	var out [][]engine.Token
	for start := 0; start < len(s.toks); start += size {
		end := min(start+size, len(s.toks))
		out = append(out, s.toks[start:end])
	}
	return out
}
