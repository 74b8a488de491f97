package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samcharles93/cinder/internal/engine"
	"github.com/samcharles93/cinder/internal/utf8stream"
)

// FinishReason records why the sampling loop ended.
type FinishReason string

const (
	FinishEOG          FinishReason = "eog"
	FinishMaxTokens    FinishReason = "max_tokens"
	FinishCancelled    FinishReason = "cancelled"
	FinishRenderFailed FinishReason = "render_failed"
	FinishDecodeFailed FinishReason = "decode_failed"
	FinishSampleFailed FinishReason = "sample_failed"
)

type Stats struct {
	PromptTokens     int
	GeneratedTokens  int
	TimeToFirstToken time.Duration
	PromptEval       time.Duration
	Duration         time.Duration
	TPS              float64
}

type Result struct {
	Text         string
	FinishReason FinishReason
	Structured   bool
	Stats        Stats
}

const pieceBufSize = 64

// Generate runs one generation synchronously on the calling goroutine,
// streaming text to sink. Setup failures are reported through
// sink.OnError and returned; failures after sampling starts end the stream
// early with OnComplete and a nil error. Cancelling ctx behaves like Stop.
func (h *Handle) Generate(ctx context.Context, req Request, sink Sink) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if sink == nil {
		sink = SinkFuncs{}
	}
	if h == nil {
		sink.OnError(Message(ErrHandleClosed))
		return nil, ErrHandleClosed
	}
	if err := h.flight.admit(); err != nil {
		h.fail(sink, err)
		return nil, err
	}
	defer h.flight.finish()

	res, err := h.run(ctx, req, sink)
	if err != nil {
		h.fail(sink, err)
		return nil, err
	}
	if h.observer != nil {
		h.observer.GenerationCompleted(h.backend, res)
	}
	return res, nil
}

func (h *Handle) fail(sink Sink, err error) {
	h.log.Debug("generation failed", "state", h.flight.current(), "error", err)
	if h.observer != nil {
		h.observer.GenerationFailed(h.backend, err)
	}
	sink.OnError(Message(err))
}

func (h *Handle) run(ctx context.Context, req Request, sink Sink) (*Result, error) {
	start := time.Now()

	h.mu.Lock()
	model, lctx, batch := h.model, h.ctx, h.batchSize
	h.mu.Unlock()

	h.flight.advance(StateTokenizing)
	if req.Prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if len(req.Prompt) > MaxPromptBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrPromptTooLong, len(req.Prompt), MaxPromptBytes)
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	seq, err := tokenize(model, req.Prompt)
	if err != nil {
		return nil, err
	}
	promptTokens := seq.Len()
	h.log.Debug("prompt tokenized", "bytes", len(req.Prompt), "tokens", promptTokens)

	// Every request evaluates its full prompt from position zero, which also
	// recovers a context left part-way through by an earlier failure.
	h.flight.advance(StateEvaluating)
	resetErr, err := safeCall("Reset", lctx.Reset)
	if err == nil {
		err = resetErr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reset: %w", ErrPromptEvaluationFailed, err)
	}
	evalStart := time.Now()
	for i, chunk := range seq.Chunks(batch) {
		if err := decode(lctx, chunk); err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %w", ErrPromptEvaluationFailed, i, err)
		}
	}
	promptEval := time.Since(evalStart)
	h.refreshMemory(lctx)

	p, err := h.buildPipeline(req, seq)
	if err != nil {
		return nil, err
	}
	defer p.close()
	structured := req.structured()
	h.log.Debug("sampling", "chain", p.describe(), "max_tokens", req.MaxTokens, "structured", structured)

	h.flight.advance(StateSampling)
	var (
		asm       utf8stream.Assembler
		text      strings.Builder
		buf       = make([]byte, pieceBufSize)
		reason    = FinishMaxTokens
		generated int
		firstTok  time.Duration
		loopStart = time.Now()
	)
	emit := func(s string) {
		text.WriteString(s)
		sink.OnToken(s)
	}

	for i := 0; i < req.MaxTokens; i++ {
		if h.flight.isCancelled() || ctx.Err() != nil {
			reason = FinishCancelled
			break
		}

		tok, err := safeCall("Sample", func() engine.Token { return p.chain.Sample(lctx) })
		if err != nil || tok < 0 {
			h.log.Warn("sampling failed", "step", i, "token", tok, "error", err)
			reason = FinishSampleFailed
			break
		}
		if model.IsEOG(tok) {
			reason = FinishEOG
			break
		}
		if generated == 0 {
			firstTok = time.Since(start)
		}

		n := piece(model, tok, &buf)
		if n < 0 {
			h.log.Warn("token could not be rendered", "step", i, "token", tok)
			reason = FinishRenderFailed
			break
		}
		if s, ok := asm.Append(buf[:n]); ok {
			emit(s)
		}

		seq.Append(tok)
		p.chain.Accept(tok)
		generated++
		if err := decode(lctx, []engine.Token{tok}); err != nil {
			h.log.Warn("decode failed", "step", i, "error", err)
			reason = FinishDecodeFailed
			break
		}
	}

	if tail := asm.Drain(); tail != "" {
		emit(tail)
	}
	h.refreshMemory(lctx)
	sink.OnComplete()

	stats := Stats{
		PromptTokens:     promptTokens,
		GeneratedTokens:  generated,
		TimeToFirstToken: firstTok,
		PromptEval:       promptEval,
		Duration:         time.Since(start),
	}
	if d := time.Since(loopStart); generated > 0 && d > 0 {
		stats.TPS = float64(generated) / d.Seconds()
	}
	h.log.Debug("generation finished", "reason", reason, "tokens", generated, "duration", stats.Duration)
	return &Result{Text: text.String(), FinishReason: reason, Structured: structured, Stats: stats}, nil
}

func decode(lctx engine.Context, toks []engine.Token) error {
	decodeErr, err := safeCall("Decode", func() error { return lctx.Decode(toks) })
	if err != nil {
		return err
	}
	return decodeErr
}

// piece renders tok into *buf, growing it once when the engine reports a
// larger required size.
func piece(m engine.Model, tok engine.Token, buf *[]byte) int {
	n, err := safeCall("TokenToPiece", func() int { return m.TokenToPiece(tok, *buf) })
	if err != nil {
		return -1
	}
	if n < 0 && -n > len(*buf) {
		*buf = make([]byte, -n)
		n, err = safeCall("TokenToPiece", func() int { return m.TokenToPiece(tok, *buf) })
		if err != nil {
			return -1
		}
	}
	return n
}
