package bytelm

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/cinder/internal/engine"
	"github.com/samcharles93/cinder/internal/grammar"
	"github.com/samcharles93/cinder/internal/utf8stream"
)

func writeTestModel(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.cbm")
	if err := WriteModel(path, 16, 7); err != nil {
		t.Fatalf("WriteModel: %v", err)
	}
	return path
}

func loadTestModel(t *testing.T, useMmap bool) *Model {
	t.Helper()
	m, err := Load(writeTestModel(t), engine.ModelParams{UseMmap: useMmap})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestLoadMmapAndReadAt(t *testing.T) {
	t.Parallel()

	for _, useMmap := range []bool{true, false} {
		m := loadTestModel(t, useMmap)
		h := m.Header()
		if h.Vocab != VocabSize || h.Hidden != 16 || h.Seed != 7 {
			t.Fatalf("header = %+v", h)
		}
		if got, want := m.SizeBytes(), uint64(h.fileSize()); got != want {
			t.Fatalf("SizeBytes() = %d, want %d", got, want)
		}
	}
}

func TestLoadRejectsCorruptFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.cbm")
	if err := os.WriteFile(bad, []byte(strings.Repeat("x", headerSize)), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad, engine.ModelParams{}); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("Load(bad magic) error = %v, want ErrInvalidMagic", err)
	}

	good := writeTestModel(t)
	data, err := os.ReadFile(good)
	if err != nil {
		t.Fatal(err)
	}
	short := filepath.Join(dir, "short.cbm")
	if err := os.WriteFile(short, data[:len(data)-4], 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(short, engine.ModelParams{UseMmap: true}); !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("Load(truncated) error = %v, want ErrCorruptFile", err)
	}

	if _, err := Load(good, engine.ModelParams{GPULayers: 32}); !errors.Is(err, ErrGPUUnsupported) {
		t.Fatalf("Load(gpu) error = %v, want ErrGPUUnsupported", err)
	}
}

func TestTokenizeSizeQuery(t *testing.T) {
	t.Parallel()

	m := loadTestModel(t, false)
	if got := m.Tokenize("héllo", nil, true); got != -7 {
		t.Fatalf("size query = %d, want -7", got)
	}
	out := make([]engine.Token, 7)
	if got := m.Tokenize("héllo", out, true); got != 7 {
		t.Fatalf("fill = %d, want 7", got)
	}
	if out[0] != BOS || out[1] != 'h' {
		t.Fatalf("tokens = %v", out)
	}

	buf := make([]byte, 8)
	if n := m.TokenToPiece(out[2], buf); n != 1 || buf[0] != 0xc3 {
		t.Fatalf("piece = %d %x", n, buf[:1])
	}
	if n := m.TokenToPiece(EOS, buf); n != 0 {
		t.Fatalf("EOS piece length = %d", n)
	}
	if n := m.TokenToPiece(999, buf); n >= 0 {
		t.Fatalf("out of range piece length = %d", n)
	}
	if !m.IsEOG(EOS) || m.IsEOG(BOS) {
		t.Fatal("IsEOG mismatch")
	}
}

func TestDecodeLimits(t *testing.T) {
	t.Parallel()

	m := loadTestModel(t, true)
	ctx, err := m.NewContext(engine.ContextParams{ContextSize: 8, BatchSize: 4})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer func() { _ = ctx.Close() }()

	if err := ctx.Decode([]engine.Token{1, 2, 3, 4, 5}); err == nil {
		t.Fatal("batch larger than batch size accepted")
	}
	for i := 0; i < 2; i++ {
		if err := ctx.Decode([]engine.Token{1, 2, 3, 4}); err != nil {
			t.Fatalf("Decode chunk %d: %v", i, err)
		}
	}
	if err := ctx.Decode([]engine.Token{1}); err == nil {
		t.Fatal("decode past context window accepted")
	}
	if err := ctx.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := ctx.Decode([]engine.Token{1}); err != nil {
		t.Fatalf("Decode after Reset: %v", err)
	}
}

func TestSamplerChainDeterministic(t *testing.T) {
	t.Parallel()

	m := loadTestModel(t, true)
	run := func() []engine.Token {
		ctx, err := m.NewContext(engine.ContextParams{ContextSize: 64, BatchSize: 64})
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = ctx.Close() }()
		chain, err := m.NewSamplerChain(
			engine.TopP(0.9, 1),
			engine.Temperature(0.8),
			engine.Penalties(64, 1.1, 0.2, 0.2),
			engine.Dist(1234),
		)
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = chain.Close() }()

		if err := ctx.Decode([]engine.Token{BOS, 'h', 'i'}); err != nil {
			t.Fatal(err)
		}
		var out []engine.Token
		for i := 0; i < 16; i++ {
			tok := chain.Sample(ctx)
			out = append(out, tok)
			if m.IsEOG(tok) {
				break
			}
			chain.Accept(tok)
			if err := ctx.Decode([]engine.Token{tok}); err != nil {
				t.Fatal(err)
			}
		}
		return out
	}
	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("runs differ: %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("runs differ at %d: %v vs %v", i, a, b)
		}
	}
}

func TestGrammarConstrainedGeneration(t *testing.T) {
	t.Parallel()

	m := loadTestModel(t, true)
	ctx, err := m.NewContext(engine.ContextParams{ContextSize: 4096, BatchSize: 512})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ctx.Close() }()

	chain, err := m.NewSamplerChain(engine.TopP(0.9, 1), engine.Temperature(0.8), engine.Dist(99))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = chain.Close() }()

	prompt := []engine.Token{BOS, '{', '"'}
	for _, tok := range prompt {
		chain.Accept(tok)
	}
	schema := grammar.Proofreading()
	if err := chain.Add(engine.Grammar(schema)); err != nil {
		t.Fatal(err)
	}
	if err := ctx.Decode(prompt); err != nil {
		t.Fatal(err)
	}

	var out []byte
	buf := make([]byte, 4)
	for i := 0; i < 4000; i++ {
		tok := chain.Sample(ctx)
		if m.IsEOG(tok) {
			break
		}
		n := m.TokenToPiece(tok, buf)
		if n < 0 {
			t.Fatalf("unrenderable token %d", tok)
		}
		out = append(out, buf[:n]...)
		chain.Accept(tok)
		if err := ctx.Decode([]engine.Token{tok}); err != nil {
			t.Fatalf("Decode after %d bytes: %v", len(out), err)
		}
	}
	if err := schema.Validate(string(out)); err != nil {
		t.Fatalf("constrained output invalid: %v", err)
	}
}

func TestSamplerCompletesUTF8Sequences(t *testing.T) {
	t.Parallel()

	m := loadTestModel(t, true)
	for seed := uint32(1); seed <= 20; seed++ {
		ctx, err := m.NewContext(engine.ContextParams{ContextSize: 64, BatchSize: 64})
		if err != nil {
			t.Fatal(err)
		}
		chain, err := m.NewSamplerChain(engine.Temperature(2), engine.Dist(seed))
		if err != nil {
			t.Fatal(err)
		}
		if err := ctx.Decode([]engine.Token{BOS, 0xE2}); err != nil {
			t.Fatal(err)
		}
		chain.Accept(BOS)
		chain.Accept(0xE2)

		tok := chain.Sample(ctx)
		if tok < 0x80 || tok > 0xBF {
			t.Fatalf("seed %d: token %#x after a 3-byte lead is not a continuation byte", seed, tok)
		}
		chain.Accept(tok)
		if p := chain.(*SamplerChain).Pending(); len(p) != 2 {
			t.Fatalf("seed %d: pending = %x", seed, p)
		}
		_ = chain.Close()
		_ = ctx.Close()
	}
}

func TestSamplerOutputStaysValidUTF8(t *testing.T) {
	t.Parallel()

	m := loadTestModel(t, true)
	for seed := uint32(1); seed <= 5; seed++ {
		ctx, err := m.NewContext(engine.ContextParams{ContextSize: 1024, BatchSize: 64})
		if err != nil {
			t.Fatal(err)
		}
		chain, err := m.NewSamplerChain(engine.TopP(1, 1), engine.Temperature(3), engine.Dist(seed))
		if err != nil {
			t.Fatal(err)
		}
		if err := ctx.Decode([]engine.Token{BOS}); err != nil {
			t.Fatal(err)
		}

		var out []byte
		for range 600 {
			tok := chain.Sample(ctx)
			if m.IsEOG(tok) {
				if utf8stream.Classify(out) == utf8stream.PartialTail {
					t.Fatalf("seed %d: end of generation inside a character: %x", seed, out)
				}
				break
			}
			if tok >= ByteTokens {
				t.Fatalf("seed %d: sampled special token %d", seed, tok)
			}
			out = append(out, byte(tok))
			if cls := utf8stream.Classify(out); cls == utf8stream.Invalid {
				t.Fatalf("seed %d: output became invalid UTF-8 at byte %d: %x", seed, len(out), out)
			}
			chain.Accept(tok)
			if err := ctx.Decode([]engine.Token{tok}); err != nil {
				t.Fatal(err)
			}
		}
		_ = chain.Close()
		_ = ctx.Close()
	}
}
