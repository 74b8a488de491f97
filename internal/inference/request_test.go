package inference

import (
	"errors"
	"testing"

	"github.com/samcharles93/cinder/internal/engine"
)

func ptr[T any](v T) *T { return &v }

func TestResolveRequest(t *testing.T) {
	t.Parallel()

	req, err := ResolveRequest(RequestOptions{Prompt: "p"})
	if err != nil {
		t.Fatal(err)
	}
	if req.MaxTokens != DefaultMaxTokens || req.Sampling != nil || req.Seed != nil || req.Structured != StructuredAuto {
		t.Fatalf("defaults = %+v", req)
	}

	req, err = ResolveRequest(RequestOptions{
		Prompt:      "p",
		MaxTokens:   ptr(7),
		Temperature: ptr(0.5),
		Structured:  ptr("on"),
		Seed:        ptr(int64(42)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if req.MaxTokens != 7 || req.Sampling.Temperature != 0.5 || req.Sampling.TopP != DefaultTopP {
		t.Fatalf("resolved = %+v sampling = %+v", req, req.Sampling)
	}
	if req.Structured != StructuredOn || req.Seed == nil || *req.Seed != 42 {
		t.Fatalf("resolved = %+v", req)
	}

	cases := []struct {
		name string
		opts RequestOptions
		want int
	}{
		{"plain", RequestOptions{Prompt: "p"}, DefaultMaxTokens},
		{"structured on", RequestOptions{Prompt: "p", Structured: ptr("on")}, DefaultStructuredMaxTokens},
		{"structured marker", RequestOptions{Prompt: "Reply in JSON only."}, DefaultStructuredMaxTokens},
		{"marker turned off", RequestOptions{Prompt: "Reply in JSON only.", Structured: ptr("off")}, DefaultMaxTokens},
		{"explicit wins", RequestOptions{Prompt: "p", Structured: ptr("on"), MaxTokens: ptr(64)}, 64},
	}
	for _, tc := range cases {
		req, err := ResolveRequest(tc.opts)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if req.MaxTokens != tc.want {
			t.Fatalf("%s: max tokens = %d, want %d", tc.name, req.MaxTokens, tc.want)
		}
	}

	if _, err := ResolveRequest(RequestOptions{Prompt: "p", TopP: ptr(2.0)}); !errors.Is(err, ErrInvalidSampling) {
		t.Fatalf("top-p 2: err = %v", err)
	}
	if _, err := ResolveRequest(RequestOptions{Prompt: "p", MaxTokens: ptr(-1)}); !errors.Is(err, ErrInvalidSampling) {
		t.Fatalf("max tokens -1: err = %v", err)
	}
	if _, err := ResolveRequest(RequestOptions{Prompt: "p", Structured: ptr("maybe")}); err == nil {
		t.Fatal("unknown structured mode accepted")
	}
}

func TestStructuredDetection(t *testing.T) {
	t.Parallel()

	cases := []struct {
		req  Request
		want bool
	}{
		{Request{Prompt: "Return JSON only."}, true},
		{Request{Prompt: "return json only"}, false},
		{Request{Prompt: "plain"}, false},
		{Request{Prompt: "plain", Structured: StructuredOn}, true},
		{Request{Prompt: "JSON only", Structured: StructuredOff}, false},
	}
	for _, tc := range cases {
		if got := tc.req.structured(); got != tc.want {
			t.Fatalf("structured(%+v) = %v, want %v", tc.req, got, tc.want)
		}
	}
}

func TestMessage(t *testing.T) {
	t.Parallel()

	if got := Message(ErrEmptyPrompt); got != "Empty prompt" {
		t.Fatalf("Message(ErrEmptyPrompt) = %q", got)
	}
	wrapped := errors.Join(errors.New("ctx"), ErrPromptTooLong)
	if got := Message(wrapped); got != "Prompt too long" {
		t.Fatalf("Message(wrapped) = %q", got)
	}
	if got := Message(errors.New("other")); got != "other" {
		t.Fatalf("Message(other) = %q", got)
	}
}

type sizingModel struct {
	fakeModel
	count, fill int
}

func (m *sizingModel) Tokenize(text string, out []engine.Token, addSpecial bool) int {
	if len(out) == 0 {
		return m.count
	}
	for i := range out {
		out[i] = 7
	}
	return m.fill
}

func TestTokenizeTwoPhase(t *testing.T) {
	t.Parallel()

	seq, err := tokenize(&sizingModel{count: -5, fill: 3}, "abc")
	if err != nil {
		t.Fatal(err)
	}
	if seq.Len() != 3 || cap(seq.Tokens()) != 3 {
		t.Fatalf("sequence len=%d cap=%d, want trimmed to 3", seq.Len(), cap(seq.Tokens()))
	}

	if _, err := tokenize(&sizingModel{count: -2, fill: 4}, "abc"); !errors.Is(err, ErrTokenizationFailed) {
		t.Fatalf("overflow: err = %v", err)
	}
	if _, err := tokenize(&sizingModel{count: -2, fill: -1}, "abc"); !errors.Is(err, ErrTokenizationFailed) {
		t.Fatalf("negative fill: err = %v", err)
	}

	seq = &TokenSequence{toks: []engine.Token{1, 2, 3, 4, 5}}
	chunks := seq.Chunks(2)
	if len(chunks) != 3 || len(chunks[2]) != 1 {
		t.Fatalf("chunks = %v", chunks)
	}
}
