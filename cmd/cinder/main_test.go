package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cinder/internal/config"
	"github.com/samcharles93/cinder/internal/gguf"
	"github.com/samcharles93/cinder/internal/inference"
)

func runApp(t *testing.T, args ...string) {
	t.Helper()
	prev := cli.OsExiter
	cli.OsExiter = func(code int) { t.Fatalf("cinder %v exited with %d", args, code) }
	t.Cleanup(func() { cli.OsExiter = prev })

	if err := newApp().Run(context.Background(), append([]string{"cinder", "--log-level", "error"}, args...)); err != nil {
		t.Fatalf("cinder %v: %v", args, err)
	}
}

func TestInitModelThenRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.cbm")
	runApp(t, "init-model", "--out", path, "--hidden", "8", "--seed", "2")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("model not written: %v", err)
	}

	runApp(t, "run", "--model", path, "--prompt", "hi", "--max-tokens", "4", "--stream-mode", "quiet", "--seed", "3")
	if modelPath != path || maxTokens != 4 || seed != 3 {
		t.Fatalf("flags not applied: model=%q max=%d seed=%d", modelPath, maxTokens, seed)
	}

	runApp(t, "info", "--model", path, "--ctx-size", "256", "--batch-size", "64")
	if contextSize != 256 || batchSize != 64 {
		t.Fatalf("info flags: ctx=%d batch=%d", contextSize, batchSize)
	}
}

func TestConfigFileFillsUnsetFlags(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "cfg.cbm")
	runApp(t, "init-model", "--out", model, "--hidden", "4")

	cfgPath := filepath.Join(dir, "config.yaml")
	data := strings.Join([]string{
		"model: " + model,
		"backend: go",
		"context_size: 512",
		"max_tokens: 2",
		"temperature: 0.5",
		"structured: off",
	}, "\n")
	if err := os.WriteFile(cfgPath, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	runApp(t, "--config", cfgPath, "run", "--prompt", "x", "--ctx-size", "300", "--stream-mode", "quiet")
	if modelPath != model || backendName != "go" {
		t.Fatalf("config not applied: model=%q backend=%q", modelPath, backendName)
	}
	if contextSize != 300 {
		t.Fatalf("explicit --ctx-size overridden by config: %d", contextSize)
	}
	if maxTokens != 2 || temperature != 0.5 || structured != "off" {
		t.Fatalf("sampling config: max=%d temp=%v structured=%q", maxTokens, temperature, structured)
	}
}

func TestRequestOptionsOnlySendsGivenSampling(t *testing.T) {
	cfg = config.Config{}
	t.Cleanup(func() { cfg = config.Config{} })

	noop := func(context.Context, *cli.Command) error { return nil }
	cmd := &cli.Command{Flags: samplingFlags(), Action: noop}
	if err := cmd.Run(context.Background(), []string{"x", "--prompt", "p"}); err != nil {
		t.Fatal(err)
	}
	opts := requestOptions(cmd, "p")
	if opts.Temperature != nil || opts.TopP != nil || opts.MaxTokens != nil {
		t.Fatalf("defaults leaked into request: %+v", opts)
	}
	req, err := inference.ResolveRequest(opts)
	if err != nil {
		t.Fatal(err)
	}
	if req.Sampling != nil || req.Seed != nil || req.MaxTokens != inference.DefaultMaxTokens {
		t.Fatalf("req = %+v", req)
	}

	cmd = &cli.Command{Flags: samplingFlags(), Action: noop}
	if err := cmd.Run(context.Background(), []string{"x", "--top-p", "0.5"}); err != nil {
		t.Fatal(err)
	}
	opts = requestOptions(cmd, "p")
	if opts.TopP == nil || *opts.TopP != 0.5 || opts.Temperature != nil {
		t.Fatalf("opts = %+v", opts)
	}
}

func TestReadPrompt(t *testing.T) {
	if got, _ := readPrompt("flag", []string{"arg"}, nil); got != "flag" {
		t.Fatalf("flag: %q", got)
	}
	if got, _ := readPrompt("", []string{"two", "words"}, nil); got != "two words" {
		t.Fatalf("args: %q", got)
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	_, _ = w.WriteString("piped prompt\n")
	_ = w.Close()
	withTTY(t, false)
	if got, err := readPrompt("", nil, r); err != nil || got != "piped prompt" {
		t.Fatalf("stdin: %q %v", got, err)
	}

	withTTY(t, true)
	if _, err := readPrompt("", nil, os.Stdin); err == nil {
		t.Fatal("expected error without a prompt")
	}
}

func TestPrintBenchTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printBenchTable(&buf, []benchRun{
		{TTFT: 10 * time.Millisecond, PromptTPS: 100, TPS: 20, Duration: time.Second, Tokens: 20, Finish: inference.FinishMaxTokens},
		{TTFT: 30 * time.Millisecond, PromptTPS: 300, TPS: 40, Duration: time.Second, Tokens: 40, Finish: inference.FinishEOG},
	})
	out := buf.String()
	if !strings.Contains(out, "max_tokens") || !strings.Contains(out, "eog") {
		t.Fatalf("missing finish reasons:\n%s", out)
	}
	if !strings.Contains(out, "Avg          20.0     200.00      30.00") {
		t.Fatalf("unexpected averages:\n%s", out)
	}
}

func TestPrintGGUF(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printGGUF(&buf, &gguf.Metadata{
		Version:     3,
		TensorCount: 201,
		KV: map[string]any{
			"general.architecture": "qwen2",
			"general.file_type":    uint32(15),
			"qwen2.context_length": uint32(32768),
		},
	})
	out := buf.String()
	for _, want := range []string{"architecture: qwen2", "quantization: Q4_K_M", "trained ctx:  32,768 tokens", "tensors:      201"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "name:") || strings.Contains(out, "vocabulary:") {
		t.Fatalf("absent keys printed:\n%s", out)
	}
}
