package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type setFlags map[string]bool

func (s setFlags) IsSet(name string) bool { return s[name] }

func TestLoadMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != "" || cfg.ContextSize != nil {
		t.Fatalf("cfg = %+v, want zero", cfg)
	}
}

func TestLoadParsesPointerFields(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := strings.Join([]string{
		"model: /models/tiny.cbm",
		"backend: go",
		"context_size: 1024",
		"temperature: 0",
		"top_p: 0.5",
		"structured: on",
		"server_address: 0.0.0.0:9000",
	}, "\n")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != "go" || cfg.ServerAddress != "0.0.0.0:9000" || cfg.Structured != "on" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.ContextSize == nil || *cfg.ContextSize != 1024 {
		t.Fatalf("context size = %v", cfg.ContextSize)
	}
	// An explicit zero is still "set".
	if cfg.Temperature == nil || *cfg.Temperature != 0 {
		t.Fatalf("temperature = %v", cfg.Temperature)
	}
	if cfg.Seed != nil {
		t.Fatalf("seed = %v, want unset", *cfg.Seed)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("context_size: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	seed := int64(7)
	if err := Save(path, Config{Backend: "llamacpp", Seed: &seed}); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != "llamacpp" || cfg.Seed == nil || *cfg.Seed != 7 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestApplyRespectsExplicitFlags(t *testing.T) {
	t.Parallel()

	ctx := int64(1024)
	temp := 0.3

	var (
		gotCtx  int64 = 2048
		gotTemp       = 0.8
		addr          = "127.0.0.1:8080"
	)
	flags := setFlags{"temperature": true}
	Apply(flags, &gotCtx, &ctx, "ctx-size", "c")
	Apply(flags, &gotTemp, &temp, "temperature", "t")
	Apply[int64](flags, &gotCtx, nil, "ctx-size")
	ApplyString(flags, &addr, "", "addr")

	if gotCtx != 1024 {
		t.Fatalf("ctx = %d, want config value", gotCtx)
	}
	if gotTemp != 0.8 {
		t.Fatalf("temperature = %v, want flag value kept", gotTemp)
	}
	if addr != "127.0.0.1:8080" {
		t.Fatalf("addr = %q, empty config value must not apply", addr)
	}

	ApplyString(setFlags{"t": true}, &addr, "0.0.0.0:1", "addr")
	if addr != "0.0.0.0:1" {
		t.Fatalf("addr = %q", addr)
	}
}

func TestModelPathFallbacks(t *testing.T) {
	t.Setenv(EnvModel, "/env/model.cbm")

	if got := (Config{Model: "/cfg/model.cbm"}).ModelPath(" /flag/model.cbm "); got != "/flag/model.cbm" {
		t.Fatalf("flag: %q", got)
	}
	if got := (Config{Model: "/cfg/model.cbm"}).ModelPath(""); got != "/cfg/model.cbm" {
		t.Fatalf("config: %q", got)
	}
	if got := (Config{}).ModelPath(""); got != "/env/model.cbm" {
		t.Fatalf("env: %q", got)
	}
}
