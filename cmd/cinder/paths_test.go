package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/cinder/internal/api"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func withTTY(t *testing.T, tty bool) {
	t.Helper()
	prev := stdinIsTTY
	stdinIsTTY = func() bool { return tty }
	t.Cleanup(func() { stdinIsTTY = prev })
}

func TestResolveInitOut(t *testing.T) {
	t.Run("explicit output wins", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "nested", "tiny.cbm")
		got, defaulted, err := resolveInitOut("ignored", out)
		if err != nil || defaulted || got != out {
			t.Fatalf("got %q defaulted=%v err=%v", got, defaulted, err)
		}
		if _, err := os.Stat(filepath.Dir(got)); err != nil {
			t.Fatalf("output directory missing: %v", err)
		}
	})

	t.Run("models dir env is the default location", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "models")
		t.Setenv(api.EnvModelsDir, dir)
		got, defaulted, err := resolveInitOut("tiny", "")
		if err != nil || !defaulted {
			t.Fatalf("defaulted=%v err=%v", defaulted, err)
		}
		if want := filepath.Join(dir, "tiny.cbm"); got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	})

	t.Run("rejects path-like names", func(t *testing.T) {
		if _, _, err := resolveInitOut("a/b", ""); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestResolveModelPath(t *testing.T) {
	t.Run("model flag bypasses env", func(t *testing.T) {
		t.Setenv(api.EnvModelsDir, "")
		got, err := resolveModelPath("/tmp/model.cbm", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil || got != filepath.Clean("/tmp/model.cbm") {
			t.Fatalf("got %q err=%v", got, err)
		}
	})

	t.Run("model name resolves in models dir", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, "a.cbm", "tiny.gguf")
		t.Setenv(api.EnvModelsDir, dir)

		got, err := resolveModelPath("tiny", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil || got != filepath.Join(dir, "tiny.gguf") {
			t.Fatalf("got %q err=%v", got, err)
		}
		if _, err := resolveModelPath("missing", "", bytes.NewBuffer(nil), io.Discard); err == nil {
			t.Fatal("expected error for an unknown model name")
		}
	})

	t.Run("single model selects automatically", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, "only.cbm")
		t.Setenv(api.EnvModelsDir, dir)
		withTTY(t, false)

		got, err := resolveModelPath("", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil || got != filepath.Join(dir, "only.cbm") {
			t.Fatalf("got %q err=%v", got, err)
		}
	})

	t.Run("multiple models requires tty", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, "a.cbm", "b.cbm")
		t.Setenv(api.EnvModelsDir, dir)
		withTTY(t, false)

		if _, err := resolveModelPath("", "", bytes.NewBuffer(nil), io.Discard); err == nil {
			t.Fatal("expected error when stdin is not a tty")
		}
	})

	t.Run("interactive selection chooses sorted index", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, "b.cbm", "a.cbm")
		t.Setenv(api.EnvModelsDir, "")
		withTTY(t, true)

		var prompt bytes.Buffer
		got, err := resolveModelPath("", dir, bytes.NewBufferString("x\n\n9\n2\n"), &prompt)
		if err != nil || got != filepath.Join(dir, "b.cbm") {
			t.Fatalf("got %q err=%v", got, err)
		}
		if !strings.Contains(prompt.String(), "  2) b.cbm") || !strings.Contains(prompt.String(), `"9" is not a listed model`) {
			t.Fatalf("prompt = %q", prompt.String())
		}
	})

	t.Run("missing selection on eof", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, "a.cbm", "b.cbm")
		withTTY(t, true)

		if _, err := resolveModelPath("", dir, bytes.NewBuffer(nil), io.Discard); err == nil {
			t.Fatal("expected error on empty stdin")
		}
	})
}
