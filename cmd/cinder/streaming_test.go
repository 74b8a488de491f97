package main

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samcharles93/cinder/internal/inference"
)

var _ inference.Sink = (*StreamWriter)(nil)

func TestStreamWriterModes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		mode StreamMode
		raw  bool
		want string
	}{
		{StreamInstant, false, "héllo\nworld\n"},
		{StreamSmooth, false, "héllo\nworld\n"},
		{StreamQuiet, false, "héllo\nworld\n"},
		{StreamInstant, true, `héllo\nworld` + "\n"},
	}
	for _, tc := range cases {
		var out, errOut bytes.Buffer
		w := NewStreamWriter(&out, &errOut, tc.mode, tc.raw)
		w.OnToken("hé")
		w.OnToken("llo\n")
		if tc.mode == StreamQuiet && out.Len() != 0 {
			t.Fatalf("quiet mode wrote before completion: %q", out.String())
		}
		w.OnToken("world")
		w.OnComplete()
		w.Close()
		if out.String() != tc.want {
			t.Fatalf("%s raw=%v: got %q want %q", tc.mode, tc.raw, out.String(), tc.want)
		}
		if w.Text() != "héllo\nworld" {
			t.Fatalf("accumulated %q", w.Text())
		}
	}
}

func TestStreamWriterInstantFlushesEachToken(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	w := NewStreamWriter(&out, &bytes.Buffer{}, StreamInstant, false)
	w.OnToken("a")
	if out.String() != "a" {
		t.Fatalf("instant output = %q", out.String())
	}
}

func TestStreamWriterSmoothBackgroundFlush(t *testing.T) {
	t.Parallel()

	var out lockedBuffer
	w := NewStreamWriter(&out, &bytes.Buffer{}, StreamSmooth, false)
	defer w.Close()
	w.OnToken("tick")
	deadline := time.Now().Add(2 * time.Second)
	for out.String() != "tick" {
		if time.Now().After(deadline) {
			t.Fatalf("smooth mode never flushed, got %q", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStreamWriterError(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	w := NewStreamWriter(&out, &errOut, StreamInstant, false)
	w.OnError("Empty prompt")
	if w.Failure() != "Empty prompt" || !strings.Contains(errOut.String(), "error: Empty prompt") {
		t.Fatalf("failure=%q stderr=%q", w.Failure(), errOut.String())
	}
	if out.Len() != 0 {
		t.Fatalf("stdout = %q", out.String())
	}
}

func TestParseStreamMode(t *testing.T) {
	t.Parallel()

	if m, err := parseStreamMode(""); err != nil || m != StreamInstant {
		t.Fatalf("empty: %v %v", m, err)
	}
	if m, err := parseStreamMode(" Smooth "); err != nil || m != StreamSmooth {
		t.Fatalf("smooth: %v %v", m, err)
	}
	if _, err := parseStreamMode("typewriter"); err == nil {
		t.Fatal("unknown mode accepted")
	}
}

func TestEscapeRawOutput(t *testing.T) {
	t.Parallel()

	if got := escapeRawOutput("a\tb\\c\x01"); got != `a\tb\\c\u0001` {
		t.Fatalf("escape = %q", got)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
