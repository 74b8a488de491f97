package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

type StreamMode string

const (
	StreamInstant StreamMode = "instant"
	StreamSmooth  StreamMode = "smooth"
	StreamQuiet   StreamMode = "quiet"
)

func parseStreamMode(s string) (StreamMode, error) {
	switch m := StreamMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return StreamInstant, nil
	case StreamInstant, StreamSmooth, StreamQuiet:
		return m, nil
	default:
		return "", fmt.Errorf("unknown stream mode %q (expected instant, smooth or quiet)", s)
	}
}

// StreamWriter is the terminal inference.Sink. Instant writes every
// fragment as it arrives, smooth batches fragments on a short timer, quiet
// prints the whole text on completion.
type StreamWriter struct {
	mode   StreamMode
	buffer *bufio.Writer
	errOut io.Writer
	raw    bool

	mu            sync.Mutex
	batch         strings.Builder
	lastFlush     time.Time
	flushInterval time.Duration
	accumulator   strings.Builder
	failure       string

	stop chan struct{}
	done chan struct{}
}

func NewStreamWriter(out, errOut io.Writer, mode StreamMode, raw bool) *StreamWriter {
	w := &StreamWriter{
		mode:          mode,
		buffer:        bufio.NewWriterSize(out, 4096),
		errOut:        errOut,
		raw:           raw,
		lastFlush:     time.Now(),
		flushInterval: 50 * time.Millisecond,
	}
	if mode == StreamSmooth {
		w.stop = make(chan struct{})
		w.done = make(chan struct{})
		go w.backgroundFlusher()
	}
	return w
}

func (w *StreamWriter) OnToken(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.accumulator.WriteString(text)
	switch w.mode {
	case StreamInstant:
		w.write(text)
		_ = w.buffer.Flush()
	case StreamSmooth:
		w.batch.WriteString(text)
		if time.Since(w.lastFlush) >= w.flushInterval {
			w.flushBatch()
		}
	}
}

func (w *StreamWriter) OnComplete() {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.mode {
	case StreamQuiet:
		w.write(w.accumulator.String())
	case StreamSmooth:
		w.flushBatch()
	}
	if w.accumulator.Len() > 0 && !strings.HasSuffix(w.accumulator.String(), "\n") {
		_, _ = w.buffer.WriteString("\n")
	}
	_ = w.buffer.Flush()
}

func (w *StreamWriter) OnError(message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failure = message
	_, _ = fmt.Fprintf(w.errOut, "error: %s\n", message)
}

// Text returns everything streamed so far.
func (w *StreamWriter) Text() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.accumulator.String()
}

// Failure returns the OnError message, if any.
func (w *StreamWriter) Failure() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failure
}

// Close stops the smooth-mode flusher.
func (w *StreamWriter) Close() {
	if w.stop == nil {
		return
	}
	close(w.stop)
	<-w.done
	w.stop = nil
}

// write must hold the lock.
func (w *StreamWriter) write(text string) {
	if w.raw {
		text = escapeRawOutput(text)
	}
	_, _ = w.buffer.WriteString(text)
}

// flushBatch must hold the lock.
func (w *StreamWriter) flushBatch() {
	if w.batch.Len() == 0 {
		return
	}
	w.write(w.batch.String())
	_ = w.buffer.Flush()
	w.batch.Reset()
	w.lastFlush = time.Now()
}

func (w *StreamWriter) backgroundFlusher() {
	defer close(w.done)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.mu.Lock()
			if time.Since(w.lastFlush) >= w.flushInterval {
				w.flushBatch()
			}
			w.mu.Unlock()
		}
	}
}

func escapeRawOutput(s string) string {
	var b strings.Builder
	for _, r := range s {
		b.WriteString(escapeRawOutputRune(r))
	}
	return b.String()
}

func escapeRawOutputRune(r rune) string {
	switch r {
	case '\n':
		return `\n`
	case '\r':
		return `\r`
	case '\t':
		return `\t`
	case '\\':
		return `\\`
	default:
		if strconv.IsPrint(r) {
			return string(r)
		}
		return fmt.Sprintf(`\u%04x`, r)
	}
}
