package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

const (
	ansiReset   = "\033[0m"
	ansiDim     = "\033[2m"
	ansiRed     = "\033[31m"
	ansiGreen   = "\033[32m"
	ansiYellow  = "\033[33m"
	ansiBlue    = "\033[34m"
	ansiMagenta = "\033[35m"
	ansiCyan    = "\033[36m"
)

// Attribute keys rendered specially by PrettyHandler. They match the keys the
// inference handle and the CLI log generations with.
const (
	KeyReason = "reason"
	KeyState  = "state"
	KeyTokens = "tokens"
	KeyChain  = "chain"
	KeyError  = "error"
)

// PrettyHandler writes one line per record for people watching a terminal:
//
//	14:03:07.412 INF generation finished reason=eog tokens=1,204 duration=3.18s
//
// Finish reasons are coloured by outcome, token counts get thousands
// separators and sampler chains are bracketed instead of quoted. Colour is
// only used when the writer is a terminal and NO_COLOR is unset.
type PrettyHandler struct {
	opts   slog.HandlerOptions
	w      io.Writer
	mu     *sync.Mutex
	color  bool
	prefix string
	pre    []byte
}

func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	h := &PrettyHandler{w: w, mu: new(sync.Mutex), color: colorWriter(w)}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func colorWriter(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	buf = h.paint(buf, ansiDim, func(b []byte) []byte {
		return r.Time.AppendFormat(b, "15:04:05.000")
	})
	buf = append(buf, ' ')
	buf = h.paint(buf, levelColor(r.Level), func(b []byte) []byte {
		return append(b, levelTag(r.Level)...)
	})
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)
	buf = append(buf, h.pre...)
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, h.prefix, a)
		return true
	})
	if h.opts.AddSource && r.Level >= slog.LevelWarn && r.PC != 0 {
		fr, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if fr.File != "" {
			buf = append(buf, ' ')
			buf = h.paint(buf, ansiDim, func(b []byte) []byte {
				b = append(b, filepath.Base(fr.File)...)
				b = append(b, ':')
				return strconv.AppendInt(b, int64(fr.Line), 10)
			})
		}
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

// WithAttrs renders attrs once; they keep the group prefix in effect now.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.pre = append([]byte(nil), h.pre...)
	for _, a := range attrs {
		h2.pre = h.appendAttr(h2.pre, h.prefix, a)
	}
	return &h2
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

func (h *PrettyHandler) paint(buf []byte, color string, body func([]byte) []byte) []byte {
	if !h.color || color == "" {
		return body(buf)
	}
	buf = append(buf, color...)
	buf = body(buf)
	return append(buf, ansiReset...)
}

func (h *PrettyHandler) appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, p, ga)
		}
		return buf
	}

	buf = append(buf, ' ')
	buf = h.paint(buf, ansiDim, func(b []byte) []byte {
		b = append(b, prefix...)
		b = append(b, a.Key...)
		return append(b, '=')
	})

	switch a.Key {
	case KeyReason:
		s := a.Value.String()
		return h.paint(buf, reasonColor(s), func(b []byte) []byte { return appendText(b, s) })
	case KeyState:
		return h.paint(buf, ansiMagenta, func(b []byte) []byte { return appendText(b, a.Value.String()) })
	case KeyTokens:
		if n, ok := integer(a.Value); ok {
			return append(buf, humanize.Comma(n)...)
		}
	case KeyChain:
		return h.paint(buf, ansiCyan, func(b []byte) []byte {
			b = append(b, '[')
			b = append(b, a.Value.String()...)
			return append(b, ']')
		})
	case KeyError:
		return h.paint(buf, ansiRed, func(b []byte) []byte { return appendText(b, a.Value.String()) })
	}
	return appendValue(buf, a.Value)
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		return appendText(buf, v.String())
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'g', 4, 64)
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindDuration:
		return append(buf, shortDuration(v.Duration())...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	default:
		return appendText(buf, fmt.Sprint(v.Any()))
	}
}

func appendText(buf []byte, s string) []byte {
	if needsQuoting(s) {
		return strconv.AppendQuote(buf, s)
	}
	return append(buf, s...)
}

func integer(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		if u := v.Uint64(); u <= 1<<63-1 {
			return int64(u), true
		}
	}
	return 0, false
}

// shortDuration rounds to three significant places below a minute.
func shortDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return d.Round(time.Second).String()
	case d >= time.Second:
		return d.Round(10 * time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond).String()
	default:
		return d.String()
	}
}

func reasonColor(reason string) string {
	switch reason {
	case "eog", "max_tokens":
		return ansiGreen
	case "cancelled":
		return ansiYellow
	default:
		return ansiRed
	}
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return ansiRed
	case level >= slog.LevelWarn:
		return ansiYellow
	case level >= slog.LevelInfo:
		return ansiBlue
	default:
		return ansiDim
	}
}

func levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERR"
	case level >= slog.LevelWarn:
		return "WRN"
	case level >= slog.LevelInfo:
		return "INF"
	default:
		return "DBG"
	}
}

func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	for _, c := range s {
		if c <= ' ' || c == '"' || c == '=' || c == 0x7f {
			return true
		}
	}
	return false
}
