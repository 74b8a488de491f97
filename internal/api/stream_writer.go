package api

import (
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// SSE event names.
const (
	eventToken = "token"
	eventDone  = "done"
	eventError = "error"
)

// SSEStreamWriter is an inference.Sink that forwards tokens as server-sent
// events. Headers are written on the first event so a generation that fails
// during setup can still be answered with a plain JSON error.
type SSEStreamWriter struct {
	res     io.Writer
	header  func()
	flusher func()

	mu    sync.Mutex
	seq   int
	begun bool
	err   error
}

func NewSSEStreamWriter(c *echo.Context) (*SSEStreamWriter, error) {
	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	return &SSEStreamWriter{
		res: res,
		header: func() {
			res.Header().Set(echo.HeaderContentType, "text/event-stream")
			res.Header().Set("Cache-Control", "no-cache")
			res.Header().Set("Connection", "keep-alive")
		},
		flusher: flusher.Flush,
	}, nil
}

type tokenEvent struct {
	Delta          string `json:"delta"`
	SequenceNumber int    `json:"sequence_number"`
}

type errorEvent struct {
	Error          ErrorObject `json:"error"`
	SequenceNumber int         `json:"sequence_number"`
}

type doneEvent struct {
	Response       GenerateResponse `json:"response"`
	SequenceNumber int              `json:"sequence_number"`
}

func (s *SSEStreamWriter) OnToken(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.send(eventToken, tokenEvent{Delta: text, SequenceNumber: s.seq})
}

// OnComplete is a no-op; Complete sends the final response.
func (s *SSEStreamWriter) OnComplete() {}

// OnError is a no-op; setup failures are answered by the handler.
func (s *SSEStreamWriter) OnError(string) {}

// Started reports whether any event reached the client.
func (s *SSEStreamWriter) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begun
}

func (s *SSEStreamWriter) Complete(resp GenerateResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.send(eventDone, doneEvent{Response: resp, SequenceNumber: s.seq})
	return s.err
}

func (s *SSEStreamWriter) Fail(obj ErrorObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.send(eventError, errorEvent{Error: obj, SequenceNumber: s.seq})
	return s.err
}

// send must hold the lock. After the first write error the stream is dead
// and further events are dropped.
func (s *SSEStreamWriter) send(event string, payload any) {
	if s.err != nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		s.err = err
		return
	}
	if !s.begun {
		s.begun = true
		s.header()
	}
	if _, err := fmt.Fprintf(s.res, "event: %s\ndata: %s\n\n", event, b); err != nil {
		s.err = err
		return
	}
	s.seq++
	s.flusher()
}
