package inference

// Sink receives the events of one generation in order: zero or more
// OnToken calls followed by exactly one of OnComplete or OnError. OnError is
// only used for failures before any token was delivered.
type Sink interface {
	OnToken(text string)
	OnComplete()
	OnError(message string)
}

// SinkFuncs adapts plain functions to a Sink. Nil fields are skipped.
type SinkFuncs struct {
	Token    func(text string)
	Complete func()
	Error    func(message string)
}

func (s SinkFuncs) OnToken(text string) {
	if s.Token != nil {
		s.Token(text)
	}
}

func (s SinkFuncs) OnComplete() {
	if s.Complete != nil {
		s.Complete()
	}
}

func (s SinkFuncs) OnError(message string) {
	if s.Error != nil {
		s.Error(message)
	}
}

// StreamFunc is the token-only form of a Sink.
type StreamFunc func(token string)

func (f StreamFunc) OnToken(text string) {
	if f != nil {
		f(text)
	}
}

func (StreamFunc) OnComplete()    {}
func (StreamFunc) OnError(string) {}

// Observer is told about every generation outcome on a handle.
type Observer interface {
	GenerationCompleted(backend string, res *Result)
	GenerationFailed(backend string, err error)
}
