package inference

import (
	"errors"
	"fmt"
)

var (
	ErrModelLoadFailed        = errors.New("model load failed")
	ErrContextInitFailed      = errors.New("context init failed")
	ErrSamplerInitFailed      = errors.New("sampler init failed")
	ErrGenerationBusy         = errors.New("generation already in progress")
	ErrEmptyPrompt            = errors.New("empty prompt")
	ErrPromptTooLong          = errors.New("prompt too long")
	ErrTokenizationFailed     = errors.New("tokenization failed")
	ErrPromptEvaluationFailed = errors.New("prompt evaluation failed")
	ErrInvalidSampling        = errors.New("invalid sampling parameters")
	ErrHandleClosed           = errors.New("model handle is closed")
)

var messages = []struct {
	err error
	msg string
}{
	{ErrEmptyPrompt, "Empty prompt"},
	{ErrPromptTooLong, "Prompt too long"},
	{ErrGenerationBusy, "Generation already in progress"},
	{ErrTokenizationFailed, "Tokenization failed"},
	{ErrPromptEvaluationFailed, "Failed to evaluate prompt"},
	{ErrInvalidSampling, "Invalid sampling parameters"},
	{ErrSamplerInitFailed, "Failed to initialize sampler"},
	{ErrHandleClosed, "Model not loaded"},
	{ErrModelLoadFailed, "Failed to load model"},
	{ErrContextInitFailed, "Failed to create context"},
}

// Message returns the text delivered to Sink.OnError for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range messages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return err.Error()
}

// safeCall runs an engine call, converting a panic into an error.
func safeCall[T any](what string, fn func() T) (v T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s: %v", what, rec)
		}
	}()
	return fn(), nil
}
