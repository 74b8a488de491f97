// Package backend selects the inference engine implementation by name.
package backend

import (
	"fmt"
	"strings"

	"github.com/samcharles93/cinder/internal/engine"
	"github.com/samcharles93/cinder/internal/engine/bytelm"
)

const (
	Go       = "go"
	LlamaCpp = "llamacpp"
	Auto     = "auto"
)

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case Go, LlamaCpp, Auto:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, go, or llamacpp)", backend)
	}
}

// New returns the named backend. Auto prefers llama.cpp when it is compiled
// in and falls back to the pure-Go engine otherwise.
func New(name string) (engine.Backend, error) {
	backend, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	switch backend {
	case Go:
		return bytelm.Backend{}, nil
	case LlamaCpp:
		return newLlamaCpp()
	default:
		if llamaCppEnabled {
			return newLlamaCpp()
		}
		return bytelm.Backend{}, nil
	}
}

func Has(name string) bool {
	switch name {
	case Go, Auto:
		return true
	case LlamaCpp:
		return llamaCppEnabled
	default:
		return false
	}
}

// Available returns a comma-separated list of available backends.
func Available() string {
	entries := []string{Go}
	if Has(LlamaCpp) {
		entries = append(entries, LlamaCpp)
	}
	return strings.Join(entries, ",")
}
