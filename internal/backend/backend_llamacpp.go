//go:build yzma

package backend

import (
	"github.com/samcharles93/cinder/internal/engine"
	"github.com/samcharles93/cinder/internal/engine/llamacpp"
)

const llamaCppEnabled = true

func newLlamaCpp() (engine.Backend, error) {
	if err := llamacpp.Init(); err != nil {
		return nil, err
	}
	return llamacpp.Backend{}, nil
}
