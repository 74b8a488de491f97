//go:build !yzma

package backend

import (
	"errors"

	"github.com/samcharles93/cinder/internal/engine"
)

const llamaCppEnabled = false

var errLlamaCppUnavailable = errors.New("llamacpp backend is not available in this build (rebuild with -tags yzma)")

func newLlamaCpp() (engine.Backend, error) {
	return nil, errLlamaCppUnavailable
}
