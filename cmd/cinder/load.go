package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cinder/internal/backend"
	"github.com/samcharles93/cinder/internal/inference"
	"github.com/samcharles93/cinder/internal/logger"
)

// loadHandle applies the config file, resolves the model and loads it on
// the selected backend.
func loadHandle(ctx context.Context, cmd *cli.Command) (*inference.Handle, time.Duration, error) {
	log := logger.FromContext(ctx)
	applyModelConfig(cmd)

	path, err := resolveModelPath(modelPath, modelsPath, os.Stdin, os.Stderr)
	if err != nil {
		return nil, 0, cli.Exit(fmt.Sprintf("error: resolve model: %v", err), 1)
	}
	modelPath = path

	b, err := backend.New(backendName)
	if err != nil {
		return nil, 0, cli.Exit(fmt.Sprintf("error: %v (available: %s)", err, backend.Available()), 1)
	}

	opts := loadOptions()
	opts.Logger = log
	log.Info("loading model", "path", modelPath, "backend", b.Name())
	start := time.Now()
	h, err := inference.Load(ctx, b, opts)
	if err != nil {
		return nil, 0, cli.Exit(fmt.Sprintf("error: %s: %v", inference.Message(err), err), 1)
	}
	return h, time.Since(start), nil
}
