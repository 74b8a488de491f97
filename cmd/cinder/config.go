package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cinder/internal/config"
	"github.com/samcharles93/cinder/internal/inference"
)

// cfg is the config file loaded by the root Before hook.
var cfg config.Config

func applyLoggingConfig(c *cli.Command) {
	config.ApplyString(c, &logLevel, cfg.LogLevel, "log-level")
	config.ApplyString(c, &logFormat, cfg.LogFormat, "log-format")
}

// applyModelConfig fills the model flags the user did not set.
func applyModelConfig(c *cli.Command) {
	config.ApplyString(c, &modelPath, cfg.ModelPath(""), "model", "m")
	config.ApplyString(c, &backendName, cfg.Backend, "backend")
	config.Apply(c, &contextSize, cfg.ContextSize, "ctx-size", "c")
	config.Apply(c, &batchSize, cfg.BatchSize, "batch-size", "b")
	config.Apply(c, &gpuLayers, cfg.GPULayers, "gpu-layers", "ngl")
	config.Apply(c, &threads, cfg.Threads, "threads", "t")
	config.Apply(c, &noMmap, cfg.NoMmap, "no-mmap")
}

func applySamplingConfig(c *cli.Command) {
	config.Apply(c, &maxTokens, cfg.MaxTokens, "max-tokens", "n")
	config.Apply(c, &temperature, cfg.Temperature, "temperature", "temp")
	config.Apply(c, &topP, cfg.TopP, "top-p")
	config.Apply(c, &seed, cfg.Seed, "seed")
	config.ApplyString(c, &structured, cfg.Structured, "structured")
}

func applyServeConfig(c *cli.Command, addr *string) {
	config.ApplyString(c, addr, cfg.ServerAddress, "addr")
}

func loadOptions() inference.LoadOptions {
	return inference.LoadOptions{
		Path:        modelPath,
		ContextSize: int(contextSize),
		BatchSize:   int(batchSize),
		GPULayers:   int(gpuLayers),
		Threads:     int(threads),
		NoMmap:      noMmap,
	}
}

// requestOptions builds the request from the sampling flags. Max tokens,
// temperature and top-p are only sent when given on the command line or in
// the config file so the request defaults serve the plain case.
func requestOptions(c *cli.Command, text string) inference.RequestOptions {
	opts := inference.RequestOptions{
		Prompt:     text,
		Structured: &structured,
		Seed:       &seed,
	}
	if c.IsSet("max-tokens") || c.IsSet("n") || cfg.MaxTokens != nil {
		n := int(maxTokens)
		opts.MaxTokens = &n
	}
	if c.IsSet("temperature") || c.IsSet("temp") || cfg.Temperature != nil {
		opts.Temperature = &temperature
	}
	if c.IsSet("top-p") || cfg.TopP != nil {
		opts.TopP = &topP
	}
	return opts
}
