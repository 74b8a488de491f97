package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cinder/internal/inference"
)

var (
	configFile string
	logLevel   string
	logFormat  string
	debug      bool

	modelPath   string
	modelsPath  string
	backendName string
	contextSize int64
	batchSize   int64
	gpuLayers   int64
	threads     int64
	noMmap      bool

	prompt      string
	maxTokens   int64
	temperature float64
	topP        float64
	seed        int64
	structured  string
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default: user config dir)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to a .cbm or .gguf model",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "directory containing models",
			Destination: &modelsPath,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "inference engine (auto, go, llamacpp)",
			Value:       "auto",
			Destination: &backendName,
		},
		&cli.Int64Flag{
			Name:        "ctx-size",
			Aliases:     []string{"c"},
			Usage:       "context window in tokens",
			Value:       inference.DefaultContextSize,
			Destination: &contextSize,
		},
		&cli.Int64Flag{
			Name:        "batch-size",
			Aliases:     []string{"b"},
			Usage:       "maximum tokens per prompt evaluation batch",
			Value:       inference.DefaultBatchSize,
			Destination: &batchSize,
		},
		&cli.Int64Flag{
			Name:        "gpu-layers",
			Aliases:     []string{"ngl"},
			Usage:       "layers to offload to the GPU (falls back to CPU on failure)",
			Destination: &gpuLayers,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Aliases:     []string{"t"},
			Usage:       "evaluation threads (0 = min(4, NumCPU))",
			Destination: &threads,
		},
		&cli.BoolFlag{
			Name:        "no-mmap",
			Usage:       "read weights into memory instead of mapping the file",
			Destination: &noMmap,
		},
	}
}

func samplingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt text",
			Destination: &prompt,
		},
		&cli.Int64Flag{
			Name:        "max-tokens",
			Aliases:     []string{"n"},
			Usage:       "maximum tokens to generate (structured requests default to 2048)",
			Value:       inference.DefaultMaxTokens,
			Destination: &maxTokens,
		},
		&cli.Float64Flag{
			Name:        "temperature",
			Aliases:     []string{"temp"},
			Usage:       "sampling temperature (> 0); unset uses the model defaults",
			Value:       inference.DefaultTemperature,
			Destination: &temperature,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Usage:       "nucleus sampling threshold in (0, 1]",
			Value:       inference.DefaultTopP,
			Destination: &topP,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampling seed (-1 = random)",
			Value:       -1,
			Destination: &seed,
		},
		&cli.StringFlag{
			Name:        "structured",
			Usage:       "structured JSON output (auto, on, off)",
			Value:       "auto",
			Destination: &structured,
		},
	}
}
