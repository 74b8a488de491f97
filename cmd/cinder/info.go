package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cinder/internal/gguf"
	"github.com/samcharles93/cinder/internal/inference"
	"github.com/samcharles93/cinder/internal/logger"
)

func infoCmd() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Load a model and report its context size, model size and memory usage",
		Flags: commonModelFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			h, took, err := loadHandle(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = h.Unload() }()
			info := h.Info()
			printInfo(os.Stdout, info, took)
			if gguf.IsPath(info.Path) {
				md, err := gguf.Read(info.Path)
				if err != nil {
					logger.FromContext(ctx).Warn("read gguf metadata", "error", err)
					return nil
				}
				printGGUF(os.Stdout, md)
			}
			return nil
		},
	}
}

func printInfo(w io.Writer, info inference.Info, took time.Duration) {
	modelBytes := uint64(info.ModelSizeMB * 1024 * 1024)
	_, _ = fmt.Fprintf(w, "model:        %s\n", info.Path)
	_, _ = fmt.Fprintf(w, "backend:      %s\n", info.Backend)
	_, _ = fmt.Fprintf(w, "load time:    %s\n", took.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "context size: %s tokens\n", humanize.Comma(int64(info.ContextSize)))
	_, _ = fmt.Fprintf(w, "batch size:   %s tokens\n", humanize.Comma(int64(info.BatchSize)))
	_, _ = fmt.Fprintf(w, "threads:      %d\n", info.Threads)
	_, _ = fmt.Fprintf(w, "gpu layers:   %d\n", info.GPULayers)
	_, _ = fmt.Fprintf(w, "model size:   %s (%.2f MB)\n", humanize.IBytes(modelBytes), info.ModelSizeMB)
	_, _ = fmt.Fprintf(w, "memory usage: %s\n", humanize.IBytes(info.MemoryBytes))
}

func printGGUF(w io.Writer, md *gguf.Metadata) {
	_, _ = fmt.Fprintf(w, "gguf version: %d\n", md.Version)
	if name := md.Name(); name != "" {
		_, _ = fmt.Fprintf(w, "name:         %s\n", name)
	}
	_, _ = fmt.Fprintf(w, "architecture: %s\n", md.Architecture())
	if ft := md.FileType(); ft != "" {
		_, _ = fmt.Fprintf(w, "quantization: %s\n", ft)
	}
	if n := md.ContextLength(); n > 0 {
		_, _ = fmt.Fprintf(w, "trained ctx:  %s tokens\n", humanize.Comma(int64(n)))
	}
	if n := md.VocabSize(); n > 0 {
		_, _ = fmt.Fprintf(w, "vocabulary:   %s tokens\n", humanize.Comma(int64(n)))
	}
	_, _ = fmt.Fprintf(w, "tensors:      %d\n", md.TensorCount)
}
