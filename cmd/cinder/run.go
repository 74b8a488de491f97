package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cinder/internal/inference"
	"github.com/samcharles93/cinder/internal/logger"
)

func runCmd() *cli.Command {
	var (
		streamMode string
		rawOutput  bool
		showStats  bool
	)

	flags := append([]cli.Flag{}, commonModelFlags()...)
	flags = append(flags, samplingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "stream-mode",
			Usage:       "output mode (instant, smooth, quiet)",
			Value:       string(StreamInstant),
			Destination: &streamMode,
		},
		&cli.BoolFlag{
			Name:        "raw",
			Usage:       "escape control characters in the output",
			Destination: &rawOutput,
		},
		&cli.BoolFlag{
			Name:        "stats",
			Usage:       "print timing statistics to stderr",
			Destination: &showStats,
		},
	)

	return &cli.Command{
		Name:      "run",
		Usage:     "Generate text from a prompt, streaming to stdout",
		ArgsUsage: "[prompt]",
		Flags:     flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applySamplingConfig(cmd)
			if cfg.StreamMode != "" && !cmd.IsSet("stream-mode") {
				streamMode = cfg.StreamMode
			}
			mode, err := parseStreamMode(streamMode)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			text, err := readPrompt(prompt, cmd.Args().Slice(), os.Stdin)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			req, err := inference.ResolveRequest(requestOptions(cmd, text))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			h, loadTook, err := loadHandle(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = h.Unload() }()
			log.Debug("model loaded", "took", loadTook.Round(time.Millisecond))

			stopOnInterrupt(h, log)

			w := NewStreamWriter(os.Stdout, os.Stderr, mode, rawOutput)
			defer w.Close()
			res, err := h.Generate(ctx, req, w)
			if err != nil {
				return cli.Exit("", 1)
			}
			if res.FinishReason != inference.FinishEOG && res.FinishReason != inference.FinishMaxTokens {
				log.Warn("generation ended early", "reason", res.FinishReason)
			}
			if showStats {
				printStats(os.Stderr, res)
			}
			return nil
		},
	}
}

// stopOnInterrupt turns the first Ctrl-C into Handle.Stop so the streamed
// text so far is kept. A second Ctrl-C exits.
func stopOnInterrupt(h *inference.Handle, log logger.Logger) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		<-sigs
		if h.Stop() {
			log.Info("stopping generation")
		}
		<-sigs
		os.Exit(130)
	}()
}

// readPrompt takes the --prompt flag, then positional arguments, then piped
// stdin.
func readPrompt(flag string, args []string, stdin *os.File) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if stdin != nil && !stdinIsTTY() {
		b, err := io.ReadAll(io.LimitReader(stdin, inference.MaxPromptBytes+1))
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		return strings.TrimRight(string(b), "\n"), nil
	}
	return "", fmt.Errorf("a prompt is required (--prompt, argument or stdin)")
}

func printStats(w io.Writer, res *inference.Result) {
	st := res.Stats
	_, _ = fmt.Fprintf(w, "\nprompt tokens:   %d\n", st.PromptTokens)
	_, _ = fmt.Fprintf(w, "generated:       %d (%s)\n", st.GeneratedTokens, res.FinishReason)
	_, _ = fmt.Fprintf(w, "first token:     %s\n", st.TimeToFirstToken.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "prompt eval:     %s\n", st.PromptEval.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "total:           %s\n", st.Duration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "tokens/sec:      %.2f\n", st.TPS)
	if res.Structured {
		_, _ = fmt.Fprintln(w, "structured:      json")
	}
}
