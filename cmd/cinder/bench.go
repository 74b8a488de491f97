package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cinder/internal/inference"
	"github.com/samcharles93/cinder/internal/logger"
)

type benchRun struct {
	TTFT      time.Duration
	PromptTPS float64
	TPS       float64
	Duration  time.Duration
	Tokens    int
	Finish    inference.FinishReason
}

func benchCmd() *cli.Command {
	var (
		warmupRuns int64
		benchRuns  int64
		benchText  string
		steps      int64
		noProgress bool
	)

	flags := append([]cli.Flag{}, commonModelFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of warmup runs",
			Value:       1,
			Destination: &warmupRuns,
		},
		&cli.Int64Flag{
			Name:        "runs",
			Usage:       "number of benchmark runs",
			Value:       3,
			Destination: &benchRuns,
		},
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt text for benchmarking",
			Value:       "Explain the theory of relativity in simple terms.",
			Destination: &benchText,
		},
		&cli.Int64Flag{
			Name:        "steps",
			Aliases:     []string{"n"},
			Usage:       "tokens to generate per run",
			Value:       128,
			Destination: &steps,
		},
		&cli.BoolFlag{
			Name:        "no-progress",
			Usage:       "hide the progress bar",
			Destination: &noProgress,
		},
	)

	return &cli.Command{
		Name:    "bench",
		Aliases: []string{"benchmark"},
		Usage:   "Measure time to first token and decode throughput",
		Flags:   flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if benchRuns < 1 || warmupRuns < 0 || steps < 1 {
				return cli.Exit("error: --runs and --steps must be positive", 1)
			}

			h, loadTook, err := loadHandle(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = h.Unload() }()
			info := h.Info()

			fmt.Println("=== Cinder Benchmark ===")
			fmt.Printf("Model:      %s (%s)\n", info.Path, humanize.IBytes(uint64(info.ModelSizeMB*1024*1024)))
			fmt.Printf("Backend:    %s\n", info.Backend)
			fmt.Printf("CPUs:       %d\n", runtime.NumCPU())
			fmt.Printf("Threads:    %d\n", info.Threads)
			fmt.Printf("Context:    %d tokens\n", info.ContextSize)
			fmt.Printf("Load:       %s\n", loadTook.Round(time.Millisecond))
			fmt.Printf("Steps:      %d tokens\n", steps)
			fmt.Printf("Warmup:     %d runs\n", warmupRuns)
			fmt.Printf("Runs:       %d\n", benchRuns)
			fmt.Println()

			// Fixed seed and explicit sampling so every run does the same work.
			seed := int64(42)
			n := int(steps)
			temp, p := float64(inference.DefaultTemperature), float64(inference.DefaultTopP)
			off := "off"
			req, err := inference.ResolveRequest(inference.RequestOptions{
				Prompt:      benchText,
				MaxTokens:   &n,
				Temperature: &temp,
				TopP:        &p,
				Structured:  &off,
				Seed:        &seed,
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			var bar *progressbar.ProgressBar
			if !noProgress {
				bar = progressbar.NewOptions64(warmupRuns+benchRuns,
					progressbar.OptionSetDescription("benchmark"),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionShowCount(),
					progressbar.OptionSetItsString("runs"),
					progressbar.OptionSetTheme(progressbar.ThemeASCII),
					progressbar.OptionClearOnFinish(),
				)
			}

			for i := range int(warmupRuns) {
				log.Debug("warmup run", "run", i+1)
				if _, err := h.Generate(ctx, req, nil); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup run %d: %v", i+1, err), 1)
				}
				if bar != nil {
					_ = bar.Add(1)
				}
			}

			results := make([]benchRun, 0, benchRuns)
			for i := range int(benchRuns) {
				log.Debug("benchmark run", "run", i+1)
				res, err := h.Generate(ctx, req, nil)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: benchmark run %d: %v", i+1, err), 1)
				}
				results = append(results, toBenchRun(res))
				if bar != nil {
					_ = bar.Add(1)
				}
			}
			if bar != nil {
				_ = bar.Finish()
			}

			printBenchTable(os.Stdout, results)

			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			fmt.Printf("\nEngine memory: %s, Go heap: %s alloc, %s sys\n",
				humanize.IBytes(h.MemoryUsage()),
				humanize.IBytes(mem.Alloc),
				humanize.IBytes(mem.Sys))
			return nil
		},
	}
}

func toBenchRun(res *inference.Result) benchRun {
	st := res.Stats
	r := benchRun{
		TTFT:     st.TimeToFirstToken,
		TPS:      st.TPS,
		Duration: st.Duration,
		Tokens:   st.GeneratedTokens,
		Finish:   res.FinishReason,
	}
	if st.PromptEval > 0 {
		r.PromptTPS = float64(st.PromptTokens) / st.PromptEval.Seconds()
	}
	return r
}

func printBenchTable(w io.Writer, results []benchRun) {
	_, _ = fmt.Fprintln(w, "=== Results ===")
	_, _ = fmt.Fprintf(w, "%-6s %10s %10s %10s %10s %8s %s\n", "Run", "TTFT", "Prompt", "Gen", "Duration", "Tokens", "Finish")
	_, _ = fmt.Fprintf(w, "%-6s %10s %10s %10s %10s %8s\n", "---", "ms", "tps", "tps", "", "")

	var sumTTFT time.Duration
	var sumPrompt, sumTPS float64
	for i, r := range results {
		_, _ = fmt.Fprintf(w, "%-6d %10.1f %10.2f %10.2f %10s %8d %s\n",
			i+1, ms(r.TTFT), r.PromptTPS, r.TPS, r.Duration.Round(time.Millisecond), r.Tokens, r.Finish)
		sumTTFT += r.TTFT
		sumPrompt += r.PromptTPS
		sumTPS += r.TPS
	}
	if len(results) == 0 {
		return
	}
	n := float64(len(results))
	_, _ = fmt.Fprintf(w, "\n%-6s %10.1f %10.2f %10.2f\n", "Avg", ms(sumTTFT)/n, sumPrompt/n, sumTPS/n)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
