package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cinder/internal/engine/bytelm"
	"github.com/samcharles93/cinder/internal/logger"
)

func initModelCmd() *cli.Command {
	var (
		name   string
		out    string
		hidden int64
		seed   int64
		force  bool
	)

	return &cli.Command{
		Name:  "init-model",
		Usage: "Write a small byte-level model for the pure-Go engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "name",
				Usage:       "model name (written as <models dir>/<name>.cbm)",
				Value:       "tiny",
				Destination: &name,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output file (overrides --name)",
				Destination: &out,
			},
			&cli.Int64Flag{
				Name:        "hidden",
				Usage:       "hidden state width",
				Value:       64,
				Destination: &hidden,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "weight initialisation seed",
				Value:       1,
				Destination: &seed,
			},
			&cli.BoolFlag{
				Name:        "force",
				Aliases:     []string{"f"},
				Usage:       "overwrite an existing file",
				Destination: &force,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if hidden < 1 || hidden > 4096 {
				return cli.Exit("error: --hidden must be between 1 and 4096", 1)
			}
			path, defaulted, err := resolveInitOut(name, out)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if _, err := os.Stat(path); err == nil && !force {
				return cli.Exit(fmt.Sprintf("error: %s exists (use --force)", path), 1)
			}
			if err := bytelm.WriteModel(path, int(hidden), uint64(seed)); err != nil {
				return cli.Exit(fmt.Sprintf("error: write model: %v", err), 1)
			}
			st, err := os.Stat(path)
			if err != nil {
				return err
			}
			log.Info("model written", "path", path, "defaulted", defaulted, "size", humanize.IBytes(uint64(st.Size())))
			fmt.Println(path)
			return nil
		},
	}
}
