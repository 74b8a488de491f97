package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cinder/internal/config"
	"github.com/samcharles93/cinder/internal/logger"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:   "cinder",
		Usage:  "On-device text generation",
		Flags:  globalFlags(),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			runCmd(),
			serveCmd(),
			infoCmd(),
			benchCmd(),
			initModelCmd(),
			versionCmd(),
		},
	}
}

// setup loads the config file and installs the logger on the context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	loaded, err := config.Load(configFile)
	if err != nil {
		return ctx, err
	}
	cfg = loaded
	applyLoggingConfig(cmd)
	if debug {
		logLevel = "debug"
	}
	log, err := logger.Configure(os.Stderr, logFormat, logLevel)
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}
