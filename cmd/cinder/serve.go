package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cinder/internal/api"
	"github.com/samcharles93/cinder/internal/backend"
	"github.com/samcharles93/cinder/internal/logger"
	"github.com/samcharles93/cinder/internal/metrics"
	"github.com/samcharles93/cinder/internal/webui"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		preload     bool
		noUI        bool
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve loaded models over HTTP",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.BoolFlag{
				Name:        "preload",
				Usage:       "load the default model at startup",
				Destination: &preload,
			},
			&cli.BoolFlag{
				Name:        "no-ui",
				Usage:       "do not serve the browser playground at /",
				Destination: &noUI,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd)
			applyServeConfig(cmd, &addr)

			b, err := backend.New(backendName)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v (available: %s)", err, backend.Available()), 1)
			}

			rec := metrics.New()
			defaults := loadOptions()
			defaults.Path = ""
			defaults.Logger = log
			defaults.Observer = rec
			registry := api.NewRegistry(api.RegistryConfig{
				Backend:          b,
				DefaultModelPath: modelPath,
				ModelsPath:       modelsPath,
				Defaults:         defaults,
				Recorder:         rec,
				Logger:           log,
			})
			defer func() {
				if err := registry.Close(); err != nil {
					log.Warn("unload on shutdown", "error", err)
				}
			}()

			if preload {
				entry, err := registry.Load(ctx, api.LoadModelRequest{})
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: preload: %v", err), 1)
				}
				log.Info("model preloaded", "id", entry.ID, "path", entry.Path)
			}

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			api.NewServer(registry, rec.Handler()).Register(e)
			if !noUI {
				e.GET("/*", echo.WrapHandler(webui.Handler()))
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info("starting server", "address", addr, "backend", b.Name())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
