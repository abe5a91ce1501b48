package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/engine"
	"github.com/cadencehq/cadence/internal/pkg/logs"
	"github.com/cadencehq/cadence/internal/server"
)

var hostHwd = &HostRunner{}

type HostRunner struct{}

func (r *HostRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "host",
		Usage: "Manage the engine host",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run the engine host with the admission queues and execution coordinator",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "config file path"},
				},
				Action: r.run,
			},
		},
	}
}

func (r *HostRunner) run(ctx context.Context, c *cli.Command) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("loading config error: %w", err)
	}
	if err = initLogger(cfg.Logging); err != nil {
		return fmt.Errorf("init logger error: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err = config.Watch(ctx); err != nil {
		logs.CtxWarn(ctx, "config watch unavailable: %v", err)
	}

	host := server.New(cfg.Host, engine.NewLoopback(nil))
	if err = host.Start(ctx); err != nil {
		cancel()
		_ = host.Stop(context.Background())
		return fmt.Errorf("start host: %w", err)
	}

	logs.CtxInfo(ctx, "engine host up on %s. Press Ctrl+C to stop.", cfg.Host.Bind)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case sig := <-signalCh:
		logs.CtxInfo(ctx, "Received shutdown signal (%s). Stopping host...", sig.String())
	case <-ctx.Done():
		logs.CtxInfo(ctx, "Context canceled. Stopping host...")
	}

	if err = host.Stop(context.Background()); err != nil {
		logs.CtxError(ctx, "stop host error: %v", err)
	}
	logs.CtxInfo(ctx, "host stopped, good bye!")
	return nil
}

func initLogger(cfg config.LoggingConfig) error {
	return logs.Init(logs.Options{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		File:       cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	})
}
