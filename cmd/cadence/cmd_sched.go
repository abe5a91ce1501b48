package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/cadencehq/cadence/internal/bridge"
	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/consts"
	"github.com/cadencehq/cadence/internal/hostclient"
	"github.com/cadencehq/cadence/internal/pkg/logs"
	"github.com/cadencehq/cadence/internal/scheduler"
	"github.com/cadencehq/cadence/internal/schedserver"
	"github.com/cadencehq/cadence/internal/task"
)

var schedHwd = &SchedRunner{}

type SchedRunner struct{}

func (r *SchedRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "sched",
		Usage: "Manage the scheduler companion process",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run the scheduler against a live engine host",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "config file path"},
				},
				Action: r.run,
			},
		},
	}
}

func (r *SchedRunner) run(ctx context.Context, c *cli.Command) error {
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

	client := hostclient.New(cfg.Scheduler.HostURL, cfg.Scheduler.ExecuteTimeout())
	if err = client.Verify(ctx); err != nil {
		return fmt.Errorf("verify host: %w", err)
	}

	storePath := cfg.Scheduler.Store
	if storePath == "" {
		storePath = consts.DefaultTaskStorePath()
	}
	store := task.NewStore(storePath)

	bus := bridge.New()
	sched := scheduler.New(store, client, bus)
	if err = sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srv := schedserver.New(cfg.Scheduler.Bind, store, sched, bus)
	srv.Start(ctx)

	logs.CtxInfo(ctx, "scheduler up on %s, driving host %s. Press Ctrl+C to stop.",
		cfg.Scheduler.Bind, cfg.Scheduler.HostURL)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case sig := <-signalCh:
		logs.CtxInfo(ctx, "Received shutdown signal (%s). Stopping scheduler...", sig.String())
	case <-ctx.Done():
		logs.CtxInfo(ctx, "Context canceled. Stopping scheduler...")
	}

	if err = srv.Stop(context.Background()); err != nil {
		logs.CtxError(ctx, "stop scheduler server error: %v", err)
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer stopCancel()
	sched.Stop(stopCtx)

	logs.CtxInfo(ctx, "scheduler stopped, good bye!")
	return nil
}
