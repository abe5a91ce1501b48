package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/cadencehq/cadence/internal/pkg/logs"
)

func main() {
	cmd := &cli.Command{
		Name:  "cadence",
		Usage: "Scheduled-execution coordination for conversational agents",
		Commands: []*cli.Command{
			hostHwd.cmd(),
			schedHwd.cmd(),
			taskHwd.cmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logs.Error("Command execution failed: %v", err)
		os.Exit(1)
	}
}
