package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/urfave/cli/v3"

	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/task"
)

var taskHwd = &TaskRunner{}

type TaskRunner struct{}

func (r *TaskRunner) cmd() *cli.Command {
	configFlag := &cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "config file path"}

	return &cli.Command{
		Name:  "task",
		Usage: "Manage recurring tasks",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List all persisted tasks",
				Flags:  []cli.Flag{configFlag},
				Action: r.list,
			},
			{
				Name:  "create",
				Usage: "Create and start a recurring task",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{Name: "prompt", Usage: "instruction to run on every fire", Required: true},
					&cli.IntFlag{Name: "every", Usage: "interval in minutes", Value: 5},
					&cli.StringFlag{Name: "cron", Usage: "optional 5-field cron expression overriding --every"},
					&cli.StringFlag{Name: "mode", Usage: "shared_context or fresh_context", Value: "shared_context"},
					&cli.StringFlag{Name: "deadline", Usage: "RFC 3339 stop time"},
					&cli.IntFlag{Name: "max-executions", Usage: "stop after this many counted executions"},
					&cli.BoolFlag{Name: "agent-can-exit", Usage: "let the agent end the task itself"},
					&cli.StringFlag{Name: "workspace", Usage: "workspace ref for fresh sessions"},
					&cli.StringFlag{Name: "session", Usage: "session ref for shared-context runs"},
				},
				Action: r.create,
			},
			{
				Name:      "stop",
				Usage:     "Stop a task by ID",
				ArgsUsage: "<task-id>",
				Flags:     []cli.Flag{configFlag},
				Action:    r.stop,
			},
		},
	}
}

// list reads the store file directly so it works whether or not the
// scheduler process is up.
func (r *TaskRunner) list(_ context.Context, _ *cli.Command) error {
	tasks, err := task.LoadFromDefaultStore()
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	fmt.Print(task.FormatTaskList(tasks))
	return nil
}

func (r *TaskRunner) create(ctx context.Context, c *cli.Command) error {
	body := map[string]any{
		"prompt":           c.String("prompt"),
		"interval_minutes": c.Int("every"),
		"cron_expr":        c.String("cron"),
		"run_mode":         c.String("mode"),
		"max_executions":   c.Int("max-executions"),
		"agent_can_exit":   c.Bool("agent-can-exit"),
		"workspace_ref":    c.String("workspace"),
		"session_ref":      c.String("session"),
	}
	if dl := c.String("deadline"); dl != "" {
		if _, err := time.Parse(time.RFC3339, dl); err != nil {
			return fmt.Errorf("deadline must be RFC 3339: %w", err)
		}
		body["deadline"] = dl
	}

	var resp struct {
		Task      task.Task `json:"task"`
		Unbounded bool      `json:"unbounded"`
		Error     string    `json:"error"`
	}
	if err := r.call(ctx, c, http.MethodPost, "/cron/tasks", body, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("create task: %s", resp.Error)
	}

	fmt.Printf("created task %s (every %s, mode=%s)\n", resp.Task.ID, resp.Task.HumanInterval(), resp.Task.RunMode)
	if resp.Unbounded {
		fmt.Println("note: no end condition set; the task runs until stopped")
	}
	return nil
}

func (r *TaskRunner) stop(ctx context.Context, c *cli.Command) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("task ID is required")
	}

	var resp struct {
		Task  task.Task `json:"task"`
		Error string    `json:"error"`
	}
	if err := r.call(ctx, c, http.MethodPost, "/cron/tasks/"+id+"/stop", nil, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("stop task: %s", resp.Error)
	}

	fmt.Printf("stopped task %s (exit_reason=%q)\n", resp.Task.ID, resp.Task.ExitReason)
	return nil
}

// call talks to the scheduler process's HTTP surface.
func (r *TaskRunner) call(ctx context.Context, c *cli.Command, method, path string, body, into any) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("loading config error: %w", err)
	}

	var reader io.Reader
	if body != nil {
		raw, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://"+cfg.Scheduler.Bind+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("is the scheduler running? %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := sonic.Unmarshal(data, into); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}
