package task

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cadencehq/cadence/internal/consts"
)

// LoadFromDefaultStore reads the persisted task file directly, for CLI
// inspection when the scheduler process is not running.
func LoadFromDefaultStore() ([]Task, error) {
	s := NewStore(consts.DefaultTaskStorePath())
	if err := s.Load(); err != nil {
		return nil, err
	}
	tasks := s.List()
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks, nil
}

// FormatTaskList renders tasks as a human-readable table for the CLI.
func FormatTaskList(tasks []Task) string {
	if len(tasks) == 0 {
		return "no tasks\n"
	}

	var b strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s  [%s]  every %s  runs=%d", t.ID, t.Status, t.HumanInterval(), t.ExecutionCount)
		if t.LastExecutedAt != nil {
			fmt.Fprintf(&b, "  last=%s", t.LastExecutedAt.Format(time.RFC3339))
		}
		if t.ExitReason != "" {
			fmt.Fprintf(&b, "  exit=%q", t.ExitReason)
		}
		if t.LastError != "" {
			fmt.Fprintf(&b, "  err=%q", t.LastError)
		}
		b.WriteString("\n    ")
		b.WriteString(preview(t.Prompt, 100))
		b.WriteString("\n")
	}
	return b.String()
}

func preview(s string, max int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
