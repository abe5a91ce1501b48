package task

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/gg/gmap"
	"github.com/bytedance/sonic"
)

// Store provides thread-safe persistence of tasks to a JSON file. It is the
// single source of truth for task status, execution counts, and exit
// reasons; events carry the same data but are advisory only.
type Store struct {
	path  string
	tasks map[string]Task // keyed by Task.ID
	mu    sync.RWMutex
}

// NewStore creates a Store backed by the given file path.
// If the file does not exist it will be created on the first Save.
func NewStore(path string) *Store {
	return &Store{
		path:  path,
		tasks: make(map[string]Task),
	}
}

// Load reads persisted tasks from disk. It is safe to call on a missing file.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // first run, nothing to load
		}
		return fmt.Errorf("read store file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var tasks []Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		return fmt.Errorf("unmarshal store: %w", err)
	}

	s.tasks = make(map[string]Task, len(tasks))
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return nil
}

// Save writes all tasks to disk atomically (tmp + rename).
func (s *Store) Save() error {
	s.mu.RLock()
	tasks := gmap.Values(s.tasks)
	s.mu.RUnlock()

	data, err := sonic.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write tmp store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename store: %w", err)
	}
	return nil
}

// Create inserts a new task. Returns ErrAlreadyExists on a duplicate ID.
func (s *Store) Create(t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, t.ID)
	}
	s.tasks[t.ID] = t
	return nil
}

// Get returns a task by ID.
func (s *Store) Get(id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, nil
}

// List returns all tasks.
func (s *Store) List() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return gmap.Values(s.tasks)
}

// Stop marks a task stopped. The exit reason sticks on the first call only;
// later stops (user stop racing the evaluator, duplicate commands) are
// no-ops for the reason and idempotent for the status.
func (s *Store) Stop(id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if t.Status == StatusStopped {
		return nil
	}
	t.Status = StatusStopped
	if t.ExitReason == "" {
		t.ExitReason = reason
	}
	s.tasks[id] = t
	return nil
}

// IncrementExecution bumps the execution count by one and stamps
// lastExecutedAt. The count never moves on a timed-out cycle; callers gate
// on the evaluator's decision.
func (s *Store) IncrementExecution(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.ExecutionCount++
	t.LastExecutedAt = &at
	s.tasks[id] = t
	return nil
}

// SetLastError records the most recent execution failure on the task.
// Pass an empty string to clear it after a healthy cycle.
func (s *Store) SetLastError(id, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.LastError = msg
	s.tasks[id] = t
	return nil
}

// SetSessionRef binds a session to the task (shared-context tasks record
// the session of their first run so later runs land in the same place).
func (s *Store) SetSessionRef(id, sessionRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.SessionRef = sessionRef
	s.tasks[id] = t
	return nil
}

// MarkExecuting and MarkComplete bracket an execution attempt. They are a
// liveness signal for diagnostics; mutual exclusion comes from the
// scheduler's serialized fires, not from this flag.

func (s *Store) MarkExecuting(id string) {
	s.setExecuting(id, true)
}

func (s *Store) MarkComplete(id string) {
	s.setExecuting(id, false)
}

func (s *Store) setExecuting(id string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		t.Executing = v
		s.tasks[id] = t
	}
}
