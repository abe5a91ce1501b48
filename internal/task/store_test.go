package task

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newRunningTask(t *testing.T, prompt string) Task {
	t.Helper()
	tk, err := New(Config{Prompt: prompt, IntervalMinutes: 5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tk
}

func TestStore_CreateAndGet(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "tasks.json"))

	tk := newRunningTask(t, "check the mail")
	if err := s.Create(tk); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(tk); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate Create: got %v, want ErrAlreadyExists", err)
	}

	got, err := s.Get(tk.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Prompt != "check the mail" || got.Status != StatusRunning {
		t.Fatalf("Get: %+v", got)
	}

	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: got %v, want ErrNotFound", err)
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "tasks.json")

	s1 := NewStore(path)
	tk := newRunningTask(t, "persist me")
	_ = s1.Create(tk)
	_ = s1.IncrementExecution(tk.ID, time.Now())
	if err := s1.Save(); err != nil {
		t.Fatalf("Save should create directories: %v", err)
	}

	s2 := NewStore(path)
	if err := s2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := s2.Get(tk.ID)
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if got.ExecutionCount != 1 || got.Prompt != "persist me" {
		t.Fatalf("reloaded task: %+v", got)
	}
	if got.Executing {
		t.Fatal("the executing flag must never be persisted")
	}
}

func TestStore_Load_MissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nonexistent.json"))
	if err := s.Load(); err != nil {
		t.Fatalf("Load on missing file should not error: %v", err)
	}
	if len(s.List()) != 0 {
		t.Fatal("expected empty list on missing file")
	}
}

func TestStore_StopIsIdempotentAndReasonSticks(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "tasks.json"))
	tk := newRunningTask(t, "stop me")
	_ = s.Create(tk)

	if err := s.Stop(tk.ID, ExitReasonMaxExecutions); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Second stop with a different reason is a no-op for the reason.
	if err := s.Stop(tk.ID, ExitReasonUserStopped); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	got, _ := s.Get(tk.ID)
	if got.Status != StatusStopped {
		t.Fatalf("Status: got %s", got.Status)
	}
	if got.ExitReason != ExitReasonMaxExecutions {
		t.Fatalf("first exit reason must stick, got %q", got.ExitReason)
	}

	if err := s.Stop("nope", ExitReasonUserStopped); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Stop missing: got %v, want ErrNotFound", err)
	}
}

func TestStore_IncrementExecution(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "tasks.json"))
	tk := newRunningTask(t, "count me")
	_ = s.Create(tk)

	at := time.Now().Truncate(time.Millisecond)
	if err := s.IncrementExecution(tk.ID, at); err != nil {
		t.Fatalf("IncrementExecution: %v", err)
	}

	got, _ := s.Get(tk.ID)
	if got.ExecutionCount != 1 {
		t.Fatalf("ExecutionCount: got %d", got.ExecutionCount)
	}
	if got.LastExecutedAt == nil || !got.LastExecutedAt.Equal(at) {
		t.Fatalf("LastExecutedAt: got %v", got.LastExecutedAt)
	}
}

func TestStore_SetLastError(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "tasks.json"))
	tk := newRunningTask(t, "err me")
	_ = s.Create(tk)

	_ = s.SetLastError(tk.ID, "boom")
	got, _ := s.Get(tk.ID)
	if got.LastError != "boom" {
		t.Fatalf("LastError: got %q", got.LastError)
	}

	_ = s.SetLastError(tk.ID, "")
	got, _ = s.Get(tk.ID)
	if got.LastError != "" {
		t.Fatalf("LastError after clear: got %q", got.LastError)
	}
}

func TestStore_SetSessionRef(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "tasks.json"))
	tk := newRunningTask(t, "bind me")
	_ = s.Create(tk)

	if err := s.SetSessionRef(tk.ID, "sess-42"); err != nil {
		t.Fatalf("SetSessionRef: %v", err)
	}
	got, _ := s.Get(tk.ID)
	if got.SessionRef != "sess-42" {
		t.Fatalf("SessionRef: got %q", got.SessionRef)
	}
}

func TestStore_ExecutingFlagBracket(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "tasks.json"))
	tk := newRunningTask(t, "mark me")
	_ = s.Create(tk)

	s.MarkExecuting(tk.ID)
	got, _ := s.Get(tk.ID)
	if !got.Executing {
		t.Fatal("MarkExecuting did not set the flag")
	}

	s.MarkComplete(tk.ID)
	got, _ = s.Get(tk.ID)
	if got.Executing {
		t.Fatal("MarkComplete did not clear the flag")
	}
}
