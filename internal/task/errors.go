package task

import "errors"

var (
	// ErrNotFound indicates no task exists for the given ID.
	ErrNotFound = errors.New("task not found")
	// ErrTaskNotRunnable indicates the scheduler was asked to start a task
	// whose status is not running.
	ErrTaskNotRunnable = errors.New("task is not runnable")
	// ErrAlreadyExists indicates a create with a duplicate ID.
	ErrAlreadyExists = errors.New("task already exists")
)
