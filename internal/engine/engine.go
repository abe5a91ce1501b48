package engine

import (
	"context"
	"errors"
)

// ErrSessionNotFound indicates a session key unknown to the engine.
var ErrSessionNotFound = errors.New("session not found")

// TaskContext is the short-lived marker set on the engine for the duration
// of one scheduled execution, so the exit capability exposed to the agent
// can recognize which task is asking to exit. It is cleared on every exit
// path of the coordinator.
type TaskContext struct {
	TaskID       string `json:"task_id"`
	AgentCanExit bool   `json:"agent_can_exit"`
	SessionKey   string `json:"session_key"`
}

// Engine is the conversational engine collaborator. The real engine lives
// outside this module; the coordinator only depends on this surface.
//
// Idleness is deliberately absent: whether a generation is in flight is the
// admission queue's call, never the engine's.
type Engine interface {
	// CurrentSessionKey returns the session the engine is pointed at.
	CurrentSessionKey() string

	// SwitchSession points the engine at an existing session. Switching to
	// the already-current session must be avoided by callers; it can abort
	// an in-flight generation.
	SwitchSession(ctx context.Context, sessionKey string) error

	// CreateSession makes a brand-new session scoped to a workspace and
	// switches to it.
	CreateSession(ctx context.Context, workspaceRef string) (string, error)

	// AppendSystemNote attaches a system-level note to the session that is
	// not part of the user-visible prompt.
	AppendSystemNote(sessionKey, note string) error

	// Generate produces a reply for the given text in the given session.
	// Cancelling ctx aborts the generation.
	Generate(ctx context.Context, sessionKey, text string) (string, error)

	// LatestReply returns the most recent reply in the session.
	LatestReply(sessionKey string) (string, bool)

	// Task context bracket.
	SetTaskContext(tc TaskContext)
	TaskContext() (TaskContext, bool)
	ClearTaskContext()
}
