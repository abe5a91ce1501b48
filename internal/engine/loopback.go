package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cadencehq/cadence/internal/pkg/logs"
)

// ReplyFunc produces the loopback engine's reply for an instruction.
type ReplyFunc func(ctx context.Context, sessionKey, text string) (string, error)

// Loopback is an in-process Engine used when no real engine is attached
// (development, tests). Sessions are in-memory only.
type Loopback struct {
	reply ReplyFunc

	mu       sync.Mutex
	sessions map[string]*loopbackSession
	current  string

	tcMu  sync.Mutex
	tc    TaskContext
	tcSet bool
}

type loopbackSession struct {
	key       string
	workspace string
	notes     []string
	replies   []string
}

// NewLoopback creates a loopback engine. A nil reply func echoes the input.
func NewLoopback(reply ReplyFunc) *Loopback {
	if reply == nil {
		reply = func(_ context.Context, _ string, text string) (string, error) {
			return "ack: " + text, nil
		}
	}
	lb := &Loopback{
		reply:    reply,
		sessions: make(map[string]*loopbackSession),
	}
	// Boot with one default session so the engine always has a current one.
	key := uuid.New().String()
	lb.sessions[key] = &loopbackSession{key: key}
	lb.current = key
	return lb
}

func (lb *Loopback) CurrentSessionKey() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.current
}

func (lb *Loopback) SwitchSession(_ context.Context, sessionKey string) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if _, ok := lb.sessions[sessionKey]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionKey)
	}
	lb.current = sessionKey
	return nil
}

func (lb *Loopback) CreateSession(_ context.Context, workspaceRef string) (string, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	key := uuid.New().String()
	lb.sessions[key] = &loopbackSession{key: key, workspace: workspaceRef}
	lb.current = key
	logs.Debug("[engine] created session %s (workspace=%s)", key, workspaceRef)
	return key, nil
}

func (lb *Loopback) AppendSystemNote(sessionKey, note string) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	sess, ok := lb.sessions[sessionKey]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionKey)
	}
	sess.notes = append(sess.notes, note)
	return nil
}

func (lb *Loopback) Generate(ctx context.Context, sessionKey, text string) (string, error) {
	lb.mu.Lock()
	sess, ok := lb.sessions[sessionKey]
	lb.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionKey)
	}

	out, err := lb.reply(ctx, sessionKey, text)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	lb.mu.Lock()
	sess.replies = append(sess.replies, out)
	lb.mu.Unlock()
	return out, nil
}

func (lb *Loopback) LatestReply(sessionKey string) (string, bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	sess, ok := lb.sessions[sessionKey]
	if !ok || len(sess.replies) == 0 {
		return "", false
	}
	return sess.replies[len(sess.replies)-1], true
}

// SystemNotes exposes the notes attached to a session, for tests and
// introspection.
func (lb *Loopback) SystemNotes(sessionKey string) []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	sess, ok := lb.sessions[sessionKey]
	if !ok {
		return nil
	}
	out := make([]string, len(sess.notes))
	copy(out, sess.notes)
	return out
}

func (lb *Loopback) SetTaskContext(tc TaskContext) {
	lb.tcMu.Lock()
	defer lb.tcMu.Unlock()
	lb.tc = tc
	lb.tcSet = true
}

func (lb *Loopback) TaskContext() (TaskContext, bool) {
	lb.tcMu.Lock()
	defer lb.tcMu.Unlock()
	return lb.tc, lb.tcSet
}

func (lb *Loopback) ClearTaskContext() {
	lb.tcMu.Lock()
	defer lb.tcMu.Unlock()
	lb.tc = TaskContext{}
	lb.tcSet = false
}

var _ Engine = (*Loopback)(nil)
