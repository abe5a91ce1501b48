package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cadencehq/cadence/internal/pkg/logs"
)

var (
	// ErrNotFound indicates no pending item exists for the given queue ID.
	ErrNotFound = errors.New("queue item not found")
	// ErrSubmissionRejected indicates the queue refused admission (rate or
	// size cap). It is surfaced to the caller as a result, never thrown
	// deeper into the pipeline.
	ErrSubmissionRejected = errors.New("submission rejected")
)

// ActivateFunc starts a generation for the item and returns a best-effort
// abort for the in-flight work. It must not block on the generation itself.
type ActivateFunc func(it Item) (abort func(), err error)

// Options bound what the queue will admit.
type Options struct {
	// RatePerMinute caps submissions per minute (0 = unlimited).
	RatePerMinute int
	// MaxTextLen caps the instruction size in runes (0 = unlimited).
	MaxTextLen int
}

// SubmitResult reports how a submission was admitted.
type SubmitResult struct {
	Queued  bool   `json:"queued"`
	QueueID string `json:"queue_id,omitempty"`
}

// Queue serializes instructions for one conversational session. At most one
// item is active at any time; that invariant is what "at most one in-flight
// generation" rests on, so the queue is the sole arbiter of session
// activity.
type Queue struct {
	sessionKey string
	activate   ActivateFunc

	mu          sync.Mutex
	active      *Item
	abortActive func()
	pending     []*Item
	limiter     *rate.Limiter
	maxTextLen  int
}

// New creates a queue for one session. activate is invoked, outside of any
// external locking but under the queue's own serialization, whenever an
// item becomes active.
func New(sessionKey string, activate ActivateFunc, opts Options) *Queue {
	var limiter *rate.Limiter
	if opts.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RatePerMinute)/60.0), opts.RatePerMinute)
	}
	return &Queue{
		sessionKey: sessionKey,
		activate:   activate,
		limiter:    limiter,
		maxTextLen: opts.MaxTextLen,
	}
}

func (q *Queue) SessionKey() string { return q.sessionKey }

// Submit admits an instruction. With no active item the session becomes
// active immediately; otherwise the item joins the FIFO tail. Admission
// failures return ErrSubmissionRejected without queuing anything.
func (q *Queue) Submit(text string, images []Image) (SubmitResult, error) {
	if q.limiter != nil && !q.limiter.Allow() {
		return SubmitResult{}, fmt.Errorf("%w: rate cap exceeded", ErrSubmissionRejected)
	}
	if q.maxTextLen > 0 && len([]rune(text)) > q.maxTextLen {
		return SubmitResult{}, fmt.Errorf("%w: text exceeds %d chars", ErrSubmissionRejected, q.maxTextLen)
	}

	it := &Item{
		ID:          uuid.New().String(),
		Text:        text,
		Images:      images,
		SubmittedAt: time.Now(),
		state:       StatePending,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active != nil {
		q.pending = append(q.pending, it)
		logs.Debug("[queue:%s] queued %s behind %d item(s)", q.sessionKey, it.ID, len(q.pending)-1)
		return SubmitResult{Queued: true, QueueID: it.ID}, nil
	}

	if err := q.activateLocked(it); err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Queued: false, QueueID: it.ID}, nil
}

// Cancel removes a pending item and returns its original text so the caller
// can restore it (e.g. back into an input box). Active or finished items
// return ErrNotFound; cancelling in-flight work is ForceExecute's job.
func (q *Queue) Cancel(queueID string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, it := range q.pending {
		if it.ID != queueID {
			continue
		}
		it.state = StateCancelled
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		return it.Text, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, queueID)
}

// ForceExecute interrupts the active item (best-effort abort of its
// generation) and promotes the named pending item immediately, bypassing
// FIFO order. Items ahead of it stay pending in their original order.
func (q *Queue) ForceExecute(queueID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := -1
	for i, it := range q.pending {
		if it.ID == queueID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, queueID)
	}

	it := q.pending[idx]
	q.pending = append(q.pending[:idx], q.pending[idx+1:]...)

	if q.active != nil {
		q.retireActiveLocked(true)
	}
	return q.activateLocked(it)
}

// Complete finishes the active item identified by queueID and promotes the
// FIFO head, if any. Stale IDs (an already-finished item) are ignored so
// late engine callbacks cannot double-promote.
func (q *Queue) Complete(queueID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active == nil || q.active.ID != queueID {
		return
	}
	q.retireActiveLocked(false)
	q.promoteLocked()
}

// Expire removes the item on a coordinator timeout: a still-pending item is
// cancelled in place, an active one is aborted and retired. Unrelated items
// already queued are untouched.
func (q *Queue) Expire(queueID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active != nil && q.active.ID == queueID {
		q.retireActiveLocked(true)
		q.promoteLocked()
		return
	}
	for i, it := range q.pending {
		if it.ID == queueID {
			it.state = StateCancelled
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// ItemState reports the state of an item by ID. Finished items are not
// retained, so (StateDone, false) distinguishes "gone" from "unknown".
func (q *Queue) ItemState(queueID string) (State, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active != nil && q.active.ID == queueID {
		return StateActive, true
	}
	for _, it := range q.pending {
		if it.ID == queueID {
			return it.state, true
		}
	}
	return StateDone, false
}

// Idle reports whether no item is active for this session.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active == nil
}

// Depth returns active + pending item count.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.active != nil {
		n++
	}
	return n
}

// Snapshot returns the active item followed by pending items in FIFO order.
func (q *Queue) Snapshot() []ItemView {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]ItemView, 0, len(q.pending)+1)
	if q.active != nil {
		out = append(out, q.active.view())
	}
	for _, it := range q.pending {
		out = append(out, it.view())
	}
	return out
}

// --- locked helpers ---

func (q *Queue) activateLocked(it *Item) error {
	abort, err := q.activate(*it)
	if err != nil {
		it.state = StateDone
		return fmt.Errorf("activate item %s: %w", it.ID, err)
	}
	it.state = StateActive
	q.active = it
	q.abortActive = abort
	return nil
}

func (q *Queue) retireActiveLocked(abort bool) {
	if abort && q.abortActive != nil {
		q.abortActive()
	}
	q.active.state = StateDone
	q.active = nil
	q.abortActive = nil
}

func (q *Queue) promoteLocked() {
	for len(q.pending) > 0 {
		next := q.pending[0]
		q.pending = q.pending[1:]
		if err := q.activateLocked(next); err != nil {
			logs.Warn("[queue:%s] promote %s failed: %v", q.sessionKey, next.ID, err)
			continue
		}
		return
	}
}
