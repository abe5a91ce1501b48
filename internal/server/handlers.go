package server

import (
	"context"
	"errors"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/cadencehq/cadence/internal/bridge"
	cadenceconsts "github.com/cadencehq/cadence/internal/consts"
	"github.com/cadencehq/cadence/internal/coordinator"
	"github.com/cadencehq/cadence/internal/pkg/logs"
	"github.com/cadencehq/cadence/internal/queue"
)

func (h *Host) routes() {
	h.hz.GET("/health", h.handleHealth)
	h.hz.GET("/events", bridge.SSEHandler(h.bus))

	h.hz.POST("/cron/execute-sync", h.handleExecuteSync)
	h.hz.GET("/cron/check-completion", h.handleCheckCompletion)

	h.hz.POST("/chat/message", h.handleChatMessage)
	h.hz.POST("/chat/queue/cancel", h.handleQueueCancel)
	h.hz.POST("/chat/queue/force", h.handleQueueForce)
	h.hz.GET("/chat/queue/status", h.handleQueueStatus)
}

func (h *Host) handleHealth(_ context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{"status": "ok", "version": cadenceconsts.Version})
}

// handleExecuteSync runs one scheduled execution to completion and blocks
// until the session is idle again. The response is always structured:
// 200 on a normal cycle, 408 on an idle-wait timeout, 500 on failure.
func (h *Host) handleExecuteSync(ctx context.Context, c *app.RequestContext) {
	var req coordinator.Request
	if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"success": false, "error": "invalid request body"})
		return
	}
	if req.TaskID == "" || req.Prompt == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"success": false, "error": "task_id and prompt are required"})
		return
	}

	if req.WorkspaceRef == "" {
		req.WorkspaceRef = h.cfg.DefaultWorkspace
	}

	ctx = logs.SetLogID(ctx, logs.NewLogID())
	logs.CtxInfo(ctx, "[host] execute-sync task %s (execution #%d, mode=%s)", req.TaskID, req.ExecutionNumber, req.RunMode)

	out := h.coord.ExecuteSync(ctx, req)
	h.syncQueueDepth()

	body := utils.H{
		"success":              out.Error == "",
		"completed":            out.Completed,
		"timed_out":            out.TimedOut,
		"agent_requested_exit": out.AgentRequestedExit,
		"exit_reason":          out.ExitFreeText,
		"session_key":          out.SessionKey,
		"session_fallback":     out.SessionFallback,
		"error":                out.Error,
	}
	switch {
	case out.TimedOut:
		c.JSON(consts.StatusRequestTimeout, body)
	case out.Error != "":
		c.JSON(consts.StatusInternalServerError, body)
	default:
		c.JSON(consts.StatusOK, body)
	}
}

func (h *Host) handleCheckCompletion(ctx context.Context, c *app.RequestContext) {
	completed, reason := h.coord.CheckCompletion(ctx)
	c.JSON(consts.StatusOK, utils.H{"completed": completed, "reason": reason})
}

type chatMessageRequest struct {
	SessionKey string        `json:"session_key,omitempty"`
	Content    string        `json:"content"`
	Images     []queue.Image `json:"images,omitempty"`
}

// handleChatMessage admits a plain user message into the session's queue.
func (h *Host) handleChatMessage(ctx context.Context, c *app.RequestContext) {
	var req chatMessageRequest
	if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid request body"})
		return
	}
	if req.Content == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "content is required"})
		return
	}

	sessionKey := req.SessionKey
	if sessionKey == "" {
		sessionKey = h.engine.CurrentSessionKey()
	}

	res, err := h.queues.ForSession(sessionKey).Submit(req.Content, req.Images)
	h.syncQueueDepth()
	if err != nil {
		if errors.Is(err, queue.ErrSubmissionRejected) {
			c.JSON(consts.StatusTooManyRequests, utils.H{"error": err.Error()})
			return
		}
		logs.CtxError(ctx, "[host] submit message: %v", err)
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, utils.H{"queued": res.Queued, "queue_id": res.QueueID})
}

type queueIDRequest struct {
	QueueID string `json:"queue_id"`
}

func (h *Host) handleQueueCancel(_ context.Context, c *app.RequestContext) {
	var req queueIDRequest
	if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil || req.QueueID == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"success": false, "error": "queue_id is required"})
		return
	}

	q, ok := h.queues.Find(req.QueueID)
	if !ok {
		c.JSON(consts.StatusNotFound, utils.H{"success": false, "error": "queue item not found"})
		return
	}
	text, err := q.Cancel(req.QueueID)
	h.syncQueueDepth()
	if err != nil {
		c.JSON(consts.StatusNotFound, utils.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, utils.H{"success": true, "cancelled_text": text})
}

func (h *Host) handleQueueForce(_ context.Context, c *app.RequestContext) {
	var req queueIDRequest
	if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil || req.QueueID == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"success": false, "error": "queue_id is required"})
		return
	}

	q, ok := h.queues.Find(req.QueueID)
	if !ok {
		c.JSON(consts.StatusNotFound, utils.H{"success": false, "error": "queue item not found"})
		return
	}
	if err := q.ForceExecute(req.QueueID); err != nil {
		c.JSON(consts.StatusNotFound, utils.H{"success": false, "error": err.Error()})
		return
	}
	h.syncQueueDepth()
	c.JSON(consts.StatusOK, utils.H{"success": true})
}

func (h *Host) handleQueueStatus(_ context.Context, c *app.RequestContext) {
	items := h.queues.Snapshot()
	if items == nil {
		items = []queue.ItemView{}
	}
	c.JSON(consts.StatusOK, utils.H{"queue": items})
}
