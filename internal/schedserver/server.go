package schedserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app"
	hzServer "github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/cadencehq/cadence/internal/bridge"
	cadenceconsts "github.com/cadencehq/cadence/internal/consts"
	"github.com/cadencehq/cadence/internal/pkg/logs"
	"github.com/cadencehq/cadence/internal/scheduler"
	"github.com/cadencehq/cadence/internal/task"
)

// Server is the scheduler process's HTTP surface: task CRUD plus the event
// stream. The store is the single source of truth; every mutation here goes
// through it and is persisted before the response is written.
type Server struct {
	store *task.Store
	sched *scheduler.Scheduler
	bus   bridge.Bus
	hz    *hzServer.Hertz

	stopOnce sync.Once
}

func New(bind string, store *task.Store, sched *scheduler.Scheduler, bus bridge.Bus) *Server {
	hlog.SetLogger(logs.NewHlogLogger(logs.DefaultLogger()))

	s := &Server{
		store: store,
		sched: sched,
		bus:   bus,
		hz: hzServer.Default(
			hzServer.WithHostPorts(bind),
			hzServer.WithReadTimeout(30*time.Second),
			hzServer.WithExitWaitTime(5*time.Second),
		),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.hz.GET("/health", s.handleHealth)
	s.hz.GET("/events", bridge.SSEHandler(s.bus))

	s.hz.POST("/cron/tasks", s.handleCreate)
	s.hz.GET("/cron/tasks", s.handleList)
	s.hz.GET("/cron/tasks/:id", s.handleGet)
	s.hz.POST("/cron/tasks/:id/stop", s.handleStop)
}

func (s *Server) Start(ctx context.Context) {
	go s.hz.Spin()
	logs.CtxInfo(ctx, "[schedserver] listening")
}

func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		err = s.hz.Shutdown(ctx)
	})
	return err
}

func (s *Server) handleHealth(_ context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{"status": "ok", "version": cadenceconsts.Version})
}

type createTaskRequest struct {
	Prompt          string `json:"prompt"`
	WorkspaceRef    string `json:"workspace_ref,omitempty"`
	SessionRef      string `json:"session_ref,omitempty"`
	IntervalMinutes int    `json:"interval_minutes"`
	CronExpr        string `json:"cron_expr,omitempty"`
	RunMode         string `json:"run_mode,omitempty"`
	Deadline        string `json:"deadline,omitempty"` // RFC 3339
	MaxExecutions   int    `json:"max_executions,omitempty"`
	AgentCanExit    bool   `json:"agent_can_exit,omitempty"`
	NotifyEnabled   bool   `json:"notify_enabled,omitempty"`
	ModelOverride   string `json:"model_override,omitempty"`
	PermissionMode  string `json:"permission_mode,omitempty"`
	ProviderEnv     string `json:"provider_env,omitempty"`
}

// handleCreate persists a new task and arms its timer; the first fire is
// immediate, so by the time the caller sees the response the first
// execution is already underway.
func (s *Server) handleCreate(ctx context.Context, c *app.RequestContext) {
	var req createTaskRequest
	if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid request body"})
		return
	}

	cfg := task.Config{
		WorkspaceRef:    req.WorkspaceRef,
		SessionRef:      req.SessionRef,
		Prompt:          req.Prompt,
		IntervalMinutes: req.IntervalMinutes,
		CronExpr:        req.CronExpr,
		RunMode:         task.RunMode(req.RunMode),
		NotifyEnabled:   req.NotifyEnabled,
		ModelOverride:   req.ModelOverride,
		PermissionMode:  req.PermissionMode,
		ProviderEnv:     req.ProviderEnv,
		EndConditions: task.EndConditions{
			MaxExecutions: req.MaxExecutions,
			AgentCanExit:  req.AgentCanExit,
		},
	}
	if req.Deadline != "" {
		dl, err := time.Parse(time.RFC3339, req.Deadline)
		if err != nil {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "deadline must be RFC 3339"})
			return
		}
		cfg.EndConditions.Deadline = &dl
	}

	t, err := task.New(cfg)
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
		return
	}
	if err := s.store.Create(t); err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	if err := s.store.Save(); err != nil {
		logs.CtxError(ctx, "[schedserver] persist new task %s: %v", t.ID, err)
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}

	if err := s.sched.StartTask(t.ID); err != nil {
		logs.CtxError(ctx, "[schedserver] arm task %s: %v", t.ID, err)
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}

	logs.CtxInfo(ctx, "[schedserver] created task %s (%s)", t.ID, t.HumanInterval())
	c.JSON(consts.StatusOK, utils.H{"task": t, "unbounded": t.Unbounded()})
}

func (s *Server) handleList(_ context.Context, c *app.RequestContext) {
	tasks := s.store.List()
	if tasks == nil {
		tasks = []task.Task{}
	}
	c.JSON(consts.StatusOK, utils.H{"tasks": tasks})
}

func (s *Server) handleGet(_ context.Context, c *app.RequestContext) {
	t, err := s.store.Get(c.Param("id"))
	if err != nil {
		c.JSON(consts.StatusNotFound, utils.H{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, utils.H{"task": t, "armed": s.sched.Armed(t.ID)})
}

// handleStop is idempotent: stopping a stopped task succeeds and preserves
// the original exit reason.
func (s *Server) handleStop(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if err := s.store.Stop(id, task.ExitReasonUserStopped); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			c.JSON(consts.StatusNotFound, utils.H{"error": err.Error()})
			return
		}
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	s.sched.StopTask(id)
	if err := s.store.Save(); err != nil {
		logs.CtxWarn(ctx, "[schedserver] persist stop of %s: %v", id, err)
	}

	t, _ := s.store.Get(id)
	logs.CtxInfo(ctx, "[schedserver] stopped task %s (exit_reason=%q)", id, t.ExitReason)
	c.JSON(consts.StatusOK, utils.H{"task": t})
}
