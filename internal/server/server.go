package server

import (
	"context"
	"sync"
	"time"

	hzServer "github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzprom "github.com/hertz-contrib/monitor-prometheus"

	"github.com/cadencehq/cadence/internal/bridge"
	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/coordinator"
	"github.com/cadencehq/cadence/internal/engine"
	"github.com/cadencehq/cadence/internal/pkg/logs"
	"github.com/cadencehq/cadence/internal/pkg/metrics"
	"github.com/cadencehq/cadence/internal/queue"
)

// Host is the engine-host process: it owns the conversational engine, the
// per-session admission queues, the execution coordinator, and the HTTP
// command surface the scheduler drives.
type Host struct {
	cfg    config.HostConfig
	engine engine.Engine
	queues *queue.Manager
	coord  *coordinator.Coordinator
	bus    bridge.Bus
	hz     *hzServer.Hertz

	runCtx    context.Context
	runCancel context.CancelFunc
	stopOnce  sync.Once
}

// New wires the host. The engine is the external collaborator; everything
// else is built here.
func New(cfg config.HostConfig, eng engine.Engine) *Host {
	h := &Host{
		cfg:    cfg,
		engine: eng,
		bus:    bridge.New(),
	}

	h.queues = queue.NewManager(h.activateFor, queue.Options{
		RatePerMinute: cfg.Queue.RatePerMinute,
		MaxTextLen:    cfg.Queue.MaxTextLen,
	})
	h.coord = coordinator.New(eng, h.queues, coordinator.NewMarkerExtractor(), h.bus, coordinator.Options{
		PollInterval: cfg.PollInterval(),
		WaitCeiling:  cfg.WaitCeiling(),
	})

	hlog.SetLogger(logs.NewHlogLogger(logs.DefaultLogger()))

	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	h.hz = hzServer.Default(
		hzServer.WithHostPorts(cfg.Bind),
		hzServer.WithReadTimeout(timeout),
		// Writes must outlive execute-sync, which blocks for up to the
		// coordinator's wait ceiling.
		hzServer.WithWriteTimeout(cfg.WaitCeiling()+5*time.Minute),
		hzServer.WithExitWaitTime(5*time.Second),
		hzServer.WithTracer(hertzprom.NewServerTracer(
			cfg.MetricsBind, "/metrics",
			hertzprom.WithRegistry(metrics.GetRegistry()),
			hertzprom.WithEnableGoCollector(true),
		)),
	)
	h.routes()
	return h
}

// Bus exposes the host's event bridge.
func (h *Host) Bus() bridge.Bus { return h.bus }

// Queues exposes the admission queues, mostly for tests.
func (h *Host) Queues() *queue.Manager { return h.queues }

// Start runs the HTTP surface until Stop.
func (h *Host) Start(ctx context.Context) error {
	h.runCtx, h.runCancel = context.WithCancel(ctx)
	go h.hz.Spin()
	logs.CtxInfo(ctx, "[host] listening on %s", h.cfg.Bind)
	return nil
}

// Stop shuts the server down and cancels in-flight generations.
func (h *Host) Stop(ctx context.Context) error {
	var err error
	h.stopOnce.Do(func() {
		if h.runCancel != nil {
			h.runCancel()
		}
		err = h.hz.Shutdown(ctx)
		logs.CtxInfo(ctx, "[host] stopped")
	})
	return err
}

// activateFor builds the per-session activation hook: starting a generation
// for the item and completing the queue entry when it finishes. The
// returned cancel is the queue's best-effort abort.
func (h *Host) activateFor(sessionKey string) queue.ActivateFunc {
	return func(it queue.Item) (func(), error) {
		parent := h.runCtx
		if parent == nil {
			parent = context.Background()
		}
		gctx, cancel := context.WithCancel(parent)

		go func() {
			defer h.syncQueueDepth()
			defer h.queues.ForSession(sessionKey).Complete(it.ID)
			if _, err := h.engine.Generate(gctx, sessionKey, it.Text); err != nil {
				logs.CtxWarn(gctx, "[host] generation for session %s item %s: %v", sessionKey, it.ID, err)
			}
		}()
		return cancel, nil
	}
}

func (h *Host) syncQueueDepth() {
	metrics.QueueDepth.Set(float64(h.queues.Depth()))
}
