package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/cadencehq/cadence/internal/pkg/logs"
)

// Watch re-reads the config file on change and re-applies the logging
// level, so a running process can be moved to debug without a restart.
// Only the log level is hot; everything else needs a restart.
func Watch(ctx context.Context) error {
	path := defaultManager.Path()
	if path == "" {
		return nil // nothing loaded, nothing to watch
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		// The file may not exist yet (pure-defaults run); skip watching.
		logs.CtxDebug(ctx, "[config] not watching %s: %v", path, err)
		return nil
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := defaultManager.Load(path)
				if err != nil {
					logs.CtxWarn(ctx, "[config] reload failed, keeping previous: %v", err)
					continue
				}
				applyLogLevel(cfg.Logging.Level)
				logs.CtxInfo(ctx, "[config] reloaded %s (log level %s)", path, cfg.Logging.Level)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logs.CtxWarn(ctx, "[config] watch error: %v", err)
			}
		}
	}()
	return nil
}

func applyLogLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		logs.SetLogLevel(logs.DebugLevel)
	case "warn", "warning":
		logs.SetLogLevel(logs.WarnLevel)
	case "error":
		logs.SetLogLevel(logs.ErrorLevel)
	default:
		logs.SetLogLevel(logs.InfoLevel)
	}
}
