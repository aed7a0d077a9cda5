package engine

import (
	"context"
	"log/slog"

	seekerrors "github.com/driveseek/driveseek/internal/errors"
	"github.com/driveseek/driveseek/internal/watcher"
)

// StartWatching starts one change-notification pipeline per drive:
// watcher events are debounced into batches, resolved into index
// deltas and folded into the published generations. Watching runs
// until ctx ends or the engine closes. A second call while pipelines
// are running is an error.
//
// A drive without a published generation drops its batches; the next
// full build picks those changes up anyway.
func (e *Engine) StartWatching(ctx context.Context) error {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()

	if e.watchCancel != nil {
		return seekerrors.InternalError("watchers already running", nil)
	}

	wctx, cancel := context.WithCancel(ctx)
	e.watchCancel = cancel

	opts := watcher.Options{DebounceWindow: e.cfg.WatchDebounce()}.WithDefaults()
	for _, root := range e.registry.Roots() {
		e.startPipeline(wctx, root, opts)
	}

	e.logger.Info("watchers_started",
		slog.Int("drives", len(e.watchers)),
		slog.Duration("debounce", opts.DebounceWindow))
	return nil
}

// startPipeline wires one drive's watcher, debouncer and delta feeder
// and launches their goroutines. Caller holds watchMu.
func (e *Engine) startPipeline(ctx context.Context, root string, opts watcher.Options) {
	w := watcher.New(root, e.scanOpts, opts)
	deb := watcher.NewDebouncer(opts.DebounceWindow)
	feeder := watcher.NewDeltaFeeder(root, e.manager, e.scanOpts, e.logger)

	e.watchers = append(e.watchers, w)

	e.watchWG.Add(3)
	go func() {
		defer e.watchWG.Done()
		if err := w.Start(ctx); err != nil && ctx.Err() == nil {
			e.logger.Warn("watcher_stopped",
				slog.String("drive", root),
				slog.String("error", err.Error()))
		}
		// A start that failed before its loop leaves the channels
		// open; Stop closes them so the pump can exit.
		_ = w.Stop()
	}()
	go func() {
		defer e.watchWG.Done()
		defer deb.Stop()
		pumpEvents(e.logger, root, w, deb)
	}()
	go func() {
		defer e.watchWG.Done()
		feeder.Run(ctx, deb.Output())
	}()
}

// pumpEvents moves raw watcher events into the debouncer until both
// watcher channels close.
func pumpEvents(logger *slog.Logger, root string, w watcher.Watcher, deb *watcher.Debouncer) {
	events := w.Events()
	errs := w.Errors()
	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			deb.Add(ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("watch_error",
				slog.String("drive", root),
				slog.String("error", err.Error()))
		}
	}
}

// stopWatching tears the pipelines down and waits for their
// goroutines. Safe to call when nothing is running.
func (e *Engine) stopWatching() {
	e.watchMu.Lock()
	cancel := e.watchCancel
	watchers := e.watchers
	e.watchCancel = nil
	e.watchers = nil
	e.watchMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	for _, w := range watchers {
		_ = w.Stop()
	}
	e.watchWG.Wait()
}

// StopWatching stops the pipelines started by StartWatching and blocks
// until they drain. The engine stays usable; watching may be started
// again.
func (e *Engine) StopWatching() {
	e.stopWatching()
}
