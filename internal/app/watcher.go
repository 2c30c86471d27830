package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Vicaadrn/web-scanner-project/internal/logging"
	"github.com/Vicaadrn/web-scanner-project/internal/model"
	"github.com/Vicaadrn/web-scanner-project/internal/reconcile"
)

// storeWriteTimeout bounds each state write so a stuck store cannot hold a
// watcher past shutdown.
const storeWriteTimeout = 5 * time.Second

// watcher tracks one in-flight session. Poll and push loops feed events;
// the reconcile loop is the only writer of the session's state.
type watcher struct {
	sessionID string
	jobID     string
	events    chan model.PhaseEvent
	done      chan struct{}
}

func (o *Orchestrator) watcherFor(jobID string) *watcher {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.watchers[jobID]
}

// startWatcher registers and launches the watcher for s. seed events are
// queued ahead of anything the engine reports.
func (o *Orchestrator) startWatcher(s model.ScanSession, seed []model.PhaseEvent) {
	w := &watcher{
		sessionID: s.ID,
		jobID:     s.JobID,
		events:    make(chan model.PhaseEvent, 32+len(seed)),
		done:      make(chan struct{}),
	}
	for _, ev := range seed {
		w.events <- ev
	}

	o.mu.Lock()
	if _, exists := o.watchers[s.JobID]; exists {
		o.mu.Unlock()
		return
	}
	o.watchers[s.JobID] = w
	o.mu.Unlock()

	o.metrics.WatcherStarted()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.watchers, s.JobID)
			o.mu.Unlock()
			close(w.done)
			o.closeSubscribers(s.JobID)
			o.metrics.WatcherStopped()
		}()
		final := o.watch(o.ctx, w, s.ScanState)
		o.logger.Debug("watcher stopped",
			logging.Field{Key: "job_id", Value: s.JobID},
			logging.Field{Key: "phase", Value: final.Phase})
	}()
}

// watch runs the poll loop, the push loop and the reconcile loop until the
// session is terminal, times out or ctx ends.
func (o *Orchestrator) watch(ctx context.Context, w *watcher, initial model.ScanState) model.ScanState {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	logger := o.logger.With(logging.Field{Key: "job_id", Value: w.jobID})

	g.Go(func() error {
		return reconcile.Poll(gctx, o.cfg.Reconcile.PollInterval, func(ctx context.Context) (model.PhaseEvent, error) {
			ev, err := o.engine.Poll(ctx, w.jobID)
			if err != nil {
				o.metrics.EngineError("status")
			}
			return ev, err
		}, w.events, logger)
	})
	g.Go(func() error {
		return reconcile.Push(gctx, func(ctx context.Context) (reconcile.Stream, error) {
			return o.engine.Subscribe(ctx, w.jobID)
		}, w.events, logger)
	})

	var final model.ScanState
	g.Go(func() error {
		prev := initial.Phase
		loop := &reconcile.Loop{
			Timeout:     o.cfg.Reconcile.Timeout,
			ResultGrace: o.cfg.Reconcile.ResultGrace,
			Logger:      logger,
			OnChange: func(state model.ScanState) {
				o.persist(w, state)
				if state.Phase != prev {
					o.metrics.PhaseTransition(string(state.Phase), "reconcile")
					prev = state.Phase
				}
				if state.Result != nil && state.Result.Malformed {
					o.metrics.MalformedResult()
				}
				o.publish(w.jobID, state)
			},
			OnDiscard: func(ev model.PhaseEvent) {
				o.metrics.EventDiscarded(string(ev.Source))
			},
		}
		final = loop.Run(gctx, initial, w.events)
		// Terminal or timed out: stop the feeders.
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Warn("watcher loop failed", logging.Err(err))
	}
	return final
}

func (o *Orchestrator) persist(w *watcher, state model.ScanState) {
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if err := o.store.UpdateState(ctx, w.sessionID, state); err != nil {
		o.logger.Error("persisting session state failed",
			logging.Field{Key: "session_id", Value: w.sessionID},
			logging.Field{Key: "job_id", Value: w.jobID},
			logging.Err(err))
	}
}
