package reconcile

import (
	"context"
	"time"

	"github.com/Vicaadrn/web-scanner-project/internal/logging"
	"github.com/Vicaadrn/web-scanner-project/internal/model"
)

const (
	// DefaultServerTimeout is the inactivity window used by server watchers.
	DefaultServerTimeout = 10 * time.Minute
	// DefaultClientTimeout is the inactivity window used by session clients.
	DefaultClientTimeout = 5 * time.Minute
	// DefaultResultGrace is how long a loop keeps reading after the session
	// finished without a result. It spans more than one poll interval.
	DefaultResultGrace = 10 * time.Second
)

// Loop owns one session's state. Every channel feeding the session sends
// into a single events channel consumed by Run, so state is only ever
// written from one goroutine.
type Loop struct {
	// Timeout is the inactivity window. Every observed event restarts it,
	// including discarded ones. Zero selects DefaultServerTimeout.
	Timeout time.Duration

	// ResultGrace bounds the wait for a result after a finished event that
	// carried none. Zero selects DefaultResultGrace, negative disables it.
	ResultGrace time.Duration

	// OnChange receives every state that differs from its predecessor.
	OnChange func(model.ScanState)
	// OnDiscard receives events that did not change the state.
	OnDiscard func(model.PhaseEvent)

	Logger logging.Logger

	// Now stamps the timeout event; defaults to time.Now.
	Now func() time.Time
}

// Run consumes events until the state turns terminal, ctx is cancelled or
// the inactivity window elapses, and returns the final state. A closed
// events channel stops consumption but still honours the inactivity window
// so a silent engine cannot leave the session pending forever.
func (l *Loop) Run(ctx context.Context, initial model.ScanState, events <-chan model.PhaseEvent) model.ScanState {
	state := initial
	if state.Phase == "" {
		state.Phase = model.PhasePending
	}
	if state.Phase.IsTerminal() {
		return state
	}

	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultServerTimeout
	}
	logger := l.Logger
	if logger == nil {
		logger = logging.Nop{}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return state
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			resetTimer(timer, timeout)

			next, applied := Apply(state, ev)
			if !applied {
				logger.Debug("event discarded",
					logging.Field{Key: "job_id", Value: state.JobID},
					logging.Field{Key: "source", Value: ev.Source},
					logging.Field{Key: "event_phase", Value: ev.Phase},
					logging.Field{Key: "phase", Value: state.Phase})
				if l.OnDiscard != nil {
					l.OnDiscard(ev)
				}
				continue
			}
			if next.Phase != state.Phase {
				logger.Info("phase advanced",
					logging.Field{Key: "job_id", Value: next.JobID},
					logging.Field{Key: "from", Value: state.Phase},
					logging.Field{Key: "to", Value: next.Phase},
					logging.Field{Key: "source", Value: ev.Source})
			}
			state = next
			if l.OnChange != nil {
				l.OnChange(state)
			}
			if state.Phase.IsTerminal() {
				return l.awaitResult(ctx, state, events, logger)
			}
		case <-timer.C:
			now := time.Now
			if l.Now != nil {
				now = l.Now
			}
			state, _ = Apply(state, model.PhaseEvent{
				JobID:  state.JobID,
				Source: model.SourceTimeout,
				Phase:  model.PhaseErrored,
				Error:  model.ErrTimeout.Error(),
				Reason: model.ReasonTimeout,
				At:     now(),
			})
			logger.Warn("session timed out",
				logging.Field{Key: "job_id", Value: state.JobID},
				logging.Field{Key: "timeout", Value: timeout.String()})
			if l.OnChange != nil {
				l.OnChange(state)
			}
			return state
		}
	}
}

// awaitResult keeps consuming events for a bounded grace period when the
// session finished without its result, so a payload-free completion notice
// that beats the next status poll does not lose the result.
func (l *Loop) awaitResult(ctx context.Context, state model.ScanState, events <-chan model.PhaseEvent, logger logging.Logger) model.ScanState {
	grace := l.ResultGrace
	if grace == 0 {
		grace = DefaultResultGrace
	}
	if grace < 0 || events == nil || state.Phase != model.PhaseFinished || state.Result != nil {
		return state
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return state
		case <-timer.C:
			logger.Warn("session finished without a result",
				logging.Field{Key: "job_id", Value: state.JobID},
				logging.Field{Key: "grace", Value: grace.String()})
			return state
		case ev, ok := <-events:
			if !ok {
				return state
			}
			next, applied := Apply(state, ev)
			if !applied {
				if l.OnDiscard != nil {
					l.OnDiscard(ev)
				}
				continue
			}
			if l.OnChange != nil {
				l.OnChange(next)
			}
			return next
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
