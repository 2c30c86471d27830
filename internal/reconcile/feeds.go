package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/Vicaadrn/web-scanner-project/internal/logging"
	"github.com/Vicaadrn/web-scanner-project/internal/model"
)

// DefaultPollInterval is the pull channel's fixed interval.
const DefaultPollInterval = 3 * time.Second

// Stream is an open push channel for one job.
type Stream interface {
	Next() (model.PhaseEvent, error)
	Close() error
}

// PollFunc fetches one snapshot of a job.
type PollFunc func(ctx context.Context) (model.PhaseEvent, error)

// DialFunc opens a push channel for a job.
type DialFunc func(ctx context.Context) (Stream, error)

// Poll calls fetch immediately and then every interval, sending each
// snapshot to out until ctx ends. Failed polls are logged and skipped; the
// inactivity timer of the consuming Loop bounds how long that may last.
func Poll(ctx context.Context, interval time.Duration, fetch PollFunc, out chan<- model.PhaseEvent, logger logging.Logger) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ev, err := fetch(ctx)
		switch {
		case err == nil:
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		case ctx.Err() != nil:
			return nil
		default:
			logger.Debug("poll failed", logging.Err(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Push keeps a push channel open until ctx ends, redialing with exponential
// backoff whenever it drops. A drop never affects the remote job.
func Push(ctx context.Context, dial DialFunc, out chan<- model.PhaseEvent, logger logging.Logger) error {
	if logger == nil {
		logger = logging.Nop{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	op := func() error {
		stream, err := dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer stream.Close()

		// Stop the stream from blocking Next once ctx ends.
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctx.Done():
				_ = stream.Close()
			case <-stop:
			}
		}()

		for {
			ev, err := stream.Next()
			if err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				return err
			}
			b.Reset()
			select {
			case out <- ev:
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}
		}
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug("push channel dropped",
			logging.Field{Key: "retry_in", Value: wait.String()},
			logging.Err(err))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
