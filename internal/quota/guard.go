// Package quota limits how many scans an anonymous caller may start.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/Vicaadrn/web-scanner-project/internal/logging"
	"github.com/Vicaadrn/web-scanner-project/internal/model"
)

const (
	DefaultCeiling = 3
	DefaultWindow  = 24 * time.Hour
)

// Counter is the slice of the store the guard needs.
type Counter interface {
	CountAnonymousSince(ctx context.Context, anonymousID string, since time.Time) (int, error)
}

// Decision is the outcome of a quota check. Remaining is -1 for callers
// without a quota.
type Decision struct {
	Allowed   bool
	Limited   bool
	Count     int
	Ceiling   int
	Remaining int
}

// Err returns the denial as an error, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &model.QuotaExceededError{Count: d.Count, Ceiling: d.Ceiling}
}

// Guard enforces a ceiling on anonymous sessions created within a trailing
// window. Principals are not limited.
//
// The count and the later insert are not one transaction, so concurrent
// submissions from the same anonymous id can overshoot the ceiling by the
// number of requests in flight.
type Guard struct {
	counter Counter
	ceiling int
	window  time.Duration
	now     func() time.Time
	logger  logging.Logger
}

type Option func(*Guard)

func WithCeiling(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.ceiling = n
		}
	}
}

func WithWindow(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.window = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

func NewGuard(counter Counter, logger logging.Logger, opts ...Option) *Guard {
	if logger == nil {
		logger = logging.Nop{}
	}
	g := &Guard{
		counter: counter,
		ceiling: DefaultCeiling,
		window:  DefaultWindow,
		now:     time.Now,
		logger:  logger.With(logging.Component("quota")),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Guard) Ceiling() int { return g.ceiling }

// Check decides whether id may start another scan.
func (g *Guard) Check(ctx context.Context, id model.Identity) (Decision, error) {
	if id.IsAuthenticated() {
		return Decision{Allowed: true, Ceiling: g.ceiling, Remaining: -1}, nil
	}
	if !id.IsAnonymous() {
		return Decision{}, fmt.Errorf("%w: identity has neither principal nor session", model.ErrInvalidRequest)
	}

	since := g.now().Add(-g.window)
	count, err := g.counter.CountAnonymousSince(ctx, id.SessionID, since)
	if err != nil {
		return Decision{}, fmt.Errorf("quota count: %w", err)
	}
	d := Decision{Limited: true, Count: count, Ceiling: g.ceiling}
	if count >= g.ceiling {
		g.logger.Info("quota denied",
			logging.Field{Key: "session_id", Value: id.SessionID},
			logging.Field{Key: "count", Value: count},
			logging.Field{Key: "ceiling", Value: g.ceiling})
		return d, nil
	}
	d.Allowed = true
	d.Remaining = g.ceiling - count
	return d, nil
}
