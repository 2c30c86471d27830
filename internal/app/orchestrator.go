package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Vicaadrn/web-scanner-project/internal/engine"
	"github.com/Vicaadrn/web-scanner-project/internal/logging"
	"github.com/Vicaadrn/web-scanner-project/internal/metrics"
	"github.com/Vicaadrn/web-scanner-project/internal/model"
	"github.com/Vicaadrn/web-scanner-project/internal/quota"
	"github.com/Vicaadrn/web-scanner-project/internal/reconcile"
	"github.com/Vicaadrn/web-scanner-project/internal/store"
	"github.com/Vicaadrn/web-scanner-project/internal/telemetry"
	"github.com/Vicaadrn/web-scanner-project/internal/utils"
)

// SubmitRequest is a caller's request to scan a target.
type SubmitRequest struct {
	Target   string
	Tier     string
	Wordlist string
	SourceIP string
}

// QuotaInfo describes the caller's remaining allowance after a submission.
// Remaining is -1 for authenticated callers.
type QuotaInfo struct {
	LoggedIn     bool
	ScanCount    int
	MaxFreeScans int
	Remaining    int
}

// Submission is the outcome of an accepted submission.
type Submission struct {
	Session *model.ScanSession
	Quota   QuotaInfo
}

// Orchestrator accepts submissions, hands them to the engine and keeps one
// watcher per in-flight session that reconciles engine status into the store.
type Orchestrator struct {
	cfg     *Config
	store   store.Store
	engine  *engine.Client
	guard   *quota.Guard
	metrics *metrics.Metrics
	logger  logging.Logger
	tracer  trace.Tracer

	now   func() time.Time
	newID func() string

	// watchers outlive the request that started them.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	watchers    map[string]*watcher
	subscribers map[string]map[chan model.ScanState]struct{}
}

// NewOrchestrator ties together config, store, engine client and quota guard.
func NewOrchestrator(cfg *Config, st store.Store, eng *engine.Client, guard *quota.Guard, m *metrics.Metrics, logger logging.Logger) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:         cfg,
		store:       st,
		engine:      eng,
		guard:       guard,
		metrics:     m,
		logger:      logger.With(logging.Component("orchestrator")),
		tracer:      otel.Tracer("scanner/orchestrator"),
		now:         time.Now,
		newID:       uuid.NewString,
		ctx:         ctx,
		cancel:      cancel,
		watchers:    make(map[string]*watcher),
		subscribers: make(map[string]map[chan model.ScanState]struct{}),
	}
}

// Submit validates the request, checks quota, dispatches exactly one job to
// the engine and persists the session. No session is stored on any failure
// path. Submission is never retried here; a caller that retries after a lost
// response may start a second job.
func (o *Orchestrator) Submit(ctx context.Context, id model.Identity, req SubmitRequest) (*Submission, error) {
	ctx, span := telemetry.AddSpan(ctx, o.tracer, "orchestrator.submit",
		attribute.String("identity.kind", string(id.Kind)))
	defer span.End()

	target := strings.TrimSpace(req.Target)
	if target == "" {
		return nil, fmt.Errorf("%w: target is required", model.ErrInvalidRequest)
	}
	target, err := utils.Canonicalize(target, o.cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("%w: target: %v", model.ErrInvalidRequest, err)
	}
	tier, ok := model.ParseTier(req.Tier)
	if !ok {
		return nil, fmt.Errorf("%w: unknown scan tier %q", model.ErrInvalidRequest, req.Tier)
	}
	wordlist := strings.TrimSpace(req.Wordlist)
	if wordlist == "" {
		wordlist = tier.DefaultWordlist()
	}

	decision, err := o.guard.Check(ctx, id)
	if err != nil {
		o.metrics.Submission("error", string(id.Kind))
		return nil, err
	}
	if !decision.Allowed {
		o.metrics.QuotaDenied()
		o.metrics.Submission("denied", string(id.Kind))
		return nil, decision.Err()
	}

	resp, err := o.engine.Submit(ctx, engine.ScanRequest{
		URL:      target,
		ScanType: string(tier),
		Wordlist: wordlist,
	})
	if err != nil {
		o.metrics.EngineError("submit")
		o.metrics.Submission("engine_unavailable", string(id.Kind))
		span.RecordError(err)
		return nil, fmt.Errorf("submit scan: %w", err)
	}
	span.SetAttributes(attribute.String("job.id", resp.JobID))

	now := o.now().UTC()
	principalID, anonymousID := id.Owner()
	session := &model.ScanSession{
		ID:          o.newID(),
		PrincipalID: principalID,
		AnonymousID: anonymousID,
		Target:      target,
		Tier:        tier,
		Wordlist:    wordlist,
		SourceIP:    req.SourceIP,
		CreatedAt:   now,
		ScanState:   model.NewPendingState(resp.JobID, now),
	}
	if err := o.store.CreateSession(ctx, session); err != nil {
		o.logger.Error("persisting session failed, stopping orphaned job",
			logging.Field{Key: "job_id", Value: resp.JobID},
			logging.Err(err))
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if stopErr := o.engine.Stop(stopCtx, resp.JobID); stopErr != nil {
			o.logger.Warn("stopping orphaned job failed",
				logging.Field{Key: "job_id", Value: resp.JobID},
				logging.Err(stopErr))
		}
		cancel()
		o.metrics.Submission("error", string(id.Kind))
		return nil, fmt.Errorf("persist session: %w", err)
	}

	o.logger.Info("scan accepted",
		logging.Field{Key: "session_id", Value: session.ID},
		logging.Field{Key: "job_id", Value: session.JobID},
		logging.Field{Key: "target", Value: target},
		logging.Field{Key: "tier", Value: tier},
		logging.Field{Key: "synchronous", Value: resp.Result != nil})
	o.metrics.Submission("accepted", string(id.Kind))

	var seed []model.PhaseEvent
	if resp.Result != nil {
		seed = append(seed, model.PhaseEvent{
			JobID:    resp.JobID,
			Source:   model.SourceEngine,
			Phase:    model.PhaseFinished,
			Progress: 100,
			Result:   resp.Result,
			At:       now,
		})
	}
	o.startWatcher(*session, seed)

	info := QuotaInfo{LoggedIn: id.IsAuthenticated(), MaxFreeScans: decision.Ceiling, Remaining: -1}
	if decision.Limited {
		info.ScanCount = decision.Count + 1
		info.Remaining = decision.Remaining - 1
	}
	out := *session
	return &Submission{Session: &out, Quota: info}, nil
}

// GetStatus returns the reconciled session for a job id. Job ids are
// unguessable engine identifiers and the lookup is not scoped to an owner.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (*model.ScanSession, error) {
	s, err := o.store.GetSessionByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListSessions returns the caller's most recent sessions.
func (o *Orchestrator) ListSessions(ctx context.Context, id model.Identity, limit int) ([]model.ScanSession, error) {
	return o.store.ListByOwner(ctx, id, store.ClampLimit(limit))
}

// Cancel stops the job behind a session owned by id and marks the session
// errored with reason canceled. Cancelling a terminal session is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, id model.Identity, jobID string) (*model.ScanSession, error) {
	s, err := o.store.GetSessionByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !s.OwnedBy(id) {
		return nil, model.ErrSessionNotFound
	}
	if s.Phase.IsTerminal() {
		return s, nil
	}

	if err := o.engine.Stop(ctx, jobID); err != nil {
		if !errors.Is(err, engine.ErrUnknownJob) {
			o.metrics.EngineError("stop")
			return nil, fmt.Errorf("cancel scan: %w", err)
		}
		o.logger.Warn("engine lost the job being cancelled", logging.Field{Key: "job_id", Value: jobID})
	}

	ev := model.PhaseEvent{
		JobID:  jobID,
		Source: model.SourceCancel,
		Phase:  model.PhaseErrored,
		Error:  "scan cancelled",
		Reason: model.ReasonCanceled,
		At:     o.now().UTC(),
	}
	if w := o.watcherFor(jobID); w != nil {
		select {
		case w.events <- ev:
		case <-w.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		select {
		case <-w.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else if next, changed := reconcile.Apply(s.ScanState, ev); changed {
		if err := o.store.UpdateState(ctx, s.ID, next); err != nil {
			return nil, err
		}
	}
	return o.store.GetSessionByJobID(ctx, jobID)
}

// Subscribe returns a channel receiving every state change of a job until
// its watcher stops. The channel is closed immediately when no watcher is
// running; callers read the final state from GetStatus afterwards. Slow
// subscribers miss intermediate states, never the close.
func (o *Orchestrator) Subscribe(jobID string) (<-chan model.ScanState, func()) {
	ch := make(chan model.ScanState, 16)

	o.mu.Lock()
	if _, ok := o.watchers[jobID]; !ok {
		o.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if o.subscribers[jobID] == nil {
		o.subscribers[jobID] = make(map[chan model.ScanState]struct{})
	}
	o.subscribers[jobID][ch] = struct{}{}
	o.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if subs, ok := o.subscribers[jobID]; ok {
				if _, ok := subs[ch]; ok {
					delete(subs, ch)
					close(ch)
				}
			}
		})
	}
}

func (o *Orchestrator) publish(jobID string, state model.ScanState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for ch := range o.subscribers[jobID] {
		// Non-blocking send; drop if buffer is full.
		select {
		case ch <- state:
		default:
		}
	}
}

func (o *Orchestrator) closeSubscribers(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for ch := range o.subscribers[jobID] {
		close(ch)
	}
	delete(o.subscribers, jobID)
}

// Recover starts watchers for every persisted non-terminal session that is
// not already watched. It returns how many were resumed.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	active, err := o.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}
	n := 0
	for _, s := range active {
		if o.watcherFor(s.JobID) != nil {
			continue
		}
		o.startWatcher(s, nil)
		n++
	}
	if n > 0 {
		o.logger.Info("resumed watchers", logging.Field{Key: "count", Value: n})
	}
	return n, nil
}

// Active reports how many sessions are being watched.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.watchers)
}

// Shutdown stops every watcher and waits for them to exit. Sessions left
// non-terminal are picked up by Recover on the next start.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for watchers: %w", ctx.Err())
	}
}
