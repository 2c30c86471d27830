package app

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vicaadrn/web-scanner-project/internal/devengine"
	"github.com/Vicaadrn/web-scanner-project/internal/metrics"
	"github.com/Vicaadrn/web-scanner-project/internal/model"
	"github.com/Vicaadrn/web-scanner-project/internal/store"
	"github.com/Vicaadrn/web-scanner-project/internal/store/storetest"
	"github.com/Vicaadrn/web-scanner-project/internal/testutil"
)

type harness struct {
	orch  *Orchestrator
	store store.Store
	dev   *devengine.Engine
	app   *Application
}

func newHarness(t *testing.T, mutate func(*devengine.Config)) *harness {
	t.Helper()
	devCfg := devengine.DefaultConfig()
	devCfg.StepInterval = 10 * time.Millisecond
	devCfg.Discoveries = 3
	if mutate != nil {
		mutate(&devCfg)
	}
	dev := devengine.New(devCfg, &testutil.DummyLogger{})
	srv := httptest.NewServer(dev.Handler())

	cfg := DefaultConfig()
	cfg.Engine.BaseURL = srv.URL
	cfg.Engine.RateLimit = 0
	cfg.Reconcile.PollInterval = 20 * time.Millisecond
	cfg.Reconcile.Timeout = 5 * time.Second
	cfg.Auth.JWTSecret = "test-secret"

	st := testutil.NewSQLiteStore(t)
	a, err := Assemble(cfg, st, metrics.New(), &testutil.DummyLogger{})
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Orch.Shutdown(ctx)
		dev.Close()
		srv.Close()
	})
	return &harness{orch: a.Orch, store: st, dev: dev, app: a}
}

func (h *harness) waitTerminal(t *testing.T, jobID string) *model.ScanSession {
	t.Helper()
	var s *model.ScanSession
	require.Eventually(t, func() bool {
		var err error
		s, err = h.orch.GetStatus(context.Background(), jobID)
		return err == nil && s.Phase.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)
	return s
}

func TestSubmit_AnonymousFirstScan(t *testing.T) {
	h := newHarness(t, nil)
	id := model.AnonymousIdentity("anon-1")

	sub, err := h.orch.Submit(context.Background(), id, SubmitRequest{Target: "  https://Example.com  ", SourceIP: "198.51.100.4"})
	require.NoError(t, err)

	assert.NotEmpty(t, sub.Session.JobID)
	assert.Equal(t, model.PhasePending, sub.Session.Phase)
	assert.Equal(t, "https://example.com", sub.Session.Target)
	assert.Equal(t, model.TierQuick, sub.Session.Tier)
	assert.Equal(t, "common.txt", sub.Session.Wordlist)
	assert.Equal(t, "anon-1", sub.Session.AnonymousID)
	assert.Empty(t, sub.Session.PrincipalID)
	assert.Equal(t, QuotaInfo{ScanCount: 1, MaxFreeScans: 3, Remaining: 2}, sub.Quota)
	assert.Equal(t, 1, h.dev.Submissions())

	stored, err := h.store.GetSession(context.Background(), sub.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.4", stored.SourceIP)
}

func TestSubmit_AnonymousQuotaExhausted(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 3; i++ {
		s := storetest.NewSession("anon-2", now.Add(-time.Duration(i+1)*time.Hour))
		s.Phase = model.PhaseFinished
		require.NoError(t, h.store.CreateSession(ctx, s))
	}

	_, err := h.orch.Submit(ctx, model.AnonymousIdentity("anon-2"), SubmitRequest{Target: "https://example.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrQuotaExceeded)
	var qe *model.QuotaExceededError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, 3, qe.Count)
	assert.Equal(t, 3, qe.Ceiling)

	n, err := h.store.CountAnonymousSince(ctx, "anon-2", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n, "a denied submission creates no session")
	assert.Equal(t, 0, h.dev.Submissions(), "a denied submission never reaches the engine")
}

func TestSubmit_OldSessionsDoNotCount(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s := storetest.NewSession("anon-3", time.Now().Add(-25*time.Hour))
		s.Phase = model.PhaseFinished
		require.NoError(t, h.store.CreateSession(ctx, s))
	}
	_, err := h.orch.Submit(ctx, model.AnonymousIdentity("anon-3"), SubmitRequest{Target: "https://example.com"})
	assert.NoError(t, err)
}

func TestSubmit_PrincipalIsNotLimited(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	p := model.Principal{ID: "user-1", Email: "user@example.com", CreatedAt: time.Now().Unix()}
	require.NoError(t, h.store.UpsertPrincipal(ctx, p))

	for i := 0; i < 50; i++ {
		s := storetest.NewSession("", time.Now().Add(-time.Minute))
		s.AnonymousID = ""
		s.PrincipalID = p.ID
		s.Phase = model.PhaseFinished
		require.NoError(t, h.store.CreateSession(ctx, s))
	}

	sub, err := h.orch.Submit(ctx, model.AuthenticatedIdentity(p), SubmitRequest{Target: "example.com", Tier: "deep"})
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub.Session.PrincipalID)
	assert.Equal(t, model.TierDeep, sub.Session.Tier)
	assert.Equal(t, "medium.txt", sub.Session.Wordlist)
	assert.True(t, sub.Quota.LoggedIn)
	assert.Equal(t, -1, sub.Quota.Remaining)
}

func TestSubmit_InvalidRequests(t *testing.T) {
	h := newHarness(t, nil)
	id := model.AnonymousIdentity("anon-4")

	for _, req := range []SubmitRequest{
		{Target: "   "},
		{Target: "ftp://example.com"},
		{Target: "https://example.com", Tier: "extreme"},
	} {
		_, err := h.orch.Submit(context.Background(), id, req)
		assert.ErrorIs(t, err, model.ErrInvalidRequest, "request %+v", req)
	}
	assert.Equal(t, 0, h.dev.Submissions())
}

func TestSubmit_EngineUnavailable(t *testing.T) {
	h := newHarness(t, func(c *devengine.Config) { c.FailSubmissions = true })
	ctx := context.Background()

	_, err := h.orch.Submit(ctx, model.AnonymousIdentity("anon-5"), SubmitRequest{Target: "https://example.com"})
	assert.ErrorIs(t, err, model.ErrEngineUnavailable)

	sessions, err := h.orch.ListSessions(ctx, model.AnonymousIdentity("anon-5"), 0)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSubmit_ReconcilesToFinished(t *testing.T) {
	h := newHarness(t, nil)
	sub, err := h.orch.Submit(context.Background(), model.AnonymousIdentity("anon-6"), SubmitRequest{Target: "https://example.com"})
	require.NoError(t, err)

	s := h.waitTerminal(t, sub.Session.JobID)
	assert.Equal(t, model.PhaseFinished, s.Phase)
	assert.Equal(t, 100, s.Progress)
	require.NotNil(t, s.Result)
	assert.False(t, s.Result.Malformed)
	assert.Len(t, s.Result.Endpoints, 3)
	assert.Equal(t, model.SeverityCounts{High: 1, Medium: 1}, s.Result.Counts)

	require.Eventually(t, func() bool { return h.orch.Active() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSubmit_SynchronousEngine(t *testing.T) {
	h := newHarness(t, func(c *devengine.Config) { c.Synchronous = true })
	sub, err := h.orch.Submit(context.Background(), model.AnonymousIdentity("anon-7"), SubmitRequest{Target: "https://example.com"})
	require.NoError(t, err)

	s := h.waitTerminal(t, sub.Session.JobID)
	assert.Equal(t, model.PhaseFinished, s.Phase)
	require.NotNil(t, s.Result)
	assert.Len(t, s.Result.Vulnerabilities, 3)
}

func TestSubmit_EngineJobFails(t *testing.T) {
	h := newHarness(t, func(c *devengine.Config) { c.FailJobs = true })
	sub, err := h.orch.Submit(context.Background(), model.AnonymousIdentity("anon-8"), SubmitRequest{Target: "https://example.com"})
	require.NoError(t, err)

	s := h.waitTerminal(t, sub.Session.JobID)
	assert.Equal(t, model.PhaseErrored, s.Phase)
	assert.NotEmpty(t, s.Error)
}

func TestSubmit_ResultArrivesAfterBareCompletion(t *testing.T) {
	h := newHarness(t, func(c *devengine.Config) { c.BareCompletion = true })
	sub, err := h.orch.Submit(context.Background(), model.AnonymousIdentity("anon-20"), SubmitRequest{Target: "https://example.com"})
	require.NoError(t, err)

	var s *model.ScanSession
	require.Eventually(t, func() bool {
		s, err = h.orch.GetStatus(context.Background(), sub.Session.JobID)
		return err == nil && s.Result != nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, model.PhaseFinished, s.Phase)
	assert.Len(t, s.Result.Vulnerabilities, 3)
	assert.Equal(t, model.SeverityCounts{High: 1, Medium: 1}, s.Result.Counts)
}

func TestSubmit_PollOnlyWhenStreamDrops(t *testing.T) {
	h := newHarness(t, func(c *devengine.Config) { c.DropStreams = true })
	sub, err := h.orch.Submit(context.Background(), model.AnonymousIdentity("anon-9"), SubmitRequest{Target: "https://example.com"})
	require.NoError(t, err)

	s := h.waitTerminal(t, sub.Session.JobID)
	assert.Equal(t, model.PhaseFinished, s.Phase)
}

func TestCancel(t *testing.T) {
	h := newHarness(t, func(c *devengine.Config) { c.StepInterval = time.Second })
	ctx := context.Background()
	owner := model.AnonymousIdentity("anon-10")

	sub, err := h.orch.Submit(ctx, owner, SubmitRequest{Target: "https://example.com"})
	require.NoError(t, err)

	_, err = h.orch.Cancel(ctx, model.AnonymousIdentity("someone-else"), sub.Session.JobID)
	assert.ErrorIs(t, err, model.ErrSessionNotFound)

	s, err := h.orch.Cancel(ctx, owner, sub.Session.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseErrored, s.Phase)
	assert.Equal(t, model.ReasonCanceled, s.Reason)
	assert.Equal(t, 1, h.dev.Stops())

	again, err := h.orch.Cancel(ctx, owner, sub.Session.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonCanceled, again.Reason)
	assert.Equal(t, 1, h.dev.Stops(), "cancelling a terminal session does not call the engine")
}

func TestSubscribe_ReceivesUpdatesAndClose(t *testing.T) {
	h := newHarness(t, func(c *devengine.Config) { c.StepInterval = 30 * time.Millisecond })
	sub, err := h.orch.Submit(context.Background(), model.AnonymousIdentity("anon-11"), SubmitRequest{Target: "https://example.com"})
	require.NoError(t, err)

	updates, unsubscribe := h.orch.Subscribe(sub.Session.JobID)
	defer unsubscribe()

	var last model.ScanState
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case st, ok := <-updates:
			if !ok {
				done = true
				break
			}
			assert.GreaterOrEqual(t, st.Phase.Rank(), last.Phase.Rank(), "phase never regresses")
			assert.GreaterOrEqual(t, st.Progress, last.Progress, "progress never decreases")
			last = st
		case <-timeout:
			t.Fatal("subscription did not close")
		}
	}
	final, err := h.orch.GetStatus(context.Background(), sub.Session.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseFinished, final.Phase)
}

func TestSubscribe_UnwatchedJobIsClosed(t *testing.T) {
	h := newHarness(t, nil)
	ch, unsubscribe := h.orch.Subscribe("nope")
	defer unsubscribe()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestRecover_ResumesActiveSessions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	// A job the engine knows about, persisted as if a previous process died.
	resp, err := h.app.Engine.Submit(ctx, engineRequest("https://example.com"))
	require.NoError(t, err)
	s := storetest.NewSession("anon-12", time.Now())
	s.JobID = resp.JobID
	require.NoError(t, h.store.CreateSession(ctx, s))

	n, err := h.orch.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	final := h.waitTerminal(t, resp.JobID)
	assert.Equal(t, model.PhaseFinished, final.Phase)
}

func TestListSessions_OwnerScoped(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.orch.Submit(ctx, model.AnonymousIdentity("anon-13"), SubmitRequest{Target: "https://a.example.com"})
	require.NoError(t, err)
	_, err = h.orch.Submit(ctx, model.AnonymousIdentity("anon-14"), SubmitRequest{Target: "https://b.example.com"})
	require.NoError(t, err)

	list, err := h.orch.ListSessions(ctx, model.AnonymousIdentity("anon-13"), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "https://a.example.com", list[0].Target)
}
