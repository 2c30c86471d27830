package client_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vicaadrn/web-scanner-project/internal/app"
	"github.com/Vicaadrn/web-scanner-project/internal/client"
	"github.com/Vicaadrn/web-scanner-project/internal/devengine"
	"github.com/Vicaadrn/web-scanner-project/internal/metrics"
	"github.com/Vicaadrn/web-scanner-project/internal/model"
	"github.com/Vicaadrn/web-scanner-project/internal/server"
	"github.com/Vicaadrn/web-scanner-project/internal/testutil"
)

type stack struct {
	url string
	app *app.Application
	dev *devengine.Engine
}

// startStack runs a development engine, the service and its HTTP server.
func startStack(t *testing.T, step time.Duration) *stack {
	t.Helper()
	return startStackWith(t, step, nil)
}

func startStackWith(t *testing.T, step time.Duration, mutate func(*devengine.Config)) *stack {
	t.Helper()
	logger := &testutil.DummyLogger{}

	devCfg := devengine.DefaultConfig()
	devCfg.StepInterval = step
	devCfg.Discoveries = 3
	if mutate != nil {
		mutate(&devCfg)
	}
	dev := devengine.New(devCfg, logger)
	engineSrv := httptest.NewServer(dev.Handler())

	cfg := app.DefaultConfig()
	cfg.Engine.BaseURL = engineSrv.URL
	cfg.Engine.RateLimit = 0
	cfg.Reconcile.PollInterval = 20 * time.Millisecond
	cfg.Reconcile.Timeout = 5 * time.Second
	cfg.Auth.JWTSecret = "client-test-secret"

	a, err := app.Assemble(cfg, testutil.NewSQLiteStore(t), metrics.New(), logger)
	require.NoError(t, err)
	s, err := server.NewServer(server.ConfigFrom(cfg.Server, logger), a)
	require.NoError(t, err)
	apiSrv := httptest.NewServer(s)

	t.Cleanup(func() {
		apiSrv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Orch.Shutdown(ctx)
		dev.Close()
		engineSrv.Close()
	})
	return &stack{url: apiSrv.URL, app: a, dev: dev}
}

func newClient(t *testing.T, st *stack, mutate func(*client.Config)) *client.Client {
	t.Helper()
	cfg := client.DefaultConfig()
	cfg.BaseURL = st.url
	cfg.PollInterval = 50 * time.Millisecond
	cfg.Timeout = 5 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := client.New(cfg, &testutil.DummyLogger{}, nil)
	require.NoError(t, err)
	return c
}

type eventLog struct {
	mu     sync.Mutex
	events []client.Event
}

func (l *eventLog) observe(ev client.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) states() []model.ScanState {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.ScanState
	for _, ev := range l.events {
		if sc, ok := ev.(client.StateChanged); ok {
			out = append(out, sc.State)
		}
	}
	return out
}

func (l *eventLog) find(match func(client.Event) bool) (client.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if match(ev) {
			return ev, true
		}
	}
	return nil, false
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := client.New(client.Config{BaseURL: "::"}, nil, nil)
	assert.Error(t, err)
}

func TestSubmit_CookieJarKeepsAnonymousSession(t *testing.T) {
	st := startStack(t, 10*time.Millisecond)
	c := newClient(t, st, nil)
	ctx := context.Background()

	first, err := c.Submit(ctx, client.SubmitRequest{URL: "https://example.com"})
	require.NoError(t, err)
	require.NotNil(t, first.ScanInfo.RemainingScans)
	assert.Equal(t, 2, *first.ScanInfo.RemainingScans)

	second, err := c.Submit(ctx, client.SubmitRequest{URL: "https://example.org"})
	require.NoError(t, err)
	assert.Equal(t, 2, second.ScanInfo.ScanCount, "the second submission counts against the same session")

	list, err := c.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSubmit_QuotaAnnouncesAuthRequired(t *testing.T) {
	st := startStack(t, 10*time.Millisecond)
	c := newClient(t, st, nil)
	var log eventLog
	defer c.Observe(log.observe)()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.Submit(ctx, client.SubmitRequest{URL: "https://example.com"})
		require.NoError(t, err)
	}
	_, err := c.Submit(ctx, client.SubmitRequest{URL: "https://example.com"})
	require.Error(t, err)
	var qe *model.QuotaExceededError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, 3, qe.Count)
	assert.Equal(t, 3, qe.Ceiling)

	ev, ok := log.find(func(ev client.Event) bool { _, ok := ev.(client.AuthRequired); return ok })
	require.True(t, ok)
	assert.Equal(t, client.AuthRequired{ScanCount: 3, MaxFreeScans: 3}, ev)
}

func TestSubmit_InvalidRequest(t *testing.T) {
	st := startStack(t, 10*time.Millisecond)
	c := newClient(t, st, nil)

	_, err := c.Submit(context.Background(), client.SubmitRequest{})
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestStatus_UnknownJob(t *testing.T) {
	st := startStack(t, 10*time.Millisecond)
	c := newClient(t, st, nil)

	_, err := c.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestWatch_FollowsToFinished(t *testing.T) {
	st := startStack(t, 20*time.Millisecond)
	c := newClient(t, st, nil)
	var log eventLog
	defer c.Observe(log.observe)()
	ctx := context.Background()

	sub, err := c.Submit(ctx, client.SubmitRequest{URL: "https://example.com"})
	require.NoError(t, err)

	final, err := c.Watch(ctx, sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseFinished, final.Phase)
	assert.Equal(t, 100, final.Progress)
	require.NotNil(t, final.Result)
	assert.Len(t, final.Result.Endpoints, 3)
	assert.Equal(t, 1, final.Result.Counts.High)

	states := log.states()
	require.NotEmpty(t, states)
	for i := 1; i < len(states); i++ {
		assert.GreaterOrEqual(t, states[i].Phase.Rank(), states[i-1].Phase.Rank(), "phase regressed")
		assert.GreaterOrEqual(t, states[i].Progress, states[i-1].Progress, "progress regressed")
	}
	assert.Equal(t, model.PhaseFinished, states[len(states)-1].Phase)
}

func TestWatch_WaitsForResultAfterBareCompletion(t *testing.T) {
	st := startStackWith(t, 20*time.Millisecond, func(c *devengine.Config) { c.BareCompletion = true })
	c := newClient(t, st, nil)
	ctx := context.Background()

	sub, err := c.Submit(ctx, client.SubmitRequest{URL: "https://example.com"})
	require.NoError(t, err)

	final, err := c.Watch(ctx, sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseFinished, final.Phase)
	require.NotNil(t, final.Result)
	assert.Len(t, final.Result.Vulnerabilities, 3)
}

func TestWatch_LeavingDoesNotCancelScan(t *testing.T) {
	st := startStack(t, 30*time.Millisecond)
	c := newClient(t, st, nil)

	sub, err := c.Submit(context.Background(), client.SubmitRequest{URL: "https://example.com"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = c.Watch(ctx, sub.JobID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool {
		s, err := c.Status(context.Background(), sub.JobID)
		return err == nil && s.Phase == string(model.PhaseFinished)
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, st.dev.Stops())
}

func TestWatch_Cancelled(t *testing.T) {
	st := startStack(t, 300*time.Millisecond)
	c := newClient(t, st, nil)
	ctx := context.Background()

	sub, err := c.Submit(ctx, client.SubmitRequest{URL: "https://example.com"})
	require.NoError(t, err)

	done := make(chan model.ScanState, 1)
	go func() {
		final, _ := c.Watch(ctx, sub.JobID)
		done <- final
	}()

	s, err := c.Cancel(ctx, sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, string(model.PhaseErrored), s.Phase)

	select {
	case final := <-done:
		assert.Equal(t, model.PhaseErrored, final.Phase)
		assert.Equal(t, model.ReasonCanceled, final.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not end after cancel")
	}
}

func TestWatch_TimesOutOnUnknownJob(t *testing.T) {
	st := startStack(t, 10*time.Millisecond)
	c := newClient(t, st, func(cfg *client.Config) { cfg.Timeout = 200 * time.Millisecond })

	final, err := c.Watch(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrTimeout)
	assert.Equal(t, model.PhaseErrored, final.Phase)
	assert.Equal(t, model.ReasonTimeout, final.Reason)
}

func TestMe_AnnouncesAuthChanged(t *testing.T) {
	st := startStack(t, 10*time.Millisecond)
	p := model.Principal{ID: "u-7", Email: "carol@example.com"}
	require.NoError(t, st.app.Store.UpsertPrincipal(context.Background(), p))
	token, err := st.app.Credentials.Issue(p)
	require.NoError(t, err)

	c := newClient(t, st, func(cfg *client.Config) { cfg.Token = token })
	var log eventLog
	defer c.Observe(log.observe)()

	user, err := c.Me(context.Background())
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "u-7", user.ID)

	ev, ok := log.find(func(ev client.Event) bool { _, ok := ev.(client.AuthChanged); return ok })
	require.True(t, ok)
	assert.True(t, ev.(client.AuthChanged).LoggedIn)

	sub, err := c.Submit(context.Background(), client.SubmitRequest{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Nil(t, sub.ScanInfo.RemainingScans)
}

func TestObserve_Unregister(t *testing.T) {
	st := startStack(t, 10*time.Millisecond)
	c := newClient(t, st, nil)
	var log eventLog
	stop := c.Observe(log.observe)
	stop()

	_, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Empty(t, log.states())
	_, ok := log.find(func(client.Event) bool { return true })
	assert.False(t, ok)
}
