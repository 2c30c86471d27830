package engine_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vicaadrn/web-scanner-project/internal/devengine"
	"github.com/Vicaadrn/web-scanner-project/internal/engine"
	"github.com/Vicaadrn/web-scanner-project/internal/model"
	"github.com/Vicaadrn/web-scanner-project/internal/normalize"
	"github.com/Vicaadrn/web-scanner-project/internal/testutil"
)

func startEngine(t *testing.T, cfg devengine.Config) (*devengine.Engine, *engine.Client) {
	t.Helper()
	dev := devengine.New(cfg, &testutil.DummyLogger{})
	srv := httptest.NewServer(dev.Handler())
	t.Cleanup(func() {
		dev.Close()
		srv.Close()
	})
	c, err := engine.New(engine.Config{BaseURL: srv.URL, RequestTimeout: 5 * time.Second}, &testutil.DummyLogger{}, nil)
	require.NoError(t, err)
	return dev, c
}

func fastConfig() devengine.Config {
	cfg := devengine.DefaultConfig()
	cfg.StepInterval = 10 * time.Millisecond
	cfg.Discoveries = 3
	return cfg
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	_, err := engine.New(engine.Config{BaseURL: "not a url"}, nil, nil)
	assert.Error(t, err)
}

func TestClient_SubmitAndPollToCompletion(t *testing.T) {
	dev, c := startEngine(t, fastConfig())
	ctx := context.Background()

	resp, err := c.Submit(ctx, engine.ScanRequest{URL: "https://example.com", ScanType: "quick", Wordlist: "common.txt"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.JobID)
	assert.Nil(t, resp.Result)
	assert.Equal(t, 1, dev.Submissions())

	var ev model.PhaseEvent
	require.Eventually(t, func() bool {
		ev, err = c.Poll(ctx, resp.JobID)
		return err == nil && ev.Phase == model.PhaseFinished
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, model.SourcePoll, ev.Source)
	assert.Equal(t, 100, ev.Progress)
	require.NotNil(t, ev.Result)

	res := normalize.Normalize(ev.Result)
	assert.False(t, res.Malformed)
	assert.Len(t, res.Endpoints, 3)
	assert.Len(t, res.Vulnerabilities, 3)
	assert.Equal(t, 1, res.Counts.High)
	assert.Equal(t, 1, res.Counts.Medium)
}

func TestClient_SynchronousSubmit(t *testing.T) {
	cfg := fastConfig()
	cfg.Synchronous = true
	_, c := startEngine(t, cfg)

	resp, err := c.Submit(context.Background(), engine.ScanRequest{URL: "https://example.com", ScanType: "quick"})
	require.NoError(t, err)
	require.NotNil(t, resp.Result)

	res := normalize.Normalize(resp.Result)
	assert.False(t, res.Malformed)
	assert.Len(t, res.Endpoints, 3)
	assert.Equal(t, "admin", res.Endpoints[0].Path)
}

func TestClient_SubmitUnavailable(t *testing.T) {
	cfg := fastConfig()
	cfg.FailSubmissions = true
	_, c := startEngine(t, cfg)

	_, err := c.Submit(context.Background(), engine.ScanRequest{URL: "https://example.com"})
	assert.ErrorIs(t, err, model.ErrEngineUnavailable)
}

func TestClient_SubmitWithoutJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()
	c, err := engine.New(engine.Config{BaseURL: srv.URL}, nil, nil)
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), engine.ScanRequest{URL: "https://example.com"})
	assert.ErrorIs(t, err, model.ErrEngineUnavailable)
}

func TestClient_SubmitAcceptsJobIDVariants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jobId":"abc","result":{"data":{"matches":[]}}}`))
	}))
	defer srv.Close()
	c, err := engine.New(engine.Config{BaseURL: srv.URL}, nil, nil)
	require.NoError(t, err)

	resp, err := c.Submit(context.Background(), engine.ScanRequest{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.JobID)
	assert.JSONEq(t, `{"data":{"matches":[]}}`, string(resp.Result))
}

func TestClient_UnknownJob(t *testing.T) {
	_, c := startEngine(t, fastConfig())

	_, err := c.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, engine.ErrUnknownJob)
	assert.False(t, errors.Is(err, model.ErrEngineUnavailable))

	assert.ErrorIs(t, c.Stop(context.Background(), "missing"), engine.ErrUnknownJob)
}

func TestClient_EngineDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := engine.New(engine.Config{BaseURL: url, RequestTimeout: time.Second}, nil, nil)
	require.NoError(t, err)
	_, err = c.Status(context.Background(), "j1")
	assert.ErrorIs(t, err, model.ErrEngineUnavailable)
}

func TestClient_Stop(t *testing.T) {
	cfg := fastConfig()
	cfg.StepInterval = 200 * time.Millisecond
	dev, c := startEngine(t, cfg)
	ctx := context.Background()

	resp, err := c.Submit(ctx, engine.ScanRequest{URL: "https://example.com"})
	require.NoError(t, err)
	require.NoError(t, c.Stop(ctx, resp.JobID))
	assert.Equal(t, 1, dev.Stops())

	require.Eventually(t, func() bool {
		ev, err := c.Poll(ctx, resp.JobID)
		return err == nil && ev.Phase == model.PhaseErrored && ev.Reason == model.ReasonCanceled
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSubscription_StreamsToCompletion(t *testing.T) {
	cfg := fastConfig()
	cfg.StepInterval = 40 * time.Millisecond
	_, c := startEngine(t, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := c.Submit(ctx, engine.ScanRequest{URL: "https://example.com"})
	require.NoError(t, err)

	sub, err := c.Subscribe(ctx, resp.JobID)
	require.NoError(t, err)
	defer sub.Close()

	sawDiscovery := false
	for {
		ev, err := sub.Next()
		require.NoError(t, err)
		assert.Equal(t, model.SourcePush, ev.Source)
		if ev.Phase == model.PhaseDiscovering {
			sawDiscovery = true
		}
		if ev.Phase == model.PhaseFinished && ev.Result != nil {
			break
		}
	}
	assert.True(t, sawDiscovery)
}

func TestSubscription_CloseUnblocksNext(t *testing.T) {
	cfg := fastConfig()
	cfg.StepInterval = time.Second
	_, c := startEngine(t, cfg)
	ctx := context.Background()

	resp, err := c.Submit(ctx, engine.ScanRequest{URL: "https://example.com"})
	require.NoError(t, err)
	sub, err := c.Subscribe(ctx, resp.JobID)
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		for {
			if _, err := sub.Next(); err != nil {
				errs <- err
				return
			}
		}
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, sub.Close())
	assert.NoError(t, sub.Close())

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestSubscription_DroppedStream(t *testing.T) {
	cfg := fastConfig()
	cfg.DropStreams = true
	_, c := startEngine(t, cfg)
	ctx := context.Background()

	resp, err := c.Submit(ctx, engine.ScanRequest{URL: "https://example.com"})
	require.NoError(t, err)
	sub, err := c.Subscribe(ctx, resp.JobID)
	require.NoError(t, err)
	defer sub.Close()

	_, err = sub.Next()
	assert.Error(t, err)
}
