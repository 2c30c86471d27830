package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Vicaadrn/web-scanner-project/internal/app"
	"github.com/Vicaadrn/web-scanner-project/internal/devengine"
	"github.com/Vicaadrn/web-scanner-project/internal/metrics"
	"github.com/Vicaadrn/web-scanner-project/internal/server"
	"github.com/Vicaadrn/web-scanner-project/internal/testutil"
)

func startService(t *testing.T) string {
	t.Helper()
	logger := &testutil.DummyLogger{}

	devCfg := devengine.DefaultConfig()
	devCfg.StepInterval = 10 * time.Millisecond
	devCfg.Discoveries = 2
	dev := devengine.New(devCfg, logger)
	engineSrv := httptest.NewServer(dev.Handler())

	cfg := app.DefaultConfig()
	cfg.Engine.BaseURL = engineSrv.URL
	cfg.Engine.RateLimit = 0
	cfg.Reconcile.PollInterval = 20 * time.Millisecond

	a, err := app.Assemble(cfg, testutil.NewSQLiteStore(t), metrics.New(), logger)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	s, err := server.NewServer(server.ConfigFrom(cfg.Server, logger), a)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	apiSrv := httptest.NewServer(s)
	t.Cleanup(func() {
		apiSrv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Orch.Shutdown(ctx)
		dev.Close()
		engineSrv.Close()
	})
	return apiSrv.URL
}

func TestRun_SubmitAndWatch(t *testing.T) {
	url := startService(t)
	a, err := ParseArgs([]string{"--server", url, "--poll", "50ms", "--watch", "submit", "https://example.com"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := Run(ctx, a, &out, &testutil.DummyLogger{}); err != nil {
		t.Fatalf("Run: %v\n%s", err, out.String())
	}

	got := out.String()
	for _, want := range []string{"accepted for https://example.com", "free scans left today: 2 of 3", "finished", "severity:  critical=0 high=1 medium=1"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRun_StatusUnknownJob(t *testing.T) {
	url := startService(t)
	a, err := ParseArgs([]string{"--server", url, "status", "missing"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if err := Run(context.Background(), a, &bytes.Buffer{}, nil); err == nil {
		t.Fatal("expected an error for an unknown job")
	}
}

func TestRun_MeAnonymous(t *testing.T) {
	url := startService(t)
	a, err := ParseArgs([]string{"--server", url, "me"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	var out bytes.Buffer
	if err := Run(context.Background(), a, &out, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(out.String()) != "anonymous" {
		t.Errorf("unexpected output %q", out.String())
	}
}
