package devengine

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/Vicaadrn/web-scanner-project/internal/engine"
)

func newTestEngine(t *testing.T, mutate func(*Config)) (*Engine, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StepInterval = 5 * time.Millisecond
	cfg.Discoveries = 2
	if mutate != nil {
		mutate(&cfg)
	}
	e := New(cfg, nil)
	srv := httptest.NewServer(e.Handler())
	t.Cleanup(func() {
		e.Close()
		srv.Close()
	})
	return e, srv
}

func submit(t *testing.T, srv *httptest.Server, body string) (int, map[string]jsontext.Value) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/scans", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]jsontext.Value
	_ = json.UnmarshalRead(resp.Body, &out)
	return resp.StatusCode, out
}

func TestHandleScan_RejectsMissingURL(t *testing.T) {
	_, srv := newTestEngine(t, nil)
	status, _ := submit(t, srv, `{"scan_type":"quick"}`)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestHandleScan_RunsToCompletion(t *testing.T) {
	e, srv := newTestEngine(t, nil)
	status, out := submit(t, srv, `{"url":"https://example.com","scan_type":"quick"}`)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var id string
	if err := json.Unmarshal(out["scan_id"], &id); err != nil || id == "" {
		t.Fatalf("missing scan_id in %v", out)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		s, ok := e.Snapshot(id)
		if !ok {
			t.Fatalf("job %s not found", id)
		}
		if s.Status == "completed" {
			if s.Progress != 100 || len(s.Result) == 0 {
				t.Fatalf("unexpected final snapshot %+v", s)
			}
			if s.Vulnerabilities != len(scriptedFindings) {
				t.Errorf("expected %d vulnerabilities, got %d", len(scriptedFindings), s.Vulnerabilities)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish, last snapshot %+v", s)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if e.Submissions() != 1 {
		t.Errorf("expected 1 submission, got %d", e.Submissions())
	}
}

func TestHandleScan_Synchronous(t *testing.T) {
	_, srv := newTestEngine(t, func(c *Config) { c.Synchronous = true })
	_, out := submit(t, srv, `{"url":"https://example.com"}`)

	var inner string
	if err := json.Unmarshal(out["output"], &inner); err != nil {
		t.Fatalf("output is not a JSON string: %v", err)
	}
	if !strings.Contains(inner, `"matches"`) {
		t.Errorf("output does not embed the matches: %s", inner)
	}
}

func TestHandleScan_FailSubmissions(t *testing.T) {
	_, srv := newTestEngine(t, func(c *Config) { c.FailSubmissions = true })
	status, _ := submit(t, srv, `{"url":"https://example.com"}`)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
}

func TestHandleStatus_Unknown(t *testing.T) {
	_, srv := newTestEngine(t, nil)
	resp, err := http.Get(srv.URL + "/api/status?id=nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestFailJobs_EndsInError(t *testing.T) {
	e, srv := newTestEngine(t, func(c *Config) { c.FailJobs = true })
	_, out := submit(t, srv, `{"url":"https://example.com"}`)
	var id string
	_ = json.Unmarshal(out["scan_id"], &id)

	deadline := time.Now().Add(3 * time.Second)
	for {
		s, _ := e.Snapshot(id)
		if s.Status == "error" {
			if s.Error == "" {
				t.Error("expected an error message")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not fail, last snapshot %+v", s)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestResult_IsDoubleEncoded(t *testing.T) {
	v := Result("https://example.com/", 10)
	if !bytes.HasPrefix(v, []byte(`"`)) {
		t.Fatalf("expected a JSON string, got %s", v)
	}
	var inner string
	if err := json.Unmarshal(v, &inner); err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Data struct {
			Matches []struct {
				URL string `json:"url"`
			} `json:"matches"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(inner), &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Data.Matches) != 10 {
		t.Fatalf("expected 10 matches, got %d", len(doc.Data.Matches))
	}
	if doc.Data.Matches[8].URL != "https://example.com/admin1" {
		t.Errorf("unexpected generated path %q", doc.Data.Matches[8].URL)
	}
}

func TestStateMessage(t *testing.T) {
	msg := stateMessage(engine.StatusSnapshot{ID: "j1", Phase: "Init"})
	if msg.Type != engine.MessageState {
		t.Fatalf("unexpected type %q", msg.Type)
	}
	if !strings.Contains(string(msg.Data), `"phase":"Init"`) {
		t.Errorf("unexpected data %s", msg.Data)
	}
}

func waitCompleted(t *testing.T, e *Engine, id string) engine.StatusSnapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		s, ok := e.Snapshot(id)
		if ok && s.Status == "completed" {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s did not complete, last snapshot %+v", id, s)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
