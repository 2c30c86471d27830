// Package engine talks to the remote scanning engine: job submission,
// status snapshots, cancellation and the websocket event stream.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/Vicaadrn/web-scanner-project/internal/logging"
	"github.com/Vicaadrn/web-scanner-project/internal/model"
)

// ErrUnknownJob is returned when the engine has no record of a job id.
var ErrUnknownJob = errors.New("engine does not know this job")

// maxBody bounds engine responses, results included.
const maxBody = 32 << 20

// Config holds connection settings for the engine.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	// RateLimit is the sustained outbound request rate per second; zero
	// disables limiting.
	RateLimit float64
	Burst     int
}

func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:8080",
		RequestTimeout: 30 * time.Second,
		RateLimit:      20,
		Burst:          40,
	}
}

// Client is an HTTP and websocket client for one engine.
type Client struct {
	base    *url.URL
	http    *http.Client
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	logger  logging.Logger
	now     func() time.Time
}

// SubmitResponse is the engine's answer to a submission. Result is set when
// the engine ran the scan synchronously.
type SubmitResponse struct {
	JobID  string
	Result []byte
}

// New builds a client. httpClient may be nil.
func New(cfg Config, logger logging.Logger, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid engine base url %q", cfg.BaseURL)
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	if httpClient == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	componentLogger := logger.With(logging.Component("engine"))
	componentLogger.Info("created engine client",
		logging.Field{Key: "base_url", Value: base.String()},
		logging.Field{Key: "timeout", Value: httpClient.Timeout.String()})

	return &Client{
		base:    base,
		http:    httpClient,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		limiter: limiter,
		logger:  componentLogger,
		now:     time.Now,
	}, nil
}

// Submit starts a scan. Transport failures, non-2xx answers and answers
// without a job id are reported as model.ErrEngineUnavailable. Submission
// is never retried here.
func (c *Client) Submit(ctx context.Context, req ScanRequest) (*SubmitResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode scan request: %w", err)
	}
	raw, err := c.do(ctx, http.MethodPost, "/api/scans", nil, body)
	if err != nil {
		return nil, err
	}

	var out map[string]jsontext.Value
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode submit response: %v", model.ErrEngineUnavailable, err)
	}
	resp := &SubmitResponse{}
	for _, k := range []string{"scan_id", "job_id", "jobId", "id"} {
		if v, ok := out[k]; ok {
			var s string
			if json.Unmarshal(v, &s) == nil && s != "" {
				resp.JobID = s
				break
			}
		}
	}
	if resp.JobID == "" {
		return nil, fmt.Errorf("%w: submit response has no job id", model.ErrEngineUnavailable)
	}
	for _, k := range []string{"result", "output"} {
		if v, ok := out[k]; ok {
			if b := resultBytes(v); b != nil {
				resp.Result = b
				break
			}
		}
	}
	c.logger.Info("scan submitted",
		logging.Field{Key: "job_id", Value: resp.JobID},
		logging.Field{Key: "target", Value: req.URL},
		logging.Field{Key: "synchronous", Value: resp.Result != nil})
	return resp, nil
}

// Status fetches the current snapshot of a job.
func (c *Client) Status(ctx context.Context, jobID string) (StatusSnapshot, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/status", url.Values{"id": {jobID}}, nil)
	if err != nil {
		return StatusSnapshot{}, err
	}
	var s StatusSnapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return StatusSnapshot{}, fmt.Errorf("%w: decode status: %v", model.ErrEngineUnavailable, err)
	}
	return s, nil
}

// Poll fetches a snapshot and translates it into a phase event.
func (c *Client) Poll(ctx context.Context, jobID string) (model.PhaseEvent, error) {
	s, err := c.Status(ctx, jobID)
	if err != nil {
		return model.PhaseEvent{}, err
	}
	return SnapshotEvent(jobID, model.SourcePoll, s, c.now()), nil
}

// Stop asks the engine to cancel a job.
func (c *Client) Stop(ctx context.Context, jobID string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/scans/stop", url.Values{"id": {jobID}}, nil)
	if err != nil {
		return err
	}
	c.logger.Info("scan stop requested", logging.Field{Key: "job_id", Value: jobID})
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("sending engine request",
		logging.Field{Key: "method", Value: method},
		logging.Field{Key: "url", Value: u.String()})

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("engine request failed",
			logging.Field{Key: "method", Value: method},
			logging.Field{Key: "url", Value: u.String()},
			logging.Err(err))
		return nil, fmt.Errorf("%w: %v", model.ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", model.ErrEngineUnavailable, err)
	}
	if resp.StatusCode == http.StatusNotFound && path != "/api/scans" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, query.Get("id"))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("engine returned error status",
			logging.Field{Key: "method", Value: method},
			logging.Field{Key: "url", Value: u.String()},
			logging.Field{Key: "status", Value: resp.StatusCode})
		return nil, fmt.Errorf("%w: %s %s returned %d", model.ErrEngineUnavailable, method, path, resp.StatusCode)
	}
	return raw, nil
}
