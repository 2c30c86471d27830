// Package client is the caller-side session client of the scan service. It
// submits scans, follows them over polling and the websocket stream at the
// same time, and reports changes to registered observers.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/gorilla/websocket"
	"golang.org/x/net/publicsuffix"

	"github.com/Vicaadrn/web-scanner-project/internal/logging"
	"github.com/Vicaadrn/web-scanner-project/internal/model"
	"github.com/Vicaadrn/web-scanner-project/internal/reconcile"
)

const maxBody = 16 << 20

// APIError is an unexpected answer from the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("service returned %d: %s", e.Status, e.Message)
}

type Config struct {
	BaseURL string
	// Token is an optional bearer credential.
	Token          string
	RequestTimeout time.Duration
	PollInterval   time.Duration
	// Timeout is the inactivity window while watching a scan.
	Timeout time.Duration
	// ResultGrace bounds the wait for a result once a watched scan
	// finished without one.
	ResultGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:8080",
		RequestTimeout: 30 * time.Second,
		PollInterval:   reconcile.DefaultPollInterval,
		Timeout:        reconcile.DefaultClientTimeout,
		ResultGrace:    reconcile.DefaultResultGrace,
	}
}

// Client talks to one scan service. The anonymous session cookie is kept in
// its cookie jar across calls.
type Client struct {
	cfg    Config
	base   *url.URL
	http   *http.Client
	dialer *websocket.Dialer
	logger logging.Logger
	now    func() time.Time

	obsMu        sync.RWMutex
	observers    map[int]Observer
	nextObserver int
	loggedIn     *bool
}

// New builds a client. httpClient may be nil; a client without a cookie jar
// gets one.
func New(cfg Config, logger logging.Logger, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid service url %q", cfg.BaseURL)
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = reconcile.DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = reconcile.DefaultClientTimeout
	}

	if httpClient == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	} else {
		cp := *httpClient
		httpClient = &cp
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}

	return &Client{
		cfg:  cfg,
		base: base,
		http: httpClient,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
			Jar:              httpClient.Jar,
		},
		logger:    logger.With(logging.Component("client")),
		now:       time.Now,
		observers: make(map[int]Observer),
	}, nil
}

// Submit asks the service to scan req.URL. A refused anonymous submission
// returns *model.QuotaExceededError and is announced as AuthRequired.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode submit request: %w", err)
	}
	var out SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/scans", nil, body, &out); err != nil {
		var quotaErr *model.QuotaExceededError
		if errors.As(err, &quotaErr) {
			c.publish(AuthRequired{ScanCount: quotaErr.Count, MaxFreeScans: quotaErr.Ceiling})
		}
		return nil, err
	}
	c.noteLogin(out.ScanInfo.IsLoggedIn, nil)
	c.logger.Info("scan submitted",
		logging.Field{Key: "job_id", Value: out.JobID},
		logging.Field{Key: "target", Value: req.URL})
	return &out, nil
}

// Status fetches the service's reconciled view of a scan.
func (c *Client) Status(ctx context.Context, jobID string) (*Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodGet, "/api/scans/"+url.PathEscape(jobID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns the caller's recent scans, newest first.
func (c *Client) List(ctx context.Context, limit int) ([]Session, error) {
	var q url.Values
	if limit > 0 {
		q = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	var out []Session
	if err := c.do(ctx, http.MethodGet, "/api/scans", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Cancel stops a scan owned by the caller.
func (c *Client) Cancel(ctx context.Context, jobID string) (*Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodDelete, "/api/scans/"+url.PathEscape(jobID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me reports who the service thinks the caller is. The user is nil for
// anonymous callers.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var out meResponse
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, nil, &out); err != nil {
		return nil, err
	}
	c.noteLogin(out.IsLoggedIn, out.User)
	return out.User, nil
}

func (c *Client) url(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
		return nil
	}
	return responseError(resp.StatusCode, raw)
}

// responseError maps an error answer back onto the model sentinels.
func responseError(status int, raw []byte) error {
	var e errorResponse
	_ = json.Unmarshal(raw, &e)
	msg := e.Error
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized && e.RequiresLogin:
		return &model.QuotaExceededError{Count: e.ScanCount, Ceiling: e.MaxFreeScans}
	case status == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", model.ErrInvalidRequest, msg)
	case status == http.StatusNotFound:
		return model.ErrSessionNotFound
	case status == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", model.ErrEngineUnavailable, msg)
	}
	return &APIError{Status: status, Message: msg}
}
