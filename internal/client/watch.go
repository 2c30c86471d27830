package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Vicaadrn/web-scanner-project/internal/engine"
	"github.com/Vicaadrn/web-scanner-project/internal/logging"
	"github.com/Vicaadrn/web-scanner-project/internal/model"
	"github.com/Vicaadrn/web-scanner-project/internal/reconcile"
)

// Watch follows a scan until it is terminal, the inactivity window elapses
// or ctx ends, and returns the last reconciled state. Polling and the
// websocket stream run side by side and feed one reducer; every change is
// published as StateChanged. Leaving Watch never cancels the scan.
func (c *Client) Watch(ctx context.Context, jobID string) (model.ScanState, error) {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := c.logger.With(logging.Field{Key: "job_id", Value: jobID})
	events := make(chan model.PhaseEvent, 32)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return reconcile.Poll(gctx, c.cfg.PollInterval, func(ctx context.Context) (model.PhaseEvent, error) {
			s, err := c.Status(ctx, jobID)
			if err != nil {
				return model.PhaseEvent{}, err
			}
			return s.Event(model.SourcePoll, c.now()), nil
		}, events, logger)
	})
	g.Go(func() error {
		return reconcile.Push(gctx, func(ctx context.Context) (reconcile.Stream, error) {
			s, err := c.stream(ctx, jobID)
			if err != nil {
				return nil, err
			}
			return s, nil
		}, events, logger)
	})

	var final model.ScanState
	g.Go(func() error {
		loop := &reconcile.Loop{
			Timeout:     c.cfg.Timeout,
			ResultGrace: c.cfg.ResultGrace,
			Logger:      logger,
			OnChange: func(state model.ScanState) {
				c.publish(StateChanged{JobID: jobID, State: state})
			},
		}
		final = loop.Run(gctx, model.NewPendingState(jobID, c.now()), events)
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Warn("watch loop failed", logging.Err(err))
	}

	switch {
	case final.Phase == model.PhaseErrored && final.Reason == model.ReasonTimeout:
		return final, model.ErrTimeout
	case !final.Phase.IsTerminal() && parent.Err() != nil:
		return final, parent.Err()
	}
	return final, nil
}

// scanStream is the service's websocket for one scan.
type scanStream struct {
	jobID  string
	conn   *websocket.Conn
	logger logging.Logger
	now    func() time.Time

	done      chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex
}

func (c *Client) stream(ctx context.Context, jobID string) (*scanStream, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/scans/" + url.PathEscape(jobID)

	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusNotFound {
				return nil, model.ErrSessionNotFound
			}
		}
		return nil, fmt.Errorf("dial scan stream: %w", err)
	}

	s := &scanStream{jobID: jobID, conn: conn, logger: c.logger, now: c.now, done: make(chan struct{})}
	_ = conn.SetReadDeadline(time.Now().Add(engine.PongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(engine.PongWait))
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(engine.WriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// Next returns the next state frame as a phase event.
func (s *scanStream) Next() (model.PhaseEvent, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return model.PhaseEvent{}, err
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(engine.PongWait))

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "state" {
			s.logger.Debug("skipping stream frame",
				logging.Field{Key: "job_id", Value: s.jobID},
				logging.Field{Key: "type", Value: msg.Type})
			continue
		}
		return msg.Data.Event(model.SourcePush, s.now()), nil
	}
}

// Close is safe to call more than once and never cancels the scan.
func (s *scanStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(engine.WriteWait))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}
