package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/gorilla/websocket"

	"github.com/Vicaadrn/web-scanner-project/internal/logging"
	"github.com/Vicaadrn/web-scanner-project/internal/model"
)

// Heartbeat timings shared by every websocket in the system.
const (
	WriteWait  = 10 * time.Second
	PongWait   = 60 * time.Second
	PingPeriod = (PongWait * 9) / 10
)

// Subscription is an open event stream for one job. Closing it never
// cancels the job.
type Subscription struct {
	jobID  string
	conn   *websocket.Conn
	logger logging.Logger
	now    func() time.Time

	done      chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex
}

// Subscribe opens the websocket stream for jobID.
func (c *Client) Subscribe(ctx context.Context, jobID string) (*Subscription, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"id": {jobID}}.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
			resp.Body.Close()
		}
		c.logger.Debug("engine stream dial failed",
			logging.Field{Key: "job_id", Value: jobID},
			logging.Field{Key: "status", Value: status},
			logging.Err(err))
		return nil, fmt.Errorf("%w: dial stream: %v", model.ErrEngineUnavailable, err)
	}

	s := &Subscription{jobID: jobID, conn: conn, logger: c.logger, now: c.now, done: make(chan struct{})}
	_ = conn.SetReadDeadline(time.Now().Add(PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(PongWait))
	})
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(PongWait))
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(WriteWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	// Close the connection when ctx ends so a blocked Next returns.
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// Next blocks until the stream yields an event the reconciler can use.
// Frames that cannot be decoded or carry nothing useful are skipped.
func (s *Subscription) Next() (model.PhaseEvent, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return model.PhaseEvent{}, err
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(PongWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("undecodable stream frame",
				logging.Field{Key: "job_id", Value: s.jobID},
				logging.Err(err))
			continue
		}
		if ev, ok := TranslateMessage(s.jobID, msg, s.now()); ok {
			return ev, nil
		}
	}
}

// Close shuts the stream down. It is safe to call more than once.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(WriteWait))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}
