package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-json-experiment/json"
	"github.com/gorilla/websocket"

	"github.com/Vicaadrn/web-scanner-project/internal/engine"
	"github.com/Vicaadrn/web-scanner-project/internal/logging"
	"github.com/Vicaadrn/web-scanner-project/internal/model"
)

const streamMessageState = "state"

// handleScanStream godoc
// @Summary Stream a scan's state
// @Description Upgrades to a websocket that sends the current state, every change, and the final state before closing. Disconnecting never cancels the scan.
// @Tags scans
// @Param jobID path string true "Engine job id"
// @Success 101 {object} StreamMessage
// @Failure 404 {object} ErrorResponse
// @Router /ws/scans/{jobID} [get]
func (s *Server) handleScanStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	// Subscribe before reading the current state so no change falls in
	// between.
	updates, unsubscribe := s.orch.Subscribe(jobID)
	defer unsubscribe()

	sess, err := s.orch.GetStatus(r.Context(), jobID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Err(err))
		return
	}
	defer conn.Close()

	s.metrics.StreamOpened()
	defer s.metrics.StreamClosed()

	logger := s.logger.With(logging.Field{Key: "job_id", Value: jobID})
	logger.Debug("stream opened")

	// The read loop only services pongs and notices the caller leaving.
	left := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(engine.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(engine.PongWait))
	})
	go func() {
		defer close(left)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeStreamState(conn, sess); err != nil {
		return
	}
	if sess.Phase.IsTerminal() {
		closeStream(conn)
		return
	}

	ticker := time.NewTicker(engine.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case state, ok := <-updates:
			if !ok {
				// The watcher stopped; the store holds the final state.
				ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
				final, err := s.orch.GetStatus(ctx, jobID)
				cancel()
				if err == nil {
					_ = writeStreamState(conn, final)
				}
				closeStream(conn)
				return
			}
			sess.ScanState = state
			if err := writeStreamState(conn, sess); err != nil {
				logger.Debug("stream write failed", logging.Err(err))
				return
			}
			if state.Phase.IsTerminal() {
				closeStream(conn)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(engine.WriteWait)); err != nil {
				return
			}
		case <-left:
			logger.Debug("stream closed by caller")
			return
		}
	}
}

func writeStreamState(conn *websocket.Conn, sess *model.ScanSession) error {
	b, err := json.Marshal(StreamMessage{Type: streamMessageState, Data: toSessionResponse(sess)})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(engine.WriteWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(engine.WriteWait))
}
