// Package devengine is an in-process scanning engine that speaks the real
// engine protocol and plays a scripted pipeline. It backs local development
// and end-to-end tests.
package devengine

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Vicaadrn/web-scanner-project/internal/engine"
	"github.com/Vicaadrn/web-scanner-project/internal/logging"
)

// Engine is the development engine.
type Engine struct {
	cfg      Config
	logger   logging.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	jobs        map[string]*job
	subscribers map[string]map[*peer]struct{}
	submissions int
	stops       int
	ctx         context.Context
	cancel      context.CancelFunc
}

type job struct {
	req    engine.ScanRequest
	state  engine.StatusSnapshot
	cancel context.CancelFunc
}

type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peer) write(msg engine.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(engine.WriteWait))
	return p.conn.WriteMessage(websocket.TextMessage, b)
}

// New creates a development engine.
func New(cfg Config, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Nop{}
	}
	if cfg.StepInterval <= 0 {
		cfg.StepInterval = DefaultConfig().StepInterval
	}
	if cfg.Discoveries <= 0 {
		cfg.Discoveries = DefaultConfig().Discoveries
	}
	if cfg.CrawlDepth <= 0 {
		cfg.CrawlDepth = DefaultConfig().CrawlDepth
	}
	if cfg.CrawlTimeout <= 0 {
		cfg.CrawlTimeout = DefaultConfig().CrawlTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:         cfg,
		logger:      logger.With(logging.Component("devengine")),
		upgrader:    websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		jobs:        make(map[string]*job),
		subscribers: make(map[string]map[*peer]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Handler returns the engine's HTTP surface.
func (e *Engine) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/scans", e.handleScan)
	mux.HandleFunc("POST /api/scans/stop", e.handleStop)
	mux.HandleFunc("GET /api/status", e.handleStatus)
	mux.HandleFunc("GET /ws", e.handleWS)
	return mux
}

// Start listens on cfg.Addr until the server fails.
func (e *Engine) Start() error {
	e.logger.Info("development engine listening", logging.Field{Key: "addr", Value: e.cfg.Addr})
	srv := &http.Server{Addr: e.cfg.Addr, Handler: e.Handler(), ReadHeaderTimeout: 10 * time.Second}
	return srv.ListenAndServe()
}

// Close stops every running job.
func (e *Engine) Close() {
	e.cancel()
}

// Submissions is the number of accepted scan submissions.
func (e *Engine) Submissions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.submissions
}

// Stops is the number of stop requests that matched a job.
func (e *Engine) Stops() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stops
}

// Snapshot returns the current state of a job.
func (e *Engine) Snapshot(id string) (engine.StatusSnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	j, ok := e.jobs[id]
	if !ok {
		return engine.StatusSnapshot{}, false
	}
	return j.state, true
}

func (e *Engine) handleScan(w http.ResponseWriter, r *http.Request) {
	if e.cfg.FailSubmissions {
		http.Error(w, "engine overloaded", http.StatusServiceUnavailable)
		return
	}
	var req engine.ScanRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil || req.URL == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	id := "scan_" + uuid.NewString()[:8]
	e.logger.Info("scan accepted",
		logging.Field{Key: "job_id", Value: id},
		logging.Field{Key: "url", Value: req.URL},
		logging.Field{Key: "scan_type", Value: req.ScanType})

	if e.cfg.Synchronous {
		e.mu.Lock()
		e.submissions++
		e.jobs[id] = &job{req: req, state: engine.StatusSnapshot{
			ID: id, Status: "completed", Phase: "Finished", Progress: 100, StartTime: time.Now(),
			Result: Result(req.URL, e.cfg.Discoveries),
		}}
		e.mu.Unlock()
		writeJSON(w, map[string]jsontext.Value{
			"scan_id": jsontext.Value(strconv.Quote(id)),
			"output":  Result(req.URL, e.cfg.Discoveries),
		})
		return
	}

	ctx, cancel := context.WithCancel(e.ctx)
	e.mu.Lock()
	e.submissions++
	e.jobs[id] = &job{req: req, cancel: cancel, state: engine.StatusSnapshot{
		ID: id, Status: "running", Phase: "Init", StartTime: time.Now(),
	}}
	e.mu.Unlock()

	go e.run(ctx, id, req)
	writeJSON(w, map[string]string{"scan_id": id})
}

func (e *Engine) handleStatus(w http.ResponseWriter, r *http.Request) {
	s, ok := e.Snapshot(r.URL.Query().Get("id"))
	if !ok {
		http.Error(w, "Scan not found", http.StatusNotFound)
		return
	}
	writeJSON(w, s)
}

func (e *Engine) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	e.mu.Lock()
	j, ok := e.jobs[id]
	if ok {
		e.stops++
	}
	e.mu.Unlock()
	if !ok {
		http.Error(w, "Scan not found", http.StatusNotFound)
		return
	}
	if j.cancel != nil {
		j.cancel()
	}
	writeJSON(w, map[string]string{"status": "stopped"})
}

func (e *Engine) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Warn("websocket upgrade failed", logging.Err(err))
		return
	}
	if e.cfg.DropStreams {
		_ = conn.Close()
		return
	}

	p := &peer{conn: conn}
	e.mu.Lock()
	if e.subscribers[id] == nil {
		e.subscribers[id] = make(map[*peer]struct{})
	}
	e.subscribers[id][p] = struct{}{}
	current, known := e.jobs[id]
	var snapshot engine.StatusSnapshot
	if known {
		snapshot = current.state
	}
	e.mu.Unlock()

	if known {
		_ = p.write(stateMessage(snapshot))
	}

	_ = conn.SetReadDeadline(time.Now().Add(engine.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(engine.PongWait))
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(engine.PingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(engine.WriteWait))
				p.writeMu.Unlock()
				if err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	close(done)
	e.mu.Lock()
	delete(e.subscribers[id], p)
	e.mu.Unlock()
	_ = conn.Close()
}

// update mutates a job's snapshot and broadcasts it as a state message.
func (e *Engine) update(id string, mutate func(*engine.StatusSnapshot)) {
	e.mu.Lock()
	j, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	mutate(&j.state)
	snapshot := j.state
	e.mu.Unlock()
	e.broadcast(id, stateMessage(snapshot))
}

func (e *Engine) emit(id string, payload engine.EventPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	e.broadcast(id, engine.Message{Type: engine.MessageEvent, Data: data})
}

func (e *Engine) broadcast(id string, msg engine.Message) {
	e.mu.RLock()
	peers := make([]*peer, 0, len(e.subscribers[id]))
	for p := range e.subscribers[id] {
		peers = append(peers, p)
	}
	e.mu.RUnlock()
	for _, p := range peers {
		if err := p.write(msg); err != nil {
			e.logger.Debug("stream write failed",
				logging.Field{Key: "job_id", Value: id}, logging.Err(err))
			_ = p.conn.Close()
		}
	}
}

func stateMessage(s engine.StatusSnapshot) engine.Message {
	data, _ := json.Marshal(s)
	return engine.Message{Type: engine.MessageState, Data: jsontext.Value(data)}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.MarshalWrite(w, v); err != nil {
		http.Error(w, fmt.Sprintf("encode: %v", err), http.StatusInternalServerError)
	}
}
