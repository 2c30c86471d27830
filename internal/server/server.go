package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-json-experiment/json"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	_ "github.com/Vicaadrn/web-scanner-project/docs/swagger" // registers the OpenAPI document
	"github.com/Vicaadrn/web-scanner-project/internal/app"
	"github.com/Vicaadrn/web-scanner-project/internal/identity"
	"github.com/Vicaadrn/web-scanner-project/internal/logging"
	"github.com/Vicaadrn/web-scanner-project/internal/metrics"
	"github.com/Vicaadrn/web-scanner-project/internal/model"
	"github.com/Vicaadrn/web-scanner-project/internal/utils"
)

const maxRequestBody = 1 << 20

// Server is the HTTP + WebSocket API surface of the scan service.
type Server struct {
	cfg      Config
	app      *app.Application
	orch     *app.Orchestrator
	resolver *identity.Resolver
	metrics  *metrics.Metrics
	router   chi.Router
	handler  http.Handler
	upgrader websocket.Upgrader
	validate *validator.Validate
	logger   logging.Logger
}

// NewServer builds the router around an assembled application.
func NewServer(cfg Config, a *app.Application) (*Server, error) {
	if a == nil || a.Orch == nil {
		return nil, errors.New("server needs an assembled application")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = a.Logger
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("server")
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	r := chi.NewRouter()
	s := &Server{
		cfg:      cfg,
		app:      a,
		orch:     a.Orch,
		resolver: a.Resolver,
		metrics:  a.Metrics,
		router:   r,
		validate: validate,
		logger:   logger.With(logging.Component("server")),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.cfg.allowsOrigin(origin)
		},
	}

	s.routes()
	s.handler = otelhttp.NewHandler(r, "scanner-api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
	return s, nil
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	// CORS preflight
	r.Options("/api/scans", s.optionsHandler("GET, POST"))
	r.Options("/api/scans/status", s.optionsHandler("GET"))
	r.Options("/api/scans/{jobID}", s.optionsHandler("GET, DELETE"))
	r.Options("/api/auth/me", s.optionsHandler("GET"))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	r.Group(func(r chi.Router) {
		r.Use(s.resolver.Middleware)

		r.Post("/api/scans", s.handleSubmitScan)
		r.Get("/api/scans", s.handleListScans)
		r.Get("/api/scans/status", s.handleGetScanStatus)
		r.Get("/api/scans/{jobID}", s.handleGetScan)
		r.Delete("/api/scans/{jobID}", s.handleCancelScan)

		r.Get("/ws/scans/{jobID}", s.handleScanStream)

		r.Get("/api/auth/me", s.handleMe)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case origin != "" && s.cfg.allowsOrigin(origin):
			// Cookies carry the anonymous session, so the origin is echoed
			// instead of answering with a wildcard.
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		case origin == "" && s.cfg.allowsOrigin("*"):
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// requestLogger logs every request once it completes and records its
// latency under the matched route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			s.metrics.ObserveRequest(route, r.Method, strconv.Itoa(status), elapsed.Seconds())

			fields := []logging.Field{
				{Key: "method", Value: r.Method},
				{Key: "path", Value: r.URL.Path},
				{Key: "status", Value: status},
				{Key: "duration", Value: elapsed.String()},
				{Key: "request_id", Value: middleware.GetReqID(r.Context())},
			}
			if q := r.URL.Query(); len(q) > 0 {
				fields = append(fields, logging.Field{Key: "query", Value: q})
			}
			s.logger.Info("http_request", fields...)
		}()

		next.ServeHTTP(ww, r)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		// Websocket streams set their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.MarshalWrite(w, v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeServiceError maps orchestrator errors onto status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var quotaErr *model.QuotaExceededError
	switch {
	case errors.As(err, &quotaErr):
		writeJSON(w, http.StatusUnauthorized, QuotaErrorResponse{
			Status:        "error",
			Error:         "log in to run more scans",
			RequiresLogin: true,
			ScanCount:     quotaErr.Count,
			MaxFreeScans:  quotaErr.Ceiling,
		})
	case errors.Is(err, model.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, model.ErrSessionNotFound.Error())
	case errors.Is(err, model.ErrEngineUnavailable):
		writeError(w, http.StatusServiceUnavailable, model.ErrEngineUnavailable.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request cancelled")
	default:
		s.logger.Error("request failed",
			logging.Field{Key: "path", Value: r.URL.Path},
			logging.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func callerIdentity(r *http.Request) model.Identity {
	id, _ := identity.FromContext(r.Context())
	return id
}

// --- HTTP handlers ---

// handleHealth godoc
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} ErrorResponse
// @Router /healthz [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.app.Store.Ping(ctx); err != nil {
		s.logger.Warn("store ping failed", logging.Err(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleSubmitScan godoc
// @Summary Submit a scan
// @Description Starts a scan of the target. Anonymous callers get a limited number of scans per day.
// @Tags scans
// @Accept json
// @Produce json
// @Param request body ScanRequest true "Scan target"
// @Success 201 {object} SubmitResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} QuotaErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/scans [post]
func (s *Server) handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	var body ScanRequest
	if err := json.UnmarshalRead(http.MaxBytesReader(w, r.Body, maxRequestBody), &body); err != nil {
		s.logger.Warn("decoding scan request", logging.Err(err))
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, s.validationMessage(err))
		return
	}

	id := callerIdentity(r)
	sub, err := s.orch.Submit(r.Context(), id, app.SubmitRequest{
		Target:   body.URL,
		Tier:     body.ScanType,
		Wordlist: body.Wordlist,
		SourceIP: utils.ClientIP(r),
	})
	if err != nil {
		s.logger.Warn("submitting scan",
			logging.Field{Key: "target", Value: body.URL},
			logging.Err(err))
		s.writeServiceError(w, r, err)
		return
	}
	s.resolver.RenewCookie(w, id)

	info := ScanInfo{
		ID:           sub.Session.ID,
		IsLoggedIn:   sub.Quota.LoggedIn,
		ScanCount:    sub.Quota.ScanCount,
		MaxFreeScans: sub.Quota.MaxFreeScans,
	}
	if sub.Quota.Remaining >= 0 {
		remaining := sub.Quota.Remaining
		info.RemainingScans = &remaining
	}
	writeJSON(w, http.StatusCreated, SubmitResponse{
		Status:    "ok",
		JobID:     sub.Session.JobID,
		SessionID: sub.Session.ID,
		Session:   toSessionResponse(sub.Session),
		ScanInfo:  info,
	})
}

// handleListScans godoc
// @Summary List the caller's scans
// @Tags scans
// @Produce json
// @Param limit query int false "Maximum number of sessions"
// @Success 200 {array} SessionResponse
// @Security BearerAuth
// @Router /api/scans [get]
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if ls := r.URL.Query().Get("limit"); ls != "" {
		if v, err := strconv.Atoi(ls); err == nil && v > 0 {
			limit = v
		}
	}
	sessions, err := s.orch.ListSessions(r.Context(), callerIdentity(r), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]SessionResponse, 0, len(sessions))
	for i := range sessions {
		out = append(out, toSessionResponse(&sessions[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetScan godoc
// @Summary Get a scan's reconciled status
// @Tags scans
// @Produce json
// @Param jobID path string true "Engine job id"
// @Success 200 {object} SessionResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/scans/{jobID} [get]
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r, chi.URLParam(r, "jobID"))
}

// handleGetScanStatus godoc
// @Summary Get a scan's reconciled status by query parameter
// @Tags scans
// @Produce json
// @Param id query string true "Engine job id"
// @Success 200 {object} SessionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/scans/status [get]
func (s *Server) handleGetScanStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.URL.Query().Get("id"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	s.writeStatus(w, r, jobID)
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	sess, err := s.orch.GetStatus(r.Context(), jobID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// handleCancelScan godoc
// @Summary Cancel a scan
// @Description Stops the engine job. The session ends errored with reason canceled.
// @Tags scans
// @Produce json
// @Param jobID path string true "Engine job id"
// @Success 200 {object} SessionResponse
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/scans/{jobID} [delete]
func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	sess, err := s.orch.Cancel(r.Context(), callerIdentity(r), jobID)
	if err != nil {
		s.logger.Warn("cancelling scan",
			logging.Field{Key: "job_id", Value: jobID},
			logging.Err(err))
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.Info("cancelled scan", logging.Field{Key: "job_id", Value: jobID})
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// handleMe godoc
// @Summary Describe the caller
// @Tags auth
// @Produce json
// @Success 200 {object} MeResponse
// @Security BearerAuth
// @Router /api/auth/me [get]
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := callerIdentity(r)
	resp := MeResponse{IsLoggedIn: id.IsAuthenticated()}
	if id.IsAuthenticated() {
		resp.User = &UserResponse{ID: id.PrincipalID, Email: id.Email}
	}
	writeJSON(w, http.StatusOK, resp)
}
