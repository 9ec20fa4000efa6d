package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marginalia/internal/api"
	"marginalia/internal/config"
	"marginalia/internal/contextpack"
	"marginalia/internal/events"
	"marginalia/internal/listening"
	"marginalia/internal/logging"
	"marginalia/internal/processing"
	"marginalia/internal/scheduler"
	"marginalia/internal/services"
	"marginalia/internal/store"
)

// apiServer owns the HTTP listener. A nil apiServer (empty bind address) is
// valid and does nothing.
type apiServer struct {
	bind   string
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind string, handler http.Handler, logger *slog.Logger) *apiServer {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil
	}
	return &apiServer{
		bind:   bind,
		logger: logger,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.mu.Unlock()
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) log() *slog.Logger {
	return logging.NewComponentLogger(s.logger, "api-server")
}

// contextPacker builds the reading context for a user's book.
type contextPacker interface {
	PackContext(ctx context.Context, userID, bookID, excludeSession string, tokenBudget int) contextpack.Result
}

// handlers serves the JSON API.
type handlers struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	sessions  *listening.Service
	scheduler *scheduler.Scheduler
	hub       *events.Hub
	packer    contextPacker
}

func (h *handlers) routes() http.Handler {
	router := mux.NewRouter()
	router.Use(requestIDMiddleware)
	router.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(func(next http.Handler) http.Handler {
		return authMiddleware(h.cfg.Paths.APIToken, next.ServeHTTP)
	})

	user := callerMiddleware
	v1.HandleFunc("/sessions", user(h.handleStartSession)).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}", user(h.handleGetSession)).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/transcribing", user(h.handleTranscribing)).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/synthesizing", user(h.handleSynthesizing)).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/complete", user(h.handleComplete)).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/fail", user(h.handleFail)).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/process", user(h.handleProcess)).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/events", user(h.handleSessionFeed)).Methods(http.MethodGet)
	v1.HandleFunc("/books/{bookId}/sessions", user(h.handleListForBook)).Methods(http.MethodGet)
	v1.HandleFunc("/events", user(h.handleEvents)).Methods(http.MethodGet)
	v1.HandleFunc("/context/pack", user(h.handlePack)).Methods(http.MethodPost)

	v1.HandleFunc("/admin/stuck", h.handleStuck).Methods(http.MethodGet)
	v1.HandleFunc("/admin/recover", h.handleRecover).Methods(http.MethodPost)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h.writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "not found", Code: "NotFound"})
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h.writeJSON(w, http.StatusMethodNotAllowed, api.ErrorResponse{Error: "method not allowed"})
	})
	return router
}

func (h *handlers) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req api.StartSessionRequest
	if err := api.Decode(r.Body, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	session, err := h.sessions.StartSession(r.Context(), listening.StartRequest{
		UserID:            callerFrom(r.Context()),
		BookID:            strings.TrimSpace(req.BookID),
		CapDurationMs:     req.CapDurationMs,
		WarningDurationMs: req.WarningDurationMs,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, api.SessionResponse{Session: api.FromSession(session)})
}

func (h *handlers) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Get(r.Context(), callerFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.SessionResponse{Session: api.FromSession(session)})
}

func (h *handlers) handleListForBook(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.ListForBook(r.Context(), callerFrom(r.Context()), mux.Vars(r)["bookId"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.SessionListResponse{Sessions: api.FromSessions(sessions)})
}

func (h *handlers) handleTranscribing(w http.ResponseWriter, r *http.Request) {
	var req api.TranscribingRequest
	if err := api.Decode(r.Body, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	sessionID := mux.Vars(r)["id"]
	result, err := h.sessions.MarkTranscribing(r.Context(), listening.TranscribingRequest{
		UserID:         callerFrom(r.Context()),
		SessionID:      sessionID,
		DurationMs:     req.DurationMs,
		CapReached:     req.CapReached,
		TranscriptLive: req.TranscriptLive,
		AudioURL:       req.AudioURL,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if result.ShouldScheduleWatchdog {
		h.scheduleWatchdog(r.Context(), sessionID)
	}
	h.writeJSON(w, http.StatusOK, api.TranscribingResponse{
		Session:                api.FromSession(result.Session),
		ShouldScheduleWatchdog: result.ShouldScheduleWatchdog,
	})
}

// scheduleWatchdog queues a delayed processing run. A failure only delays
// processing until the next recovery sweep, so it is logged, not returned.
func (h *handlers) scheduleWatchdog(ctx context.Context, sessionID string) {
	delay := h.cfg.WatchdogDelay()
	if err := h.scheduler.ScheduleAfter(delay, listening.OpProcessSession, sessionID); err != nil {
		logging.WarnWithContext(h.log(ctx), "failed to schedule processing watchdog", "watchdog_schedule_failed",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the recovery sweep will pick the session up"),
		)
		return
	}
	h.log(ctx).Debug("processing watchdog scheduled",
		logging.String(logging.FieldSessionID, sessionID),
		logging.Duration("delay", delay),
	)
}

func (h *handlers) handleSynthesizing(w http.ResponseWriter, r *http.Request) {
	var req api.SynthesizingRequest
	if err := api.Decode(r.Body, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	session, err := h.sessions.MarkSynthesizing(r.Context(), listening.SynthesizingRequest{
		UserID:                 callerFrom(r.Context()),
		SessionID:              mux.Vars(r)["id"],
		TranscribeLatencyMs:    req.TranscribeLatencyMs,
		TranscribeFallbackUsed: req.TranscribeFallbackUsed,
		TranscriptProvider:     req.TranscriptProvider,
		SynthesisLatencyMs:     req.SynthesisLatencyMs,
		SynthesisProvider:      req.SynthesisProvider,
		DegradedMode:           req.DegradedMode,
		EstimatedCostUSD:       req.EstimatedCostUSD,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.SessionResponse{Session: api.FromSession(session)})
}

func (h *handlers) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req api.CompleteRequest
	if err := api.Decode(r.Body, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.sessions.Complete(r.Context(), listening.CompleteRequest{
		UserID:             callerFrom(r.Context()),
		SessionID:          mux.Vars(r)["id"],
		Transcript:         req.Transcript,
		TranscriptProvider: req.TranscriptProvider,
		Synthesis:          req.Synthesis,
		EstimatedCostUSD:   req.EstimatedCostUSD,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	noteIDs := result.SynthesizedNoteIDs
	if noteIDs == nil {
		noteIDs = []string{}
	}
	h.writeJSON(w, http.StatusOK, api.CompleteResponse{
		RawNoteID:          result.RawNoteID,
		SynthesizedNoteIDs: noteIDs,
		Session:            api.FromSession(result.Session),
	})
}

func (h *handlers) handleFail(w http.ResponseWriter, r *http.Request) {
	var req api.FailRequest
	if err := api.Decode(r.Body, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	session, err := h.sessions.Fail(r.Context(), listening.FailRequest{
		UserID:      callerFrom(r.Context()),
		SessionID:   mux.Vars(r)["id"],
		Message:     req.Message,
		FailedStage: req.FailedStage,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.SessionResponse{Session: api.FromSession(session)})
}

func (h *handlers) handleProcess(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	session, err := h.sessions.Get(r.Context(), callerFrom(r.Context()), sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !processing.Processable(session.Status) {
		h.writeError(w, r, &listening.TransitionError{From: session.Status, To: listening.StatusSynthesizing})
		return
	}
	if err := h.scheduler.ScheduleAfter(0, listening.OpProcessSession, sessionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, api.ProcessResponse{Scheduled: true, SessionID: sessionID})
}

func (h *handlers) handleStuck(w http.ResponseWriter, r *http.Request) {
	query := listening.StuckQuery{}
	if all := r.URL.Query().Get("all"); all == "1" || strings.EqualFold(all, "true") {
		query.MaxRetries = -1
	}
	stuck, err := h.sessions.ListStuckSessions(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.SessionListResponse{Sessions: api.FromSessions(stuck)})
}

func (h *handlers) handleRecover(w http.ResponseWriter, r *http.Request) {
	result, err := h.sessions.RecoverStuck(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.RecoverResponse{Recovered: result.Recovered})
}

func (h *handlers) handlePack(w http.ResponseWriter, r *http.Request) {
	var req api.PackRequest
	if err := api.Decode(r.Body, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	userID := callerFrom(r.Context())
	bookID := strings.TrimSpace(req.BookID)
	if bookID == "" {
		h.writeError(w, r, listening.ErrInvalidID)
		return
	}
	book, err := h.store.GetBook(r.Context(), bookID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if book == nil || book.UserID != userID {
		h.writeError(w, r, listening.ErrBookAccessDenied)
		return
	}
	budget := req.TokenBudget
	if budget <= 0 {
		budget = h.cfg.Context.TokenBudget
	}
	packed := h.packer.PackContext(r.Context(), userID, bookID, "", budget)
	h.writeJSON(w, http.StatusOK, api.PackResponse{Context: packed, Rendered: contextpack.Render(packed)})
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := api.HealthResponse{Status: "ok", Database: "ok"}
	health, err := h.store.Health(r.Context(), time.Now().Add(-h.cfg.StuckThreshold()))
	if err != nil {
		h.log(r.Context()).Warn("health check failed", logging.Error(err))
		response.Status = "degraded"
		response.Database = "unavailable"
		h.writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	response.Sessions = map[string]int{
		"total":      health.Total,
		"active":     health.Active,
		"processing": health.Processing,
		"complete":   health.Complete,
		"failed":     health.Failed,
	}
	response.Stale = health.Stale
	h.writeJSON(w, http.StatusOK, response)
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := api.StatusForError(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(h.log(r.Context()), "request failed", "api_request_failed",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.String("error_kind", services.ErrorKind(err)),
			logging.Error(err),
		)
	}
	h.writeJSON(w, status, api.ErrorBody(err))
}

func (h *handlers) log(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, logging.NewComponentLogger(h.logger, "api-server"))
}
