package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mn-ai/mnvoice/internal/calls"
	"github.com/mn-ai/mnvoice/internal/funnel"
	"github.com/mn-ai/mnvoice/internal/logbuf"
	"github.com/mn-ai/mnvoice/internal/store"
	"github.com/mn-ai/mnvoice/pkg/protocol"
)

// LogQuerier abstracts log entry querying to avoid coupling to logbuf directly.
type LogQuerier interface {
	Query(f logbuf.Filter) []logbuf.Entry
}

// CallService is the interface the API server needs from the calls service.
type CallService interface {
	StartCall(ctx context.Context, req calls.StartRequest) (*calls.StartResult, error)
	SubmitTurn(ctx context.Context, callID, text string) (*calls.TurnResult, error)
	EndCall(ctx context.Context, callID string, status protocol.CallStatus) (*protocol.Call, error)
	GetCall(ctx context.Context, callID string) (*calls.CallDetail, error)
	ListCalls(ctx context.Context, filter store.CallFilter) ([]*protocol.Call, error)
}

// FunnelReporter produces the per-state reach counts.
type FunnelReporter interface {
	Steps(ctx context.Context) ([]funnel.Step, error)
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
	Key  string // API key for Bearer auth
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithFunnel enables the /api/funnel endpoints.
func WithFunnel(f FunnelReporter) Option {
	return func(s *Server) { s.funnel = f }
}

// WithWebhook mounts a telephony webhook handler at /api/webhook/{name}.
// The handler authenticates its own requests.
func WithWebhook(h http.Handler) Option {
	return func(s *Server) { s.webhook = h }
}

// Server is the mnvoice REST API server.
type Server struct {
	svc     CallService
	cfg     Config
	logger  *slog.Logger
	logs    LogQuerier
	funnel  FunnelReporter
	webhook http.Handler
	srv     *http.Server
}

// NewServer creates a new API server. logs may be nil.
func NewServer(svc CallService, cfg Config, logger *slog.Logger, logs LogQuerier, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logger.With("component", "api"),
		logs:   logs,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/calls/start", s.requireAuth(s.handleStartCall))
	mux.HandleFunc("POST /api/calls/{id}/user_turn", s.requireAuth(s.handleUserTurn))
	mux.HandleFunc("POST /api/calls/{id}/end", s.requireAuth(s.handleEndCall))
	mux.HandleFunc("GET /api/calls/{id}", s.requireAuth(s.handleGetCall))
	mux.HandleFunc("GET /api/calls", s.requireAuth(s.handleListCalls))
	mux.HandleFunc("GET /api/funnel", s.requireAuth(s.handleFunnel))
	mux.HandleFunc("GET /api/funnel.png", s.requireAuth(s.handleFunnelPNG))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))
	if s.webhook != nil {
		mux.Handle("POST /api/webhook/{name}", s.webhook)
	}

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	var req calls.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	res, err := s.svc.StartCall(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type userTurnRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleUserTurn(w http.ResponseWriter, r *http.Request) {
	var req userTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	res, err := s.svc.SubmitTurn(r.Context(), r.PathValue("id"), req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type endCallRequest struct {
	Status protocol.CallStatus `json:"status"`
}

func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	var req endCallRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
			return
		}
	}

	call, err := s.svc.EndCall(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	detail, err := s.svc.GetCall(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	filter := store.CallFilter{Limit: 50}
	q := r.URL.Query()
	if status := q.Get("status"); status != "" {
		cs := protocol.CallStatus(status)
		if !cs.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid status %q", status)})
			return
		}
		filter.Status = &cs
	}
	filter.LeadID = q.Get("lead_id")
	filter.Source = q.Get("source")
	if limitStr := q.Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	list, err := s.svc.ListCalls(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type funnelResponse struct {
	Steps []funnel.Step `json:"steps"`
	Chart string        `json:"chart"`
}

func (s *Server) handleFunnel(w http.ResponseWriter, r *http.Request) {
	steps, ok := s.funnelSteps(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, funnelResponse{Steps: steps, Chart: funnel.Chart(steps)})
}

func (s *Server) handleFunnelPNG(w http.ResponseWriter, r *http.Request) {
	steps, ok := s.funnelSteps(w, r)
	if !ok {
		return
	}
	png, err := funnel.PNG(steps)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (s *Server) funnelSteps(w http.ResponseWriter, r *http.Request) ([]funnel.Step, bool) {
	if s.funnel == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "funnel not configured"})
		return nil, false
	}
	steps, err := s.funnel.Steps(r.Context())
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return steps, true
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	f := logbuf.Filter{Limit: 200, MinLevel: slog.LevelDebug}
	q := r.URL.Query()
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if lvl := q.Get("level"); lvl != "" {
		if parsed, ok := logbuf.ParseLevel(lvl); ok {
			f.MinLevel = parsed
		}
	}
	if since := q.Get("since"); since != "" {
		if ms, err := strconv.ParseInt(since, 10, 64); err == nil {
			f.Since = time.UnixMilli(ms)
		}
	}
	f.CallID = q.Get("call_id")

	entries := s.logs.Query(f)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

// writeError maps service errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, calls.ErrCallNotFound), errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, calls.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, calls.ErrCallEnded):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
