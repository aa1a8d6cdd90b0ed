package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mn-ai/mnvoice/internal/calls"
	"github.com/mn-ai/mnvoice/internal/funnel"
	"github.com/mn-ai/mnvoice/internal/logbuf"
	"github.com/mn-ai/mnvoice/internal/store"
	"github.com/mn-ai/mnvoice/pkg/protocol"
)

// mockCallService implements CallService for testing.
type mockCallService struct {
	calls   map[string]*protocol.Call
	started []calls.StartRequest
	turns   []string
	filter  store.CallFilter
	err     error
}

func newMockService() *mockCallService {
	return &mockCallService{calls: map[string]*protocol.Call{
		"c_1": {ID: "c_1", LeadID: "l_1", Status: protocol.CallInProgress, CurrentState: protocol.StateAskBudget},
	}}
}

func (m *mockCallService) StartCall(_ context.Context, req calls.StartRequest) (*calls.StartResult, error) {
	m.started = append(m.started, req)
	if m.err != nil {
		return nil, m.err
	}
	if req.FromPhone == "" {
		return nil, fmt.Errorf("calls: start: %w", calls.ErrInvalidInput)
	}
	return &calls.StartResult{CallID: "c_2", LeadID: "l_1", Prompt: "Namaste!", State: protocol.StateAskLanguage}, nil
}

func (m *mockCallService) SubmitTurn(_ context.Context, callID, text string) (*calls.TurnResult, error) {
	m.turns = append(m.turns, text)
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.calls[callID]
	if !ok {
		return nil, fmt.Errorf("calls: %s: %w", callID, calls.ErrCallNotFound)
	}
	if !c.Active() {
		return nil, fmt.Errorf("calls: turn %s: %w", callID, calls.ErrCallEnded)
	}
	return &calls.TurnResult{CallID: callID, Reply: "When are you planning?", State: protocol.StateAskTimeline, Status: c.Status}, nil
}

func (m *mockCallService) EndCall(_ context.Context, callID string, status protocol.CallStatus) (*protocol.Call, error) {
	c, ok := m.calls[callID]
	if !ok {
		return nil, fmt.Errorf("calls: %s: %w", callID, calls.ErrCallNotFound)
	}
	if status == "" {
		status = protocol.CallEnded
	}
	if status != protocol.CallEnded && status != protocol.CallFailed {
		return nil, fmt.Errorf("calls: end: %w", calls.ErrInvalidInput)
	}
	c.End(status, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	return c, nil
}

func (m *mockCallService) GetCall(_ context.Context, callID string) (*calls.CallDetail, error) {
	c, ok := m.calls[callID]
	if !ok {
		return nil, fmt.Errorf("calls: %s: %w", callID, calls.ErrCallNotFound)
	}
	return &calls.CallDetail{Call: c, Snapshot: protocol.NewSnapshot(c.LeadID, time.Now()), Events: []protocol.Event{}}, nil
}

func (m *mockCallService) ListCalls(_ context.Context, filter store.CallFilter) ([]*protocol.Call, error) {
	m.filter = filter
	if m.err != nil {
		return nil, m.err
	}
	var out []*protocol.Call
	for _, c := range m.calls {
		out = append(out, c)
	}
	return out, nil
}

type mockFunnel struct {
	steps []funnel.Step
}

func (m *mockFunnel) Steps(context.Context) ([]funnel.Step, error) { return m.steps, nil }

func newTestServer(svc CallService, key string, opts ...Option) *Server {
	return NewServer(svc, Config{Host: "127.0.0.1", Port: 0, Key: key}, nil, nil, opts...)
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv := newTestServer(newMockService(), "")
	w := do(srv, "GET", "/api/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestStartCall(t *testing.T) {
	svc := newMockService()
	srv := newTestServer(svc, "")
	w := do(srv, "POST", "/api/calls/start", `{"from_phone":"+911234567890"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res calls.StartResult
	json.NewDecoder(w.Body).Decode(&res)
	if res.CallID != "c_2" || res.Prompt != "Namaste!" || res.State != protocol.StateAskLanguage {
		t.Errorf("result = %+v", res)
	}
	if len(svc.started) != 1 || svc.started[0].Source != "api" {
		t.Errorf("started = %+v", svc.started)
	}
}

func TestStartCall_Invalid(t *testing.T) {
	srv := newTestServer(newMockService(), "")

	if w := do(srv, "POST", "/api/calls/start", `not json`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON: status = %d, want 400", w.Code)
	}
	if w := do(srv, "POST", "/api/calls/start", `{"from_phone":""}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty phone: status = %d, want 400", w.Code)
	}
}

func TestUserTurn(t *testing.T) {
	svc := newMockService()
	srv := newTestServer(svc, "")
	w := do(srv, "POST", "/api/calls/c_1/user_turn", `{"text":"8 lakhs"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res calls.TurnResult
	json.NewDecoder(w.Body).Decode(&res)
	if res.Reply != "When are you planning?" || res.State != protocol.StateAskTimeline {
		t.Errorf("result = %+v", res)
	}
	if len(svc.turns) != 1 || svc.turns[0] != "8 lakhs" {
		t.Errorf("turns = %v", svc.turns)
	}
}

func TestUserTurn_Errors(t *testing.T) {
	svc := newMockService()
	svc.calls["c_done"] = &protocol.Call{ID: "c_done", Status: protocol.CallEnded}
	srv := newTestServer(svc, "")

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"empty text", "/api/calls/c_1/user_turn", `{"text":"  "}`, http.StatusBadRequest},
		{"invalid JSON", "/api/calls/c_1/user_turn", `{`, http.StatusBadRequest},
		{"unknown call", "/api/calls/c_nope/user_turn", `{"text":"hi"}`, http.StatusNotFound},
		{"ended call", "/api/calls/c_done/user_turn", `{"text":"hi"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(srv, "POST", tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestUserTurn_InternalError(t *testing.T) {
	svc := newMockService()
	svc.err = errors.New("database is locked")
	srv := newTestServer(svc, "")
	w := do(srv, "POST", "/api/calls/c_1/user_turn", `{"text":"hi"}`)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "locked") {
		t.Errorf("internal error leaked: %s", w.Body.String())
	}
}

func TestEndCall(t *testing.T) {
	svc := newMockService()
	srv := newTestServer(svc, "")

	w := do(srv, "POST", "/api/calls/c_1/end", `{"status":"failed"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var c protocol.Call
	json.NewDecoder(w.Body).Decode(&c)
	if c.Status != protocol.CallFailed || c.EndedAt == nil {
		t.Errorf("call = %+v", c)
	}

	svc.calls["c_3"] = &protocol.Call{ID: "c_3", Status: protocol.CallInProgress}
	if w := do(srv, "POST", "/api/calls/c_3/end", ""); w.Code != http.StatusOK {
		t.Errorf("no body: status = %d", w.Code)
	}
	if svc.calls["c_3"].Status != protocol.CallEnded {
		t.Errorf("default status = %s", svc.calls["c_3"].Status)
	}

	if w := do(srv, "POST", "/api/calls/c_1/end", `{"status":"in_progress"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad status: status = %d, want 400", w.Code)
	}
}

func TestGetCall(t *testing.T) {
	srv := newTestServer(newMockService(), "")

	w := do(srv, "GET", "/api/calls/c_1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var detail calls.CallDetail
	json.NewDecoder(w.Body).Decode(&detail)
	if detail.Call == nil || detail.Call.ID != "c_1" || detail.Snapshot == nil {
		t.Errorf("detail = %+v", detail)
	}

	if w := do(srv, "GET", "/api/calls/ghost", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestListCalls(t *testing.T) {
	svc := newMockService()
	srv := newTestServer(svc, "")

	w := do(srv, "GET", "/api/calls?status=in_progress&limit=10&source=telegram", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if svc.filter.Status == nil || *svc.filter.Status != protocol.CallInProgress || svc.filter.Limit != 10 || svc.filter.Source != "telegram" {
		t.Errorf("filter = %+v", svc.filter)
	}

	if w := do(srv, "GET", "/api/calls?status=bogus", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bogus status: status = %d, want 400", w.Code)
	}

	do(srv, "GET", "/api/calls", "")
	if svc.filter.Limit != 50 || svc.filter.Status != nil {
		t.Errorf("default filter = %+v", svc.filter)
	}
}

func TestFunnel(t *testing.T) {
	f := &mockFunnel{steps: []funnel.Step{
		{State: protocol.StateAskLanguage, Label: "Language", Calls: 10},
		{State: protocol.StateAskCityOrRegion, Label: "City", Calls: 5},
	}}
	srv := newTestServer(newMockService(), "", WithFunnel(f))

	w := do(srv, "GET", "/api/funnel", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body funnelResponse
	json.NewDecoder(w.Body).Decode(&body)
	if len(body.Steps) != 2 || body.Steps[1].Calls != 5 {
		t.Errorf("steps = %+v", body.Steps)
	}
	if !strings.Contains(body.Chart, "50% of start") {
		t.Errorf("chart = %q", body.Chart)
	}

	w = do(srv, "GET", "/api/funnel.png", "")
	if w.Code != http.StatusOK {
		t.Fatalf("png status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("body is not a PNG")
	}
}

func TestFunnel_NotConfigured(t *testing.T) {
	srv := newTestServer(newMockService(), "")
	if w := do(srv, "GET", "/api/funnel", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetLogs(t *testing.T) {
	buf := logbuf.New(100)
	logger := slog.New(logbuf.NewHandler(slog.NewTextHandler(io.Discard, nil), buf))
	logger.Info("turn committed", "call_id", "c_1")
	logger.Info("turn committed", "call_id", "c_2")
	logger.Error("turn failed", "call_id", "c_1")

	srv := NewServer(newMockService(), Config{}, nil, buf)

	w := do(srv, "GET", "/api/logs?call_id=c_1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var entries []logbuf.Entry
	json.NewDecoder(w.Body).Decode(&entries)
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}

	w = do(srv, "GET", "/api/logs?level=error", "")
	entries = nil
	json.NewDecoder(w.Body).Decode(&entries)
	if len(entries) != 1 || entries[0].Message != "turn failed" {
		t.Errorf("error entries = %+v", entries)
	}
}

func TestGetLogs_NoBuffer(t *testing.T) {
	srv := newTestServer(newMockService(), "")
	w := do(srv, "GET", "/api/logs", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("status = %d, body = %q", w.Code, w.Body.String())
	}
}

func TestWebhookMount(t *testing.T) {
	var hit string
	hook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = r.PathValue("name")
		w.WriteHeader(http.StatusOK)
	})
	srv := newTestServer(newMockService(), "secret-key", WithWebhook(hook))

	// The webhook authenticates its own requests, not with the API key.
	if w := do(srv, "POST", "/api/webhook/exotel", `{}`); w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if hit != "exotel" {
		t.Errorf("name = %q", hit)
	}
}

func TestAuth_Required(t *testing.T) {
	srv := newTestServer(newMockService(), "secret-key")

	// No auth header
	if w := do(srv, "GET", "/api/calls", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no auth: status = %d, want 401", w.Code)
	}

	// Wrong key
	req := httptest.NewRequest("GET", "/api/calls", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", w.Code)
	}

	// Correct key
	req = httptest.NewRequest("GET", "/api/calls", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("correct key: status = %d, want 200", w.Code)
	}
}

func TestHealth_NoAuth(t *testing.T) {
	srv := newTestServer(newMockService(), "secret-key")
	// Health should NOT require auth
	if w := do(srv, "GET", "/api/health", ""); w.Code != http.StatusOK {
		t.Errorf("health should not require auth, status = %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	srv := newTestServer(newMockService(), "")
	w := do(srv, "OPTIONS", "/api/calls", "")

	if w.Code != http.StatusNoContent {
		t.Errorf("OPTIONS status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS origin = %q", got)
	}
}
