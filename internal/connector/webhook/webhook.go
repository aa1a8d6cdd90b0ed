package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mn-ai/mnvoice/internal/calls"
	"github.com/mn-ai/mnvoice/internal/connector"
)

// Config holds webhook connector configuration.
type Config struct {
	// Endpoints maps telephony provider names to their auth settings.
	Endpoints map[string]EndpointConfig `json:"endpoints"`
}

// EndpointConfig holds per-endpoint webhook configuration.
type EndpointConfig struct {
	// Secret for HMAC-SHA256 signature verification (X-Signature-256 header).
	// If empty, Bearer auth is used instead.
	Secret string `json:"secret,omitempty"`
	// BearerToken for Authorization header auth. Used if Secret is empty.
	BearerToken string `json:"bearer_token,omitempty"`
}

// Payload is the JSON body a telephony provider posts for each call event.
//
//	{"event":"start","from_phone":"+91..."}
//	{"event":"turn","call_id":"c_...","text":"8 lakhs"}
//	{"event":"end","call_id":"c_...","status":"failed"}
type Payload struct {
	Event     string `json:"event"`
	CallID    string `json:"call_id,omitempty"`
	FromPhone string `json:"from_phone,omitempty"`
	Text      string `json:"text,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Handler provides HTTP handlers for webhook endpoints. The reply for the
// caller is returned synchronously in the response body.
type Handler struct {
	config  Config
	handler connector.InboundHandler
	logger  *slog.Logger
}

// New creates a new webhook handler.
func New(cfg Config, handler connector.InboundHandler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config:  cfg,
		handler: handler,
		logger:  logger.With("component", "webhook"),
	}
}

// ServeHTTP handles webhook requests at /api/webhook/{name}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name := r.PathValue("name")
	if name == "" {
		name = extractName(r.URL.Path)
	}
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing endpoint name in path")
		return
	}

	endpoint, ok := h.config.Endpoints[name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown webhook endpoint: %s", name))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if !h.authenticate(r, endpoint, body) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	inbound, err := toInbound(name, payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := h.handler(r.Context(), inbound)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("webhook handler error", "endpoint", name, "event", inbound.Event, "call_id", inbound.CallID, "error", err)
			writeError(w, status, "internal error")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(reply)
}

func toInbound(name string, p Payload) (connector.InboundMessage, error) {
	msg := connector.InboundMessage{
		Channel: "webhook:" + name,
		Event:   connector.Event(p.Event),
		CallID:  p.CallID,
		Phone:   strings.TrimSpace(p.FromPhone),
		Content: p.Text,
	}
	switch msg.Event {
	case connector.EventStart:
		if msg.Phone == "" {
			return msg, errors.New("from_phone is required")
		}
	case connector.EventTurn:
		if strings.TrimSpace(msg.Content) == "" {
			return msg, errors.New("text is required")
		}
		if msg.CallID == "" && msg.Phone == "" {
			return msg, errors.New("call_id or from_phone is required")
		}
	case connector.EventEnd:
		if msg.CallID == "" && msg.Phone == "" {
			return msg, errors.New("call_id or from_phone is required")
		}
		msg.Failed = p.Status == "failed"
	default:
		return msg, fmt.Errorf("unknown event %q", p.Event)
	}
	return msg, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, calls.ErrCallNotFound):
		return http.StatusNotFound
	case errors.Is(err, calls.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, calls.ErrCallEnded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (h *Handler) authenticate(r *http.Request, endpoint EndpointConfig, body []byte) bool {
	if endpoint.Secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			sig = r.Header.Get("X-Hub-Signature-256")
		}
		return verifyHMAC(body, endpoint.Secret, sig)
	}

	if endpoint.BearerToken != "" {
		auth := r.Header.Get("Authorization")
		return hmac.Equal([]byte(auth), []byte("Bearer "+endpoint.BearerToken))
	}

	// No auth configured: allow (for development)
	return true
}

// verifyHMAC checks an HMAC-SHA256 signature.
// Signature format: "sha256=<hex>"
func verifyHMAC(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}

	expectedMAC, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expectedMAC)
}

// extractName gets the last path segment from /api/webhook/{name}.
func extractName(path string) string {
	path = strings.TrimSuffix(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// ComputeSignature generates an HMAC-SHA256 signature for testing/external use.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
