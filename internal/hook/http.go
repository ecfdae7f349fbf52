package hook

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/praytools/pray-bot/internal/channels"
)

// HTTPHandler wires a Receiver to `POST /api/hook`, rate-limited per
// source IP via the teacher's bounded webhook limiter (spec.md §6).
type HTTPHandler struct {
	receiver *Receiver
	limiter  *channels.WebhookRateLimiter
}

// NewHTTPHandler creates a handler. limiter may be nil to disable rate
// limiting (used in tests).
func NewHTTPHandler(receiver *Receiver, limiter *channels.WebhookRateLimiter) *HTTPHandler {
	return &HTTPHandler{receiver: receiver, limiter: limiter}
}

type successResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ServeHTTP implements spec.md §6's `POST /api/hook`: 200 `{ok:true}` on
// success, 400 `{error:<string>}` on invalid JSON, missing required
// fields, or an unknown provider.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	if h.limiter != nil {
		key := clientKey(req)
		if !h.limiter.Allow(key) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limited"})
			return
		}
	}

	var ev Event
	dec := json.NewDecoder(req.Body)
	if err := dec.Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	if err := h.receiver.Handle(req.Context(), ev); err != nil {
		if errors.Is(err, ErrInvalidEvent) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		slog.Error("hook.handle_failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, successResponse{OK: true})
}

func clientKey(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
