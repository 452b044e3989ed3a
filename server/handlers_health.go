package server

import (
	"net/http"

	"github.com/onnwee/twitch-questions/chat"
)

// HandleHealthz is the liveness probe: the process is serving.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready only while the upstream chat connection is up.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	state := h.relay.State()
	if state != chat.StateConnected {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":       "not_ready",
			"failed_check": "upstream",
			"upstream":     state.String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusResponse is the relay status plus log sink health.
type statusResponse struct {
	chat.Status
	LogWriteFailures uint64 `json:"log_write_failures"`
}

// HandleStatus returns a lightweight status summary of the relay.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: h.relay.Status()}
	if h.logs != nil {
		resp.LogWriteFailures = h.logs.Failures()
	}
	writeJSON(w, http.StatusOK, resp)
}
