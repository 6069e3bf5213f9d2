package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/code-ingest/internal/apperror"
	"github.com/sakif/code-ingest/internal/service"
)

// Poller reports the state of one execution.
type Poller interface {
	Poll(ctx context.Context, token string) (service.Snapshot, error)
}

// PollHandler serves GET /poll/{token}.
type PollHandler struct {
	poller Poller
	logger *slog.Logger
}

// NewPollHandler creates a PollHandler.
func NewPollHandler(poller Poller, logger *slog.Logger) *PollHandler {
	return &PollHandler{poller: poller, logger: logger}
}

type pollResponse struct {
	Result     string `json:"result"`
	StatusCode string `json:"status_code"`
	Done       string `json:"done"`
}

// HandlePoll answers with the current output. While the execution runs,
// done is "0" and status_code is empty.
func (h *PollHandler) HandlePoll(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	snap, err := h.poller.Poll(r.Context(), token)
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrNotFound):
		writeJSON(w, http.StatusOK, pollResponse{Result: msgInvalidToken, StatusCode: statusFailed, Done: "1"})
		return
	default:
		if !errors.Is(err, apperror.ErrGone) {
			h.logger.Error("poll failed", slog.String("error", err.Error()))
		}
		writeJSON(w, http.StatusOK, pollResponse{Result: msgGone, StatusCode: exitCodeTimeout, Done: "1"})
		return
	}

	resp := pollResponse{Result: encode(snap.Output), Done: "0"}
	if !snap.Running {
		resp.StatusCode = strconv.Itoa(snap.ExitCode)
		resp.Done = "1"
	}
	writeJSON(w, http.StatusOK, resp)
}
