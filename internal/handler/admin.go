package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/code-ingest/internal/apperror"
	"github.com/sakif/code-ingest/internal/executor"
	"github.com/sakif/code-ingest/internal/metrics"
	"github.com/sakif/code-ingest/internal/model"
	"github.com/sakif/code-ingest/internal/service"
)

// AdminOperator is the set of operator actions.
type AdminOperator interface {
	Prune(ctx context.Context) (executor.PruneReport, error)
	Kill(ctx context.Context, id string) error
	Count(ctx context.Context) (service.Counts, error)
	SetupScripts() map[string]string
	Reset(ctx context.Context) error
	History(ctx context.Context, limit, offset int) ([]model.Execution, error)
}

// TokenVerifier checks a candidate admin token. Check returns an error
// wrapping apperror.ErrUnauthorized when the candidate is rejected.
type TokenVerifier interface {
	Check(candidate string) error
}

// AdminHandler serves POST /admin/{action}.
type AdminHandler struct {
	ops     AdminOperator
	guard   TokenVerifier
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(ops AdminOperator, guard TokenVerifier, m *metrics.Collector, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{ops: ops, guard: guard, metrics: m, logger: logger}
}

type adminRequest struct {
	Token     string `json:"token"`
	Container string `json:"container"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
}

type adminResponse struct {
	Status string `json:"status"`
	Result any    `json:"result"`
}

// HandleAdmin authenticates first, then dispatches on the action. A bad
// token gets the auth error whatever the action is, so unauthenticated
// callers cannot probe which actions exist.
func (h *AdminHandler) HandleAdmin(w http.ResponseWriter, r *http.Request) {
	action, known := service.ParseAction(chi.URLParam(r, "action"))
	label := "unknown"
	if known {
		label = action.String()
	}

	// A malformed body carries no token, so it fails authentication.
	var req adminRequest
	if err := decodeBody(w, r, &req); err != nil {
		req = adminRequest{}
	}

	if err := h.guard.Check(req.Token); err != nil {
		h.observe(label, "unauthorized")
		h.logger.Warn("admin authentication failed",
			slog.String("action", label),
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusOK, adminResponse{Status: statusFailed, Result: msgAuthError})
		return
	}

	if !known {
		h.observe(label, "invalid")
		writeParamError(w)
		return
	}

	resp, err := h.dispatch(r.Context(), action, req)
	if err != nil {
		h.observe(label, "invalid")
		writeParamError(w)
		return
	}

	status := "ok"
	if resp.Status != statusOK {
		status = "failed"
	}
	h.observe(label, status)
	writeJSON(w, http.StatusOK, resp)
}

// dispatch runs one action. It returns an error only for a malformed
// request; operation failures become a status "1" response.
func (h *AdminHandler) dispatch(ctx context.Context, action service.Action, req adminRequest) (adminResponse, error) {
	switch action {
	case service.ActionPrune:
		report, err := h.ops.Prune(ctx)
		if err != nil {
			return h.failed(action, err), nil
		}
		return adminResponse{Status: statusOK, Result: report}, nil

	case service.ActionKill:
		if req.Container == "" {
			return adminResponse{}, apperror.ValidationFailed("container", "container is required")
		}
		err := h.ops.Kill(ctx, req.Container)
		switch {
		case err == nil:
			return adminResponse{Status: statusOK, Result: msgKilled}, nil
		case errors.Is(err, apperror.ErrNotFound):
			return adminResponse{Status: statusFailed, Result: msgNotFound}, nil
		default:
			return h.failed(action, err), nil
		}

	case service.ActionContainerCount:
		counts, err := h.ops.Count(ctx)
		if err != nil {
			return h.failed(action, err), nil
		}
		return adminResponse{Status: statusOK, Result: counts}, nil

	case service.ActionSetupFiles:
		return adminResponse{Status: statusOK, Result: h.ops.SetupScripts()}, nil

	case service.ActionReset:
		if err := h.ops.Reset(ctx); err != nil {
			h.logger.Error("reset finished with errors", slog.String("error", err.Error()))
			return adminResponse{Status: statusFailed, Result: msgResetPartial}, nil
		}
		return adminResponse{Status: statusOK, Result: msgResetDone}, nil

	case service.ActionHistory:
		if req.Limit < 0 || req.Offset < 0 {
			return adminResponse{}, apperror.ValidationFailed("limit", "limit and offset must not be negative")
		}
		list, err := h.ops.History(ctx, req.Limit, req.Offset)
		if err != nil {
			return h.failed(action, err), nil
		}
		return adminResponse{Status: statusOK, Result: list}, nil
	}

	return adminResponse{}, apperror.ValidationFailed("action", "unsupported action "+action.String())
}

func (h *AdminHandler) failed(action service.Action, err error) adminResponse {
	h.logger.Error("admin action failed", slog.String("action", action.String()), slog.String("error", err.Error()))
	return adminResponse{Status: statusFailed, Result: msgActionFailed}
}

func (h *AdminHandler) observe(action, status string) {
	if h.metrics != nil {
		h.metrics.AdminActions.WithLabelValues(action, status).Inc()
	}
}
