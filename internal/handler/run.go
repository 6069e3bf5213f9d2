package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/code-ingest/internal/apperror"
	"github.com/sakif/code-ingest/internal/interpreter"
)

// Launcher starts one execution and returns its token.
type Launcher interface {
	Launch(ctx context.Context, source []byte, in interpreter.Interpreter, setupID string) (string, error)
}

// RunHandler serves POST /run/{interpreter}.
type RunHandler struct {
	launcher Launcher
	logger   *slog.Logger
}

// NewRunHandler creates a RunHandler.
func NewRunHandler(launcher Launcher, logger *slog.Logger) *RunHandler {
	return &RunHandler{launcher: launcher, logger: logger}
}

type runRequest struct {
	Exec  string `json:"exec"`  // base64 source
	Chall string `json:"chall"` // optional setup script id
}

type runResponse struct {
	Token string `json:"token"`
}

// HandleRun validates the submission, launches it and answers with the token.
func (h *RunHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	in, source, setupID, err := h.parse(w, r)
	if err != nil {
		h.logger.Debug("rejected run request", slog.String("error", err.Error()))
		writeParamError(w)
		return
	}

	token, err := h.launcher.Launch(r.Context(), source, in, setupID)
	if err != nil {
		if !errors.Is(err, apperror.ErrLaunch) {
			h.logger.Error("launch failed", slog.String("interpreter", in.ID), slog.String("error", err.Error()))
		}
		writeJSON(w, http.StatusOK, resultResponse{Result: encode([]byte(msgExecFailed))})
		return
	}

	writeJSON(w, http.StatusOK, runResponse{Token: token})
}

func (h *RunHandler) parse(w http.ResponseWriter, r *http.Request) (interpreter.Interpreter, []byte, string, error) {
	in, err := interpreter.Resolve(chi.URLParam(r, "interpreter"))
	if err != nil {
		return interpreter.Interpreter{}, nil, "", err
	}

	var req runRequest
	if err := decodeBody(w, r, &req); err != nil {
		return in, nil, "", apperror.ValidationFailed("body", "malformed JSON: "+err.Error())
	}
	source, err := base64.StdEncoding.DecodeString(req.Exec)
	if err != nil {
		return in, nil, "", apperror.ValidationFailed("exec", "not valid base64")
	}
	if len(source) == 0 {
		return in, nil, "", apperror.ValidationFailed("exec", "source is required")
	}
	return in, source, req.Chall, nil
}
