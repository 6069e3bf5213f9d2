package handler

// RESPONSE SHAPES:
// Every endpoint answers HTTP 200 with a small JSON object. Clients tell
// success from failure by the fields, not by the status code:
//
//	/run    {"token": "..."}                                 or {"result": base64(message)}
//	/poll   {"result": ..., "status_code": "...", "done": "0"|"1"}
//	/admin  {"status": "0"|"1", "result": ...}
//
// Runtime diagnostics never reach the client. They are logged and the
// client gets one of the fixed messages below.

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
)

// Fixed client-facing messages.
const (
	msgInvalidParams  = "Error: Invalid/missing required parameters or endpoint."
	msgExecFailed     = "Error: Execution failed, Please Try Again"
	msgInvalidToken   = "Error: Invalid Token, Please Try Again"
	msgGone           = "Error: Execution timed out or was removed"
	msgAuthError      = "AuthError: Invalid admin token."
	msgNotFound       = "Container not found."
	msgKilled         = "Container killed."
	msgResetDone      = "Reset complete."
	msgResetPartial   = "Reset completed with errors."
	msgActionFailed   = "Error: Action failed, Please Try Again"
	statusOK          = "0"
	statusFailed      = "1"
	exitCodeTimeout   = "124"
	maxRequestBodyLen = 1 << 20
)

// resultResponse carries a base64 message from /run, or any admin-style
// payload that only has a result.
type resultResponse struct {
	Result string `json:"result"`
}

// writeJSON sends data as JSON with the given status code.
//
// Headers must be set before WriteHeader; anything set afterwards is ignored.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeParamError is the generic answer for anything malformed: unknown
// route segment, bad JSON, bad base64, empty source.
func writeParamError(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, resultResponse{Result: encode([]byte(msgInvalidParams))})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyLen)
	return json.NewDecoder(r.Body).Decode(dst)
}

func encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
