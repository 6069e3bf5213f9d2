package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/code-ingest/internal/apperror"
	"github.com/sakif/code-ingest/internal/executor"
	"github.com/sakif/code-ingest/internal/interpreter"
	"github.com/sakif/code-ingest/internal/metrics"
	"github.com/sakif/code-ingest/internal/model"
	"github.com/sakif/code-ingest/internal/service"
)

// =========================================================================
// FAKES
// =========================================================================

type fakeLauncher struct {
	token string
	err   error

	calls   int
	source  []byte
	interp  string
	setupID string
}

func (f *fakeLauncher) Launch(_ context.Context, source []byte, in interpreter.Interpreter, setupID string) (string, error) {
	f.calls++
	f.source, f.interp, f.setupID = source, in.ID, setupID
	return f.token, f.err
}

type fakePoller struct {
	snaps map[string]service.Snapshot
	errs  map[string]error
}

func (f *fakePoller) Poll(_ context.Context, token string) (service.Snapshot, error) {
	if err, ok := f.errs[token]; ok {
		return service.Snapshot{}, err
	}
	snap, ok := f.snaps[token]
	if !ok {
		return service.Snapshot{}, apperror.NotFound("token", token)
	}
	return snap, nil
}

type fakeAdmin struct {
	killed   []string
	killErr  error
	resetErr error
	calls    []string
	page     [2]int
}

func (f *fakeAdmin) Prune(context.Context) (executor.PruneReport, error) {
	f.calls = append(f.calls, "prune")
	return executor.PruneReport{Deleted: []string{"c1"}, SpaceReclaimed: 42}, nil
}

func (f *fakeAdmin) Kill(_ context.Context, id string) error {
	f.calls = append(f.calls, "kill")
	if f.killErr != nil {
		return f.killErr
	}
	f.killed = append(f.killed, id)
	return nil
}

func (f *fakeAdmin) Count(context.Context) (service.Counts, error) {
	f.calls = append(f.calls, "containercount")
	return service.Counts{Registered: 3, Live: 2}, nil
}

func (f *fakeAdmin) SetupScripts() map[string]string {
	f.calls = append(f.calls, "setupfiles")
	return map[string]string{"aplusb": "aplusb.sh"}
}

func (f *fakeAdmin) Reset(context.Context) error {
	f.calls = append(f.calls, "reset")
	return f.resetErr
}

func (f *fakeAdmin) History(_ context.Context, limit, offset int) ([]model.Execution, error) {
	f.calls = append(f.calls, "history")
	f.page = [2]int{limit, offset}
	return []model.Execution{{Token: "t1", Interpreter: "python", Outcome: model.OutcomeCompleted}}, nil
}

type staticGuard string

func (g staticGuard) Check(candidate string) error {
	if candidate == "" || candidate != string(g) {
		return apperror.Unauthorized("bad token")
	}
	return nil
}

// =========================================================================
// TEST HELPERS
// =========================================================================

const adminToken = "admin-secret"

type testServer struct {
	router   http.Handler
	launcher *fakeLauncher
	poller   *fakePoller
	admin    *fakeAdmin
	metrics  *metrics.Collector
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ts := &testServer{
		launcher: &fakeLauncher{token: "tok123"},
		poller:   &fakePoller{snaps: map[string]service.Snapshot{}, errs: map[string]error{}},
		admin:    &fakeAdmin{},
		metrics:  metrics.New(),
	}

	r := chi.NewRouter()
	r.Post("/run/{interpreter}", NewRunHandler(ts.launcher, logger).HandleRun)
	r.Get("/poll/{token}", NewPollHandler(ts.poller, logger).HandlePoll)
	r.Post("/admin/{action}", NewAdminHandler(ts.admin, staticGuard(adminToken), ts.metrics, logger).HandleAdmin)
	ts.router = r
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) map[string]any {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "body: %s", rr.Body.String())
	return out
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func decodeResult(t *testing.T, resp map[string]any) string {
	t.Helper()
	s, ok := resp["result"].(string)
	require.True(t, ok, "result is not a string: %v", resp["result"])
	raw, err := base64.StdEncoding.DecodeString(s)
	require.NoError(t, err)
	return string(raw)
}

// =========================================================================
// RUN TESTS
// =========================================================================

func TestRun_ReturnsToken(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/run/python", `{"exec":"`+b64("print('hi')")+`","chall":"aplusb"}`)

	assert.Equal(t, map[string]any{"token": "tok123"}, resp)
	assert.Equal(t, "print('hi')", string(ts.launcher.source))
	assert.Equal(t, "python", ts.launcher.interp)
	assert.Equal(t, "aplusb", ts.launcher.setupID)
}

func TestRun_InvalidParameters(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "unknown interpreter", path: "/run/cobol", body: `{"exec":"` + b64("DISPLAY 'HI'.") + `"}`},
		{name: "malformed json", path: "/run/python", body: `{"exec":`},
		{name: "missing exec", path: "/run/python", body: `{}`},
		{name: "bad base64", path: "/run/python", body: `{"exec":"%%%not-base64"}`},
		{name: "empty source", path: "/run/gcc", body: `{"exec":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			resp := ts.do(t, http.MethodPost, tt.path, tt.body)

			assert.Equal(t, msgInvalidParams, decodeResult(t, resp))
			assert.NotContains(t, resp, "token")
			assert.Equal(t, 0, ts.launcher.calls, "nothing may be launched")
		})
	}
}

func TestRun_LaunchFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.launcher.err = apperror.LaunchFailed(errors.New("no such image"))

	resp := ts.do(t, http.MethodPost, "/run/cpp", `{"exec":"`+b64("int main(){}")+`"}`)

	assert.Equal(t, msgExecFailed, decodeResult(t, resp))
	assert.NotContains(t, resp, "token")
}

// =========================================================================
// POLL TESTS
// =========================================================================

func TestPoll_Responses(t *testing.T) {
	ts := newTestServer(t)
	ts.poller.snaps["running"] = service.Snapshot{Output: []byte("partial"), Running: true}
	ts.poller.snaps["done"] = service.Snapshot{Output: []byte("out"), ExitCode: 3}
	ts.poller.errs["gone"] = apperror.Gone("gone", executor.ErrNotFound)

	tests := []struct {
		token string
		want  map[string]any
	}{
		{token: "running", want: map[string]any{"result": b64("partial"), "status_code": "", "done": "0"}},
		{token: "done", want: map[string]any{"result": b64("out"), "status_code": "3", "done": "1"}},
		{token: "missing", want: map[string]any{"result": msgInvalidToken, "status_code": "1", "done": "1"}},
		{token: "gone", want: map[string]any{"result": msgGone, "status_code": "124", "done": "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			assert.Equal(t, tt.want, ts.do(t, http.MethodGet, "/poll/"+tt.token, ""))
		})
	}
}

func TestRunThenPoll_HelloWorld(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/run/python", `{"exec":"`+b64("print('Hello, World!')")+`"}`)
	token := resp["token"].(string)
	ts.poller.snaps[token] = service.Snapshot{Output: []byte("Hello, World!\n\nreal\t0m0.01s\n"), ExitCode: 0}

	poll := ts.do(t, http.MethodGet, "/poll/"+token, "")
	assert.Equal(t, "1", poll["done"])
	assert.Equal(t, "0", poll["status_code"])
	assert.Contains(t, decodeResult(t, poll), "Hello, World!")
}

// =========================================================================
// ADMIN TESTS
// =========================================================================

func TestAdmin_WrongTokenAlwaysAuthError(t *testing.T) {
	actions := []string{"prune", "kill", "containercount", "setupfiles", "reset", "history", "nonsense"}
	bodies := []string{`{"token":"wrong","container":"x"}`, `{}`, `not json`}

	for _, action := range actions {
		for _, body := range bodies {
			t.Run(action+"/"+body, func(t *testing.T) {
				ts := newTestServer(t)
				resp := ts.do(t, http.MethodPost, "/admin/"+action, body)

				assert.Equal(t, map[string]any{"status": "1", "result": msgAuthError}, resp)
				assert.Empty(t, ts.admin.calls, "no action may run without auth")
			})
		}
	}
}

func TestAdmin_UnknownActionIsParamError(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/admin/shutdown", `{"token":"`+adminToken+`"}`)

	assert.Equal(t, msgInvalidParams, decodeResult(t, resp))
	assert.Empty(t, ts.admin.calls)
}

func TestAdmin_Actions(t *testing.T) {
	tests := []struct {
		action string
		body   string
		want   map[string]any
	}{
		{
			action: "prune",
			want:   map[string]any{"status": "0", "result": map[string]any{"deleted": []any{"c1"}, "spaceReclaimed": 42.0}},
		},
		{
			action: "kill",
			body:   `,"container":"abc"`,
			want:   map[string]any{"status": "0", "result": msgKilled},
		},
		{
			action: "containercount",
			want:   map[string]any{"status": "0", "result": map[string]any{"registered": 3.0, "live": 2.0}},
		},
		{
			action: "setupfiles",
			want:   map[string]any{"status": "0", "result": map[string]any{"aplusb": "aplusb.sh"}},
		},
		{
			action: "reset",
			want:   map[string]any{"status": "0", "result": msgResetDone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			ts := newTestServer(t)
			resp := ts.do(t, http.MethodPost, "/admin/"+tt.action, `{"token":"`+adminToken+`"`+tt.body+`}`)

			assert.Equal(t, tt.want, resp)
			assert.Equal(t, []string{tt.action}, ts.admin.calls)
			assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.AdminActions.WithLabelValues(tt.action, "ok")))
		})
	}
}

func TestAdmin_History(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/admin/history", `{"token":"`+adminToken+`","limit":5,"offset":10}`)
	assert.Equal(t, [2]int{5, 10}, ts.admin.page)

	assert.Equal(t, "0", resp["status"])
	list, ok := resp["result"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "t1", list[0].(map[string]any)["token"])
}

func TestAdmin_HistoryNegativeOffsetIsParamError(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/admin/history", `{"token":"`+adminToken+`","offset":-1}`)

	assert.Equal(t, msgInvalidParams, decodeResult(t, resp))
	assert.Empty(t, ts.admin.calls)
}

func TestAdmin_KillNonexistentContainer(t *testing.T) {
	ts := newTestServer(t)
	ts.admin.killErr = apperror.NotFound("container", "doesnotexist")

	resp := ts.do(t, http.MethodPost, "/admin/kill", `{"token":"`+adminToken+`","container":"doesnotexist"}`)

	assert.Equal(t, map[string]any{"status": "1", "result": "Container not found."}, resp)
}

func TestAdmin_KillWithoutContainerIsParamError(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/admin/kill", `{"token":"`+adminToken+`"}`)

	assert.Equal(t, msgInvalidParams, decodeResult(t, resp))
}

func TestAdmin_ResetWithErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.admin.resetErr = errors.New("one container refused to die")

	resp := ts.do(t, http.MethodPost, "/admin/reset", `{"token":"`+adminToken+`"}`)

	assert.Equal(t, map[string]any{"status": "1", "result": msgResetPartial}, resp)
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.AdminActions.WithLabelValues("reset", "failed")))
}
