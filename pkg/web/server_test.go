package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-assistant/pkg/apperr"
	"github.com/teslashibe/go-assistant/pkg/assistant"
	"github.com/teslashibe/go-assistant/pkg/conversation"
	"github.com/teslashibe/go-assistant/pkg/inference"
	"github.com/teslashibe/go-assistant/pkg/metrics"
	"github.com/teslashibe/go-assistant/pkg/prefs"
)

// fakeController records calls and returns canned state.
type fakeController struct {
	mu       sync.Mutex
	snap     assistant.Snapshot
	history  []conversation.Turn
	calls    []string
	startErr error
	subs     []func(assistant.Snapshot)
	texts    chan string
}

func newFakeController() *fakeController {
	return &fakeController{
		snap:  assistant.Snapshot{State: assistant.StateIdle},
		texts: make(chan string, 4),
	}
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) setState(s assistant.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap.State = s
}

func (f *fakeController) Snapshot() assistant.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) History() []conversation.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]conversation.Turn(nil), f.history...)
}

func (f *fakeController) Subscribe(fn func(assistant.Snapshot)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
	return func() {}
}

func (f *fakeController) StartRecording(context.Context) error {
	f.record("start")
	if f.startErr != nil {
		return f.startErr
	}
	f.setState(assistant.StateRecording)
	return nil
}

func (f *fakeController) StopRecording(context.Context) (*inference.Reply, error) {
	f.record("stop")
	return &inference.Reply{Text: "ok"}, nil
}

func (f *fakeController) SendText(_ context.Context, text string) (*inference.Reply, error) {
	f.record("send")
	f.texts <- text
	return &inference.Reply{Text: "ok"}, nil
}

func (f *fakeController) Regenerate(context.Context) (*inference.Reply, error) {
	f.record("regenerate")
	return &inference.Reply{Text: "ok"}, nil
}

func (f *fakeController) Replay(context.Context) error {
	f.record("replay")
	return nil
}

func (f *fakeController) SetMuted(muted bool) {
	f.record("mute")
	f.mu.Lock()
	f.snap.Muted = muted
	f.mu.Unlock()
}

func (f *fakeController) Background() { f.record("background") }
func (f *fakeController) Reset()      { f.record("reset") }

var _ Controller = (*fakeController)(nil)

func newTestServer(t *testing.T, ctrl *fakeController, opts ...Option) (*Server, *prefs.Store) {
	t.Helper()
	store, err := prefs.Open(filepath.Join(t.TempDir(), "prefs.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	opts = append([]Option{WithAccessLog(nil)}, opts...)
	s := New(ctrl, store, opts...)
	t.Cleanup(func() { s.Shutdown() })
	return s, store
}

func do(t *testing.T, s *Server, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, data
}

func decodeError(t *testing.T, data []byte) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("decode error body %q: %v", data, err)
	}
	return e
}

func waitForCalls(t *testing.T, ctrl *fakeController, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, c := range ctrl.Calls() {
			if c == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("call %q not seen, calls = %v", want, ctrl.Calls())
}

func TestServer_State(t *testing.T) {
	ctrl := newFakeController()
	s, _ := newTestServer(t, ctrl)

	resp, data := do(t, s, http.MethodGet, "/api/state", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var snap assistant.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.State != assistant.StateIdle {
		t.Errorf("state = %v", snap.State)
	}
}

func TestServer_History(t *testing.T) {
	ctrl := newFakeController()
	ctrl.history = []conversation.Turn{
		{Role: conversation.RoleUser, Content: "hi"},
		{Role: conversation.RoleAssistant, Content: "hello"},
	}
	s, _ := newTestServer(t, ctrl)

	_, data := do(t, s, http.MethodGet, "/api/history", "")
	var turns []conversation.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 || turns[1].Content != "hello" {
		t.Errorf("history = %+v", turns)
	}
}

func TestServer_SendText(t *testing.T) {
	ctrl := newFakeController()
	s, _ := newTestServer(t, ctrl)

	resp, _ := do(t, s, http.MethodPost, "/api/messages", `{"text":"  what time is it? "}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	select {
	case got := <-ctrl.texts:
		if got != "what time is it?" {
			t.Errorf("text = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SendText not called")
	}
}

func TestServer_SendBlankText(t *testing.T) {
	ctrl := newFakeController()
	s, _ := newTestServer(t, ctrl)

	resp, _ := do(t, s, http.MethodPost, "/api/messages", `{"text":"   "}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if len(ctrl.Calls()) != 0 {
		t.Errorf("calls = %v", ctrl.Calls())
	}
}

func TestServer_SendTextBadBody(t *testing.T) {
	ctrl := newFakeController()
	s, _ := newTestServer(t, ctrl)

	resp, data := do(t, s, http.MethodPost, "/api/messages", `{"text":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if e := decodeError(t, data); e.Code != "invalid_request" {
		t.Errorf("code = %q", e.Code)
	}
}

func TestServer_BusyConflicts(t *testing.T) {
	ctrl := newFakeController()
	ctrl.setState(assistant.StateGenerating)
	s, _ := newTestServer(t, ctrl)

	resp, data := do(t, s, http.MethodPost, "/api/messages", `{"text":"hi"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if e := decodeError(t, data); e.Code != "busy" {
		t.Errorf("code = %q, want busy", e.Code)
	}
}

func TestServer_Recording(t *testing.T) {
	ctrl := newFakeController()
	s, _ := newTestServer(t, ctrl)

	resp, data := do(t, s, http.MethodPost, "/api/recording/stop", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stop without recording: status = %d, want 409", resp.StatusCode)
	}
	if e := decodeError(t, data); e.Code != "no_active_session" {
		t.Errorf("code = %q", e.Code)
	}

	resp, _ = do(t, s, http.MethodPost, "/api/recording/start", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status = %d", resp.StatusCode)
	}

	resp, _ = do(t, s, http.MethodPost, "/api/recording/stop", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("stop: status = %d, want 202", resp.StatusCode)
	}
	waitForCalls(t, ctrl, "stop")
}

func TestServer_StartRecordingErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"permission", apperr.New(apperr.ErrPermissionDenied, "recorder.start", ""), http.StatusForbidden, "permission_denied"},
		{"device", apperr.New(apperr.ErrDevice, "recorder.start", ""), http.StatusServiceUnavailable, "device_error"},
		{"busy", apperr.New(apperr.ErrBusy, "assistant.start_recording", ""), http.StatusConflict, "busy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newFakeController()
			ctrl.startErr = tt.err
			s, _ := newTestServer(t, ctrl)

			resp, data := do(t, s, http.MethodPost, "/api/recording/start", "")
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			e := decodeError(t, data)
			if e.Code != tt.code {
				t.Errorf("code = %q, want %q", e.Code, tt.code)
			}
			if e.Message == "" {
				t.Error("empty message")
			}
		})
	}
}

func TestServer_RegenerateAndReplay(t *testing.T) {
	ctrl := newFakeController()
	s, _ := newTestServer(t, ctrl)

	for _, path := range []string{"/api/regenerate", "/api/replay"} {
		resp, _ := do(t, s, http.MethodPost, path, "")
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("%s on empty history: status = %d, want 409", path, resp.StatusCode)
		}
	}

	ctrl.mu.Lock()
	ctrl.history = []conversation.Turn{
		{Role: conversation.RoleUser, Content: "hi"},
		{Role: conversation.RoleAssistant, Content: "hello"},
	}
	ctrl.mu.Unlock()

	for _, path := range []string{"/api/regenerate", "/api/replay"} {
		resp, _ := do(t, s, http.MethodPost, path, "")
		if resp.StatusCode != http.StatusAccepted {
			t.Errorf("%s: status = %d, want 202", path, resp.StatusCode)
		}
	}
	waitForCalls(t, ctrl, "regenerate")
	waitForCalls(t, ctrl, "replay")
}

func TestServer_MutePersists(t *testing.T) {
	ctrl := newFakeController()
	s, store := newTestServer(t, ctrl)

	resp, data := do(t, s, http.MethodPost, "/api/mute", `{"muted":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var snap assistant.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatal(err)
	}
	if !snap.Muted {
		t.Error("snapshot not muted")
	}
	if !store.Get().Muted {
		t.Error("mute not persisted")
	}
}

func TestServer_Reset(t *testing.T) {
	ctrl := newFakeController()
	s, _ := newTestServer(t, ctrl)

	resp, _ := do(t, s, http.MethodPost, "/api/reset", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if calls := ctrl.Calls(); len(calls) != 1 || calls[0] != "reset" {
		t.Errorf("calls = %v", calls)
	}
}

func TestServer_Lifecycle(t *testing.T) {
	ctrl := newFakeController()
	s, _ := newTestServer(t, ctrl)

	resp, _ := do(t, s, http.MethodPost, "/api/lifecycle", `{"state":"background"}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("background: status = %d", resp.StatusCode)
	}
	resp, _ = do(t, s, http.MethodPost, "/api/lifecycle", `{"state":"active"}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("active: status = %d", resp.StatusCode)
	}
	resp, _ = do(t, s, http.MethodPost, "/api/lifecycle", `{"state":"sleeping"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown: status = %d, want 400", resp.StatusCode)
	}

	if calls := ctrl.Calls(); len(calls) != 1 || calls[0] != "background" {
		t.Errorf("calls = %v", calls)
	}
}

func TestServer_Onboarding(t *testing.T) {
	ctrl := newFakeController()
	s, store := newTestServer(t, ctrl)

	_, data := do(t, s, http.MethodGet, "/api/onboarding", "")
	var got OnboardingResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.OnboardingCompleted || got.InitialScreen != prefs.ScreenOnboarding {
		t.Errorf("before = %+v", got)
	}

	_, data = do(t, s, http.MethodPost, "/api/onboarding/complete", "")
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if !got.OnboardingCompleted || got.InitialScreen != prefs.ScreenHome {
		t.Errorf("after = %+v", got)
	}
	if !store.Get().OnboardingCompleted {
		t.Error("completion not persisted")
	}
}

func TestServer_WebsocketRequiresUpgrade(t *testing.T) {
	ctrl := newFakeController()
	s, _ := newTestServer(t, ctrl)

	resp, _ := do(t, s, http.MethodGet, "/ws/state", "")
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", resp.StatusCode)
	}
}

func TestServer_SubscribesToSnapshots(t *testing.T) {
	ctrl := newFakeController()
	newTestServer(t, ctrl)

	ctrl.mu.Lock()
	n := len(ctrl.subs)
	ctrl.mu.Unlock()
	if n != 1 {
		t.Errorf("subscriptions = %d, want 1", n)
	}
}

func TestServer_Metrics(t *testing.T) {
	ctrl := newFakeController()
	s, _ := newTestServer(t, ctrl, WithMetrics(metrics.New()))

	do(t, s, http.MethodGet, "/api/state", "")
	do(t, s, http.MethodPost, "/api/recording/stop", "")

	resp, data := do(t, s, http.MethodGet, "/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := string(data)
	for _, want := range []string{
		`assistant_http_requests_total{method="GET",route="/api/state",status_code="200"} 1`,
		`assistant_http_requests_total{method="POST",route="/api/recording/stop",status_code="409"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}
