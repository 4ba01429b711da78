package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/zoobzio/clockz"

	"fleetintel/internal/aiproxy"
	"fleetintel/internal/assistant"
	"fleetintel/internal/fleet"
	"fleetintel/internal/realtime"
	"fleetintel/internal/storage"
)

type fakeAI struct {
	mu      sync.Mutex
	release chan struct{}
	systems []string
	err     error
}

func (f *fakeAI) Stream(ctx context.Context, req aiproxy.Request) (<-chan aiproxy.Delta, error) {
	f.mu.Lock()
	f.systems = append(f.systems, req.System)
	release := f.release
	f.mu.Unlock()

	ch := make(chan aiproxy.Delta, 2)
	go func() {
		defer close(ch)
		if release != nil {
			select {
			case <-release:
			case <-ctx.Done():
				ch <- aiproxy.Delta{Err: ctx.Err()}
				return
			}
		}
		ch <- aiproxy.Delta{Text: "Assign Dawit."}
	}()
	return ch, nil
}

func (f *fakeAI) Complete(ctx context.Context, req aiproxy.Request) (string, error) {
	f.mu.Lock()
	f.systems = append(f.systems, req.System)
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return "All clear.", nil
}

type testServer struct {
	*httptest.Server
	feed *fleet.Feed
}

func newTestServer(t *testing.T, ai *fakeAI) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := clockz.NewFakeClock()
	feed := fleet.NewFeed(clock)
	hub := realtime.NewHub(zerolog.Nop())
	go hub.Run(ctx)
	events := storage.NewMemoryEventLog(100)
	engine := assistant.NewEngine(assistant.Options{
		AI:       ai,
		Store:    storage.NewMemoryKV(),
		Events:   events,
		Observer: hub,
		Clock:    clock,
		Log:      zerolog.Nop(),
	})

	r := chi.NewRouter()
	AttachRoutes(r, Deps{Feed: feed, Engine: engine, Hub: hub, Events: events, Clock: clock, Log: zerolog.Nop()})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, feed: feed}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp, raw
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

func (s *testServer) createSession(t *testing.T) assistant.View {
	t.Helper()
	resp, raw := s.do(t, http.MethodPost, "/api/sessions", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d body=%s", resp.StatusCode, raw)
	}
	return decode[assistant.View](t, raw)
}

func (s *testServer) waitIdle(t *testing.T, id string) assistant.View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, raw := s.do(t, http.MethodGet, "/api/sessions/"+id+"/", "")
		v := decode[assistant.View](t, raw)
		if v.State == assistant.OpIdle {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("session %s still %s", id, v.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

const suspendedSnapshot = `{"drivers":[{"id":"d1","name":"Dawit","status":"suspended"}],"rides":[]}`

func TestSnapshotAndRisks(t *testing.T) {
	srv := newTestServer(t, &fakeAI{})

	resp, raw := srv.do(t, http.MethodPut, "/api/snapshot", suspendedSnapshot)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put snapshot status = %d body=%s", resp.StatusCode, raw)
	}
	if got := decode[map[string]any](t, raw)["version"]; got != float64(1) {
		t.Fatalf("version = %v", got)
	}

	_, raw = srv.do(t, http.MethodGet, "/api/risks", "")
	report := decode[riskReport](t, raw)
	if report.Version != 1 {
		t.Fatalf("risk version = %d", report.Version)
	}
	found := false
	for _, a := range report.Alerts {
		if a.ID == "suspended-d1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("alerts = %+v, want suspended-d1", report.Alerts)
	}

	resp, raw = srv.do(t, http.MethodGet, "/api/context", "")
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	if v := resp.Header.Get("X-Snapshot-Version"); v != "1" {
		t.Fatalf("X-Snapshot-Version = %q", v)
	}
	if !strings.Contains(string(raw), "Dawit") {
		t.Fatalf("context does not mention the driver:\n%s", raw)
	}

	resp, _ = srv.do(t, http.MethodPut, "/api/snapshot", "{")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid snapshot status = %d", resp.StatusCode)
	}
}

func TestInsightsUseOneVersion(t *testing.T) {
	srv := newTestServer(t, &fakeAI{})
	srv.feed.Replace(fleet.Snapshot{})
	srv.do(t, http.MethodPut, "/api/snapshot", suspendedSnapshot)

	_, raw := srv.do(t, http.MethodGet, "/api/insights", "")
	got := decode[insights](t, raw)
	if got.Version != 2 || len(got.Alerts) == 0 || !strings.Contains(got.Context, "Dawit") {
		t.Fatalf("insights = %+v", got)
	}
}

func TestChatRoundTrip(t *testing.T) {
	ai := &fakeAI{}
	srv := newTestServer(t, ai)
	srv.do(t, http.MethodPut, "/api/snapshot", suspendedSnapshot)
	view := srv.createSession(t)
	if len(view.Messages) != 1 || view.Messages[0].Text != assistant.Greeting {
		t.Fatalf("new session messages = %+v", view.Messages)
	}

	resp, raw := srv.do(t, http.MethodPost, "/api/sessions/"+view.ID+"/chat", `{"text":"Who should take the airport run?"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("chat status = %d body=%s", resp.StatusCode, raw)
	}
	op := decode[operationResponse](t, raw)
	if op.OperationID == "" || op.MessageID == "" {
		t.Fatalf("operation = %+v", op)
	}

	final := srv.waitIdle(t, view.ID)
	last := final.Messages[len(final.Messages)-1]
	if last.ID != op.MessageID || last.Text != "Assign Dawit." || last.State != assistant.MessageDone {
		t.Fatalf("reply = %+v", last)
	}
	ai.mu.Lock()
	system := ai.systems[0]
	ai.mu.Unlock()
	if !strings.Contains(system, "Dawit") {
		t.Fatalf("system prompt does not carry the fleet context")
	}

	// the outcome is logged right after the slot is released
	type eventPage struct {
		Events []storage.Event `json:"events"`
		Total  int             `json:"total"`
	}
	var page eventPage
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, raw = srv.do(t, http.MethodGet, "/api/sessions/"+view.ID+"/events", "")
		page = decode[eventPage](t, raw)
		if page.Total > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if page.Total != 1 || len(page.Events) != 1 || page.Events[0].Outcome != string(assistant.OpCompleted) {
		t.Fatalf("events = %+v", page)
	}
}

func TestChatErrors(t *testing.T) {
	ai := &fakeAI{release: make(chan struct{})}
	srv := newTestServer(t, ai)
	view := srv.createSession(t)
	chatPath := "/api/sessions/" + view.ID + "/chat"

	cases := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{name: "empty text", path: chatPath, body: `{"text":"   "}`, status: http.StatusBadRequest},
		{name: "invalid json", path: chatPath, body: `{`, status: http.StatusBadRequest},
		{name: "unknown session", path: "/api/sessions/nope/chat", body: `{"text":"hi"}`, status: http.StatusNotFound},
		{name: "unknown action", path: "/api/sessions/" + view.ID + "/quick/forecast", status: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, raw := srv.do(t, http.MethodPost, tc.path, tc.body)
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d body=%s", resp.StatusCode, tc.status, raw)
			}
		})
	}

	t.Run("busy", func(t *testing.T) {
		resp, raw := srv.do(t, http.MethodPost, chatPath, `{"text":"first"}`)
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("first status = %d body=%s", resp.StatusCode, raw)
		}
		resp, _ = srv.do(t, http.MethodPost, "/api/sessions/"+view.ID+"/quick/dispatch", "")
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("second status = %d, want 409", resp.StatusCode)
		}

		_, raw = srv.do(t, http.MethodPost, "/api/sessions/"+view.ID+"/cancel", "")
		if got := decode[map[string]bool](t, raw); !got["cancelled"] {
			t.Fatalf("cancel = %s", raw)
		}
		final := srv.waitIdle(t, view.ID)
		if last := final.Messages[len(final.Messages)-1]; last.State != assistant.MessageCancelled {
			t.Fatalf("cancelled reply = %+v", last)
		}
	})
}

func TestQuickAction(t *testing.T) {
	srv := newTestServer(t, &fakeAI{})
	view := srv.createSession(t)

	resp, raw := srv.do(t, http.MethodPost, "/api/sessions/"+view.ID+"/quick/pricing", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", resp.StatusCode, raw)
	}
	final := srv.waitIdle(t, view.ID)
	n := len(final.Messages)
	if final.Messages[n-2].Text != "Generate: Pricing Analysis" || final.Messages[n-1].Text != "All clear." {
		t.Fatalf("messages = %+v", final.Messages[n-2:])
	}
}

func TestBriefing(t *testing.T) {
	t.Run("cached on second call", func(t *testing.T) {
		srv := newTestServer(t, &fakeAI{})
		view := srv.createSession(t)
		path := "/api/sessions/" + view.ID + "/briefing"

		_, raw := srv.do(t, http.MethodPost, path, "")
		first := decode[assistant.BriefingOutcome](t, raw)
		if first.Text != "All clear." || first.Cached {
			t.Fatalf("first = %+v", first)
		}
		_, raw = srv.do(t, http.MethodPost, path, "")
		if second := decode[assistant.BriefingOutcome](t, raw); !second.Cached {
			t.Fatalf("second = %+v", second)
		}
	})

	t.Run("not configured", func(t *testing.T) {
		srv := newTestServer(t, &fakeAI{err: &aiproxy.StatusError{Status: http.StatusServiceUnavailable, Code: aiproxy.CodeNotConfigured}})
		view := srv.createSession(t)
		resp, raw := srv.do(t, http.MethodPost, "/api/sessions/"+view.ID+"/briefing", "")
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("status = %d body=%s", resp.StatusCode, raw)
		}
		if got := decode[map[string]string](t, raw)["error"]; got != assistant.ConfigErrorText {
			t.Fatalf("error = %q", got)
		}
	})
}

func TestModelSettings(t *testing.T) {
	srv := newTestServer(t, &fakeAI{})

	_, raw := srv.do(t, http.MethodGet, "/api/settings/model", "")
	if got := decode[modelRequest](t, raw).Model; got != assistant.DefaultModel {
		t.Fatalf("default model = %q", got)
	}
	resp, _ := srv.do(t, http.MethodPut, "/api/settings/model", `{"model":"gpt-4"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown model status = %d", resp.StatusCode)
	}
	resp, _ = srv.do(t, http.MethodPut, "/api/settings/model", `{"model":"claude-haiku-4-5-20251001"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set model status = %d", resp.StatusCode)
	}
	if view := srv.createSession(t); view.Model != "claude-haiku-4-5-20251001" {
		t.Fatalf("session model = %q", view.Model)
	}

	_, raw = srv.do(t, http.MethodPost, "/api/settings/test-connection", "")
	got := decode[map[string]any](t, raw)
	if got["ok"] != true || got["message"] != "All clear." {
		t.Fatalf("test connection = %v", got)
	}
}

func TestDeleteSession(t *testing.T) {
	srv := newTestServer(t, &fakeAI{})
	view := srv.createSession(t)

	resp, _ := srv.do(t, http.MethodDelete, "/api/sessions/"+view.ID+"/", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = srv.do(t, http.MethodGet, "/api/sessions/"+view.ID+"/", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", resp.StatusCode)
	}
}
