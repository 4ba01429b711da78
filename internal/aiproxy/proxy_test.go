package aiproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func newProxyServer(t *testing.T, key string, upstream http.HandlerFunc) *httptest.Server {
	t.Helper()
	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)

	r := chi.NewRouter()
	NewProxy(ProxyOptions{APIKey: key, UpstreamURL: up.URL}, up.Client(), zerolog.Nop()).AttachRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url+"/api/chat", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestProxyValidation(t *testing.T) {
	unreachable := func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("upstream must not be called")
	}

	t.Run("missing key", func(t *testing.T) {
		srv := newProxyServer(t, "", unreachable)
		status, body := post(t, srv.URL, `{"messages":[{"role":"user","content":"hi"}]}`)
		if status != http.StatusServiceUnavailable || !strings.HasPrefix(body["error"].(string), "ANTHROPIC_API_KEY is not configured") {
			t.Fatalf("status=%d body=%v", status, body)
		}
		if body["code"] != CodeNotConfigured {
			t.Fatalf("code = %v", body["code"])
		}
	})

	srv := newProxyServer(t, "sk-test", unreachable)
	cases := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{"messages":`, "Invalid request body"},
		{"missing messages", `{"model":"x"}`, "messages array is required"},
		{"empty messages", `{"messages":[]}`, "messages array is required"},
		{"messages not array", `{"messages":"hi"}`, "messages array is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := post(t, srv.URL, tc.body)
			if status != http.StatusBadRequest || body["error"] != tc.want {
				t.Fatalf("status=%d body=%v", status, body)
			}
		})
	}

	t.Run("wrong method", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/chat")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	})
}

func TestProxyForwardsWithDefaults(t *testing.T) {
	srv := newProxyServer(t, "sk-test", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "sk-test" || r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("missing provider headers: %v", r.Header)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "claude-sonnet-4-6" || req["max_tokens"] != float64(2000) || req["system"] != "be brief" {
			t.Errorf("unexpected upstream body %v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"content":[{"type":"text","text":"Fleet is healthy."}]}`)
	})
	status, body := post(t, srv.URL, `{"system":"be brief","messages":[{"role":"user","content":"status?"}]}`)
	if status != http.StatusOK || body["text"] != "Fleet is healthy." {
		t.Fatalf("status=%d body=%v", status, body)
	}
}

func TestProxyPassesUpstreamErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"with message", http.StatusTooManyRequests, `{"type":"error","error":{"type":"rate_limit_error","message":"Rate limited"}}`, "Rate limited"},
		{"without message", http.StatusInternalServerError, `oops`, "Anthropic API error 500"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newProxyServer(t, "sk-test", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			})
			status, body := post(t, srv.URL, `{"messages":[{"role":"user","content":"hi"}]}`)
			if status != tc.status || body["error"] != tc.want {
				t.Fatalf("status=%d body=%v", status, body)
			}
		})
	}
}

func TestProxyUpstreamUnavailableIsNotConfigError(t *testing.T) {
	srv := newProxyServer(t, "sk-test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	})
	status, body := post(t, srv.URL, `{"messages":[{"role":"user","content":"hi"}]}`)
	if status != http.StatusBadGateway || body["error"] != "Overloaded" || body["code"] != nil {
		t.Fatalf("status=%d body=%v", status, body)
	}

	_, err := NewClient(srv.URL, srv.Client()).Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	var se *StatusError
	if !errors.As(err, &se) || se.Message != "Overloaded" || errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}

func TestProxyRelaysStream(t *testing.T) {
	srv := newProxyServer(t, "sk-test", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["stream"] != true {
			t.Errorf("stream flag not forwarded: %v", req)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"type":"message_start","message":{"id":"msg_1"}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Assign "}}`,
			`{"type":"ping"}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Dawit."}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_stop"}`,
		}
		for _, e := range events {
			var head struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal([]byte(e), &head)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", head.Type, e)
		}
	})

	ch, err := NewClient(srv.URL, srv.Client()).Stream(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "who?"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	texts, err := collect(t, ch)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got := strings.Join(texts, ""); got != "Assign Dawit." {
		t.Fatalf("relayed text = %q", got)
	}
}

func TestProxyRelaysStreamError(t *testing.T) {
	srv := newProxyServer(t, "sk-test", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	})
	ch, err := NewClient(srv.URL, srv.Client()).Stream(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	_, err = collect(t, ch)
	var se *StatusError
	if !errors.As(err, &se) || se.Message != "Overloaded" {
		t.Fatalf("err = %v", err)
	}
}
