package aiproxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, srv.Client())
}

func collect(t *testing.T, ch <-chan Delta) ([]string, error) {
	t.Helper()
	var (
		texts []string
		err   error
	)
	timeout := time.After(2 * time.Second)
	for {
		select {
		case d, ok := <-ch:
			if !ok {
				return texts, err
			}
			if d.Err != nil {
				err = d.Err
				continue
			}
			texts = append(texts, d.Text)
		case <-timeout:
			t.Fatalf("stream did not close")
		}
	}
}

func sse(w http.ResponseWriter, lines ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, l := range lines {
		fmt.Fprint(w, l)
		w.(http.Flusher).Flush()
	}
}

func TestCompleteReturnsText(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"All rides covered."}`))
	})
	got, err := c.Complete(context.Background(), Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil || got != "All rides covered." {
		t.Fatalf("got %q err=%v", got, err)
	}
}

func TestCompleteErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
		msg    string
	}{
		{
			name:   "not configured",
			status: http.StatusServiceUnavailable,
			body:   `{"error":"ANTHROPIC_API_KEY is not configured on the server.","code":"not_configured"}`,
			check:  func(err error) bool { return errors.Is(err, ErrNotConfigured) },
			msg:    "ANTHROPIC_API_KEY is not configured on the server.",
		},
		{
			name:   "unavailable without code",
			status: http.StatusServiceUnavailable,
			body:   `{"error":"Overloaded"}`,
			check: func(err error) bool {
				var se *StatusError
				return errors.As(err, &se) && !errors.Is(err, ErrNotConfigured)
			},
			msg: "Overloaded",
		},
		{
			name:   "upstream status with message",
			status: http.StatusTooManyRequests,
			body:   `{"error":"rate limited"}`,
			check: func(err error) bool {
				var se *StatusError
				return errors.As(err, &se) && se.Status == http.StatusTooManyRequests && !errors.Is(err, ErrNotConfigured)
			},
			msg: "rate limited",
		},
		{
			name:   "status without body",
			status: http.StatusBadGateway,
			body:   ``,
			check: func(err error) bool {
				var se *StatusError
				return errors.As(err, &se)
			},
			msg: "Request failed (502)",
		},
		{
			name:   "malformed success",
			status: http.StatusOK,
			body:   `{"answer":"x"}`,
			check:  func(err error) bool { return errors.Is(err, ErrMalformedResponse) },
			msg:    ErrMalformedResponse.Error(),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			_, err := c.Complete(context.Background(), Request{})
			if err == nil || !tc.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
			if err.Error() != tc.msg {
				t.Fatalf("message = %q want %q", err.Error(), tc.msg)
			}
		})
	}
}

func TestCompleteTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, nil).Complete(context.Background(), Request{})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestStreamDeliversDeltasInOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("missing stream accept header")
		}
		sse(w,
			"data: {\"text\":\"Two \"}\n\n",
			": keepalive\n\n",
			"data: {\"text\":\"rides \"}\n\n",
			"data: {\"text\":\"unassigned.\"}\n\n",
			"data: [DONE]\n\n",
		)
	})
	ch, err := c.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	texts, err := collect(t, ch)
	if err != nil {
		t.Fatalf("unexpected stream error %v", err)
	}
	if got := strings.Join(texts, "|"); got != "Two |rides |unassigned." {
		t.Fatalf("deltas = %q", got)
	}
}

func TestStreamErrorEvent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		sse(w,
			"data: {\"text\":\"partial\"}\n\n",
			"event: error\ndata: {\"error\":\"overloaded\"}\n\n",
		)
	})
	ch, err := c.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	texts, err := collect(t, ch)
	if len(texts) != 1 || texts[0] != "partial" {
		t.Fatalf("texts = %v", texts)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Message != "overloaded" {
		t.Fatalf("err = %v", err)
	}
}

func TestStreamTruncatedIsTransportError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		sse(w, "data: {\"text\":\"half\"}\n\n")
	})
	ch, err := c.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if _, err := collect(t, ch); !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v", err)
	}
}

func TestStreamFallsBackToJSONBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{"text":"whole answer"}`))
	})
	ch, err := c.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	texts, err := collect(t, ch)
	if err != nil || len(texts) != 1 || texts[0] != "whole answer" {
		t.Fatalf("texts=%v err=%v", texts, err)
	}
}

func TestStreamStatusErrorBeforeBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"no key"}`))
	})
	if _, err := c.Stream(context.Background(), Request{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}

func TestStreamCancellationClosesChannel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		sse(w, "data: {\"text\":\"first\"}\n\n")
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Stream(ctx, Request{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	first := <-ch
	if first.Text != "first" {
		t.Fatalf("first delta = %+v", first)
	}
	cancel()
	_, err = collect(t, ch)
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation or silent close, got %v", err)
	}
}
