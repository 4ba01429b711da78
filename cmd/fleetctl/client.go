package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"fleetintel/internal/assistant"
)

type apiError struct {
	Error string `json:"error"`
}

func call(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case []byte:
			rd = bytes.NewReader(b)
		default:
			buf, err := json.Marshal(b)
			if err != nil {
				return err
			}
			rd = bytes.NewReader(buf)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(serverURL, "/")+path, rd)
	if err != nil {
		return err
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e apiError
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, e.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if s, ok := out.(*string); ok {
		*s = string(raw)
		return nil
	}
	return json.Unmarshal(raw, out)
}

// follow subscribes to a session's events. The returned channel closes when
// the connection drops or ctx ends.
func follow(ctx context.Context, sessionID string) (<-chan assistant.Event, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/") + "/ws/sessions/" + sessionID)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	c, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	// the first frame is the session view; waiting for it means we are subscribed
	if _, _, err := c.ReadMessage(); err != nil {
		c.Close()
		return nil, fmt.Errorf("ws hello: %w", err)
	}

	sink := make(chan assistant.Event, 64)
	go func() {
		<-ctx.Done()
		c.Close()
	}()
	go func() {
		defer close(sink)
		defer c.Close()
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var evt assistant.Event
			if err := json.Unmarshal(msg, &evt); err != nil {
				continue
			}
			select {
			case sink <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return sink, nil
}

func newSession(ctx context.Context) (assistant.View, error) {
	var view assistant.View
	err := call(ctx, http.MethodPost, "/api/sessions", nil, &view)
	return view, err
}
