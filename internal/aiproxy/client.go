package aiproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

const chatPath = "/api/chat"

// Client is a thin HTTP client for the proxy. It never holds the provider credential.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient targets baseURL (scheme://host[:port]). The http client should not
// carry an overall timeout because streams stay open for the whole answer;
// deadlines come from the request context.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Complete sends req and returns the whole answer text.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	req.Stream = false
	resp, err := c.post(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}
	return decodeText(resp.Body)
}

// Stream sends req and yields the answer as ordered deltas. The channel is closed
// after the last delta; a failed or cancelled stream ends with a Delta carrying Err.
// Cancelling ctx stops the transport and the producer goroutine.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan Delta, error) {
	req.Stream = true
	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	out := make(chan Delta)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		send := func(d Delta) bool {
			select {
			case out <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if isJSON(resp.Header.Get("Content-Type")) {
			text, err := decodeText(resp.Body)
			if err != nil {
				send(Delta{Err: err})
				return
			}
			send(Delta{Text: text})
			return
		}

		var (
			done      bool
			streamErr error
		)
		readErr := readEvents(resp.Body, func(event, data string) bool {
			if data == "[DONE]" {
				done = true
				return false
			}
			text, err := parseEvent(event, data)
			if err != nil {
				streamErr = err
				return false
			}
			if text == "" {
				return true
			}
			return send(Delta{Text: text})
		})

		switch {
		case ctx.Err() != nil:
			send(Delta{Err: ctx.Err()})
		case streamErr != nil:
			send(Delta{Err: streamErr})
		case readErr != nil:
			send(Delta{Err: fmt.Errorf("%w: %v", ErrTransport, readErr)})
		case !done:
			send(Delta{Err: fmt.Errorf("%w: stream ended before completion", ErrTransport)})
		}
	}()
	return out, nil
}

func (c *Client) post(ctx context.Context, req Request) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return resp, nil
}

type textBody struct {
	Text *string `json:"text"`
}

func decodeText(r io.Reader) (string, error) {
	var body textBody
	if err := json.NewDecoder(r).Decode(&body); err != nil || body.Text == nil {
		return "", ErrMalformedResponse
	}
	return *body.Text, nil
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func statusError(resp *http.Response) error {
	var body errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	_ = json.Unmarshal(raw, &body)
	return &StatusError{Status: resp.StatusCode, Message: body.Error, Code: body.Code}
}

// streamEvent covers both the proxy's {"text"} events and provider-native deltas.
type streamEvent struct {
	Text  string `json:"text"`
	Error string `json:"error"`
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

func parseEvent(event, data string) (string, error) {
	var evt streamEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		return "", ErrMalformedResponse
	}
	if event == "error" || evt.Error != "" {
		msg := evt.Error
		if msg == "" {
			msg = "stream failed"
		}
		return "", &StatusError{Status: http.StatusBadGateway, Message: msg}
	}
	if evt.Text != "" {
		return evt.Text, nil
	}
	return evt.Delta.Text, nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}
