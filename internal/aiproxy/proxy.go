package aiproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"fleetintel/internal/observability"
)

// ProxyOptions configures the upstream provider call.
type ProxyOptions struct {
	APIKey           string
	UpstreamURL      string
	AnthropicVersion string
	DefaultModel     string
	DefaultMaxTokens int
}

const notConfiguredMessage = "ANTHROPIC_API_KEY is not configured on the server. Set it as an environment variable."

// Proxy serves POST /api/chat and attaches the provider credential to the upstream call.
type Proxy struct {
	opts ProxyOptions
	http *http.Client
	log  zerolog.Logger
}

func NewProxy(opts ProxyOptions, httpClient *http.Client, log zerolog.Logger) *Proxy {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if opts.UpstreamURL == "" {
		opts.UpstreamURL = "https://api.anthropic.com/v1/messages"
	}
	if opts.AnthropicVersion == "" {
		opts.AnthropicVersion = "2023-06-01"
	}
	if opts.DefaultModel == "" {
		opts.DefaultModel = "claude-sonnet-4-6"
	}
	if opts.DefaultMaxTokens <= 0 {
		opts.DefaultMaxTokens = 2000
	}
	return &Proxy{opts: opts, http: httpClient, log: log.With().Str("component", "aiproxy").Logger()}
}

// AttachRoutes mounts the chat endpoint on r.
func (p *Proxy) AttachRoutes(r chi.Router) {
	r.Post(chatPath, p.Chat)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method Not Allowed"})
	})
}

type chatPayload struct {
	Model     string          `json:"model"`
	System    string          `json:"system"`
	Messages  json.RawMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
	Stream    bool            `json:"stream"`
}

type upstreamRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  json.RawMessage `json:"messages"`
	Stream    bool            `json:"stream,omitempty"`
}

type upstreamError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type upstreamMessage struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *Proxy) Chat(w http.ResponseWriter, r *http.Request) {
	if p.opts.APIKey == "" {
		observability.ProxyRequestsTotal.WithLabelValues(strconv.Itoa(http.StatusServiceUnavailable), "false").Inc()
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: notConfiguredMessage, Code: CodeNotConfigured})
		return
	}

	var payload chatPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		p.fail(w, http.StatusBadRequest, "Invalid request body", false)
		return
	}
	var msgs []json.RawMessage
	if err := json.Unmarshal(payload.Messages, &msgs); err != nil || len(msgs) == 0 {
		p.fail(w, http.StatusBadRequest, "messages array is required", payload.Stream)
		return
	}
	if payload.Model == "" {
		payload.Model = p.opts.DefaultModel
	}
	if payload.MaxTokens <= 0 {
		payload.MaxTokens = p.opts.DefaultMaxTokens
	}

	resp, err := p.forward(r.Context(), upstreamRequest{
		Model:     payload.Model,
		MaxTokens: payload.MaxTokens,
		System:    payload.System,
		Messages:  payload.Messages,
		Stream:    payload.Stream,
	})
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		p.log.Error().Err(err).Msg("upstream request failed")
		p.fail(w, http.StatusInternalServerError, err.Error(), payload.Stream)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var upErr upstreamError
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&upErr)
		msg := upErr.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("Anthropic API error %d", resp.StatusCode)
		}
		p.log.Warn().Int("status", resp.StatusCode).Str("error", msg).Msg("upstream rejected request")
		p.fail(w, downstreamStatus(resp.StatusCode), msg, payload.Stream)
		return
	}

	if payload.Stream {
		p.relay(w, r, resp.Body)
		return
	}

	var msg upstreamMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		p.fail(w, http.StatusInternalServerError, "Invalid response from Anthropic API", false)
		return
	}
	text := ""
	if len(msg.Content) > 0 {
		text = msg.Content[0].Text
	}
	observability.ProxyRequestsTotal.WithLabelValues("200", "false").Inc()
	writeJSON(w, http.StatusOK, textBody{Text: &text})
}

func (p *Proxy) forward(ctx context.Context, body upstreamRequest) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.UpstreamURL, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", p.opts.APIKey)
	req.Header.Set("anthropic-version", p.opts.AnthropicVersion)
	req.Header.Set("content-type", "application/json")
	if body.Stream {
		req.Header.Set("accept", "text/event-stream")
	}
	return p.http.Do(req)
}

// providerEvent is the subset of the provider's stream events the relay reads.
type providerEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// relay rewrites the provider's event stream into {"text"} events ending with [DONE].
func (p *Proxy) relay(w http.ResponseWriter, r *http.Request, body io.Reader) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emit := func(event string, payload any) bool {
		var buf bytes.Buffer
		if event != "" {
			buf.WriteString("event: " + event + "\n")
		}
		switch v := payload.(type) {
		case string:
			buf.WriteString("data: " + v + "\n\n")
		default:
			raw, _ := json.Marshal(v)
			buf.WriteString("data: ")
			buf.Write(raw)
			buf.WriteString("\n\n")
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	status := "200"
	finished := false
	err := readEvents(body, func(_, data string) bool {
		var evt providerEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			return true
		}
		switch evt.Type {
		case "content_block_delta":
			if evt.Delta.Type != "text_delta" || evt.Delta.Text == "" {
				return true
			}
			return emit("", map[string]string{"text": evt.Delta.Text})
		case "message_stop":
			finished = true
			emit("", "[DONE]")
			return false
		case "error":
			msg := evt.Error.Message
			if msg == "" {
				msg = "Anthropic stream error"
			}
			status = "stream_error"
			finished = true
			emit("error", errorBody{Error: msg})
			return false
		}
		return true
	})

	switch {
	case r.Context().Err() != nil:
		status = "cancelled"
	case err != nil:
		status = "stream_error"
		emit("error", errorBody{Error: err.Error()})
	case !finished:
		status = "stream_error"
		emit("error", errorBody{Error: "Anthropic stream ended unexpectedly"})
	}
	observability.ProxyRequestsTotal.WithLabelValues(status, "true").Inc()
}

// downstreamStatus keeps 503 for the proxy's own missing credential; a provider
// 503 is reported as a bad gateway.
func downstreamStatus(upstream int) int {
	if upstream == http.StatusServiceUnavailable {
		return http.StatusBadGateway
	}
	return upstream
}

func (p *Proxy) fail(w http.ResponseWriter, status int, msg string, stream bool) {
	observability.ProxyRequestsTotal.WithLabelValues(strconv.Itoa(status), strconv.FormatBool(stream)).Inc()
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
