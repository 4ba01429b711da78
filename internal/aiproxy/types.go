// Package aiproxy talks to the AI proxy endpoint (POST /api/chat) and also
// provides that endpoint, which attaches the server-held provider credential.
package aiproxy

import (
	"errors"
	"fmt"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the proxy request body.
type Request struct {
	Model     string    `json:"model"`
	System    string    `json:"system"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	Stream    bool      `json:"stream,omitempty"`
}

// Delta is one streamed text fragment, or the error that ended the stream.
type Delta struct {
	Text string
	Err  error
}

var (
	// ErrNotConfigured means the proxy holds no provider credential.
	ErrNotConfigured = errors.New("AI credential is not configured")
	// ErrMalformedResponse means the proxy answered 2xx with a body we cannot read.
	ErrMalformedResponse = errors.New("malformed response from AI proxy")
	// ErrTransport wraps network failures talking to the proxy.
	ErrTransport = errors.New("request failed")
)

// CodeNotConfigured tags the proxy's own missing-credential answer.
const CodeNotConfigured = "not_configured"

// StatusError is a non-2xx proxy answer carrying its {error} message and optional code.
type StatusError struct {
	Status  int
	Message string
	Code    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("Request failed (%d)", e.Status)
}

// Is lets errors.Is(err, ErrNotConfigured) match the proxy's missing-credential
// answer. Provider outages never carry the code, whatever their status.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotConfigured && e.Code == CodeNotConfigured
}
