package assistant

import (
	"errors"
	"strings"

	"fleetintel/internal/aiproxy"
)

// BuildHistory keeps user messages and assistant messages that carry text,
// so an in-progress assistant turn is never sent upstream.
func BuildHistory(msgs []Message) []aiproxy.Message {
	out := make([]aiproxy.Message, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case m.Role == aiproxy.RoleUser:
		case m.Role == aiproxy.RoleAssistant && m.Text != "":
		default:
			continue
		}
		out = append(out, aiproxy.Message{Role: m.Role, Content: m.Text})
	}
	return out
}

// classify maps an operation error to its failure kind and the short text shown to the user.
func classify(err error) (Failure, string) {
	var se *aiproxy.StatusError
	switch {
	case errors.Is(err, aiproxy.ErrNotConfigured):
		return FailureConfig, ConfigErrorText
	case errors.Is(err, errTimedOut):
		return FailureTimeout, errTimedOut.Error()
	case errors.Is(err, aiproxy.ErrMalformedResponse):
		return FailureMalformed, err.Error()
	case errors.As(err, &se):
		return FailureTransport, se.Error()
	case errors.Is(err, aiproxy.ErrTransport):
		return FailureTransport, aiproxy.ErrTransport.Error()
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = aiproxy.ErrTransport.Error()
	}
	return FailureTransport, msg
}

// Describe returns the failure kind and user-facing text for an error returned
// by Briefing or TestConnection.
func Describe(err error) (Failure, string) {
	if errors.Is(err, ErrEmptyResponse) {
		return FailureMalformed, err.Error()
	}
	return classify(err)
}
