// Package assistant orchestrates AI requests for a conversation: chat turns,
// quick actions and the daily briefing, with single-flight and cancellation.
package assistant

import (
	"context"
	"errors"
	"time"

	"fleetintel/internal/aiproxy"
)

type Kind string

const (
	KindChat        Kind = "chat"
	KindQuickAction Kind = "quick_action"
	KindBriefing    Kind = "briefing"
)

// OpState is the lifecycle of one operation: idle -> inFlight -> terminal.
type OpState string

const (
	OpIdle      OpState = "idle"
	OpInFlight  OpState = "in_flight"
	OpCompleted OpState = "completed"
	OpCancelled OpState = "cancelled"
	OpFailed    OpState = "failed"
)

func (s OpState) Terminal() bool {
	return s == OpCompleted || s == OpCancelled || s == OpFailed
}

// Failure distinguishes why an operation failed.
type Failure string

const (
	FailureNone      Failure = ""
	FailureConfig    Failure = "config"
	FailureTransport Failure = "transport"
	FailureMalformed Failure = "malformed"
	FailureTimeout   Failure = "timeout"
)

type MessageState string

const (
	MessageLoading   MessageState = "loading"
	MessageStreaming MessageState = "streaming"
	MessageDone      MessageState = "done"
	MessageError     MessageState = "error"
	MessageCancelled MessageState = "cancelled"
)

// Message is one conversation turn.
type Message struct {
	ID        string       `json:"id"`
	Role      string       `json:"role"`
	Text      string       `json:"text"`
	State     MessageState `json:"state"`
	CreatedAt time.Time    `json:"createdAt"`
}

type EventType string

const (
	// EventMessage carries a full copy of a message that was added or reached a terminal state.
	EventMessage EventType = "message"
	// EventChunk carries one streamed fragment appended to MessageID.
	EventChunk EventType = "chunk"
	// EventOperation reports an operation state transition.
	EventOperation EventType = "operation"
)

// Event is what observers receive, in the order the session applied it.
type Event struct {
	Type        EventType `json:"type"`
	SessionID   string    `json:"sessionId"`
	OperationID string    `json:"operationId,omitempty"`
	Kind        Kind      `json:"kind,omitempty"`
	State       OpState   `json:"state,omitempty"`
	Failure     Failure   `json:"failure,omitempty"`
	Error       string    `json:"error,omitempty"`
	MessageID   string    `json:"messageId,omitempty"`
	Chunk       string    `json:"chunk,omitempty"`
	Message     *Message  `json:"message,omitempty"`
}

// Observer receives session events. Publish is called with the session locked
// and must not block.
type Observer interface {
	Publish(evt Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Publish(evt Event) { f(evt) }

type nopObserver struct{}

func (nopObserver) Publish(Event) {}

// AI is the proxy client surface the orchestrator needs.
type AI interface {
	Complete(ctx context.Context, req aiproxy.Request) (string, error)
	Stream(ctx context.Context, req aiproxy.Request) (<-chan aiproxy.Delta, error)
}

var (
	ErrBusy            = errors.New("another request is in progress")
	ErrEmptyInput      = errors.New("message text is empty")
	ErrUnknownAction   = errors.New("unknown quick action")
	ErrUnknownModel    = errors.New("unknown model")
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyResponse   = errors.New("Empty response from server")
	errTimedOut        = errors.New("request timed out")
)
