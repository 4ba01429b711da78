package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetintel/internal/aiproxy"
	"fleetintel/internal/fleet"
	"fleetintel/internal/observability"
)

// Session is one conversation. Chat turns and quick actions share a single
// in-flight slot; the daily briefing does not take it.
type Session struct {
	id     string
	engine *Engine

	mu         sync.Mutex
	model      string
	messages   []Message
	current    *Operation
	lastActive time.Time
}

// Operation is one chat turn or quick action. Its target message receives the
// answer and reaches exactly one terminal state.
type Operation struct {
	ID        string
	Kind      Kind
	MessageID string

	session *Session
	label   string
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
	done    chan struct{}

	// guarded by session.mu
	state   OpState
	failure Failure
	errText string
}

// View is a consistent copy of the session state.
type View struct {
	ID          string    `json:"id"`
	Model       string    `json:"model"`
	State       OpState   `json:"state"`
	OperationID string    `json:"operationId,omitempty"`
	Messages    []Message `json:"messages"`
}

// BriefingOutcome is the briefing text and the message appended for it.
type BriefingOutcome struct {
	Text      string  `json:"text"`
	Cached    bool    `json:"cached"`
	Persisted bool    `json:"persisted"`
	Message   Message `json:"message"`
}

func (s *Session) ID() string { return s.id }

func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

// Attach calls fn with the current view while no event can be published, so an
// observer registered inside fn sees every event after that view and none before.
// fn must not block.
func (s *Session) Attach(fn func(View)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.view())
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

// idleSince reports when the session was last used; ok is false while an
// operation is in flight.
func (s *Session) idleSince() (last time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive, s.current == nil
}

func (s *Session) view() View {
	v := View{ID: s.id, Model: s.model, State: OpIdle, Messages: append([]Message(nil), s.messages...)}
	if s.current != nil {
		v.State = OpInFlight
		v.OperationID = s.current.ID
	}
	return v
}

// Busy reports whether a chat turn or quick action is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// SendMessage appends the user turn and streams the answer into a new assistant
// message. It returns once the request is issued; the operation runs until a
// terminal state even if ctx is cancelled, use Cancel to stop it.
func (s *Session) SendMessage(ctx context.Context, system, text string) (*Operation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return nil, ErrBusy
	}
	user := s.appendMessage(aiproxy.RoleUser, text, MessageDone)
	history := BuildHistory(s.messages)
	reply := s.appendMessage(aiproxy.RoleAssistant, "", MessageStreaming)

	op := s.begin(ctx, KindChat, reply.ID, "")
	s.publishMessage(user)
	s.publishMessage(reply)
	s.publishOperation(op)

	req := aiproxy.Request{Model: s.model, System: system, Messages: history, MaxTokens: s.engine.maxTokens}
	go s.stream(op, req)
	return op, nil
}

// RunQuickAction requests a canned report. The answer replaces a loading
// assistant message once complete.
func (s *Session) RunQuickAction(ctx context.Context, system, actionID string) (*Operation, error) {
	action, ok := LookupQuickAction(actionID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, actionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return nil, ErrBusy
	}
	user := s.appendMessage(aiproxy.RoleUser, "Generate: "+action.Label, MessageDone)
	reply := s.appendMessage(aiproxy.RoleAssistant, "", MessageLoading)

	op := s.begin(ctx, KindQuickAction, reply.ID, action.Label)
	s.publishMessage(user)
	s.publishMessage(reply)
	s.publishOperation(op)

	req := aiproxy.Request{
		Model:     s.model,
		System:    system,
		Messages:  []aiproxy.Message{{Role: aiproxy.RoleUser, Content: action.Prompt(s.engine.clock.Now())}},
		MaxTokens: s.engine.maxTokens,
	}
	go s.complete(op, req)
	return op, nil
}

// Cancel stops the in-flight chat turn or quick action, if any.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	op := s.current
	s.mu.Unlock()
	if op == nil {
		return false
	}
	return op.Cancel()
}

// Briefing returns today's briefing, generating it at most once per UTC day
// across sessions, and appends it to the conversation.
func (s *Session) Briefing(ctx context.Context, system string) (BriefingOutcome, error) {
	e := s.engine
	opID := uuid.NewString()
	started := e.clock.Now()
	model := s.Model()
	today := fleet.DateKey(started)

	res, err := e.briefings.GetOrRefresh(ctx, today, func(gctx context.Context) (string, error) {
		gctx, cancel := e.withTimeout(gctx)
		defer cancel()
		text, err := e.ai.Complete(gctx, aiproxy.Request{
			Model:     model,
			System:    system,
			Messages:  []aiproxy.Message{{Role: aiproxy.RoleUser, Content: BriefingPrompt(started)}},
			MaxTokens: e.maxTokens,
		})
		if err != nil {
			return "", e.timeoutErr(gctx, err)
		}
		if strings.TrimSpace(text) == "" {
			return "", ErrEmptyResponse
		}
		return text, nil
	})

	switch {
	case errors.Is(err, ErrEmptyResponse):
		msg := s.addMessage(aiproxy.RoleAssistant, briefingHeader+EmptyBriefingText, MessageError)
		e.record(s.id, opID, KindBriefing, model, OpFailed, FailureMalformed, err.Error(), started)
		return BriefingOutcome{Text: EmptyBriefingText, Message: msg}, nil
	case errors.Is(err, context.Canceled):
		e.record(s.id, opID, KindBriefing, model, OpCancelled, FailureNone, "", started)
		return BriefingOutcome{}, err
	case err != nil:
		failure, text := classify(err)
		e.record(s.id, opID, KindBriefing, model, OpFailed, failure, text, started)
		return BriefingOutcome{}, err
	}

	header := briefingHeader
	if res.Cached {
		header = briefingCachedHeader
	}
	msg := s.addMessage(aiproxy.RoleAssistant, header+res.Text, MessageDone)
	e.record(s.id, opID, KindBriefing, model, OpCompleted, FailureNone, "", started)
	return BriefingOutcome{Text: res.Text, Cached: res.Cached, Persisted: res.Persisted || res.Cached, Message: msg}, nil
}

// Done is closed when the operation reaches a terminal state.
func (o *Operation) Done() <-chan struct{} { return o.done }

func (o *Operation) State() OpState {
	o.session.mu.Lock()
	defer o.session.mu.Unlock()
	return o.state
}

// Failure returns the failure kind and user-facing text of a failed operation.
func (o *Operation) Failure() (Failure, string) {
	o.session.mu.Lock()
	defer o.session.mu.Unlock()
	return o.failure, o.errText
}

// Cancel stops the transport, freezes the target message as cancelled and
// frees the session slot. Cancelling a finished operation is a no-op.
func (o *Operation) Cancel() bool {
	s := o.session
	s.mu.Lock()
	if !s.settle(o, OpCancelled, FailureNone, "", "") {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	o.cancel()
	s.engine.record(s.id, o.ID, o.Kind, s.Model(), OpCancelled, FailureNone, "", o.started)
	return true
}

// begin claims the slot. The operation context is detached from the caller so
// it is only stopped by Cancel or the engine timeout.
func (s *Session) begin(parent context.Context, kind Kind, messageID, label string) *Operation {
	ctx, cancel := s.engine.withTimeout(context.WithoutCancel(parent))
	op := &Operation{
		ID:        uuid.NewString(),
		Kind:      kind,
		MessageID: messageID,
		session:   s,
		label:     label,
		ctx:       ctx,
		cancel:    cancel,
		started:   s.engine.clock.Now(),
		done:      make(chan struct{}),
		state:     OpInFlight,
	}
	s.current = op
	return op
}

func (s *Session) stream(op *Operation, req aiproxy.Request) {
	defer op.cancel()
	deltas, err := s.engine.ai.Stream(op.ctx, req)
	if err != nil {
		s.finish(op, "", err)
		return
	}
	var streamErr error
	for d := range deltas {
		if d.Err != nil {
			streamErr = d.Err
			continue
		}
		s.appendChunk(op, d.Text)
	}
	s.finish(op, "", streamErr)
}

func (s *Session) complete(op *Operation, req aiproxy.Request) {
	defer op.cancel()
	text, err := s.engine.ai.Complete(op.ctx, req)
	s.finish(op, text, err)
}

// appendChunk applies one streamed fragment; fragments arriving after the
// operation left inFlight are dropped.
func (s *Session) appendChunk(op *Operation, chunk string) {
	if chunk == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if op.state != OpInFlight {
		return
	}
	msg := s.message(op.MessageID)
	if msg == nil {
		return
	}
	msg.Text += chunk
	observability.StreamChunksTotal.Inc()
	s.engine.observer.Publish(Event{
		Type:        EventChunk,
		SessionID:   s.id,
		OperationID: op.ID,
		Kind:        op.Kind,
		MessageID:   msg.ID,
		Chunk:       chunk,
	})
}

func (s *Session) finish(op *Operation, result string, err error) {
	state, failure, errText := OpCompleted, FailureNone, ""
	if ctxErr := op.ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		err = errTimedOut
	} else if ctxErr != nil && err == nil {
		err = ctxErr
	}
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		state = OpCancelled
	default:
		state = OpFailed
		failure, errText = classify(err)
	}

	s.mu.Lock()
	settled := s.settle(op, state, failure, errText, result)
	model := s.model
	s.mu.Unlock()
	if settled {
		s.engine.record(s.id, op.ID, op.Kind, model, state, failure, errText, op.started)
	}
}

// settle moves op to a terminal state exactly once, updating its target
// message and releasing the slot. Callers hold s.mu.
func (s *Session) settle(op *Operation, state OpState, failure Failure, errText, result string) bool {
	if op.state != OpInFlight {
		return false
	}
	op.state, op.failure, op.errText = state, failure, errText
	s.lastActive = s.engine.clock.Now()

	if msg := s.message(op.MessageID); msg != nil {
		switch state {
		case OpCompleted:
			if op.Kind == KindQuickAction {
				msg.Text = result
				if strings.TrimSpace(result) == "" {
					msg.Text = NoResponseText
				}
			}
			msg.State = MessageDone
		case OpFailed:
			msg.Text = failureText(op, failure, errText)
			msg.State = MessageError
		case OpCancelled:
			msg.State = MessageCancelled
		}
		s.publishMessage(*msg)
	}

	if s.current == op {
		s.current = nil
	}
	close(op.done)
	s.publishOperation(op)
	return true
}

func failureText(op *Operation, failure Failure, errText string) string {
	if failure == FailureConfig {
		return ConfigErrorText
	}
	if op.Kind == KindQuickAction {
		return fmt.Sprintf("❌ Error generating %s: %s", op.label, errText)
	}
	return "❌ Error: " + errText
}

func (s *Session) appendMessage(role, text string, state MessageState) Message {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		State:     state,
		CreatedAt: s.engine.clock.Now(),
	}
	s.messages = append(s.messages, msg)
	return msg
}

// addMessage appends and publishes a finished message outside any operation.
func (s *Session) addMessage(role, text string, state MessageState) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.appendMessage(role, text, state)
	s.publishMessage(msg)
	return msg
}

func (s *Session) message(id string) *Message {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return &s.messages[i]
		}
	}
	return nil
}

func (s *Session) publishMessage(msg Message) {
	s.engine.observer.Publish(Event{Type: EventMessage, SessionID: s.id, MessageID: msg.ID, Message: &msg})
}

func (s *Session) publishOperation(op *Operation) {
	s.engine.observer.Publish(Event{
		Type:        EventOperation,
		SessionID:   s.id,
		OperationID: op.ID,
		Kind:        op.Kind,
		State:       op.state,
		Failure:     op.failure,
		Error:       op.errText,
		MessageID:   op.MessageID,
	})
}
