package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zoobzio/clockz"

	"fleetintel/internal/aiproxy"
	"fleetintel/internal/briefing"
	"fleetintel/internal/observability"
	"fleetintel/internal/storage"
)

// Options wires an Engine to its collaborators. AI and Store are required.
type Options struct {
	AI        AI
	Store     storage.KV
	Briefings *briefing.Cache
	Events    storage.EventLog
	Observer  Observer
	Clock     clockz.Clock
	// Timeout bounds each AI operation; zero means no deadline.
	Timeout   time.Duration
	// IdleTTL closes sessions unused for that long; zero keeps them until deleted.
	IdleTTL   time.Duration
	MaxTokens int
	Log       zerolog.Logger
}

// Engine owns the sessions and the settings shared between them.
type Engine struct {
	ai        AI
	store     storage.KV
	briefings *briefing.Cache
	events    storage.EventLog
	observer  Observer
	clock     clockz.Clock
	timeout   time.Duration
	idleTTL   time.Duration
	maxTokens int
	log       zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewEngine(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clockz.RealClock
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Briefings == nil {
		opts.Briefings = briefing.NewCache(opts.Store, opts.Log)
	}
	return &Engine{
		ai:        opts.AI,
		store:     opts.Store,
		briefings: opts.Briefings,
		events:    opts.Events,
		observer:  opts.Observer,
		clock:     opts.Clock,
		timeout:   opts.Timeout,
		idleTTL:   opts.IdleTTL,
		maxTokens: opts.MaxTokens,
		log:       opts.Log.With().Str("component", "assistant").Logger(),
		sessions:  make(map[string]*Session),
	}
}

// NewSession starts a conversation with the greeting and the stored model preference.
func (e *Engine) NewSession(ctx context.Context) (*Session, error) {
	model, err := e.Model(ctx)
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:         uuid.NewString(),
		engine:     e,
		model:      model,
		lastActive: e.clock.Now(),
	}
	s.messages = append(s.messages, Message{
		ID:        uuid.NewString(),
		Role:      aiproxy.RoleAssistant,
		Text:      Greeting,
		State:     MessageDone,
		CreatedAt: e.clock.Now(),
	})

	e.mu.Lock()
	e.sessions[s.id] = s
	observability.SessionsOpen.Set(float64(len(e.sessions)))
	e.mu.Unlock()
	e.log.Debug().Str("session_id", s.id).Str("model", model).Msg("session started")
	return s, nil
}

// Session looks up a session and marks it as used.
func (e *Engine) Session(id string) (*Session, error) {
	e.mu.RLock()
	s, ok := e.sessions[id]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch(e.clock.Now())
	return s, nil
}

// CloseSession cancels any in-flight operation and forgets the session.
func (e *Engine) CloseSession(id string) error {
	e.mu.Lock()
	s, ok := e.sessions[id]
	delete(e.sessions, id)
	observability.SessionsOpen.Set(float64(len(e.sessions)))
	e.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Cancel()
	return nil
}

// Sessions returns how many sessions are open.
func (e *Engine) Sessions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}

// Sweep closes sessions with no operation in flight that were last used more
// than IdleTTL ago. It returns how many were closed.
func (e *Engine) Sweep() int {
	if e.idleTTL <= 0 {
		return 0
	}
	cutoff := e.clock.Now().Add(-e.idleTTL)

	e.mu.Lock()
	var expired []*Session
	for id, s := range e.sessions {
		if last, idle := s.idleSince(); idle && last.Before(cutoff) {
			delete(e.sessions, id)
			expired = append(expired, s)
		}
	}
	observability.SessionsOpen.Set(float64(len(e.sessions)))
	e.mu.Unlock()

	for _, s := range expired {
		s.Cancel()
		e.log.Debug().Str("session_id", s.id).Msg("idle session closed")
	}
	return len(expired)
}

// CloseAll cancels every in-flight operation and forgets every session.
func (e *Engine) CloseAll() {
	e.mu.Lock()
	sessions := e.sessions
	e.sessions = make(map[string]*Session)
	observability.SessionsOpen.Set(0)
	e.mu.Unlock()

	for _, s := range sessions {
		s.Cancel()
	}
	if len(sessions) > 0 {
		e.log.Info().Int("sessions", len(sessions)).Msg("sessions closed")
	}
}

// Run sweeps idle sessions until ctx is done, then closes the rest.
func (e *Engine) Run(ctx context.Context) {
	defer e.CloseAll()
	if e.idleTTL <= 0 {
		<-ctx.Done()
		return
	}
	every := e.idleTTL / 4
	if every < time.Second {
		every = time.Second
	}
	ticker := e.clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if n := e.Sweep(); n > 0 {
				e.log.Info().Int("closed", n).Msg("idle sessions swept")
			}
		}
	}
}

// Model returns the stored model preference, falling back to the default for
// absent or unknown values.
func (e *Engine) Model(ctx context.Context) (string, error) {
	v, ok, err := e.store.Get(ctx, storage.KeyModelPreference)
	if err != nil {
		return "", fmt.Errorf("read model preference: %w", err)
	}
	if !ok || !knownModel(v) {
		return DefaultModel, nil
	}
	return v, nil
}

// SetModel stores the model preference used by sessions started afterwards.
func (e *Engine) SetModel(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if !knownModel(id) {
		return fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	if err := e.store.Set(ctx, storage.KeyModelPreference, id); err != nil {
		return fmt.Errorf("write model preference: %w", err)
	}
	return nil
}

// TestConnection sends a fixed tiny prompt through the proxy and returns the answer.
func (e *Engine) TestConnection(ctx context.Context) (string, error) {
	model, err := e.Model(ctx)
	if err != nil {
		return "", err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	text, err := e.ai.Complete(ctx, aiproxy.Request{
		Model:     model,
		System:    testConnectionSystem,
		Messages:  []aiproxy.Message{{Role: aiproxy.RoleUser, Content: testConnectionPrompt}},
		MaxTokens: 20,
	})
	if err != nil {
		return "", e.timeoutErr(ctx, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return e.clock.WithTimeout(ctx, e.timeout)
}

// timeoutErr replaces err with errTimedOut when the operation deadline passed.
func (e *Engine) timeoutErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errTimedOut
	}
	return err
}

func (e *Engine) record(sessionID, opID string, kind Kind, model string, state OpState, failure Failure, errText string, started time.Time) {
	outcome := string(state)
	if failure != FailureNone {
		outcome = string(failure)
	}
	elapsed := e.clock.Since(started)
	observability.AIRequestsTotal.WithLabelValues(string(kind), outcome).Inc()
	observability.AIRequestDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())

	logEvt := e.log.Info()
	if state == OpFailed {
		logEvt = e.log.Warn().Str("error", errText)
	}
	logEvt.Str("session_id", sessionID).
		Str("operation_id", opID).
		Str("kind", string(kind)).
		Str("outcome", outcome).
		Dur("duration", elapsed).
		Msg("operation finished")

	if e.events == nil {
		return
	}
	evt := storage.Event{
		SessionID:   sessionID,
		OperationID: opID,
		Kind:        string(kind),
		Outcome:     outcome,
		Model:       model,
		Error:       errText,
		DurationMS:  elapsed.Milliseconds(),
		CreatedAt:   e.clock.Now(),
	}
	// the event log outlives the request that triggered the operation
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.events.AppendEvent(ctx, evt); err != nil {
		e.log.Warn().Err(err).Str("operation_id", opID).Msg("event log append failed")
	}
}
