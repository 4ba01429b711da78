package storage

import (
	"context"
	"sync"
	"time"
)

// Event records the terminal outcome of one assistant operation.
type Event struct {
	SessionID   string    `json:"sessionId"`
	OperationID string    `json:"operationId"`
	Kind        string    `json:"kind"`
	Outcome     string    `json:"outcome"`
	Model       string    `json:"model,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMS  int64     `json:"durationMs"`
	CreatedAt   time.Time `json:"createdAt"`
}

type EventLog interface {
	AppendEvent(ctx context.Context, evt Event) error
	ListEvents(ctx context.Context, sessionID string, limit, offset int) ([]Event, error)
	CountEvents(ctx context.Context, sessionID string) (int, error)
}

func (p *Postgres) AppendEvent(ctx context.Context, evt Event) error {
	var created *time.Time
	if !evt.CreatedAt.IsZero() {
		created = &evt.CreatedAt
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO assistant_events (session_id, operation_id, kind, outcome, model, error, duration_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,COALESCE($8,NOW()))
`, evt.SessionID, evt.OperationID, evt.Kind, evt.Outcome, evt.Model, evt.Error, evt.DurationMS, created)
	return err
}

func (p *Postgres) ListEvents(ctx context.Context, sessionID string, limit, offset int) ([]Event, error) {
	rows, err := p.pool.Query(ctx, `
SELECT session_id, operation_id, kind, outcome, model, error, duration_ms, created_at
FROM assistant_events
WHERE session_id = $1
ORDER BY created_at ASC, id ASC
LIMIT $2 OFFSET $3
`, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.SessionID, &evt.OperationID, &evt.Kind, &evt.Outcome, &evt.Model, &evt.Error, &evt.DurationMS, &evt.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (p *Postgres) CountEvents(ctx context.Context, sessionID string) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM assistant_events WHERE session_id = $1`, sessionID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// MemoryEventLog keeps the most recent events in process.
type MemoryEventLog struct {
	mu     sync.RWMutex
	max    int
	events []Event
}

func NewMemoryEventLog(max int) *MemoryEventLog {
	if max <= 0 {
		max = 1000
	}
	return &MemoryEventLog{max: max}
}

func (m *MemoryEventLog) AppendEvent(_ context.Context, evt Event) error {
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	if over := len(m.events) - m.max; over > 0 {
		m.events = append([]Event(nil), m.events[over:]...)
	}
	return nil
}

func (m *MemoryEventLog) ListEvents(_ context.Context, sessionID string, limit, offset int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	skipped := 0
	for _, evt := range m.events {
		if evt.SessionID != sessionID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, evt)
	}
	return out, nil
}

func (m *MemoryEventLog) CountEvents(_ context.Context, sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, evt := range m.events {
		if evt.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}
