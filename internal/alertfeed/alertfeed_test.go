package alertfeed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fleetintel/internal/fleet"
	"fleetintel/internal/risk"
)

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]Change
	closed  bool
}

func (p *recordingPublisher) Publish(_ context.Context, changes []Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, changes)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *recordingPublisher) snapshot() ([][]Change, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]Change(nil), p.batches...), p.closed
}

func ids(alerts []risk.Alert) []string {
	out := make([]string, len(alerts))
	for i, a := range alerts {
		out[i] = a.ID
	}
	return out
}

func TestDiff(t *testing.T) {
	prev := []risk.Alert{
		{ID: "suspended-d1", Severity: risk.Warning},
		{ID: "maint-v1", Severity: risk.Critical},
		{ID: "unassigned", Severity: risk.Warning, Title: "1 ride(s) need drivers"},
	}
	next := []risk.Alert{
		{ID: "suspended-d1", Severity: risk.Critical},
		{ID: "ins-exp-v2", Severity: risk.Critical},
		{ID: "unassigned", Severity: risk.Warning, Title: "1 ride(s) need drivers"},
	}
	raised, updated, cleared := Diff(prev, next)
	if got := ids(raised); len(got) != 1 || got[0] != "ins-exp-v2" {
		t.Fatalf("raised = %v", got)
	}
	if got := ids(updated); len(got) != 1 || got[0] != "suspended-d1" {
		t.Fatalf("updated = %v", got)
	}
	if got := ids(cleared); len(got) != 1 || got[0] != "maint-v1" {
		t.Fatalf("cleared = %v", got)
	}

	raised, updated, cleared = Diff(next, next)
	if len(raised)+len(updated)+len(cleared) != 0 {
		t.Fatalf("identical evaluations must not differ")
	}
}

func TestMonitorPublishesChangesPerVersion(t *testing.T) {
	pub := &recordingPublisher{}
	mon := NewMonitor(pub, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		mon.Run(ctx)
	}()

	feed := fleet.NewFeed(nil)
	feed.Subscribe(mon.Observe)

	suspended := fleet.Snapshot{Drivers: []fleet.Driver{{ID: "d1", Name: "Dawit", Status: fleet.DriverSuspended}}}
	feed.Replace(suspended)
	feed.Replace(suspended)
	feed.Replace(fleet.Snapshot{})

	deadline := time.Now().Add(2 * time.Second)
	for {
		batches, _ := pub.snapshot()
		if len(batches) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 batches, got %d", len(batches))
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
	batches, closed := pub.snapshot()
	if !closed {
		t.Fatalf("publisher not closed on shutdown")
	}
	first, second := batches[0], batches[1]
	if len(first) != 1 || first[0].Type != Raised || first[0].Alert.ID != "suspended-d1" || first[0].Version != 1 {
		t.Fatalf("first batch = %+v", first)
	}
	if len(second) != 1 || second[0].Type != Cleared || second[0].Version != 3 {
		t.Fatalf("second batch = %+v", second)
	}
}

func TestMonitorIgnoresStaleVersions(t *testing.T) {
	pub := &recordingPublisher{}
	mon := NewMonitor(pub, zerolog.Nop())
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	snap := fleet.Snapshot{Drivers: []fleet.Driver{{ID: "d1", Status: fleet.DriverSuspended}}}

	mon.Observe(fleet.Versioned{Version: 2, UpdatedAt: now, Snapshot: snap})
	mon.Observe(fleet.Versioned{Version: 1, UpdatedAt: now})
	if n := len(mon.queue); n != 1 {
		t.Fatalf("queued batches = %d, want 1", n)
	}
}
