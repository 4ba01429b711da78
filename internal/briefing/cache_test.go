package briefing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fleetintel/internal/storage"
)

type failingKV struct {
	*storage.MemoryKV
	failKey string
}

func (f failingKV) Set(ctx context.Context, key, value string) error {
	if key == f.failKey {
		return errors.New("disk full")
	}
	return f.MemoryKV.Set(ctx, key, value)
}

func counter(text string, calls *int32) GenerateFunc {
	return func(context.Context) (string, error) {
		atomic.AddInt32(calls, 1)
		return text, nil
	}
}

func TestGenerateOncePerDay(t *testing.T) {
	cache := NewCache(storage.NewMemoryKV(), zerolog.Nop())
	ctx := context.Background()
	var calls int32

	first, err := cache.GetOrRefresh(ctx, "2026-10-16", counter("monday brief", &calls))
	if err != nil || first.Cached || !first.Persisted || first.Text != "monday brief" {
		t.Fatalf("first = %+v err=%v", first, err)
	}
	second, err := cache.GetOrRefresh(ctx, "2026-10-16", counter("other", &calls))
	if err != nil || !second.Cached || second.Text != "monday brief" {
		t.Fatalf("second = %+v err=%v", second, err)
	}
	if calls != 1 {
		t.Fatalf("generate called %d times on the same day", calls)
	}

	next, err := cache.GetOrRefresh(ctx, "2026-10-17", counter("tuesday brief", &calls))
	if err != nil || next.Cached || next.Text != "tuesday brief" {
		t.Fatalf("next day = %+v err=%v", next, err)
	}
	if calls != 2 {
		t.Fatalf("expected one more generation on the next day, got %d", calls)
	}
}

func TestSurvivesRestartThroughStore(t *testing.T) {
	kv := storage.NewMemoryKV()
	var calls int32
	if _, err := NewCache(kv, zerolog.Nop()).GetOrRefresh(context.Background(), "2026-10-16", counter("brief", &calls)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := NewCache(kv, zerolog.Nop()).GetOrRefresh(context.Background(), "2026-10-16", counter("again", &calls))
	if err != nil || !res.Cached || calls != 1 {
		t.Fatalf("res=%+v calls=%d err=%v", res, calls, err)
	}
}

func TestConcurrentCallersShareGeneration(t *testing.T) {
	cache := NewCache(storage.NewMemoryKV(), zerolog.Nop())
	release := make(chan struct{})
	var calls int32
	gen := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "shared", nil
	}

	var wg sync.WaitGroup
	results := make([]Result, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.GetOrRefresh(context.Background(), "2026-10-16", gen)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Fatalf("generate called %d times", calls)
	}
	for i := range results {
		if errs[i] != nil || results[i].Text != "shared" {
			t.Fatalf("caller %d got %+v err=%v", i, results[i], errs[i])
		}
	}
}

func TestFailedGenerationLeavesStoreUnchanged(t *testing.T) {
	kv := storage.NewMemoryKV()
	ctx := context.Background()
	_ = kv.Set(ctx, storage.KeyBriefingDate, "2026-10-15")
	_ = kv.Set(ctx, storage.KeyBriefingText, "yesterday")

	cache := NewCache(kv, zerolog.Nop())
	boom := errors.New("upstream down")
	_, err := cache.GetOrRefresh(ctx, "2026-10-16", func(context.Context) (string, error) { return "", boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	date, _, _ := kv.Get(ctx, storage.KeyBriefingDate)
	text, _, _ := kv.Get(ctx, storage.KeyBriefingText)
	if date != "2026-10-15" || text != "yesterday" {
		t.Fatalf("store changed: %q %q", date, text)
	}

	var calls int32
	res, err := cache.GetOrRefresh(ctx, "2026-10-16", counter("retry", &calls))
	if err != nil || res.Text != "retry" || calls != 1 {
		t.Fatalf("retry res=%+v calls=%d err=%v", res, calls, err)
	}
}

func TestWriteFailureStillReturnsText(t *testing.T) {
	kv := failingKV{MemoryKV: storage.NewMemoryKV(), failKey: storage.KeyBriefingDate}
	cache := NewCache(kv, zerolog.Nop())
	var calls int32

	res, err := cache.GetOrRefresh(context.Background(), "2026-10-16", counter("fresh", &calls))
	if err != nil {
		t.Fatalf("write failure must not fail the flow: %v", err)
	}
	if res.Text != "fresh" || res.Persisted || res.Cached {
		t.Fatalf("res = %+v", res)
	}
	if _, ok, _ := cache.Lookup(context.Background(), "2026-10-16"); ok {
		t.Fatalf("entry must not be valid after a failed write")
	}
	if _, err := cache.GetOrRefresh(context.Background(), "2026-10-16", counter("fresh", &calls)); err != nil || calls != 2 {
		t.Fatalf("expected regeneration, calls=%d err=%v", calls, err)
	}
}

func TestCallerCancellationDoesNotAbortFlight(t *testing.T) {
	kv := storage.NewMemoryKV()
	cache := NewCache(kv, zerolog.Nop())
	release := make(chan struct{})
	done := make(chan struct{})
	gen := func(context.Context) (string, error) {
		<-release
		return "late", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer close(done)
		_, err := cache.GetOrRefresh(ctx, "2026-10-16", gen)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done
	close(release)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if text, ok, _ := cache.Lookup(context.Background(), "2026-10-16"); ok && text == "late" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("flight result was not persisted")
}
