// Package briefing keeps the single daily-briefing entry and decides when a new
// one has to be generated.
package briefing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"fleetintel/internal/observability"
	"fleetintel/internal/storage"
)

// GenerateFunc produces a fresh briefing text.
type GenerateFunc func(ctx context.Context) (string, error)

type Result struct {
	Text string `json:"text"`
	// Cached is set when the text came from the store and generate was not called.
	Cached bool `json:"cached"`
	// Persisted is false when a fresh text could not be written back; the text is
	// still usable but the next lookup will regenerate.
	Persisted bool `json:"persisted"`
}

// Cache holds one (dateKey, text) pair in the injected store. Concurrent
// callers for the same day share one generation.
type Cache struct {
	store storage.KV
	group singleflight.Group
	log   zerolog.Logger
}

func NewCache(store storage.KV, log zerolog.Logger) *Cache {
	return &Cache{store: store, log: log.With().Str("component", "briefing").Logger()}
}

// Lookup returns the stored text when its date key equals today.
func (c *Cache) Lookup(ctx context.Context, today string) (string, bool, error) {
	date, ok, err := c.store.Get(ctx, storage.KeyBriefingDate)
	if err != nil || !ok || date != today {
		return "", false, err
	}
	text, ok, err := c.store.Get(ctx, storage.KeyBriefingText)
	if err != nil || !ok || text == "" {
		return "", false, err
	}
	return text, true, nil
}

// GetOrRefresh returns today's briefing, calling generate only when no valid
// entry exists. A failed generation leaves the store untouched.
func (c *Cache) GetOrRefresh(ctx context.Context, today string, generate GenerateFunc) (Result, error) {
	if text, ok, err := c.Lookup(ctx, today); err != nil {
		c.log.Warn().Err(err).Msg("briefing lookup failed, regenerating")
	} else if ok {
		observability.BriefingLookups.WithLabelValues("hit").Inc()
		return Result{Text: text, Cached: true}, nil
	}

	// The flight outlives any single caller so a caller giving up does not
	// fail the others waiting on it.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(today, func() (any, error) {
		if text, ok, err := c.Lookup(flightCtx, today); err == nil && ok {
			observability.BriefingLookups.WithLabelValues("hit").Inc()
			return Result{Text: text, Cached: true}, nil
		}
		observability.BriefingLookups.WithLabelValues("miss").Inc()
		text, err := generate(flightCtx)
		if err != nil {
			return Result{}, err
		}
		res := Result{Text: text}
		if err := c.save(flightCtx, today, text); err != nil {
			observability.BriefingLookups.WithLabelValues("write_error").Inc()
			c.log.Warn().Err(err).Str("date", today).Msg("briefing not persisted")
			return res, nil
		}
		res.Persisted = true
		return res, nil
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Result{}, r.Err
		}
		return r.Val.(Result), nil
	}
}

// save writes the text before the date so a half-written entry never matches today.
func (c *Cache) save(ctx context.Context, today, text string) error {
	if err := c.store.Set(ctx, storage.KeyBriefingText, text); err != nil {
		return fmt.Errorf("write briefing text: %w", err)
	}
	if err := c.store.Set(ctx, storage.KeyBriefingDate, today); err != nil {
		return fmt.Errorf("write briefing date: %w", err)
	}
	return nil
}
