// Package alertfeed re-evaluates risks on every snapshot change and publishes
// the alerts that were raised, updated or cleared since the previous version.
package alertfeed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"fleetintel/internal/fleet"
	"fleetintel/internal/observability"
	"fleetintel/internal/risk"
)

type ChangeType string

const (
	Raised  ChangeType = "raised"
	Updated ChangeType = "updated"
	Cleared ChangeType = "cleared"
)

// Change is one alert transition between two snapshot versions.
type Change struct {
	Type    ChangeType `json:"type"`
	Version uint64     `json:"version"`
	At      time.Time  `json:"at"`
	Alert   risk.Alert `json:"alert"`
}

// Publisher delivers changes in order.
type Publisher interface {
	Publish(ctx context.Context, changes []Change) error
	Close() error
}

// Diff compares two evaluations by alert id. Raised and updated follow next's
// order; cleared follows prev's.
func Diff(prev, next []risk.Alert) (raised, updated, cleared []risk.Alert) {
	before := make(map[string]risk.Alert, len(prev))
	for _, a := range prev {
		before[a.ID] = a
	}
	seen := make(map[string]struct{}, len(next))
	for _, a := range next {
		seen[a.ID] = struct{}{}
		old, ok := before[a.ID]
		switch {
		case !ok:
			raised = append(raised, a)
		case old != a:
			updated = append(updated, a)
		}
	}
	for _, a := range prev {
		if _, ok := seen[a.ID]; !ok {
			cleared = append(cleared, a)
		}
	}
	return raised, updated, cleared
}

// KafkaPublisher writes one message per change, keyed by alert id.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &KafkaPublisher{writer: w}
}

func (k *KafkaPublisher) Publish(ctx context.Context, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(changes))
	for _, c := range changes {
		b, err := json.Marshal(c)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Key: []byte(c.Alert.ID), Value: b, Time: c.At})
	}
	return k.writer.WriteMessages(ctx, msgs...)
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// NopPublisher drops every change; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, []Change) error { return nil }
func (NopPublisher) Close() error { return nil }

// Monitor evaluates each snapshot version as it is installed and hands the
// resulting changes to a single publishing goroutine.
type Monitor struct {
	pub   Publisher
	log   zerolog.Logger
	queue chan []Change

	mu      sync.Mutex
	version uint64
	prev    []risk.Alert
}

func NewMonitor(pub Publisher, log zerolog.Logger) *Monitor {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &Monitor{pub: pub, log: log.With().Str("component", "alertfeed").Logger(), queue: make(chan []Change, 64)}
}

// Observe is a fleet.Feed subscriber. A version older than the last one seen
// is ignored so racing replaces cannot rewind the diff base.
func (m *Monitor) Observe(v fleet.Versioned) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.Version != 0 && v.Version <= m.version {
		return
	}
	m.version = v.Version

	alerts := risk.Evaluate(v.Snapshot, v.UpdatedAt)
	counts := risk.Counts(alerts)
	for sev, n := range counts {
		observability.RiskAlerts.WithLabelValues(string(sev)).Set(float64(n))
	}
	observability.SnapshotVersion.Set(float64(v.Version))

	raised, updated, cleared := Diff(m.prev, alerts)
	m.prev = alerts

	var changes []Change
	add := func(t ChangeType, list []risk.Alert) {
		for _, a := range list {
			changes = append(changes, Change{Type: t, Version: v.Version, At: v.UpdatedAt, Alert: a})
		}
	}
	add(Raised, raised)
	add(Updated, updated)
	add(Cleared, cleared)
	if len(changes) == 0 {
		return
	}

	m.log.Info().
		Uint64("version", v.Version).
		Int("raised", len(raised)).
		Int("updated", len(updated)).
		Int("cleared", len(cleared)).
		Msg("risk alerts changed")

	select {
	case m.queue <- changes:
	default:
		m.log.Warn().Uint64("version", v.Version).Msg("alert feed queue full, dropping changes")
	}
}

// Run publishes queued changes until ctx is done, then closes the publisher.
func (m *Monitor) Run(ctx context.Context) {
	defer func() {
		if err := m.pub.Close(); err != nil {
			m.log.Warn().Err(err).Msg("close publisher")
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case changes := <-m.queue:
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := m.pub.Publish(pctx, changes); err != nil {
				m.log.Error().Err(err).Int("changes", len(changes)).Msg("publish alert changes")
			}
			cancel()
		}
	}
}
