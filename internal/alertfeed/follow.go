package alertfeed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Follow consumes the alert topic and calls fn for every change until ctx is
// done. Read errors back off up to 30s; undecodable messages are skipped.
func Follow(ctx context.Context, brokers []string, topic, group string, log zerolog.Logger, fn func(Change) error) error {
	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 1, MaxBytes: 10e6})
	defer r.Close()

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Dur("backoff", backoff).Msg("kafka read error")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		var c Change
		if err := json.Unmarshal(m.Value, &c); err != nil {
			log.Warn().Err(err).Int64("offset", m.Offset).Msg("invalid alert change")
			continue
		}
		if err := fn(c); err != nil {
			return err
		}
	}
}
