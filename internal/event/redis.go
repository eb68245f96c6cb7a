package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	redisstore "github.com/gosuda/tether/internal/store/redis"
)

// Publisher is the slice of the Redis store the sink needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisSink publishes events as JSON on the session's channel.
type RedisSink struct {
	pub     Publisher
	timeout time.Duration
	failed  atomic.Int64
}

// NewRedisSink bounds every publish by timeout.
func NewRedisSink(pub Publisher, timeout time.Duration) *RedisSink {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &RedisSink{pub: pub, timeout: timeout}
}

func (s *RedisSink) Emit(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event", string(ev.Type)).Msg("encoding event")
		return
	}

	// The session context may already be cancelled for shutdown events.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.pub.Publish(pctx, redisstore.SessionChannel(ev.SessionID), payload); err != nil {
		if s.failed.Add(1) == 1 {
			log.Warn().Err(err).Msg("publishing session events failed")
		}
	}
}

// Failures returns how many publishes failed.
func (s *RedisSink) Failures() int64 {
	return s.failed.Load()
}

// Decode parses a published event.
func Decode(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("event.Decode: %w", err)
	}
	return ev, nil
}
