package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionPrefix = "agent:"

// Options selects the Redis server.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Message is one event payload together with the channel it arrived on.
type Message struct {
	Channel string
	Payload []byte
}

type PubSub struct {
	client *redis.Client
}

func New(ctx context.Context, opts Options) (*PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New(%s): ping: %w", opts.Addr, err)
	}

	return &PubSub{client: client}, nil
}

func (ps *PubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("redis.PubSub.Close: %w", err)
	}
	return nil
}

func (ps *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ps.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Publish(%s): %w", channel, err)
	}
	return nil
}

// Subscribe follows one channel. The returned cleanup closes the subscription.
func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error) {
	return ps.listen(ctx, ps.client.Subscribe(ctx, channel))
}

// SubscribePattern follows every channel matching a glob pattern.
func (ps *PubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan Message, func(), error) {
	return ps.listen(ctx, ps.client.PSubscribe(ctx, pattern))
}

func (ps *PubSub) listen(ctx context.Context, sub *redis.PubSub) (<-chan Message, func(), error) {
	// Wait for subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.PubSub.listen: receive confirmation: %w", err)
	}

	out := make(chan Message, 64)
	redisCh := sub.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	cleanup := func() {
		_ = sub.Close()
	}

	return out, cleanup, nil
}

// SessionChannel returns the channel events of one agent session go to.
func SessionChannel(sessionID uuid.UUID) string {
	return sessionPrefix + sessionID.String()
}

// AllSessions is the pattern matching every session channel.
func AllSessions() string {
	return sessionPrefix + "*"
}

// SessionFromChannel extracts the session ID from a session channel name.
func SessionFromChannel(channel string) (uuid.UUID, bool) {
	raw, ok := strings.CutPrefix(channel, sessionPrefix)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
