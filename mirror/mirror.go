// Package mirror republishes the relay's live event stream to Redis pub/sub or
// an AMQP fanout exchange so other processes can consume chat and questions
// without a WebSocket.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/onnwee/twitch-questions/chat"
	"github.com/onnwee/twitch-questions/hub"
	"github.com/onnwee/twitch-questions/telemetry"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "twitch-questions:events"

const (
	publishTimeout   = 2 * time.Second
	resubscribeDelay = time.Second
)

// Publisher sends one payload to a pub/sub channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Feed is the relay side of the mirror.
type Feed interface {
	Subscribe() (chat.Snapshot, *hub.Subscription[chat.Envelope])
	Unsubscribe(sub *hub.Subscription[chat.Envelope])
}

// RedisPublisher publishes through a go-redis client.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher connects to addr and verifies the connection with PING.
func NewRedisPublisher(ctx context.Context, addr, password string, db int) (*RedisPublisher, error) {
	if addr == "" {
		return nil, errors.New("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &RedisPublisher{client: client}, nil
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// Close closes the underlying client.
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

// Mirror forwards live envelopes from a Feed to a Publisher.
type Mirror struct {
	feed    Feed
	pub     Publisher
	channel string
}

// exchanger is implemented by publishers bound to one declared destination.
type exchanger interface {
	Exchange() string
}

// New builds a mirror. An empty channel uses the publisher's declared
// exchange when it has one, otherwise DefaultChannel.
func New(feed Feed, pub Publisher, channel string) *Mirror {
	if channel == "" {
		channel = DefaultChannel
		if ex, ok := pub.(exchanger); ok {
			channel = ex.Exchange()
		}
	}
	return &Mirror{feed: feed, pub: pub, channel: channel}
}

// Run publishes every live event until ctx is done. History is not replayed.
// If the mirror falls behind and is dropped by the relay it subscribes again;
// events in between are lost.
func (m *Mirror) Run(ctx context.Context) {
	logger := slog.Default().With(slog.String("component", "mirror"), slog.String("channel", m.channel))
	for {
		_, sub := m.feed.Subscribe()
		m.pump(ctx, sub, logger)
		m.feed.Unsubscribe(sub)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("mirror subscription closed; resubscribing")
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

func (m *Mirror) pump(ctx context.Context, sub *hub.Subscription[chat.Envelope], logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C:
			if !ok {
				return
			}
			if err := m.publish(ctx, env); err != nil {
				telemetry.Inc(telemetry.MirrorFailures)
				logger.Error("mirror publish failed", slog.String("event", env.Event), slog.Any("err", err))
			}
		}
	}
}

func (m *Mirror) publish(ctx context.Context, env chat.Envelope) error {
	ctx, span := telemetry.StartSpan(ctx, "mirror", "mirror.publish", telemetry.EventAttr(env.Event))
	defer span.End()
	payload, err := json.Marshal(env)
	if err != nil {
		err = fmt.Errorf("encode envelope: %w", err)
		telemetry.RecordError(span, err)
		return err
	}
	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := m.pub.Publish(pctx, m.channel, payload); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}
