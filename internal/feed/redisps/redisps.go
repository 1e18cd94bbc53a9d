// Package redisps implements the feed transport on Redis Pub/Sub. Topics map
// one-to-one onto channel names.
package redisps

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"marketdash/internal/feed"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient builds a go-redis client from cfg.
func NewClient(cfg Config) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Transport subscribes to Redis channels.
type Transport struct {
	client    *goredis.Client
	heartbeat time.Duration
	log       *zap.SugaredLogger
}

// New returns a Transport on client. The subscription connection is pinged
// every heartbeat while idle.
func New(client *goredis.Client, heartbeat time.Duration, log *zap.SugaredLogger) *Transport {
	if heartbeat <= 0 {
		heartbeat = feed.DefaultHeartbeat
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Transport{client: client, heartbeat: heartbeat, log: log}
}

func (t *Transport) Name() string { return "redis" }

// Open pings the server, subscribes and waits for every subscription to be
// confirmed.
func (t *Transport) Open(ctx context.Context, topics []string) (feed.Session, error) {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	ps := t.client.Subscribe(ctx, topics...)

	confirmed := 0
	for confirmed < len(topics) {
		msg, err := ps.ReceiveTimeout(ctx, feed.ReadTimeout(t.heartbeat))
		if err != nil {
			ps.Close()
			return nil, fmt.Errorf("redis subscribe: %w", err)
		}
		if _, ok := msg.(*goredis.Subscription); ok {
			confirmed++
		}
	}

	s := &session{ps: ps, heartbeat: t.heartbeat, lastSeen: time.Now()}
	s.stop = context.AfterFunc(ctx, func() { ps.Close() })
	t.log.Debugw("[redis] subscribed", "channels", topics)
	return s, nil
}

type session struct {
	ps        *goredis.PubSub
	heartbeat time.Duration
	lastSeen  time.Time
	stop      func() bool
}

// Receive returns the next published message. When the connection is idle
// for a heartbeat it sends PING; no traffic at all for the grace period is
// feed.ErrHeartbeatTimeout.
func (s *session) Receive(ctx context.Context) (feed.Message, error) {
	for {
		msg, err := s.ps.ReceiveTimeout(ctx, s.heartbeat)
		if err != nil {
			if ctx.Err() != nil {
				return feed.Message{}, ctx.Err()
			}
			if !isTimeout(err) {
				return feed.Message{}, err
			}
			if time.Since(s.lastSeen) >= feed.ReadTimeout(s.heartbeat) {
				return feed.Message{}, feed.ErrHeartbeatTimeout
			}
			if err := s.ps.Ping(ctx); err != nil {
				return feed.Message{}, fmt.Errorf("redis ping: %w", err)
			}
			continue
		}
		s.lastSeen = time.Now()
		if m, ok := toMessage(msg); ok {
			return m, nil
		}
	}
}

func (s *session) Close() error {
	s.stop()
	return s.ps.Close()
}

// toMessage converts a published message. Control replies yield ok=false.
func toMessage(v interface{}) (feed.Message, bool) {
	m, ok := v.(*goredis.Message)
	if !ok {
		return feed.Message{}, false
	}
	return feed.Message{Topic: m.Channel, Payload: []byte(m.Payload)}, true
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Publisher publishes payloads on Redis channels. The demo feed uses it.
type Publisher struct {
	client *goredis.Client
}

func NewPublisher(client *goredis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := p.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Close() error { return p.client.Close() }
