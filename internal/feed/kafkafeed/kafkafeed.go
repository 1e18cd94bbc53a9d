// Package kafkafeed implements the feed transport as a Kafka consumer group.
// Broker-style destinations such as /topic/stock-prices become Kafka topic
// names like stock-prices.
package kafkafeed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"marketdash/internal/feed"
)

// Config configures the consumer.
type Config struct {
	Brokers []string
	GroupID string
	// Heartbeat bounds how long a read may stay silent before the brokers
	// are probed. Zero disables the check.
	Heartbeat time.Duration
}

// Transport reads from Kafka via a consumer group.
type Transport struct {
	cfg Config
	log *zap.SugaredLogger
}

func New(cfg Config, log *zap.SugaredLogger) *Transport {
	if cfg.GroupID == "" {
		cfg.GroupID = "marketdash"
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Transport{cfg: cfg, log: log}
}

func (t *Transport) Name() string { return "kafka" }

// TopicName maps a destination onto a legal Kafka topic name.
func TopicName(destination string) string {
	name := strings.TrimPrefix(destination, "/topic/")
	name = strings.Trim(name, "/")
	return strings.ReplaceAll(name, "/", ".")
}

// Open checks that a broker is reachable, then joins the consumer group on
// every topic. Group heartbeats are handled by the reader; Receive probes
// the brokers itself because the reader retries lost connections silently.
func (t *Transport) Open(ctx context.Context, topics []string) (feed.Session, error) {
	if len(t.cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", t.cfg.Brokers[0])
	if err != nil {
		return nil, fmt.Errorf("kafka dial %s: %w", t.cfg.Brokers[0], err)
	}
	conn.Close()

	names := make([]string, len(topics))
	dest := make(map[string]string, len(topics))
	for i, topic := range topics {
		names[i] = TopicName(topic)
		dest[names[i]] = topic
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     t.cfg.Brokers,
		GroupID:     t.cfg.GroupID,
		GroupTopics: names,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
		ErrorLogger: kafka.LoggerFunc(t.log.Errorf),
	})
	t.log.Debugw("[kafka] reader started", "brokers", t.cfg.Brokers, "group", t.cfg.GroupID, "topics", names)
	return &session{r: r, brokers: t.cfg.Brokers, hb: t.cfg.Heartbeat, dest: dest, log: t.log}, nil
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type session struct {
	r       messageReader
	brokers []string
	hb      time.Duration
	dest    map[string]string
	log     *zap.SugaredLogger
}

// Receive waits for the next record. A quiet topic is fine as long as some
// broker still accepts connections; otherwise it returns
// feed.ErrHeartbeatTimeout.
func (s *session) Receive(ctx context.Context) (feed.Message, error) {
	limit := feed.ReadTimeout(s.hb)
	if limit == 0 {
		m, err := s.r.ReadMessage(ctx)
		if err != nil {
			return feed.Message{}, err
		}
		return s.toMessage(m), nil
	}

	for {
		rctx, cancel := context.WithTimeout(ctx, limit)
		m, err := s.r.ReadMessage(rctx)
		cancel()
		switch {
		case err == nil:
			return s.toMessage(m), nil
		case ctx.Err() != nil:
			return feed.Message{}, ctx.Err()
		case !errors.Is(err, context.DeadlineExceeded):
			return feed.Message{}, err
		}
		if perr := s.probe(ctx, limit); perr != nil {
			if ctx.Err() != nil {
				return feed.Message{}, ctx.Err()
			}
			s.log.Warnw("[kafka] brokers unreachable", "error", perr)
			return feed.Message{}, feed.ErrHeartbeatTimeout
		}
	}
}

// probe succeeds when any broker accepts a connection within limit.
func (s *session) probe(ctx context.Context, limit time.Duration) error {
	var errs []error
	for _, addr := range s.brokers {
		pctx, cancel := context.WithTimeout(ctx, limit)
		conn, err := kafka.DialContext(pctx, "tcp", addr)
		cancel()
		if err == nil {
			conn.Close()
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return errors.Join(errs...)
}

func (s *session) toMessage(m kafka.Message) feed.Message {
	topic, ok := s.dest[m.Topic]
	if !ok {
		topic = m.Topic
	}
	return feed.Message{
		Topic:   topic,
		Payload: m.Value,
		ID:      m.Topic + "-" + strconv.Itoa(m.Partition) + "-" + strconv.FormatInt(m.Offset, 10),
	}
}

func (s *session) Close() error { return s.r.Close() }

// Publisher writes payloads to the Kafka topic derived from each destination.
type Publisher struct {
	w *kafka.Writer
}

func NewPublisher(brokers []string) *Publisher {
	return &Publisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

// Publish writes payload keyed by key, so one symbol stays on one partition.
func (p *Publisher) Publish(ctx context.Context, destination, key string, payload []byte) error {
	err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: TopicName(destination),
		Key:   []byte(key),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", destination, err)
	}
	return nil
}

func (p *Publisher) Close() error { return p.w.Close() }
