package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-go-golems/kickoff/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Backend   string
	Topic     string
	RedisAddr string
}

func DefaultConfig() Config {
	return Config{Backend: BackendMemory, Topic: DefaultTopic}
}

func (c Config) Sanitized() Config {
	out := c
	out.Backend = strings.ToLower(strings.TrimSpace(out.Backend))
	if out.Backend == "" {
		out.Backend = BackendMemory
	}
	if strings.TrimSpace(out.Topic) == "" {
		out.Topic = DefaultTopic
	}
	return out
}

// Publisher is what the controller needs from the event stream.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Bus is a Watermill publisher/subscriber pair bound to one topic.
type Bus struct {
	topic      string
	publisher  message.Publisher
	subscriber message.Subscriber
	close      func() error
	prepare    func(ctx context.Context, topic string) error
	now        func() time.Time
}

var _ Publisher = (*Bus)(nil)

// NewBus opens the configured backend. The memory backend is a gochannel
// pubsub that only delivers to subscribers registered before Publish.
func NewBus(cfg Config, logger watermill.LoggerAdapter) (*Bus, error) {
	cfg = cfg.Sanitized()
	if logger == nil {
		logger = NewWatermillLogger(log.Logger)
	}
	switch cfg.Backend {
	case BackendMemory:
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
		return &Bus{topic: cfg.Topic, publisher: ch, subscriber: ch, close: ch.Close, now: time.Now}, nil
	case BackendRedis:
		tr, err := redisstream.Build(redisstream.Settings{Addr: cfg.RedisAddr}, logger)
		if err != nil {
			return nil, err
		}
		prepare := func(ctx context.Context, topic string) error {
			return redisstream.EnsureGroupAtTail(ctx, tr.Client, topic, tr.Group)
		}
		return &Bus{topic: cfg.Topic, publisher: tr.Publisher, subscriber: tr.Subscriber,
			close: tr.Close, prepare: prepare, now: time.Now}, nil
	default:
		return nil, errors.Errorf("unknown events backend %q", cfg.Backend)
	}
}

func (b *Bus) Topic() string { return b.topic }

// Publish stamps e (when At is zero) and sends it as JSON.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = b.now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("type", e.Type)
	if err := b.publisher.Publish(b.topic, msg); err != nil {
		return errors.Wrapf(err, "publish %s", e.Type)
	}
	return nil
}

// Subscribe returns the message channel for the bus topic. The channel is
// closed when ctx is done or the bus is closed. On redis the consumer group
// is created at the stream tail first.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	if b.prepare != nil {
		if err := b.prepare(ctx, b.topic); err != nil {
			return nil, err
		}
	}
	msgs, err := b.subscriber.Subscribe(ctx, b.topic)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe")
	}
	return msgs, nil
}

func (b *Bus) Close() error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close()
}
