// Package redisstream builds Watermill publishers and subscribers on Redis Streams.
package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Settings holds Redis Streams transport configuration.
type Settings struct {
	Addr     string
	Group    string
	Consumer string
}

func DefaultSettings() Settings {
	return Settings{Addr: "localhost:6379", Group: "kickoff", Consumer: "kickoff-1"}
}

func (s Settings) Sanitized() Settings {
	d := DefaultSettings()
	out := s
	if strings.TrimSpace(out.Addr) == "" {
		out.Addr = d.Addr
	}
	if strings.TrimSpace(out.Group) == "" {
		out.Group = d.Group
	}
	if strings.TrimSpace(out.Consumer) == "" {
		out.Consumer = d.Consumer
	}
	return out
}

// Transport bundles a publisher and subscriber sharing one redis client.
type Transport struct {
	Client     *redis.Client
	Group      string
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close shuts down the publisher, the subscriber and the client.
func (t *Transport) Close() error {
	closers := []interface{ Close() error }{}
	if t.Publisher != nil {
		closers = append(closers, t.Publisher)
	}
	if t.Subscriber != nil {
		closers = append(closers, t.Subscriber)
	}
	if t.Client != nil {
		closers = append(closers, t.Client)
	}
	var firstErr error
	for _, c := range closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Build connects to redis and returns a transport. Call EnsureGroupAtTail
// before the first Subscribe to skip events of earlier meetings.
func Build(s Settings, logger watermill.LoggerAdapter) (*Transport, error) {
	s = s.Sanitized()
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis stream publisher")
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "redis stream subscriber")
	}

	return &Transport{Client: client, Group: s.Group, Publisher: pub, Subscriber: sub}, nil
}

// GroupCreator is the part of a redis client EnsureGroupAtTail needs.
type GroupCreator interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
}

// EnsureGroupAtTail creates the consumer group for stream at the tail ($) if
// it doesn't exist, so a fresh subscriber does not replay old meetings.
func EnsureGroupAtTail(ctx context.Context, client GroupCreator, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// BUSYGROUP: group already exists
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrap(err, "create consumer group")
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}
