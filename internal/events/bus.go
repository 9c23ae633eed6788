// Package events publishes session lifecycle events over watermill.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/xiaot623/campusconnect/internal/config"
	"github.com/xiaot623/campusconnect/internal/domain"
	"github.com/xiaot623/campusconnect/internal/logging"
	"github.com/xiaot623/campusconnect/internal/metrics"
)

// Topic carries every session lifecycle event.
const Topic = "session_events"

// Bus publishes and subscribes to session events.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	closers    []func() error
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewGoChannelBus creates an in-process bus.
func NewGoChannelBus(m *metrics.Metrics) *Bus {
	logger := logging.Component("events")
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, NewLoggerAdapter(logger))

	return &Bus{
		publisher:  ch,
		subscriber: ch,
		closers:    []func() error{ch.Close},
		metrics:    m,
		logger:     logger,
	}
}

// NewRedisBus creates a bus over Redis Streams. Each process reads with its own consumer
// group so every instance sees every event.
func NewRedisBus(addr, group, consumer string, m *metrics.Metrics) (*Bus, error) {
	logger := logging.Component("events")
	wmLogger := NewLoggerAdapter(logger)
	client := redis.NewClient(&redis.Options{Addr: addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, wmLogger)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to create redis publisher")
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: group + ":" + consumer,
		Consumer:      consumer,
	}, wmLogger)
	if err != nil {
		pub.Close()
		client.Close()
		return nil, errors.Wrap(err, "failed to create redis subscriber")
	}

	logger.Info().Str("addr", addr).Str("group", group).Str("consumer", consumer).Msg("using redis streams event bus")
	return &Bus{
		publisher:  pub,
		subscriber: sub,
		closers:    []func() error{sub.Close, pub.Close, client.Close},
		metrics:    m,
		logger:     logger,
	}, nil
}

// NewFromConfig builds the bus selected by cfg.EventsBackend.
func NewFromConfig(cfg *config.Config, m *metrics.Metrics) (*Bus, error) {
	switch cfg.EventsBackend {
	case "", "gochannel":
		return NewGoChannelBus(m), nil
	case "redis":
		return NewRedisBus(cfg.RedisAddr, cfg.RedisGroup, cfg.RedisConsumer, m)
	default:
		return nil, errors.Errorf("unknown events backend %q", cfg.EventsBackend)
	}
}

// Publish sends ev. Missing identifiers and timestamps are filled in.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) error {
	if ev.EventID == "" {
		ev.EventID = uuid.New().String()
	}
	if ev.Ts == 0 {
		ev.Ts = time.Now().UnixMilli()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		b.metrics.RecordEvent(string(ev.Type), err)
		return errors.Wrap(err, "failed to encode event")
	}
	msg := message.NewMessage(ev.EventID, payload)
	msg.Metadata.Set("session_id", ev.SessionID)
	msg.Metadata.Set("type", string(ev.Type))
	msg.SetContext(ctx)

	err = b.publisher.Publish(Topic, msg)
	b.metrics.RecordEvent(string(ev.Type), err)
	if err != nil {
		return errors.Wrap(err, "failed to publish event")
	}
	return nil
}

// Subscribe streams decoded events until ctx is cancelled or the bus closes.
func (b *Bus) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	msgs, err := b.subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return nil, errors.Wrap(err, "failed to subscribe")
	}

	out := make(chan domain.Event)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev domain.Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("dropping undecodable event")
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close releases the publisher, subscriber and any client connections.
func (b *Bus) Close() error {
	var result *multierror.Error
	for _, c := range b.closers {
		if err := c(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
