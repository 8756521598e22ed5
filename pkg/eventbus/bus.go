// Package eventbus publishes session notifications as watermill messages. A
// local go channel feeds in-process consumers such as the terminal UI; when
// Redis is enabled the same records are appended to a Redis stream so other
// processes can follow the conversation.
package eventbus

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	MetadataKind   = "kind"
	MetadataConvID = "conv_id"
)

type Bus struct {
	settings Settings
	logger   watermill.LoggerAdapter

	local *gochannel.GoChannel

	remote      message.Publisher
	redisClient redis.UniversalClient

	closeOnce sync.Once
}

// Build creates the bus. The Redis publisher is only created when enabled.
func Build(s Settings) (*Bus, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	logger := NewWatermillLogger(log.Logger)
	b := &Bus{
		settings: s,
		logger:   logger,
		local: gochannel.NewGoChannel(gochannel.Config{
			BlockPublishUntilSubscriberAck: true,
		}, logger),
	}
	if !s.Redis.Enabled {
		return b, nil
	}

	client := redis.NewClient(&redis.Options{Addr: s.Redis.Addr})
	cfg := rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}
	if s.Redis.MaxLen > 0 {
		cfg.Maxlens = map[string]int64{s.stream(): s.Redis.MaxLen}
	}
	pub, err := rstream.NewPublisher(cfg, logger)
	if err != nil {
		_ = client.Close()
		_ = b.local.Close()
		return nil, errors.Wrap(err, "eventbus: redis publisher")
	}
	b.remote = pub
	b.redisClient = client
	log.Info().Str("component", "eventbus").Str("addr", s.Redis.Addr).Str("stream", s.stream()).Msg("mirroring notifications to redis stream")
	return b, nil
}

func (b *Bus) Topic() string {
	return b.settings.topic()
}

// Publish delivers msg to local subscribers and, when configured, to Redis.
// Local delivery waits until every local subscriber acked.
func (b *Bus) Publish(msg *message.Message) error {
	if b == nil {
		return nil
	}
	var remoteMsg *message.Message
	if b.remote != nil {
		remoteMsg = msg.Copy()
	}
	if err := b.local.Publish(b.Topic(), msg); err != nil {
		return errors.Wrap(err, "eventbus: local publish")
	}
	if remoteMsg != nil {
		if err := b.remote.Publish(b.settings.stream(), remoteMsg); err != nil {
			return errors.Wrap(err, "eventbus: redis publish")
		}
	}
	return nil
}

// Subscribe returns the local message stream. Consumers must Ack every message.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.local.Subscribe(ctx, b.Topic())
}

// SubscribeRemote follows the Redis stream in fan-out mode.
func (b *Bus) SubscribeRemote(ctx context.Context) (<-chan *message.Message, error) {
	if b.redisClient == nil {
		return nil, errors.New("eventbus: redis not enabled")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:       b.redisClient,
		Unmarshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, b.logger)
	if err != nil {
		return nil, errors.Wrap(err, "eventbus: redis subscriber")
	}
	ch, err := sub.Subscribe(ctx, b.settings.stream())
	if err != nil {
		_ = sub.Close()
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()
	return ch, nil
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var err error
	b.closeOnce.Do(func() {
		if b.remote != nil {
			if cerr := b.remote.Close(); cerr != nil {
				err = cerr
			}
		}
		if b.redisClient != nil {
			if cerr := b.redisClient.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		if cerr := b.local.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
