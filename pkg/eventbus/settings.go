package eventbus

import (
	"strings"

	"github.com/pkg/errors"
)

const DefaultTopic = "streamchat:notifications"

// Settings configures where session notifications are published. The local
// in-memory channel is always present; Redis Streams mirrors it when enabled.
type Settings struct {
	Redis RedisSettings `mapstructure:"redis"`
	Topic string        `mapstructure:"topic"`
}

type RedisSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	// Stream is the Redis stream key notifications are appended to.
	Stream string `mapstructure:"stream"`
	// MaxLen caps the stream length, 0 for unbounded.
	MaxLen int64 `mapstructure:"max-len"`
}

func DefaultSettings() Settings {
	return Settings{
		Topic: DefaultTopic,
		Redis: RedisSettings{
			Addr:   "localhost:6379",
			Stream: DefaultTopic,
		},
	}
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.topic()) == "" {
		return errors.New("eventbus: empty topic")
	}
	if !s.Redis.Enabled {
		return nil
	}
	if strings.TrimSpace(s.Redis.Addr) == "" {
		return errors.New("eventbus: redis enabled without an address")
	}
	if s.Redis.MaxLen < 0 {
		return errors.Errorf("eventbus: negative redis max-len %d", s.Redis.MaxLen)
	}
	return nil
}

func (s Settings) topic() string {
	if s.Topic == "" {
		return DefaultTopic
	}
	return s.Topic
}

func (s Settings) stream() string {
	if s.Redis.Stream == "" {
		return s.topic()
	}
	return s.Redis.Stream
}
