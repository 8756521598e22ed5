// Package config loads streamchat settings from a YAML file, STREAMCHAT_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-go-golems/streamchat/pkg/assembler"
	"github.com/go-go-golems/streamchat/pkg/eventbus"
)

const (
	EnvPrefix  = "STREAMCHAT"
	appDir     = ".streamchat"
	configName = "config"
)

type Settings struct {
	ServerURL      string `mapstructure:"server-url"`
	AssistantID    string `mapstructure:"assistant-id"`
	ConversationID string `mapstructure:"conversation-id"`

	HistoryTimeout   time.Duration `mapstructure:"history-timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake-timeout"`
	WriteTimeout     time.Duration `mapstructure:"write-timeout"`

	MediaPolicy string `mapstructure:"media-policy"`

	Events  eventbus.Settings `mapstructure:",squash"`
	Logging LoggingSettings   `mapstructure:",squash"`
}

type LoggingSettings struct {
	Level      string `mapstructure:"log-level"`
	Format     string `mapstructure:"log-format"`
	File       string `mapstructure:"log-file"`
	WithCaller bool   `mapstructure:"with-caller"`
}

var defaults = map[string]any{
	"server-url":        "http://localhost:8000",
	"assistant-id":      "",
	"conversation-id":   "",
	"history-timeout":   "10s",
	"handshake-timeout": "10s",
	"write-timeout":     "5s",
	"media-policy":      assembler.PolicyLastWriteWins.String(),
	"topic":             eventbus.DefaultTopic,
	"redis.enabled":     false,
	"redis.addr":        "localhost:6379",
	"redis.stream":      eventbus.DefaultTopic,
	"redis.max-len":     int64(0),
	"log-level":         "info",
	"log-format":        "console",
	"log-file":          "",
	"with-caller":       false,
}

// NewViper returns a viper instance with defaults and environment binding set up.
func NewViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds every flag in fs whose name is a known key.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		if _, ok := defaults[f.Name]; ok {
			err = v.BindPFlag(f.Name, f)
		}
	})
	return err
}

// ReadFile reads path, or $HOME/.streamchat/config.yaml when path is empty.
// A missing default file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "read config %s", path)
		}
		return nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	v.AddConfigPath(filepath.Join(home, appDir))
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "read default config")
	}
	return nil
}

func Load(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, errors.Wrap(err, "decode settings")
	}
	return s, nil
}

func (s Settings) Policy() assembler.Policy {
	p, _ := assembler.ParsePolicy(s.MediaPolicy)
	return p
}

// Validate checks the settings needed to talk to a server. The conversation id
// is optional here since commands may take it as an argument.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.ServerURL) == "" {
		return errors.New("server-url is required")
	}
	u, err := url.Parse(s.ServerURL)
	if err != nil {
		return errors.Wrap(err, "server-url")
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return errors.Errorf("server-url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.Errorf("server-url %q has no host", s.ServerURL)
	}
	if strings.TrimSpace(s.AssistantID) == "" {
		return errors.New("assistant-id is required")
	}
	for name, d := range map[string]time.Duration{
		"history-timeout":   s.HistoryTimeout,
		"handshake-timeout": s.HandshakeTimeout,
		"write-timeout":     s.WriteTimeout,
	} {
		if d <= 0 {
			return errors.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if _, err := assembler.ParsePolicy(s.MediaPolicy); err != nil {
		return err
	}
	if err := s.Events.Validate(); err != nil {
		return err
	}
	return s.Logging.Validate()
}

func (l LoggingSettings) Validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(l.Level)); err != nil {
		return errors.Wrapf(err, "log-level %q", l.Level)
	}
	switch l.Format {
	case "", "console", "json":
		return nil
	default:
		return errors.Errorf("log-format must be console or json, got %q", l.Format)
	}
}
