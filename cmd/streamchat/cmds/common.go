package cmds

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/streamchat/pkg/api"
	"github.com/go-go-golems/streamchat/pkg/config"
	"github.com/go-go-golems/streamchat/pkg/eventbus"
	"github.com/go-go-golems/streamchat/pkg/session"
	"github.com/go-go-golems/streamchat/pkg/transport"
)

// LoadSettings merges the config file, environment and the command's flags.
func LoadSettings(cmd *cobra.Command) (config.Settings, error) {
	v := config.NewViper()
	path, _ := cmd.Flags().GetString("config")
	if err := config.ReadFile(v, path); err != nil {
		return config.Settings{}, err
	}
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return config.Settings{}, err
	}
	return config.Load(v)
}

func loadClientSettings(cmd *cobra.Command) (config.Settings, error) {
	s, err := LoadSettings(cmd)
	if err != nil {
		return config.Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return config.Settings{}, err
	}
	return s, nil
}

func newHistoryClient(s config.Settings) *api.Client {
	return api.NewClient(s.ServerURL, s.AssistantID, api.WithTimeout(s.HistoryTimeout))
}

func newDialer(s config.Settings) *transport.WebSocketDialer {
	return transport.NewWebSocketDialer(s.ServerURL, s.AssistantID,
		transport.WithHandshakeTimeout(s.HandshakeTimeout),
		transport.WithWriteTimeout(s.WriteTimeout),
	)
}

// newSessionFactory returns a factory of sessions publishing to bus.
func newSessionFactory(s config.Settings, bus *eventbus.Bus, extra ...session.Option) session.Factory {
	fetcher, dialer := newHistoryClient(s), newDialer(s)
	forwarder := eventbus.NewForwarder(bus)
	return func(string) *session.Session {
		opts := []session.Option{
			session.WithPolicy(s.Policy()),
			session.WithLogger(log.Logger),
			session.WithHistoryTimeout(s.HistoryTimeout),
			session.WithHandshakeTimeout(s.HandshakeTimeout),
			session.WithObserver(forwarder),
		}
		return session.New(fetcher, dialer, append(opts, extra...)...)
	}
}
