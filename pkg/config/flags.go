package config

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/go-go-golems/streamchat/pkg/eventbus"
)

// AddLoggingFlags registers the logging flags shared by every binary.
func AddLoggingFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	fs.String("log-format", "console", "Log format (console or json)")
	fs.String("log-file", "", "Write logs to this file with rotation instead of stderr")
	fs.Bool("with-caller", false, "Include caller information in log lines")
}

// AddClientFlags registers the flags for talking to an assistant server.
func AddClientFlags(fs *pflag.FlagSet) {
	fs.String("server-url", "http://localhost:8000", "Base URL of the assistant server")
	fs.String("assistant-id", "", "Assistant identifier")
	fs.String("conversation-id", "", "Conversation to open")
	fs.Duration("history-timeout", 10*time.Second, "Timeout for the history request")
	fs.Duration("handshake-timeout", 10*time.Second, "Timeout for the websocket handshake")
	fs.Duration("write-timeout", 5*time.Second, "Timeout for a single websocket write")
	fs.String("media-policy", "last-write-wins", "Media type change policy while streaming (last-write-wins or strict)")
}

// AddEventFlags registers the notification bus flags.
func AddEventFlags(fs *pflag.FlagSet) {
	fs.String("topic", eventbus.DefaultTopic, "Notification topic")
	fs.Bool("redis.enabled", false, "Mirror notifications to a Redis stream")
	fs.String("redis.addr", "localhost:6379", "Redis address")
	fs.String("redis.stream", eventbus.DefaultTopic, "Redis stream name")
	fs.Int64("redis.max-len", 0, "Approximate maximum stream length, 0 for unbounded")
}
