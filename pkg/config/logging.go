package config

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// InitLogger configures the global zerolog logger. The returned closer flushes
// the log file, if any.
func InitLogger(l LoggingSettings) (io.Closer, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	level, _ := zerolog.ParseLevel(strings.ToLower(l.Level))
	zerolog.SetGlobalLevel(level)

	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if l.File != "" {
		lj := &lumberjack.Logger{
			Filename:   l.File,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}
		out, closer = lj, lj
	}
	if l.Format != "json" {
		out = zerolog.ConsoleWriter{Out: out, NoColor: l.File != ""}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if l.WithCaller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return closer, nil
}
