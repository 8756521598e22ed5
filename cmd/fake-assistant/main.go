package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/streamchat/pkg/config"
	"github.com/go-go-golems/streamchat/pkg/fakeserver"
)

var rootCmd = &cobra.Command{
	Use:   "fake-assistant",
	Short: "Serve the assistant history and websocket protocol with scripted replies",
	Long: "Serve the assistant history and websocket protocol with scripted replies.\n\n" +
		"Every turn is echoed back word by word. The turns /video <ref>, /image <ref>,\n" +
		"/audio <ref>, /error <message> and /empty exercise the other reply shapes.",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func run(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	level, _ := f.GetString("log-level")
	format, _ := f.GetString("log-format")
	file, _ := f.GetString("log-file")
	withCaller, _ := f.GetBool("with-caller")
	closer, err := config.InitLogger(config.LoggingSettings{Level: level, Format: format, File: file, WithCaller: withCaller})
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	addr, _ := f.GetString("addr")
	dbPath, _ := f.GetString("db")
	delay, _ := f.GetDuration("delay")
	prefix, _ := f.GetString("prefix")

	dsn, err := fakeserver.SQLiteDSNForFile(dbPath)
	if err != nil {
		return err
	}
	store, err := fakeserver.NewSQLiteStore(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	srv := fakeserver.New(store,
		fakeserver.WithDelay(delay),
		fakeserver.WithResponder(fakeserver.EchoResponder{Prefix: prefix}),
	)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", addr).Str("db", dbPath).Dur("delay", delay).Msg("fake assistant listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		srv.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func main() {
	f := rootCmd.Flags()
	f.String("addr", ":8000", "Listen address")
	f.String("db", "fake-assistant.db", "SQLite database file holding the conversations")
	f.Duration("delay", 50*time.Millisecond, "Pause between streamed events")
	f.String("prefix", "You said: ", "Prefix of echoed replies")
	config.AddLoggingFlags(f)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
