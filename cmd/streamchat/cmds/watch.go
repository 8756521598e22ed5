package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/streamchat/pkg/eventbus"
	"github.com/go-go-golems/streamchat/pkg/history"
	"github.com/go-go-golems/streamchat/pkg/session"
)

// ErrNothingToWatch is returned by watch when none of the conversations could be opened.
var ErrNothingToWatch = errors.New("no conversation could be opened")

func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch conversation-id...",
		Short: "Follow several conversations and print assistant replies as they complete",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadClientSettings(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bus, err := eventbus.Build(s.Events)
			if err != nil {
				return err
			}
			defer func() { _ = bus.Close() }()

			return watch(ctx, bus, session.NewManager(newSessionFactory(s, bus)), args, cmd.OutOrStdout())
		},
	}
}

func watch(ctx context.Context, bus *eventbus.Bus, mgr *session.Manager, convIDs []string, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	notifications, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	printer := &watchPrinter{out: out}

	eg := errgroup.Group{}
	eg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-notifications:
				if !ok {
					return nil
				}
				printer.handle(msg)
			}
		}
	})

	for _, id := range convIDs {
		if _, err := mgr.GetOrOpen(ctx, id); err != nil {
			log.Error().Err(err).Str("conv_id", id).Msg("could not watch conversation")
		}
	}
	if len(mgr.IDs()) == 0 {
		cancel()
		_ = eg.Wait()
		return errors.Wrapf(ErrNothingToWatch, "watch %d conversations", len(convIDs))
	}

	<-ctx.Done()
	mgr.CloseAll()
	return eg.Wait()
}

type watchPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *watchPrinter) handle(msg *message.Message) {
	msg.Ack()
	r, err := eventbus.DecodeRecord(msg.Payload)
	if err != nil {
		log.Warn().Err(err).Msg("skipping undecodable notification")
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	switch r.Kind {
	case session.NotificationHistoryAppended.String():
		if r.Entry == nil {
			return
		}
		e := r.Entry.HistoryEntry()
		if e.Sender != history.SenderAssistant {
			_, _ = fmt.Fprintf(w.out, "[%s] user> %s\n", r.ConversationID, e.Content)
			return
		}
		if e.MediaType.Whole() {
			_, _ = fmt.Fprintf(w.out, "[%s] assistant> [%s] %s\n", r.ConversationID, e.MediaType, e.Content)
			return
		}
		_, _ = fmt.Fprintf(w.out, "[%s] assistant> %s\n", r.ConversationID, e.Content)
	case session.NotificationStateChanged.String():
		_, _ = fmt.Fprintf(w.out, "[%s] -- %s\n", r.ConversationID, r.State)
	case session.NotificationSessionFailed.String():
		_, _ = fmt.Fprintf(w.out, "[%s] failed: %s\n", r.ConversationID, r.Error)
	}
}
