package cmds

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/streamchat/pkg/eventbus"
	"github.com/go-go-golems/streamchat/pkg/recent"
	"github.com/go-go-golems/streamchat/pkg/session"
	"github.com/go-go-golems/streamchat/pkg/ui"
)

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [conversation-id]",
		Short: "Open a conversation and chat with the assistant",
		Long: "Open a conversation and chat with the assistant. Without a conversation id\n" +
			"(argument, --conversation-id or config) a new conversation is started.",
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}
	cmd.Flags().Bool("plain", false, "Use the line prompt even when attached to a terminal")
	cmd.Flags().Bool("no-markdown", false, "Show assistant replies without markdown rendering")
	return cmd
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func runChat(cmd *cobra.Command, args []string) error {
	s, err := loadClientSettings(cmd)
	if err != nil {
		return err
	}
	convID := s.ConversationID
	if len(args) == 1 {
		convID = args[0]
	}
	if convID == "" {
		convID = uuid.NewString()
		log.Info().Str("conv_id", convID).Msg("starting a new conversation")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, err := eventbus.Build(s.Events)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn().Err(err).Msg("closing event bus")
		}
	}()

	var (
		sessOpts []session.Option
		uiOpts   []ui.ModelOption
	)
	if recents := loadRecent(); recents != nil {
		sessOpts = append(sessOpts, session.WithObserver(recents.Observer(s.AssistantID)))
		uiOpts = append(uiOpts, ui.WithRecent(func() []recent.Item { return recents.Items(s.AssistantID) }))
	}
	sess := newSessionFactory(s, bus, sessOpts...)(convID)

	plain, _ := cmd.Flags().GetBool("plain")
	if plain || !isTerminal(os.Stdin) || !isTerminal(os.Stdout) {
		return runLineChat(ctx, cmd, bus, sess, convID)
	}
	noMarkdown, _ := cmd.Flags().GetBool("no-markdown")
	if !noMarkdown {
		r, err := ui.NewMarkdownRenderer(78)
		if err != nil {
			log.Warn().Err(err).Msg("markdown renderer unavailable, showing plain text")
		} else {
			uiOpts = append(uiOpts, ui.WithMarkdown(r))
		}
	}
	return runTUIChat(ctx, bus, sess, convID, s.HandshakeTimeout+s.HistoryTimeout, uiOpts)
}

// loadRecent returns nil when the recent conversations file is unusable.
func loadRecent() *recent.List {
	path, err := recent.DefaultPath()
	if err != nil {
		log.Debug().Err(err).Msg("no home directory for recent conversations")
		return nil
	}
	l, err := recent.Load(path, recent.DefaultMax)
	if err != nil {
		log.Warn().Err(err).Msg("ignoring recent conversations")
		return nil
	}
	return l
}

func runLineChat(ctx context.Context, cmd *cobra.Command, bus *eventbus.Bus, sess *session.Session, convID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	notifications, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	lines := ui.NewLineUI(sess, cmd.OutOrStdout())

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return ui.Consume(ctx, notifications, ui.ForwardFunc(lines))
	})
	eg.Go(func() error {
		defer cancel()
		defer func() { _ = sess.Close() }()
		if err := sess.Open(ctx, convID); err != nil {
			return errors.Wrap(err, "open conversation")
		}
		return lines.Run(ctx, cmd.InOrStdin())
	})
	return eg.Wait()
}

func runTUIChat(ctx context.Context, bus *eventbus.Bus, sess *session.Session, convID string, switchTimeout time.Duration, opts []ui.ModelOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	notifications, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	model := ui.NewModel(ui.NewSessionBackend(ctx, sess, switchTimeout), opts...)
	p := tea.NewProgram(model, tea.WithAltScreen())

	eg := errgroup.Group{}
	eg.Go(func() error {
		return ui.Consume(ctx, notifications, ui.ForwardFunc(p))
	})
	eg.Go(func() error {
		// the program must be running to receive the open notifications
		if err := sess.Open(ctx, convID); err != nil {
			log.Error().Err(err).Str("conv_id", convID).Msg("open conversation failed")
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		p.Quit()
		return nil
	})

	_, runErr := p.Run()
	cancel()
	if err := sess.Close(); err != nil {
		log.Warn().Err(err).Msg("closing session")
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("chat UI: %w", runErr)
	}
	return nil
}
