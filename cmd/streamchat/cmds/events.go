package cmds

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/streamchat/pkg/eventbus"
)

func NewEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail session notifications mirrored to the Redis stream",
		Long: "Tail session notifications that other streamchat processes mirror to Redis.\n" +
			"Requires --redis.enabled. Each notification is printed as one JSON line.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := LoadSettings(cmd)
			if err != nil {
				return err
			}
			if !s.Events.Redis.Enabled {
				return errors.New("events needs redis.enabled")
			}
			if err := s.Events.Validate(); err != nil {
				return err
			}
			convFilter, _ := cmd.Flags().GetString("filter-conversation")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bus, err := eventbus.Build(s.Events)
			if err != nil {
				return err
			}
			defer func() { _ = bus.Close() }()

			ch, err := bus.SubscribeRemote(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg, ok := <-ch:
					if !ok {
						return nil
					}
					msg.Ack()
					if convFilter != "" && msg.Metadata.Get(eventbus.MetadataConvID) != convFilter {
						continue
					}
					if _, err := eventbus.DecodeRecord(msg.Payload); err != nil {
						log.Warn().Err(err).Str("message_id", msg.UUID).Msg("skipping undecodable notification")
						continue
					}
					if _, err := fmt.Fprintln(out, string(msg.Payload)); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().String("filter-conversation", "", "Only print notifications of this conversation")
	return cmd
}
