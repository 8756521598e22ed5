package cmds

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/streamchat/pkg/history"
)

func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [conversation-id]",
		Short: "Print the stored history of a conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadClientSettings(cmd)
			if err != nil {
				return err
			}
			convID := s.ConversationID
			if len(args) == 1 {
				convID = args[0]
			}
			if convID == "" {
				return errors.New("a conversation id is required")
			}
			format, _ := cmd.Flags().GetString("output")

			entries, err := newHistoryClient(s).FetchHistory(cmd.Context(), convID)
			if err != nil {
				return err
			}
			return WriteHistory(cmd.OutOrStdout(), entries, format)
		},
	}
	cmd.Flags().StringP("output", "o", "text", "Output format (text, json or yaml)")
	return cmd
}

type historyRow struct {
	Index     int       `json:"index" yaml:"index"`
	Sender    string    `json:"sender" yaml:"sender"`
	MediaType string    `json:"media_type" yaml:"media_type"`
	Content   string    `json:"content" yaml:"content"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// WriteHistory renders entries to w in the given format.
func WriteHistory(w io.Writer, entries []history.Entry, format string) error {
	rows := make([]historyRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, historyRow{
			Index:     e.Index,
			Sender:    string(e.Sender),
			MediaType: string(e.MediaType),
			Content:   e.Content,
			CreatedAt: e.CreatedAt,
		})
	}

	switch format {
	case "", "text":
		for _, r := range rows {
			if r.MediaType != "text" {
				if _, err := fmt.Fprintf(w, "%3d %-9s [%s] %s\n", r.Index, r.Sender, r.MediaType, r.Content); err != nil {
					return err
				}
				continue
			}
			if _, err := fmt.Fprintf(w, "%3d %-9s %s\n", r.Index, r.Sender, r.Content); err != nil {
				return err
			}
		}
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		return enc.Close()
	default:
		return errors.Errorf("unknown output format %q", format)
	}
}
