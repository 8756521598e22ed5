package ui

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/streamchat/pkg/assembler"
	"github.com/go-go-golems/streamchat/pkg/eventbus"
	"github.com/go-go-golems/streamchat/pkg/history"
	"github.com/go-go-golems/streamchat/pkg/protocol"
	"github.com/go-go-golems/streamchat/pkg/session"
)

// Sender is implemented by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

type HistorySeededMsg struct {
	ConversationID string
	Count          int
}

type EntryAppendedMsg struct {
	ConversationID string
	Entry          history.Entry
	EndStatus      protocol.EndStatus
}

type TypingMsg struct {
	ConversationID string
	Typing         bool
}

type StateMsg struct {
	ConversationID string
	State          string
}

type PartialMsg struct {
	ConversationID string
	Partial        *assembler.PartialReply
}

type TurnErrorMsg struct {
	TurnID  string
	Message string
	Err     string
}

type StatusMsg struct {
	Message string
}

type AnomalyMsg struct {
	Message string
}

type SessionFailedMsg struct {
	Err string
}

// ToMsg converts a bus record into the message the UI handles, nil if the
// record kind has no UI counterpart.
func ToMsg(r eventbus.Record) tea.Msg {
	switch r.Kind {
	case session.NotificationHistorySeeded.String():
		return HistorySeededMsg{ConversationID: r.ConversationID, Count: r.Seeded}
	case session.NotificationHistoryAppended.String():
		if r.Entry == nil {
			return nil
		}
		return EntryAppendedMsg{ConversationID: r.ConversationID, Entry: r.Entry.HistoryEntry(), EndStatus: protocol.EndStatus(r.EndStatus)}
	case session.NotificationTypingChanged.String():
		return TypingMsg{ConversationID: r.ConversationID, Typing: r.Typing != nil && *r.Typing}
	case session.NotificationStateChanged.String():
		return StateMsg{ConversationID: r.ConversationID, State: r.State}
	case session.NotificationPartialUpdated.String():
		return PartialMsg{ConversationID: r.ConversationID, Partial: r.Partial.PartialReply()}
	case session.NotificationTurnError.String():
		return TurnErrorMsg{TurnID: r.TurnID, Message: r.Message, Err: r.Error}
	case session.NotificationStatus.String():
		return StatusMsg{Message: r.Message}
	case session.NotificationAnomaly.String():
		return AnomalyMsg{Message: r.Message}
	case session.NotificationSessionFailed.String():
		return SessionFailedMsg{Err: r.Error}
	default:
		return nil
	}
}

// ForwardFunc forwards bus messages to the program p as UI messages.
func ForwardFunc(p Sender) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		msg.Ack()

		r, err := eventbus.DecodeRecord(msg.Payload)
		if err != nil {
			log.Error().Err(err).Str("payload", string(msg.Payload)).Msg("failed to parse notification")
			return err
		}
		log.Trace().Str("kind", r.Kind).Str("conv_id", r.ConversationID).Msg("dispatching notification to UI")
		if m := ToMsg(r); m != nil {
			p.Send(m)
		}
		return nil
	}
}

// Consume runs forward over ch until it is closed or ctx is done.
func Consume(ctx context.Context, ch <-chan *message.Message, forward func(*message.Message) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			_ = forward(msg)
		}
	}
}
