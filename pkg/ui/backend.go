package ui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/streamchat/pkg/session"
)

// Session is the part of *session.Session the UI drives.
type Session interface {
	SendTurn(ctx context.Context, text string) (string, error)
	Switch(ctx context.Context, conversationID string) error
	Snapshot() session.Snapshot
}

var _ Session = &session.Session{}

// TurnSentMsg reports the outcome of a SendTurn command.
type TurnSentMsg struct {
	TurnID string
	Err    error
}

// SwitchedMsg reports the outcome of a Switch command.
type SwitchedMsg struct {
	ConversationID string
	Snapshot       session.Snapshot
	Err            error
}

// SessionBackend turns session calls into tea commands. Session methods can
// block on notification delivery to the program itself, so they never run on
// the Update goroutine.
type SessionBackend struct {
	ctx           context.Context
	sess          Session
	switchTimeout time.Duration
}

func NewSessionBackend(ctx context.Context, sess Session, switchTimeout time.Duration) *SessionBackend {
	return &SessionBackend{ctx: ctx, sess: sess, switchTimeout: switchTimeout}
}

func (b *SessionBackend) Snapshot() session.Snapshot {
	return b.sess.Snapshot()
}

// Send returns a command that submits text as a user turn.
func (b *SessionBackend) Send(text string) tea.Cmd {
	return func() tea.Msg {
		id, err := b.sess.SendTurn(b.ctx, text)
		if err != nil {
			log.Warn().Err(err).Str("component", "ui").Msg("send turn failed")
		}
		return TurnSentMsg{TurnID: id, Err: err}
	}
}

// Switch returns a command that moves the session to another conversation.
func (b *SessionBackend) Switch(conversationID string) tea.Cmd {
	return func() tea.Msg {
		ctx := b.ctx
		if b.switchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.switchTimeout)
			defer cancel()
		}
		err := b.sess.Switch(ctx, conversationID)
		if err != nil {
			log.Warn().Err(err).Str("component", "ui").Str("conv_id", conversationID).Msg("switch conversation failed")
		}
		return SwitchedMsg{ConversationID: conversationID, Snapshot: b.sess.Snapshot(), Err: err}
	}
}
