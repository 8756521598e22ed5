// Package transport provides the bidirectional conversation connection used by
// the session engine. A Conn is bound to one conversation for its lifetime.
package transport

import (
	"context"

	"github.com/pkg/errors"

	"github.com/go-go-golems/streamchat/pkg/protocol"
)

// ErrNotReady is returned by Send when the connection cannot be written to,
// for example because it was closed or the peer went away.
var ErrNotReady = errors.New("transport not ready")

// Conn is one live conversation connection.
//
// ReadFrame is called from a single reader goroutine. Send may be called
// concurrently with ReadFrame. Close unblocks a pending ReadFrame and is
// idempotent.
type Conn interface {
	Send(ctx context.Context, turn protocol.TurnMessage) error
	ReadFrame() ([]byte, error)
	Close() error
}

// Dialer establishes a Conn bound to a conversation.
type Dialer interface {
	Dial(ctx context.Context, conversationID string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, conversationID string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, conversationID string) (Conn, error) {
	return f(ctx, conversationID)
}
