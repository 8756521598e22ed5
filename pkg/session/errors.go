package session

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrAlreadyOpen       = errors.New("session already open")
	ErrNotOpen           = errors.New("session not open")
	ErrTransportNotReady = errors.New("transport not ready")
	ErrEmptyTurn         = errors.New("empty turn")
	// ErrClosedDuringOpen is returned by Open when Close won the race against
	// an outstanding history fetch or handshake.
	ErrClosedDuringOpen = errors.New("session closed while opening")
)

// FailureStage names the step whose failure moved a session to StateFailed.
type FailureStage string

const (
	StageHistory   FailureStage = "history"
	StageHandshake FailureStage = "handshake"
	StageTransport FailureStage = "transport"
)

// FailureError is the terminal error of a failed session.
type FailureError struct {
	Stage          FailureStage
	ConversationID string
	Err            error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("session %s failed (%s): %v", e.ConversationID, e.Stage, e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }

// FailureStageOf returns the stage of a FailureError anywhere in err's chain.
func FailureStageOf(err error) (FailureStage, bool) {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.Stage, true
	}
	return "", false
}

// SendError is returned by SendTurn when the turn could not be written. It
// matches ErrTransportNotReady and the transport's own error.
type SendError struct {
	TurnID string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("turn %s: %v: %v", e.TurnID, ErrTransportNotReady, e.Err)
}

func (e *SendError) Unwrap() []error { return []error{ErrTransportNotReady, e.Err} }
