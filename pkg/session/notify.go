package session

import (
	"github.com/go-go-golems/streamchat/pkg/assembler"
	"github.com/go-go-golems/streamchat/pkg/history"
	"github.com/go-go-golems/streamchat/pkg/protocol"
)

type NotificationKind int

const (
	NotificationHistorySeeded NotificationKind = iota + 1
	NotificationHistoryAppended
	NotificationTypingChanged
	NotificationStateChanged
	NotificationPartialUpdated
	NotificationTurnError
	NotificationStatus
	NotificationAnomaly
	NotificationSessionFailed
)

func (k NotificationKind) String() string {
	switch k {
	case NotificationHistorySeeded:
		return "history_seeded"
	case NotificationHistoryAppended:
		return "history_appended"
	case NotificationTypingChanged:
		return "typing_changed"
	case NotificationStateChanged:
		return "state_changed"
	case NotificationPartialUpdated:
		return "partial_updated"
	case NotificationTurnError:
		return "turn_error"
	case NotificationStatus:
		return "status"
	case NotificationAnomaly:
		return "anomaly"
	case NotificationSessionFailed:
		return "session_failed"
	default:
		return "unknown"
	}
}

// Notification describes one change of session state. Only the fields relevant
// to Kind are set; Entry and Partial are copies owned by the receiver.
type Notification struct {
	Kind           NotificationKind
	ConversationID string
	Epoch          uint64

	// HistorySeeded: number of entries loaded.
	Seeded int
	// HistoryAppended.
	Entry     *history.Entry
	EndStatus protocol.EndStatus
	// TypingChanged.
	Typing bool
	// StateChanged.
	State ConnectionState
	// PartialUpdated.
	Partial *assembler.PartialReply
	// TurnID of the turn a TurnError or user HistoryAppended belongs to.
	TurnID string
	// Status, TurnError and Anomaly text.
	Message string
	// SessionFailed, and TurnError when the send itself failed.
	Err error
}

// Observer receives notifications in the order the session produced them.
// Callbacks run outside the session lock and may call back into the session;
// notifications produced by such calls are delivered after the current one.
type Observer interface {
	OnNotification(n Notification)
}

type ObserverFunc func(n Notification)

func (f ObserverFunc) OnNotification(n Notification) { f(n) }
