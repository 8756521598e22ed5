package history

import (
	"time"

	"github.com/go-go-golems/streamchat/pkg/protocol"
)

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAssistant
}

// Entry is one finalized message. Index is assigned by Store on append and is
// the entry's position in the conversation.
type Entry struct {
	Index     int
	Sender    Sender
	MediaType protocol.MediaType
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Clone returns a copy that shares no mutable state with e.
func (e Entry) Clone() Entry {
	e.Metadata = protocol.CloneMetadata(e.Metadata)
	return e
}

func NewUserEntry(text string) Entry {
	return Entry{
		Sender:    SenderUser,
		MediaType: protocol.MediaTypeText,
		Content:   text,
		CreatedAt: time.Now(),
	}
}
