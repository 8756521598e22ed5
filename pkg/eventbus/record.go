package eventbus

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/streamchat/pkg/assembler"
	"github.com/go-go-golems/streamchat/pkg/history"
	"github.com/go-go-golems/streamchat/pkg/protocol"
	"github.com/go-go-golems/streamchat/pkg/session"
)

// Record is the JSON payload of a published notification.
type Record struct {
	Kind           string         `json:"kind"`
	ConversationID string         `json:"conversation_id"`
	Epoch          uint64         `json:"epoch"`
	Seeded         int            `json:"seeded,omitempty"`
	Entry          *EntryRecord   `json:"entry,omitempty"`
	EndStatus      string         `json:"end_status,omitempty"`
	Typing         *bool          `json:"typing,omitempty"`
	State          string         `json:"state,omitempty"`
	Partial        *PartialRecord `json:"partial,omitempty"`
	TurnID         string         `json:"turn_id,omitempty"`
	Message        string         `json:"message,omitempty"`
	Error          string         `json:"error,omitempty"`
	PublishedAt    time.Time      `json:"published_at"`
}

type EntryRecord struct {
	Index     int            `json:"index"`
	Sender    string         `json:"sender"`
	MediaType string         `json:"media_type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type PartialRecord struct {
	MediaType string         `json:"media_type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewRecord(n session.Notification) Record {
	r := Record{
		Kind:           n.Kind.String(),
		ConversationID: n.ConversationID,
		Epoch:          n.Epoch,
		Seeded:         n.Seeded,
		EndStatus:      string(n.EndStatus),
		TurnID:         n.TurnID,
		Message:        n.Message,
		PublishedAt:    time.Now().UTC(),
	}
	if n.Entry != nil {
		r.Entry = &EntryRecord{
			Index:     n.Entry.Index,
			Sender:    string(n.Entry.Sender),
			MediaType: string(n.Entry.MediaType),
			Content:   n.Entry.Content,
			Metadata:  protocol.CloneMetadata(n.Entry.Metadata),
			CreatedAt: n.Entry.CreatedAt,
		}
	}
	switch n.Kind {
	case session.NotificationTypingChanged:
		typing := n.Typing
		r.Typing = &typing
	case session.NotificationStateChanged:
		r.State = n.State.String()
	case session.NotificationPartialUpdated:
		if n.Partial != nil {
			r.Partial = &PartialRecord{
				MediaType: string(n.Partial.MediaType),
				Content:   n.Partial.Content,
				Metadata:  protocol.CloneMetadata(n.Partial.Metadata),
			}
		}
	}
	if n.Err != nil {
		r.Error = n.Err.Error()
	}
	return r
}

// HistoryEntry converts the record's entry back into a history entry.
func (e *EntryRecord) HistoryEntry() history.Entry {
	return history.Entry{
		Index:     e.Index,
		Sender:    history.Sender(e.Sender),
		MediaType: protocol.MediaType(e.MediaType),
		Content:   e.Content,
		Metadata:  protocol.CloneMetadata(e.Metadata),
		CreatedAt: e.CreatedAt,
	}
}

func (p *PartialRecord) PartialReply() *assembler.PartialReply {
	if p == nil {
		return nil
	}
	return &assembler.PartialReply{
		MediaType: protocol.MediaType(p.MediaType),
		Content:   p.Content,
		Metadata:  protocol.CloneMetadata(p.Metadata),
	}
}

func DecodeRecord(payload []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(payload, &r); err != nil {
		return Record{}, errors.Wrap(err, "eventbus: decode record")
	}
	return r, nil
}

// Forwarder publishes every session notification to a Bus.
type Forwarder struct {
	bus *Bus
}

var _ session.Observer = &Forwarder{}

func NewForwarder(bus *Bus) *Forwarder {
	return &Forwarder{bus: bus}
}

func (f *Forwarder) OnNotification(n session.Notification) {
	if f == nil || f.bus == nil {
		return
	}
	payload, err := json.Marshal(NewRecord(n))
	if err != nil {
		log.Warn().Err(err).Str("component", "eventbus").Str("conv_id", n.ConversationID).Msg("marshal notification")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataKind, n.Kind.String())
	msg.Metadata.Set(MetadataConvID, n.ConversationID)
	if err := f.bus.Publish(msg); err != nil {
		log.Warn().Err(err).Str("component", "eventbus").Str("conv_id", n.ConversationID).Str("kind", n.Kind.String()).Msg("publish notification")
	}
}
