// Package protocol defines the frames exchanged with the assistant server over a
// conversation socket and the typed events they decode into.
//
// Inbound frames are UTF-8 JSON objects tagged by "type":
//
//	{"type":"message","media_type":"text","content":"Hel","metadata":{}}
//	{"type":"status","content":"message_received"}
//	{"type":"error","content":"rate limited"}
//	{"type":"end","metadata":{"end_status":"complete","end_token":"<END>"}}
//
// The only outbound payload is a TurnMessage: {"content":"..."}.
package protocol

type EventType string

const (
	EventTypeMessage EventType = "message"
	EventTypeStatus  EventType = "status"
	EventTypeError   EventType = "error"
	EventTypeEnd     EventType = "end"
)

// MediaType is the content kind of a message event.
type MediaType string

const (
	MediaTypeText  MediaType = "text"
	MediaTypeVideo MediaType = "video"
	MediaTypeImage MediaType = "image"
	MediaTypeAudio MediaType = "audio"
)

func (m MediaType) Valid() bool {
	switch m {
	case MediaTypeText, MediaTypeVideo, MediaTypeImage, MediaTypeAudio:
		return true
	default:
		return false
	}
}

// Whole reports whether payloads of this type are delivered complete in a
// single event and replace any accumulated content instead of appending to it.
func (m MediaType) Whole() bool {
	return m == MediaTypeVideo || m == MediaTypeImage || m == MediaTypeAudio
}

// EndStatus is carried in the metadata of an end event.
type EndStatus string

const (
	EndStatusComplete    EndStatus = "complete"
	EndStatusInterrupted EndStatus = "interrupted"
	EndStatusError       EndStatus = "error"
	EndStatusTimeout     EndStatus = "timeout"
)

const (
	EndToken             = "<END>"
	MetadataKeyEndStatus = "end_status"
	MetadataKeyEndToken  = "end_token"
)

// Event is one decoded inbound frame. Use a type switch over the concrete
// *EventMessage, *EventStatus, *EventError and *EventEnd values.
type Event interface {
	Type() EventType
}

// EventMessage carries a text delta or a complete media payload.
type EventMessage struct {
	MediaType MediaType
	Content   string
	Metadata  map[string]any
}

func (e *EventMessage) Type() EventType { return EventTypeMessage }

type EventStatus struct {
	Content string
}

func (e *EventStatus) Type() EventType { return EventTypeStatus }

// EventError reports that the current turn failed. The connection stays up.
type EventError struct {
	Content string
}

func (e *EventError) Type() EventType { return EventTypeError }

// EventEnd closes the current reply.
type EventEnd struct {
	MediaType MediaType
	Metadata  map[string]any
}

func (e *EventEnd) Type() EventType { return EventTypeEnd }

// Status returns the end status from metadata, defaulting to complete.
func (e *EventEnd) Status() EndStatus {
	if e == nil || e.Metadata == nil {
		return EndStatusComplete
	}
	s, ok := e.Metadata[MetadataKeyEndStatus].(string)
	if !ok || s == "" {
		return EndStatusComplete
	}
	return EndStatus(s)
}

// TurnMessage is the client-to-server payload for one user turn.
type TurnMessage struct {
	Content string `json:"content"`
}

// CloneMetadata deep-copies JSON-shaped metadata so callers can hand it out
// without sharing nested maps or slices.
func CloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return CloneMetadata(vv)
	case []any:
		out := make([]any, len(vv))
		for i, x := range vv {
			out[i] = cloneValue(x)
		}
		return out
	default:
		return v
	}
}
