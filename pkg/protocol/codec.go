package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type DecodeErrorKind int

const (
	DecodeErrorMalformed DecodeErrorKind = iota + 1
	DecodeErrorUnknownEventType
)

func (k DecodeErrorKind) String() string {
	switch k {
	case DecodeErrorMalformed:
		return "malformed"
	case DecodeErrorUnknownEventType:
		return "unknown_event_type"
	default:
		return "unknown"
	}
}

// DecodeError is returned by Decode for frames that cannot become an Event.
// Both kinds are recoverable: the frame is dropped and the stream continues.
type DecodeError struct {
	Kind DecodeErrorKind
	// Type is the raw "type" tag when one could be read.
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	msg := "decode frame: " + e.Kind.String()
	if e.Type != "" {
		msg += fmt.Sprintf(" (type %q)", e.Type)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsUnknownEventType reports whether err is a DecodeError for an unrecognised tag.
func IsUnknownEventType(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Kind == DecodeErrorUnknownEventType
}

// IsMalformed reports whether err is a DecodeError for an unparseable frame.
func IsMalformed(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Kind == DecodeErrorMalformed
}

type wireFrame struct {
	Type      string         `json:"type"`
	MediaType MediaType      `json:"media_type,omitempty"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Decode parses one inbound frame. It has no side effects.
func Decode(raw []byte) (Event, error) {
	var f wireFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &DecodeError{Kind: DecodeErrorMalformed, Err: err}
	}
	if strings.TrimSpace(f.Type) == "" {
		return nil, &DecodeError{Kind: DecodeErrorMalformed, Err: errors.New("missing type")}
	}

	switch EventType(f.Type) {
	case EventTypeMessage:
		if !f.MediaType.Valid() {
			return nil, &DecodeError{
				Kind: DecodeErrorMalformed,
				Type: f.Type,
				Err:  errors.Errorf("invalid media_type %q", f.MediaType),
			}
		}
		return &EventMessage{MediaType: f.MediaType, Content: f.Content, Metadata: f.Metadata}, nil
	case EventTypeStatus:
		return &EventStatus{Content: f.Content}, nil
	case EventTypeError:
		return &EventError{Content: f.Content}, nil
	case EventTypeEnd:
		return &EventEnd{MediaType: f.MediaType, Metadata: f.Metadata}, nil
	default:
		return nil, &DecodeError{Kind: DecodeErrorUnknownEventType, Type: f.Type}
	}
}

// Encode renders an event as a wire frame. The server side and tests use it;
// the client engine only decodes.
func Encode(e Event) ([]byte, error) {
	var f wireFrame
	switch ev := e.(type) {
	case *EventMessage:
		f = wireFrame{Type: string(EventTypeMessage), MediaType: ev.MediaType, Content: ev.Content, Metadata: ev.Metadata}
	case *EventStatus:
		f = wireFrame{Type: string(EventTypeStatus), MediaType: MediaTypeText, Content: ev.Content}
	case *EventError:
		f = wireFrame{Type: string(EventTypeError), MediaType: MediaTypeText, Content: ev.Content}
	case *EventEnd:
		mt := ev.MediaType
		if mt == "" {
			mt = MediaTypeText
		}
		f = wireFrame{Type: string(EventTypeEnd), MediaType: mt, Content: string(mt) + "_end", Metadata: ev.Metadata}
	default:
		return nil, errors.Errorf("encode: unsupported event %T", e)
	}
	return json.Marshal(f)
}

// EncodeTurn renders the outbound turn payload.
func EncodeTurn(t TurnMessage) ([]byte, error) {
	return json.Marshal(t)
}

// DecodeTurn parses an outbound turn payload as received by a server.
func DecodeTurn(raw []byte) (TurnMessage, error) {
	var t TurnMessage
	if err := json.Unmarshal(raw, &t); err != nil {
		return TurnMessage{}, errors.Wrap(err, "decode turn")
	}
	return t, nil
}
