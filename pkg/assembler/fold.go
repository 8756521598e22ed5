// Package assembler folds streamed protocol events into an in-progress reply
// and finalizes it into a history entry when the server signals the end.
//
// Fold is a pure function of (event, previous partial) so it can be tested
// without a transport; the conversation session owns the state between calls.
package assembler

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/streamchat/pkg/history"
	"github.com/go-go-golems/streamchat/pkg/protocol"
)

// ErrMediaTypeMismatch is returned under PolicyStrict when a message event
// carries a different media type than the reply being assembled.
var ErrMediaTypeMismatch = errors.New("media type changed within one reply")

// Policy selects how a media type switch inside one reply is resolved.
type Policy int

const (
	// PolicyLastWriteWins adopts the newer event's type and content.
	PolicyLastWriteWins Policy = iota
	// PolicyStrict rejects the event and keeps the partial reply unchanged.
	PolicyStrict
)

func (p Policy) String() string {
	switch p {
	case PolicyStrict:
		return "strict"
	default:
		return "last-write-wins"
	}
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last-write-wins", "lww":
		return PolicyLastWriteWins, nil
	case "strict":
		return PolicyStrict, nil
	default:
		return PolicyLastWriteWins, errors.Errorf("unknown media policy %q", s)
	}
}

// PartialReply is the assistant message being assembled. Values handed out by
// Fold are never mutated afterwards.
type PartialReply struct {
	MediaType protocol.MediaType
	Content   string
	Metadata  map[string]any
}

func (p *PartialReply) Clone() *PartialReply {
	if p == nil {
		return nil
	}
	return &PartialReply{
		MediaType: p.MediaType,
		Content:   p.Content,
		Metadata:  protocol.CloneMetadata(p.Metadata),
	}
}

// Result is the outcome of folding one event.
type Result struct {
	// Partial is the reply in progress after the event, nil when none.
	Partial *PartialReply
	// Finalized is set on end events. Index and CreatedAt are left for the
	// history store and the session to fill in.
	Finalized *history.Entry
	EndStatus protocol.EndStatus

	// ReplyObserved is true for events that count as the server answering the
	// pending turn (message, end, error); the session clears typing on it.
	ReplyObserved bool

	// Status holds the content of a status event.
	Status string
	// TurnFailed is set by error events; TurnError is the server's message.
	TurnFailed bool
	TurnError  string

	// Anomaly describes a recovered protocol anomaly, empty when none.
	Anomaly string
}

// Fold applies ev to partial and returns the new state. partial is not modified.
func Fold(ev protocol.Event, partial *PartialReply, policy Policy) (Result, error) {
	switch e := ev.(type) {
	case *protocol.EventMessage:
		return foldMessage(e, partial, policy)
	case *protocol.EventStatus:
		return Result{Partial: partial, Status: e.Content}, nil
	case *protocol.EventError:
		return Result{Partial: partial, ReplyObserved: true, TurnFailed: true, TurnError: e.Content}, nil
	case *protocol.EventEnd:
		return foldEnd(e, partial), nil
	default:
		return Result{Partial: partial}, errors.Errorf("assembler: unsupported event %T", ev)
	}
}

func foldMessage(e *protocol.EventMessage, partial *PartialReply, policy Policy) (Result, error) {
	if partial == nil {
		return Result{
			Partial: &PartialReply{
				MediaType: e.MediaType,
				Content:   e.Content,
				Metadata:  protocol.CloneMetadata(e.Metadata),
			},
			ReplyObserved: true,
		}, nil
	}

	if partial.MediaType != e.MediaType {
		anomaly := fmt.Sprintf("media type switched from %s to %s before end", partial.MediaType, e.MediaType)
		if policy == PolicyStrict {
			return Result{Partial: partial, ReplyObserved: true, Anomaly: anomaly},
				errors.Wrapf(ErrMediaTypeMismatch, "%s after %s", e.MediaType, partial.MediaType)
		}
		return Result{
			Partial: &PartialReply{
				MediaType: e.MediaType,
				Content:   e.Content,
				Metadata:  protocol.CloneMetadata(e.Metadata),
			},
			ReplyObserved: true,
			Anomaly:       anomaly,
		}, nil
	}

	if e.MediaType.Whole() {
		return Result{
			Partial: &PartialReply{
				MediaType: e.MediaType,
				Content:   e.Content,
				Metadata:  protocol.CloneMetadata(e.Metadata),
			},
			ReplyObserved: true,
		}, nil
	}

	next := partial.Clone()
	next.Content += e.Content
	if len(e.Metadata) > 0 {
		if next.Metadata == nil {
			next.Metadata = make(map[string]any, len(e.Metadata))
		}
		for k, v := range protocol.CloneMetadata(e.Metadata) {
			next.Metadata[k] = v
		}
	}
	return Result{Partial: next, ReplyObserved: true}, nil
}

func foldEnd(e *protocol.EventEnd, partial *PartialReply) Result {
	res := Result{ReplyObserved: true, EndStatus: e.Status()}

	entry := history.Entry{Sender: history.SenderAssistant, MediaType: protocol.MediaTypeText}
	if partial == nil {
		res.Anomaly = "end without any message"
	} else {
		entry.MediaType = partial.MediaType
		entry.Content = partial.Content
		entry.Metadata = protocol.CloneMetadata(partial.Metadata)
	}
	if _, ok := e.Metadata[protocol.MetadataKeyEndStatus]; ok {
		if entry.Metadata == nil {
			entry.Metadata = map[string]any{}
		}
		entry.Metadata[protocol.MetadataKeyEndStatus] = string(res.EndStatus)
	}

	res.Finalized = &entry
	return res
}
