package fakeserver

import (
	"context"
	"strings"

	"github.com/go-go-golems/streamchat/pkg/protocol"
)

// Responder produces the events answering one turn, excluding the final end.
type Responder interface {
	Respond(ctx context.Context, prompt string) Reply
}

type Reply struct {
	Events    []protocol.Event
	EndStatus protocol.EndStatus
}

// EchoResponder echoes the prompt word by word. A few slash commands exercise
// the other event kinds:
//
//	/video <ref>  /image <ref>  /audio <ref>  one whole media message
//	/error <msg>                              error event, end status "error"
//	/empty                                    end without any message
type EchoResponder struct {
	Prefix string
}

var _ Responder = EchoResponder{}

func (e EchoResponder) Respond(_ context.Context, prompt string) Reply {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(prompt), " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/video", "/image", "/audio":
		mt := protocol.MediaType(strings.TrimPrefix(cmd, "/"))
		return Reply{
			Events:    []protocol.Event{&protocol.EventMessage{MediaType: mt, Content: arg}},
			EndStatus: protocol.EndStatusComplete,
		}
	case "/error":
		if arg == "" {
			arg = "assistant failed"
		}
		return Reply{
			Events:    []protocol.Event{&protocol.EventError{Content: arg}},
			EndStatus: protocol.EndStatusError,
		}
	case "/empty":
		return Reply{EndStatus: protocol.EndStatusComplete}
	}

	text := e.Prefix + prompt
	var evs []protocol.Event
	for _, chunk := range splitKeepingSpaces(text) {
		evs = append(evs, &protocol.EventMessage{MediaType: protocol.MediaTypeText, Content: chunk})
	}
	return Reply{Events: evs, EndStatus: protocol.EndStatusComplete}
}

// splitKeepingSpaces splits after each run of spaces so that concatenating the
// chunks yields s again.
func splitKeepingSpaces(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' && (i+1 == len(s) || s[i+1] != ' ') {
			out = append(out, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
