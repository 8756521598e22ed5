package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"

	"github.com/go-go-golems/streamchat/pkg/history"
	"github.com/go-go-golems/streamchat/pkg/session"
)

// LineUI is the plain prompt used when stdin or stdout is not a terminal. It
// implements Sender so it can take the place of a tea.Program in ForwardFunc.
type LineUI struct {
	sess     Session
	copyText func(string) error

	mu  sync.Mutex
	out io.Writer
}

var _ Sender = &LineUI{}

func NewLineUI(sess Session, out io.Writer) *LineUI {
	return &LineUI{sess: sess, out: out, copyText: clipboard.WriteAll}
}

func (l *LineUI) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = fmt.Fprintf(l.out, format, args...)
}

// Send prints the messages a line-oriented user cares about: assistant
// replies, errors and connection changes.
func (l *LineUI) Send(msg tea.Msg) {
	switch ev := msg.(type) {
	case EntryAppendedMsg:
		if ev.Entry.Sender != history.SenderAssistant {
			return
		}
		switch {
		case ev.Entry.MediaType.Whole():
			l.printf("assistant> %s\n", mediaLabel(ev.Entry.MediaType, ev.Entry.Content))
		case ev.Entry.Content == "":
			l.printf("assistant> (empty reply)\n")
		default:
			l.printf("assistant> %s\n", ev.Entry.Content)
		}
	case HistorySeededMsg:
		l.printf("-- %s: %d earlier messages\n", ev.ConversationID, ev.Count)
	case StateMsg:
		switch ev.State {
		case session.StateOpen.String(), session.StateClosed.String():
			l.printf("-- %s %s\n", ev.ConversationID, ev.State)
		}
	case TurnErrorMsg:
		if ev.Err != "" {
			l.printf("error: %s: %s\n", ev.Message, ev.Err)
			return
		}
		l.printf("error: %s\n", ev.Message)
	case AnomalyMsg:
		l.printf("warning: %s\n", ev.Message)
	case SessionFailedMsg:
		l.printf("session failed: %s\n", ev.Err)
	}
}

// Run reads commands from in until EOF, /quit or ctx is done.
func (l *LineUI) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return errors.Wrap(err, "read input")
				default:
					return nil
				}
			}
			if quit := l.execute(ctx, ParseInput(line)); quit {
				return nil
			}
		}
	}
}

func (l *LineUI) execute(ctx context.Context, c Command) bool {
	switch c.Kind {
	case CommandQuit:
		return true
	case CommandSwitch:
		if err := l.sess.Switch(ctx, c.Arg); err != nil {
			l.printf("error: %v\n", err)
		}
	case CommandCopy:
		text, ok := lastAssistantText(l.sess.Snapshot().History)
		if !ok {
			l.printf("nothing to copy\n")
			return false
		}
		if err := l.copyText(text); err != nil {
			l.printf("error: copy failed: %v\n", err)
		}
	case CommandTurn:
		if _, err := l.sess.SendTurn(ctx, c.Arg); err != nil {
			l.printf("error: %v\n", err)
		}
	case CommandNone:
	}
	return false
}
