// Package recent remembers which conversations were opened last, per assistant.
package recent

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/streamchat/pkg/session"
)

const DefaultMax = 20

type Item struct {
	AssistantID    string    `yaml:"assistant_id"`
	ConversationID string    `yaml:"conversation_id"`
	OpenedAt       time.Time `yaml:"opened_at"`
}

type List struct {
	path string
	max  int

	mu    sync.Mutex
	items []Item
}

// DefaultPath is ~/.streamchat/recent.yaml.
func DefaultPath() (string, error) {
	return homedir.Expand("~/.streamchat/recent.yaml")
}

// Load reads the list at path. A missing file yields an empty list.
func Load(path string, max int) (*List, error) {
	if max <= 0 {
		max = DefaultMax
	}
	p, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.Wrap(err, "recent: expand path")
	}
	l := &List{path: p, max: max}
	b, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, errors.Wrap(err, "recent: read")
	}
	if err := yaml.Unmarshal(b, &l.items); err != nil {
		return nil, errors.Wrapf(err, "recent: parse %s", p)
	}
	if len(l.items) > l.max {
		l.items = l.items[:l.max]
	}
	return l, nil
}

// Touch moves the conversation to the front, adding it if needed.
func (l *List) Touch(assistantID, conversationID string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Item, 0, len(l.items)+1)
	out = append(out, Item{AssistantID: assistantID, ConversationID: conversationID, OpenedAt: at})
	for _, it := range l.items {
		if it.AssistantID == assistantID && it.ConversationID == conversationID {
			continue
		}
		out = append(out, it)
	}
	if len(out) > l.max {
		out = out[:l.max]
	}
	l.items = out
}

// Items returns the conversations of assistantID, most recent first.
func (l *List) Items(assistantID string) []Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Item
	for _, it := range l.items {
		if it.AssistantID == assistantID {
			out = append(out, it)
		}
	}
	return out
}

func (l *List) Save() error {
	l.mu.Lock()
	b, err := yaml.Marshal(l.items)
	l.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "recent: encode")
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return errors.Wrap(err, "recent: create directory")
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return errors.Wrap(err, "recent: write")
	}
	return errors.Wrap(os.Rename(tmp, l.path), "recent: replace")
}

// Observer records every conversation that reaches the open state.
func (l *List) Observer(assistantID string) session.Observer {
	return session.ObserverFunc(func(n session.Notification) {
		if n.Kind != session.NotificationStateChanged || n.State != session.StateOpen {
			return
		}
		l.Touch(assistantID, n.ConversationID, time.Now())
		if err := l.Save(); err != nil {
			log.Warn().Err(err).Str("component", "recent").Str("conv_id", n.ConversationID).Msg("could not save recent conversations")
		}
	})
}
