package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/streamchat/pkg/protocol"
)

const closeGracePeriod = time.Second

// WebSocketDialer dials /api/assistant/{assistant}/conversations/{conversation}/ws
// on the configured server.
type WebSocketDialer struct {
	BaseURL     string
	AssistantID string

	Dialer       *websocket.Dialer
	Header       http.Header
	WriteTimeout time.Duration
	ReadLimit    int64
}

var _ Dialer = &WebSocketDialer{}

type WebSocketOption func(*WebSocketDialer)

func WithHandshakeTimeout(d time.Duration) WebSocketOption {
	return func(w *WebSocketDialer) {
		dialer := *websocket.DefaultDialer
		if w.Dialer != nil {
			dialer = *w.Dialer
		}
		dialer.HandshakeTimeout = d
		w.Dialer = &dialer
	}
}

func WithWriteTimeout(d time.Duration) WebSocketOption {
	return func(w *WebSocketDialer) { w.WriteTimeout = d }
}

func WithHeader(h http.Header) WebSocketOption {
	return func(w *WebSocketDialer) { w.Header = h }
}

func WithReadLimit(n int64) WebSocketOption {
	return func(w *WebSocketDialer) { w.ReadLimit = n }
}

func NewWebSocketDialer(baseURL, assistantID string, opts ...WebSocketOption) *WebSocketDialer {
	d := &WebSocketDialer{BaseURL: baseURL, AssistantID: assistantID}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ConversationURL derives the socket URL from an http(s) or ws(s) base URL.
func ConversationURL(baseURL, assistantID, conversationID string) (string, error) {
	if strings.TrimSpace(assistantID) == "" {
		return "", errors.New("websocket transport: empty assistant id")
	}
	if strings.TrimSpace(conversationID) == "" {
		return "", errors.New("websocket transport: empty conversation id")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", errors.Wrap(err, "websocket transport: parse base url")
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("websocket transport: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.Errorf("websocket transport: base url %q has no host", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") +
		"/api/assistant/" + url.PathEscape(assistantID) +
		"/conversations/" + url.PathEscape(conversationID) + "/ws"
	u.RawPath = ""
	u.RawQuery = ""
	return u.String(), nil
}

func (d *WebSocketDialer) Dial(ctx context.Context, conversationID string) (Conn, error) {
	target, err := ConversationURL(d.BaseURL, d.AssistantID, conversationID)
	if err != nil {
		return nil, err
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	c, resp, err := dialer.DialContext(ctx, target, d.Header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "websocket transport: dial %s (status %d)", target, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "websocket transport: dial %s", target)
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}
	log.Debug().Str("component", "transport").Str("conv_id", conversationID).Str("url", target).Msg("websocket connected")
	return &wsConn{conn: c, writeTimeout: d.WriteTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	closed       atomic.Bool
	writeTimeout time.Duration
}

func (c *wsConn) Send(ctx context.Context, turn protocol.TurnMessage) error {
	if c.closed.Load() {
		return ErrNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := protocol.EncodeTurn(turn)
	if err != nil {
		return err
	}

	var deadline time.Time
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	} else if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.Wrapf(ErrNotReady, "write: %v", err)
	}
	return nil
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	return c.conn.Close()
}

// IsNormalClose reports whether a ReadFrame error is an orderly close by the peer.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
