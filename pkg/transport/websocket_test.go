package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/streamchat/pkg/protocol"
)

func TestConversationURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"http://localhost:8000", "ws://localhost:8000/api/assistant/a1/conversations/c1/ws"},
		{"https://chat.example.com/", "wss://chat.example.com/api/assistant/a1/conversations/c1/ws"},
		{"https://chat.example.com/prefix", "wss://chat.example.com/prefix/api/assistant/a1/conversations/c1/ws"},
		{"ws://127.0.0.1:9000", "ws://127.0.0.1:9000/api/assistant/a1/conversations/c1/ws"},
	}
	for _, tc := range cases {
		got, err := ConversationURL(tc.base, "a1", "c1")
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}

	_, err := ConversationURL("ftp://x", "a1", "c1")
	require.Error(t, err)
	_, err = ConversationURL("http://x", "", "c1")
	require.Error(t, err)
	_, err = ConversationURL("http://x", "a1", " ")
	require.Error(t, err)
}

// echoServer answers each turn with a text message and an end frame.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/assistant/{aid}/conversations/{cid}/ws", func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.Close() }()
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				return
			}
			turn, err := protocol.DecodeTurn(raw)
			if err != nil {
				return
			}
			for _, ev := range []protocol.Event{
				&protocol.EventMessage{MediaType: protocol.MediaTypeText, Content: r.PathValue("cid") + ":" + turn.Content},
				&protocol.EventEnd{},
			} {
				b, _ := protocol.Encode(ev)
				if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocketDialer_SendAndRead(t *testing.T) {
	srv := echoServer(t)
	d := NewWebSocketDialer(srv.URL, "a1", WithHandshakeTimeout(2*time.Second), WithWriteTimeout(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := d.Dial(ctx, "c1")
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.Send(ctx, protocol.TurnMessage{Content: "hi"}))

	raw, err := conn.ReadFrame()
	require.NoError(t, err)
	ev, err := protocol.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, "c1:hi", ev.(*protocol.EventMessage).Content)

	raw, err = conn.ReadFrame()
	require.NoError(t, err)
	ev, err = protocol.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, protocol.EventTypeEnd, ev.Type())
}

func TestWebSocketConn_SendAfterCloseNotReady(t *testing.T) {
	srv := echoServer(t)
	d := NewWebSocketDialer(srv.URL, "a1")

	conn, err := d.Dial(context.Background(), "c1")
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	err = conn.Send(context.Background(), protocol.TurnMessage{Content: "late"})
	require.ErrorIs(t, err, ErrNotReady)

	_, err = conn.ReadFrame()
	require.Error(t, err)
}

func TestWebSocketDialer_HandshakeFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewWebSocketDialer(srv.URL, "a1").Dial(context.Background(), "c1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}
