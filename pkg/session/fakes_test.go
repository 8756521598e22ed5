package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/streamchat/pkg/protocol"
	"github.com/go-go-golems/streamchat/pkg/transport"
)

type fakeConn struct {
	frames    chan []byte
	closed    chan struct{}
	dropped   chan error
	closeOnce sync.Once

	mu      sync.Mutex
	sent    []protocol.TurnMessage
	sendErr error
}

var _ transport.Conn = &fakeConn{}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames:  make(chan []byte, 64),
		closed:  make(chan struct{}),
		dropped: make(chan error, 1),
	}
}

func (c *fakeConn) Send(_ context.Context, turn protocol.TurnMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	select {
	case <-c.closed:
		return transport.ErrNotReady
	default:
	}
	c.sent = append(c.sent, turn)
	return nil
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case <-c.closed:
		return nil, io.EOF
	case err := <-c.dropped:
		return nil, err
	case b := <-c.frames:
		return b, nil
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) setSendErr(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *fakeConn) sentTurns() []protocol.TurnMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.TurnMessage(nil), c.sent...)
}

func (c *fakeConn) push(t *testing.T, evs ...protocol.Event) {
	t.Helper()
	for _, ev := range evs {
		b, err := protocol.Encode(ev)
		require.NoError(t, err)
		c.frames <- b
	}
}

func (c *fakeConn) pushRaw(b []byte) {
	c.frames <- b
}

func (c *fakeConn) drop(err error) {
	c.dropped <- err
}

type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	convIDs []string
	err     error
}

func (d *fakeDialer) Dial(ctx context.Context, conversationID string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.convIDs = append(d.convIDs, conversationID)
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.convIDs)
}

type recorder struct {
	mu sync.Mutex
	ns []Notification
}

func (r *recorder) OnNotification(n Notification) {
	r.mu.Lock()
	r.ns = append(r.ns, n)
	r.mu.Unlock()
}

func (r *recorder) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.ns...)
}

func (r *recorder) ofKind(kind NotificationKind) []Notification {
	var out []Notification
	for _, n := range r.all() {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.ns = nil
	r.mu.Unlock()
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func waitHistoryLen(t *testing.T, s *Session, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.History().Len() == n }, waitFor, tick)
}
