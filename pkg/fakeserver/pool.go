package fakeserver

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

// connectionPool holds the sockets attached to one conversation. All writes go
// through the pool lock so each socket has a single writer.
type connectionPool struct {
	convID string
	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
}

func newConnectionPool(convID string) *connectionPool {
	return &connectionPool{convID: convID, conns: map[*websocket.Conn]struct{}{}}
}

func (cp *connectionPool) add(conn *websocket.Conn) {
	cp.mu.Lock()
	cp.conns[conn] = struct{}{}
	cp.mu.Unlock()
}

func (cp *connectionPool) remove(conn *websocket.Conn) {
	cp.mu.Lock()
	delete(cp.conns, conn)
	cp.mu.Unlock()
	_ = conn.Close()
}

func (cp *connectionPool) broadcast(data []byte) {
	if len(data) == 0 {
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for conn := range cp.conns {
		if err := cp.writeLocked(conn, data); err != nil {
			log.Warn().Err(err).Str("component", "fakeserver").Str("conv_id", cp.convID).Msg("ws broadcast failed, dropping connection")
			delete(cp.conns, conn)
			_ = conn.Close()
		}
	}
}

func (cp *connectionPool) sendToOne(conn *websocket.Conn, data []byte) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if _, ok := cp.conns[conn]; !ok {
		return
	}
	if err := cp.writeLocked(conn, data); err != nil {
		log.Warn().Err(err).Str("component", "fakeserver").Str("conv_id", cp.convID).Msg("ws send failed, dropping connection")
		delete(cp.conns, conn)
		_ = conn.Close()
	}
}

func (cp *connectionPool) writeLocked(conn *websocket.Conn, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (cp *connectionPool) count() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.conns)
}

func (cp *connectionPool) closeAll() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for conn := range cp.conns {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
		_ = conn.Close()
		delete(cp.conns, conn)
	}
}
