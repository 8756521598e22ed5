// Package fakeserver serves the assistant wire protocol for local development
// and tests: a history endpoint backed by SQLite and a conversation socket that
// streams scripted replies.
package fakeserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/streamchat/pkg/history"
	"github.com/go-go-golems/streamchat/pkg/protocol"
)

// StatusMessageReceived acknowledges a turn before the reply starts.
const StatusMessageReceived = "message_received"

type Server struct {
	store     Store
	responder Responder
	delay     time.Duration
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	pools map[string]*connectionPool
}

type Option func(*Server)

// WithDelay pauses between streamed events.
func WithDelay(d time.Duration) Option {
	return func(s *Server) { s.delay = d }
}

func WithResponder(r Responder) Option {
	return func(s *Server) { s.responder = r }
}

func New(store Store, opts ...Option) *Server {
	s := &Server{
		store:     store,
		responder: EchoResponder{Prefix: "You said: "},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pools: map[string]*connectionPool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/assistant/{aid}/conversations/{cid}/history", s.handleHistory)
	mux.HandleFunc("GET /api/assistant/{aid}/conversations/{cid}/ws", s.handleWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Shutdown closes every attached socket.
func (s *Server) Shutdown() {
	s.mu.Lock()
	pools := s.pools
	s.pools = map[string]*connectionPool{}
	s.mu.Unlock()
	for _, p := range pools {
		p.closeAll()
	}
}

// Connections returns the number of sockets attached to a conversation.
func (s *Server) Connections(convID string) int {
	s.mu.Lock()
	p, ok := s.pools[convID]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return p.count()
}

func (s *Server) pool(convID string) *connectionPool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[convID]
	if !ok {
		p = newConnectionPool(convID)
		s.pools[convID] = p
	}
	return p
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	convID := r.PathValue("cid")
	if strings.TrimSpace(convID) == "" {
		http.Error(w, "missing conversation id", http.StatusBadRequest)
		return
	}
	records, err := s.store.ListMessages(r.Context(), convID)
	if err != nil {
		log.Error().Err(err).Str("component", "fakeserver").Str("conv_id", convID).Msg("list messages failed")
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		log.Warn().Err(err).Str("component", "fakeserver").Str("conv_id", convID).Msg("write history response")
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	aid, convID := r.PathValue("aid"), r.PathValue("cid")
	if err := s.store.EnsureConversation(r.Context(), aid, convID); err != nil {
		log.Error().Err(err).Str("component", "fakeserver").Str("conv_id", convID).Msg("ensure conversation failed")
		http.Error(w, "failed to open conversation", http.StatusInternalServerError)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "fakeserver").Str("conv_id", convID).Msg("websocket upgrade failed")
		return
	}
	p := s.pool(convID)
	p.add(conn)
	defer p.remove(conn)
	log.Info().Str("component", "fakeserver").Str("conv_id", convID).Str("remote", r.RemoteAddr).Msg("websocket connected")

	// the request context is not cancelled on hijacked connections
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("component", "fakeserver").Str("conv_id", convID).Msg("websocket read ended")
			}
			return
		}
		turn, err := protocol.DecodeTurn(raw)
		if err != nil {
			s.sendEvent(p, conn, &protocol.EventError{Content: "invalid turn: " + err.Error()})
			continue
		}
		s.handleTurn(ctx, p, conn, convID, turn)
	}
}

func (s *Server) handleTurn(ctx context.Context, p *connectionPool, conn *websocket.Conn, convID string, turn protocol.TurnMessage) {
	if _, err := s.store.AppendMessage(ctx, convID, history.SenderUser, protocol.MediaTypeText, turn.Content); err != nil {
		log.Error().Err(err).Str("component", "fakeserver").Str("conv_id", convID).Msg("persist user message failed")
		s.sendEvent(p, conn, &protocol.EventError{Content: "failed to store message"})
		s.broadcastEnd(p, protocol.EndStatusError)
		return
	}
	s.sendEvent(p, conn, &protocol.EventStatus{Content: StatusMessageReceived})

	reply := s.responder.Respond(ctx, turn.Content)
	var (
		mediaType = protocol.MediaTypeText
		content   strings.Builder
		produced  bool
	)
	for _, ev := range reply.Events {
		s.pause()
		if m, ok := ev.(*protocol.EventMessage); ok {
			if m.MediaType.Whole() || m.MediaType != mediaType {
				content.Reset()
			}
			mediaType = m.MediaType
			content.WriteString(m.Content)
			produced = true
		}
		s.broadcastEvent(p, ev)
	}

	if produced || reply.EndStatus != protocol.EndStatusError {
		if _, err := s.store.AppendMessage(ctx, convID, history.SenderAssistant, mediaType, content.String()); err != nil {
			log.Error().Err(err).Str("component", "fakeserver").Str("conv_id", convID).Msg("persist assistant message failed")
		}
	}
	s.pause()
	s.broadcastEnd(p, reply.EndStatus)
}

func (s *Server) pause() {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
}

func (s *Server) broadcastEnd(p *connectionPool, status protocol.EndStatus) {
	if status == "" {
		status = protocol.EndStatusComplete
	}
	s.broadcastEvent(p, &protocol.EventEnd{
		MediaType: protocol.MediaTypeText,
		Metadata: map[string]any{
			protocol.MetadataKeyEndStatus: string(status),
			protocol.MetadataKeyEndToken:  protocol.EndToken,
		},
	})
}

func (s *Server) broadcastEvent(p *connectionPool, ev protocol.Event) {
	b, err := protocol.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("component", "fakeserver").Msg("encode event")
		return
	}
	p.broadcast(b)
}

func (s *Server) sendEvent(p *connectionPool, conn *websocket.Conn, ev protocol.Event) {
	b, err := protocol.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("component", "fakeserver").Msg("encode event")
		return
	}
	p.sendToOne(conn, b)
}
