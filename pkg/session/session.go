// Package session implements the conversation session: it owns one transport
// connection, the reply being assembled and the conversation history, and
// exposes Open/SendTurn/Close plus change notifications to a presentation layer.
//
// All state mutations happen under a single mutex. Inbound frames are handled
// one at a time by a reader goroutine bound to an epoch; Open and Close bump the
// epoch so frames from a connection that has been torn down are dropped.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/streamchat/pkg/assembler"
	"github.com/go-go-golems/streamchat/pkg/history"
	"github.com/go-go-golems/streamchat/pkg/protocol"
	"github.com/go-go-golems/streamchat/pkg/transport"
)

// MetadataKeyTurnID is set on user entries created by SendTurn.
const MetadataKeyTurnID = "turn_id"

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	ConversationID string
	State          ConnectionState
	Typing         bool
	History        []history.Entry
	Partial        *assembler.PartialReply
	Epoch          uint64
	// Failure is the terminal error while State is StateFailed.
	Failure error
}

type observerEntry struct {
	id  uint64
	obs Observer
}

type Session struct {
	fetcher history.Fetcher
	dialer  transport.Dialer
	policy  assembler.Policy
	logger  zerolog.Logger
	now     func() time.Time

	historyTimeout   time.Duration
	handshakeTimeout time.Duration

	mu      sync.Mutex
	state   ConnectionState
	convID  string
	epoch   uint64
	conn    transport.Conn
	store   *history.Store
	partial *assembler.PartialReply
	typing  bool
	failure error

	observers      []observerEntry
	nextObserverID uint64
	queue          []Notification
	dispatching    bool
}

type Option func(*Session)

func WithPolicy(p assembler.Policy) Option {
	return func(s *Session) { s.policy = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l.With().Str("component", "session").Logger() }
}

func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o == nil {
			return
		}
		s.nextObserverID++
		s.observers = append(s.observers, observerEntry{id: s.nextObserverID, obs: o})
	}
}

func WithHistoryTimeout(d time.Duration) Option {
	return func(s *Session) { s.historyTimeout = d }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Session) { s.handshakeTimeout = d }
}

// WithClock overrides the time source used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

func New(fetcher history.Fetcher, dialer transport.Dialer, opts ...Option) *Session {
	if fetcher == nil {
		fetcher = history.FetcherFunc(func(context.Context, string) ([]history.Entry, error) { return nil, nil })
	}
	s := &Session{
		fetcher: fetcher,
		dialer:  dialer,
		policy:  assembler.PolicyLastWriteWins,
		logger:  log.Logger.With().Str("component", "session").Logger(),
		now:     time.Now,
		state:   StateIdle,
		store:   history.NewStore(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers o and returns a function that removes it.
func (s *Session) Subscribe(o Observer) func() {
	if s == nil || o == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextObserverID++
	id := s.nextObserverID
	s.observers = append(s.observers, observerEntry{id: id, obs: o})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, e := range s.observers {
				if e.id == id {
					s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// Open loads the conversation's history and connects to it. It is accepted
// from Idle, Closed and Failed; any other state yields ErrAlreadyOpen.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("session: empty conversation id")
	}
	if s.dialer == nil {
		return errors.New("session: no transport dialer configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if !s.state.canOpen() {
		st := s.state
		s.mu.Unlock()
		return errors.Wrapf(ErrAlreadyOpen, "state %s", st)
	}
	s.epoch++
	epoch := s.epoch
	s.convID = conversationID
	s.partial = nil
	s.failure = nil
	s.store = history.NewStore()
	ns := s.setTypingLocked(false)
	ns = append(ns, s.setStateLocked(StateConnecting)...)
	s.unlockAndDispatch(ns...)

	logger := s.logger.With().Str("conv_id", conversationID).Uint64("epoch", epoch).Logger()
	logger.Debug().Msg("opening session")

	hctx, cancel := withOptionalTimeout(ctx, s.historyTimeout)
	seed, err := s.fetcher.FetchHistory(hctx, conversationID)
	cancel()
	if err != nil {
		return s.failOpen(epoch, StageHistory, err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return ErrClosedDuringOpen
	}
	s.store = history.NewSeededStore(seed)
	old := s.conn
	s.conn = nil
	n := s.noteLocked(NotificationHistorySeeded)
	n.Seeded = len(seed)
	s.unlockAndDispatch(n)

	if old != nil {
		if err := old.Close(); err != nil {
			logger.Debug().Err(err).Msg("closing previous connection")
		}
	}

	dctx, cancel := withOptionalTimeout(ctx, s.handshakeTimeout)
	conn, err := s.dialer.Dial(dctx, conversationID)
	cancel()
	if err != nil {
		return s.failOpen(epoch, StageHandshake, err)
	}

	s.mu.Lock()
	if s.epoch != epoch || s.state != StateConnecting {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrClosedDuringOpen
	}
	s.conn = conn
	ns = s.setStateLocked(StateOpen)
	s.unlockAndDispatch(ns...)

	go s.readLoop(epoch, conn)
	logger.Info().Int("history", len(seed)).Msg("session open")
	return nil
}

func (s *Session) failOpen(epoch uint64, stage FailureStage, cause error) error {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return ErrClosedDuringOpen
	}
	ferr := &FailureError{Stage: stage, ConversationID: s.convID, Err: cause}
	s.failure = ferr
	ns := s.setStateLocked(StateFailed)
	n := s.noteLocked(NotificationSessionFailed)
	n.Err = ferr
	ns = append(ns, n)
	s.unlockAndDispatch(ns...)

	s.logger.Error().Err(cause).Str("conv_id", ferr.ConversationID).Uint64("epoch", epoch).Str("stage", string(stage)).Msg("session open failed")
	return ferr
}

// SendTurn appends a user entry, sets typing and forwards the text to the
// server. The entry is kept even when the send fails. It returns the turn id
// recorded in the entry's metadata.
func (s *Session) SendTurn(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyTurn
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.state != StateOpen {
		st := s.state
		s.mu.Unlock()
		return "", errors.Wrapf(ErrNotOpen, "state %s", st)
	}
	conn := s.conn
	epoch := s.epoch
	turnID := uuid.NewString()

	entry := history.NewUserEntry(text)
	entry.CreatedAt = s.now()
	entry.Metadata = map[string]any{MetadataKeyTurnID: turnID}
	appended := s.store.Append(entry)

	n := s.noteLocked(NotificationHistoryAppended)
	n.Entry = &appended
	n.TurnID = turnID
	ns := append([]Notification{n}, s.setTypingLocked(true)...)
	s.unlockAndDispatch(ns...)

	var sendErr error
	if conn == nil {
		sendErr = transport.ErrNotReady
	} else {
		sendErr = conn.Send(ctx, protocol.TurnMessage{Content: text})
	}
	if sendErr == nil {
		return turnID, nil
	}

	s.mu.Lock()
	var fns []Notification
	if s.epoch == epoch {
		fns = s.setTypingLocked(false)
		te := s.noteLocked(NotificationTurnError)
		te.TurnID = turnID
		te.Message = "send failed"
		te.Err = sendErr
		fns = append(fns, te)
	}
	convID := s.convID
	s.unlockAndDispatch(fns...)

	s.logger.Warn().Err(sendErr).Str("conv_id", convID).Uint64("epoch", epoch).Str("turn_id", turnID).Msg("turn send failed")
	return turnID, &SendError{TurnID: turnID, Err: sendErr}
}

// Close tears down the connection and drops any reply in progress. It is
// idempotent and also cancels an Open that is still connecting.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.epoch++
	conn := s.conn
	s.conn = nil
	dropped := s.partial != nil
	s.partial = nil
	convID := s.convID
	ns := s.setTypingLocked(false)
	ns = append(ns, s.setStateLocked(StateClosed)...)
	s.unlockAndDispatch(ns...)

	if dropped {
		s.logger.Debug().Str("conv_id", convID).Msg("discarded partial reply on close")
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Debug().Err(err).Str("conv_id", convID).Msg("closing connection")
		}
	}
	return nil
}

// Switch closes the current conversation and opens another one.
func (s *Session) Switch(ctx context.Context, conversationID string) error {
	if err := s.Close(); err != nil {
		return err
	}
	return s.Open(ctx, conversationID)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ConversationID: s.convID,
		State:          s.state,
		Typing:         s.typing,
		History:        s.store.All(),
		Partial:        s.partial.Clone(),
		Epoch:          s.epoch,
		Failure:        s.failure,
	}
}

// History returns a read-only view of the current conversation's entries.
// The view is replaced when Open is called again.
func (s *Session) History() history.Reader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Typing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID
}

func (s *Session) readLoop(epoch uint64, conn transport.Conn) {
	for {
		raw, err := conn.ReadFrame()
		if err != nil {
			s.handleTransportError(epoch, conn, err)
			return
		}
		if !s.handleFrame(epoch, raw) {
			return
		}
	}
}

// handleFrame decodes and folds one frame. It returns false once the epoch is
// stale, which ends the reader.
func (s *Session) handleFrame(epoch uint64, raw []byte) bool {
	ev, err := protocol.Decode(raw)
	if err != nil {
		s.logger.Warn().Err(err).Uint64("epoch", epoch).Int("frame_len", len(raw)).Msg("discarding undecodable frame")
		return true
	}

	s.mu.Lock()
	if s.epoch != epoch || s.state != StateOpen {
		current := s.epoch
		s.mu.Unlock()
		s.logger.Debug().Uint64("epoch", epoch).Uint64("current_epoch", current).Str("event_type", string(ev.Type())).Msg("dropping stale frame")
		return false
	}
	logger := s.logger.With().Str("conv_id", s.convID).Uint64("epoch", epoch).Str("event_type", string(ev.Type())).Logger()

	res, foldErr := assembler.Fold(ev, s.partial, s.policy)
	s.partial = res.Partial

	var ns []Notification
	if res.ReplyObserved {
		ns = append(ns, s.setTypingLocked(false)...)
	}
	if res.Anomaly != "" {
		if foldErr != nil {
			logger.Warn().Err(foldErr).Msg("protocol anomaly, event rejected")
		} else {
			logger.Warn().Str("anomaly", res.Anomaly).Msg("protocol anomaly")
		}
		n := s.noteLocked(NotificationAnomaly)
		n.Message = res.Anomaly
		n.Err = foldErr
		ns = append(ns, n)
	} else if foldErr != nil {
		logger.Warn().Err(foldErr).Msg("fold failed")
	}

	switch ev.(type) {
	case *protocol.EventStatus:
		logger.Info().Str("status", res.Status).Msg("server status")
		n := s.noteLocked(NotificationStatus)
		n.Message = res.Status
		ns = append(ns, n)
	case *protocol.EventError:
		logger.Warn().Str("error", res.TurnError).Msg("turn failed")
		n := s.noteLocked(NotificationTurnError)
		n.Message = res.TurnError
		ns = append(ns, n)
	case *protocol.EventMessage:
		if foldErr == nil {
			n := s.noteLocked(NotificationPartialUpdated)
			n.Partial = res.Partial.Clone()
			ns = append(ns, n)
		}
	}

	if res.Finalized != nil {
		entry := *res.Finalized
		entry.CreatedAt = s.now()
		appended := s.store.Append(entry)
		n := s.noteLocked(NotificationHistoryAppended)
		n.Entry = &appended
		n.EndStatus = res.EndStatus
		ns = append(ns, n)
		logger.Debug().Int("index", appended.Index).Str("media_type", string(appended.MediaType)).Str("end_status", string(res.EndStatus)).Msg("reply finalized")
	}

	s.unlockAndDispatch(ns...)
	return true
}

func (s *Session) handleTransportError(epoch uint64, conn transport.Conn, cause error) {
	s.mu.Lock()
	if s.epoch != epoch || s.state != StateOpen {
		s.mu.Unlock()
		s.logger.Debug().Err(cause).Uint64("epoch", epoch).Msg("reader stopped")
		return
	}
	ferr := &FailureError{Stage: StageTransport, ConversationID: s.convID, Err: cause}
	s.failure = ferr
	s.conn = nil
	s.partial = nil
	ns := s.setTypingLocked(false)
	ns = append(ns, s.setStateLocked(StateFailed)...)
	n := s.noteLocked(NotificationSessionFailed)
	n.Err = ferr
	ns = append(ns, n)
	s.unlockAndDispatch(ns...)

	_ = conn.Close()
	lvl := zerolog.ErrorLevel
	if transport.IsNormalClose(cause) {
		lvl = zerolog.WarnLevel
	}
	s.logger.WithLevel(lvl).Err(cause).Str("conv_id", ferr.ConversationID).Uint64("epoch", epoch).Msg("transport dropped")
}

func (s *Session) noteLocked(kind NotificationKind) Notification {
	return Notification{Kind: kind, ConversationID: s.convID, Epoch: s.epoch}
}

func (s *Session) setStateLocked(st ConnectionState) []Notification {
	if s.state == st {
		return nil
	}
	s.state = st
	n := s.noteLocked(NotificationStateChanged)
	n.State = st
	return []Notification{n}
}

func (s *Session) setTypingLocked(v bool) []Notification {
	if s.typing == v {
		return nil
	}
	s.typing = v
	n := s.noteLocked(NotificationTypingChanged)
	n.Typing = v
	return []Notification{n}
}

// unlockAndDispatch queues ns, releases s.mu and delivers queued notifications
// unless another goroutine is already delivering. Must be called with s.mu held.
func (s *Session) unlockAndDispatch(ns ...Notification) {
	s.queue = append(s.queue, ns...)
	if s.dispatching || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	s.dispatching = true
	for len(s.queue) > 0 {
		batch := s.queue
		s.queue = nil
		observers := append([]observerEntry(nil), s.observers...)
		s.mu.Unlock()
		for _, n := range batch {
			for _, o := range observers {
				s.deliver(o.obs, n)
			}
		}
		s.mu.Lock()
	}
	s.dispatching = false
	s.mu.Unlock()
}

func (s *Session) deliver(o Observer, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("kind", n.Kind.String()).Msg("observer panicked")
		}
	}()
	o.OnNotification(n)
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
