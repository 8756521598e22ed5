package session

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/streamchat/pkg/assembler"
	"github.com/go-go-golems/streamchat/pkg/history"
	"github.com/go-go-golems/streamchat/pkg/protocol"
)

func staticFetcher(entries ...history.Entry) history.Fetcher {
	return history.FetcherFunc(func(context.Context, string) ([]history.Entry, error) {
		return entries, nil
	})
}

func newTestSession(fetcher history.Fetcher, d *fakeDialer, rec *recorder, opts ...Option) *Session {
	base := []Option{WithLogger(zerolog.Nop()), WithObserver(rec)}
	return New(fetcher, d, append(base, opts...)...)
}

func openSession(t *testing.T, seed []history.Entry, opts ...Option) (*Session, *fakeDialer, *recorder) {
	t.Helper()
	d := &fakeDialer{}
	rec := &recorder{}
	s := newTestSession(staticFetcher(seed...), d, rec, opts...)
	require.NoError(t, s.Open(context.Background(), "c1"))
	t.Cleanup(func() { _ = s.Close() })
	require.Equal(t, StateOpen, s.State())
	return s, d, rec
}

func textMsg(s string) *protocol.EventMessage {
	return &protocol.EventMessage{MediaType: protocol.MediaTypeText, Content: s}
}

func TestSession_ScenarioA_TextDeltas(t *testing.T) {
	s, d, rec := openSession(t, nil)

	d.last().push(t, textMsg("Hel"), textMsg("lo"), &protocol.EventEnd{})
	waitHistoryLen(t, s, 1)

	entries := s.History().All()
	require.Equal(t, history.SenderAssistant, entries[0].Sender)
	require.Equal(t, protocol.MediaTypeText, entries[0].MediaType)
	require.Equal(t, "Hello", entries[0].Content)
	require.Nil(t, s.Snapshot().Partial)

	appended := rec.ofKind(NotificationHistoryAppended)
	require.Len(t, appended, 1)
	require.Equal(t, protocol.EndStatusComplete, appended[0].EndStatus)
	require.Len(t, rec.ofKind(NotificationPartialUpdated), 2)
}

func TestSession_ScenarioB_TurnAndReply(t *testing.T) {
	s, d, _ := openSession(t, nil)

	turnID, err := s.SendTurn(context.Background(), "hi")
	require.NoError(t, err)
	require.NotEmpty(t, turnID)
	require.True(t, s.Typing())
	require.Equal(t, []protocol.TurnMessage{{Content: "hi"}}, d.last().sentTurns())

	d.last().push(t, textMsg("there"), &protocol.EventEnd{})
	waitHistoryLen(t, s, 2)

	entries := s.History().All()
	require.Equal(t, 0, entries[0].Index)
	require.Equal(t, history.SenderUser, entries[0].Sender)
	require.Equal(t, "hi", entries[0].Content)
	require.Equal(t, turnID, entries[0].Metadata[MetadataKeyTurnID])
	require.Equal(t, 1, entries[1].Index)
	require.Equal(t, history.SenderAssistant, entries[1].Sender)
	require.Equal(t, "there", entries[1].Content)
	require.False(t, s.Typing())
}

func TestSession_ScenarioC_VideoClearsTypingBeforeEnd(t *testing.T) {
	s, d, _ := openSession(t, nil)

	_, err := s.SendTurn(context.Background(), "show me")
	require.NoError(t, err)
	require.True(t, s.Typing())

	d.last().push(t, &protocol.EventMessage{MediaType: protocol.MediaTypeVideo, Content: "clip.mp4"})
	require.Eventually(t, func() bool { return s.Snapshot().Partial != nil }, waitFor, tick)

	snap := s.Snapshot()
	require.False(t, snap.Typing)
	require.Len(t, snap.History, 1)
	require.Equal(t, protocol.MediaTypeVideo, snap.Partial.MediaType)

	d.last().push(t, &protocol.EventEnd{})
	waitHistoryLen(t, s, 2)
	last := s.History().All()[1]
	require.Equal(t, protocol.MediaTypeVideo, last.MediaType)
	require.Equal(t, "clip.mp4", last.Content)
}

func TestSession_ScenarioD_ErrorThenEnd(t *testing.T) {
	s, d, rec := openSession(t, nil)

	_, err := s.SendTurn(context.Background(), "hello?")
	require.NoError(t, err)

	d.last().push(t, &protocol.EventError{Content: "rate limited"}, &protocol.EventEnd{})
	waitHistoryLen(t, s, 2)

	entries := s.History().All()
	require.Equal(t, "hello?", entries[0].Content)
	require.Equal(t, history.SenderAssistant, entries[1].Sender)
	require.Equal(t, protocol.MediaTypeText, entries[1].MediaType)
	require.Equal(t, "", entries[1].Content)

	turnErrors := rec.ofKind(NotificationTurnError)
	require.Len(t, turnErrors, 1)
	require.Equal(t, "rate limited", turnErrors[0].Message)
	require.Equal(t, StateOpen, s.State())
	require.False(t, s.Typing())

	_, err = s.SendTurn(context.Background(), "again")
	require.NoError(t, err)
}

func TestSession_StatusKeepsTyping(t *testing.T) {
	s, d, rec := openSession(t, nil)

	_, err := s.SendTurn(context.Background(), "hi")
	require.NoError(t, err)
	d.last().push(t, &protocol.EventStatus{Content: "message_received"})

	require.Eventually(t, func() bool { return len(rec.ofKind(NotificationStatus)) == 1 }, waitFor, tick)
	require.Equal(t, "message_received", rec.ofKind(NotificationStatus)[0].Message)
	require.True(t, s.Typing())
}

func TestSession_SeedsHistoryAndContinuesIndexes(t *testing.T) {
	seed := []history.Entry{
		{Index: 41, Sender: history.SenderUser, MediaType: protocol.MediaTypeText, Content: "earlier"},
		{Index: 42, Sender: history.SenderAssistant, MediaType: protocol.MediaTypeText, Content: "reply"},
	}
	s, _, rec := openSession(t, seed)

	entries := s.History().All()
	require.Len(t, entries, 2)
	require.Equal(t, 0, entries[0].Index)
	require.Equal(t, 1, entries[1].Index)

	seeded := rec.ofKind(NotificationHistorySeeded)
	require.Len(t, seeded, 1)
	require.Equal(t, 2, seeded[0].Seeded)

	_, err := s.SendTurn(context.Background(), "next")
	require.NoError(t, err)
	require.Equal(t, 2, s.History().All()[2].Index)
}

func TestSession_SendTurnWhileNotOpenDoesNotMutate(t *testing.T) {
	d := &fakeDialer{}
	rec := &recorder{}
	s := newTestSession(staticFetcher(), d, rec)

	_, err := s.SendTurn(context.Background(), "too early")
	require.ErrorIs(t, err, ErrNotOpen)
	require.Equal(t, 0, s.History().Len())
	require.Empty(t, rec.all())

	require.NoError(t, s.Open(context.Background(), "c1"))
	require.NoError(t, s.Close())
	before := s.History().Len()
	rec.reset()

	_, err = s.SendTurn(context.Background(), "too late")
	require.ErrorIs(t, err, ErrNotOpen)
	require.Equal(t, before, s.History().Len())
	require.False(t, s.Typing())
	require.Empty(t, rec.all())
}

func TestSession_EmptyTurnRejected(t *testing.T) {
	s, d, _ := openSession(t, nil)
	_, err := s.SendTurn(context.Background(), "  \n\t")
	require.ErrorIs(t, err, ErrEmptyTurn)
	require.Equal(t, 0, s.History().Len())
	require.False(t, s.Typing())
	require.Empty(t, d.last().sentTurns())
}

func TestSession_OpenWhileOpen(t *testing.T) {
	s, d, _ := openSession(t, nil)
	err := s.Open(context.Background(), "c2")
	require.ErrorIs(t, err, ErrAlreadyOpen)
	require.Equal(t, "c1", s.ConversationID())
	require.Equal(t, 1, d.dials())
}

func TestSession_HistoryFailure(t *testing.T) {
	d := &fakeDialer{}
	rec := &recorder{}
	calls := 0
	fetcher := history.FetcherFunc(func(context.Context, string) ([]history.Entry, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("503 service unavailable")
		}
		return nil, nil
	})
	s := newTestSession(fetcher, d, rec)

	err := s.Open(context.Background(), "c1")
	require.Error(t, err)
	stage, ok := FailureStageOf(err)
	require.True(t, ok)
	require.Equal(t, StageHistory, stage)
	require.Equal(t, StateFailed, s.State())
	require.Equal(t, 0, d.dials())
	require.Len(t, rec.ofKind(NotificationSessionFailed), 1)
	require.Error(t, s.Snapshot().Failure)

	require.NoError(t, s.Open(context.Background(), "c1"))
	require.Equal(t, StateOpen, s.State())
	require.NoError(t, s.Snapshot().Failure)
	require.NoError(t, s.Close())
}

func TestSession_HandshakeFailure(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	s := newTestSession(staticFetcher(), d, &recorder{})

	err := s.Open(context.Background(), "c1")
	stage, ok := FailureStageOf(err)
	require.True(t, ok)
	require.Equal(t, StageHandshake, stage)
	require.Contains(t, err.Error(), "connection refused")
	require.Equal(t, StateFailed, s.State())
}

func TestSession_TransportDrop(t *testing.T) {
	s, d, rec := openSession(t, nil)
	conn := d.last()

	_, err := s.SendTurn(context.Background(), "hi")
	require.NoError(t, err)
	conn.push(t, textMsg("partial"))
	require.Eventually(t, func() bool { return s.Snapshot().Partial != nil }, waitFor, tick)

	conn.drop(errors.New("connection reset by peer"))
	require.Eventually(t, func() bool { return s.State() == StateFailed }, waitFor, tick)

	snap := s.Snapshot()
	require.Nil(t, snap.Partial)
	require.False(t, snap.Typing)
	require.Len(t, snap.History, 1)
	stage, ok := FailureStageOf(snap.Failure)
	require.True(t, ok)
	require.Equal(t, StageTransport, stage)
	require.True(t, conn.isClosed())
	require.Len(t, rec.ofKind(NotificationSessionFailed), 1)

	_, err = s.SendTurn(context.Background(), "again")
	require.ErrorIs(t, err, ErrNotOpen)
}

func TestSession_SendFailureKeepsUserEntry(t *testing.T) {
	s, d, rec := openSession(t, nil)
	brokenPipe := errors.New("broken pipe")
	d.last().setSendErr(brokenPipe)

	turnID, err := s.SendTurn(context.Background(), "hi")
	require.ErrorIs(t, err, ErrTransportNotReady)
	require.ErrorIs(t, err, brokenPipe)
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	require.Equal(t, turnID, sendErr.TurnID)
	require.NotEmpty(t, turnID)

	entries := s.History().All()
	require.Len(t, entries, 1)
	require.Equal(t, "hi", entries[0].Content)
	require.False(t, s.Typing())
	require.Equal(t, StateOpen, s.State())

	turnErrors := rec.ofKind(NotificationTurnError)
	require.Len(t, turnErrors, 1)
	require.Equal(t, turnID, turnErrors[0].TurnID)
	require.Error(t, turnErrors[0].Err)
}

func TestSession_SendFailureKeepsContextCause(t *testing.T) {
	s, d, _ := openSession(t, nil)
	d.last().setSendErr(errors.Wrap(context.DeadlineExceeded, "write"))

	_, err := s.SendTurn(context.Background(), "hi")
	require.ErrorIs(t, err, ErrTransportNotReady)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSession_CloseDiscardsPartialAndIsIdempotent(t *testing.T) {
	s, d, _ := openSession(t, nil)
	conn := d.last()

	conn.push(t, textMsg("Hel"))
	require.Eventually(t, func() bool { return s.Snapshot().Partial != nil }, waitFor, tick)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	snap := s.Snapshot()
	require.Equal(t, StateClosed, snap.State)
	require.Nil(t, snap.Partial)
	require.Empty(t, snap.History)
	require.True(t, conn.isClosed())
}

func TestSession_StaleFramesAfterCloseAreDropped(t *testing.T) {
	s, d, rec := openSession(t, nil)
	conn := d.last()

	_, err := s.SendTurn(context.Background(), "hi")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	rec.reset()

	conn.push(t, textMsg("late"), &protocol.EventEnd{})
	require.Never(t, func() bool {
		return s.History().Len() != 1 || s.Typing() || len(rec.all()) > 0
	}, 100*time.Millisecond, tick)
}

func TestSession_SwitchIgnoresOldConnection(t *testing.T) {
	s, d, _ := openSession(t, nil)
	oldConn := d.last()

	require.NoError(t, s.Switch(context.Background(), "c2"))
	require.Equal(t, "c2", s.ConversationID())
	require.Equal(t, StateOpen, s.State())
	newConn := d.last()
	require.NotSame(t, oldConn, newConn)
	require.True(t, oldConn.isClosed())

	oldConn.push(t, textMsg("stale"), &protocol.EventEnd{})
	newConn.push(t, textMsg("fresh"), &protocol.EventEnd{})
	waitHistoryLen(t, s, 1)
	require.Never(t, func() bool { return s.History().Len() != 1 }, 50*time.Millisecond, tick)
	require.Equal(t, "fresh", s.History().All()[0].Content)
}

func TestSession_CloseDuringOpen(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	fetcher := history.FetcherFunc(func(ctx context.Context, _ string) ([]history.Entry, error) {
		close(started)
		<-release
		return nil, nil
	})
	d := &fakeDialer{}
	s := newTestSession(fetcher, d, &recorder{})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Open(context.Background(), "c1") }()
	<-started
	require.Equal(t, StateConnecting, s.State())
	require.ErrorIs(t, s.Open(context.Background(), "c1"), ErrAlreadyOpen)

	require.NoError(t, s.Close())
	close(release)

	require.ErrorIs(t, <-errCh, ErrClosedDuringOpen)
	require.Equal(t, StateClosed, s.State())
	require.Equal(t, 0, d.dials())
}

func TestSession_UndecodableFramesAreSkipped(t *testing.T) {
	s, d, _ := openSession(t, nil)
	conn := d.last()

	conn.pushRaw([]byte("not json"))
	conn.pushRaw([]byte(`{"type":"thinking","content":"..."}`))
	conn.push(t, textMsg("ok"), &protocol.EventEnd{})

	waitHistoryLen(t, s, 1)
	require.Equal(t, "ok", s.History().All()[0].Content)
	require.Equal(t, StateOpen, s.State())
}

func TestSession_StrictPolicyReportsAnomaly(t *testing.T) {
	s, d, rec := openSession(t, nil, WithPolicy(assembler.PolicyStrict))

	d.last().push(t,
		textMsg("Here is"),
		&protocol.EventMessage{MediaType: protocol.MediaTypeVideo, Content: "clip.mp4"},
		&protocol.EventEnd{},
	)
	waitHistoryLen(t, s, 1)

	entry := s.History().All()[0]
	require.Equal(t, protocol.MediaTypeText, entry.MediaType)
	require.Equal(t, "Here is", entry.Content)

	anomalies := rec.ofKind(NotificationAnomaly)
	require.Len(t, anomalies, 1)
	require.ErrorIs(t, anomalies[0].Err, assembler.ErrMediaTypeMismatch)
}

func TestSession_ObserverMayCallBack(t *testing.T) {
	d := &fakeDialer{}
	var snaps []Snapshot
	s := New(staticFetcher(), d, WithLogger(zerolog.Nop()))
	var sess *Session
	unsubscribe := s.Subscribe(ObserverFunc(func(n Notification) {
		if n.Kind == NotificationStateChanged && n.State == StateOpen {
			snaps = append(snaps, sess.Snapshot())
			_, _ = sess.SendTurn(context.Background(), "from observer")
		}
	}))
	sess = s

	require.NoError(t, s.Open(context.Background(), "c1"))
	require.Len(t, snaps, 1)
	require.Equal(t, StateOpen, snaps[0].State)
	require.Equal(t, 1, s.History().Len())

	unsubscribe()
	unsubscribe()
	require.NoError(t, s.Close())
	require.Len(t, snaps, 1)
}

func TestSession_NotificationOrder(t *testing.T) {
	s, d, rec := openSession(t, nil)
	rec.reset()

	_, err := s.SendTurn(context.Background(), "hi")
	require.NoError(t, err)
	d.last().push(t, textMsg("there"), &protocol.EventEnd{})
	waitHistoryLen(t, s, 2)

	require.Eventually(t, func() bool { return len(rec.all()) == 5 }, waitFor, tick)
	var kinds []NotificationKind
	for _, n := range rec.all() {
		kinds = append(kinds, n.Kind)
	}
	require.Equal(t, []NotificationKind{
		NotificationHistoryAppended,
		NotificationTypingChanged,
		NotificationTypingChanged,
		NotificationPartialUpdated,
		NotificationHistoryAppended,
	}, kinds)
}
