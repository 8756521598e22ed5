package assembler

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/streamchat/pkg/history"
	"github.com/go-go-golems/streamchat/pkg/protocol"
)

func text(s string) *protocol.EventMessage {
	return &protocol.EventMessage{MediaType: protocol.MediaTypeText, Content: s}
}

func media(mt protocol.MediaType, s string) *protocol.EventMessage {
	return &protocol.EventMessage{MediaType: mt, Content: s}
}

// foldAll runs events through Fold and collects finalized entries.
func foldAll(t *testing.T, policy Policy, evs ...protocol.Event) (*PartialReply, []history.Entry) {
	t.Helper()
	var partial *PartialReply
	var out []history.Entry
	for _, ev := range evs {
		res, err := Fold(ev, partial, policy)
		require.NoError(t, err)
		partial = res.Partial
		if res.Finalized != nil {
			out = append(out, *res.Finalized)
		}
	}
	return partial, out
}

func TestFold_TextDeltasConcatenate(t *testing.T) {
	partial, entries := foldAll(t, PolicyLastWriteWins, text("Hel"), text("lo"), &protocol.EventEnd{})
	require.Nil(t, partial)
	require.Len(t, entries, 1)
	require.Equal(t, history.SenderAssistant, entries[0].Sender)
	require.Equal(t, protocol.MediaTypeText, entries[0].MediaType)
	require.Equal(t, "Hello", entries[0].Content)
}

func TestFold_TextConcatenationProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("abcxyz ßé\n✓")
	for iter := 0; iter < 200; iter++ {
		n := rng.Intn(20)
		var evs []protocol.Event
		var want strings.Builder
		for i := 0; i < n; i++ {
			var b strings.Builder
			for j := rng.Intn(5); j > 0; j-- {
				b.WriteRune(alphabet[rng.Intn(len(alphabet))])
			}
			want.WriteString(b.String())
			evs = append(evs, text(b.String()))
		}
		evs = append(evs, &protocol.EventEnd{})

		_, entries := foldAll(t, PolicyLastWriteWins, evs...)
		require.Len(t, entries, 1)
		require.Equal(t, want.String(), entries[0].Content)
	}
}

func TestFold_MediaReplaces(t *testing.T) {
	_, entries := foldAll(t, PolicyLastWriteWins,
		media(protocol.MediaTypeVideo, "first.mp4"),
		media(protocol.MediaTypeVideo, "clip.mp4"),
		&protocol.EventEnd{},
	)
	require.Len(t, entries, 1)
	require.Equal(t, protocol.MediaTypeVideo, entries[0].MediaType)
	require.Equal(t, "clip.mp4", entries[0].Content)

	_, entries = foldAll(t, PolicyLastWriteWins,
		media(protocol.MediaTypeImage, "a.png"),
		&protocol.EventEnd{},
	)
	require.Equal(t, "a.png", entries[0].Content)
	require.Equal(t, protocol.MediaTypeImage, entries[0].MediaType)
}

func TestFold_MediaReplacesMetadata(t *testing.T) {
	first := &protocol.EventMessage{MediaType: protocol.MediaTypeVideo, Content: "a", Metadata: map[string]any{"a": 1}}
	second := &protocol.EventMessage{MediaType: protocol.MediaTypeVideo, Content: "b", Metadata: map[string]any{"b": 2}}
	partial, _ := foldAll(t, PolicyLastWriteWins, first, second)
	require.Equal(t, map[string]any{"b": 2}, partial.Metadata)
}

func TestFold_TextMetadataLastWriteWins(t *testing.T) {
	first := &protocol.EventMessage{MediaType: protocol.MediaTypeText, Content: "a", Metadata: map[string]any{"sender_type": "assistant", "k": 1}}
	second := &protocol.EventMessage{MediaType: protocol.MediaTypeText, Content: "b", Metadata: map[string]any{"k": 2}}
	partial, _ := foldAll(t, PolicyLastWriteWins, first, second)
	require.Equal(t, "ab", partial.Content)
	require.Equal(t, map[string]any{"sender_type": "assistant", "k": 2}, partial.Metadata)
}

func TestFold_EndWithoutMessageFinalizesEmptyText(t *testing.T) {
	res, err := Fold(&protocol.EventEnd{}, nil, PolicyLastWriteWins)
	require.NoError(t, err)
	require.NotNil(t, res.Finalized)
	require.Equal(t, history.SenderAssistant, res.Finalized.Sender)
	require.Equal(t, protocol.MediaTypeText, res.Finalized.MediaType)
	require.Equal(t, "", res.Finalized.Content)
	require.NotEmpty(t, res.Anomaly)
	require.True(t, res.ReplyObserved)
}

func TestFold_EveryEndFinalizesOnce(t *testing.T) {
	_, entries := foldAll(t, PolicyLastWriteWins,
		text("a"), &protocol.EventEnd{},
		&protocol.EventEnd{},
		media(protocol.MediaTypeImage, "x.png"), &protocol.EventEnd{},
	)
	require.Len(t, entries, 3)
	require.Equal(t, "a", entries[0].Content)
	require.Equal(t, "", entries[1].Content)
	require.Equal(t, "x.png", entries[2].Content)
}

func TestFold_StatusAndErrorLeavePartialAlone(t *testing.T) {
	partial := &PartialReply{MediaType: protocol.MediaTypeText, Content: "so far"}

	res, err := Fold(&protocol.EventStatus{Content: "message_received"}, partial, PolicyLastWriteWins)
	require.NoError(t, err)
	require.Same(t, partial, res.Partial)
	require.Equal(t, "message_received", res.Status)
	require.False(t, res.ReplyObserved)
	require.Nil(t, res.Finalized)

	res, err = Fold(&protocol.EventError{Content: "rate limited"}, partial, PolicyLastWriteWins)
	require.NoError(t, err)
	require.Same(t, partial, res.Partial)
	require.True(t, res.TurnFailed)
	require.Equal(t, "rate limited", res.TurnError)
	require.True(t, res.ReplyObserved)
	require.Nil(t, res.Finalized)
}

func TestFold_ErrorThenEndStillAppends(t *testing.T) {
	_, entries := foldAll(t, PolicyLastWriteWins, &protocol.EventError{Content: "rate limited"}, &protocol.EventEnd{})
	require.Len(t, entries, 1)
	require.Equal(t, "", entries[0].Content)
}

func TestFold_DoesNotMutateInput(t *testing.T) {
	partial := &PartialReply{MediaType: protocol.MediaTypeText, Content: "a", Metadata: map[string]any{"k": 1}}
	res, err := Fold(&protocol.EventMessage{MediaType: protocol.MediaTypeText, Content: "b", Metadata: map[string]any{"k": 2}}, partial, PolicyLastWriteWins)
	require.NoError(t, err)
	require.Equal(t, "ab", res.Partial.Content)
	require.Equal(t, "a", partial.Content)
	require.Equal(t, 1, partial.Metadata["k"])
}

func TestFold_MediaTypeSwitchLastWriteWins(t *testing.T) {
	_, entries := foldAll(t, PolicyLastWriteWins, text("Here is "), text("a clip"), media(protocol.MediaTypeVideo, "clip.mp4"), &protocol.EventEnd{})
	require.Len(t, entries, 1)
	require.Equal(t, protocol.MediaTypeVideo, entries[0].MediaType)
	require.Equal(t, "clip.mp4", entries[0].Content)

	_, entries = foldAll(t, PolicyLastWriteWins, media(protocol.MediaTypeVideo, "clip.mp4"), text("caption"), &protocol.EventEnd{})
	require.Equal(t, protocol.MediaTypeText, entries[0].MediaType)
	require.Equal(t, "caption", entries[0].Content)

	res, err := Fold(media(protocol.MediaTypeImage, "x.png"), &PartialReply{MediaType: protocol.MediaTypeText, Content: "t"}, PolicyLastWriteWins)
	require.NoError(t, err)
	require.NotEmpty(t, res.Anomaly)
}

func TestFold_MediaTypeSwitchStrict(t *testing.T) {
	partial := &PartialReply{MediaType: protocol.MediaTypeText, Content: "Here is"}
	res, err := Fold(media(protocol.MediaTypeVideo, "clip.mp4"), partial, PolicyStrict)
	require.ErrorIs(t, err, ErrMediaTypeMismatch)
	require.Same(t, partial, res.Partial)
	require.NotEmpty(t, res.Anomaly)
	require.Nil(t, res.Finalized)
}

func TestFold_EndStatusSurfaces(t *testing.T) {
	res, err := Fold(&protocol.EventEnd{Metadata: map[string]any{
		protocol.MetadataKeyEndStatus: string(protocol.EndStatusTimeout),
	}}, &PartialReply{MediaType: protocol.MediaTypeText, Content: "partial answer"}, PolicyLastWriteWins)
	require.NoError(t, err)
	require.Equal(t, protocol.EndStatusTimeout, res.EndStatus)
	require.Equal(t, "timeout", res.Finalized.Metadata[protocol.MetadataKeyEndStatus])

	res, err = Fold(&protocol.EventEnd{}, &PartialReply{MediaType: protocol.MediaTypeText, Content: "x"}, PolicyLastWriteWins)
	require.NoError(t, err)
	require.Equal(t, protocol.EndStatusComplete, res.EndStatus)
	require.Nil(t, res.Finalized.Metadata)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("strict")
	require.NoError(t, err)
	require.Equal(t, PolicyStrict, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyLastWriteWins, p)

	_, err = ParsePolicy("reject-all")
	require.Error(t, err)
}
