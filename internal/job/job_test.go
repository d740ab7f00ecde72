package job

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"exsaengine/internal/backend"
)

func TestNewAssignsStableID(t *testing.T) {
	j1 := New(context.Background(), Request{})
	j2 := New(context.Background(), Request{})
	require.NotEmpty(t, j1.ID)
	require.NotEqual(t, j1.ID, j2.ID)
}

func TestChanSinkEmitAfterCloseReturnsFalse(t *testing.T) {
	s := NewChanSink(4)
	require.True(t, s.Emit(Event{Kind: EventToken, Token: TokenEvent{Text: "a"}}))
	s.Close()
	require.False(t, s.Emit(Event{Kind: EventToken, Token: TokenEvent{Text: "b"}}))
}

func TestJobCancelClosesSinkAndContext(t *testing.T) {
	j := New(context.Background(), Request{})
	j.Cancel()
	require.Error(t, j.Context().Err())
	require.False(t, j.Sink.Emit(Event{Kind: EventDone, Done: DoneEvent{Reason: backend.FinishCancelled}}))
}

func TestChanSinkBuffersUntilDrained(t *testing.T) {
	s := NewChanSink(2)
	require.True(t, s.Emit(Event{Kind: EventToken, Token: TokenEvent{Text: "1"}}))
	require.True(t, s.Emit(Event{Kind: EventToken, Token: TokenEvent{Text: "2"}}))
	ev := <-s.Events()
	require.Equal(t, "1", ev.Token.Text)
}
