package streaming

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"exsaengine/internal/backend"
	"exsaengine/internal/job"
)

func feed(pieces []string, reason backend.FinishReason) <-chan job.Event {
	ch := make(chan job.Event, len(pieces)+1)
	for i, p := range pieces {
		ch <- job.Event{Kind: job.EventToken, Token: job.TokenEvent{Text: p, Index: i}}
	}
	ch <- job.Event{Kind: job.EventDone, Done: job.DoneEvent{Reason: reason, CompletionTokens: len(pieces)}}
	close(ch)
	return ch
}

func TestWriteSSEFramesTokensAndTerminalChunk(t *testing.T) {
	var buf bytes.Buffer
	err := WriteSSE(&buf, nil, "m1", "job1", feed([]string{"hi", "!"}, backend.FinishEOS))
	require.NoError(t, err)
	out := buf.String()
	require.Contains(t, out, `"content":"hi"`)
	require.Contains(t, out, `"finish_reason":"stop_eos"`)
	require.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}

func TestWriteNDJSONOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	err := WriteNDJSON(&buf, nil, feed([]string{"a", "b"}, backend.FinishStopString))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], `"type":"token"`)
	require.Contains(t, lines[2], `"type":"done"`)
}

func TestAccumulateConcatenatesTokens(t *testing.T) {
	out, err := Accumulate(feed([]string{"foo", "bar"}, backend.FinishEOS))
	require.NoError(t, err)
	require.Equal(t, "foobar", out.Text)
	require.Equal(t, "stop_eos", out.FinishReason)
}
