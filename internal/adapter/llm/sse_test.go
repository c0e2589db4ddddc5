package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/domain"
)

func textParser(data []byte) (*domain.StreamDelta, error) {
	s := string(data)
	if strings.HasPrefix(s, "bad") {
		return nil, errors.New("unparseable")
	}
	return &domain.StreamDelta{Content: s}, nil
}

func collect(ch <-chan domain.StreamDelta) []domain.StreamDelta {
	var out []domain.StreamDelta
	for d := range ch {
		out = append(out, d)
	}
	return out
}

func TestParseSSEStream_Basic(t *testing.T) {
	raw := "data: hello\n\n: keep-alive\n\nevent: ping\ndata:world\n\ndata: [DONE]\n\n"
	deltas := collect(parseSSEStream(context.Background(), io.NopCloser(strings.NewReader(raw)), textParser))

	require.Len(t, deltas, 3)
	assert.Equal(t, "hello", deltas[0].Content)
	assert.Equal(t, "world", deltas[1].Content)
	assert.True(t, deltas[2].Done)
	assert.NoError(t, deltas[2].Err)
}

func TestParseSSEStream_SkipsUnparseableLines(t *testing.T) {
	raw := "data: bad-json\n\ndata: ok\n\ndata: [DONE]\n\n"
	deltas := collect(parseSSEStream(context.Background(), io.NopCloser(strings.NewReader(raw)), textParser))

	require.Len(t, deltas, 2)
	assert.Equal(t, "ok", deltas[0].Content)
}

func TestParseSSEStream_StopsOnDoneDelta(t *testing.T) {
	raw := "data: a\n\ndata: b\n\n"
	parser := func(data []byte) (*domain.StreamDelta, error) {
		return &domain.StreamDelta{Content: string(data), Done: string(data) == "a"}, nil
	}
	deltas := collect(parseSSEStream(context.Background(), io.NopCloser(strings.NewReader(raw)), parser))

	require.Len(t, deltas, 1)
	assert.True(t, deltas[0].Done)
}

func TestParseSSEStream_TruncatedStreamReportsError(t *testing.T) {
	raw := "data: partial\n\n"
	deltas := collect(parseSSEStream(context.Background(), io.NopCloser(strings.NewReader(raw)), textParser))

	require.Len(t, deltas, 2)
	last := deltas[1]
	assert.True(t, last.Done)
	require.Error(t, last.Err)
	assert.ErrorIs(t, last.Err, domain.ErrProviderError)
}

func TestParseSSEStream_ContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	ch := parseSSEStream(ctx, pr, textParser)
	_, err := pw.Write([]byte("data: first\n\n"))
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, "first", first.Content)

	cancel()
	pw.Write([]byte("data: second\n\n"))
	pw.Close()

	// The goroutine exits and closes the channel. Anything it still
	// delivers must be a terminal delta.
	for d := range ch {
		assert.True(t, d.Done)
	}
}
