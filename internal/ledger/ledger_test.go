package ledger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nativereplay/internal/replayerr"
	"nativereplay/internal/trace"
)

type names []string

func (n names) Name(id uint64) string {
	if id < uint64(len(n)) {
		return n[id]
	}
	return ""
}

var fns = names{"rand", "time", "fetch"}

func TestPopMatchingFIFO(t *testing.T) {
	const n = 8
	calls := make([]trace.NativeCall, n)
	for i := range calls {
		calls[i] = trace.NativeCall{FuncID: uint64(i % 3)}
	}
	l := New(calls, fns, nil)

	for i := 0; i < n; i++ {
		got, err := l.PopMatching(uint64(i % 3))
		require.NoError(t, err, "pop %d", i)
		assert.Equal(t, uint64(i%3), got.FuncID)
		assert.Equal(t, i+1, l.Popped())
	}
	assert.Equal(t, 0, l.Len())
}

func TestPopMatchingWritesStdoutInOrder(t *testing.T) {
	var out bytes.Buffer
	l := New([]trace.NativeCall{
		{FuncID: 0, Stdout: []string{"a", "b"}},
		{FuncID: 1},
		{FuncID: 0, Stdout: []string{"c"}},
	}, fns, &out)

	for _, id := range []uint64{0, 1, 0} {
		_, err := l.PopMatching(id)
		require.NoError(t, err)
	}
	assert.Equal(t, "abc", out.String())
}

func TestPopMatchingDivergenceBeforeOutput(t *testing.T) {
	var out bytes.Buffer
	l := New([]trace.NativeCall{{FuncID: 0, Stdout: []string{"must not appear"}}}, fns, &out)

	_, err := l.PopMatching(1)
	require.ErrorIs(t, err, replayerr.ErrDivergence)

	var re *replayerr.Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "rand", re.Expected)
	assert.Equal(t, "time", re.Actual)
	assert.Empty(t, out.String())
	assert.Equal(t, 1, l.Len(), "a mismatched call is not consumed")
}

func TestPopMatchingExhausted(t *testing.T) {
	l := New(nil, fns, nil)
	_, err := l.PopMatching(2)
	require.ErrorIs(t, err, replayerr.ErrTraceExhausted)
	assert.Contains(t, err.Error(), "fetch")
}

func TestRemainingAndPeek(t *testing.T) {
	l := New([]trace.NativeCall{{FuncID: 0}, {FuncID: 2}, {FuncID: 7}}, fns, nil)
	_, err := l.PopMatching(0)
	require.NoError(t, err)

	next, ok := l.Peek()
	require.True(t, ok)
	assert.Equal(t, uint64(2), next.FuncID)
	assert.Equal(t, []string{"fetch", "<function 7>"}, l.Remaining())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestPopMatchingOutputFailure(t *testing.T) {
	l := New([]trace.NativeCall{{FuncID: 0, Stdout: []string{"x"}}}, fns, failingWriter{})
	_, err := l.PopMatching(0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replay stdout of rand")
}
