package async

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nativereplay/internal/codec"
	"nativereplay/internal/replayerr"
	"nativereplay/internal/trace"
	"nativereplay/internal/value"
)

func eteCall(v value.Value) trace.NativeCall {
	return trace.NativeCall{Return: codec.MustEncode(v), AsyncKind: ExternalThreadEvent.Tag()}
}

func TestKindOfTag(t *testing.T) {
	_, ok := KindOfTag(0)
	assert.False(t, ok)

	k, ok := KindOfTag(8)
	require.True(t, ok)
	assert.Equal(t, ExternalThreadEvent, k)
	assert.Equal(t, uint64(1), Static.Tag())

	// Tags past the last kind must not wrap onto a valid one.
	for _, tag := range []uint64{9, 257, 264, ^uint64(0)} {
		_, ok := KindOfTag(tag)
		assert.False(t, ok, "tag %d", tag)
	}
}

func TestTicketsCompleteInRecordedOrder(t *testing.T) {
	q := NewQueue()
	unpark := q.Park()
	defer unpark()

	seq := NewSequencer([]uint64{2, 0, 1}, q)
	f := &Factory{Queue: q, Sequencer: seq}

	var mu sync.Mutex
	var completed []uint64
	record := func(ticket uint64) {
		mu.Lock()
		completed = append(completed, ticket)
		mu.Unlock()
	}

	handles := make([]*Handle, 3)
	for i := range handles {
		h, err := f.Make(eteCall(value.Int(i)), record)
		require.NoError(t, err)
		handles[i] = h
	}
	require.NoError(t, seq.Wait())

	assert.Equal(t, []uint64{0, 1, 2}, completed)
	for i, want := range []uint64{2, 0, 1} {
		ticket, ok := handles[i].Ticket()
		require.True(t, ok)
		assert.Equal(t, want, ticket)

		v, err := handles[i].Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, value.Int(i), v)
	}
	assert.Equal(t, 0, seq.Pending())
}

func TestBarrierOrdersShuffledLaunches(t *testing.T) {
	const n = 32
	b := NewBarrier(0, nil)
	tickets := rand.New(rand.NewSource(7)).Perm(n)

	var mu sync.Mutex
	var order []uint64
	var wg sync.WaitGroup
	for _, tk := range tickets {
		wg.Add(1)
		go func(ticket uint64) {
			defer wg.Done()
			b.Wait(ticket)
			mu.Lock()
			order = append(order, ticket)
			mu.Unlock()
			assert.True(t, b.Advance(ticket))
		}(uint64(tk))
	}
	wg.Wait()

	require.Len(t, order, n)
	for i, tk := range order {
		assert.Equal(t, uint64(i), tk)
	}
	assert.Equal(t, uint64(n), b.Next())
	assert.False(t, b.Advance(0), "stale tickets cannot move the barrier")
}

func TestWorkerWaitsForParkedConsumer(t *testing.T) {
	q := NewQueue()
	seq := NewSequencer([]uint64{0}, q)
	f := &Factory{Queue: q, Sequencer: seq}

	h, err := f.Make(eteCall(value.String("late")), nil)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, h.Finished(), "nothing awaits the handle yet")

	v, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, value.String("late"), v)
	require.NoError(t, seq.Wait())
	assert.False(t, q.ConsumerWaiting())
}

func TestStaticHandleIsFinished(t *testing.T) {
	f := &Factory{Queue: NewQueue(), Sequencer: NewSequencer(nil, nil)}
	h, err := f.Make(trace.NativeCall{Return: codec.MustEncode(value.Bool(true)), AsyncKind: Static.Tag()}, nil)
	require.NoError(t, err)

	assert.True(t, h.Finished())
	_, ok := h.Ticket()
	assert.False(t, ok)
	v, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, value.Bool(true), v)
	assert.Equal(t, 0, f.Sequencer.Dispatched())
}

func TestExceptionOutcome(t *testing.T) {
	exc := value.NewObject("RuntimeException", value.Property{Name: "message", Value: value.String("boom")})
	f := &Factory{Queue: NewQueue(), Sequencer: NewSequencer(nil, nil)}
	h, err := f.Make(trace.NativeCall{Exception: codec.MustEncode(exc), AsyncKind: Static.Tag()}, nil)
	require.NoError(t, err)

	_, err = h.Wait(context.Background())
	var thrown *replayerr.ThrownError
	require.ErrorAs(t, err, &thrown)
	assert.Equal(t, "boom", thrown.Message)
	assert.Equal(t, "RuntimeException", thrown.Exception.Class)
}

func TestUnsupportedAwaitableKind(t *testing.T) {
	f := &Factory{Queue: NewQueue(), Sequencer: NewSequencer([]uint64{0}, nil)}
	_, err := f.Make(trace.NativeCall{Return: codec.MustEncode(value.Null{}), AsyncKind: Sleep.Tag()}, nil)
	require.ErrorIs(t, err, replayerr.ErrUnsupportedAwaitable)
	assert.Contains(t, err.Error(), "Sleep")
	assert.Equal(t, 0, f.Sequencer.Dispatched(), "rejected kinds do not consume tickets")

	for _, tag := range []uint64{42, 257, 264} {
		_, err = f.Make(trace.NativeCall{Return: codec.MustEncode(value.Null{}), AsyncKind: tag}, nil)
		assert.ErrorIs(t, err, replayerr.ErrUnsupportedAwaitable, "tag %d", tag)
	}
	assert.Equal(t, 0, f.Sequencer.Dispatched())
}

func TestAbortReleasesWaitingWorkers(t *testing.T) {
	q := NewQueue()
	seq := NewSequencer([]uint64{1, 0}, q)
	f := &Factory{Queue: q, Sequencer: seq}

	// Ticket 1 waits at the barrier for a ticket 0 that is never dispatched.
	h, err := f.Make(eteCall(value.String("late")), nil)
	require.NoError(t, err)
	require.Equal(t, 1, seq.Pending())

	seq.Abort()
	require.NoError(t, seq.Wait())
	assert.Equal(t, 0, seq.Pending())
	assert.False(t, h.Finished())
}

func TestBarrierCloseReleasesWaiter(t *testing.T) {
	b := NewBarrier(0, nil)
	done := make(chan bool)
	go func() { done <- b.Wait(3) }()
	b.Close()
	assert.False(t, <-done)
	assert.True(t, b.Wait(0), "the current ticket is still granted")
}

func TestEventOrderExhausted(t *testing.T) {
	q := NewQueue()
	f := &Factory{Queue: q, Sequencer: NewSequencer(nil, q)}
	_, err := f.Make(eteCall(value.Null{}), nil)
	assert.ErrorIs(t, err, replayerr.ErrTraceIntegrity)
}

func TestWaitHonoursContext(t *testing.T) {
	q := NewQueue()
	seq := NewSequencer([]uint64{1, 0}, q)
	f := &Factory{Queue: q, Sequencer: seq}

	// Ticket 1 can never complete before ticket 0 is dispatched.
	h, err := f.Make(eteCall(value.Null{}), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = h.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	h0, err := f.Make(eteCall(value.Int(0)), nil)
	require.NoError(t, err)
	_, err = h0.Wait(context.Background())
	require.NoError(t, err)
	_, err = h.Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, seq.Wait())
}
