package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestChannelFIFO(t *testing.T) {
	woken := 0
	ch := NewRequestChannel(func() { woken++ })

	a := NewRequest(KindOpen, "rtsp://a")
	b := NewRequest(KindPlay, "")
	ch.Submit(a)
	ch.Submit(b)
	assert.Equal(t, 2, ch.Len())
	assert.Equal(t, 2, woken)

	got, ok := ch.TryTake()
	require.True(t, ok)
	assert.Same(t, a, got)
	got, ok = ch.TryTake()
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = ch.TryTake()
	assert.False(t, ok)
}

func TestRequestChannelTakeBlocking(t *testing.T) {
	ch := NewRequestChannel(nil)

	start := time.Now()
	_, ok := ch.TakeBlocking(20 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	req := NewRequest(KindStop, "")
	go func() {
		time.Sleep(10 * time.Millisecond)
		ch.Submit(req)
	}()
	got, ok := ch.TakeBlocking(time.Second)
	require.True(t, ok)
	assert.Same(t, req, got)
}

func TestRequestChannelClose(t *testing.T) {
	ch := NewRequestChannel(nil)
	queued := []*Completion{
		ch.Submit(NewRequest(KindOpen, "rtsp://a")),
		ch.Submit(NewRequest(KindPlay, "")),
	}

	assert.Equal(t, 2, ch.Close())
	assert.Zero(t, ch.Close())
	for _, c := range queued {
		require.True(t, c.Resolved())
		assert.ErrorIs(t, c.Err(), ErrShuttingDown)
	}

	late := ch.Submit(NewRequest(KindStop, ""))
	require.True(t, late.Resolved())
	assert.ErrorIs(t, late.Err(), ErrShuttingDown)
	assert.Zero(t, ch.Len())

	_, ok := ch.TakeBlocking(time.Second)
	assert.False(t, ok, "closed channel does not block")
}

func TestCompletionResolvesOnce(t *testing.T) {
	c := newCompletion()
	assert.False(t, c.Resolved())
	assert.NoError(t, c.Err())

	var wg sync.WaitGroup
	wins := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- c.resolve(ErrWrongState)
		}()
	}
	wg.Wait()
	close(wins)

	first := 0
	for w := range wins {
		if w {
			first++
		}
	}
	assert.Equal(t, 1, first)
	assert.False(t, c.resolve(nil))
	assert.ErrorIs(t, c.Wait(context.Background()), ErrWrongState)
}

func TestCompletionWaitHonoursContext(t *testing.T) {
	c := newCompletion()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)
	assert.False(t, c.Resolved())
}
