package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestPostRunsInOrder(t *testing.T) {
	r := New()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		r.Post(func() { got = append(got, i) })
	}

	assert.Equal(t, 5, r.Step(0))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Equal(t, 0, r.Step(0))
}

func TestPostFromManyGoroutines(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	count := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Post(func() { count++ })
		}()
	}
	wg.Wait()

	r.Step(0)
	assert.Equal(t, 50, count)
}

func TestTimersFireInDeadlineOrder(t *testing.T) {
	clock := NewManualClock(epoch)
	r := New(WithClock(clock))

	var got []string
	r.Schedule(3*time.Second, func() { got = append(got, "c") })
	r.Schedule(1*time.Second, func() { got = append(got, "a") })
	r.Schedule(2*time.Second, func() { got = append(got, "b") })
	assert.Equal(t, 3, r.PendingTimers())

	assert.Equal(t, 0, r.Step(0))

	clock.Advance(2 * time.Second)
	r.Step(0)
	assert.Equal(t, []string{"a", "b"}, got)

	clock.Advance(time.Second)
	r.Step(0)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 0, r.PendingTimers())
}

func TestTimerCancel(t *testing.T) {
	clock := NewManualClock(epoch)
	r := New(WithClock(clock))

	fired := false
	timer := r.Schedule(time.Second, func() { fired = true })
	require.True(t, timer.Pending())

	assert.True(t, timer.Cancel())
	assert.False(t, timer.Cancel(), "second cancel is a no-op")
	assert.False(t, timer.Pending())

	clock.Advance(time.Minute)
	r.Step(0)
	assert.False(t, fired)

	var nilTimer *Timer
	assert.False(t, nilTimer.Cancel())
}

func TestCancelAfterFireIsNoop(t *testing.T) {
	clock := NewManualClock(epoch)
	r := New(WithClock(clock))

	timer := r.Schedule(0, func() {})
	r.Step(0)
	assert.False(t, timer.Pending())
	assert.False(t, timer.Cancel())
}

func TestTaskCancelsDueTimerInSameStep(t *testing.T) {
	clock := NewManualClock(epoch)
	r := New(WithClock(clock))

	fired := false
	timer := r.Schedule(time.Second, func() { fired = true })
	clock.Advance(time.Second)
	r.Post(func() { timer.Cancel() })

	r.Step(0)
	assert.False(t, fired)
}

func TestTimerArmedDuringStepWaitsForNextStep(t *testing.T) {
	clock := NewManualClock(epoch)
	r := New(WithClock(clock))

	runs := 0
	var rearm func()
	rearm = func() {
		runs++
		r.Schedule(0, rearm)
	}
	r.Schedule(0, rearm)

	r.Step(0)
	assert.Equal(t, 1, runs)
	r.Step(0)
	assert.Equal(t, 2, runs)
}

func TestStepWaitsForPost(t *testing.T) {
	r := New()
	done := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Post(func() { close(done) })
	}()

	start := time.Now()
	ran := r.Step(5 * time.Second)
	assert.Equal(t, 1, ran)
	assert.Less(t, time.Since(start), 5*time.Second)
	<-done
}

func TestStepWaitBoundedByTimer(t *testing.T) {
	r := New()
	fired := false
	r.Schedule(10*time.Millisecond, func() { fired = true })

	start := time.Now()
	assert.Equal(t, 1, r.Step(5*time.Second))
	assert.True(t, fired)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestStepIgnoresWakeFromEarlierWork(t *testing.T) {
	r := New()
	r.Post(func() {})
	r.Step(0)

	start := time.Now()
	assert.Zero(t, r.Step(20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestPanicInTaskIsRecovered(t *testing.T) {
	r := New()
	after := false
	r.Post(func() { panic("callback failure") })
	r.Post(func() { after = true })

	assert.NotPanics(t, func() { r.Step(0) })
	assert.True(t, after)
}

func TestPanicHandler(t *testing.T) {
	var got []interface{}
	r := New(WithPanicHandler(func(v interface{}) { got = append(got, v) }))
	r.Post(func() { panic("callback failure") })
	r.Schedule(0, func() { panic("timer failure") })

	assert.NotPanics(t, func() { r.Step(0) })
	assert.Equal(t, []interface{}{"callback failure", "timer failure"}, got)
}

func TestPanicHandlerFailureIsContained(t *testing.T) {
	r := New(WithPanicHandler(func(interface{}) { panic("handler failure") }))
	after := false
	r.Post(func() { panic("callback failure") })
	r.Post(func() { after = true })

	assert.NotPanics(t, func() { r.Step(0) })
	assert.True(t, after)
}
