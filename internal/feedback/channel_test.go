package feedback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelDrainFIFO(t *testing.T) {
	ch := NewChannel(10, nil)

	require.True(t, ch.Post(Progress(1, "a")))
	require.True(t, ch.Post(Progress(2, "b")))
	require.True(t, ch.Post(Completed("/tmp/out.txt")))

	events := ch.Drain()
	require.Len(t, events, 3)
	assert.Equal(t, int64(1), events[0].Seq)
	assert.Equal(t, int64(2), events[1].Seq)
	assert.Equal(t, int64(3), events[2].Seq)
	assert.Equal(t, KindCompleted, events[2].Kind)
	assert.False(t, events[0].Timestamp.IsZero())

	assert.Empty(t, ch.Drain())
	assert.Equal(t, 0, ch.Len())
}

func TestChannelDropsProgressWhenFullButKeepsTerminal(t *testing.T) {
	ch := NewChannel(2, nil)

	ch.Post(Progress(1, ""))
	ch.Post(Progress(2, ""))
	ch.Post(Progress(3, ""))
	ch.Post(Failed(errors.New("boom")))

	events := ch.Drain()
	require.Len(t, events, 3)
	assert.Equal(t, 1, events[0].Percent)
	assert.Equal(t, 2, events[1].Percent)
	assert.Equal(t, KindFailed, events[2].Kind)
	assert.Equal(t, "boom", events[2].Message)

	metrics := ch.Metrics()
	assert.Equal(t, int64(1), metrics.EventsDropped)
	assert.Equal(t, int64(3), metrics.EventsPosted)
	assert.Equal(t, int64(3), metrics.EventsDrained)
}

func TestChannelCloseRejectsProducers(t *testing.T) {
	ch := NewChannel(0, nil)
	ch.Post(Progress(5, ""))

	ch.Close()
	assert.False(t, ch.Alive())
	assert.False(t, ch.Post(Progress(6, "")))
	assert.Empty(t, ch.Drain())
	assert.Equal(t, int64(1), ch.Metrics().EventsRejected)

	// Closing twice is harmless
	ch.Close()
}

func TestChannelConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	ch := NewChannel(10000, nil)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(producer int) {
			defer wg.Done()
			for i := 1; i <= 100; i++ {
				ch.Post(Event{Kind: KindProgress, Percent: i, RunID: string(rune('a' + producer))})
			}
		}(p)
	}
	wg.Wait()

	last := map[string]int{}
	var lastSeq int64
	for _, event := range ch.Drain() {
		assert.Greater(t, event.Seq, lastSeq)
		lastSeq = event.Seq
		assert.Greater(t, event.Percent, last[event.RunID])
		last[event.RunID] = event.Percent
	}
	assert.Len(t, last, 4)
}

func TestChannelPollDeliversUntilCancelled(t *testing.T) {
	ch := NewChannel(0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch.Poll(ctx, 5*time.Millisecond, func(event Event) {
			got = append(got, event)
			if event.IsTerminal() {
				cancel()
			}
		})
	}()

	ch.Post(Stage("extract", "Extracting audio"))
	ch.Post(Progress(50, ""))
	ch.Post(Completed("out.pdf"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Poll did not return after cancellation")
	}

	require.Len(t, got, 3)
	assert.Equal(t, KindStage, got[0].Kind)
	assert.Equal(t, "out.pdf", got[2].OutputPath)
}

func TestChannelPollSurvivesHandlerPanic(t *testing.T) {
	ch := NewChannel(0, nil)
	ch.Post(Progress(1, ""))
	ch.Post(Progress(2, ""))
	ch.Close()

	calls := 0
	ch.Poll(context.Background(), time.Millisecond, func(event Event) {
		calls++
		panic("handler bug")
	})

	// Close discarded the pending events, so Poll returns without delivering
	assert.Equal(t, 0, calls)

	ch = NewChannel(0, nil)
	ch.Post(Progress(1, ""))
	ch.Post(Progress(2, ""))
	ctx, cancel := context.WithCancel(context.Background())
	ch.Poll(ctx, time.Millisecond, func(event Event) {
		calls++
		if calls == 2 {
			cancel()
		}
		panic("handler bug")
	})
	assert.Equal(t, 2, calls)
}

func TestEventConstructors(t *testing.T) {
	err := errors.New("disk full")
	failed := Failed(err).WithRun("run-1")
	assert.Equal(t, "run-1", failed.RunID)
	assert.True(t, failed.IsTerminal())
	assert.ErrorIs(t, failed.Err, err)

	assert.False(t, Progress(10, "x").IsTerminal())
	assert.False(t, Stage("save", "").IsTerminal())
	assert.Equal(t, 100, Completed("x").Percent)
}

func TestChannelEmitterReportsClose(t *testing.T) {
	ch := NewChannel(0, nil)
	emit := ch.Emitter()

	assert.True(t, emit(Progress(5, "")))
	ch.Close()
	assert.False(t, emit(Progress(6, "")))
	assert.Equal(t, int64(1), ch.Metrics().EventsRejected)
}

func TestHandlerEmitterAlwaysAccepts(t *testing.T) {
	var got []Event
	emit := Handler(func(event Event) { got = append(got, event) }).Emitter()

	assert.True(t, emit(Stage("extract", "")))
	assert.True(t, emit(Completed("out.txt")))
	assert.Len(t, got, 2)
}
