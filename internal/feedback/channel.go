package feedback

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/snoozleEmily/transcriptor/internal/logging"
)

const defaultMaxEvents = 1000

// Channel is an ordered queue of events written by background goroutines
// and drained by a single consumer on its own schedule. Producers never
// block: once the channel is closed they are told to stop posting.
type Channel struct {
	mu        sync.Mutex
	queue     []Event
	maxEvents int
	nextSeq   int64
	alive     bool
	metrics   ChannelMetrics
	logger    *logrus.Entry
}

// ChannelMetrics tracks channel statistics
type ChannelMetrics struct {
	EventsPosted  int64
	EventsDrained int64
	EventsDropped int64
	// EventsRejected counts posts attempted after Close
	EventsRejected int64
}

// NewChannel creates a channel holding at most maxEvents pending events.
// A nil logger discards channel diagnostics.
func NewChannel(maxEvents int, logger *logrus.Entry) *Channel {
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}

	return &Channel{
		queue:     make([]Event, 0, 64),
		maxEvents: maxEvents,
		alive:     true,
		logger:    logging.OrNop(logger).WithField("component", "events"),
	}
}

// Post appends an event. It returns false when the channel is closed, in
// which case the producer should stop emitting. When the queue is full a
// non-terminal event is dropped; terminal events are always kept.
func (c *Channel) Post(event Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive {
		c.metrics.EventsRejected++
		return false
	}

	if len(c.queue) >= c.maxEvents && !event.IsTerminal() {
		c.metrics.EventsDropped++
		c.logger.WithFields(logrus.Fields{
			"kind":   event.Kind,
			"run_id": event.RunID,
		}).Warn("Event dropped, channel full")
		return true
	}

	c.nextSeq++
	event.Seq = c.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	c.queue = append(c.queue, event)
	c.metrics.EventsPosted++
	return true
}

// Emitter returns Post, which reports false once the channel is closed
func (c *Channel) Emitter() Emitter {
	return c.Post
}

// Drain removes and returns every pending event in FIFO order
func (c *Channel) Drain() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return nil
	}

	out := c.queue
	c.queue = make([]Event, 0, cap(out))
	c.metrics.EventsDrained += int64(len(out))
	return out
}

// Len returns the number of pending events
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Alive reports whether the channel still accepts events
func (c *Channel) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// Close marks the channel dead and discards pending events
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive {
		return
	}
	c.alive = false
	if discarded := len(c.queue); discarded > 0 {
		c.logger.WithField("discarded", discarded).Debug("Event channel closed with pending events")
	}
	c.queue = nil
}

// Metrics returns a snapshot of channel statistics
func (c *Channel) Metrics() ChannelMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Poll drains the channel every interval on the calling goroutine and hands
// each event to apply, until ctx is done or the channel is closed. A panic
// in apply is logged and does not stop polling.
func (c *Channel) Poll(ctx context.Context, interval time.Duration, apply Handler) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, event := range c.Drain() {
			c.deliver(apply, event)
		}

		if !c.Alive() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Channel) deliver(apply Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{
				"kind":  event.Kind,
				"panic": r,
			}).Error("Event handler panic")
		}
	}()

	apply(event)
}
