// Package events provides the in-process event bus that carries generation
// progress from the pipeline to stream subscribers.
//
// One channel per generation id, bounded buffer, exactly one active
// subscriber at a time. Publishing never blocks: when the buffer is full the
// oldest non-terminal event is dropped to make room. Terminal events
// (completed/failed) are never dropped; publishing one closes the channel.
package events

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultBufferSize bounds the per-generation event buffer.
	DefaultBufferSize = 64

	// DefaultChannelTTL is how long a closed channel lingers so a late
	// subscriber can still drain the terminal event.
	DefaultChannelTTL = 60 * time.Second
)

var (
	// ErrStreamBusy is returned when a channel already has an active subscriber.
	ErrStreamBusy = errors.New("stream already has an active subscriber")

	// ErrChannelClosed is returned when subscribing to a channel whose
	// terminal event has already been delivered.
	ErrChannelClosed = errors.New("event channel closed")
)

// Bus is the in-process event broker. Safe for concurrent use.
type Bus struct {
	mu         sync.Mutex
	channels   map[string]*channel
	bufferSize int
	channelTTL time.Duration
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize overrides the per-channel buffer bound.
func WithBufferSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithChannelTTL overrides how long closed channels linger before removal.
func WithChannelTTL(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.channelTTL = d
		}
	}
}

// NewBus creates an event bus. Tests construct isolated instances; the
// process-wide instance is wired in main.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		channels:   make(map[string]*channel),
		bufferSize: DefaultBufferSize,
		channelTTL: DefaultChannelTTL,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish appends an event to the generation's channel, creating the channel
// on first use. Non-blocking. Events published after the terminal event are
// ignored. Non-terminal progress values are clamped so they never decrease
// within the stream.
func (b *Bus) Publish(generationID string, ev GenerationEvent) {
	if generationID == "" {
		return
	}
	ev.GenerationID = generationID
	ch := b.channelFor(generationID)
	terminal := ch.publish(ev)
	if terminal {
		// Let a reconnecting subscriber drain the terminal event, then
		// forget the channel entirely.
		time.AfterFunc(b.channelTTL, func() { b.remove(generationID) })
	}
}

// Subscribe attaches the single allowed subscriber to a generation's channel.
// Buffered events (published before the subscriber attached) are delivered
// first, then live events, in publish order. The returned subscription's
// channel is closed after the terminal event is delivered.
func (b *Bus) Subscribe(generationID string) (*Subscription, error) {
	ch := b.channelFor(generationID)
	return ch.subscribe()
}

// Has reports whether a channel currently exists for the generation.
// Gateways use it to distinguish "not started yet" from "already finished".
func (b *Bus) Has(generationID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.channels[generationID]
	return ok
}

// Dropped returns the number of events dropped from the generation's buffer.
func (b *Bus) Dropped(generationID string) int64 {
	b.mu.Lock()
	ch, ok := b.channels[generationID]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.dropped
}

func (b *Bus) channelFor(generationID string) *channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[generationID]
	if !ok {
		ch = &channel{
			generationID: generationID,
			max:          b.bufferSize,
			notify:       make(chan struct{}, 1),
		}
		b.channels[generationID] = ch
	}
	return ch
}

func (b *Bus) remove(generationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.channels, generationID)
}

// channel is the per-generation bounded event stream.
type channel struct {
	mu           sync.Mutex
	generationID string
	buf          []GenerationEvent
	max          int
	closed       bool // terminal event published
	drained      bool // terminal event delivered to a subscriber
	active       bool // a subscriber is attached
	dropped      int64
	lastProgress float64
	notify       chan struct{}
}

// publish appends ev and reports whether it was terminal.
func (c *channel) publish(ev GenerationEvent) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		slog.Debug("Event published after terminal, ignored",
			"generation_id", c.generationID, "stage", ev.Stage)
		return false
	}

	if ev.IsTerminal() {
		c.closed = true
	} else {
		// Progress never decreases within a stream; the terminal failed
		// event (progress 0) is exempt.
		if ev.Progress < c.lastProgress {
			ev.Progress = c.lastProgress
		} else {
			c.lastProgress = ev.Progress
		}
	}

	if len(c.buf) >= c.max {
		c.dropOldest()
	}
	c.buf = append(c.buf, ev)
	closed := c.closed
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return closed
}

// dropOldest removes the oldest non-terminal event. Called with c.mu held.
func (c *channel) dropOldest() {
	for i, ev := range c.buf {
		if !ev.IsTerminal() {
			c.buf = append(c.buf[:i], c.buf[i+1:]...)
			c.dropped++
			slog.Warn("Event buffer full, dropped oldest event",
				"generation_id", c.generationID,
				"dropped_stage", ev.Stage,
				"dropped_total", c.dropped)
			return
		}
	}
}

func (c *channel) subscribe() (*Subscription, error) {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil, ErrStreamBusy
	}
	if c.drained && len(c.buf) == 0 {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	c.active = true
	c.mu.Unlock()

	// out is unbuffered so a terminal event counts as delivered only when
	// the reader actually received it.
	sub := &Subscription{
		ch:   c,
		out:  make(chan GenerationEvent),
		stop: make(chan struct{}),
	}
	go sub.pump()
	return sub, nil
}

// Subscription is one attached reader of a generation's event channel.
type Subscription struct {
	ch       *channel
	out      chan GenerationEvent
	stop     chan struct{}
	stopOnce sync.Once
}

// Events returns the delivery channel. It is closed after the terminal event.
func (s *Subscription) Events() <-chan GenerationEvent {
	return s.out
}

// Close detaches the subscriber. Undelivered events stay buffered for a
// reconnecting subscriber; the terminal event is never lost. Idempotent.
func (s *Subscription) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.ch.mu.Lock()
		s.ch.active = false
		s.ch.mu.Unlock()
	})
}

// pump moves events from the shared buffer to this subscriber.
func (s *Subscription) pump() {
	c := s.ch
	for {
		c.mu.Lock()
		if len(c.buf) > 0 {
			ev := c.buf[0]
			c.buf = c.buf[1:]
			c.mu.Unlock()

			if ev.IsTerminal() {
				select {
				case s.out <- ev:
					c.mu.Lock()
					c.drained = true
					c.mu.Unlock()
					close(s.out)
				case <-s.stop:
					// Subscriber left before taking the terminal event;
					// put it back for the next subscriber.
					c.mu.Lock()
					c.buf = append([]GenerationEvent{ev}, c.buf...)
					c.mu.Unlock()
					select {
					case c.notify <- struct{}{}:
					default:
					}
				}
				return
			}

			select {
			case s.out <- ev:
			case <-s.stop:
				return
			}
			continue
		}

		closedEmpty := c.closed && c.drained
		c.mu.Unlock()
		if closedEmpty {
			close(s.out)
			return
		}

		select {
		case <-c.notify:
		case <-s.stop:
			return
		}
	}
}
