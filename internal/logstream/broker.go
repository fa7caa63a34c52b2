package logstream

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"gantry/internal/model"
	"gantry/pkg/logging"
)

const subsystem = "LogStream"

// DefaultHistorySize bounds the per-resource replay ring.
const DefaultHistorySize = 512

// DefaultSubscriberBuffer is the per-subscriber queue capacity used when a
// subscription does not specify its own.
const DefaultSubscriberBuffer = 256

// Message is one broadcast unit: exactly one of Line or Event is set.
type Message struct {
	Line  *model.LogLine
	Event *model.ResourceEvent
}

// ResourceName returns the resource the message belongs to.
func (m Message) ResourceName() string {
	if m.Line != nil {
		return m.Line.ResourceName
	}
	if m.Event != nil {
		return m.Event.ResourceName
	}
	return ""
}

// Filter selects which message kinds a subscription receives.
type Filter int

const (
	FilterAll Filter = iota
	FilterLines
	FilterEvents
)

// SubscribeOptions configures one subscription.
type SubscribeOptions struct {
	// Resource restricts the stream to one resource. Empty subscribes to
	// all resources.
	Resource string
	// Filter selects lines, events, or both.
	Filter Filter
	// Replay preloads the retained history before live tailing begins.
	Replay bool
	// Buffer is the queue capacity; DefaultSubscriberBuffer when zero.
	Buffer int
}

// Subscription is one subscriber's cursor into the stream. Close must be
// called when done; a detached subscriber's queue is released promptly.
type Subscription struct {
	id      string
	opts    SubscribeOptions
	ch      chan Message
	broker  *Broker
	dropped atomic.Uint64
	once    sync.Once
}

// C is the message channel. It is closed when the subscription or the
// broker shuts down.
func (s *Subscription) C() <-chan Message { return s.ch }

// Dropped reports how many messages were discarded because this
// subscriber's queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscriber and releases its queue.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.remove(s)
	})
}

func (s *Subscription) wants(m Message) bool {
	if s.opts.Resource != "" && s.opts.Resource != m.ResourceName() {
		return false
	}
	switch s.opts.Filter {
	case FilterLines:
		return m.Line != nil
	case FilterEvents:
		return m.Event != nil
	}
	return true
}

// Broker is the publish/subscribe fan-out service. It owns all subscriber
// registrations and never blocks on, or outlives, any of them.
type Broker struct {
	mu         sync.Mutex
	subs       map[string]*Subscription
	history    map[string][]Message
	historyCap int
	closed     bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewBroker creates a broker retaining up to historyCap messages per
// resource for replay; zero uses DefaultHistorySize.
func NewBroker(historyCap int) *Broker {
	if historyCap <= 0 {
		historyCap = DefaultHistorySize
	}
	return &Broker{
		subs:       make(map[string]*Subscription),
		history:    make(map[string][]Message),
		historyCap: historyCap,
	}
}

// PublishLine broadcasts one console line.
func (b *Broker) PublishLine(line model.LogLine) {
	b.publish(Message{Line: &line})
}

// PublishEvent broadcasts one resource state-change event.
func (b *Broker) PublishEvent(event model.ResourceEvent) {
	b.publish(Message{Event: &event})
}

func (b *Broker) publish(m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.published.Add(1)

	name := m.ResourceName()
	ring := append(b.history[name], m)
	if len(ring) > b.historyCap {
		ring = ring[len(ring)-b.historyCap:]
	}
	b.history[name] = ring

	for _, sub := range b.subs {
		if !sub.wants(m) {
			continue
		}
		select {
		case sub.ch <- m:
		default:
			// Slow consumer; drop rather than block the publisher.
			sub.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

// Subscribe attaches a new subscriber. With Replay set, the retained
// history is delivered first, in original per-resource order, before live
// messages.
func (b *Broker) Subscribe(opts SubscribeOptions) *Subscription {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultSubscriberBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		id:     uuid.NewString(),
		opts:   opts,
		broker: b,
	}

	var replay []Message
	if opts.Replay {
		replay = b.replayLocked(sub)
	}
	buffer := opts.Buffer
	if len(replay) > buffer {
		buffer = len(replay)
	}
	sub.ch = make(chan Message, buffer)
	for _, m := range replay {
		sub.ch <- m
	}

	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	logging.Debug(subsystem, "Subscriber %s attached (resource=%q replay=%v)", sub.id, opts.Resource, opts.Replay)
	return sub
}

// replayLocked collects the history a new subscriber should see.
func (b *Broker) replayLocked(sub *Subscription) []Message {
	var out []Message
	if sub.opts.Resource != "" {
		for _, m := range b.history[sub.opts.Resource] {
			if sub.wants(m) {
				out = append(out, m)
			}
		}
		return out
	}
	// The wildcard replay interleaves resources by ring position; only
	// per-resource order matters to subscribers.
	for _, ring := range b.history {
		for _, m := range ring {
			if sub.wants(m) {
				out = append(out, m)
			}
		}
	}
	return out
}

// Tail returns up to n of the most recent log lines retained for a
// resource, oldest first. Used for crash reports.
func (b *Broker) Tail(resource string, n int) []model.LogLine {
	b.mu.Lock()
	defer b.mu.Unlock()

	var lines []model.LogLine
	for _, m := range b.history[resource] {
		if m.Line != nil {
			lines = append(lines, *m.Line)
		}
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// Published reports the total number of messages accepted for broadcast.
func (b *Broker) Published() uint64 { return b.published.Load() }

// TotalDropped reports messages discarded across all subscribers.
func (b *Broker) TotalDropped() uint64 { return b.dropped.Load() }

// SubscriberCount reports the number of attached subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)
	logging.Debug(subsystem, "Subscriber %s detached (dropped=%d)", sub.id, sub.dropped.Load())
}

// Close shuts the broker down and closes every subscriber channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
