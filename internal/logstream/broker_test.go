package logstream

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gantry/internal/model"
)

func line(resource, content string) model.LogLine {
	return model.LogLine{
		ResourceName: resource,
		Timestamp:    time.Now(),
		Content:      content,
	}
}

func event(resource string, state model.ResourceState) model.ResourceEvent {
	return model.ResourceEvent{
		ResourceName: resource,
		Timestamp:    time.Now(),
		NewState:     state,
	}
}

func collect(sub *Subscription, n int) []Message {
	var out []Message
	for i := 0; i < n; i++ {
		select {
		case m, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, m)
		case <-time.After(time.Second):
			return out
		}
	}
	return out
}

func TestLiveTailingSkipsHistory(t *testing.T) {
	b := NewBroker(0)
	defer b.Close()

	for i := 0; i < 100; i++ {
		b.PublishLine(line("api", fmt.Sprintf("line-%d", i)))
	}

	sub := b.Subscribe(SubscribeOptions{Resource: "api"})
	defer sub.Close()

	b.PublishLine(line("api", "live"))
	got := collect(sub, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "live", got[0].Line.Content)

	select {
	case m := <-sub.C():
		t.Fatalf("unexpected extra message: %+v", m)
	default:
	}
}

func TestReplayDeliversHistoryInOrder(t *testing.T) {
	b := NewBroker(0)
	defer b.Close()

	for i := 0; i < 100; i++ {
		b.PublishLine(line("api", fmt.Sprintf("line-%d", i)))
	}

	sub := b.Subscribe(SubscribeOptions{Resource: "api", Replay: true})
	defer sub.Close()

	got := collect(sub, 100)
	require.Len(t, got, 100)
	for i, m := range got {
		assert.Equal(t, fmt.Sprintf("line-%d", i), m.Line.Content)
	}
}

func TestHistoryRingIsBounded(t *testing.T) {
	b := NewBroker(10)
	defer b.Close()

	for i := 0; i < 25; i++ {
		b.PublishLine(line("api", fmt.Sprintf("line-%d", i)))
	}

	tail := b.Tail("api", 0)
	require.Len(t, tail, 10)
	assert.Equal(t, "line-15", tail[0].Content)
	assert.Equal(t, "line-24", tail[9].Content)

	assert.Len(t, b.Tail("api", 3), 3)
	assert.Empty(t, b.Tail("ghost", 5))
}

func TestPerResourceCausalOrder(t *testing.T) {
	b := NewBroker(0)
	defer b.Close()

	sub := b.Subscribe(SubscribeOptions{Resource: "db"})
	defer sub.Close()

	b.PublishLine(line("db", "starting up"))
	b.PublishEvent(event("db", model.StateRunning))
	b.PublishLine(line("db", "ready to accept connections"))
	b.PublishEvent(event("db", model.StateHealthy))

	got := collect(sub, 4)
	require.Len(t, got, 4)
	assert.Equal(t, "starting up", got[0].Line.Content)
	assert.Equal(t, model.StateRunning, got[1].Event.NewState)
	assert.Equal(t, "ready to accept connections", got[2].Line.Content)
	assert.Equal(t, model.StateHealthy, got[3].Event.NewState)
}

func TestFilters(t *testing.T) {
	b := NewBroker(0)
	defer b.Close()

	lines := b.Subscribe(SubscribeOptions{Filter: FilterLines})
	events := b.Subscribe(SubscribeOptions{Filter: FilterEvents})
	defer lines.Close()
	defer events.Close()

	b.PublishLine(line("api", "hello"))
	b.PublishEvent(event("api", model.StateRunning))

	gotLines := collect(lines, 1)
	require.Len(t, gotLines, 1)
	assert.NotNil(t, gotLines[0].Line)

	gotEvents := collect(events, 1)
	require.Len(t, gotEvents, 1)
	assert.NotNil(t, gotEvents[0].Event)
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	b := NewBroker(0)
	defer b.Close()

	slow := b.Subscribe(SubscribeOptions{Resource: "api", Buffer: 4})
	fast := b.Subscribe(SubscribeOptions{Resource: "api", Buffer: 64})
	defer slow.Close()
	defer fast.Close()

	// Nobody reads from slow; publishing must not block and the fast
	// subscriber must still see everything.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			b.PublishLine(line("api", fmt.Sprintf("line-%d", i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	assert.Len(t, collect(fast, 20), 20)
	assert.Equal(t, uint64(16), slow.Dropped())
	assert.Equal(t, uint64(16), b.TotalDropped())
}

func TestSubscriberIsolation(t *testing.T) {
	b := NewBroker(0)
	defer b.Close()

	api := b.Subscribe(SubscribeOptions{Resource: "api"})
	all := b.Subscribe(SubscribeOptions{})
	defer api.Close()
	defer all.Close()

	b.PublishLine(line("api", "from api"))
	b.PublishLine(line("db", "from db"))

	gotAPI := collect(api, 1)
	require.Len(t, gotAPI, 1)
	assert.Equal(t, "from api", gotAPI[0].Line.Content)
	select {
	case m := <-api.C():
		t.Fatalf("api subscriber saw foreign message: %+v", m)
	default:
	}

	assert.Len(t, collect(all, 2), 2)
}

func TestCloseReleasesSubscriber(t *testing.T) {
	b := NewBroker(0)
	defer b.Close()

	sub := b.Subscribe(SubscribeOptions{})
	assert.Equal(t, 1, b.SubscriberCount())

	sub.Close()
	sub.Close() // idempotent
	assert.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub.C()
	assert.False(t, ok, "channel must be closed after unsubscription")

	// Publishing after detach must not panic or deliver.
	b.PublishLine(line("api", "after close"))
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker(0)
	sub := b.Subscribe(SubscribeOptions{})

	b.Close()
	_, ok := <-sub.C()
	assert.False(t, ok)

	// Idempotent, and publishes become no-ops.
	b.Close()
	b.PublishLine(line("api", "ignored"))
	assert.Equal(t, uint64(0), b.Published())

	late := b.Subscribe(SubscribeOptions{})
	_, ok = <-late.C()
	assert.False(t, ok)
}
