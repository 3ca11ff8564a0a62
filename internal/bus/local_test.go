package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type collector struct {
	mu  sync.Mutex
	evs []Event
}

func (c *collector) handle(ev Event) {
	c.mu.Lock()
	c.evs = append(c.evs, ev)
	c.mu.Unlock()
}

func (c *collector) topics() []Topic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Topic, len(c.evs))
	for i, ev := range c.evs {
		out[i] = ev.Topic
	}
	return out
}

func waitLen(t *testing.T, c *collector, n int) []Topic {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.topics(); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %v", n, c.topics())
	return nil
}

func TestLocal_DeliversInOrderToAllSubscribers(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	var a, c collector
	b.Subscribe(a.handle)
	b.Subscribe(c.handle)

	ctx := context.Background()
	for _, topic := range []Topic{TopicLock, TopicPop, TopicUnlock} {
		if err := b.Publish(ctx, Event{Topic: topic, Origin: "x"}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	for _, col := range []*collector{&a, &c} {
		got := waitLen(t, col, 3)
		if got[0] != TopicLock || got[1] != TopicPop || got[2] != TopicUnlock {
			t.Errorf("order = %v", got)
		}
	}
}

func TestLocal_Unsubscribe(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	var a, c collector
	unsub := b.Subscribe(a.handle)
	b.Subscribe(c.handle)
	unsub()

	if err := b.Publish(context.Background(), Event{Topic: TopicPush, Payload: []byte{1}}); err != nil {
		t.Fatal(err)
	}
	waitLen(t, &c, 1)
	if got := a.topics(); len(got) != 0 {
		t.Errorf("unsubscribed handler received %v", got)
	}
}

func TestLocal_PublishAfterClose(t *testing.T) {
	b := NewLocal()
	b.Close()
	err := b.Publish(context.Background(), Event{Topic: TopicPop})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	// Safe no-ops after close.
	b.Subscribe(func(Event) {})()
	b.Close()
}
