package broker

import (
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublishFanOut(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var got []string

	b.Subscribe("a", "agent.*", func(ev Event) {
		mu.Lock()
		got = append(got, "a:"+ev.Topic)
		mu.Unlock()
	})
	b.Subscribe("b", "agent.started", func(ev Event) {
		mu.Lock()
		got = append(got, "b:"+ev.Topic)
		mu.Unlock()
	})
	b.Subscribe("c", "workflow.*", func(ev Event) {
		mu.Lock()
		got = append(got, "c:"+ev.Topic)
		mu.Unlock()
	})

	b.Publish("agent.started", nil, "test")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	for _, g := range got {
		if g == "c:agent.started" {
			t.Errorf("workflow.* subscriber received agent topic")
		}
	}
}

func TestOrderPreservedPerSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var got []int

	b.Subscribe("ordered", "tick", func(ev Event) {
		mu.Lock()
		got = append(got, ev.Payload.(int))
		mu.Unlock()
	})

	for i := 0; i < 50; i++ {
		b.Publish("tick", i, "test")
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 50
	})

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order at %d: got %d", i, v)
		}
	}
}

func TestPanickingSubscriberIsolated(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	count := 0

	b.Subscribe("bad", "*", func(Event) { panic("boom") })
	b.Subscribe("good", "*", func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	b.Publish("x", nil, "")
	b.Publish("y", nil, "")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	})
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	count := 0

	b.Subscribe("s", "*", func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	b.Publish("a", nil, "")
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	b.Unsubscribe("s")
	b.Publish("b", nil, "")
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("received event after unsubscribe, count=%d", count)
	}
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern, topic string
		want           bool
	}{
		{"agent.*", "agent.started", true},
		{"agent.*", "agent", false},
		{"agent.started", "agent.started", true},
		{"*", "anything", true},
		{"workflow.*", "agent.started", false},
		{"agent.*.done", "agent.run.done", true},
	}
	for _, tt := range tests {
		if got := matchTopic(tt.pattern, tt.topic); got != tt.want {
			t.Errorf("matchTopic(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
		}
	}
}
