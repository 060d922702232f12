package bus

import (
	"sort"
	"testing"
	"time"
)

func TestBasicPubSub(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")
	sub := conn.Subscribe(T("telemetry", "rtc"))

	conn.Publish(b.NewMessage(T("telemetry", "rtc"), "hello", false))
	expectOneOf(t, sub, "hello")

	conn.Publish(b.NewMessage(T("telemetry", "env"), "other", false))
	expectNoMessage(t, sub)
}

func TestRetainedMessage(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")
	conn.Publish(b.NewMessage(T("config", "board"), "persist", true))

	sub := conn.Subscribe(T("config", "board"))
	expectOneOf(t, sub, "persist")

	conn.Publish(b.NewMessage(T("config", "board"), "newer", true))
	expectOneOf(t, sub, "newer")
	late := conn.Subscribe(T("config", "board"))
	expectOneOf(t, late, "newer")
}

func TestWildcard_SingleLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	s1 := c.Subscribe(T("a", "+", "c"))
	s2 := c.Subscribe(T("a", "+", "+"))
	s3 := c.Subscribe(T("a", "b", "+"))
	sNo := c.Subscribe(T("a", "+", "d"))

	c.Publish(b.NewMessage(T("a", "b", "c"), "m1", false))
	expectOneOf(t, s1, "m1")
	expectOneOf(t, s2, "m1")
	expectOneOf(t, s3, "m1")
	expectNoMessage(t, sNo)

	c.Publish(b.NewMessage(T("a", "x", "y"), "m2", false))
	expectOneOf(t, s2, "m2")
	expectNoMessage(t, s1)
	expectNoMessage(t, s3)

	c.Publish(b.NewMessage(T("a", "c"), "m3", false))
	expectNoMessage(t, s1)
	expectNoMessage(t, s2)
}

func TestWildcard_MultiLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	sAHash := c.Subscribe(T("a", "#"))
	sHash := c.Subscribe(T("#"))
	sABHash := c.Subscribe(T("a", "b", "#"))
	sAExact := c.Subscribe(T("a"))

	c.Publish(b.NewMessage(T("a"), "p1", false))
	expectOneOf(t, sAHash, "p1")
	expectOneOf(t, sHash, "p1")
	expectOneOf(t, sAExact, "p1")
	expectNoMessage(t, sABHash)

	c.Publish(b.NewMessage(T("a", "b", "c"), "p3", false))
	expectOneOf(t, sAHash, "p3")
	expectOneOf(t, sHash, "p3")
	expectOneOf(t, sABHash, "p3")
	expectNoMessage(t, sAExact)
}

func TestWildcard_RetainedDelivery(t *testing.T) {
	b := NewBus(32)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(T("a"), "r0", true))
	c.Publish(b.NewMessage(T("a", "b"), "r1", true))
	c.Publish(b.NewMessage(T("a", "b", "c"), "r2", true))
	c.Publish(b.NewMessage(T("a", "x"), "r3", true))

	assertUnorderedEqual(t, drainPayloads(t, c.Subscribe(T("a", "#")), 4), []string{"r0", "r1", "r2", "r3"})
	assertUnorderedEqual(t, drainPayloads(t, c.Subscribe(T("a", "+", "#")), 3), []string{"r1", "r2", "r3"})
	assertUnorderedEqual(t, drainPayloads(t, c.Subscribe(T("a", "+")), 2), []string{"r1", "r3"})
}

func TestWildcard_RetainedClear(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(T("a", "b"), "keep", true))
	c.Publish(b.NewMessage(T("a", "y"), "other", true))
	c.Publish(b.NewMessage(T("a", "b"), nil, true))

	got := drainPayloads(t, c.Subscribe(T("a", "#")), 1)
	if got[0] != "other" {
		t.Fatalf("expected only 'other' after clear, got %v", got)
	}
	if _, ok := b.retained.children["a"].children["b"]; ok {
		t.Fatal("cleared node not pruned")
	}
}

func TestFullQueueDropsOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	sub := c.Subscribe(T("q"))
	for _, p := range []string{"1", "2", "3"} {
		c.Publish(b.NewMessage(T("q"), p, false))
	}
	assertUnorderedEqual(t, drainPayloads(t, sub, 2), []string{"2", "3"})
}

func TestUnsubscribeAndDisconnect(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("svc")
	s1 := c.Subscribe(T("x", "+"))
	s2 := c.Subscribe(T("y"))

	s1.Unsubscribe()
	s1.Unsubscribe()
	if _, open := <-s1.Channel(); open {
		t.Fatal("channel still open after Unsubscribe")
	}
	if len(b.subs.children) != 1 {
		t.Fatalf("pattern trie not pruned: %v", b.subs.children)
	}

	c.Disconnect()
	if _, open := <-s2.Channel(); open {
		t.Fatal("channel still open after Disconnect")
	}
	c.Publish(b.NewMessage(T("y"), "late", false))
	if len(b.subs.children) != 0 {
		t.Fatalf("subscriptions survived Disconnect: %v", b.subs.children)
	}
}

func TestTopicMatchAndString(t *testing.T) {
	cases := []struct {
		topic, pattern Topic
		want           bool
	}{
		{T("a", "b"), T("a", "b"), true},
		{T("a", "b"), T("a", "+"), true},
		{T("a"), T("a", "#"), true},
		{T("a"), T("a", "+"), false},
		{T("a", "b", "c"), T("#"), true},
		{T("a", "b"), T("a"), false},
	}
	for _, c := range cases {
		if got := c.topic.Match(c.pattern); got != c.want {
			t.Errorf("%v.Match(%v) = %v, want %v", c.topic, c.pattern, got, c.want)
		}
	}
	if s := T("telemetry", "rtc").String(); s != "telemetry/rtc" {
		t.Errorf("String() = %q", s)
	}
}

func expectOneOf(t *testing.T, sub *Subscription, want string) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		s, ok := got.Payload.(string)
		if !ok || s != want {
			t.Fatalf("unexpected payload: %v (want %q)", got.Payload, want)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for %q", want)
	}
}

func expectNoMessage(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		t.Fatalf("unexpected message: %#v", got)
	case <-time.After(20 * time.Millisecond):
	}
}

func drainPayloads(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	var out []string
	deadline := time.Now().Add(300 * time.Millisecond)
	for len(out) < n && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			s, ok := m.Payload.(string)
			if !ok {
				t.Fatalf("non-string payload in drain: %#v", m.Payload)
			}
			out = append(out, s)
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(out) != n {
		t.Fatalf("drainPayloads: expected %d messages, got %d (%v)", n, len(out), out)
	}
	return out
}

func assertUnorderedEqual(t *testing.T, got, want []string) {
	t.Helper()
	sort.Strings(got)
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("mismatch at %d: got %v, want %v", i, got, want)
		}
	}
}
