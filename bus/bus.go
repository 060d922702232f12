// Package bus is a small in-process publish/subscribe bus with MQTT-style
// topics. Subscriptions may use "+" for one level and a trailing "#" for
// any remainder. Retained messages are replayed to later subscribers.
package bus

import (
	"sync"
)

const (
	AnyOne  = "+"
	AnyRest = "#"
)

// Topic is a path of levels.
type Topic []string

// T builds a topic from levels.
func T(levels ...string) Topic { return Topic(levels) }

func (t Topic) String() string {
	n := 0
	for _, l := range t {
		n += len(l) + 1
	}
	b := make([]byte, 0, n)
	for i, l := range t {
		if i > 0 {
			b = append(b, '/')
		}
		b = append(b, l...)
	}
	return string(b)
}

// Match reports whether the concrete topic t is selected by pattern.
func (t Topic) Match(pattern Topic) bool {
	for i, p := range pattern {
		if p == AnyRest {
			return true
		}
		if i >= len(t) {
			return false
		}
		if p != AnyOne && p != t[i] {
			return false
		}
	}
	return len(t) == len(pattern)
}

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
}

type Subscription struct {
	topic Topic
	ch    chan *Message
	conn  *Connection
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

type node struct {
	children map[string]*node
	subs     []*Subscription
	retained *Message
}

func (n *node) child(level string, create bool) *node {
	c := n.children[level]
	if c == nil && create {
		if n.children == nil {
			n.children = make(map[string]*node)
		}
		c = &node{}
		n.children[level] = c
	}
	return c
}

func (n *node) empty() bool {
	return len(n.subs) == 0 && len(n.children) == 0 && n.retained == nil
}

// Bus holds one trie for subscription patterns and one for retained
// messages. Each subscriber owns a bounded queue; when it is full the
// oldest message is dropped.
type Bus struct {
	mu       sync.Mutex
	subs     *node
	retained *node
	qLen     int
}

func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8
	}
	return &Bus{subs: &node{}, retained: &node{}, qLen: queueLen}
}

func (b *Bus) NewMessage(t Topic, payload any, retained bool) *Message {
	return &Message{Topic: t, Payload: payload, Retained: retained}
}

func deliver(sub *Subscription, msg *Message) {
	for {
		select {
		case sub.ch <- msg:
			return
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
	}
}

// Publish delivers msg to every matching subscription. A retained message
// with a nil payload clears the retained value for its topic.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if msg.Retained {
		b.retain(msg)
	}
	b.walkSubs(b.subs, msg.Topic, func(s *Subscription) { deliver(s, msg) })
}

func (b *Bus) retain(msg *Message) {
	n := b.retained
	path := []*node{n}
	for _, l := range msg.Topic {
		n = n.child(l, msg.Payload != nil)
		if n == nil {
			return
		}
		path = append(path, n)
	}
	if msg.Payload != nil {
		n.retained = msg
		return
	}
	n.retained = nil
	for i := len(msg.Topic) - 1; i >= 0 && path[i+1].empty(); i-- {
		delete(path[i].children, msg.Topic[i])
	}
}

// walkSubs visits the subscriptions whose pattern matches topic.
func (b *Bus) walkSubs(n *node, topic Topic, fn func(*Subscription)) {
	if c := n.children[AnyRest]; c != nil {
		for _, s := range c.subs {
			fn(s)
		}
	}
	if len(topic) == 0 {
		for _, s := range n.subs {
			fn(s)
		}
		return
	}
	if c := n.children[topic[0]]; c != nil {
		b.walkSubs(c, topic[1:], fn)
	}
	if topic[0] != AnyOne {
		if c := n.children[AnyOne]; c != nil {
			b.walkSubs(c, topic[1:], fn)
		}
	}
}

// walkRetained visits retained messages whose topic matches pattern.
func walkRetained(n *node, pattern Topic, fn func(*Message)) {
	if len(pattern) == 0 {
		if n.retained != nil {
			fn(n.retained)
		}
		return
	}
	switch pattern[0] {
	case AnyRest:
		var all func(*node)
		all = func(n *node) {
			if n.retained != nil {
				fn(n.retained)
			}
			for _, c := range n.children {
				all(c)
			}
		}
		all(n)
	case AnyOne:
		for _, c := range n.children {
			walkRetained(c, pattern[1:], fn)
		}
	default:
		if c := n.children[pattern[0]]; c != nil {
			walkRetained(c, pattern[1:], fn)
		}
	}
}

func (b *Bus) subscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.subs
	for _, l := range sub.topic {
		n = n.child(l, true)
	}
	n.subs = append(n.subs, sub)
	walkRetained(b.retained, sub.topic, func(m *Message) { deliver(sub, m) })
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.subs
	path := []*node{n}
	for _, l := range sub.topic {
		n = n.child(l, false)
		if n == nil {
			return
		}
		path = append(path, n)
	}
	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}
	for i := len(sub.topic) - 1; i >= 0 && path[i+1].empty(); i-- {
		delete(path[i].children, sub.topic[i])
	}
}

// Connection groups the subscriptions of one service so they can be
// dropped together.
type Connection struct {
	bus *Bus
	id  string

	mu   sync.Mutex
	subs []*Subscription
}

func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

func (c *Connection) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{topic: topic, ch: make(chan *Message, c.bus.qLen), conn: c}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	c.bus.subscribe(sub)
	return sub
}

// Unsubscribe removes sub and closes its channel. Calling it twice is a
// no-op.
func (c *Connection) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	found := false
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return
	}
	c.bus.unsubscribe(sub)
	close(sub.ch)
}

// Disconnect drops every subscription of the connection.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, s := range subs {
		c.bus.unsubscribe(s)
		close(s.ch)
	}
}
