// Package eventbus is the debug introspection pub/sub surface cmd/hdactl's
// optional HTTP/websocket console publishes controller and device
// lifecycle events through.
//
// The topic-trie matching, retained-message replay, and drop-oldest
// delivery discipline are adapted from this codebase's bus package: a
// late-subscribing debug client still wants the last known state of every
// device, not just events published after it connects, so Publish retains
// state-change topics the same way the original bus retains config/status
// topics.
package eventbus

import (
	"sync"
	"sync/atomic"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Topic is a slice of comparable tokens, matched segment-by-segment
// against subscription patterns that may use the wildcards below.
type Topic []string

const (
	// SingleWildcard matches exactly one topic segment.
	SingleWildcard = "+"
	// MultiWildcard matches the remainder of a topic, including zero
	// segments.
	MultiWildcard = "#"
)

// Event is one published notification: a device state change, a codec
// discovery result, or a controller bring-up milestone.
type Event struct {
	Topic    Topic
	Payload  any
	Retained bool
	ID       uint32
}

type node struct {
	children map[string]*node
	subs     []*Subscription
	retained *Event
}

func ensureChild(n *node, tok string) *node {
	if n.children == nil {
		n.children = make(map[string]*node)
	}
	if n.children[tok] == nil {
		n.children[tok] = &node{}
	}
	return n.children[tok]
}

// Subscription is a live topic-pattern subscription; Channel delivers
// matching events until Unsubscribe is called.
type Subscription struct {
	pattern Topic
	ch      chan *Event
	bus     *Bus
}

func (s *Subscription) Channel() <-chan *Event { return s.ch }
func (s *Subscription) Unsubscribe()           { s.bus.unsubscribe(s.pattern, s) }

// Bus is a single process-wide debug event bus.
type Bus struct {
	mu    sync.Mutex
	root  *node
	qLen  int
	idCtr atomic.Uint32
}

// New constructs a Bus whose per-subscription channel buffers depth
// events before the oldest is dropped in favor of the newest.
func New(depth int) *Bus {
	if depth <= 0 {
		depth = 8
	}
	return &Bus{root: &node{}, qLen: depth}
}

// NewEvent allocates an Event with a fresh monotonic ID.
func (b *Bus) NewEvent(topic Topic, payload any, retained bool) *Event {
	return &Event{Topic: topic, Payload: payload, Retained: retained, ID: b.idCtr.Add(1)}
}

// Subscribe registers pattern and immediately replays any retained events
// matching it.
func (b *Bus) Subscribe(pattern Topic) *Subscription {
	sub := &Subscription{pattern: pattern, ch: make(chan *Event, b.qLen), bus: b}

	b.mu.Lock()
	n := b.root
	for _, t := range pattern {
		n = ensureChild(n, t)
	}
	n.subs = append(n.subs, sub)
	var retained []*Event
	b.collectRetainedLocked(b.root, pattern, 0, &retained)
	b.mu.Unlock()

	for _, ev := range retained {
		deliver(sub.ch, ev)
	}
	return sub
}

// Publish fans ev out to every matching subscriber, retaining it (replacing
// any previously retained event at the same topic) when ev.Retained is
// set. Publish never blocks: a full subscriber channel drops its oldest
// queued event to make room.
func (b *Bus) Publish(ev *Event) {
	b.mu.Lock()
	var subs []*Subscription
	b.collectSubscribersLocked(b.root, ev.Topic, 0, &subs)
	if ev.Retained {
		n := b.root
		for _, t := range ev.Topic {
			n = ensureChild(n, t)
		}
		n.retained = ev
	}
	b.mu.Unlock()

	for _, sub := range subs {
		deliver(sub.ch, ev)
	}
}

func deliver(ch chan *Event, ev *Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

func (b *Bus) unsubscribe(pattern Topic, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	var stack []*node
	for _, t := range pattern {
		if n.children == nil {
			return
		}
		child := n.children[t]
		if child == nil {
			return
		}
		stack = append(stack, n)
		n = child
	}
	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}
	for i := len(stack) - 1; i >= 0; i-- {
		parent := stack[i]
		key := pattern[i]
		child := parent.children[key]
		if child != nil && len(child.subs) == 0 && len(child.children) == 0 && child.retained == nil {
			delete(parent.children, key)
		} else {
			break
		}
	}
}

// RootTopics returns the first-level topic tokens currently known to the
// bus (anything with a live subscriber or a retained event beneath it),
// sorted for stable debug-console output.
func (b *Bus) RootTopics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	toks := maps.Keys(b.root.children)
	slices.Sort(toks)
	return toks
}

func (b *Bus) collectSubscribersLocked(n *node, topic Topic, depth int, out *[]*Subscription) {
	if n == nil {
		return
	}
	if depth == len(topic) {
		*out = append(*out, n.subs...)
		if n.children != nil {
			if mw := n.children[MultiWildcard]; mw != nil {
				*out = append(*out, mw.subs...)
			}
		}
		return
	}
	tok := topic[depth]
	if n.children == nil {
		return
	}
	if child := n.children[tok]; child != nil {
		b.collectSubscribersLocked(child, topic, depth+1, out)
	}
	if sw := n.children[SingleWildcard]; sw != nil {
		b.collectSubscribersLocked(sw, topic, depth+1, out)
	}
	if mw := n.children[MultiWildcard]; mw != nil {
		*out = append(*out, mw.subs...)
	}
}

func (b *Bus) collectRetainedLocked(n *node, pattern Topic, depth int, out *[]*Event) {
	if n == nil {
		return
	}
	if depth == len(pattern) {
		if n.retained != nil {
			*out = append(*out, n.retained)
		}
		return
	}
	switch pattern[depth] {
	case MultiWildcard:
		b.collectAllRetainedLocked(n, out)
	case SingleWildcard:
		for _, child := range n.children {
			b.collectRetainedLocked(child, pattern, depth+1, out)
		}
	default:
		if child := n.children[pattern[depth]]; child != nil {
			b.collectRetainedLocked(child, pattern, depth+1, out)
		}
	}
}

func (b *Bus) collectAllRetainedLocked(n *node, out *[]*Event) {
	if n == nil {
		return
	}
	if n.retained != nil {
		*out = append(*out, n.retained)
	}
	for _, child := range n.children {
		b.collectAllRetainedLocked(child, out)
	}
}
