package relay

import (
	"sync"
	"sync/atomic"
)

// DefaultTopicCapacity is the number of undelivered messages a topic keeps
// for each subscriber before it starts dropping for that subscriber.
const DefaultTopicCapacity = 1000

// Topic fans a channel's messages out to every subscriber. Broadcast never
// blocks: a subscriber whose backlog is full misses the message and picks
// up again with the next one.
type Topic struct {
	name     string
	capacity int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
}

func newTopic(name string, capacity int) *Topic {
	if capacity <= 0 {
		capacity = DefaultTopicCapacity
	}
	return &Topic{
		name:     name,
		capacity: capacity,
		subs:     make(map[uint64]*Subscription),
	}
}

// Name returns the channel name the topic backs.
func (t *Topic) Name() string {
	return t.name
}

// Subscribe registers a new cursor on the topic. Messages broadcast after
// Subscribe returns are delivered to it.
func (t *Topic) Subscribe() *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub := &Subscription{
		topic: t,
		id:    t.nextID,
		ch:    make(chan []byte, t.capacity),
	}
	t.nextID++
	t.subs[sub.id] = sub
	return sub
}

// Broadcast offers payload to every current subscriber and returns how many
// accepted it.
func (t *Topic) Broadcast(payload []byte) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	delivered := 0
	for _, sub := range t.subs {
		select {
		case sub.ch <- payload:
			delivered++
		default:
			sub.dropped.Add(1)
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions.
func (t *Topic) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

func (t *Topic) remove(sub *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.subs[sub.id]; ok {
		delete(t.subs, sub.id)
		close(sub.ch)
	}
}

// Subscription is one subscriber's cursor on a Topic.
type Subscription struct {
	topic   *Topic
	id      uint64
	ch      chan []byte
	dropped atomic.Uint64
	once    sync.Once
}

// C returns the channel messages are delivered on. It is closed by Close.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Dropped reports how many messages this subscriber missed because its
// backlog was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription from its topic. It is safe to call more
// than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.topic.remove(s)
	})
}
