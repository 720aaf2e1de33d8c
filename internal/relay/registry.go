package relay

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Registry maps channel names to topics. Topics are created on first
// reference and are never removed.
type Registry struct {
	topics   *xsync.MapOf[string, *Topic]
	capacity int
}

// NewRegistry creates an empty registry whose topics keep capacity pending
// messages per subscriber. A non-positive capacity selects DefaultTopicCapacity.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultTopicCapacity
	}
	return &Registry{
		topics:   xsync.NewMapOf[string, *Topic](),
		capacity: capacity,
	}
}

// GetOrCreate returns the topic for channel, creating it if needed. Callers
// racing on the same name all receive the same topic.
func (r *Registry) GetOrCreate(channel string) *Topic {
	topic, _ := r.topics.LoadOrCompute(channel, func() *Topic {
		return newTopic(channel, r.capacity)
	})
	return topic
}

// Lookup returns the topic for channel without creating one.
func (r *Registry) Lookup(channel string) (*Topic, bool) {
	return r.topics.Load(channel)
}

// Len returns the number of known channels.
func (r *Registry) Len() int {
	return r.topics.Size()
}

// Channels returns the known channel names in lexical order.
func (r *Registry) Channels() []string {
	names := make([]string, 0, r.topics.Size())
	r.topics.Range(func(name string, _ *Topic) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}
