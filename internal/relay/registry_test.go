package relay

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetOrCreateRace(t *testing.T) {
	const workers = 64

	reg := NewRegistry(0)
	start := make(chan struct{})
	results := make([]*Topic, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = reg.GetOrCreate("lecture1")
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 1; i < workers; i++ {
		require.Same(t, results[0], results[i], "worker %d got a different topic", i)
	}
	assert.Equal(t, 1, reg.Len())

	// A subscriber on the shared topic sees broadcasts made through any handle.
	sub := results[0].Subscribe()
	defer sub.Close()
	assert.Equal(t, 1, results[workers-1].Broadcast([]byte("x")))
}

func TestRegistry_GetOrCreateReturnsExisting(t *testing.T) {
	reg := NewRegistry(10)

	first := reg.GetOrCreate("a")
	second := reg.GetOrCreate("a")
	other := reg.GetOrCreate("A")

	assert.Same(t, first, second)
	assert.NotSame(t, first, other, "channel names are case-sensitive")
	assert.Equal(t, 10, first.capacity)
}

func TestRegistry_Lookup(t *testing.T) {
	reg := NewRegistry(0)

	_, ok := reg.Lookup("missing")
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Len(), "lookup must not create a topic")

	created := reg.GetOrCreate("present")
	found, ok := reg.Lookup("present")
	require.True(t, ok)
	assert.Same(t, created, found)
}

func TestRegistry_Channels(t *testing.T) {
	reg := NewRegistry(0)
	for _, name := range []string{"c", "a", "b"} {
		reg.GetOrCreate(name)
	}

	assert.Equal(t, []string{"a", "b", "c"}, reg.Channels())
}
