package relay

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{in: "teacher", want: RoleTeacher},
		{in: "student", want: RoleStudent},
		{in: "", want: RoleStudent},
		{in: "Teacher", want: RoleStudent},
		{in: "admin", want: RoleStudent},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRole(tt.in))
		})
	}
}

func TestPresence_SequentialJoins(t *testing.T) {
	const n = 5
	p := NewPresence()

	for i := 0; i < n; i++ {
		p.RecordJoin("lecture1", ClientRecord{
			ID:       fmt.Sprintf("client-%d", i),
			Role:     ParseRole(""),
			JoinedAt: int64(100 + i),
		})
	}

	snap := p.Snapshot("lecture1")
	require.Len(t, snap, n)
	for i, rec := range snap {
		assert.Equal(t, fmt.Sprintf("client-%d", i), rec.ID)
		assert.Equal(t, RoleStudent, rec.Role)
	}
}

func TestPresence_RecordJoinOverwrites(t *testing.T) {
	p := NewPresence()
	p.RecordJoin("c", ClientRecord{ID: "a", Role: RoleStudent, JoinedAt: 1})
	p.RecordJoin("c", ClientRecord{ID: "a", Role: RoleTeacher, JoinedAt: 2})

	snap := p.Snapshot("c")
	require.Len(t, snap, 1)
	assert.Equal(t, RoleTeacher, snap[0].Role)
	assert.Equal(t, int64(2), snap[0].JoinedAt)
}

func TestPresence_SnapshotIsACopy(t *testing.T) {
	p := NewPresence()
	p.RecordJoin("c", ClientRecord{ID: "a", Role: RoleStudent, JoinedAt: 1})

	snap := p.Snapshot("c")
	snap[0].Role = RoleTeacher

	assert.Equal(t, RoleStudent, p.Snapshot("c")[0].Role)
}

func TestPresence_MissingChannel(t *testing.T) {
	p := NewPresence()

	snap := p.Snapshot("nobody-here")
	assert.NotNil(t, snap)
	assert.Empty(t, snap)

	_, ok := p.Remove("nobody-here", "a")
	assert.False(t, ok)
}

func TestPresence_Remove(t *testing.T) {
	p := NewPresence()
	p.RecordJoin("c", ClientRecord{ID: "a", Role: RoleTeacher, JoinedAt: 1})
	p.RecordJoin("c", ClientRecord{ID: "b", Role: RoleStudent, JoinedAt: 2})

	rec, ok := p.Remove("c", "a")
	require.True(t, ok)
	assert.Equal(t, RoleTeacher, rec.Role)

	snap := p.Snapshot("c")
	require.Len(t, snap, 1)
	assert.Equal(t, "b", snap[0].ID)

	_, ok = p.Remove("c", "a")
	assert.False(t, ok)
}

func TestPresence_ConcurrentJoins(t *testing.T) {
	const workers = 32
	p := NewPresence()

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			p.RecordJoin("c", ClientRecord{ID: fmt.Sprintf("client-%02d", i), Role: RoleStudent})
			_ = p.Snapshot("c")
		}(i)
	}
	wg.Wait()

	assert.Len(t, p.Snapshot("c"), workers)
}
