package relay

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Role is the part a client plays in a channel.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// ParseRole maps a wire role to a Role. Anything other than "teacher",
// including the empty string, is a student.
func ParseRole(s string) Role {
	if Role(s) == RoleTeacher {
		return RoleTeacher
	}
	return RoleStudent
}

// ClientRecord is a presence entry for one client in one channel.
type ClientRecord struct {
	ID       string `json:"id"`
	Role     Role   `json:"role"`
	JoinedAt int64  `json:"joined_at"`
}

type members = xsync.MapOf[string, ClientRecord]

// Presence tracks which clients have joined each channel.
type Presence struct {
	channels *xsync.MapOf[string, *members]
}

// NewPresence creates an empty presence table.
func NewPresence() *Presence {
	return &Presence{
		channels: xsync.NewMapOf[string, *members](),
	}
}

// RecordJoin stores rec under channel, replacing any earlier record with the
// same client id.
func (p *Presence) RecordJoin(channel string, rec ClientRecord) {
	m, _ := p.channels.LoadOrCompute(channel, func() *members {
		return xsync.NewMapOf[string, ClientRecord]()
	})
	m.Store(rec.ID, rec)
}

// Remove deletes the record for clientID from channel and returns it.
func (p *Presence) Remove(channel, clientID string) (ClientRecord, bool) {
	m, ok := p.channels.Load(channel)
	if !ok {
		return ClientRecord{}, false
	}
	return m.LoadAndDelete(clientID)
}

// Snapshot returns a copy of the records for channel ordered by join time,
// then id. An unknown channel yields an empty slice.
func (p *Presence) Snapshot(channel string) []ClientRecord {
	m, ok := p.channels.Load(channel)
	if !ok {
		return []ClientRecord{}
	}

	out := make([]ClientRecord, 0, m.Size())
	m.Range(func(_ string, rec ClientRecord) bool {
		out = append(out, rec)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}
