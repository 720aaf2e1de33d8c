package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

// ErrRelayClosed is returned by Serve once Shutdown has been called.
var ErrRelayClosed = errors.New("relay closed")

// Options tunes a Relay. Zero values fall back to the defaults below.
type Options struct {
	// MaxMessageSize caps inbound frame size in bytes.
	MaxMessageSize int64
	// SendBufferSize is the capacity of each session's outgoing queue.
	SendBufferSize int

	// RateBurst frames may be read per RateRefillInterval. Zero disables
	// rate limiting.
	RateBurst          int
	RateRefillInterval time.Duration

	// KeepStalePresence leaves presence entries in place when a session
	// ends instead of removing them and announcing user_left.
	KeepStalePresence bool

	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

const (
	defaultMaxMessageSize = 64 * 1024
	defaultSendBufferSize = 256
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
)

func (o Options) withDefaults() Options {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = defaultSendBufferSize
	}
	if o.RateRefillInterval <= 0 {
		o.RateRefillInterval = time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

// Relay runs sessions against a shared topic registry and presence table.
type Relay struct {
	topics   *Registry
	presence *Presence
	opts     Options
	log      zerolog.Logger

	sessions *xsync.MapOf[string, *Session]

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a relay over topics and presence.
func New(topics *Registry, presence *Presence, opts Options, logger zerolog.Logger) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		topics:   topics,
		presence: presence,
		opts:     opts.withDefaults(),
		log:      logger.With().Str("component", "relay").Logger(),
		sessions: xsync.NewMapOf[string, *Session](),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Topics returns the relay's topic registry.
func (r *Relay) Topics() *Registry {
	return r.topics
}

// Presence returns the relay's presence table.
func (r *Relay) Presence() *Presence {
	return r.presence
}

// Sessions returns the number of live sessions.
func (r *Relay) Sessions() int {
	return r.sessions.Size()
}

// Serve runs a session over conn, which must already be upgraded, and
// blocks until the session has ended and been cleaned up. The connection
// is closed when Serve returns.
func (r *Relay) Serve(conn Conn, remoteAddr string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close()
		return ErrRelayClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	s := newSession(r.ctx, r, conn, r.opts.NewID(), remoteAddr)
	r.sessions.Store(s.id, s)
	s.log.Info().Int("sessions", r.sessions.Size()).Msg("client connected")

	err := s.run()
	r.release(s)

	s.log.Info().Err(err).Int("sessions", r.sessions.Size()).Msg("client disconnected")
	return err
}

func (r *Relay) dispatch(s *Session, in Inbound) {
	switch in.Action {
	case ActionSubscribe:
		r.subscribe(s, in)
	case ActionPublish:
		r.publish(s, in, EventMessage)
	case ActionSlideChange:
		r.publish(s, in, EventSlideChange)
	default:
		s.log.Info().Str("action", string(in.Action)).Str("channel", in.Channel).Msg("unknown action")
	}
}

func (r *Relay) subscribe(s *Session, in Inbound) {
	topic := r.topics.GetOrCreate(in.Channel)

	m, ok := s.joined[in.Channel]
	if !ok {
		m = &membership{sub: topic.Subscribe()}
		s.joined[in.Channel] = m
		sub := m.sub
		s.spawn(func() error {
			r.forward(s, in.Channel, sub)
			return nil
		})
	}

	m.record = ClientRecord{
		ID:       s.id,
		Role:     ParseRole(in.Role),
		JoinedAt: r.opts.Now().Unix(),
	}
	r.presence.RecordJoin(in.Channel, m.record)
	r.announce(topic, EventUserJoined, m.record)

	s.log.Info().Str("channel", in.Channel).Str("role", string(m.record.Role)).Msg("subscribed")
}

func (r *Relay) publish(s *Session, in Inbound, typ EventType) {
	topic := r.topics.GetOrCreate(in.Channel)

	payload, err := EncodeEvent(typ, in.Channel, in.Data, r.opts.Now())
	if err != nil {
		s.log.Error().Err(err).Str("channel", in.Channel).Msg("dropping event")
		return
	}

	n := topic.Broadcast(payload)
	s.log.Debug().Str("channel", in.Channel).Str("type", string(typ)).Int("receivers", n).Msg("broadcast")
}

func (r *Relay) announce(topic *Topic, typ EventType, rec ClientRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		r.log.Error().Err(err).Msg("encode client record")
		return
	}
	payload, err := EncodeEvent(typ, topic.Name(), data, r.opts.Now())
	if err != nil {
		r.log.Error().Err(err).Msg("encode presence event")
		return
	}
	topic.Broadcast(payload)
}

// forward moves messages from sub onto the session's outgoing queue until
// the session closes.
func (r *Relay) forward(s *Session, channel string, sub *Subscription) {
	defer sub.Close()

	var reported uint64
	for {
		select {
		case <-s.ctx.Done():
			return
		case payload, ok := <-sub.C():
			if !ok {
				return
			}
			if dropped := sub.Dropped(); dropped > reported {
				s.log.Warn().Str("channel", channel).Uint64("missed", dropped-reported).Msg("subscriber lagging")
				reported = dropped
			}
			if !s.enqueue(payload) {
				return
			}
		}
	}
}

// release drops the session from the relay once all of its goroutines have
// returned and, unless configured otherwise, withdraws its presence.
func (r *Relay) release(s *Session) {
	r.sessions.Delete(s.id)

	if r.opts.KeepStalePresence {
		return
	}

	for channel := range s.joined {
		rec, ok := r.presence.Remove(channel, s.id)
		if !ok {
			continue
		}
		if topic, ok := r.topics.Lookup(channel); ok {
			r.announce(topic, EventUserLeft, rec)
		}
	}
}

// Shutdown stops accepting sessions, closes every live one, and waits up to
// timeout for them to finish.
func (r *Relay) Shutdown(timeout time.Duration) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.log.Info().Int("sessions", r.sessions.Size()).Msg("shutting down relay")
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info().Msg("relay shutdown completed")
		return nil
	case <-time.After(timeout):
		r.log.Warn().Msg("relay shutdown timed out; some sessions may still be running")
		return context.DeadlineExceeded
	}
}
