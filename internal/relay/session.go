package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Conn is the duplex frame stream a session runs over. *websocket.Conn
// satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// membership is a session's stake in one channel.
type membership struct {
	sub    *Subscription
	record ClientRecord
}

// Session is the server side of one live connection.
//
// joined is owned by the read loop while the session is active and by
// teardown once every goroutine in group has returned.
type Session struct {
	id      string
	addr    string
	conn    Conn
	relay   *Relay
	send    chan []byte
	limiter *rate.Limiter
	log     zerolog.Logger

	joined map[string]*membership

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

func newSession(parent context.Context, r *Relay, conn Conn, id, addr string) *Session {
	ctx, cancel := context.WithCancel(parent)
	group, gctx := errgroup.WithContext(ctx)

	s := &Session{
		id:     id,
		addr:   addr,
		conn:   conn,
		relay:  r,
		send:   make(chan []byte, r.opts.SendBufferSize),
		log:    r.log.With().Str("client_id", id).Str("remote_addr", addr).Logger(),
		joined: make(map[string]*membership),
		ctx:    gctx,
		cancel: cancel,
		group:  group,
	}
	s.limiter = newLimiter(r.opts.RateBurst, r.opts.RateRefillInterval)
	return s
}

// newLimiter allows burst frames per interval. It returns nil when burst is
// not positive.
func newLimiter(burst int, interval time.Duration) *rate.Limiter {
	if burst <= 0 || interval <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(burst)/interval.Seconds()), burst)
}

// ID returns the client id assigned to the session.
func (s *Session) ID() string {
	return s.id
}

// run drives the session until either loop stops and returns the write
// loop's error, if any. Every goroutine started for the session has
// returned by the time run does.
func (s *Session) run() error {
	defer s.cancel()

	s.group.Go(s.readLoop)
	s.group.Go(s.writeLoop)
	return s.group.Wait()
}

// spawn starts fn as part of the session. It must only be called from the
// read loop.
func (s *Session) spawn(fn func() error) {
	s.group.Go(fn)
}

// enqueue places payload on the outgoing queue, waiting for room. It
// reports false once the session is closing.
func (s *Session) enqueue(payload []byte) bool {
	select {
	case s.send <- payload:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) setupReadConnection() {
	s.conn.SetReadLimit(s.relay.opts.MaxMessageSize)
	pongWait := s.relay.opts.PongWait
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.log.Debug().Err(err).Msg("set initial read deadline")
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			s.log.Debug().Err(err).Msg("set read deadline in pong handler")
		}
		return nil
	})
}

func (s *Session) readLoop() error {
	defer s.cancel()

	s.setupReadConnection()

	for {
		msgType, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return nil
		}

		if msgType != websocket.TextMessage {
			continue
		}

		if s.limiter != nil && !s.limiter.Allow() {
			s.log.Warn().Msg("rate limit exceeded; discarding frame")
			continue
		}

		in, err := DecodeInbound(raw)
		if err != nil {
			s.log.Debug().Err(err).Msg("dropping frame")
			continue
		}

		s.relay.dispatch(s, in)
	}
}

func (s *Session) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.log.Warn().Int64("limit", s.relay.opts.MaxMessageSize).Msg("frame exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		s.log.Debug().Err(err).Msg("client closed connection")
	case errors.Is(err, io.EOF), isExpectedCloseError(err), s.ctx.Err() != nil:
		s.log.Debug().Err(err).Msg("connection closed")
	default:
		s.log.Warn().Err(err).Msg("read error")
	}
}

func (s *Session) writeLoop() error {
	ticker := time.NewTicker(s.relay.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		s.closeConnection()
	}()

	for {
		select {
		case <-s.ctx.Done():
			s.writeCloseMessage()
			return nil

		case payload := <-s.send:
			if err := s.write(websocket.TextMessage, payload); err != nil {
				return fmt.Errorf("write event: %w", err)
			}

		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}

func (s *Session) write(messageType int, payload []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.relay.opts.WriteWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, payload)
}

func (s *Session) writeCloseMessage() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.write(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		s.log.Debug().Err(err).Msg("write close message")
	}
}

func (s *Session) closeConnection() {
	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.Debug().Err(err).Msg("close connection")
	}
}

// isExpectedCloseError reports errors that only mean the peer or the server
// already closed the connection.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
