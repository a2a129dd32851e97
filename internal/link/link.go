// Package link maintains the relay's single outbound WebSocket connection
// to the chat server. The connection is recreated after any loss with a
// fixed short delay, forever; there is no backoff and no retry cap.
package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/echobot/chat-relay/internal/metrics"
	"github.com/echobot/chat-relay/internal/protocol"
)

// ErrNotConnected is returned by Send when no connection is active. The
// caller is expected to drop the outbound message; the next reconnect
// restores send capability but does not resend anything.
var ErrNotConnected = errors.New("link: not connected")

// errSuperseded terminates a read loop whose connection has been replaced.
var errSuperseded = errors.New("link: connection superseded")

// FrameHandler receives each inbound data frame. Liveness probes are
// answered inside the link and never reach the handler. Handlers run on the
// read loop goroutine and should hand long work off to their own goroutines.
type FrameHandler func(data []byte)

// Config holds link tuning parameters.
type Config struct {
	URL         string        // endpoint including the credential token
	RetryDelay  time.Duration // fixed wait between reconnect attempts
	DialTimeout time.Duration // per-attempt dial deadline
	StaleAfter  time.Duration // close the connection after this much silence; 0 disables
}

// DefaultConfig returns the link defaults. The 100ms retry delay matches the
// server's observed recovery time; reconnection is unconditional.
func DefaultConfig() Config {
	return Config{
		RetryDelay:  100 * time.Millisecond,
		DialTimeout: 10 * time.Second,
	}
}

// Link owns the single active connection. At most one session exists at a
// time; a reconnect replaces the session rather than mutating it, and each
// session carries a generation number so frames read by a superseded
// connection are detectably stale.
type Link struct {
	cfg     Config
	handler FrameHandler

	mu   sync.Mutex
	sess *session
	gen  uint64 // generation of the current session, 0 = never connected

	done      chan struct{}
	closeOnce sync.Once
}

// session is one established connection. Writes are serialized by writeMu so
// concurrent reply goroutines do not interleave frame bytes.
type session struct {
	conn     net.Conn
	gen      uint64
	writeMu  sync.Mutex
	lastRead atomic.Int64 // unix nanos of the last inbound frame
}

func (s *session) touch() {
	s.lastRead.Store(time.Now().UnixNano())
}

func (s *session) sinceLastRead() time.Duration {
	return time.Since(time.Unix(0, s.lastRead.Load()))
}

// New creates a Link that will deliver inbound frames to handler once Run is
// called.
func New(cfg Config, handler FrameHandler) *Link {
	return &Link{
		cfg:     cfg,
		handler: handler,
		done:    make(chan struct{}),
	}
}

// Run connects and serves the connection until ctx is cancelled or Close is
// called. Every connection loss is followed by a fixed-delay reconnect
// attempt; dial failures count as losses and are retried on the same cadence.
func (l *Link) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		default:
		}

		if err := l.connectAndServe(ctx); err != nil {
			log.Printf("[link] connection lost: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-time.After(l.cfg.RetryDelay):
		}
	}
}

// Close shuts the link down: the active connection is closed and Run
// returns. Safe to call multiple times.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.mu.Lock()
		s := l.sess
		l.mu.Unlock()
		if s != nil {
			s.conn.Close()
		}
	})
	return nil
}

// Connected reports whether a connection is currently active.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sess != nil
}

// Send marshals v to JSON and transmits it as a text frame on the active
// connection. Failures are reported to the caller and never retried here.
func (l *Link) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("link: marshal: %w", err)
	}

	l.mu.Lock()
	s := l.sess
	l.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(s.conn, ws.OpText, data); err != nil {
		return fmt.Errorf("link: write: %w", err)
	}
	return nil
}

// connectAndServe dials once, installs the new session, and reads frames
// until the connection fails or is superseded.
func (l *Link) connectAndServe(ctx context.Context) error {
	dialCtx := ctx
	if l.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, l.cfg.DialTimeout)
		defer cancel()
	}

	conn, _, _, err := ws.Dial(dialCtx, l.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s := &session{conn: conn}
	s.touch()

	l.mu.Lock()
	l.gen++
	s.gen = l.gen
	l.sess = s
	l.mu.Unlock()

	// Close the connection as soon as the link shuts down or ctx is
	// cancelled, so the read loop cannot stay blocked on a healthy socket.
	// This also covers Close firing while the dial was in flight.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-l.done:
			s.conn.Close()
		case <-watchDone:
		}
	}()

	metrics.ConnectionUp.Set(1)
	metrics.ConnectsTotal.Inc()
	log.Printf("[link] connected gen=%d", s.gen)

	if l.cfg.StaleAfter > 0 {
		go l.watchdog(s)
	}

	err = l.readLoop(ctx, s)
	close(watchDone)

	// Drop the session only if it is still the current one; a concurrent
	// reconnect may already have replaced it.
	l.mu.Lock()
	if l.sess == s {
		l.sess = nil
		metrics.ConnectionUp.Set(0)
	}
	l.mu.Unlock()

	s.conn.Close()
	return err
}

// readLoop reads data frames from one session and dispatches them. Control
// frames are handled by the wsutil reader; the server's application-level
// "1" probe is answered here with a pong and suppressed.
func (l *Link) readLoop(ctx context.Context, s *session) error {
	for {
		// Text and binary frames are both treated as UTF-8 payloads; the
		// server mixes the two for the same JSON content.
		data, _, err := wsutil.ReadServerData(s.conn)
		if err != nil {
			select {
			case <-l.done:
				return nil
			default:
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		s.touch()

		if l.currentGen() != s.gen {
			// A newer connection is live; nothing read here may be delivered.
			return errSuperseded
		}

		if protocol.IsLivenessProbe(data) {
			metrics.ProbesTotal.Inc()
			if err := s.writePong(); err != nil {
				return fmt.Errorf("pong: %w", err)
			}
			continue
		}

		l.handler(data)
	}
}

// watchdog closes the session's connection if no frame (probes included)
// arrives within StaleAfter, forcing the read loop to fail and reconnect.
func (l *Link) watchdog(s *session) {
	interval := l.cfg.StaleAfter / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if l.currentGen() != s.gen {
				return
			}
			if s.sinceLastRead() > l.cfg.StaleAfter {
				log.Printf("[link] stale connection gen=%d last_read=%s ago, forcing reconnect",
					s.gen, s.sinceLastRead().Round(time.Millisecond))
				s.conn.Close()
				return
			}
		}
	}
}

func (l *Link) currentGen() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen
}

func (s *session) writePong() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wsutil.WriteClientMessage(s.conn, ws.OpPong, nil)
}
