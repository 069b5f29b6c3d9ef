// Package session owns the lifetime of the local rendezvous connection: it
// opens it, reconnects it after drops, tears it down on logout, and surfaces
// human-readable status to the UI layer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/genbalink/genbalink/internal/identity"
	"github.com/genbalink/genbalink/internal/signal"
	"github.com/genbalink/genbalink/internal/util"
)

// Status is the observable lifecycle state of the session handle.
type Status int

const (
	StatusUninitialized Status = iota
	StatusInitializing
	StatusListening
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusListening:
		return "listening"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "uninitialized"
	}
}

// ErrNotConnected is returned by Send while no rendezvous connection is live.
var ErrNotConnected = errors.New("rendezvous connection is not established")

// ReconnectInterval is the pause between reconnect attempts after a drop.
const ReconnectInterval = 3 * time.Second

// Conn is the slice of signal.Client the supervisor depends on. Tests
// substitute a fake.
type Conn interface {
	Send(signal.Envelope) error
	Run(ctx context.Context, handle func(signal.Envelope)) error
	Close() error
}

// DialFunc opens a registered rendezvous connection for the given peer id.
type DialFunc func(ctx context.Context, url, peerID, token string) (Conn, error)

// Supervisor maintains exactly one live rendezvous connection for the
// logged-in identity. Replacing the identity destroys the old handle before
// a new one is created.
type Supervisor struct {
	url   string
	token string
	dial  DialFunc

	reconnectInterval time.Duration

	mu      sync.Mutex
	id      identity.Identity
	status  Status
	conn    Conn
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool

	onReady        func()
	onStatusChange func(string)
	onConflict     func(error)
	onDropped      func(error)
	onEnvelope     func(signal.Envelope)
}

// New creates a Supervisor that dials the given rendezvous URL.
func New(url, token string) *Supervisor {
	return &Supervisor{
		url:   url,
		token: token,
		dial: func(ctx context.Context, u, peerID, tok string) (Conn, error) {
			return signal.Dial(ctx, u, peerID, tok)
		},
		reconnectInterval: ReconnectInterval,
		status:            StatusUninitialized,
	}
}

// Callback registration. Set before Start; not guarded afterwards.

func (s *Supervisor) OnReady(fn func())                   { s.onReady = fn }
func (s *Supervisor) OnStatusChange(fn func(string))      { s.onStatusChange = fn }
func (s *Supervisor) OnFatalIDConflict(fn func(error))    { s.onConflict = fn }
func (s *Supervisor) OnTransportDropped(fn func(error))   { s.onDropped = fn }
func (s *Supervisor) OnEnvelope(fn func(signal.Envelope)) { s.onEnvelope = fn }

// Start destroys any previous handle and opens a new rendezvous connection
// bound to id. It returns immediately; connection progress is reported via
// the status callbacks.
func (s *Supervisor) Start(id identity.Identity) {
	s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.id = id
	s.cancel = cancel
	s.done = done
	s.stopped = false
	s.setStatusLocked(StatusInitializing, "connecting to rendezvous service…")
	s.mu.Unlock()

	go s.run(ctx, id, done)
}

// Stop closes the rendezvous connection and cancels any reconnect in flight.
// Idempotent, and safe to call even if setup never finished.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	conn := s.conn
	done := s.done
	s.cancel = nil
	s.conn = nil
	s.stopped = true
	s.setStatusLocked(StatusUninitialized, "")
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
}

// Status returns the current lifecycle status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LocalID returns the peer id of the current identity.
func (s *Supervisor) LocalID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id.PeerID
}

// Send relays an envelope through the live rendezvous connection. While
// disconnected it returns ErrNotConnected; callers treat that as an expected
// transient condition.
func (s *Supervisor) Send(env signal.Envelope) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(env)
}

// run is the connect/serve/reconnect loop. It exits on Stop or on a fatal
// identity conflict; ordinary drops only pause it for reconnectInterval.
func (s *Supervisor) run(ctx context.Context, id identity.Identity, done chan struct{}) {
	defer close(done)

	for {
		conn, err := s.dial(ctx, s.url, id.PeerID, s.token)
		if err != nil {
			if errors.Is(err, signal.ErrIDConflict) {
				s.fatalConflict(err)
				return
			}
			if ctx.Err() != nil {
				return
			}
			s.setStatus(StatusDisconnected, "rendezvous service unreachable, retrying…")
			util.LogDebug("rendezvous dial failed: %v", err)
			if !s.sleep(ctx) {
				return
			}
			continue
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conn = conn
		s.setStatusLocked(StatusListening, fmt.Sprintf("listening as %s", id.PeerID))
		ready := s.onReady
		s.mu.Unlock()

		if ready != nil {
			ready()
		}

		err = conn.Run(ctx, s.handleEnvelope)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()

		if errors.Is(err, signal.ErrIDConflict) {
			s.fatalConflict(err)
			return
		}
		if ctx.Err() != nil {
			return
		}

		s.setStatus(StatusDisconnected, "rendezvous connection lost, reconnecting…")
		if s.onDropped != nil {
			s.onDropped(err)
		}
		if !s.sleep(ctx) {
			return
		}
	}
}

func (s *Supervisor) handleEnvelope(env signal.Envelope) {
	if s.onEnvelope != nil {
		s.onEnvelope(env)
	}
}

// fatalConflict surfaces a duplicate-identifier rejection. Unlike every other
// transport error this one is not retried and is reported on its own channel,
// so the UI can show an actionable message instead of a generic status.
func (s *Supervisor) fatalConflict(err error) {
	s.setStatus(StatusDisconnected, "this identifier is already in use elsewhere")
	util.LogError("identity conflict: %v", err)
	if s.onConflict != nil {
		s.onConflict(err)
	}
}

func (s *Supervisor) sleep(ctx context.Context) bool {
	select {
	case <-time.After(s.reconnectInterval):
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) setStatus(st Status, msg string) {
	s.mu.Lock()
	s.setStatusLocked(st, msg)
	s.mu.Unlock()
}

// setStatusLocked updates the status and fires the change callback on its
// own goroutine. Callers hold s.mu, so the callback never runs under the
// lock and may call back into the Supervisor.
func (s *Supervisor) setStatusLocked(st Status, msg string) {
	s.status = st
	if msg != "" && s.onStatusChange != nil {
		go s.onStatusChange(msg)
	}
}
