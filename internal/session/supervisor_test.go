package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genbalink/genbalink/internal/identity"
	"github.com/genbalink/genbalink/internal/signal"
)

// fakeConn is an in-memory rendezvous connection. Run blocks until a result
// is injected or the connection is closed.
type fakeConn struct {
	runErr chan error

	mu     sync.Mutex
	sent   []signal.Envelope
	handle func(signal.Envelope)

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{runErr: make(chan error, 1), closed: make(chan struct{})}
}

func (f *fakeConn) Send(env signal.Envelope) error {
	f.mu.Lock()
	f.sent = append(f.sent, env)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Run(ctx context.Context, handle func(signal.Envelope)) error {
	f.mu.Lock()
	f.handle = handle
	f.mu.Unlock()

	select {
	case err := <-f.runErr:
		return err
	case <-f.closed:
		return errors.New("connection closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// deliver injects an inbound envelope as if read from the wire.
func (f *fakeConn) deliver(env signal.Envelope) {
	f.mu.Lock()
	h := f.handle
	f.mu.Unlock()
	if h != nil {
		h(env)
	}
}

// dialScript returns a DialFunc that pops results from a queue and counts
// calls.
type dialScript struct {
	mu    sync.Mutex
	conns []*fakeConn
	errs  []error
	calls int
}

func (d *dialScript) fn(_ context.Context, _, _, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(d.conns) == 0 {
		return nil, errors.New("no scripted connection")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *dialScript) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func testSupervisor(t *testing.T, script *dialScript) (*Supervisor, identity.Identity) {
	t.Helper()
	s := New("ws://rendezvous.test/ws", "")
	s.dial = script.fn
	s.reconnectInterval = 10 * time.Millisecond

	id, err := identity.Resolve(identity.RoleField, "t1")
	require.NoError(t, err)
	return s, id
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartReachesListening(t *testing.T) {
	conn := newFakeConn()
	script := &dialScript{conns: []*fakeConn{conn}}
	s, id := testSupervisor(t, script)

	ready := make(chan struct{}, 1)
	s.OnReady(func() { ready <- struct{}{} })

	s.Start(id)
	defer s.Stop()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("never became ready")
	}
	assert.Equal(t, StatusListening, s.Status())
	assert.Equal(t, "t1", s.LocalID())
}

func TestReconnectAfterDrop(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	script := &dialScript{conns: []*fakeConn{first, second}}
	s, id := testSupervisor(t, script)

	var mu sync.Mutex
	dropped := 0
	s.OnTransportDropped(func(error) { mu.Lock(); dropped++; mu.Unlock() })

	s.Start(id)
	defer s.Stop()

	waitFor(t, func() bool { return script.callCount() == 1 }, "first dial missing")
	first.runErr <- errors.New("network reset")

	waitFor(t, func() bool { return script.callCount() == 2 }, "no reconnect after drop")
	waitFor(t, func() bool { return s.Status() == StatusListening }, "did not return to listening")

	mu.Lock()
	assert.Equal(t, 1, dropped)
	mu.Unlock()
}

func TestIDConflictIsTerminal(t *testing.T) {
	script := &dialScript{errs: []error{signal.ErrIDConflict}}
	s, id := testSupervisor(t, script)

	conflicts := make(chan error, 1)
	s.OnFatalIDConflict(func(err error) { conflicts <- err })

	s.Start(id)
	defer s.Stop()

	select {
	case err := <-conflicts:
		assert.ErrorIs(t, err, signal.ErrIDConflict)
	case <-time.After(2 * time.Second):
		t.Fatal("conflict never surfaced")
	}

	// A conflict must not be retried like an ordinary drop.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, script.callCount(), "supervisor retried a fatal conflict")
	assert.Equal(t, StatusDisconnected, s.Status())
}

func TestLateConflictIsTerminal(t *testing.T) {
	conn := newFakeConn()
	script := &dialScript{conns: []*fakeConn{conn}}
	s, id := testSupervisor(t, script)

	conflicts := make(chan error, 1)
	s.OnFatalIDConflict(func(err error) { conflicts <- err })

	s.Start(id)
	defer s.Stop()

	waitFor(t, func() bool { return s.Status() == StatusListening }, "never connected")
	conn.runErr <- signal.ErrIDConflict

	select {
	case <-conflicts:
	case <-time.After(2 * time.Second):
		t.Fatal("late conflict never surfaced")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, script.callCount(), "supervisor redialed after a fatal conflict")
}

func TestSendWhileDisconnected(t *testing.T) {
	s, _ := testSupervisor(t, &dialScript{})
	err := s.Send(signal.Envelope{Type: signal.TypeOffer, To: "x"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestEnvelopesReachHandler(t *testing.T) {
	conn := newFakeConn()
	script := &dialScript{conns: []*fakeConn{conn}}
	s, id := testSupervisor(t, script)

	got := make(chan signal.Envelope, 1)
	s.OnEnvelope(func(env signal.Envelope) { got <- env })

	s.Start(id)
	defer s.Stop()

	waitFor(t, func() bool { return s.Status() == StatusListening }, "never connected")
	conn.deliver(signal.Envelope{Type: signal.TypeOffer, From: "t1-console", To: "t1"})

	select {
	case env := <-got:
		assert.Equal(t, signal.TypeOffer, env.Type)
		assert.Equal(t, "t1-console", env.From)
	case <-time.After(2 * time.Second):
		t.Fatal("envelope never delivered")
	}
}

func TestStopIsIdempotentAndSafeBeforeStart(t *testing.T) {
	s, id := testSupervisor(t, &dialScript{conns: []*fakeConn{newFakeConn()}})

	// Stop before Start must not panic or block.
	s.Stop()

	s.Start(id)
	waitFor(t, func() bool { return s.Status() == StatusListening }, "never connected")

	s.Stop()
	s.Stop()
	assert.Equal(t, StatusUninitialized, s.Status())
}

func TestRestartReplacesIdentity(t *testing.T) {
	script := &dialScript{conns: []*fakeConn{newFakeConn(), newFakeConn()}}
	s, id := testSupervisor(t, script)

	s.Start(id)
	waitFor(t, func() bool { return s.Status() == StatusListening }, "never connected")

	other, err := identity.Resolve(identity.RoleConsole, "t1")
	require.NoError(t, err)
	s.Start(other)
	defer s.Stop()

	waitFor(t, func() bool { return s.LocalID() == "t1-console" && s.Status() == StatusListening },
		"restart did not adopt the new identity")
	assert.Equal(t, 2, script.callCount())
}
