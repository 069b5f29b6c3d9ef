package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/genbalink/genbalink/internal/util"
)

// RetryInterval is the cadence of channel-open attempts while no channel is
// open. Open failures at this layer are expected and frequent (the
// counterpart is simply offline), so they are not surfaced as errors.
const RetryInterval = 3 * time.Second

// dialTimeout bounds one open attempt end to end.
const dialTimeout = 10 * time.Second

// Link is one established, reliable, ordered message pipe to the counterpart.
// The concrete implementation wraps a WebRTC data channel.
type Link interface {
	RemoteID() string
	Send(data []byte) error
	OnMessage(fn func(data []byte))
	OnClose(fn func())
	Close() error
}

// Dialer negotiates a new Link to a remote peer id.
type Dialer interface {
	Dial(ctx context.Context, remoteID string) (Link, error)
}

// Manager keeps at most one Link open between the local identity and its
// counterpart, regardless of which side initiated it. While no link is open
// it retries on a fixed cadence; inbound opens are adopted first-open-wins.
type Manager struct {
	localID  string
	remoteID string
	dialer   Dialer

	retryInterval time.Duration

	mu        sync.Mutex
	ctx       context.Context
	link      Link
	open      bool
	inFlight  bool
	stopped   bool
	retryStop chan struct{}
	consumers map[MessageType][]func(Message)

	onOpen   func()
	onClosed func()
}

// NewManager creates a manager connecting localID to remoteID. It refuses a
// manager that would dial itself; that is a misconfigured site id, not a
// recoverable condition.
func NewManager(localID, remoteID string, dialer Dialer) (*Manager, error) {
	if localID == remoteID {
		return nil, fmt.Errorf("refusing to open a channel to self (%q)", localID)
	}
	return &Manager{
		localID:       localID,
		remoteID:      remoteID,
		dialer:        dialer,
		retryInterval: RetryInterval,
		consumers:     make(map[MessageType][]func(Message)),
	}, nil
}

// OnOpen registers a callback fired whenever a channel opens.
func (m *Manager) OnOpen(fn func()) { m.onOpen = fn }

// OnClosed registers a callback fired whenever the open channel is lost.
func (m *Manager) OnClosed(fn func()) { m.onClosed = fn }

// Subscribe registers a consumer for one message type. Inbound messages of
// unknown or unsubscribed types are ignored.
func (m *Manager) Subscribe(t MessageType, fn func(Message)) {
	m.mu.Lock()
	m.consumers[t] = append(m.consumers[t], fn)
	m.mu.Unlock()
}

// Start begins the retry cadence. Attempts run until a channel opens; the
// cadence resumes whenever the channel is lost.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.startRetryLocked()
	m.mu.Unlock()
}

// Stop cancels the retry cadence and closes the open channel, permanently.
// A stopped manager adopts nothing and never dials again.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.stopRetryLocked()
	link := m.link
	m.link = nil
	m.open = false
	m.mu.Unlock()

	if link != nil {
		link.Close()
	}
}

// Open reports whether a channel is currently open.
func (m *Manager) Open() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Send transmits a control message. When no channel is open the message is
// silently dropped; callers must not assume delivery.
func (m *Manager) Send(msg Message) {
	m.mu.Lock()
	link := m.link
	open := m.open
	m.mu.Unlock()

	if !open {
		util.LogDebug("channel closed, dropping %s message", msg.Type)
		return
	}

	data, err := Encode(msg)
	if err != nil {
		util.LogWarning("%v", err)
		return
	}
	if err := link.Send(data); err != nil {
		util.LogDebug("channel send failed: %v", err)
		return
	}
	util.Stats.AddSent()
}

// AcceptInbound offers a remotely initiated link to the manager. Links from
// any peer other than the configured counterpart are closed and discarded;
// otherwise the link is adopted only if no link is currently open, and a
// late duplicate is closed with no other side effects.
func (m *Manager) AcceptInbound(l Link) {
	if l.RemoteID() != m.remoteID {
		util.LogDebug("inbound channel from unexpected peer %q discarded", l.RemoteID())
		l.Close()
		return
	}
	m.adopt(l)
}

// adopt installs l as the single open link, first-open-wins. The retry task
// is cancelled before the open flag is set, so a queued retry attempt can
// never fire against an already-open channel.
func (m *Manager) adopt(l Link) {
	m.mu.Lock()
	if m.open || m.stopped {
		m.mu.Unlock()
		util.LogDebug("duplicate channel open from %q discarded", l.RemoteID())
		l.Close()
		return
	}
	m.stopRetryLocked()
	m.link = l
	m.open = true
	m.mu.Unlock()

	l.OnMessage(m.dispatch)
	l.OnClose(func() { m.handleClosed(l) })

	util.Stats.AddOpen()
	util.LogInfo("control channel open to %q", l.RemoteID())
	if m.onOpen != nil {
		m.onOpen()
	}
}

// handleClosed clears the handle after a remote close and restarts the retry
// cadence (one immediate attempt, then the interval).
func (m *Manager) handleClosed(l Link) {
	m.mu.Lock()
	if m.link != l {
		m.mu.Unlock()
		return
	}
	m.link = nil
	m.open = false
	m.startRetryLocked()
	m.mu.Unlock()

	util.LogInfo("control channel to %q closed", l.RemoteID())
	if m.onClosed != nil {
		m.onClosed()
	}
}

// dispatch routes one inbound frame to the consumers of its type.
func (m *Manager) dispatch(data []byte) {
	msg, err := Decode(data)
	if err != nil {
		util.LogDebug("%v", err)
		return
	}

	m.mu.Lock()
	handlers := append([]func(Message){}, m.consumers[msg.Type]...)
	m.mu.Unlock()

	if len(handlers) == 0 {
		util.LogDebug("no consumer for %s message, ignoring", msg.Type)
		return
	}

	util.Stats.AddRecv()
	for _, fn := range handlers {
		fn(msg)
	}
}

// startRetryLocked launches the retry loop if it is not already running.
// Callers hold m.mu.
func (m *Manager) startRetryLocked() {
	if m.retryStop != nil || m.ctx == nil || m.open || m.stopped {
		return
	}
	stop := make(chan struct{})
	m.retryStop = stop
	go m.retryLoop(m.ctx, stop)
}

// stopRetryLocked cancels the retry loop. Callers hold m.mu.
func (m *Manager) stopRetryLocked() {
	if m.retryStop != nil {
		close(m.retryStop)
		m.retryStop = nil
	}
}

// retryLoop attempts an open immediately, then on the fixed cadence, until
// stopped. Each failure is reflected only as "connecting" status, never as
// an error.
func (m *Manager) retryLoop(ctx context.Context, stop chan struct{}) {
	for {
		m.attempt(ctx)
		select {
		case <-time.After(m.retryInterval):
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// attempt performs one dial toward the counterpart. Attempts overlapping an
// in-flight dial are skipped.
func (m *Manager) attempt(ctx context.Context) {
	m.mu.Lock()
	if m.open || m.inFlight {
		m.mu.Unlock()
		return
	}
	m.inFlight = true
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	l, err := m.dialer.Dial(dialCtx, m.remoteID)
	cancel()

	m.mu.Lock()
	m.inFlight = false
	m.mu.Unlock()

	if err != nil {
		util.LogDebug("channel open attempt to %q failed: %v", m.remoteID, err)
		return
	}
	m.adopt(l)
}
