package call

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genbalink/genbalink/internal/identity"
	"github.com/genbalink/genbalink/internal/signal"
)

// sigRecorder captures envelopes the orchestrator sends toward the
// rendezvous service.
type sigRecorder struct{ ch chan signal.Envelope }

func newSigRecorder() *sigRecorder {
	return &sigRecorder{ch: make(chan signal.Envelope, 32)}
}

func (s *sigRecorder) Send(env signal.Envelope) error {
	s.ch <- env
	return nil
}

// await returns the first captured envelope of the given type, skipping
// others (ICE candidates trickle in between at unpredictable times).
func (s *sigRecorder) await(t *testing.T, typ signal.Type) signal.Envelope {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case env := <-s.ch:
			if env.Type == typ {
				return env
			}
		case <-deadline:
			t.Fatalf("envelope %q never sent", typ)
		}
	}
}

// awaitNone fails if an envelope of the given type shows up within d.
func (s *sigRecorder) awaitNone(t *testing.T, typ signal.Type, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case env := <-s.ch:
			if env.Type == typ {
				t.Fatalf("unexpected envelope %q sent", typ)
			}
		case <-deadline:
			return
		}
	}
}

// failingMedia always fails acquisition, like a field terminal without a
// camera.
type failingMedia struct{}

func (failingMedia) Acquire(context.Context) (LocalMedia, error) { return nil, ErrNoMedia }

// staticMedia supplies a pre-built sample track.
type staticMedia struct{ tracks []webrtc.TrackLocal }

func (m *staticMedia) Acquire(context.Context) (LocalMedia, error) { return m, nil }
func (m *staticMedia) Tracks() []webrtc.TrackLocal                 { return m.tracks }
func (m *staticMedia) Close() error                                { return nil }

// closableMedia records whether its owner released it.
type closableMedia struct {
	tracks []webrtc.TrackLocal
	closed atomic.Bool
}

func (m *closableMedia) Tracks() []webrtc.TrackLocal { return m.tracks }
func (m *closableMedia) Close() error                { m.closed.Store(true); return nil }

// gatedMedia blocks acquisition until the gate is released, like a camera
// stack stuck behind a slow device node or a permission prompt.
type gatedMedia struct {
	gate      chan struct{}
	ignoreCtx bool
	media     *closableMedia
}

func (g *gatedMedia) Acquire(ctx context.Context) (LocalMedia, error) {
	if g.ignoreCtx {
		<-g.gate
		return g.media, nil
	}
	select {
	case <-g.gate:
		return g.media, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func sampleVideoTrack(t *testing.T) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "cam",
	)
	require.NoError(t, err)
	return track
}

type orchFixture struct {
	orch   *Orchestrator
	sig    *sigRecorder
	states chan State
}

func newFixture(t *testing.T, role identity.Role, media MediaSource) *orchFixture {
	t.Helper()
	f := &orchFixture{sig: newSigRecorder(), states: make(chan State, 16)}
	f.orch = NewOrchestrator(role, "peer-b", f.sig, media,
		nil,
		func(s State) { f.states <- s },
		nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(f.orch.teardown)
	f.orch.Start(ctx)
	return f
}

func (f *orchFixture) awaitState(t *testing.T, want State) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-f.states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("state %s never reached (now %s)", want, f.orch.State())
		}
	}
}

// remoteOffer builds a syntactically real SDP offer, the way a counterpart
// endpoint would.
func remoteOffer(t *testing.T) string {
	t.Helper()
	pc, err := newMediaPC(nil)
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })
	require.NoError(t, addRecvOnlyTransceivers(pc))

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, pc.SetLocalDescription(offer))
	return offer.SDP
}

func TestStartCallSendsMediaOffer(t *testing.T) {
	f := newFixture(t, identity.RoleConsole, failingMedia{})

	require.NoError(t, f.orch.StartCall())
	f.awaitState(t, StateOutgoing)

	env := f.sig.await(t, signal.TypeOffer)
	assert.Equal(t, signal.KindMedia, env.Kind)
	assert.Equal(t, "peer-b", env.To)
	assert.NotEmpty(t, env.Call, "offer must carry a call id")
	assert.NotEmpty(t, env.SDP)
}

func TestStartCallWhileBusy(t *testing.T) {
	f := newFixture(t, identity.RoleConsole, failingMedia{})
	require.NoError(t, f.orch.StartCall())
	assert.ErrorIs(t, f.orch.StartCall(), ErrCallInProgress)
}

func TestFieldMediaFailureRevertsToIdle(t *testing.T) {
	f := newFixture(t, identity.RoleField, failingMedia{})

	permErr := make(chan error, 1)
	f.orch.OnPermissionError(func(err error) { permErr <- err })

	require.NoError(t, f.orch.StartCall())
	f.awaitState(t, StateOutgoing)
	f.awaitState(t, StateIdle)

	select {
	case err := <-permErr:
		assert.ErrorIs(t, err, ErrNoMedia)
	case <-time.After(5 * time.Second):
		t.Fatal("permission error never surfaced")
	}
	env := f.sig.await(t, signal.TypeBye)
	assert.Equal(t, signal.KindMedia, env.Kind)
}

func TestFieldCallCarriesLocalTrack(t *testing.T) {
	media := &staticMedia{tracks: []webrtc.TrackLocal{sampleVideoTrack(t)}}
	f := newFixture(t, identity.RoleField, media)

	require.NoError(t, f.orch.StartCall())
	env := f.sig.await(t, signal.TypeOffer)
	assert.Contains(t, env.SDP, "m=video")
}

func TestInboundOfferAutoAnswersAndRings(t *testing.T) {
	f := newFixture(t, identity.RoleConsole, failingMedia{})

	f.orch.HandleEnvelope(signal.Envelope{
		Type: signal.TypeOffer,
		From: "peer-b",
		Kind: signal.KindMedia,
		Call: "c1",
		SDP:  remoteOffer(t),
	})

	env := f.sig.await(t, signal.TypeAnswer)
	assert.Equal(t, "c1", env.Call)
	assert.NotEmpty(t, env.SDP)
	f.awaitState(t, StateIncoming)
}

func TestAcceptSendsCallAccept(t *testing.T) {
	f := newFixture(t, identity.RoleConsole, failingMedia{})

	f.orch.HandleEnvelope(signal.Envelope{
		Type: signal.TypeOffer, From: "peer-b", Kind: signal.KindMedia,
		Call: "c1", SDP: remoteOffer(t),
	})
	f.awaitState(t, StateIncoming)

	require.NoError(t, f.orch.AcceptCall())
	f.awaitState(t, StateConnected)

	env := f.sig.await(t, signal.TypeCallAccept)
	assert.Equal(t, "c1", env.Call)
}

func TestAcceptWithoutRinging(t *testing.T) {
	f := newFixture(t, identity.RoleConsole, failingMedia{})
	assert.ErrorIs(t, f.orch.AcceptCall(), ErrNoIncomingCall)
}

func TestRemoteAcceptConnects(t *testing.T) {
	f := newFixture(t, identity.RoleConsole, failingMedia{})

	require.NoError(t, f.orch.StartCall())
	f.awaitState(t, StateOutgoing)

	f.orch.HandleEnvelope(signal.Envelope{Type: signal.TypeCallAccept, From: "peer-b", Kind: signal.KindMedia})
	f.awaitState(t, StateConnected)
}

func TestByeWhileOutgoingIsReject(t *testing.T) {
	f := newFixture(t, identity.RoleConsole, failingMedia{})

	require.NoError(t, f.orch.StartCall())
	f.awaitState(t, StateOutgoing)

	f.orch.HandleEnvelope(signal.Envelope{Type: signal.TypeBye, From: "peer-b", Kind: signal.KindMedia})
	f.awaitState(t, StateIdle)
}

func TestEndCallDeclinesIncoming(t *testing.T) {
	f := newFixture(t, identity.RoleConsole, failingMedia{})

	f.orch.HandleEnvelope(signal.Envelope{
		Type: signal.TypeOffer, From: "peer-b", Kind: signal.KindMedia,
		Call: "c1", SDP: remoteOffer(t),
	})
	f.awaitState(t, StateIncoming)

	f.orch.EndCall()
	f.awaitState(t, StateIdle)
	f.sig.await(t, signal.TypeBye)
}

func TestEndCallAbortsPendingAcquire(t *testing.T) {
	media := &gatedMedia{gate: make(chan struct{}), media: &closableMedia{}}
	f := newFixture(t, identity.RoleField, media)

	permErr := make(chan error, 1)
	f.orch.OnPermissionError(func(err error) { permErr <- err })

	require.NoError(t, f.orch.StartCall())
	f.awaitState(t, StateOutgoing)

	f.orch.EndCall()
	f.awaitState(t, StateIdle)
	f.sig.await(t, signal.TypeBye)

	close(media.gate)

	f.sig.awaitNone(t, signal.TypeOffer, 300*time.Millisecond)

	f.orch.mu.Lock()
	legs := len(f.orch.outbound)
	f.orch.mu.Unlock()
	assert.Zero(t, legs, "no outbound legs may survive a cancelled call")

	select {
	case err := <-permErr:
		t.Fatalf("cancelling a call is not a media failure, got %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMediaArrivingAfterEndCallIsReleased(t *testing.T) {
	media := &gatedMedia{gate: make(chan struct{}), ignoreCtx: true, media: &closableMedia{}}
	f := newFixture(t, identity.RoleField, media)

	require.NoError(t, f.orch.StartCall())
	f.awaitState(t, StateOutgoing)

	f.orch.EndCall()
	f.awaitState(t, StateIdle)
	f.sig.await(t, signal.TypeBye)

	close(media.gate)

	require.Eventually(t, media.media.closed.Load, 5*time.Second, 10*time.Millisecond,
		"media acquired for a dead call must be released")
	f.sig.awaitNone(t, signal.TypeOffer, 300*time.Millisecond)

	f.orch.mu.Lock()
	legs := len(f.orch.outbound)
	f.orch.mu.Unlock()
	assert.Zero(t, legs)
}

func TestInboundTransportLossEndsRinging(t *testing.T) {
	f := newFixture(t, identity.RoleConsole, failingMedia{})

	f.orch.HandleEnvelope(signal.Envelope{
		Type: signal.TypeOffer, From: "peer-b", Kind: signal.KindMedia,
		Call: "c1", SDP: remoteOffer(t),
	})
	f.awaitState(t, StateIncoming)

	f.orch.mu.Lock()
	in := f.orch.inbound["c1"]
	f.orch.mu.Unlock()
	require.NotNil(t, in)

	in.pc.Close()
	f.awaitState(t, StateIdle)

	f.orch.mu.Lock()
	legs := len(f.orch.inbound)
	f.orch.mu.Unlock()
	assert.Zero(t, legs, "dead inbound legs must be pruned")
	assert.ErrorIs(t, f.orch.AcceptCall(), ErrNoIncomingCall)
}

func TestEndCallWhileIdleIsNoOp(t *testing.T) {
	f := newFixture(t, identity.RoleConsole, failingMedia{})
	f.orch.EndCall()
	assert.Equal(t, StateIdle, f.orch.State())

	select {
	case env := <-f.sig.ch:
		t.Fatalf("unexpected envelope %q sent from idle", env.Type)
	case <-time.After(100 * time.Millisecond):
	}
}
