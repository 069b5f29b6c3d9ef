package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"

	"github.com/genbalink/genbalink/internal/identity"
	"github.com/genbalink/genbalink/internal/peer"
	"github.com/genbalink/genbalink/internal/signal"
	"github.com/genbalink/genbalink/internal/util"
)

// ErrCallInProgress is returned when StartCall is invoked outside StateIdle.
var ErrCallInProgress = errors.New("a call is already in progress")

// ErrNoIncomingCall is returned when AcceptCall is invoked outside
// StateIncoming.
var ErrNoIncomingCall = errors.New("no incoming call to accept")

// leg is one directional media connection: our tracks (or recvonly
// transceivers) offered to the counterpart.
type leg struct {
	id        string
	pc        *webrtc.PeerConnection
	local     LocalMedia
	ownsLocal bool
}

// inboundLeg is a remotely offered connection we auto-answered receive-only.
type inboundLeg struct {
	id string
	pc *webrtc.PeerConnection
}

// Orchestrator coordinates call legs around the state machine. Calls are
// modeled as one-way legs: the caller's offer doubles as the ring; the
// callee's accept optionally adds a reverse leg carrying its own media.
//
// Inbound media offers are auto-answered receive-only regardless of call
// state: media can arrive and be drained while the machine still reports
// Idle. This mirrors the accepted at-least-once delivery path of the
// product; accept/reject only decides whether local media is sent back.
type Orchestrator struct {
	role     identity.Role
	remoteID string
	sig      peer.Signaler
	machine  *Machine
	media    MediaSource
	selector *mediadevices.CodecSelector
	sink     *RemoteSink

	mu         sync.Mutex
	ctx        context.Context
	callCtx    context.Context    // scopes every attempt of the current call
	callCancel context.CancelFunc // cancelled by teardown
	outbound   map[string]*leg
	inbound    map[string]*inboundLeg
	ringing    string // call id of the most recent unanswered inbound offer
	external   func() LocalMedia

	onPermission func(error)
}

// NewOrchestrator wires a call orchestrator for the given counterpart.
// onState observes every machine transition; onTrack observes arriving
// remote tracks.
func NewOrchestrator(
	role identity.Role,
	remoteID string,
	sig peer.Signaler,
	media MediaSource,
	selector *mediadevices.CodecSelector,
	onState func(State),
	onTrack func(kind string),
) *Orchestrator {
	return &Orchestrator{
		role:     role,
		remoteID: remoteID,
		sig:      sig,
		machine:  NewMachine(onState),
		media:    media,
		selector: selector,
		sink:     NewRemoteSink(onTrack),
		outbound: make(map[string]*leg),
		inbound:  make(map[string]*inboundLeg),
	}
}

// Start binds the orchestrator to its lifetime context.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	o.ctx = ctx
	o.mu.Unlock()
}

// SetExternalMedia registers a supplier of an already-active local stream
// (the screen-annotation composite). When it returns non-nil, outgoing legs
// use it instead of acquiring a camera; its owner keeps release duty.
func (o *Orchestrator) SetExternalMedia(fn func() LocalMedia) {
	o.mu.Lock()
	o.external = fn
	o.mu.Unlock()
}

// OnPermissionError registers the user-facing media failure callback.
func (o *Orchestrator) OnPermissionError(fn func(error)) {
	o.onPermission = fn
}

// State returns the current call state.
func (o *Orchestrator) State() State { return o.machine.State() }

// StartCall places a call toward the counterpart. The offer leg is opened in
// the background; media acquisition failure reverts the machine to Idle and
// surfaces a permission error.
func (o *Orchestrator) StartCall() error {
	if _, ok := o.machine.Apply(InputPlaceCall); !ok {
		return ErrCallInProgress
	}
	go o.openOutbound(o.attemptContext(), uuid.NewString())
	return nil
}

// AcceptCall accepts the ringing incoming call. The field endpoint acquires
// camera+microphone and opens a reverse leg; the console reuses an active
// external stream or stays receive-only.
func (o *Orchestrator) AcceptCall() error {
	if _, ok := o.machine.Apply(InputAccept); !ok {
		return ErrNoIncomingCall
	}

	o.mu.Lock()
	ringing := o.ringing
	o.ringing = ""
	o.mu.Unlock()

	o.sendEnvelope(signal.Envelope{
		Type: signal.TypeCallAccept,
		To:   o.remoteID,
		Kind: signal.KindMedia,
		Call: ringing,
	})

	go o.openOutbound(o.attemptContext(), uuid.NewString())
	return nil
}

// EndCall terminates the call from any non-idle state: cancel while
// outgoing, decline while incoming, hang up while connected.
func (o *Orchestrator) EndCall() {
	var in Input
	switch o.machine.State() {
	case StateOutgoing:
		in = InputCancel
	case StateIncoming:
		in = InputDecline
	case StateConnected:
		in = InputHangup
	default:
		return
	}

	if _, ok := o.machine.Apply(in); !ok {
		return
	}
	o.sendEnvelope(signal.Envelope{Type: signal.TypeBye, To: o.remoteID, Kind: signal.KindMedia})
	o.teardown()
}

// RefreshOutbound tears down the current outgoing legs and opens a new one
// with the current local media selection. The app layer calls this when the
// screen-share composite starts or stops during a connected call.
func (o *Orchestrator) RefreshOutbound() {
	if o.machine.State() != StateConnected {
		return
	}
	o.closeOutboundLegs()
	go o.openOutbound(o.attemptContext(), uuid.NewString())
}

// attemptContext returns the context scoping leg attempts of the current
// call, creating it on the first attempt. teardown cancels it, so a leg
// still being built when the call ends aborts instead of coming up late.
func (o *Orchestrator) attemptContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.callCtx == nil {
		base := o.ctx
		if base == nil {
			base = context.Background()
		}
		o.callCtx, o.callCancel = context.WithCancel(base)
	}
	return o.callCtx
}

// HandleEnvelope processes one KindMedia envelope from the rendezvous
// service.
func (o *Orchestrator) HandleEnvelope(env signal.Envelope) {
	switch env.Type {
	case signal.TypeOffer:
		o.autoAnswer(env)
	case signal.TypeAnswer:
		o.handleAnswer(env)
	case signal.TypeCandidate:
		o.handleCandidate(env)
	case signal.TypeCallAccept:
		o.machine.Apply(InputRemoteAnswer)
	case signal.TypeBye:
		o.handleBye()
	}
}

// selectLocal picks the media for an outgoing leg. Field acquires its
// camera+microphone (owned by the leg); console reuses the external
// composite when active, else goes without local media.
func (o *Orchestrator) selectLocal(ctx context.Context) (LocalMedia, bool, error) {
	if o.role == identity.RoleField {
		lm, err := o.media.Acquire(ctx)
		if err != nil {
			return nil, false, err
		}
		return lm, true, nil
	}

	o.mu.Lock()
	external := o.external
	o.mu.Unlock()
	if external != nil {
		if lm := external(); lm != nil {
			return lm, false, nil
		}
	}
	return nil, false, nil
}

// openOutbound builds and offers one outgoing leg. Any failure on the way to
// Connected reverts the machine to Idle, never a half-connected state. ctx is
// the attempt context; once it is cancelled the leg must not register, offer,
// or hold on to acquired media.
func (o *Orchestrator) openOutbound(ctx context.Context, callID string) {
	local, owns, err := o.selectLocal(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.mediaFailure(fmt.Errorf("acquire local media: %w", err))
		return
	}

	release := func() {
		if owns && local != nil {
			local.Close()
		}
	}

	// The call may have ended while media was being acquired.
	if ctx.Err() != nil {
		release()
		return
	}

	var selector *mediadevices.CodecSelector
	if local != nil {
		selector = o.selector
	}
	pc, err := newMediaPC(selector)
	if err != nil {
		release()
		o.mediaFailure(fmt.Errorf("create media connection: %w", err))
		return
	}

	fail := func(err error) {
		pc.Close()
		release()
		o.mediaFailure(err)
	}

	if local != nil {
		for _, t := range local.Tracks() {
			if _, err := pc.AddTrack(t); err != nil {
				fail(fmt.Errorf("attach local track: %w", err))
				return
			}
		}
	} else if err := addRecvOnlyTransceivers(pc); err != nil {
		fail(fmt.Errorf("add transceivers: %w", err))
		return
	}

	o.sink.Attach(ctx, pc)
	o.trickleICE(pc, callID)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		fail(fmt.Errorf("create offer: %w", err))
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		fail(fmt.Errorf("set local description: %w", err))
		return
	}

	l := &leg{id: callID, pc: pc, local: local, ownsLocal: owns}
	o.mu.Lock()
	if o.callCtx != ctx {
		// teardown ran while this leg was being built; it belongs to a
		// call that no longer exists.
		o.mu.Unlock()
		pc.Close()
		release()
		return
	}
	o.outbound[callID] = l
	o.mu.Unlock()

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("call leg %s state: %s", callID, state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			o.dropOutbound(callID)
		}
	})

	o.sendEnvelope(signal.Envelope{
		Type: signal.TypeOffer,
		To:   o.remoteID,
		Kind: signal.KindMedia,
		Call: callID,
		SDP:  offer.SDP,
	})
}

// autoAnswer accepts an inbound media offer receive-only, unconditionally.
// When the machine is Idle this doubles as the ring.
func (o *Orchestrator) autoAnswer(env signal.Envelope) {
	o.mu.Lock()
	ctx := o.ctx
	o.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	pc, err := newMediaPC(nil)
	if err != nil {
		util.LogWarning("inbound media offer: %v", err)
		return
	}

	o.sink.Attach(ctx, pc)
	o.trickleICE(pc, env.Call)

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: env.SDP,
	}); err != nil {
		pc.Close()
		util.LogWarning("inbound media offer: set remote description: %v", err)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		util.LogWarning("inbound media offer: create answer: %v", err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		util.LogWarning("inbound media offer: set local description: %v", err)
		return
	}

	o.mu.Lock()
	if old, ok := o.inbound[env.Call]; ok {
		old.pc.Close()
	}
	o.inbound[env.Call] = &inboundLeg{id: env.Call, pc: pc}
	o.mu.Unlock()

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("inbound leg %s state: %s", env.Call, state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			o.dropInbound(env.Call)
		}
	})

	o.sendEnvelope(signal.Envelope{
		Type: signal.TypeAnswer,
		To:   o.remoteID,
		Kind: signal.KindMedia,
		Call: env.Call,
		SDP:  answer.SDP,
	})

	// Ring only flips Idle → Incoming; when a call is already underway the
	// stray offer was just extra media and is already attached above.
	if _, rang := o.machine.Apply(InputRemoteRing); rang {
		o.mu.Lock()
		o.ringing = env.Call
		o.mu.Unlock()
	}
}

func (o *Orchestrator) handleAnswer(env signal.Envelope) {
	o.mu.Lock()
	l, ok := o.outbound[env.Call]
	o.mu.Unlock()
	if !ok {
		util.LogDebug("stray media answer for call %s ignored", env.Call)
		return
	}
	if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer, SDP: env.SDP,
	}); err != nil {
		util.LogDebug("set remote media answer: %v", err)
	}
}

func (o *Orchestrator) handleCandidate(env signal.Envelope) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(env.Candidate), &init); err != nil {
		util.LogDebug("parse media ICE candidate: %v", err)
		return
	}

	o.mu.Lock()
	out, outOK := o.outbound[env.Call]
	in, inOK := o.inbound[env.Call]
	o.mu.Unlock()

	if outOK {
		if err := out.pc.AddICECandidate(init); err != nil {
			util.LogDebug("add media ICE candidate: %v", err)
		}
	}
	if inOK {
		if err := in.pc.AddICECandidate(init); err != nil {
			util.LogDebug("add media ICE candidate: %v", err)
		}
	}
}

// handleBye maps a remote bye onto the state-appropriate input and tears the
// call down.
func (o *Orchestrator) handleBye() {
	var in Input
	switch o.machine.State() {
	case StateOutgoing:
		in = InputRemoteReject
	case StateIncoming, StateConnected:
		in = InputRemoteHangup
	default:
		// Stray bye with no call underway; still drop any lingering legs.
		o.teardown()
		return
	}
	o.machine.Apply(in)
	o.teardown()
}

// mediaFailure reverts any in-flight transition to Idle and surfaces the
// error to the user.
func (o *Orchestrator) mediaFailure(err error) {
	util.LogError("media failure: %v", err)
	if _, ok := o.machine.Apply(InputMediaFailed); ok {
		o.sendEnvelope(signal.Envelope{Type: signal.TypeBye, To: o.remoteID, Kind: signal.KindMedia})
	}
	o.teardown()
	if o.onPermission != nil {
		o.onPermission(err)
	}
}

// dropOutbound removes a dead outgoing leg. A transport-level death of the
// only leg while connected counts as a remote hangup.
func (o *Orchestrator) dropOutbound(callID string) {
	o.mu.Lock()
	l, ok := o.outbound[callID]
	if ok {
		delete(o.outbound, callID)
	}
	remaining := len(o.outbound) + len(o.inbound)
	o.mu.Unlock()

	if !ok {
		return
	}
	l.pc.Close()
	if l.ownsLocal && l.local != nil {
		l.local.Close()
	}
	if remaining == 0 {
		o.machine.Apply(InputRemoteHangup)
	}
}

// dropInbound removes a dead auto-answered leg. Like dropOutbound, losing
// the last leg of an active call counts as a remote hangup.
func (o *Orchestrator) dropInbound(callID string) {
	o.mu.Lock()
	in, ok := o.inbound[callID]
	if ok {
		delete(o.inbound, callID)
	}
	if o.ringing == callID {
		o.ringing = ""
	}
	remaining := len(o.outbound) + len(o.inbound)
	o.mu.Unlock()

	if !ok {
		return
	}
	in.pc.Close()
	if remaining == 0 {
		o.machine.Apply(InputRemoteHangup)
	}
}

// closeOutboundLegs closes outgoing legs only, releasing media owned by the
// legs themselves. Externally supplied streams stay with their owner.
func (o *Orchestrator) closeOutboundLegs() {
	o.mu.Lock()
	legs := o.outbound
	o.outbound = make(map[string]*leg)
	o.mu.Unlock()

	for _, l := range legs {
		l.pc.Close()
		if l.ownsLocal && l.local != nil {
			l.local.Close()
		}
	}
}

// teardown cancels any leg still being built and closes every established
// leg in both directions.
func (o *Orchestrator) teardown() {
	o.mu.Lock()
	cancel := o.callCancel
	o.callCtx = nil
	o.callCancel = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	o.closeOutboundLegs()

	o.mu.Lock()
	ins := o.inbound
	o.inbound = make(map[string]*inboundLeg)
	o.ringing = ""
	o.mu.Unlock()

	for _, in := range ins {
		in.pc.Close()
	}
}

func (o *Orchestrator) trickleICE(pc *webrtc.PeerConnection, callID string) {
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		data, _ := json.Marshal(cand.ToJSON())
		o.sendEnvelope(signal.Envelope{
			Type:      signal.TypeCandidate,
			To:        o.remoteID,
			Kind:      signal.KindMedia,
			Call:      callID,
			Candidate: string(data),
		})
	})
}

func (o *Orchestrator) sendEnvelope(env signal.Envelope) {
	if err := o.sig.Send(env); err != nil {
		util.LogDebug("media signal send failed: %v", err)
	}
}
