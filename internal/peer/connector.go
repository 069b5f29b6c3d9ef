package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/genbalink/genbalink/internal/channel"
	"github.com/genbalink/genbalink/internal/signal"
	"github.com/genbalink/genbalink/internal/util"
)

// Signaler relays envelopes to the counterpart through the rendezvous
// service. The session Supervisor satisfies it.
type Signaler interface {
	Send(signal.Envelope) error
}

// Connector establishes data channel links by exchanging SDP and trickle ICE
// over the rendezvous service. It serves both directions: Dial for local
// attempts, and inbound offers surfaced through OnInboundLink.
type Connector struct {
	localID string
	sig     Signaler

	mu        sync.Mutex
	pending   *pendingDial          // at most one local attempt at a time
	inbound   map[string]*inboundPC // remoteID → negotiating inbound connection
	onInbound func(channel.Link)
}

type pendingDial struct {
	remoteID string
	pc       *webrtc.PeerConnection
	link     *dataLink
	openCh   chan struct{}
}

type inboundPC struct {
	pc *webrtc.PeerConnection
}

// NewConnector creates a Connector for the given local identity.
func NewConnector(localID string, sig Signaler) *Connector {
	return &Connector{
		localID: localID,
		sig:     sig,
		inbound: make(map[string]*inboundPC),
	}
}

// OnInboundLink registers the callback that receives remotely initiated
// links once their data channel opens.
func (c *Connector) OnInboundLink(fn func(channel.Link)) {
	c.onInbound = fn
}

// Dial negotiates a data channel toward remoteID. It sends the offer through
// the rendezvous service and blocks until the channel opens, the connection
// fails, or ctx expires.
func (c *Connector) Dial(ctx context.Context, remoteID string) (channel.Link, error) {
	pc, err := NewPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	dc, err := pc.CreateDataChannel("control", nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	link := newDataLink(remoteID, pc, dc)
	openCh := make(chan struct{})
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(openCh) })
	})

	pd := &pendingDial{remoteID: remoteID, pc: pc, link: link, openCh: openCh}
	c.mu.Lock()
	if c.pending != nil {
		c.pending.link.Close()
	}
	c.pending = pd
	c.mu.Unlock()

	fail := func(err error) (channel.Link, error) {
		c.clearPending(pd)
		link.Close()
		return nil, err
	}

	// Trickle ICE candidates to the counterpart.
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		data, _ := json.Marshal(cand.ToJSON())
		c.sendEnvelope(signal.Envelope{
			Type:      signal.TypeCandidate,
			To:        remoteID,
			Kind:      signal.KindData,
			Candidate: string(data),
		})
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail(fmt.Errorf("create offer: %w", err))
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail(fmt.Errorf("set local description: %w", err))
	}
	if err := c.sig.Send(signal.Envelope{
		Type: signal.TypeOffer,
		To:   remoteID,
		Kind: signal.KindData,
		SDP:  offer.SDP,
	}); err != nil {
		return fail(fmt.Errorf("send offer: %w", err))
	}

	select {
	case <-openCh:
		c.clearPending(pd)
		return link, nil
	case <-link.closed:
		c.clearPending(pd)
		return nil, fmt.Errorf("connection to %q failed before channel opened", remoteID)
	case <-ctx.Done():
		return fail(ctx.Err())
	}
}

// HandleEnvelope processes one KindData envelope from the rendezvous
// service. The app layer routes envelopes here by kind.
func (c *Connector) HandleEnvelope(env signal.Envelope) {
	switch env.Type {
	case signal.TypeOffer:
		c.handleOffer(env)
	case signal.TypeAnswer:
		c.handleAnswer(env)
	case signal.TypeCandidate:
		c.handleCandidate(env)
	}
}

// handleOffer answers a remotely initiated data channel. The resulting link
// is surfaced via OnInboundLink once the channel opens; whether it is kept
// is the channel manager's first-open-wins decision.
func (c *Connector) handleOffer(env signal.Envelope) {
	pc, err := NewPeerConnection()
	if err != nil {
		util.LogWarning("inbound offer: create peer connection: %v", err)
		return
	}

	remoteID := env.From
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		link := newDataLink(remoteID, pc, dc)
		dc.OnOpen(func() {
			if c.onInbound != nil {
				c.onInbound(link)
			}
		})
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		data, _ := json.Marshal(cand.ToJSON())
		c.sendEnvelope(signal.Envelope{
			Type:      signal.TypeCandidate,
			To:        remoteID,
			Kind:      signal.KindData,
			Candidate: string(data),
		})
	})

	c.mu.Lock()
	if old, ok := c.inbound[remoteID]; ok {
		old.pc.Close()
	}
	c.inbound[remoteID] = &inboundPC{pc: pc}
	c.mu.Unlock()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: env.SDP,
	}); err != nil {
		util.LogWarning("inbound offer: set remote description: %v", err)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		util.LogWarning("inbound offer: create answer: %v", err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		util.LogWarning("inbound offer: set local description: %v", err)
		return
	}
	c.sendEnvelope(signal.Envelope{
		Type: signal.TypeAnswer,
		To:   remoteID,
		Kind: signal.KindData,
		SDP:  answer.SDP,
	})
}

func (c *Connector) handleAnswer(env signal.Envelope) {
	c.mu.Lock()
	pd := c.pending
	c.mu.Unlock()

	if pd == nil || pd.remoteID != env.From {
		util.LogDebug("stray data answer from %q ignored", env.From)
		return
	}
	if err := pd.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer, SDP: env.SDP,
	}); err != nil {
		util.LogDebug("set remote answer: %v", err)
	}
}

// handleCandidate adds a trickled ICE candidate to whichever negotiation is
// in flight with the sender: the local dial, the inbound answer, or both
// when attempts crossed on the wire.
func (c *Connector) handleCandidate(env signal.Envelope) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(env.Candidate), &init); err != nil {
		util.LogDebug("parse ICE candidate: %v", err)
		return
	}

	c.mu.Lock()
	pd := c.pending
	in := c.inbound[env.From]
	c.mu.Unlock()

	if pd != nil && pd.remoteID == env.From {
		if err := pd.pc.AddICECandidate(init); err != nil {
			util.LogDebug("add ICE candidate (dial): %v", err)
		}
	}
	if in != nil {
		if err := in.pc.AddICECandidate(init); err != nil {
			util.LogDebug("add ICE candidate (inbound): %v", err)
		}
	}
}

func (c *Connector) clearPending(pd *pendingDial) {
	c.mu.Lock()
	if c.pending == pd {
		c.pending = nil
	}
	c.mu.Unlock()
}

// sendEnvelope relays an envelope best-effort; while the rendezvous
// connection is down the counterpart cannot progress anyway.
func (c *Connector) sendEnvelope(env signal.Envelope) {
	if err := c.sig.Send(env); err != nil {
		util.LogDebug("signal send failed: %v", err)
	}
}
