// Package app assembles the engine behind one facade: identity resolution,
// the rendezvous session, the control channel, call orchestration, and the
// screen-annotation compositor. The UI layer drives it exclusively through
// this surface.
package app

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/genbalink/genbalink/internal/annotate"
	"github.com/genbalink/genbalink/internal/call"
	"github.com/genbalink/genbalink/internal/channel"
	"github.com/genbalink/genbalink/internal/config"
	"github.com/genbalink/genbalink/internal/identity"
	"github.com/genbalink/genbalink/internal/peer"
	"github.com/genbalink/genbalink/internal/session"
	"github.com/genbalink/genbalink/internal/signal"
	"github.com/genbalink/genbalink/internal/util"

	"github.com/pion/mediadevices"
)

// alertClearAfter is how long a received alert stays raised before it clears
// itself.
const alertClearAfter = 5 * time.Second

// chatDedupeLimit bounds the remembered chat message ids. The channel is
// reliable and ordered, but a reconnect can replay the sender's unacked
// tail, so receivers deduplicate on message id.
const chatDedupeLimit = 256

// Core is the engine facade for one endpoint process.
type Core struct {
	cfg      config.Endpoint
	id       identity.Identity
	selector *mediadevices.CodecSelector

	sup       *session.Supervisor
	connector *peer.Connector
	channels  *channel.Manager
	calls     *call.Orchestrator

	layer  *annotate.Layer
	mapper *annotate.Mapper

	mu         sync.Mutex
	share      *annotate.Session
	seen       map[string]struct{}
	seenOrder  []string
	alertTimer *time.Timer

	onChat            func(channel.ChatPayload)
	onAlert           func(active bool)
	onStreamRequested func()
	onCallState       func(call.State)
	onStatus          func(string)
	onConflict        func(error)
	onMediaError      func(error)

	startCall func() error
}

// New assembles a Core from the endpoint configuration.
func New(cfg config.Endpoint) (*Core, error) {
	id, err := identity.Resolve(cfg.Role, cfg.SiteID)
	if err != nil {
		return nil, err
	}

	c := &Core{
		cfg:   cfg,
		id:    id,
		layer: annotate.NewLayer(),
		seen:  make(map[string]struct{}),
	}
	c.mapper = annotate.NewMapper()

	selector, err := call.NewCodecSelector()
	if err != nil {
		util.LogWarning("codec selector unavailable, outgoing media disabled: %v", err)
		selector = nil
	}
	c.selector = selector

	c.sup = session.New(cfg.SignalURL, cfg.Token)
	c.connector = peer.NewConnector(id.PeerID, c.sup)

	remote := id.Counterpart().PeerID
	c.channels, err = channel.NewManager(id.PeerID, remote, c.connector)
	if err != nil {
		return nil, err
	}

	c.calls = call.NewOrchestrator(
		id.Role,
		remote,
		c.sup,
		call.NewUserMedia(selector),
		selector,
		func(st call.State) {
			if c.onCallState != nil {
				c.onCallState(st)
			}
		},
		func(kind string) {
			util.LogInfo("receiving remote %s from %q", kind, remote)
		},
	)
	c.calls.SetExternalMedia(c.activeShare)
	c.calls.OnPermissionError(func(err error) {
		if c.onMediaError != nil {
			c.onMediaError(err)
		}
	})
	c.startCall = c.calls.StartCall

	c.sup.OnEnvelope(c.route)
	c.sup.OnStatusChange(func(msg string) {
		if c.onStatus != nil {
			c.onStatus(msg)
		}
	})
	c.sup.OnFatalIDConflict(func(err error) {
		if c.onConflict != nil {
			c.onConflict(err)
		}
	})
	c.connector.OnInboundLink(c.channels.AcceptInbound)

	c.channels.Subscribe(channel.TypeChat, c.handleChat)
	c.channels.Subscribe(channel.TypeAlert, c.handleAlert)
	c.channels.Subscribe(channel.TypeRequestStream, c.handleStreamRequest)

	return c, nil
}

// Callback registration. Set before Start; not guarded afterwards.

func (c *Core) OnChat(fn func(channel.ChatPayload)) { c.onChat = fn }
func (c *Core) OnAlert(fn func(active bool))        { c.onAlert = fn }
func (c *Core) OnStreamRequested(fn func())         { c.onStreamRequested = fn }
func (c *Core) OnCallState(fn func(call.State))     { c.onCallState = fn }
func (c *Core) OnStatusMessage(fn func(string))     { c.onStatus = fn }
func (c *Core) OnIDConflict(fn func(error))         { c.onConflict = fn }
func (c *Core) OnMediaError(fn func(error))         { c.onMediaError = fn }

// Identity returns the resolved local identity.
func (c *Core) Identity() identity.Identity { return c.id }

// Start brings the engine up: call legs and the channel retry cadence bind
// to ctx, then the rendezvous session connects.
func (c *Core) Start(ctx context.Context) {
	c.calls.Start(ctx)
	c.channels.Start(ctx)
	c.sup.Start(c.id)
}

// Stop tears the engine down: any live call ends, the screen share stops,
// the channel retry cadence is cancelled, and the rendezvous session closes.
func (c *Core) Stop() {
	c.calls.EndCall()
	c.StopScreenShare()
	c.channels.Stop()
	c.sup.Stop()

	c.mu.Lock()
	if c.alertTimer != nil {
		c.alertTimer.Stop()
		c.alertTimer = nil
	}
	c.mu.Unlock()
}

// Status returns the rendezvous session status.
func (c *Core) Status() session.Status { return c.sup.Status() }

// ChannelOpen reports whether the control channel is currently open.
func (c *Core) ChannelOpen() bool { return c.channels.Open() }

// CallState returns the current call state.
func (c *Core) CallState() call.State { return c.calls.State() }

// SendChat sends a chat message to the counterpart and returns the payload
// for the sender's own log. Delivery is best-effort while the channel is
// down.
func (c *Core) SendChat(body string) (channel.ChatPayload, error) {
	p := channel.ChatPayload{
		ID:     uuid.NewString(),
		From:   c.id.PeerID,
		Body:   body,
		SentAt: time.Now(),
	}
	msg, err := channel.NewChat(p)
	if err != nil {
		return channel.ChatPayload{}, err
	}
	c.channels.Send(msg)
	return p, nil
}

// SendAlert raises the attention signal on the counterpart.
func (c *Core) SendAlert() {
	c.channels.Send(channel.Message{Type: channel.TypeAlert})
}

// RequestStream asks the counterpart to start sending its media. The field
// endpoint responds by placing a call carrying its camera.
func (c *Core) RequestStream() {
	c.channels.Send(channel.Message{Type: channel.TypeRequestStream})
}

// StartCall places a call toward the counterpart.
func (c *Core) StartCall() error { return c.calls.StartCall() }

// AcceptCall accepts the ringing incoming call.
func (c *Core) AcceptCall() error { return c.calls.AcceptCall() }

// EndCall cancels, declines, or hangs up depending on the current state.
func (c *Core) EndCall() { c.calls.EndCall() }

// StartScreenShare begins display capture with annotation compositing. When
// a call is connected the outgoing stream switches to the composite.
func (c *Core) StartScreenShare() error {
	c.mu.Lock()
	if c.share != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	s, err := annotate.Start(c.selector, c.layer, c.mapper)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.share = s
	c.mu.Unlock()

	c.calls.RefreshOutbound()
	return nil
}

// StopScreenShare releases the capture and clears the annotation layer. A
// connected call falls back to the camera (field) or receive-only (console).
func (c *Core) StopScreenShare() {
	c.mu.Lock()
	s := c.share
	c.share = nil
	c.mu.Unlock()

	if s == nil {
		return
	}
	s.Close()
	c.calls.RefreshOutbound()
}

// ScreenShareActive reports whether a capture session is running.
func (c *Core) ScreenShareActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.share != nil
}

// Annotation input. Pointer coordinates are in the rendered view's space and
// are mapped to the capture's native pixels before they are stored.

// SetViewSize records the rendered size of the on-screen view.
func (c *Core) SetViewSize(w, h int) { c.mapper.SetRendered(w, h) }

// PointerDown begins a new shape at the given view coordinates.
func (c *Core) PointerDown(tool annotate.Tool, col color.RGBA, x, y int) {
	c.layer.PointerDown(tool, col, c.mapper.Map(image.Pt(x, y)))
}

// PointerMove extends the in-progress shape.
func (c *Core) PointerMove(x, y int) {
	c.layer.PointerMove(c.mapper.Map(image.Pt(x, y)))
}

// PointerUp commits the in-progress shape.
func (c *Core) PointerUp() { c.layer.PointerUp() }

// PlaceText commits a text annotation at the given view coordinates.
func (c *Core) PlaceText(col color.RGBA, x, y int, text string) {
	c.layer.PlaceText(col, c.mapper.Map(image.Pt(x, y)), text)
}

// ClearAnnotations empties the committed shapes without touching the capture
// session.
func (c *Core) ClearAnnotations() { c.layer.Clear() }

// activeShare exposes the running screen-share session to the call engine as
// external local media.
func (c *Core) activeShare() call.LocalMedia {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.share == nil {
		return nil
	}
	return c.share
}

// route fans rendezvous envelopes out by kind: media negotiation to the call
// orchestrator, everything else to the data channel connector.
func (c *Core) route(env signal.Envelope) {
	if env.Kind == signal.KindMedia {
		c.calls.HandleEnvelope(env)
		return
	}
	c.connector.HandleEnvelope(env)
}

func (c *Core) handleChat(msg channel.Message) {
	p, err := channel.DecodeChat(msg)
	if err != nil {
		util.LogDebug("%v", err)
		return
	}
	if c.seenBefore(p.ID) {
		util.LogDebug("duplicate chat %s dropped", p.ID)
		return
	}
	if c.onChat != nil {
		c.onChat(p)
	}
}

// handleAlert raises the alert and arms (or re-arms) its auto-clear.
func (c *Core) handleAlert(channel.Message) {
	if c.onAlert != nil {
		c.onAlert(true)
	}

	c.mu.Lock()
	if c.alertTimer != nil {
		c.alertTimer.Stop()
	}
	c.alertTimer = time.AfterFunc(alertClearAfter, func() {
		if c.onAlert != nil {
			c.onAlert(false)
		}
	})
	c.mu.Unlock()
}

// handleStreamRequest starts sending our media when the counterpart asks for
// it. Only the field endpoint owns a camera to offer; the console just
// surfaces the request.
func (c *Core) handleStreamRequest(channel.Message) {
	if c.onStreamRequested != nil {
		c.onStreamRequested()
	}
	if c.id.Role != identity.RoleField {
		return
	}
	if err := c.startCall(); err != nil {
		util.LogDebug("stream request while %s: %v", c.calls.State(), err)
	}
}

// seenBefore records id and reports whether it was already known. The window
// is bounded FIFO.
func (c *Core) seenBefore(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[id]; ok {
		return true
	}
	c.seen[id] = struct{}{}
	c.seenOrder = append(c.seenOrder, id)
	if len(c.seenOrder) > chatDedupeLimit {
		oldest := c.seenOrder[0]
		c.seenOrder = c.seenOrder[1:]
		delete(c.seen, oldest)
	}
	return false
}
