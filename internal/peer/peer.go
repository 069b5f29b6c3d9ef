// Package peer provides the WebRTC plumbing: peer connection construction,
// the data channel link implementation, and the connector that turns
// rendezvous envelopes into established links.
package peer

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/genbalink/genbalink/internal/util"
)

// STUN servers for ICE candidate gathering. No TURN; the product targets
// direct connectivity between console and field terminal.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config returns the PeerConnection configuration shared by data and media
// connections.
func Config() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	}
}

// NewPeerConnection creates a PeerConnection with default codecs and
// interceptors, routing pion-internal logs through the shared logger.
func NewPeerConnection() (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	settingEngine := webrtc.SettingEngine{LoggerFactory: util.PionLoggerFactory{}}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(settingEngine),
	)
	return api.NewPeerConnection(Config())
}
