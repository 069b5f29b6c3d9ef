package call

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"

	"github.com/genbalink/genbalink/internal/peer"
	"github.com/genbalink/genbalink/internal/util"
)

// newMediaPC builds a PeerConnection for one call leg. When a codec selector
// is given, the media engine is populated from it so mediadevices tracks can
// be attached; otherwise the default codecs are registered (receive-only
// legs and platforms without local encoders).
func newMediaPC(selector *mediadevices.CodecSelector) (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if selector != nil {
		selector.Populate(mediaEngine)
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	// Generous ICE timeouts: a brief NAT or relay hiccup must not terminate
	// the call. The 5 s default disconnectedTimeout is too aggressive for
	// field networks.
	settingEngine := webrtc.SettingEngine{LoggerFactory: util.PionLoggerFactory{}}
	settingEngine.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(settingEngine),
	)
	return api.NewPeerConnection(peer.Config())
}
