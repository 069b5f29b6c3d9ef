package call

import (
	"context"
	"errors"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
)

// ErrNoMedia is returned when no camera or microphone can be acquired. It is
// surfaced to the user as an actionable permission/hardware message, never
// swallowed into a half-connected call.
var ErrNoMedia = errors.New("no local media device could be acquired")

// LocalMedia is a bundle of local tracks attached to an outgoing call leg.
// Close releases the underlying capture devices.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	Close() error
}

// MediaSource acquires camera+microphone media on demand. The field endpoint
// uses the mediadevices implementation; tests substitute fakes.
type MediaSource interface {
	Acquire(ctx context.Context) (LocalMedia, error)
}

// trackMedia adapts a slice of mediadevices tracks to LocalMedia.
type trackMedia struct {
	tracks []mediadevices.Track
}

func (m *trackMedia) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(m.tracks))
	for _, t := range m.tracks {
		out = append(out, t)
	}
	return out
}

func (m *trackMedia) Close() error {
	var err error
	for _, t := range m.tracks {
		err = errors.Join(err, t.Close())
	}
	return err
}

// addRecvOnlyTransceivers adds recvonly video and audio transceivers so an
// offer without local media still produces valid m-lines and invites the
// counterpart's media.
func addRecvOnlyTransceivers(pc *webrtc.PeerConnection) error {
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}
	return nil
}
