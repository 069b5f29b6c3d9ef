package annotate

import (
	"errors"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
)

// ErrNoCapture is returned by Start when display capture is unavailable on
// this platform.
var ErrNoCapture = errors.New("display capture is not supported on this platform")

// Session is an active screen-share: the display capture, its annotation
// layer, and the composite outgoing track. It satisfies the call engine's
// local-media contract, so a connected call can carry the composite
// directly.
type Session struct {
	track     mediadevices.Track
	captured  []mediadevices.Track
	layer     *Layer
	closeOnce sync.Once
	closeErr  error
}

// Tracks returns the single composite video track.
func (s *Session) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

// Close releases the composite track and the underlying capture, then
// clears the annotation layer. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		errs := []error{s.track.Close()}
		for _, t := range s.captured {
			errs = append(errs, t.Close())
		}
		s.layer.Reset()
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
