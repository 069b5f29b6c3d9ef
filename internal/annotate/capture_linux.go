//go:build linux && cgo

package annotate

import (
	"errors"
	"fmt"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/screen"

	"github.com/genbalink/genbalink/internal/util"
)

// Start opens a display capture and returns a session whose outgoing track
// is the captured surface with the layer's annotations burned in. The
// mapper learns the capture's native resolution from the compositor.
func Start(selector *mediadevices.CodecSelector, layer *Layer, mapper *Mapper) (*Session, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: selector,
		Video: func(_ *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, fmt.Errorf("display capture: %w", err)
	}

	captured := stream.GetTracks()
	videos := stream.GetVideoTracks()
	if len(videos) == 0 {
		for _, t := range captured {
			t.Close()
		}
		return nil, errors.New("display capture: no video track")
	}
	src, ok := videos[0].(*mediadevices.VideoTrack)
	if !ok {
		for _, t := range captured {
			t.Close()
		}
		return nil, errors.New("display capture: unexpected track type")
	}

	comp := NewCompositor(src.NewReader(false), layer, mapper.SetNative, nil)
	track := mediadevices.NewVideoTrack(comp, selector)
	util.LogInfo("screen capture started")
	return &Session{track: track, captured: captured, layer: layer}, nil
}
