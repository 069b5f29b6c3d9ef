//go:build linux && cgo

package call

import (
	"context"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"

	"github.com/genbalink/genbalink/internal/util"
)

// NewCodecSelector builds the VP8+Opus selector shared by every local media
// producer (camera, microphone, annotation composite). One selector per
// process so all outgoing tracks negotiate the same codecs.
func NewCodecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

// userMedia acquires camera+microphone via pion/mediadevices (V4L2 + malgo).
type userMedia struct {
	selector *mediadevices.CodecSelector
}

// NewUserMedia returns the camera+microphone MediaSource.
func NewUserMedia(selector *mediadevices.CodecSelector) MediaSource {
	return &userMedia{selector: selector}
}

// Acquire captures local media. GetUserMedia fails as a unit when either
// track cannot be opened, so it degrades through video+audio, video-only,
// audio-only before giving up with ErrNoMedia.
func (u *userMedia) Acquire(_ context.Context) (LocalMedia, error) {
	type attempt struct {
		video bool
		audio bool
		label string
	}
	for _, a := range []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	} {
		constraints := mediadevices.MediaStreamConstraints{Codec: u.selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw frame formats only; some cameras expose an MJPEG node
				// that produces malformed frames and poisons the VP8 encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 1280}
				c.Height = prop.IntRanged{Max: 720}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			util.LogDebug("GetUserMedia (%s) failed: %v", a.label, err)
			continue
		}

		tracks := stream.GetTracks()
		for _, t := range tracks {
			t.OnEnded(func(err error) {
				if err != nil {
					util.LogDebug("local track ended: %v", err)
				}
			})
		}
		util.LogInfo("local media captured (%s): %d tracks", a.label, len(tracks))
		return &trackMedia{tracks: tracks}, nil
	}

	return nil, ErrNoMedia
}
