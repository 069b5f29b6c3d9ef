package call

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/genbalink/genbalink/internal/util"
)

// pliInterval is the cadence of Picture Loss Indication requests for remote
// video tracks, so the sender refreshes keyframes after loss.
const pliInterval = 3 * time.Second

// RemoteSink consumes remote media tracks. Every inbound call leg attaches
// it, so remote media is accepted and drained regardless of the local call
// state.
type RemoteSink struct {
	onTrack func(kind string)
}

// NewRemoteSink creates a sink. onTrack, if non-nil, fires once per arriving
// remote track with its kind ("audio"/"video").
func NewRemoteSink(onTrack func(kind string)) *RemoteSink {
	return &RemoteSink{onTrack: onTrack}
}

// Attach wires the sink to a PeerConnection. Track readers stop when the
// track errors out or ctx is cancelled.
func (s *RemoteSink) Attach(ctx context.Context, pc *webrtc.PeerConnection) {
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		util.LogInfo("remote %s track attached (ssrc=%d)", track.Kind(), track.SSRC())

		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go s.pliLoop(ctx, pc, uint32(track.SSRC()))
		}
		go s.readLoop(track)

		if s.onTrack != nil {
			s.onTrack(track.Kind().String())
		}
	})
}

// pliLoop periodically asks the sender for a keyframe. It exits when the
// PeerConnection is closed or ctx is cancelled.
func (s *RemoteSink) pliLoop(ctx context.Context, pc *webrtc.PeerConnection, ssrc uint32) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readLoop drains RTP from a remote track and feeds the media counters. The
// frame data itself is handed to the platform renderer outside the core.
func (s *RemoteSink) readLoop(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				util.LogDebug("remote track read ended: %v", err)
			}
			return
		}
		util.Stats.AddMediaBytes(payloadSize(pkt))
	}
}

func payloadSize(pkt *rtp.Packet) int {
	return len(pkt.Payload)
}
