package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// Stats is the process-wide session counter.
var Stats = &stats{}

type stats struct {
	MsgsSent     atomic.Int64 // control messages written to the data channel
	MsgsRecv     atomic.Int64 // control messages dispatched to consumers
	ChannelOpens atomic.Int64 // cumulative data channel opens since process start
	Frames       atomic.Int64 // frames composited by the annotation pipeline
	MediaBytes   atomic.Int64 // RTP payload bytes received from remote tracks
}

func (s *stats) AddSent()            { s.MsgsSent.Add(1) }
func (s *stats) AddRecv()            { s.MsgsRecv.Add(1) }
func (s *stats) AddOpen()            { s.ChannelOpens.Add(1) }
func (s *stats) AddFrame()           { s.Frames.Add(1) }
func (s *stats) AddMediaBytes(n int) { s.MediaBytes.Add(int64(n)) }

// StartStatsReporter launches a goroutine that logs session statistics
// every 10 seconds. It stops when ctx is cancelled. Quiet periods are
// skipped so an idle session does not spam the log.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevFrames, prevMedia int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.MsgsSent.Load()
				recv := Stats.MsgsRecv.Load()
				frames := Stats.Frames.Load()
				media := Stats.MediaBytes.Load()

				dSent := sent - prevSent
				dRecv := recv - prevRecv
				dFrames := frames - prevFrames
				dMedia := media - prevMedia

				if dSent > 0 || dRecv > 0 || dFrames > 0 || dMedia > 0 {
					pterm.DefaultLogger.Info(formatStats(dSent, dRecv, dFrames, dMedia))
				}

				prevSent = sent
				prevRecv = recv
				prevFrames = frames
				prevMedia = media

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB"}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b float64) string {
	unitIdx := 0
	for b > 999 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}
	return fmt.Sprintf("%.1f %s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the last interval's activity.
func formatStats(sent, recv, frames, media int64) string {
	return fmt.Sprintf("Msgs: %d↑ %d↓ | Frames: %d | Media: %s/10s",
		sent, recv, frames, formatBytes(float64(media)))
}
