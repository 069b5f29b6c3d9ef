package peer

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/genbalink/genbalink/internal/util"
)

// dataLink implements channel.Link over one PeerConnection + DataChannel
// pair. The channel is created with default init: reliable and ordered.
type dataLink struct {
	remoteID string
	pc       *webrtc.PeerConnection
	dc       *webrtc.DataChannel

	closeOnce sync.Once
	closed    chan struct{}
}

func newDataLink(remoteID string, pc *webrtc.PeerConnection, dc *webrtc.DataChannel) *dataLink {
	l := &dataLink{
		remoteID: remoteID,
		pc:       pc,
		dc:       dc,
		closed:   make(chan struct{}),
	}

	dc.OnClose(l.fireClosed)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("data peer connection state: %s", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			l.fireClosed()
		}
	})

	return l
}

func (l *dataLink) fireClosed() {
	l.closeOnce.Do(func() { close(l.closed) })
}

func (l *dataLink) RemoteID() string { return l.remoteID }

func (l *dataLink) Send(data []byte) error {
	select {
	case <-l.closed:
		return errors.New("link is closed")
	default:
	}
	return l.dc.Send(data)
}

func (l *dataLink) OnMessage(fn func(data []byte)) {
	l.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

// OnClose fires fn exactly once, when the data channel or the underlying
// peer connection goes away.
func (l *dataLink) OnClose(fn func()) {
	go func() {
		<-l.closed
		fn()
	}()
}

func (l *dataLink) Close() error {
	l.fireClosed()
	return errors.Join(l.dc.Close(), l.pc.Close())
}
