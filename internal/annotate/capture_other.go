//go:build !linux || !cgo

package annotate

import "github.com/pion/mediadevices"

// Start reports ErrNoCapture; display capture is only bundled on Linux.
func Start(_ *mediadevices.CodecSelector, _ *Layer, _ *Mapper) (*Session, error) {
	return nil, ErrNoCapture
}
