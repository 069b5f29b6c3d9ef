//go:build !linux || !cgo

package call

import (
	"context"

	"github.com/pion/mediadevices"
)

// NewCodecSelector returns a nil selector on platforms without bundled codec
// support; call legs fall back to receive-only.
func NewCodecSelector() (*mediadevices.CodecSelector, error) {
	return nil, nil
}

type userMedia struct{}

// NewUserMedia returns a MediaSource whose Acquire always fails with
// ErrNoMedia, so calls on this platform are receive-only.
func NewUserMedia(_ *mediadevices.CodecSelector) MediaSource {
	return &userMedia{}
}

func (u *userMedia) Acquire(_ context.Context) (LocalMedia, error) {
	return nil, ErrNoMedia
}
