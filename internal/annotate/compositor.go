package annotate

import (
	"image"

	"github.com/google/uuid"
	"github.com/pion/mediadevices/pkg/io/video"

	"github.com/genbalink/genbalink/internal/util"
)

// Compositor is a mediadevices video source that replays a captured display
// stream with the annotation layer burned into every frame. The encoder
// pulls frames through Read at the source's own pace.
type Compositor struct {
	src      video.Reader
	layer    *Layer
	id       string
	canvas   *image.RGBA
	onResize func(w, h int)
	closeFn  func() error
}

// NewCompositor wraps a captured frame reader. onResize, if non-nil, fires
// with the native resolution on the first frame and on every change.
// closeFn, if non-nil, runs when the encoder closes the source.
func NewCompositor(src video.Reader, layer *Layer, onResize func(w, h int), closeFn func() error) *Compositor {
	return &Compositor{
		src:      src,
		layer:    layer,
		id:       uuid.NewString(),
		onResize: onResize,
		closeFn:  closeFn,
	}
}

// Read pulls one captured frame and returns it with the current shape
// snapshot rendered on top. The canvas is resized whenever the source
// resolution changes. Only buffered shape state is touched; Read never
// blocks on anything but the capture source itself.
func (c *Compositor) Read() (image.Image, func(), error) {
	img, release, err := c.src.Read()
	if err != nil {
		return nil, func() {}, err
	}

	bounds := img.Bounds()
	if c.canvas == nil || c.canvas.Bounds() != bounds {
		c.canvas = image.NewRGBA(bounds)
		if c.onResize != nil {
			c.onResize(bounds.Dx(), bounds.Dy())
		}
	}

	Render(c.canvas, img, c.layer.Snapshot())
	if release != nil {
		release()
	}
	util.Stats.AddFrame()
	return c.canvas, func() {}, nil
}

// ID identifies the synthetic source toward mediadevices.
func (c *Compositor) ID() string { return c.id }

// Close stops the composite source.
func (c *Compositor) Close() error {
	if c.closeFn != nil {
		return c.closeFn()
	}
	return nil
}
