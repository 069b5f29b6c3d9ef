package annotate

import (
	"image"
	"sync"
)

// Mapper translates pointer coordinates from the on-screen element's
// rendered size to the capture surface's native pixel size. Pointer events
// carry rendered coordinates; shapes must be stored in native coordinates or
// they land in the wrong place whenever the view is scaled.
type Mapper struct {
	mu                   sync.Mutex
	renderedW, renderedH int
	nativeW, nativeH     int
}

// NewMapper returns a mapper with no sizes set; Map is the identity until
// both sizes are known.
func NewMapper() *Mapper { return &Mapper{} }

// SetRendered records the on-screen element size.
func (m *Mapper) SetRendered(w, h int) {
	m.mu.Lock()
	m.renderedW, m.renderedH = w, h
	m.mu.Unlock()
}

// SetNative records the capture surface's pixel size. The compositor calls
// this on the first frame and on every resolution change.
func (m *Mapper) SetNative(w, h int) {
	m.mu.Lock()
	m.nativeW, m.nativeH = w, h
	m.mu.Unlock()
}

// Map converts a rendered-space point to native canvas space by ratio
// scaling.
func (m *Mapper) Map(p image.Point) image.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.renderedW <= 0 || m.renderedH <= 0 || m.nativeW <= 0 || m.nativeH <= 0 {
		return p
	}
	return image.Point{
		X: p.X * m.nativeW / m.renderedW,
		Y: p.Y * m.nativeH / m.renderedH,
	}
}
