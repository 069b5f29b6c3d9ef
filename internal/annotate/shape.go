package annotate

import (
	"image"
	"image/color"
	"sync"

	"github.com/google/uuid"
)

// Tool selects how pointer input is turned into a shape.
type Tool string

const (
	ToolFreehand Tool = "freehand"
	ToolLine     Tool = "line"
	ToolArrow    Tool = "arrow"
	ToolRect     Tool = "rect"
	ToolCircle   Tool = "circle"
	ToolText     Tool = "text"
)

// Shape is one annotation in native canvas coordinates. Committed shapes are
// immutable; only the layer's single in-progress shape mutates.
type Shape struct {
	ID     string
	Tool   Tool
	Color  color.RGBA
	Start  image.Point
	End    image.Point
	Points []image.Point // freehand path
	Text   string
}

// Layer holds the committed shapes in draw order plus at most one
// in-progress shape. Pointer handlers mutate it; the compositing loop only
// ever sees immutable snapshots.
type Layer struct {
	mu         sync.Mutex
	committed  []Shape
	inProgress *Shape
}

// NewLayer returns an empty annotation layer.
func NewLayer() *Layer { return &Layer{} }

// PointerDown begins a new in-progress shape at p. The text tool is not
// drag-driven; use PlaceText once the prompt resolves.
func (l *Layer) PointerDown(tool Tool, col color.RGBA, p image.Point) {
	if tool == ToolText {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s := &Shape{ID: uuid.NewString(), Tool: tool, Color: col, Start: p, End: p}
	if tool == ToolFreehand {
		s.Points = []image.Point{p}
	}
	l.inProgress = s
}

// PointerMove extends the in-progress shape: freehand appends a point, every
// other tool updates the end coordinate.
func (l *Layer) PointerMove(p image.Point) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inProgress == nil {
		return
	}
	if l.inProgress.Tool == ToolFreehand {
		l.inProgress.Points = append(l.inProgress.Points, p)
	}
	l.inProgress.End = p
}

// PointerUp commits the in-progress shape, if any.
func (l *Layer) PointerUp() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inProgress == nil {
		return
	}
	l.committed = append(l.committed, *l.inProgress)
	l.inProgress = nil
}

// PlaceText commits a text shape anchored at p.
func (l *Layer) PlaceText(col color.RGBA, p image.Point, text string) {
	if text == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.committed = append(l.committed, Shape{
		ID: uuid.NewString(), Tool: ToolText, Color: col, Start: p, End: p, Text: text,
	})
}

// Clear empties the committed shapes. The capture session and any
// in-progress drag are unaffected.
func (l *Layer) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.committed = nil
}

// Reset drops everything, committed and in-progress. Called when the capture
// session ends.
func (l *Layer) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.committed = nil
	l.inProgress = nil
}

// Snapshot returns the shapes to render this frame: committed shapes in
// insertion order, then the in-progress shape if one exists. The slice is
// the renderer's to keep.
func (l *Layer) Snapshot() []Shape {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Shape, 0, len(l.committed)+1)
	out = append(out, l.committed...)
	if l.inProgress != nil {
		out = append(out, *l.inProgress)
	}
	return out
}
