package annotate

import (
	"image"
	"image/color"
	"image/draw"
	"testing"
)

func grayFrame(w, h int) *image.RGBA {
	frame := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(frame, frame.Bounds(), image.NewUniform(color.RGBA{R: 40, G: 40, B: 40, A: 255}), image.Point{}, draw.Src)
	return frame
}

func hasColor(img *image.RGBA, want color.RGBA) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.RGBAAt(x, y) == want {
				return true
			}
		}
	}
	return false
}

// TestRenderDrawsEachTool verifies every tool leaves its color on the canvas.
func TestRenderDrawsEachTool(t *testing.T) {
	testCases := []struct {
		name  string
		shape Shape
	}{
		{"line", Shape{Tool: ToolLine, Color: red, Start: image.Pt(10, 10), End: image.Pt(80, 80)}},
		{"arrow", Shape{Tool: ToolArrow, Color: red, Start: image.Pt(10, 50), End: image.Pt(80, 50)}},
		{"rect", Shape{Tool: ToolRect, Color: red, Start: image.Pt(20, 20), End: image.Pt(60, 40)}},
		{"circle", Shape{Tool: ToolCircle, Color: red, Start: image.Pt(20, 20), End: image.Pt(70, 70)}},
		{"freehand", Shape{Tool: ToolFreehand, Color: red, Points: []image.Point{{X: 5, Y: 5}, {X: 30, Y: 10}, {X: 35, Y: 40}}}},
		{"text", Shape{Tool: ToolText, Color: red, Start: image.Pt(10, 50), Text: "valve"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dst := image.NewRGBA(image.Rect(0, 0, 100, 100))
			Render(dst, grayFrame(100, 100), []Shape{tc.shape})
			if !hasColor(dst, red) {
				t.Errorf("%s left no pixels on the canvas", tc.name)
			}
		})
	}
}

// TestRectangleEdges verifies the rectangle outline touches all four sides
// of its bounding box, regardless of drag direction.
func TestRectangleEdges(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 100, 100))
	// Dragged from bottom-right to top-left.
	Render(dst, grayFrame(100, 100), []Shape{
		{Tool: ToolRect, Color: red, Start: image.Pt(70, 60), End: image.Pt(30, 20)},
	})

	for _, p := range []image.Point{{X: 50, Y: 20}, {X: 50, Y: 60}, {X: 30, Y: 40}, {X: 70, Y: 40}} {
		if dst.RGBAAt(p.X, p.Y) != red {
			t.Errorf("edge pixel %v not stroked", p)
		}
	}
	if dst.RGBAAt(50, 40) == red {
		t.Error("rectangle interior was filled, want outline only")
	}
}

// TestClearedShapesAbsentFromRender verifies the compositing contract: a
// shape committed before clear is absent from every later frame, one
// committed after clear is present.
func TestClearedShapesAbsentFromRender(t *testing.T) {
	l := NewLayer()
	l.PointerDown(ToolRect, red, image.Pt(10, 10))
	l.PointerMove(image.Pt(40, 40))
	l.PointerUp()

	dst := image.NewRGBA(image.Rect(0, 0, 100, 100))
	Render(dst, grayFrame(100, 100), l.Snapshot())
	if !hasColor(dst, red) {
		t.Fatal("committed rectangle not rendered")
	}

	l.Clear()
	Render(dst, grayFrame(100, 100), l.Snapshot())
	if hasColor(dst, red) {
		t.Error("cleared rectangle still present in rendered frame")
	}

	blue := color.RGBA{B: 0xff, A: 0xff}
	l.PointerDown(ToolLine, blue, image.Pt(5, 5))
	l.PointerMove(image.Pt(90, 90))
	l.PointerUp()
	Render(dst, grayFrame(100, 100), l.Snapshot())
	if !hasColor(dst, blue) {
		t.Error("shape committed after clear missing from rendered frame")
	}
}

// TestRenderClipsOutOfBoundsShapes verifies shapes partly outside the canvas
// do not panic and still draw their visible part.
func TestRenderClipsOutOfBoundsShapes(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 50, 50))
	Render(dst, grayFrame(50, 50), []Shape{
		{Tool: ToolLine, Color: red, Start: image.Pt(-20, 25), End: image.Pt(70, 25)},
	})
	if dst.RGBAAt(25, 25) != red {
		t.Error("clipped line missing its on-canvas segment")
	}
}
