package annotate

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// strokeRadius is half the stroke width in pixels.
const strokeRadius = 2

// arrowHeadLen is the length of an arrow head's sides in pixels.
const arrowHeadLen = 16

// Render draws the captured frame onto dst and burns the shapes in on top,
// in slice order. It is a pure function of its inputs; shape mutation and
// compositing never touch the same state directly.
func Render(dst *image.RGBA, frame image.Image, shapes []Shape) {
	draw.Draw(dst, dst.Bounds(), frame, frame.Bounds().Min, draw.Src)
	for _, s := range shapes {
		drawShape(dst, s)
	}
}

func drawShape(dst *image.RGBA, s Shape) {
	switch s.Tool {
	case ToolFreehand:
		drawPolyline(dst, s.Points, s.Color)
	case ToolLine:
		drawSegment(dst, s.Start, s.End, s.Color)
	case ToolArrow:
		drawArrow(dst, s.Start, s.End, s.Color)
	case ToolRect:
		drawRectOutline(dst, s.Start, s.End, s.Color)
	case ToolCircle:
		drawEllipseOutline(dst, s.Start, s.End, s.Color)
	case ToolText:
		drawText(dst, s.Start, s.Text, s.Color)
	}
}

// stamp fills a (2r+1)-square brush footprint at p, clipped to dst.
func stamp(dst *image.RGBA, p image.Point, col color.RGBA) {
	b := dst.Bounds()
	for y := p.Y - strokeRadius; y <= p.Y+strokeRadius; y++ {
		for x := p.X - strokeRadius; x <= p.X+strokeRadius; x++ {
			if x >= b.Min.X && x < b.Max.X && y >= b.Min.Y && y < b.Max.Y {
				dst.Set(x, y, col)
			}
		}
	}
}

// drawSegment strokes a line with the brush using Bresenham stepping.
func drawSegment(dst *image.RGBA, a, b image.Point, col color.RGBA) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	err := dx + dy

	x, y := a.X, a.Y
	for {
		stamp(dst, image.Point{X: x, Y: y}, col)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func drawPolyline(dst *image.RGBA, pts []image.Point, col color.RGBA) {
	if len(pts) == 1 {
		stamp(dst, pts[0], col)
		return
	}
	for i := 1; i < len(pts); i++ {
		drawSegment(dst, pts[i-1], pts[i], col)
	}
}

// drawArrow strokes the shaft then a triangular head whose barbs are rotated
// off the shaft's angle.
func drawArrow(dst *image.RGBA, a, b image.Point, col color.RGBA) {
	drawSegment(dst, a, b, col)

	angle := math.Atan2(float64(b.Y-a.Y), float64(b.X-a.X))
	for _, off := range []float64{math.Pi * 5 / 6, -math.Pi * 5 / 6} {
		barb := image.Point{
			X: b.X + int(arrowHeadLen*math.Cos(angle+off)),
			Y: b.Y + int(arrowHeadLen*math.Sin(angle+off)),
		}
		drawSegment(dst, b, barb, col)
	}
}

func drawRectOutline(dst *image.RGBA, a, b image.Point, col color.RGBA) {
	r := image.Rectangle{Min: a, Max: b}.Canon()
	tl := r.Min
	br := r.Max
	tr := image.Point{X: br.X, Y: tl.Y}
	bl2 := image.Point{X: tl.X, Y: br.Y}
	drawSegment(dst, tl, tr, col)
	drawSegment(dst, tr, br, col)
	drawSegment(dst, br, bl2, col)
	drawSegment(dst, bl2, tl, col)
}

// drawEllipseOutline strokes the ellipse inscribed in the bounding box
// spanned by a and b.
func drawEllipseOutline(dst *image.RGBA, a, b image.Point, col color.RGBA) {
	r := image.Rectangle{Min: a, Max: b}.Canon()
	cx := float64(r.Min.X+r.Max.X) / 2
	cy := float64(r.Min.Y+r.Max.Y) / 2
	rx := float64(r.Dx()) / 2
	ry := float64(r.Dy()) / 2
	if rx < 1 && ry < 1 {
		stamp(dst, image.Point{X: int(cx), Y: int(cy)}, col)
		return
	}

	// Step count proportional to the perimeter keeps the outline gapless.
	steps := int(2 * math.Pi * math.Max(rx, ry))
	if steps < 16 {
		steps = 16
	}
	prev := image.Point{X: int(cx + rx), Y: int(cy)}
	for i := 1; i <= steps; i++ {
		t := 2 * math.Pi * float64(i) / float64(steps)
		cur := image.Point{
			X: int(cx + rx*math.Cos(t)),
			Y: int(cy + ry*math.Sin(t)),
		}
		drawSegment(dst, prev, cur, col)
		prev = cur
	}
}

func drawText(dst *image.RGBA, anchor image.Point, text string, col color.RGBA) {
	if text == "" {
		return
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(anchor.X, anchor.Y),
	}
	d.DrawString(text)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
