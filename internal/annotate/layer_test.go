package annotate

import (
	"image"
	"image/color"
	"testing"
)

var red = color.RGBA{R: 0xff, A: 0xff}

// TestPointerLifecycle verifies down/move/up builds and commits one shape.
func TestPointerLifecycle(t *testing.T) {
	l := NewLayer()

	l.PointerDown(ToolLine, red, image.Pt(10, 10))
	l.PointerMove(image.Pt(50, 60))

	snap := l.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot during drag has %d shapes, want 1", len(snap))
	}
	if snap[0].End != image.Pt(50, 60) {
		t.Errorf("in-progress end = %v, want (50,60)", snap[0].End)
	}

	l.PointerUp()
	snap = l.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot after commit has %d shapes, want 1", len(snap))
	}

	// A second up is a no-op, not a duplicate commit.
	l.PointerUp()
	if got := len(l.Snapshot()); got != 1 {
		t.Errorf("snapshot after repeated up has %d shapes, want 1", got)
	}
}

// TestFreehandAccumulatesPoints verifies move events extend the path.
func TestFreehandAccumulatesPoints(t *testing.T) {
	l := NewLayer()
	l.PointerDown(ToolFreehand, red, image.Pt(0, 0))
	l.PointerMove(image.Pt(1, 1))
	l.PointerMove(image.Pt(2, 3))
	l.PointerUp()

	snap := l.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot has %d shapes, want 1", len(snap))
	}
	if got := len(snap[0].Points); got != 3 {
		t.Errorf("freehand has %d points, want 3", got)
	}
}

// TestClearDropsCommittedOnly verifies clear empties committed shapes but
// keeps an in-progress drag alive.
func TestClearDropsCommittedOnly(t *testing.T) {
	l := NewLayer()
	l.PointerDown(ToolRect, red, image.Pt(0, 0))
	l.PointerUp()
	l.PointerDown(ToolCircle, red, image.Pt(5, 5))

	l.Clear()

	snap := l.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot after clear has %d shapes, want 1 (the drag)", len(snap))
	}
	if snap[0].Tool != ToolCircle {
		t.Errorf("surviving shape is %s, want %s", snap[0].Tool, ToolCircle)
	}
}

// TestShapesAfterClearAreKept verifies drawing continues normally after a
// clear within the same session.
func TestShapesAfterClearAreKept(t *testing.T) {
	l := NewLayer()
	l.PointerDown(ToolLine, red, image.Pt(0, 0))
	l.PointerUp()
	l.Clear()

	l.PointerDown(ToolArrow, red, image.Pt(1, 1))
	l.PointerMove(image.Pt(20, 20))
	l.PointerUp()

	snap := l.Snapshot()
	if len(snap) != 1 || snap[0].Tool != ToolArrow {
		t.Fatalf("snapshot after redraw = %+v, want one arrow", snap)
	}
}

// TestPlaceText commits directly without a drag, and rejects empty text.
func TestPlaceText(t *testing.T) {
	l := NewLayer()
	l.PointerDown(ToolText, red, image.Pt(3, 3))
	if got := len(l.Snapshot()); got != 0 {
		t.Fatalf("text pointer-down created %d shapes, want 0", got)
	}

	l.PlaceText(red, image.Pt(3, 3), "here")
	l.PlaceText(red, image.Pt(9, 9), "")

	snap := l.Snapshot()
	if len(snap) != 1 || snap[0].Text != "here" {
		t.Fatalf("snapshot = %+v, want one text shape", snap)
	}
}

// TestSnapshotIsDetached verifies later mutation does not leak into an
// already-taken snapshot.
func TestSnapshotIsDetached(t *testing.T) {
	l := NewLayer()
	l.PointerDown(ToolLine, red, image.Pt(0, 0))
	l.PointerUp()

	snap := l.Snapshot()
	l.Clear()
	if len(snap) != 1 {
		t.Errorf("snapshot changed after Clear: %d shapes", len(snap))
	}
}
