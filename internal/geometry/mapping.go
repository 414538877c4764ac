// Package geometry maps logical squares onto the pixel grid of a rendered board.
package geometry

import (
	"errors"
	"fmt"

	nchess "github.com/corentings/chess/v2"
)

// ErrMappingUnavailable is returned when the board geometry cannot back a mapping.
var ErrMappingUnavailable = errors.New("board mapping unavailable")

type Orientation int

const (
	WhiteAtBottom Orientation = iota
	BlackAtBottom
)

func (o Orientation) String() string {
	if o == BlackAtBottom {
		return "black-at-bottom"
	}
	return "white-at-bottom"
}

// OrientationFor returns the orientation the UI uses for the side played.
func OrientationFor(c nchess.Color) Orientation {
	if c == nchess.Black {
		return BlackAtBottom
	}
	return WhiteAtBottom
}

type Point struct {
	X float64
	Y float64
}

func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

// Rect is half-open: Min is inside, Max is not.
type Rect struct {
	Min Point
	Max Point
}

// TopLeft is the anchor used for gesture deltas.
func (r Rect) TopLeft() Point { return r.Min }

func (r Rect) Center() Point {
	return Point{X: (r.Min.X + r.Max.X) / 2, Y: (r.Min.Y + r.Max.Y) / 2}
}

func (r Rect) Contains(p Point) bool {
	return p.X >= r.Min.X && p.X < r.Max.X && p.Y >= r.Min.Y && p.Y < r.Max.Y
}

// BoundingBox is the board size in pixels, relative to the board's own origin.
type BoundingBox struct {
	Width  float64
	Height float64
}

func (b BoundingBox) Valid() bool { return b.Width > 0 && b.Height > 0 }

var (
	filesInOrder = [8]nchess.File{nchess.FileA, nchess.FileB, nchess.FileC, nchess.FileD, nchess.FileE, nchess.FileF, nchess.FileG, nchess.FileH}
	ranksInOrder = [8]nchess.Rank{nchess.Rank1, nchess.Rank2, nchess.Rank3, nchess.Rank4, nchess.Rank5, nchess.Rank6, nchess.Rank7, nchess.Rank8}
)

// Mapping is valid only for the geometry it was built from.
type Mapping struct {
	box         BoundingBox
	orientation Orientation
	rects       map[nchess.Square]Rect
}

// Build divides box into an 8x8 grid. Files and ranks are enumerated in pixel order
// (left to right, bottom to top); for BlackAtBottom both sequences are reversed.
func Build(box BoundingBox, o Orientation) (*Mapping, error) {
	if !box.Valid() {
		return nil, fmt.Errorf("%w: bounding box %.1fx%.1f", ErrMappingUnavailable, box.Width, box.Height)
	}
	files := filesInOrder
	ranks := ranksInOrder
	if o == BlackAtBottom {
		files = reversed(files)
		ranks = reversed(ranks)
	}

	sw := box.Width / 8
	sh := box.Height / 8
	rects := make(map[nchess.Square]Rect, 64)
	for fi, file := range files {
		for ri, rank := range ranks {
			x := float64(fi) * sw
			y := float64(7-ri) * sh
			rects[nchess.NewSquare(file, rank)] = Rect{
				Min: Point{X: x, Y: y},
				Max: Point{X: x + sw, Y: y + sh},
			}
		}
	}
	return &Mapping{box: box, orientation: o, rects: rects}, nil
}

func reversed[T any](in [8]T) [8]T {
	var out [8]T
	for i := range in {
		out[7-i] = in[i]
	}
	return out
}

func (m *Mapping) Len() int { return len(m.rects) }

func (m *Mapping) Orientation() Orientation { return m.orientation }

func (m *Mapping) Box() BoundingBox { return m.box }

func (m *Mapping) Rect(sq nchess.Square) (Rect, bool) {
	r, ok := m.rects[sq]
	return r, ok
}

// SquareAt returns the square whose rectangle contains p.
func (m *Mapping) SquareAt(p Point) (nchess.Square, bool) {
	for sq, r := range m.rects {
		if r.Contains(p) {
			return sq, true
		}
	}
	return nchess.NoSquare, false
}
