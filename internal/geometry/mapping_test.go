package geometry

import (
	"errors"
	"testing"

	nchess "github.com/corentings/chess/v2"
)

func allSquares() []nchess.Square {
	out := make([]nchess.Square, 0, 64)
	for _, f := range filesInOrder {
		for _, r := range ranksInOrder {
			out = append(out, nchess.NewSquare(f, r))
		}
	}
	return out
}

func TestBuild_Bijection(t *testing.T) {
	for _, o := range []Orientation{WhiteAtBottom, BlackAtBottom} {
		m, err := Build(BoundingBox{Width: 640, Height: 640}, o)
		if err != nil {
			t.Fatalf("Build(%s): %v", o, err)
		}
		if m.Len() != 64 {
			t.Fatalf("%s: got %d entries, want 64", o, m.Len())
		}
		seen := make(map[Rect]nchess.Square, 64)
		for _, sq := range allSquares() {
			r, ok := m.Rect(sq)
			if !ok {
				t.Fatalf("%s: missing square %s", o, sq)
			}
			if prev, dup := seen[r]; dup {
				t.Fatalf("%s: %s and %s share rect %+v", o, prev, sq, r)
			}
			seen[r] = sq
			back, ok := m.SquareAt(r.Center())
			if !ok || back != sq {
				t.Fatalf("%s: SquareAt(center of %s) = %s", o, sq, back)
			}
		}
	}
}

func TestBuild_WhiteCorners(t *testing.T) {
	m, err := Build(BoundingBox{Width: 800, Height: 800}, WhiteAtBottom)
	if err != nil {
		t.Fatal(err)
	}
	a1, _ := m.Rect(nchess.A1)
	if a1.Min != (Point{X: 0, Y: 700}) || a1.Max != (Point{X: 100, Y: 800}) {
		t.Fatalf("a1 = %+v", a1)
	}
	h8, _ := m.Rect(nchess.H8)
	if h8.Min != (Point{X: 700, Y: 0}) {
		t.Fatalf("h8 = %+v", h8)
	}
}

func TestBuild_OrientationReversal(t *testing.T) {
	box := BoundingBox{Width: 512, Height: 480}
	white, err := Build(box, WhiteAtBottom)
	if err != nil {
		t.Fatal(err)
	}
	black, err := Build(box, BlackAtBottom)
	if err != nil {
		t.Fatal(err)
	}
	for _, sq := range allSquares() {
		mirror := nchess.NewSquare(nchess.File(7-int(sq.File())), nchess.Rank(7-int(sq.Rank())))
		got, _ := black.Rect(sq)
		want, _ := white.Rect(mirror)
		if got != want {
			t.Fatalf("black %s = %+v, want white %s = %+v", sq, got, mirror, want)
		}
	}
	a1, _ := black.Rect(nchess.A1)
	h8, _ := white.Rect(nchess.H8)
	if a1 != h8 {
		t.Fatalf("black a1 %+v != white h8 %+v", a1, h8)
	}
}

func TestBuild_InvalidBox(t *testing.T) {
	for _, box := range []BoundingBox{{}, {Width: 10}, {Width: -1, Height: 10}} {
		if _, err := Build(box, WhiteAtBottom); !errors.Is(err, ErrMappingUnavailable) {
			t.Fatalf("Build(%+v) err = %v, want ErrMappingUnavailable", box, err)
		}
	}
}

func TestRect_HalfOpen(t *testing.T) {
	r := Rect{Min: Point{X: 0, Y: 0}, Max: Point{X: 10, Y: 10}}
	if !r.Contains(Point{X: 0, Y: 0}) {
		t.Fatal("min corner should be inside")
	}
	if r.Contains(Point{X: 10, Y: 5}) || r.Contains(Point{X: 5, Y: 10}) {
		t.Fatal("max edges should be outside")
	}
}
