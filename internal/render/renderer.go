// Package render draws board snapshots as PNG images.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"math"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/chess-autopilot/internal/geometry"
)

const (
	DefaultSquareSize = 64
	margin            = 24
	captionHeight     = 28
)

type Highlight struct {
	From nchess.Square
	To   nchess.Square
}

type Options struct {
	Orientation geometry.Orientation
	Highlight   *Highlight
	Caption     string
}

type Renderer struct {
	squareSize int
}

func New(squareSize int) *Renderer {
	if squareSize <= 0 {
		squareSize = DefaultSquareSize
	}
	return &Renderer{squareSize: squareSize}
}

// Size returns the pixel dimensions of every image this renderer produces.
func (r *Renderer) Size() image.Point {
	board := r.squareSize * 8
	return image.Point{X: board + margin*2, Y: board + margin*2 + captionHeight}
}

func (r *Renderer) RenderPNG(ctx context.Context, b *nchess.Board, opts Options) ([]byte, error) {
	if b == nil {
		return nil, errors.New("board is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size := r.Size()
	img := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)
	origin := image.Point{X: margin, Y: margin + captionHeight}

	r.drawSquares(img, origin, opts.Orientation)
	if opts.Highlight != nil {
		r.fillSquare(img, opts.Highlight.From, origin, opts.Orientation, highlightColor)
		r.fillSquare(img, opts.Highlight.To, origin, opts.Orientation, highlightColor)
	}
	if err := r.drawPieces(img, b, origin, opts.Orientation); err != nil {
		return nil, err
	}
	if opts.Highlight != nil {
		r.drawArrow(img, *opts.Highlight, origin, opts.Orientation)
	}
	r.drawCoordinates(img, origin, opts.Orientation)
	drawCaption(img, opts.Caption)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	backgroundColor = color.RGBA{R: 38, G: 36, B: 33, A: 255}
	lightSquare     = color.RGBA{R: 240, G: 217, B: 181, A: 255}
	darkSquare      = color.RGBA{R: 181, G: 136, B: 99, A: 255}
	highlightColor  = color.NRGBA{R: 205, G: 210, B: 106, A: 150}
	arrowColor      = color.NRGBA{R: 21, G: 120, B: 27, A: 160}
	textColor       = color.NRGBA{R: 220, G: 220, B: 220, A: 255}
)

// squareRect places sq on screen for the given orientation.
func (r *Renderer) squareRect(sq nchess.Square, origin image.Point, o geometry.Orientation) image.Rectangle {
	col, row := int(sq.File()), 7-int(sq.Rank())
	if o == geometry.BlackAtBottom {
		col, row = 7-col, 7-row
	}
	x := origin.X + col*r.squareSize
	y := origin.Y + row*r.squareSize
	return image.Rect(x, y, x+r.squareSize, y+r.squareSize)
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}

func (r *Renderer) drawSquares(img *image.RGBA, origin image.Point, o geometry.Orientation) {
	for i := 0; i < 64; i++ {
		sq := nchess.Square(i)
		imagedraw.Draw(img, r.squareRect(sq, origin, o), image.NewUniform(squareColor(sq)), image.Point{}, imagedraw.Src)
	}
}

func (r *Renderer) fillSquare(img *image.RGBA, sq nchess.Square, origin image.Point, o geometry.Orientation, clr color.Color) {
	imagedraw.Draw(img, r.squareRect(sq, origin, o), image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

func (r *Renderer) drawPieces(img *image.RGBA, b *nchess.Board, origin image.Point, o geometry.Orientation) error {
	for sq, piece := range b.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		pimg, err := pieceImage(piece, r.squareSize)
		if err != nil {
			return err
		}
		imagedraw.Draw(img, r.squareRect(sq, origin, o), pimg, image.Point{}, imagedraw.Over)
	}
	return nil
}

func (r *Renderer) drawCoordinates(img *image.RGBA, origin image.Point, o geometry.Orientation) {
	d := &font.Drawer{Dst: img, Src: image.NewUniform(textColor), Face: basicfont.Face7x13}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()
	for i := 0; i < 8; i++ {
		file := nchess.File(i)
		rank := nchess.Rank(i)
		fr := r.squareRect(nchess.NewSquare(file, nchess.Rank1), origin, o)
		rr := r.squareRect(nchess.NewSquare(nchess.FileA, rank), origin, o)
		centerText(d, file.String(), fr.Min.X+r.squareSize/2, origin.Y+8*r.squareSize+ascent+4)
		centerText(d, rank.String(), origin.X-margin/2, rr.Min.Y+r.squareSize/2+ascent/2)
	}
}

func drawCaption(img *image.RGBA, caption string) {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return
	}
	d := &font.Drawer{Dst: img, Src: image.NewUniform(textColor), Face: basicfont.Face7x13}
	maxWidth := img.Bounds().Dx() - margin*2
	for len(caption) > 0 && d.MeasureString(caption).Round() > maxWidth {
		caption = caption[:len(caption)-1]
	}
	d.Dot = fixed.P(margin, margin+basicfont.Face7x13.Metrics().Ascent.Ceil())
	d.DrawString(caption)
}

func centerText(d *font.Drawer, text string, centerX, baseline int) {
	width := d.MeasureString(text).Round()
	d.Dot = fixed.P(centerX-width/2, baseline)
	d.DrawString(text)
}

type pointF struct{ X, Y float64 }

func (r *Renderer) drawArrow(img *image.RGBA, h Highlight, origin image.Point, o geometry.Orientation) {
	if h.From == h.To {
		return
	}
	a := r.squareRect(h.From, origin, o)
	b := r.squareRect(h.To, origin, o)
	start := pointF{X: float64(a.Min.X + r.squareSize/2), Y: float64(a.Min.Y + r.squareSize/2)}
	end := pointF{X: float64(b.Min.X + r.squareSize/2), Y: float64(b.Min.Y + r.squareSize/2)}

	dx, dy := end.X-start.X, end.Y-start.Y
	length := math.Hypot(dx, dy)
	dirX, dirY := dx/length, dy/length
	perpX, perpY := -dirY, dirX

	sq := float64(r.squareSize)
	shaft := length - sq*0.4
	if shaft < sq*0.3 {
		shaft = length * 0.6
	}
	half := sq * 0.09
	head := sq * 0.22
	baseX, baseY := start.X+dirX*shaft, start.Y+dirY*shaft

	fillTriangle(img,
		pointF{start.X - perpX*half, start.Y - perpY*half},
		pointF{start.X + perpX*half, start.Y + perpY*half},
		pointF{baseX + perpX*half, baseY + perpY*half}, arrowColor)
	fillTriangle(img,
		pointF{start.X - perpX*half, start.Y - perpY*half},
		pointF{baseX + perpX*half, baseY + perpY*half},
		pointF{baseX - perpX*half, baseY - perpY*half}, arrowColor)
	fillTriangle(img, end,
		pointF{baseX - perpX*head, baseY - perpY*head},
		pointF{baseX + perpX*head, baseY + perpY*head}, arrowColor)
}

func fillTriangle(img *image.RGBA, a, b, c pointF, clr color.Color) {
	minX := int(math.Floor(math.Min(a.X, math.Min(b.X, c.X))))
	maxX := int(math.Ceil(math.Max(a.X, math.Max(b.X, c.X))))
	minY := int(math.Floor(math.Min(a.Y, math.Min(b.Y, c.Y))))
	maxY := int(math.Ceil(math.Max(a.Y, math.Max(b.Y, c.Y))))
	src := image.NewUniform(clr)
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if inTriangle(float64(x)+0.5, float64(y)+0.5, a, b, c) {
				imagedraw.Draw(img, image.Rect(x, y, x+1, y+1), src, image.Point{}, imagedraw.Over)
			}
		}
	}
}

func inTriangle(x, y float64, a, b, c pointF) bool {
	denom := (b.Y-c.Y)*(a.X-c.X) + (c.X-b.X)*(a.Y-c.Y)
	if denom == 0 {
		return false
	}
	alpha := ((b.Y-c.Y)*(x-c.X) + (c.X-b.X)*(y-c.Y)) / denom
	beta := ((c.Y-a.Y)*(x-c.X) + (a.X-c.X)*(y-c.Y)) / denom
	return alpha >= 0 && beta >= 0 && 1-alpha-beta >= 0
}
