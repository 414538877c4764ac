package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Shapes use a 45x45 view box. {F} and {S} are replaced by fill and stroke.
var pieceShapes = map[nchess.PieceType]string{
	nchess.Pawn: `<circle cx="22.5" cy="14" r="5" fill="{F}" stroke="{S}" stroke-width="1.5"/>` +
		`<path d="M16 36 L29 36 L26 21 L19 21 Z" fill="{F}" stroke="{S}" stroke-width="1.5"/>` +
		`<rect x="12" y="35" width="21" height="4" fill="{F}" stroke="{S}" stroke-width="1.5"/>`,
	nchess.Rook: `<path d="M14 14 L14 9 L18 9 L18 11 L21 11 L21 9 L24 9 L24 11 L27 11 L27 9 L31 9 L31 14 L28 17 L28 32 L17 32 L17 17 Z" fill="{F}" stroke="{S}" stroke-width="1.5"/>` +
		`<rect x="14" y="32" width="17" height="4" fill="{F}" stroke="{S}" stroke-width="1.5"/>` +
		`<rect x="12" y="36" width="21" height="3" fill="{F}" stroke="{S}" stroke-width="1.5"/>`,
	nchess.Knight: `<path d="M14 39 L33 39 L31 20 C30 13 25 9 20 9 L18 12 L12 18 L12 23 L15 24 L20 20 L22 22 L15 30 Z" fill="{F}" stroke="{S}" stroke-width="1.5"/>` +
		`<circle cx="18" cy="15" r="1.2" fill="{S}"/>`,
	nchess.Bishop: `<circle cx="22.5" cy="8" r="2.5" fill="{F}" stroke="{S}" stroke-width="1.5"/>` +
		`<path d="M22.5 11 C15 17 15 26 18 30 L27 30 C30 26 30 17 22.5 11 Z" fill="{F}" stroke="{S}" stroke-width="1.5"/>` +
		`<rect x="15" y="31" width="15" height="3" fill="{F}" stroke="{S}" stroke-width="1.5"/>` +
		`<rect x="11" y="36" width="23" height="3" fill="{F}" stroke="{S}" stroke-width="1.5"/>`,
	nchess.Queen: `<circle cx="9" cy="12" r="2.5" fill="{F}" stroke="{S}" stroke-width="1.5"/>` +
		`<circle cx="17" cy="9" r="2.5" fill="{F}" stroke="{S}" stroke-width="1.5"/>` +
		`<circle cx="28" cy="9" r="2.5" fill="{F}" stroke="{S}" stroke-width="1.5"/>` +
		`<circle cx="36" cy="12" r="2.5" fill="{F}" stroke="{S}" stroke-width="1.5"/>` +
		`<path d="M9 14 L13 31 L32 31 L36 14 L29 25 L28 11 L22.5 25 L17 11 L16 25 Z" fill="{F}" stroke="{S}" stroke-width="1.5"/>` +
		`<rect x="11" y="32" width="23" height="6" fill="{F}" stroke="{S}" stroke-width="1.5"/>`,
	nchess.King: `<path d="M21 4 L24 4 L24 7 L27 7 L27 10 L24 10 L24 14 L21 14 L21 10 L18 10 L18 7 L21 7 Z" fill="{F}" stroke="{S}" stroke-width="1.5"/>` +
		`<path d="M11 30 C5 22 10 15 17 18 L22.5 22 L28 18 C35 15 40 22 34 30 Z" fill="{F}" stroke="{S}" stroke-width="1.5"/>` +
		`<rect x="11" y="31" width="23" height="7" fill="{F}" stroke="{S}" stroke-width="1.5"/>`,
}

func pieceSVG(piece nchess.Piece) (string, error) {
	body, ok := pieceShapes[piece.Type()]
	if !ok {
		return "", fmt.Errorf("no shape for piece %v", piece)
	}
	fill, stroke := "#f8f8f8", "#111111"
	if piece.Color() == nchess.Black {
		fill, stroke = "#1e1e1e", "#e6e6e6"
	}
	body = strings.NewReplacer("{F}", fill, "{S}", stroke).Replace(body)
	return `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">` + body + `</svg>`, nil
}

type pieceKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

func pieceImage(piece nchess.Piece, size int) (image.Image, error) {
	key := pieceKey{piece: piece, size: size}
	pieceCacheMu.RLock()
	img, ok := pieceCache[key]
	pieceCacheMu.RUnlock()
	if ok {
		return img, nil
	}

	src, err := pieceSVG(piece)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	rgba := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(rgba, rgba.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = rgba
	pieceCacheMu.Unlock()
	return rgba, nil
}
