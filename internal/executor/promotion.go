package executor

import (
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Promotion ties a notation letter to the rules engine piece and the class the
// UI uses for it in the promotion dialog.
type Promotion struct {
	Letter byte
	Piece  nchess.PieceType
	Class  string
}

var promotions = [...]Promotion{
	{Letter: 'q', Piece: nchess.Queen, Class: "queen"},
	{Letter: 'r', Piece: nchess.Rook, Class: "rook"},
	{Letter: 'b', Piece: nchess.Bishop, Class: "bishop"},
	{Letter: 'n', Piece: nchess.Knight, Class: "knight"},
}

// PromotionByLetter is case-insensitive.
func PromotionByLetter(c byte) (Promotion, bool) {
	c = toLower(c)
	for _, p := range promotions {
		if p.Letter == c {
			return p, true
		}
	}
	return Promotion{}, false
}

func PromotionByPiece(pt nchess.PieceType) (Promotion, bool) {
	for _, p := range promotions {
		if p.Piece == pt {
			return p, true
		}
	}
	return Promotion{}, false
}

// ClassifyPromotion decides from notation alone whether text promotes a pawn.
// Trailing "+#!?" decorations are ignored; the last remaining character must
// be a piece letter and the one before it "=" or a back-rank digit, which
// covers both "e8=Q" and "e7e8q".
func ClassifyPromotion(text string) (Promotion, bool) {
	s := strings.TrimRight(strings.TrimSpace(text), "+#!?")
	if len(s) < 2 {
		return Promotion{}, false
	}
	p, ok := PromotionByLetter(s[len(s)-1])
	if !ok {
		return Promotion{}, false
	}
	switch s[len(s)-2] {
	case '=', '1', '8':
		return p, true
	}
	return Promotion{}, false
}

func toLower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
