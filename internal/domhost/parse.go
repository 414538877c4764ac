package domhost

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/park285/chess-autopilot/internal/geometry"
)

var translateRe = regexp.MustCompile(`translate\(\s*(-?[\d.]+)px\s*,\s*(-?[\d.]+)px\s*\)`)

// parseTranslate reads the board-relative offset chessground writes into a
// piece's inline transform.
func parseTranslate(style string) (geometry.Point, bool) {
	m := translateRe.FindStringSubmatch(style)
	if m == nil {
		return geometry.Point{}, false
	}
	x, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return geometry.Point{}, false
	}
	y, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return geometry.Point{}, false
	}
	return geometry.Point{X: x, Y: y}, true
}

type rawPiece struct {
	Class string `json:"cls"`
	Style string `json:"style"`
}

func parsePieces(raw []rawPiece) []PiecePosition {
	out := make([]PiecePosition, 0, len(raw))
	for _, r := range raw {
		at, ok := parseTranslate(r.Style)
		if !ok {
			continue
		}
		out = append(out, PiecePosition{Class: strings.TrimSpace(r.Class), At: at})
	}
	return out
}

// cleanLedger keeps one entry per rendered cell, including the empty
// placeholder lichess shows for the pending reply, and cuts anything after
// the move text such as inline evaluations.
func cleanLedger(raw []string) Ledger {
	out := make(Ledger, 0, len(raw))
	for _, text := range raw {
		text = strings.TrimSpace(text)
		if i := strings.IndexAny(text, "\n\t "); i >= 0 {
			text = text[:i]
		}
		if isPlaceholder(text) {
			text = ""
		}
		out = append(out, text)
	}
	return out
}

// isPlaceholder reports cell text with no letter or digit, such as "…" or
// "...". Every move text has at least one.
func isPlaceholder(text string) bool {
	return strings.IndexFunc(text, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) < 0
}

type rawOption struct {
	Class string `json:"cls"`
}

func parsePanel(raw []rawOption) *PromotionPanel {
	if len(raw) == 0 {
		return nil
	}
	panel := &PromotionPanel{Options: make([]PromotionOption, 0, len(raw))}
	for i, r := range raw {
		panel.Options = append(panel.Options, PromotionOption{Index: i, Class: strings.TrimSpace(r.Class)})
	}
	return panel
}
