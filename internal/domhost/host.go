// Package domhost is the browser side of the autopilot: it reads the rendered
// board and replays gestures onto it.
package domhost

import (
	"context"
	"strings"
	"time"

	"github.com/park285/chess-autopilot/internal/geometry"
)

// PiecePosition is a rendered piece. At is the piece's top-left corner relative
// to the board origin; Class is the UI class list, e.g. "white queen".
type PiecePosition struct {
	Class string
	At    geometry.Point
}

// HasClass reports whether the class list contains name.
func (p PiecePosition) HasClass(name string) bool {
	return hasClass(p.Class, name)
}

// Ledger is the rendered move list, one entry per half-move.
type Ledger = []string

// PromotionOption is one choice of the promotion dialog.
type PromotionOption struct {
	Index int
	Class string
}

// PromotionPanel is a handle to an open promotion dialog.
type PromotionPanel struct {
	Options []PromotionOption
}

// Find returns the option whose class list contains class.
func (p *PromotionPanel) Find(class string) (PromotionOption, bool) {
	if p == nil {
		return PromotionOption{}, false
	}
	for _, opt := range p.Options {
		if hasClass(opt.Class, class) {
			return opt, true
		}
	}
	return PromotionOption{}, false
}

type Host interface {
	ReadBoardBoundingBox(ctx context.Context) (geometry.BoundingBox, error)
	ReadPiecePositions(ctx context.Context) ([]PiecePosition, error)
	ReadMoveLedger(ctx context.Context) (Ledger, error)
	// PerformGesture presses at from, moves to to and releases. Points are
	// board relative.
	PerformGesture(ctx context.Context, from, to geometry.Point) error
	// AwaitPromotionPanel returns nil without error when no panel appeared in time.
	AwaitPromotionPanel(ctx context.Context, timeout time.Duration) (*PromotionPanel, error)
	SelectPromotionPiece(ctx context.Context, panel *PromotionPanel, option PromotionOption) error
	SignalTimeOver(ctx context.Context) (bool, error)
}

func hasClass(list, name string) bool {
	for _, c := range strings.Fields(list) {
		if c == name {
			return true
		}
	}
	return false
}
