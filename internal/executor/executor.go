// Package executor replays a chosen move onto the remote board as a pointer gesture.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/board"
	"github.com/park285/chess-autopilot/internal/domhost"
	"github.com/park285/chess-autopilot/internal/geometry"
)

var (
	ErrNoPieceFound        = errors.New("no piece found on source square")
	ErrPromotionUINotFound = errors.New("promotion dialog not found")
)

const DefaultPromotionTimeout = 10 * time.Second

// Host is the part of the DOM host the executor drives.
type Host interface {
	ReadPiecePositions(ctx context.Context) ([]domhost.PiecePosition, error)
	PerformGesture(ctx context.Context, from, to geometry.Point) error
	AwaitPromotionPanel(ctx context.Context, timeout time.Duration) (*domhost.PromotionPanel, error)
	SelectPromotionPiece(ctx context.Context, panel *domhost.PromotionPanel, option domhost.PromotionOption) error
}

type Config struct {
	PromotionTimeout time.Duration
	Logger           *zap.Logger
}

type Executor struct {
	host             Host
	promotionTimeout time.Duration
	logger           *zap.Logger
}

func New(host Host, cfg Config) *Executor {
	if cfg.PromotionTimeout <= 0 {
		cfg.PromotionTimeout = DefaultPromotionTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Executor{host: host, promotionTimeout: cfg.PromotionTimeout, logger: cfg.Logger}
}

// Gesture describes what was sent to the host.
type Gesture struct {
	Piece     domhost.PiecePosition
	From      geometry.Point
	To        geometry.Point
	Delta     geometry.Point
	Promotion string
	Elapsed   time.Duration
}

// Execute plays mv on the UI using m, which must have been built from the
// geometry read just before this call.
func (e *Executor) Execute(ctx context.Context, mv board.Move, m *geometry.Mapping) (Gesture, error) {
	start := time.Now()
	if m == nil {
		return Gesture{}, geometry.ErrMappingUnavailable
	}
	src, ok := m.Rect(mv.From)
	if !ok {
		return Gesture{}, fmt.Errorf("%w: no rect for %s", geometry.ErrMappingUnavailable, mv.From)
	}
	dst, ok := m.Rect(mv.To)
	if !ok {
		return Gesture{}, fmt.Errorf("%w: no rect for %s", geometry.ErrMappingUnavailable, mv.To)
	}

	pieces, err := e.host.ReadPiecePositions(ctx)
	if err != nil {
		return Gesture{}, fmt.Errorf("read piece positions: %w", err)
	}
	piece, ok := pieceOn(pieces, src, m)
	if !ok {
		return Gesture{}, fmt.Errorf("%w: %s (%d pieces rendered)", ErrNoPieceFound, mv.From, len(pieces))
	}

	delta := dst.TopLeft().Sub(src.TopLeft())
	from := src.Center()
	to := from.Add(delta)
	g := Gesture{Piece: piece, From: from, To: to, Delta: delta}

	if err := e.host.PerformGesture(ctx, from, to); err != nil {
		return g, fmt.Errorf("gesture %s-%s: %w", mv.From, mv.To, err)
	}

	if promo, ok := promotionFor(mv); ok {
		g.Promotion = promo.Class
		if err := e.promote(ctx, promo); err != nil {
			return g, err
		}
	}
	g.Elapsed = time.Since(start)
	e.logger.Debug("move_executed",
		zap.String("move", mv.UCI),
		zap.String("piece", piece.Class),
		zap.Float64("dx", delta.X),
		zap.Float64("dy", delta.Y),
		zap.Duration("elapsed", g.Elapsed),
	)
	return g, nil
}

func (e *Executor) promote(ctx context.Context, promo Promotion) error {
	panel, err := e.host.AwaitPromotionPanel(ctx, e.promotionTimeout)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPromotionUINotFound, err)
	}
	if panel == nil {
		return fmt.Errorf("%w: no panel within %s", ErrPromotionUINotFound, e.promotionTimeout)
	}
	opt, ok := panel.Find(promo.Class)
	if !ok {
		return fmt.Errorf("%w: no %s option among %d", ErrPromotionUINotFound, promo.Class, len(panel.Options))
	}
	if err := e.host.SelectPromotionPiece(ctx, panel, opt); err != nil {
		return fmt.Errorf("select %s: %w", promo.Class, err)
	}
	return nil
}

// promotionFor prefers the notation rule and falls back to the decoded move.
func promotionFor(mv board.Move) (Promotion, bool) {
	for _, text := range []string{mv.SAN, mv.UCI} {
		if p, ok := ClassifyPromotion(text); ok {
			return p, true
		}
	}
	if mv.IsPromotion() {
		return PromotionByPiece(mv.Promotion)
	}
	return Promotion{}, false
}

// pieceOn finds the rendered piece anchored in rect, probing each piece at the
// centre of its own cell.
func pieceOn(pieces []domhost.PiecePosition, rect geometry.Rect, m *geometry.Mapping) (domhost.PiecePosition, bool) {
	box := m.Box()
	half := geometry.Point{X: box.Width / 16, Y: box.Height / 16}
	for _, p := range pieces {
		if p.HasClass("ghost") || p.HasClass("fading") {
			continue
		}
		if rect.Contains(p.At.Add(half)) {
			return p, true
		}
	}
	return domhost.PiecePosition{}, false
}
