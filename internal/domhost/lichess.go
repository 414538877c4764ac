package domhost

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/geometry"
)

const (
	DefaultURL = "https://lichess.org/"

	defaultOpTimeout   = 10 * time.Second
	panelPollInterval  = 50 * time.Millisecond
	gestureMoveSteps   = 8
	gestureStepPause   = 8 * time.Millisecond
	computerButtonPath = `//button[contains(text(), 'Play with the computer')]`
)

var ErrBoardNotFound = errors.New("board element not found")

type Option func(*Lichess)

// WithRemoteAllocator attaches to an already running browser through its
// DevTools websocket URL instead of launching one.
func WithRemoteAllocator(wsURL string) Option {
	return func(l *Lichess) { l.remoteURL = strings.TrimSpace(wsURL) }
}

func WithHeadless(headless bool) Option {
	return func(l *Lichess) { l.headless = headless }
}

func WithURL(url string) Option {
	return func(l *Lichess) { l.url = url }
}

func WithOpTimeout(d time.Duration) Option {
	return func(l *Lichess) { l.opTimeout = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Lichess) { l.logger = logger }
}

// Lichess drives lichess.org through the Chrome DevTools protocol.
type Lichess struct {
	url       string
	remoteURL string
	headless  bool
	opTimeout time.Duration
	logger    *zap.Logger

	ctx     context.Context
	cancels []context.CancelFunc
}

var _ Host = (*Lichess)(nil)

// NewLichess starts or attaches to a browser and opens a tab. The tab lives
// until Close, independent of ctx's deadline.
func NewLichess(ctx context.Context, opts ...Option) (*Lichess, error) {
	l := &Lichess{url: DefaultURL, opTimeout: defaultOpTimeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}

	base := context.WithoutCancel(ctx)
	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if l.remoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(base, l.remoteURL)
	} else {
		execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", l.headless),
			chromedp.WindowSize(1280, 900),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(base, execOpts...)
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(l.logger.Sugar().Errorf),
	)
	l.ctx = tabCtx
	l.cancels = []context.CancelFunc{tabCancel, allocCancel}

	if err := l.run(ctx, chromedp.Navigate("about:blank")); err != nil {
		l.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	l.logger.Info("browser_ready", zap.Bool("remote", l.remoteURL != ""), zap.Bool("headless", l.headless))
	return l, nil
}

func (l *Lichess) Close() {
	for _, cancel := range l.cancels {
		cancel()
	}
	l.cancels = nil
}

// run executes actions on the tab, bounded by both ctx and the op timeout.
func (l *Lichess) run(ctx context.Context, actions ...chromedp.Action) error {
	tctx, cancel := context.WithTimeout(l.ctx, l.opTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(tctx, actions...)
}

func (l *Lichess) eval(ctx context.Context, expr string, out any) error {
	return l.run(ctx, chromedp.Evaluate(expr, out))
}

// StartComputerGame opens lichess, picks the AI level and the color and waits
// for the board.
func (l *Lichess) StartComputerGame(ctx context.Context, level int, color string) error {
	if level < 1 || level > 8 {
		return fmt.Errorf("computer level %d out of range 1..8", level)
	}
	color = strings.ToLower(strings.TrimSpace(color))
	switch color {
	case "white", "black", "random":
	default:
		return fmt.Errorf("unknown color %q", color)
	}

	steps := []struct {
		name   string
		action chromedp.Action
	}{
		{"navigate", chromedp.Navigate(l.url)},
		{"computer_button", chromedp.Click(computerButtonPath, chromedp.BySearch)},
		{"level", chromedp.ActionFunc(func(ctx context.Context) error {
			sel := fmt.Sprintf("#sf_level_%d", level)
			if err := chromedp.WaitReady(sel, chromedp.ByQuery).Do(ctx); err != nil {
				return err
			}
			return chromedp.Evaluate(fmt.Sprintf(`(function(){
				const el = document.querySelector(%q);
				el.scrollIntoView(true);
				el.click();
				return true;
			})()`, sel), nil).Do(ctx)
		})},
		{"color", chromedp.Click("button.color-submits__button."+color, chromedp.ByQuery)},
		{"board", chromedp.WaitVisible("cg-board", chromedp.ByQuery)},
	}
	for _, step := range steps {
		if err := l.run(ctx, step.action); err != nil {
			return fmt.Errorf("lichess %s: %w", step.name, err)
		}
		l.logger.Debug("lichess_step", zap.String("step", step.name))
	}
	l.logger.Info("lichess_game_started", zap.Int("level", level), zap.String("color", color))
	return nil
}

// PlayedColor reads the board orientation, which lichess flips for black.
func (l *Lichess) PlayedColor(ctx context.Context) (nchess.Color, error) {
	var black bool
	if err := l.eval(ctx, `!!document.querySelector('.cg-wrap.orientation-black')`, &black); err != nil {
		return nchess.NoColor, err
	}
	if black {
		return nchess.Black, nil
	}
	return nchess.White, nil
}

type clientRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

const boardRectJS = `(function(){
	const b = document.querySelector('cg-board');
	if (!b) return null;
	const r = b.getBoundingClientRect();
	return {x: r.x, y: r.y, width: r.width, height: r.height};
})()`

func readBoardRect(ctx context.Context) (clientRect, error) {
	var out *clientRect
	if err := chromedp.Evaluate(boardRectJS, &out).Do(ctx); err != nil {
		return clientRect{}, err
	}
	if out == nil {
		return clientRect{}, ErrBoardNotFound
	}
	return *out, nil
}

func (l *Lichess) boardRect(ctx context.Context) (clientRect, error) {
	var r clientRect
	err := l.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		r, err = readBoardRect(ctx)
		return err
	}))
	return r, err
}

func (l *Lichess) ReadBoardBoundingBox(ctx context.Context) (geometry.BoundingBox, error) {
	r, err := l.boardRect(ctx)
	if err != nil {
		return geometry.BoundingBox{}, err
	}
	return geometry.BoundingBox{Width: r.Width, Height: r.Height}, nil
}

func (l *Lichess) ReadPiecePositions(ctx context.Context) ([]PiecePosition, error) {
	var raw []rawPiece
	err := l.eval(ctx, `Array.from(document.querySelectorAll('cg-board piece')).map(p => ({
		cls: p.className,
		style: p.getAttribute('style') || ''
	}))`, &raw)
	if err != nil {
		return nil, err
	}
	return parsePieces(raw), nil
}

func (l *Lichess) ReadMoveLedger(ctx context.Context) (Ledger, error) {
	var raw []string
	err := l.eval(ctx, `Array.from(document.querySelectorAll('l4x kwdb')).map(m => m.classList.contains('empty') ? '' : m.textContent)`, &raw)
	if err != nil {
		return nil, err
	}
	return cleanLedger(raw), nil
}

// PerformGesture drags with CDP mouse events from one board-relative point to
// another, moving in small steps so chessground sees a drag.
func (l *Lichess) PerformGesture(ctx context.Context, from, to geometry.Point) error {
	return l.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		r, err := readBoardRect(ctx)
		if err != nil {
			return err
		}
		origin := geometry.Point{X: r.X, Y: r.Y}
		start := origin.Add(from)
		end := origin.Add(to)

		if err := input.DispatchMouseEvent(input.MouseMoved, start.X, start.Y).Do(ctx); err != nil {
			return err
		}
		if err := input.DispatchMouseEvent(input.MousePressed, start.X, start.Y).
			WithButton(input.Left).WithButtons(1).WithClickCount(1).Do(ctx); err != nil {
			return err
		}
		for i := 1; i <= gestureMoveSteps; i++ {
			f := float64(i) / gestureMoveSteps
			x := start.X + (end.X-start.X)*f
			y := start.Y + (end.Y-start.Y)*f
			if err := input.DispatchMouseEvent(input.MouseMoved, x, y).
				WithButton(input.Left).WithButtons(1).Do(ctx); err != nil {
				return err
			}
			if err := chromedp.Sleep(gestureStepPause).Do(ctx); err != nil {
				return err
			}
		}
		return input.DispatchMouseEvent(input.MouseReleased, end.X, end.Y).
			WithButton(input.Left).WithButtons(0).WithClickCount(1).Do(ctx)
	}))
}

func (l *Lichess) readPanel(ctx context.Context) (*PromotionPanel, error) {
	var raw []rawOption
	err := l.eval(ctx, `Array.from(document.querySelectorAll('#promotion-choice square')).map(s => {
		const p = s.querySelector('piece');
		return {cls: p ? p.className : ''};
	})`, &raw)
	if err != nil {
		return nil, err
	}
	return parsePanel(raw), nil
}

func (l *Lichess) AwaitPromotionPanel(ctx context.Context, timeout time.Duration) (*PromotionPanel, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(panelPollInterval)
	defer ticker.Stop()
	for {
		panel, err := l.readPanel(ctx)
		if err != nil {
			return nil, err
		}
		if panel != nil {
			return panel, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Lichess) SelectPromotionPiece(ctx context.Context, _ *PromotionPanel, option PromotionOption) error {
	var pt *clientRect
	err := l.eval(ctx, fmt.Sprintf(`(function(){
		const s = document.querySelectorAll('#promotion-choice square')[%d];
		if (!s) return null;
		const r = s.getBoundingClientRect();
		return {x: r.x + r.width / 2, y: r.y + r.height / 2, width: r.width, height: r.height};
	})()`, option.Index), &pt)
	if err != nil {
		return err
	}
	if pt == nil {
		return fmt.Errorf("promotion option %d vanished", option.Index)
	}
	return l.run(ctx, chromedp.MouseClickXY(pt.X, pt.Y))
}

// SignalTimeOver reports a flagged clock or a "time out" result banner.
func (l *Lichess) SignalTimeOver(ctx context.Context) (bool, error) {
	var over bool
	err := l.eval(ctx, `(function(){
		if (document.querySelector('.rclock.outoftime')) return true;
		const st = document.querySelector('.result-wrap .status');
		return !!st && /time out/i.test(st.textContent || '');
	})()`, &over)
	return over, err
}
