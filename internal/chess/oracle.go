package chess

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/chess/openingbook"
	"github.com/park285/chess-autopilot/internal/chess/uci"
)

const evaluationDepth = 14

var errReleased = errors.New("oracle released")

type Source string

const (
	SourceEngine Source = "engine"
	SourceBook   Source = "book"
)

// Suggestion is one chosen move in UCI notation.
type Suggestion struct {
	Move    string
	Budget  Budget
	Source  Source
	Elapsed time.Duration
}

// Evaluation is scored from white's point of view.
type Evaluation struct {
	CP   int
	Mate int
}

func (e Evaluation) String() string {
	if e.Mate != 0 {
		return "mate " + strconv.Itoa(e.Mate)
	}
	return "cp " + strconv.Itoa(e.CP)
}

// Oracle is a single game's view of the engine. It is used from one goroutine.
type Oracle struct {
	pool    sessionPool
	session searcher
	mode    SpeedMode
	book    *openingbook.Book
	rand    *rand.Rand
	logger  *zap.Logger
	sleep   func(context.Context, time.Duration) error

	fen    string
	broken error

	releaseOnce sync.Once
	released    bool
}

func (o *Oracle) Mode() SpeedMode { return o.mode }

// SetPosition records the position the next search starts from.
func (o *Oracle) SetPosition(fen string) {
	o.fen = strings.TrimSpace(fen)
}

// BestMove searches the current position within the budget mode grants.
func (o *Oracle) BestMove(ctx context.Context, mode SpeedMode, deceive bool) (Suggestion, error) {
	if o.released {
		return Suggestion{}, mapEngineError(errReleased)
	}
	if o.fen == "" {
		return Suggestion{}, ErrPositionNotSet
	}
	if mode == nil {
		mode = o.mode
	}
	budget := mode.Budget(deceive, o.rand)
	start := time.Now()

	if book, err := o.book.Lookup(o.fen, plyFromFEN(o.fen), o.rand); err != nil {
		o.logger.Warn("opening_book_lookup_failed", zap.Error(err))
	} else if book.Move != "" {
		if err := o.sleep(ctx, budget.MoveTime); err != nil {
			return Suggestion{}, err
		}
		return Suggestion{Move: book.Move, Budget: budget, Source: SourceBook, Elapsed: time.Since(start)}, nil
	}

	if goCmd, err := FormatGoCommand(budget); err == nil {
		o.logger.Debug("oracle_search", zap.String("mode", mode.Name()), zap.String("go", goCmd))
	}
	resp, err := o.session.Search(ctx, uci.SearchRequest{FEN: o.fen, Limits: limitsFor(budget)})
	if err != nil {
		o.broken = err
		return Suggestion{}, mapEngineError(err)
	}
	move := strings.TrimSpace(resp.BestMove)
	if move == "" || move == "(none)" || move == "0000" {
		return Suggestion{}, ErrNoLegalMove
	}
	return Suggestion{Move: move, Budget: budget, Source: SourceEngine, Elapsed: time.Since(start)}, nil
}

// Evaluate runs a fixed-depth search for diagnostics.
func (o *Oracle) Evaluate(ctx context.Context) (Evaluation, error) {
	if o.released {
		return Evaluation{}, mapEngineError(errReleased)
	}
	if o.fen == "" {
		return Evaluation{}, ErrPositionNotSet
	}
	resp, err := o.session.Search(ctx, uci.SearchRequest{FEN: o.fen, Limits: uci.Limits{Depth: evaluationDepth}})
	if err != nil {
		o.broken = err
		return Evaluation{}, mapEngineError(err)
	}
	best, ok := resp.Best()
	if !ok {
		return Evaluation{}, nil
	}
	ev := Evaluation{CP: best.EvalCP, Mate: best.Mate}
	if sideToMove(o.fen) == "b" {
		ev.CP, ev.Mate = -ev.CP, -ev.Mate
	}
	return ev, nil
}

// Release returns the session to the pool. Calls after the first are no-ops.
func (o *Oracle) Release() error {
	o.releaseOnce.Do(func() {
		o.released = true
		o.pool.release(o.session, o.broken)
		o.logger.Info("oracle_released", zap.Bool("discarded", o.broken != nil))
	})
	return nil
}

func sideToMove(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) < 2 {
		return "w"
	}
	return fields[1]
}

// plyFromFEN derives the half-move index from the fullmove counter.
func plyFromFEN(fen string) int {
	fields := strings.Fields(fen)
	if len(fields) < 6 {
		return 0
	}
	full, err := strconv.Atoi(fields[5])
	if err != nil || full < 1 {
		return 0
	}
	ply := (full - 1) * 2
	if fields[1] == "b" {
		ply++
	}
	return ply
}
