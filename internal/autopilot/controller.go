// Package autopilot runs one game against the browser UI: it computes and
// plays its own moves and waits for the opponent's replies.
package autopilot

import (
	"context"
	"errors"
	"fmt"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/board"
	"github.com/park285/chess-autopilot/internal/chess"
	"github.com/park285/chess-autopilot/internal/domhost"
	"github.com/park285/chess-autopilot/internal/endgame"
	"github.com/park285/chess-autopilot/internal/executor"
	"github.com/park285/chess-autopilot/internal/geometry"
	"github.com/park285/chess-autopilot/internal/watcher"
)

var (
	ErrBudgetExceedsTimeout = errors.New("oracle budget ceiling must be below the watch timeout")
	ErrNoColor              = errors.New("played color must be white or black")
)

// Oracle picks moves for the controller. *chess.Oracle implements it.
type Oracle interface {
	SetPosition(fen string)
	BestMove(ctx context.Context, mode chess.SpeedMode, deceive bool) (chess.Suggestion, error)
	Evaluate(ctx context.Context) (chess.Evaluation, error)
	Release() error
}

var _ Oracle = (*chess.Oracle)(nil)

type Config struct {
	Color            nchess.Color
	Mode             chess.SpeedMode
	Deceive          bool
	Evaluation       bool
	Level            int
	WatchTimeout     time.Duration
	PollInterval     time.Duration
	PromotionTimeout time.Duration
	Logger           *zap.Logger

	Now   func() time.Time
	Sleep func(context.Context, time.Duration) error
}

type Controller struct {
	host      domhost.Host
	oracle    Oracle
	exec      *executor.Executor
	watch     *watcher.Watcher
	observers []Observer
	cfg       Config
	logger    *zap.Logger
}

func New(host domhost.Host, oracle Oracle, cfg Config, observers ...Observer) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.WatchTimeout <= 0 {
		cfg.WatchTimeout = watcher.DefaultTimeout
	}
	return &Controller{
		host:   host,
		oracle: oracle,
		exec:   executor.New(host, executor.Config{PromotionTimeout: cfg.PromotionTimeout, Logger: cfg.Logger}),
		watch: watcher.New(host, cfg.Color, watcher.Config{
			Timeout:      cfg.WatchTimeout,
			PollInterval: cfg.PollInterval,
			Logger:       cfg.Logger,
			Now:          cfg.Now,
			Sleep:        cfg.Sleep,
		}),
		observers: observers,
		cfg:       cfg,
		logger:    cfg.Logger,
	}
}

// game is the mutable state of one Play call.
type game struct {
	sess    *Session
	model   *board.Model
	pending chess.Suggestion
	reply   string
	turnAt  time.Time

	// timedOut is set when the last wait for the opponent hit its deadline.
	timedOut bool
}

// Play runs the game to a terminal verdict. The oracle is released exactly
// once before Play returns, whatever the outcome.
func (c *Controller) Play(ctx context.Context) (sess *Session, err error) {
	g := &game{
		sess: &Session{
			ID:        uuid.NewString(),
			Color:     c.cfg.Color,
			Mode:      c.cfg.Mode,
			Deceive:   c.cfg.Deceive,
			Level:     c.cfg.Level,
			StartedAt: c.cfg.Now(),
		},
		model: board.NewModel(),
	}
	log := c.logger.With(zap.String("session", g.sess.ID), zap.String("color", colorName(c.cfg.Color)))

	defer func() {
		if rerr := c.oracle.Release(); rerr != nil {
			log.Warn("oracle_release_failed", zap.Error(rerr))
		}
		g.sess.Err = err
		g.sess.EndedAt = c.cfg.Now()
		if err != nil && g.sess.Verdict == endgame.Ongoing {
			g.sess.Verdict = endgame.Unknown
		}
		g.sess.State = StateTerminal
		fields := []zap.Field{
			zap.String("verdict", g.sess.Verdict.String()),
			zap.Int("half_moves", g.sess.HalfMoves),
			zap.Duration("engine_time", g.sess.EngineTime),
			zap.Duration("total", g.sess.EndedAt.Sub(g.sess.StartedAt)),
		}
		if err != nil {
			log.Error("game_aborted", append(fields, zap.String("failure", g.sess.Failure()), zap.Error(err))...)
		} else {
			log.Info("game_finished", fields...)
		}
		c.notifyEnded(ctx, g)
	}()

	state := StateSetup
	for state != StateTerminal {
		g.sess.State = state
		next, stepErr := c.step(ctx, log, g, state)
		if stepErr != nil {
			return g.sess, fmt.Errorf("%s: %w", state, stepErr)
		}
		state = next
	}
	return g.sess, nil
}

func (c *Controller) step(ctx context.Context, log *zap.Logger, g *game, state State) (State, error) {
	if err := ctx.Err(); err != nil {
		return state, err
	}
	switch state {
	case StateSetup:
		if err := c.validate(); err != nil {
			return state, err
		}
		log.Info("game_started",
			zap.String("mode", g.sess.modeName()),
			zap.Bool("deceive", c.cfg.Deceive),
			zap.Duration("watch_timeout", c.cfg.WatchTimeout),
		)
		for _, o := range c.observers {
			o.GameStarted(ctx, g.sess, g.model)
		}
		if c.cfg.Color == nchess.Black {
			return StateAwaitOpening, nil
		}
		return StateComputeOwnMove, nil

	case StateComputeOwnMove:
		g.turnAt = c.cfg.Now()
		c.oracle.SetPosition(g.model.FEN())
		sug, err := c.oracle.BestMove(ctx, c.cfg.Mode, c.cfg.Deceive)
		if err != nil {
			return state, err
		}
		g.pending = sug
		g.sess.EngineTime += sug.Elapsed
		log.Debug("move_computed",
			zap.String("move", sug.Move),
			zap.String("source", string(sug.Source)),
			zap.Duration("budget", sug.Budget.MoveTime),
			zap.Duration("engine_time", sug.Elapsed),
		)
		return StateExecuteOwnMove, nil

	case StateExecuteOwnMove:
		mv, err := g.model.Resolve(g.pending.Move)
		if err != nil {
			return state, err
		}
		mapping, err := c.mapping(ctx)
		if err != nil {
			return state, err
		}
		gesture, err := c.exec.Execute(ctx, mv, mapping)
		if err != nil {
			return state, err
		}
		if _, err := g.model.Apply(mv.UCI); err != nil {
			return state, err
		}
		c.halfMove(ctx, g, true)
		log.Info("own_move_played",
			zap.String("san", mv.SAN),
			zap.String("uci", mv.UCI),
			zap.Duration("gesture_time", gesture.Elapsed),
		)
		return StateCheckSelfCheckmate, nil

	case StateCheckSelfCheckmate:
		if v := endgame.Decide(endgame.Input{Board: g.model.Status()}); v.Terminal() {
			g.sess.Verdict = v
			return StateTerminal, nil
		}
		return StateAwaitOpponentMove, nil

	case StateAwaitOpening, StateAwaitOpponentMove:
		prev := watcher.Snapshot{Count: g.model.Len()}
		if san := g.model.SAN(); len(san) > 0 {
			prev.Text = san[len(san)-1]
		}
		res, err := c.watch.Await(ctx, prev)
		if err != nil {
			return state, err
		}
		log.Debug("opponent_wait",
			zap.String("outcome", res.Outcome.Kind.String()),
			zap.Int("polls", res.Polls),
			zap.Duration("wait_time", res.Waited),
		)
		if res.Outcome.Kind == watcher.DeadlineExceeded {
			g.timedOut = true
			return StateCheckGameEnd, nil
		}
		g.timedOut = false
		g.reply = res.Outcome.Text
		g.sess.Last = res.Snapshot
		return StateApplyOpponentMove, nil

	case StateApplyOpponentMove:
		if _, err := g.model.Apply(g.reply); err != nil {
			return state, err
		}
		c.halfMove(ctx, g, false)
		log.Info("opponent_move_applied", zap.String("san", g.reply), zap.Int("ledger_count", g.sess.Last.Count))
		if c.cfg.Evaluation {
			c.evaluate(ctx, log, g)
		}
		return StateCheckOpponentCheckmate, nil

	case StateCheckOpponentCheckmate:
		if g.model.Status() == board.Checkmate {
			g.sess.Verdict = endgame.Checkmate
			return StateTerminal, nil
		}
		return StateCheckGameEnd, nil

	case StateCheckGameEnd:
		timeOver, err := c.host.SignalTimeOver(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return state, ctx.Err()
			}
			log.Warn("time_over_check_failed", zap.Error(err))
		}
		v := endgame.Decide(endgame.Input{Board: g.model.Status(), TimeOver: timeOver, WatcherTimedOut: g.timedOut})
		if v.Terminal() {
			g.sess.Verdict = v
			return StateTerminal, nil
		}
		if !g.turnAt.IsZero() {
			log.Debug("turn_completed", zap.Int("ply", g.model.Len()), zap.Duration("loop_time", c.cfg.Now().Sub(g.turnAt)))
		}
		return StateComputeOwnMove, nil
	}
	return state, fmt.Errorf("unhandled state %s", state)
}

// validate rejects configurations where a single search could outlast the
// wait for the opponent's reply.
func (c *Controller) validate() error {
	if c.cfg.Color != nchess.White && c.cfg.Color != nchess.Black {
		return ErrNoColor
	}
	if err := chess.ValidateMode(c.cfg.Mode); err != nil {
		return err
	}
	if ceiling := c.cfg.Mode.Ceiling(c.cfg.Deceive); ceiling > 0 && ceiling >= c.cfg.WatchTimeout {
		return fmt.Errorf("%w: %s ceiling %s, timeout %s", ErrBudgetExceedsTimeout, c.cfg.Mode.Name(), ceiling, c.cfg.WatchTimeout)
	}
	return nil
}

// mapping is rebuilt from the live geometry before every gesture.
func (c *Controller) mapping(ctx context.Context) (*geometry.Mapping, error) {
	box, err := c.host.ReadBoardBoundingBox(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", geometry.ErrMappingUnavailable, err)
	}
	return geometry.Build(box, geometry.OrientationFor(c.cfg.Color))
}

func (c *Controller) halfMove(ctx context.Context, g *game, own bool) {
	g.sess.HalfMoves = g.model.Len()
	hist := g.model.History()
	rec := hist[len(hist)-1]
	for _, o := range c.observers {
		o.HalfMove(ctx, g.sess, g.model, rec, own)
	}
}

func (c *Controller) evaluate(ctx context.Context, log *zap.Logger, g *game) {
	c.oracle.SetPosition(g.model.FEN())
	ev, err := c.oracle.Evaluate(ctx)
	if err != nil {
		log.Warn("evaluation_failed", zap.Error(err))
		return
	}
	log.Info("position_evaluated", zap.Int("ply", g.model.Len()), zap.String("eval", ev.String()))
}

// notifyEnded runs even when ctx is already cancelled so that archives and
// relays still see the end of an interrupted game.
func (c *Controller) notifyEnded(ctx context.Context, g *game) {
	if len(c.observers) == 0 {
		return
	}
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for _, o := range c.observers {
		o.GameEnded(ectx, g.sess, g.model)
	}
}
