// Package chess turns Stockfish searches into paced move suggestions.
package chess

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/chess/openingbook"
	"github.com/park285/chess-autopilot/internal/chess/uci"
)

var (
	ErrEngineUnavailable = errors.New("chess engine unavailable")
	ErrNoLegalMove       = errors.New("engine found no legal move")
	ErrPositionNotSet    = errors.New("oracle position not set")
)

const (
	defaultHashMB  = 64
	acquireTimeout = 10 * time.Second
)

type searcher interface {
	NewGame(ctx context.Context) error
	Search(ctx context.Context, req uci.SearchRequest) (uci.SearchResponse, error)
}

type sessionPool interface {
	acquire(ctx context.Context, opt uci.Options) (searcher, error)
	release(s searcher, err error)
	Close() error
}

type uciPool struct{ *uci.Pool }

func (p uciPool) acquire(ctx context.Context, opt uci.Options) (searcher, error) {
	return p.Acquire(ctx, opt)
}

func (p uciPool) release(s searcher, err error) {
	if proc, ok := s.(*uci.Process); ok {
		p.Release(proc, err)
	}
}

type EngineConfig struct {
	BinaryPath string
	Threads    int
	HashMB     int
	Elo        int
	Book       *openingbook.Book
	Logger     *zap.Logger
}

// Engine owns the process pool; Oracles borrow one session per game.
type Engine struct {
	pool    sessionPool
	book    *openingbook.Book
	threads int
	hashMB  int
	elo     int
	logger  *zap.Logger

	randMu sync.Mutex
	rand   *rand.Rand
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := uci.NewPool(uci.PoolConfig{BinaryPath: cfg.BinaryPath, Capacity: 1, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	return newEngine(uciPool{pool}, cfg, logger), nil
}

func newEngine(pool sessionPool, cfg EngineConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	hash := cfg.HashMB
	if hash <= 0 {
		hash = defaultHashMB
	}
	return &Engine{
		pool:    pool,
		book:    cfg.Book,
		threads: cfg.Threads,
		hashMB:  hash,
		elo:     cfg.Elo,
		logger:  logger,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewOracle acquires an engine session configured for mode and starts a new game on it.
func (e *Engine) NewOracle(ctx context.Context, mode SpeedMode) (*Oracle, error) {
	if err := ValidateMode(mode); err != nil {
		return nil, err
	}
	opt := uci.Options{
		Threads:    e.threads,
		SkillLevel: mode.skill(),
		HashMB:     e.hashMB,
		MultiPV:    1,
		Elo:        e.elo,
	}

	acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()
	session, err := e.pool.acquire(acquireCtx, opt)
	if err != nil {
		return nil, mapEngineError(err)
	}
	if err := session.NewGame(acquireCtx); err != nil {
		e.pool.release(session, err)
		return nil, mapEngineError(err)
	}

	e.logger.Info("oracle_acquired",
		zap.String("mode", mode.Name()),
		zap.Int("skill", opt.SkillLevel),
		zap.Int("threads", opt.Threads),
	)
	return &Oracle{
		pool:    e.pool,
		session: session,
		mode:    mode,
		book:    e.book,
		rand:    e.random(),
		logger:  e.logger,
		sleep:   sleepContext,
	}, nil
}

func (e *Engine) random() *rand.Rand {
	e.randMu.Lock()
	seed := e.rand.Int63()
	e.randMu.Unlock()
	return rand.New(rand.NewSource(seed))
}

func (e *Engine) SetRandomSeed(seed int64) {
	e.randMu.Lock()
	e.rand = rand.New(rand.NewSource(seed))
	e.randMu.Unlock()
}

func (e *Engine) Close() error {
	if e.pool == nil {
		return nil
	}
	return e.pool.Close()
}

// mapEngineError keeps the cause visible while classifying it as unavailable.
func mapEngineError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrEngineUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
