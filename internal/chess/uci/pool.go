package uci

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("engine pool closed")

type PoolConfig struct {
	BinaryPath string
	// Capacity bounds live engine processes, idle or leased.
	Capacity int
	Logger   *zap.Logger
}

// Pool leases engine processes and keeps released ones warm for the next
// game.
type Pool struct {
	binaryPath string
	logger     *zap.Logger
	slots      chan struct{}

	mu     sync.Mutex
	idle   []*Process
	closed bool
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("binary path required")
	}
	resolved, err := exec.LookPath(cfg.BinaryPath)
	if err != nil {
		return nil, fmt.Errorf("stockfish binary check: %w", err)
	}
	capacity := max(cfg.Capacity, 1)
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		binaryPath: resolved,
		logger:     logger,
		slots:      make(chan struct{}, capacity),
	}, nil
}

// Acquire blocks until a slot is free, then reuses an idle process or
// starts a new one.
func (p *Pool) Acquire(ctx context.Context, opt Options) (*Process, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	for {
		proc, err := p.popIdle()
		if err != nil {
			<-p.slots
			return nil, err
		}
		if proc == nil {
			break
		}
		if err := proc.Configure(ctx, opt); err != nil {
			p.logger.Warn("uci_idle_process_stale", zap.Error(err))
			_ = proc.Close()
			continue
		}
		return proc, nil
	}
	proc, err := Start(ctx, p.binaryPath, opt, p.logger)
	if err != nil {
		<-p.slots
		return nil, err
	}
	return proc, nil
}

func (p *Pool) popIdle() (*Process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	n := len(p.idle)
	if n == 0 {
		return nil, nil
	}
	proc := p.idle[n-1]
	p.idle = p.idle[:n-1]
	return proc, nil
}

// Release returns proc to the pool; a non-nil err discards it instead.
func (p *Pool) Release(proc *Process, err error) {
	if proc == nil {
		return
	}
	defer func() { <-p.slots }()

	p.mu.Lock()
	if err == nil && !p.closed {
		p.idle = append(p.idle, proc)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	if err != nil {
		p.logger.Info("uci_process_discarded", zap.Error(err))
	}
	_ = proc.Close()
}

func (p *Pool) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for _, proc := range idle {
		if err := proc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
