// Package watcher detects opponent moves by polling the rendered move ledger.
package watcher

import (
	"context"
	"errors"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// Snapshot is one observation of the ledger.
type Snapshot struct {
	Count int
	Text  string
}

type Kind int

const (
	Unchanged Kind = iota
	Changed
	DeadlineExceeded
)

func (k Kind) String() string {
	switch k {
	case Changed:
		return "changed"
	case DeadlineExceeded:
		return "deadline_exceeded"
	default:
		return "unchanged"
	}
}

type Outcome struct {
	Kind Kind
	Text string
}

// Step decides a single poll. A move is confirmed only when the count grew and
// the text differs; either alone may be a partial render or a repeated move.
// An empty text is a placeholder cell and never confirms.
func Step(prev, observed Snapshot, now, deadline time.Time) Outcome {
	if observed.Count > prev.Count && observed.Text != prev.Text && observed.Text != "" {
		return Outcome{Kind: Changed, Text: observed.Text}
	}
	if now.After(deadline) {
		return Outcome{Kind: DeadlineExceeded}
	}
	return Outcome{Kind: Unchanged}
}

// Observe reduces raw ledger entries to a snapshot for the side the bot plays.
// Playing white the opponent's move is the last entry; playing black it is the
// second to last, or the only entry while the ledger holds a single move.
func Observe(entries []string, played nchess.Color) Snapshot {
	n := len(entries)
	if n == 0 {
		return Snapshot{}
	}
	idx := n - 1
	if played == nchess.Black && n >= 2 {
		idx = n - 2
	}
	return Snapshot{Count: n, Text: strings.TrimSpace(entries[idx])}
}

type LedgerReader interface {
	ReadMoveLedger(ctx context.Context) ([]string, error)
}

type Config struct {
	Timeout      time.Duration
	PollInterval time.Duration
	Logger       *zap.Logger
	// Now and Sleep default to the wall clock.
	Now   func() time.Time
	Sleep func(context.Context, time.Duration) error
}

// Result is what Await hands back to the controller.
type Result struct {
	Outcome  Outcome
	Snapshot Snapshot
	Polls    int
	Waited   time.Duration
}

// Watcher polls one game's ledger. Not safe for concurrent use.
type Watcher struct {
	reader  LedgerReader
	played  nchess.Color
	cfg     Config
	highest int
}

func New(reader LedgerReader, played nchess.Color, cfg Config) *Watcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return &Watcher{reader: reader, played: played, cfg: cfg}
}

func (w *Watcher) Timeout() time.Duration { return w.cfg.Timeout }

// Highest is the largest ledger count seen in this game.
func (w *Watcher) Highest() int { return w.highest }

// Await polls until a new opponent move is confirmed against prev or the
// deadline passes. No poll is issued once the deadline has passed.
func (w *Watcher) Await(ctx context.Context, prev Snapshot) (Result, error) {
	start := w.cfg.Now()
	deadline := start.Add(w.cfg.Timeout)
	res := Result{Snapshot: prev}

	for {
		observed, err := w.poll(ctx)
		res.Polls++
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if !errors.Is(err, errStaleLedger) {
				w.cfg.Logger.Warn("ledger_read_failed", zap.Int("poll", res.Polls), zap.Error(err))
			}
			observed = prev
		}

		now := w.cfg.Now()
		out := Step(prev, observed, now, deadline)
		switch out.Kind {
		case Changed:
			res.Outcome = out
			res.Snapshot = observed
			res.Waited = now.Sub(start)
			return res, nil
		case DeadlineExceeded:
			res.Outcome = out
			res.Waited = now.Sub(start)
			return res, nil
		}

		if err := w.cfg.Sleep(ctx, w.cfg.PollInterval); err != nil {
			return res, err
		}
		if now := w.cfg.Now(); now.After(deadline) {
			res.Outcome = Outcome{Kind: DeadlineExceeded}
			res.Waited = now.Sub(start)
			return res, nil
		}
	}
}

// poll reads the ledger and enforces count monotonicity: a lower count than
// already seen is a stale render and is reported as no change.
func (w *Watcher) poll(ctx context.Context) (Snapshot, error) {
	entries, err := w.reader.ReadMoveLedger(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	observed := Observe(entries, w.played)
	if observed.Count < w.highest {
		w.cfg.Logger.Debug("ledger_stale_render",
			zap.Int("observed", observed.Count),
			zap.Int("highest", w.highest),
		)
		return Snapshot{}, errStaleLedger
	}
	w.highest = observed.Count
	return observed, nil
}

var errStaleLedger = errors.New("ledger count went backwards")

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
