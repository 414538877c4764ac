package autopilot

import (
	"context"
	"errors"
	"time"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/chess-autopilot/internal/board"
	"github.com/park285/chess-autopilot/internal/chess"
	"github.com/park285/chess-autopilot/internal/domain"
	"github.com/park285/chess-autopilot/internal/endgame"
	"github.com/park285/chess-autopilot/internal/executor"
	"github.com/park285/chess-autopilot/internal/geometry"
	"github.com/park285/chess-autopilot/internal/watcher"
)

type State int

const (
	StateSetup State = iota
	StateAwaitOpening
	StateComputeOwnMove
	StateExecuteOwnMove
	StateCheckSelfCheckmate
	StateAwaitOpponentMove
	StateApplyOpponentMove
	StateCheckOpponentCheckmate
	StateCheckGameEnd
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateAwaitOpening:
		return "await_opening"
	case StateComputeOwnMove:
		return "compute_own_move"
	case StateExecuteOwnMove:
		return "execute_own_move"
	case StateCheckSelfCheckmate:
		return "check_self_checkmate"
	case StateAwaitOpponentMove:
		return "await_opponent_move"
	case StateApplyOpponentMove:
		return "apply_opponent_move"
	case StateCheckOpponentCheckmate:
		return "check_opponent_checkmate"
	case StateCheckGameEnd:
		return "check_game_end"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Session is one game from Setup to Terminal.
type Session struct {
	ID        string
	Color     nchess.Color
	Mode      chess.SpeedMode
	Deceive   bool
	Level     int
	StartedAt time.Time
	EndedAt   time.Time

	State      State
	HalfMoves  int
	Last       watcher.Snapshot
	Verdict    endgame.Verdict
	EngineTime time.Duration
	Err        error
}

func colorName(c nchess.Color) string {
	switch c {
	case nchess.White:
		return "white"
	case nchess.Black:
		return "black"
	default:
		return "none"
	}
}

func (s *Session) modeName() string {
	if s.Mode == nil {
		return ""
	}
	return s.Mode.Name()
}

// Failure classifies the error that ended the session, "" for a clean finish.
func (s *Session) Failure() string {
	switch err := s.Err; {
	case err == nil:
		return ""
	case errors.Is(err, ErrBudgetExceedsTimeout):
		return "budget_exceeds_timeout"
	case errors.Is(err, chess.ErrEngineUnavailable):
		return "engine_unavailable"
	case errors.Is(err, chess.ErrNoLegalMove):
		return "no_legal_move"
	case errors.Is(err, chess.ErrPositionNotSet):
		return "position_not_set"
	case errors.Is(err, board.ErrInvalidMove):
		return "invalid_move"
	case errors.Is(err, executor.ErrNoPieceFound):
		return "no_piece_found"
	case errors.Is(err, executor.ErrPromotionUINotFound):
		return "promotion_ui_not_found"
	case errors.Is(err, geometry.ErrMappingUnavailable):
		return "mapping_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

// Desynced reports whether the session ended because the UI and the
// authoritative board disagreed.
func (s *Session) Desynced() bool {
	return errors.Is(s.Err, executor.ErrNoPieceFound) || errors.Is(s.Err, board.ErrInvalidMove)
}

// Snapshot is the live view stored after every half-move.
func (s *Session) Snapshot(m *board.Model, now time.Time) *domain.SessionSnapshot {
	snap := &domain.SessionSnapshot{
		SessionUUID: s.ID,
		PlayedAs:    colorName(s.Color),
		SpeedMode:   s.modeName(),
		Deceive:     s.Deceive,
		State:       s.State.String(),
		HalfMoves:   s.HalfMoves,
		LedgerCount: s.Last.Count,
		LedgerText:  s.Last.Text,
		StartedAt:   s.StartedAt,
		UpdatedAt:   now,
	}
	if s.Verdict.Terminal() {
		snap.Verdict = s.Verdict.String()
	}
	if m != nil {
		snap.FEN = m.FEN()
		if san := m.SAN(); len(san) > 0 {
			snap.LastMove = san[len(san)-1]
		}
	}
	return snap
}

// Record is the archived form of a finished session.
func (s *Session) Record(m *board.Model) *domain.GameRecord {
	rec := &domain.GameRecord{
		SessionUUID: s.ID,
		PlayedAs:    colorName(s.Color),
		SpeedMode:   s.modeName(),
		Deceive:     s.Deceive,
		Level:       s.Level,
		Result:      "*",
		Verdict:     s.Verdict.String(),
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
		Duration:    s.EndedAt.Sub(s.StartedAt),
		EngineTime:  s.EngineTime,
		Failure:     s.Failure(),
	}
	if m == nil {
		return rec
	}
	rec.MovesSAN = m.SAN()
	rec.MovesUCI = m.UCI()
	rec.Method = m.Method()
	rec.ECO, rec.Opening = m.Opening()
	if out := m.Outcome(); out != "" {
		rec.Result = out
	}
	if s.Verdict == endgame.TimeOver && rec.Result == "*" {
		rec.Method = "time_over"
	}
	return rec
}
