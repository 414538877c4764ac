// Package endgame folds the board state and external signals into one verdict.
package endgame

import "github.com/park285/chess-autopilot/internal/board"

type Verdict int

const (
	Ongoing Verdict = iota
	Checkmate
	Stalemate
	Draw
	TimeOver
	Unknown
)

func (v Verdict) String() string {
	switch v {
	case Checkmate:
		return "checkmate"
	case Stalemate:
		return "stalemate"
	case Draw:
		return "draw"
	case TimeOver:
		return "time_over"
	case Unknown:
		return "unknown"
	default:
		return "ongoing"
	}
}

func (v Verdict) Terminal() bool { return v != Ongoing }

type Input struct {
	Board           board.Status
	TimeOver        bool
	WatcherTimedOut bool
}

// Decide applies the precedence checkmate > stalemate > draw > time over >
// unknown. The board is authoritative: a watcher timeout that coincides with
// a mate on the board is still a checkmate.
func Decide(in Input) Verdict {
	switch in.Board {
	case board.Checkmate:
		return Checkmate
	case board.Stalemate:
		return Stalemate
	case board.Draw:
		return Draw
	}
	if in.TimeOver {
		return TimeOver
	}
	if in.WatcherTimedOut {
		return Unknown
	}
	return Ongoing
}
