package domain

import "time"

// GameRecord is a finished autopilot game as archived.
type GameRecord struct {
	ID          int64
	SessionUUID string
	PlayedAs    string
	SpeedMode   string
	Deceive     bool
	Level       int
	Result      string
	Verdict     string
	Method      string
	ECO         string
	Opening     string
	MovesUCI    []string
	MovesSAN    []string
	PGN         string
	StartedAt   time.Time
	EndedAt     time.Time
	Duration    time.Duration
	EngineTime  time.Duration
	Failure     string
}

// SessionSnapshot is the live view of a running game, refreshed every half-move.
type SessionSnapshot struct {
	SessionUUID string    `json:"session_uuid"`
	PlayedAs    string    `json:"played_as"`
	SpeedMode   string    `json:"speed_mode"`
	Deceive     bool      `json:"deceive"`
	State       string    `json:"state"`
	FEN         string    `json:"fen"`
	HalfMoves   int       `json:"half_moves"`
	LastMove    string    `json:"last_move,omitempty"`
	LedgerCount int       `json:"ledger_count"`
	LedgerText  string    `json:"ledger_text,omitempty"`
	Verdict     string    `json:"verdict,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
