// Package chessdto holds the wire types the autopilot publishes to a relay.
package chessdto

import "time"

type EventType string

const (
	EventGameStarted EventType = "game_started"
	EventHalfMove    EventType = "half_move"
	EventGameEnded   EventType = "game_ended"
	EventDesync      EventType = "desync"
)

// GameEvent is one relay frame. Image is a base64 PNG, present only on
// end and desync events.
type GameEvent struct {
	Type        EventType `json:"type"`
	Channel     string    `json:"channel"`
	SessionUUID string    `json:"session_uuid"`
	Text        string    `json:"text"`
	FEN         string    `json:"fen,omitempty"`
	HalfMove    int       `json:"half_move,omitempty"`
	MoveSAN     string    `json:"move_san,omitempty"`
	MoveUCI     string    `json:"move_uci,omitempty"`
	Verdict     string    `json:"verdict,omitempty"`
	Image       string    `json:"image,omitempty"`
	At          time.Time `json:"at"`
}

// Ack is the relay's reply to an HTTP publish.
type Ack struct {
	Accepted bool   `json:"accepted"`
	ID       string `json:"id,omitempty"`
}
