// Package board holds the authoritative game state for one autopilot game.
package board

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

var ErrInvalidMove = errors.New("invalid chess move")

type Status int

const (
	Ongoing Status = iota
	Checkmate
	Stalemate
	Draw
)

func (s Status) String() string {
	switch s {
	case Checkmate:
		return "checkmate"
	case Stalemate:
		return "stalemate"
	case Draw:
		return "draw"
	default:
		return "ongoing"
	}
}

// Terminal reports whether no further moves can be applied.
func (s Status) Terminal() bool { return s != Ongoing }

// Move is a decoded move together with the notation flags of the rules engine.
type Move struct {
	From      nchess.Square
	To        nchess.Square
	Promotion nchess.PieceType
	SAN       string
	UCI       string
	Capture   bool
	Check     bool
	Checkmate bool
}

func (m Move) IsPromotion() bool { return m.Promotion != nchess.NoPieceType }

// Record is one applied half-move.
type Record struct {
	Ply   int
	Color nchess.Color
	SAN   string
	UCI   string
}

// Model wraps the rules engine. It is owned by a single controller and is not
// safe for concurrent use.
type Model struct {
	game    *nchess.Game
	history []Record
}

func NewModel() *Model {
	return &Model{game: nchess.NewGame()}
}

// FromFEN starts the model from an arbitrary position.
func FromFEN(fen string) (*Model, error) {
	opt, err := nchess.FEN(strings.TrimSpace(fen))
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	return &Model{game: nchess.NewGame(opt)}, nil
}

// Resolve decodes text (SAN first, then UCI) against the current position
// without applying it.
func (m *Model) Resolve(text string) (Move, error) {
	mv, err := m.decode(text)
	if err != nil {
		return Move{}, err
	}
	return m.describe(mv), nil
}

// Apply validates and plays text, returning the resulting status.
func (m *Model) Apply(text string) (Status, error) {
	if m.Status().Terminal() {
		return m.Status(), fmt.Errorf("%w: game already finished", ErrInvalidMove)
	}
	mv, err := m.decode(text)
	if err != nil {
		return m.Status(), err
	}
	desc := m.describe(mv)
	color := m.game.Position().Turn()
	if err := m.game.Move(mv, nil); err != nil {
		return m.Status(), fmt.Errorf("%w: %q: %v", ErrInvalidMove, text, err)
	}
	m.history = append(m.history, Record{
		Ply:   len(m.history) + 1,
		Color: color,
		SAN:   desc.SAN,
		UCI:   desc.UCI,
	})
	return m.Status(), nil
}

// decode reads coordinate text ("g1f3", "e7e8q") as UCI only; the SAN
// decoder accepts such text and resolves it to a different move.
func (m *Model) decode(text string) (*nchess.Move, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty move", ErrInvalidMove)
	}
	pos := m.game.Position()
	if isUCI(raw) {
		if mv := matchUCI(pos, strings.ToLower(raw)); mv != nil {
			return mv, nil
		}
		return nil, fmt.Errorf("%w: %q in %s", ErrInvalidMove, raw, m.game.FEN())
	}
	if mv := matchSAN(pos, raw); mv != nil {
		return mv, nil
	}
	if mv, err := (nchess.AlgebraicNotation{}).Decode(pos, raw); err == nil && isLegal(pos, mv) {
		return mv, nil
	}
	return nil, fmt.Errorf("%w: %q in %s", ErrInvalidMove, raw, m.game.FEN())
}

// isUCI matches [a-h][1-8][a-h][1-8] with an optional promotion letter.
func isUCI(s string) bool {
	s = strings.ToLower(s)
	if len(s) != 4 && len(s) != 5 {
		return false
	}
	for i := 0; i < 4; i += 2 {
		if s[i] < 'a' || s[i] > 'h' || s[i+1] < '1' || s[i+1] > '8' {
			return false
		}
	}
	return len(s) == 4 || strings.IndexByte("qrbn", s[4]) >= 0
}

func matchUCI(pos *nchess.Position, text string) *nchess.Move {
	moves := pos.ValidMoves()
	for i := range moves {
		if strings.ToLower(nchess.UCINotation{}.Encode(pos, &moves[i])) == text {
			return &moves[i]
		}
	}
	return nil
}

func isLegal(pos *nchess.Position, mv *nchess.Move) bool {
	for _, v := range pos.ValidMoves() {
		if v.S1() == mv.S1() && v.S2() == mv.S2() && v.Promo() == mv.Promo() {
			return true
		}
	}
	return false
}

// matchSAN compares text against every legal move's SAN with check and
// annotation marks removed, so "Qh4" and "Qh4#" both resolve.
func matchSAN(pos *nchess.Position, text string) *nchess.Move {
	want := strings.TrimRight(text, "+#!?")
	if want == "" {
		return nil
	}
	moves := pos.ValidMoves()
	for i := range moves {
		if strings.TrimRight(nchess.AlgebraicNotation{}.Encode(pos, &moves[i]), "+#!?") == want {
			return &moves[i]
		}
	}
	return nil
}

func (m *Model) describe(mv *nchess.Move) Move {
	pos := m.game.Position()
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	return Move{
		From:      mv.S1(),
		To:        mv.S2(),
		Promotion: mv.Promo(),
		SAN:       san,
		UCI:       strings.ToLower(nchess.UCINotation{}.Encode(pos, mv)),
		Capture:   mv.HasTag(nchess.Capture) || mv.HasTag(nchess.EnPassant),
		Check:     strings.HasSuffix(san, "+") || strings.HasSuffix(san, "#"),
		Checkmate: strings.HasSuffix(san, "#"),
	}
}

func (m *Model) FEN() string { return m.game.FEN() }

func (m *Model) Turn() nchess.Color { return m.game.Position().Turn() }

func (m *Model) Status() Status {
	if m.game.Outcome() == nchess.NoOutcome {
		return Ongoing
	}
	switch m.game.Method() {
	case nchess.Checkmate:
		return Checkmate
	case nchess.Stalemate:
		return Stalemate
	default:
		return Draw
	}
}

// Outcome is the PGN result token ("1-0", "0-1", "1/2-1/2" or "*").
func (m *Model) Outcome() string { return string(m.game.Outcome()) }

// Method is the lower-case termination method reported by the rules engine.
func (m *Model) Method() string {
	if m.game.Outcome() == nchess.NoOutcome {
		return ""
	}
	return strings.ToLower(m.game.Method().String())
}

// History returns a copy of the applied half-moves.
func (m *Model) History() []Record {
	return append([]Record(nil), m.history...)
}

func (m *Model) Len() int { return len(m.history) }

func (m *Model) SAN() []string {
	out := make([]string, len(m.history))
	for i, r := range m.history {
		out[i] = r.SAN
	}
	return out
}

func (m *Model) UCI() []string {
	out := make([]string, len(m.history))
	for i, r := range m.history {
		out[i] = r.UCI
	}
	return out
}

// LastMove returns the squares of the most recent half-move.
func (m *Model) LastMove() (from, to nchess.Square, ok bool) {
	moves := m.game.Moves()
	if len(moves) == 0 {
		return nchess.NoSquare, nchess.NoSquare, false
	}
	last := moves[len(moves)-1]
	return last.S1(), last.S2(), true
}

// Board exposes the current piece placement for rendering.
func (m *Model) Board() *nchess.Board { return m.game.Position().Board() }

// Opening returns the ECO code and title of the longest matching opening line.
func (m *Model) Opening() (code, title string) {
	book := opening.NewBookECO()
	if book == nil {
		return "", ""
	}
	if eco := book.Find(m.game.Moves()); eco != nil {
		return eco.Code(), eco.Title()
	}
	return "", ""
}
