package autopilot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/chess-autopilot/internal/board"
	"github.com/park285/chess-autopilot/internal/chess"
	"github.com/park285/chess-autopilot/internal/domhost"
	"github.com/park285/chess-autopilot/internal/endgame"
	"github.com/park285/chess-autopilot/internal/executor"
	"github.com/park285/chess-autopilot/internal/geometry"
	"github.com/park285/chess-autopilot/internal/testutil"
	"github.com/park285/chess-autopilot/internal/watcher"
)

var pieceNames = map[nchess.PieceType]string{
	nchess.King: "king", nchess.Queen: "queen", nchess.Rook: "rook",
	nchess.Bishop: "bishop", nchess.Knight: "knight", nchess.Pawn: "pawn",
}

// fakeHost is a browser stand-in that keeps its own copy of the game and
// answers each of the bot's moves with the next scripted reply.
type fakeHost struct {
	played  nchess.Color
	box     geometry.BoundingBox
	remote  *board.Model
	replies []string
	// extra is appended to the rendered ledger verbatim.
	extra    []string
	noPieces bool
	noPanel  bool
	timeOver bool
	gestures int
	pending  string
}

func newFakeHost(played nchess.Color, replies ...string) *fakeHost {
	h := &fakeHost{
		played:  played,
		box:     geometry.BoundingBox{Width: 640, Height: 640},
		remote:  board.NewModel(),
		replies: replies,
	}
	if played == nchess.Black {
		h.reply()
	}
	return h
}

func (h *fakeHost) mapping() *geometry.Mapping {
	m, err := geometry.Build(h.box, geometry.OrientationFor(h.played))
	if err != nil {
		return nil
	}
	return m
}

func (h *fakeHost) reply() {
	if len(h.replies) == 0 {
		return
	}
	next := h.replies[0]
	h.replies = h.replies[1:]
	if raw, ok := strings.CutPrefix(next, "!"); ok {
		h.extra = append(h.extra, raw)
		return
	}
	if _, err := h.remote.Apply(next); err != nil {
		panic(err)
	}
}

func (h *fakeHost) ReadBoardBoundingBox(context.Context) (geometry.BoundingBox, error) {
	return h.box, nil
}

func (h *fakeHost) ReadPiecePositions(context.Context) ([]domhost.PiecePosition, error) {
	m := h.mapping()
	if h.noPieces || m == nil {
		return nil, nil
	}
	var out []domhost.PiecePosition
	for sq, p := range h.remote.Board().SquareMap() {
		if p == nchess.NoPiece {
			continue
		}
		r, _ := m.Rect(sq)
		out = append(out, domhost.PiecePosition{Class: colorName(p.Color()) + " " + pieceNames[p.Type()], At: r.TopLeft()})
	}
	return out, nil
}

// ReadMoveLedger renders an empty cell after a lone white move.
func (h *fakeHost) ReadMoveLedger(context.Context) (domhost.Ledger, error) {
	out := h.remote.SAN()
	if len(out)%2 == 1 {
		out = append(out, "")
	}
	return append(out, h.extra...), nil
}

func (h *fakeHost) PerformGesture(_ context.Context, from, to geometry.Point) error {
	h.gestures++
	m := h.mapping()
	src, ok1 := m.SquareAt(from)
	dst, ok2 := m.SquareAt(to)
	if !ok1 || !ok2 {
		return errors.New("gesture off board")
	}
	uci := src.String() + dst.String()
	if _, err := h.remote.Resolve(uci); err != nil {
		if _, perr := h.remote.Resolve(uci + "q"); perr == nil {
			h.pending = uci
			return nil
		}
		return err
	}
	if _, err := h.remote.Apply(uci); err != nil {
		return err
	}
	h.reply()
	return nil
}

func (h *fakeHost) AwaitPromotionPanel(context.Context, time.Duration) (*domhost.PromotionPanel, error) {
	if h.pending == "" || h.noPanel {
		return nil, nil
	}
	c := colorName(h.remote.Turn())
	return &domhost.PromotionPanel{Options: []domhost.PromotionOption{
		{Index: 0, Class: c + " queen"},
		{Index: 1, Class: c + " knight"},
		{Index: 2, Class: c + " rook"},
		{Index: 3, Class: c + " bishop"},
	}}, nil
}

func (h *fakeHost) SelectPromotionPiece(_ context.Context, _ *domhost.PromotionPanel, opt domhost.PromotionOption) error {
	fields := strings.Fields(opt.Class)
	promo, ok := executor.PromotionByLetter(map[string]byte{"queen": 'q', "knight": 'n', "rook": 'r', "bishop": 'b'}[fields[len(fields)-1]])
	if !ok {
		return errors.New("unknown promotion option")
	}
	if _, err := h.remote.Apply(h.pending + string(promo.Letter)); err != nil {
		return err
	}
	h.pending = ""
	h.reply()
	return nil
}

func (h *fakeHost) SignalTimeOver(context.Context) (bool, error) { return h.timeOver, nil }

type fakeOracle struct {
	moves     []string
	failAt    int
	err       error
	calls     int
	releases  int
	evals     int
	positions []string
}

func (o *fakeOracle) SetPosition(fen string) { o.positions = append(o.positions, fen) }

func (o *fakeOracle) BestMove(context.Context, chess.SpeedMode, bool) (chess.Suggestion, error) {
	i := o.calls
	o.calls++
	if o.err != nil && i == o.failAt {
		return chess.Suggestion{}, o.err
	}
	if i >= len(o.moves) {
		return chess.Suggestion{}, chess.ErrNoLegalMove
	}
	return chess.Suggestion{Move: o.moves[i], Source: chess.SourceEngine, Elapsed: 5 * time.Millisecond}, nil
}

func (o *fakeOracle) Evaluate(context.Context) (chess.Evaluation, error) {
	o.evals++
	return chess.Evaluation{CP: 20}, nil
}

func (o *fakeOracle) Release() error {
	o.releases++
	return nil
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

type event struct {
	Kind string
	SAN  string
	Own  bool
}

type recorder struct{ events []event }

func (r *recorder) GameStarted(context.Context, *Session, *board.Model) {
	r.events = append(r.events, event{Kind: "start"})
}

func (r *recorder) HalfMove(_ context.Context, _ *Session, _ *board.Model, rec board.Record, own bool) {
	r.events = append(r.events, event{Kind: "move", SAN: rec.SAN, Own: own})
}

func (r *recorder) GameEnded(_ context.Context, s *Session, _ *board.Model) {
	r.events = append(r.events, event{Kind: "end", SAN: s.Verdict.String()})
}

func testConfig(color nchess.Color) Config {
	clock := &fakeClock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
	return Config{
		Color:        color,
		Mode:         chess.Normal{Depth: 8, Skill: 20},
		WatchTimeout: time.Second,
		PollInterval: 100 * time.Millisecond,
		Now:          clock.Now,
		Sleep:        clock.Sleep,
	}
}

func TestPlay_WhiteDeliversMate(t *testing.T) {
	host := newFakeHost(nchess.White, "e5", "Nc6", "Nf6")
	oracle := &fakeOracle{moves: []string{"e2e4", "f1c4", "d1h5", "h5f7"}}
	rec := &recorder{}

	sess, err := New(host, oracle, testConfig(nchess.White), rec).Play(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, sess.Verdict, endgame.Checkmate)
	testutil.AssertEqual(t, sess.HalfMoves, 7)
	testutil.AssertEqual(t, oracle.releases, 1)
	testutil.AssertEqual(t, host.gestures, 4)
	testutil.AssertEqual(t, rec.events, []event{
		{Kind: "start"},
		{Kind: "move", SAN: "e4", Own: true},
		{Kind: "move", SAN: "e5"},
		{Kind: "move", SAN: "Bc4", Own: true},
		{Kind: "move", SAN: "Nc6"},
		{Kind: "move", SAN: "Qh5", Own: true},
		{Kind: "move", SAN: "Nf6"},
		{Kind: "move", SAN: "Qxf7#", Own: true},
		{Kind: "end", SAN: "checkmate"},
	})
	if sess.ID == "" || sess.State != StateTerminal || sess.Err != nil {
		t.Fatalf("session = %+v", sess)
	}
}

func TestPlay_BlackWaitsForOpeningMove(t *testing.T) {
	host := newFakeHost(nchess.Black, "f3", "g4")
	oracle := &fakeOracle{moves: []string{"e7e5", "d8h4"}}

	sess, err := New(host, oracle, testConfig(nchess.Black)).Play(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, sess.Verdict, endgame.Checkmate)
	testutil.AssertEqual(t, sess.HalfMoves, 4)
	testutil.AssertEqual(t, sess.Last, watcher.Snapshot{Count: 4, Text: "g4"})
	testutil.AssertEqual(t, oracle.releases, 1)
	// The first search starts after white's opening move.
	if !strings.Contains(oracle.positions[0], " b ") {
		t.Fatalf("first search position %q is not black to move", oracle.positions[0])
	}
}

func TestPlay_OpponentDeliversMate(t *testing.T) {
	host := newFakeHost(nchess.White, "e5", "Qh4#")
	oracle := &fakeOracle{moves: []string{"f2f3", "g2g4"}}

	sess, err := New(host, oracle, testConfig(nchess.White)).Play(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, sess.Verdict, endgame.Checkmate)
	testutil.AssertEqual(t, sess.HalfMoves, 4)
	testutil.AssertEqual(t, oracle.calls, 2)
	testutil.AssertEqual(t, sess.Record(nil).Verdict, "checkmate")
}

func TestPlay_SilentOpponent(t *testing.T) {
	for _, tc := range []struct {
		name     string
		timeOver bool
		want     endgame.Verdict
	}{
		{"no signal", false, endgame.Unknown},
		{"clock flagged", true, endgame.TimeOver},
	} {
		t.Run(tc.name, func(t *testing.T) {
			host := newFakeHost(nchess.White)
			host.timeOver = tc.timeOver
			oracle := &fakeOracle{moves: []string{"e2e4"}}

			sess, err := New(host, oracle, testConfig(nchess.White)).Play(context.Background())
			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, sess.Verdict, tc.want)
			testutil.AssertEqual(t, sess.HalfMoves, 1)
			testutil.AssertEqual(t, oracle.releases, 1)
		})
	}
}

func TestPlay_EvaluatesAfterOpponentMoves(t *testing.T) {
	host := newFakeHost(nchess.White, "e5", "Qh4#")
	oracle := &fakeOracle{moves: []string{"f2f3", "g2g4"}}
	cfg := testConfig(nchess.White)
	cfg.Evaluation = true

	_, err := New(host, oracle, cfg).Play(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, oracle.evals, 2)
}

func TestPlay_ReleasesOracleOnceOnEveryError(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name        string
		ctx         context.Context
		color       nchess.Color
		moves       []string
		oracleErr   error
		replies     []string
		setup       func(*fakeHost, *Config)
		wantErr     error
		wantFailure string
	}{
		{name: "engine unavailable", oracleErr: chess.ErrEngineUnavailable, wantErr: chess.ErrEngineUnavailable, wantFailure: "engine_unavailable"},
		{name: "position not set", oracleErr: chess.ErrPositionNotSet, wantErr: chess.ErrPositionNotSet, wantFailure: "position_not_set"},
		{name: "illegal oracle move", moves: []string{"e2e5"}, wantErr: board.ErrInvalidMove, wantFailure: "invalid_move"},
		{name: "illegal ledger move", moves: []string{"e2e4"}, replies: []string{"!Ke2"}, wantErr: board.ErrInvalidMove, wantFailure: "invalid_move"},
		{
			name: "no piece rendered", moves: []string{"e2e4"},
			setup:   func(h *fakeHost, _ *Config) { h.noPieces = true },
			wantErr: executor.ErrNoPieceFound, wantFailure: "no_piece_found",
		},
		{
			name: "promotion dialog missing", moves: []string{"e2e4", "e4d5", "d5c6", "c6b7", "b7a8q"},
			replies: []string{"d5", "c6", "Nf6", "Nbd7"},
			setup:   func(h *fakeHost, _ *Config) { h.noPanel = true },
			wantErr: executor.ErrPromotionUINotFound, wantFailure: "promotion_ui_not_found",
		},
		{
			name: "board not measurable", moves: []string{"e2e4"},
			setup:   func(h *fakeHost, _ *Config) { h.box = geometry.BoundingBox{} },
			wantErr: geometry.ErrMappingUnavailable, wantFailure: "mapping_unavailable",
		},
		{
			name: "budget exceeds timeout",
			setup: func(_ *fakeHost, c *Config) {
				c.Mode = chess.NewBullet(chess.Interval{Min: 100 * time.Millisecond, Max: 1000 * time.Millisecond}, 200*time.Millisecond)
				c.Deceive = true
			},
			wantErr: ErrBudgetExceedsTimeout, wantFailure: "budget_exceeds_timeout",
		},
		{name: "no color", color: nchess.NoColor, wantErr: ErrNoColor, wantFailure: "error"},
		{name: "cancelled", ctx: cancelled, wantErr: context.Canceled, wantFailure: "cancelled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			color := nchess.White
			if tt.name == "no color" {
				color = tt.color
			}
			host := newFakeHost(color, tt.replies...)
			oracle := &fakeOracle{moves: tt.moves, err: tt.oracleErr}
			cfg := testConfig(color)
			if tt.setup != nil {
				tt.setup(host, &cfg)
			}
			ctx := tt.ctx
			if ctx == nil {
				ctx = context.Background()
			}
			rec := &recorder{}

			sess, err := New(host, oracle, cfg, rec).Play(ctx)
			testutil.AssertErrorIs(t, err, tt.wantErr)
			testutil.AssertEqual(t, oracle.releases, 1)
			testutil.AssertEqual(t, sess.Verdict, endgame.Unknown)
			testutil.AssertEqual(t, sess.Failure(), tt.wantFailure)
			if last := rec.events[len(rec.events)-1]; last.Kind != "end" {
				t.Fatalf("last event = %+v", last)
			}
		})
	}
}

func TestPlay_BulletCeilingBelowTimeoutIsAccepted(t *testing.T) {
	host := newFakeHost(nchess.White, "e5", "Qh4#")
	oracle := &fakeOracle{moves: []string{"f2f3", "g2g4"}}
	cfg := testConfig(nchess.White)
	cfg.Mode = chess.NewBullet(chess.Interval{Min: 100 * time.Millisecond, Max: 900 * time.Millisecond}, 200*time.Millisecond)
	cfg.Deceive = true

	_, err := New(host, oracle, cfg).Play(context.Background())
	testutil.AssertNoError(t, err)
}

func TestStateString(t *testing.T) {
	testutil.AssertEqual(t, StateAwaitOpponentMove.String(), "await_opponent_move")
	testutil.AssertEqual(t, StateTerminal.String(), "terminal")
	testutil.AssertEqual(t, State(99).String(), "unknown")
}
