package chess

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/park285/chess-autopilot/internal/chess/uci"
	"github.com/park285/chess-autopilot/internal/testutil"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

type fakeSearcher struct {
	requests []uci.SearchRequest
	resp     uci.SearchResponse
	err      error
}

func (f *fakeSearcher) NewGame(context.Context) error { return nil }

func (f *fakeSearcher) Search(_ context.Context, req uci.SearchRequest) (uci.SearchResponse, error) {
	f.requests = append(f.requests, req)
	return f.resp, f.err
}

type fakePool struct {
	session    *fakeSearcher
	acquireErr error
	releases   int
	releaseErr error
}

func (p *fakePool) acquire(context.Context, uci.Options) (searcher, error) {
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	return p.session, nil
}

func (p *fakePool) release(_ searcher, err error) {
	p.releases++
	p.releaseErr = err
}

func (p *fakePool) Close() error { return nil }

func newTestOracle(t *testing.T, pool *fakePool, mode SpeedMode) *Oracle {
	t.Helper()
	e := newEngine(pool, EngineConfig{}, nil)
	e.SetRandomSeed(1)
	o, err := e.NewOracle(context.Background(), mode)
	testutil.AssertNoError(t, err, "NewOracle")
	return o
}

func defaultProfiles(t *testing.T) Profiles {
	t.Helper()
	p, err := LoadProfiles("")
	testutil.AssertNoError(t, err, "LoadProfiles")
	return p
}

func TestBestMove_NormalUsesDepth(t *testing.T) {
	pool := &fakePool{session: &fakeSearcher{resp: uci.SearchResponse{BestMove: "e2e4"}}}
	p := defaultProfiles(t)
	o := newTestOracle(t, pool, p.Normal)
	o.SetPosition(startFEN)

	got, err := o.BestMove(context.Background(), p.Normal, false)
	testutil.AssertNoError(t, err)
	if got.Move != "e2e4" || got.Source != SourceEngine {
		t.Fatalf("suggestion = %+v", got)
	}
	req := pool.session.requests[0]
	testutil.AssertEqual(t, req.Limits, uci.Limits{Depth: 20})
	if req.FEN != startFEN {
		t.Fatalf("fen = %q", req.FEN)
	}
}

func TestBestMove_BulletBudgets(t *testing.T) {
	pool := &fakePool{session: &fakeSearcher{resp: uci.SearchResponse{BestMove: "d2d4"}}}
	p := defaultProfiles(t)
	o := newTestOracle(t, pool, p.Bullet)
	o.SetPosition(startFEN)

	for i := 0; i < 200; i++ {
		got, err := o.BestMove(context.Background(), p.Bullet, true)
		testutil.AssertNoError(t, err)
		if got.Budget.MoveTime < 100*time.Millisecond || got.Budget.MoveTime > time.Second {
			t.Fatalf("deceptive budget %s outside [100ms, 1s]", got.Budget.MoveTime)
		}
	}
	for i := 0; i < 20; i++ {
		got, err := o.BestMove(context.Background(), p.Bullet, false)
		testutil.AssertNoError(t, err)
		if got.Budget.MoveTime != 200*time.Millisecond {
			t.Fatalf("fixed budget = %s", got.Budget.MoveTime)
		}
	}
	last := pool.session.requests[len(pool.session.requests)-1]
	testutil.AssertEqual(t, last.Limits, uci.Limits{MoveTime: 200 * time.Millisecond})
}

func TestBestMove_SearchFailureIsUnavailable(t *testing.T) {
	pool := &fakePool{session: &fakeSearcher{err: context.DeadlineExceeded}}
	p := defaultProfiles(t)
	o := newTestOracle(t, pool, p.Normal)
	o.SetPosition(startFEN)

	_, err := o.BestMove(context.Background(), p.Normal, false)
	testutil.AssertErrorIs(t, err, ErrEngineUnavailable)
	testutil.AssertErrorIs(t, err, context.DeadlineExceeded)

	testutil.AssertNoError(t, o.Release())
	if pool.releaseErr == nil {
		t.Fatal("broken session must be discarded on release")
	}
}

func TestBestMove_NoLegalMove(t *testing.T) {
	pool := &fakePool{session: &fakeSearcher{resp: uci.SearchResponse{BestMove: "(none)"}}}
	p := defaultProfiles(t)
	o := newTestOracle(t, pool, p.Normal)
	o.SetPosition("7k/8/6K1/8/8/8/8/5Q2 b - - 0 1")
	if _, err := o.BestMove(context.Background(), p.Normal, false); !errors.Is(err, ErrNoLegalMove) {
		t.Fatalf("err = %v", err)
	}
}

func TestOracle_PositionNotSet(t *testing.T) {
	pool := &fakePool{session: &fakeSearcher{resp: uci.SearchResponse{BestMove: "e2e4"}}}
	p := defaultProfiles(t)
	o := newTestOracle(t, pool, p.Normal)

	_, err := o.BestMove(context.Background(), p.Normal, false)
	testutil.AssertErrorIs(t, err, ErrPositionNotSet)
	_, err = o.Evaluate(context.Background())
	testutil.AssertErrorIs(t, err, ErrPositionNotSet)
	if len(pool.session.requests) != 0 {
		t.Fatal("no search may run without a position")
	}
}

func TestNewOracle_AcquireFailure(t *testing.T) {
	pool := &fakePool{acquireErr: errors.New("exec: not found")}
	e := newEngine(pool, EngineConfig{}, nil)
	_, err := e.NewOracle(context.Background(), defaultProfiles(t).Normal)
	testutil.AssertErrorIs(t, err, ErrEngineUnavailable)
}

func TestRelease_Idempotent(t *testing.T) {
	pool := &fakePool{session: &fakeSearcher{resp: uci.SearchResponse{BestMove: "e2e4"}}}
	o := newTestOracle(t, pool, defaultProfiles(t).Normal)
	for i := 0; i < 3; i++ {
		testutil.AssertNoError(t, o.Release())
	}
	if pool.releases != 1 {
		t.Fatalf("releases = %d, want 1", pool.releases)
	}
	o.SetPosition(startFEN)
	_, err := o.BestMove(context.Background(), nil, false)
	testutil.AssertErrorIs(t, err, ErrEngineUnavailable)
}

func TestEvaluate_WhitePerspective(t *testing.T) {
	resp := uci.SearchResponse{
		BestMove:   "e7e5",
		Candidates: []uci.Candidate{{Move: "e7e5", EvalCP: 40}},
	}
	pool := &fakePool{session: &fakeSearcher{resp: resp}}
	o := newTestOracle(t, pool, defaultProfiles(t).Normal)
	o.SetPosition("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1")

	ev, err := o.Evaluate(context.Background())
	testutil.AssertNoError(t, err)
	if ev.CP != -40 {
		t.Fatalf("cp = %d, want -40", ev.CP)
	}
}

func TestIntervalSample_Inclusive(t *testing.T) {
	iv := Interval{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	r := rand.New(rand.NewSource(3))
	seen := map[time.Duration]bool{}
	for i := 0; i < 2000; i++ {
		d := iv.Sample(r)
		if d < iv.Min || d > iv.Max {
			t.Fatalf("sample %s outside %v", d, iv)
		}
		seen[d] = true
	}
	if !seen[iv.Min] || !seen[iv.Max] {
		t.Fatal("both interval bounds should be reachable")
	}
}

func TestPlyFromFEN(t *testing.T) {
	cases := map[string]int{
		startFEN: 0,
		"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1":   1,
		"rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq - 0 2": 2,
		"bad": 0,
	}
	for fen, want := range cases {
		if got := plyFromFEN(fen); got != want {
			t.Fatalf("plyFromFEN(%q) = %d, want %d", fen, got, want)
		}
	}
}
