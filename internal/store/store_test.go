package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/chess-autopilot/internal/domain"
	"github.com/park285/chess-autopilot/internal/testutil"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	s, err := Open(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestSaveLoadActive(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	snap := &domain.SessionSnapshot{
		SessionUUID: "g1",
		PlayedAs:    "black",
		SpeedMode:   "bullet",
		State:       "await_opponent_move",
		FEN:         "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1",
		HalfMoves:   1,
		LedgerCount: 1,
		LedgerText:  "e4",
		StartedAt:   time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2026, 10, 18, 9, 0, 5, 0, time.UTC),
	}
	testutil.AssertNoError(t, s.Save(ctx, snap))

	got, err := s.Load(ctx, "g1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got, snap)

	active, err := s.Active(ctx)
	testutil.AssertNoError(t, err)
	if active == nil || active.SessionUUID != "g1" {
		t.Fatalf("active = %+v", active)
	}
	if ttl := mr.TTL(keySession("g1")); ttl != ttlSession {
		t.Fatalf("ttl = %s", ttl)
	}
}

func TestFinishOnlyClearsOwnMarker(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	testutil.AssertNoError(t, s.Save(ctx, &domain.SessionSnapshot{SessionUUID: "old"}))
	testutil.AssertNoError(t, s.Save(ctx, &domain.SessionSnapshot{SessionUUID: "new"}))

	testutil.AssertNoError(t, s.Finish(ctx, "old"))
	active, err := s.Active(ctx)
	testutil.AssertNoError(t, err)
	if active == nil || active.SessionUUID != "new" {
		t.Fatalf("active = %+v", active)
	}

	testutil.AssertNoError(t, s.Finish(ctx, "new"))
	active, err = s.Active(ctx)
	testutil.AssertNoError(t, err)
	if active != nil {
		t.Fatalf("active after finish = %+v", active)
	}
	if old, _ := s.Load(ctx, "old"); old == nil {
		t.Fatal("finished snapshot should remain until ttl")
	}
}

func TestAppendMove(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for _, san := range []string{"e4", "", "c5", "Nf3"} {
		testutil.AssertNoError(t, s.AppendMove(ctx, "g2", san))
	}
	moves, err := s.Moves(ctx, "g2")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, moves, []string{"e4", "c5", "Nf3"})
}

func TestLoadMissing(t *testing.T) {
	s, _ := newTestStore(t)
	got, err := s.Load(context.Background(), "nope")
	testutil.AssertNoError(t, err)
	if got != nil {
		t.Fatal("expected nil")
	}
}

func TestParseRedisURL(t *testing.T) {
	opts, err := ParseRedisURL("redis://:secret@localhost:6380/2")
	testutil.AssertNoError(t, err)
	if opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("opts = %+v", opts)
	}
	for _, bad := range []string{"http://x", "redis://h/abc"} {
		if _, err := ParseRedisURL(bad); err == nil {
			t.Fatalf("ParseRedisURL(%q) should fail", bad)
		}
	}
}
