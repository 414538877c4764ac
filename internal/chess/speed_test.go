package chess

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/park285/chess-autopilot/internal/testutil"
)

func TestLoadProfiles_Defaults(t *testing.T) {
	p := defaultProfiles(t)
	testutil.AssertEqual(t, p.Normal, Normal{Depth: 20, Skill: 20})
	if p.Bullet.Deceptive != (Interval{Min: 100 * time.Millisecond, Max: time.Second}) || p.Bullet.Fixed != 200*time.Millisecond {
		t.Fatalf("bullet = %+v", p.Bullet)
	}
	if p.UltraBullet.Deceptive != (Interval{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond}) || p.UltraBullet.Fixed != 50*time.Millisecond {
		t.Fatalf("ultrabullet = %+v", p.UltraBullet)
	}
}

func TestLoadProfiles_PartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speed.yaml")
	body := "normal:\n  depth: 12\nbullet:\n  fixed_ms: 300\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadProfiles(path)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, p.Normal, Normal{Depth: 12, Skill: 20})
	if p.Bullet.Fixed != 300*time.Millisecond || p.Bullet.Deceptive.Max != time.Second {
		t.Fatalf("bullet = %+v", p.Bullet)
	}
}

func TestLoadProfiles_RejectsInvertedInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speed.yaml")
	body := "ultrabullet:\n  deceptive_min_ms: 30\n  deceptive_max_ms: 20\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProfiles(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestModeByName(t *testing.T) {
	p := defaultProfiles(t)
	for name, want := range map[string]string{"": "normal", "Bullet": "bullet", "ultra-bullet": "ultrabullet"} {
		m, err := ModeByName(name, p)
		testutil.AssertNoError(t, err, name)
		if m.Name() != want {
			t.Fatalf("ModeByName(%q) = %s", name, m.Name())
		}
	}
	if _, err := ModeByName("blitz", p); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestUltraBulletBudgets(t *testing.T) {
	u := defaultProfiles(t).UltraBullet
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 500; i++ {
		b := u.Budget(true, r)
		if b.MoveTime < 10*time.Millisecond || b.MoveTime > 20*time.Millisecond {
			t.Fatalf("budget %s outside [10ms, 20ms]", b.MoveTime)
		}
	}
	if b := u.Budget(false, r); b.MoveTime != 50*time.Millisecond {
		t.Fatalf("fixed = %s", b.MoveTime)
	}
	if u.Ceiling(true) != 20*time.Millisecond || u.Ceiling(false) != 50*time.Millisecond {
		t.Fatal("unexpected ceilings")
	}
}

func TestFormatGoCommand(t *testing.T) {
	got, err := FormatGoCommand(Budget{MoveTime: 250 * time.Millisecond})
	testutil.AssertNoError(t, err)
	if got != "go movetime 250" {
		t.Fatalf("got %q", got)
	}
	got, err = FormatGoCommand(Budget{Depth: 20})
	testutil.AssertNoError(t, err)
	if got != "go depth 20" {
		t.Fatalf("got %q", got)
	}
	if _, err := FormatGoCommand(Budget{}); err == nil {
		t.Fatal("expected error for empty budget")
	}
}
