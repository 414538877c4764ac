package chess

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Budget is the search allowance for one move. A zero MoveTime means the
// search is bounded by Depth only.
type Budget struct {
	Depth    int
	MoveTime time.Duration
}

func (b Budget) Timed() bool { return b.MoveTime > 0 }

// Interval is an inclusive millisecond range for sampled think time.
type Interval struct {
	Min time.Duration
	Max time.Duration
}

func (iv Interval) valid() bool { return iv.Min > 0 && iv.Max >= iv.Min }

// Sample draws a whole-millisecond duration uniformly from iv.
func (iv Interval) Sample(r *rand.Rand) time.Duration {
	lo := iv.Min.Milliseconds()
	hi := iv.Max.Milliseconds()
	if hi <= lo {
		return time.Duration(lo) * time.Millisecond
	}
	return time.Duration(lo+r.Int63n(hi-lo+1)) * time.Millisecond
}

// SpeedMode is the closed set of pacing policies: Normal, Bullet and UltraBullet.
type SpeedMode interface {
	Name() string
	// Budget picks the allowance for the next move.
	Budget(deceive bool, r *rand.Rand) Budget
	// Ceiling is the longest allowance Budget can return.
	Ceiling(deceive bool) time.Duration
	skill() int
	sealed()
}

type Normal struct {
	Depth int
	Skill int
}

func (Normal) Name() string { return "normal" }

func (n Normal) Budget(bool, *rand.Rand) Budget { return Budget{Depth: n.Depth} }

// Ceiling is zero: depth-bounded searches have no clock.
func (Normal) Ceiling(bool) time.Duration { return 0 }

func (n Normal) skill() int { return n.Skill }
func (Normal) sealed()      {}

// timedMode is shared by the clocked variants.
type timedMode struct {
	Deceptive Interval
	Fixed     time.Duration
}

func (m timedMode) budget(deceive bool, r *rand.Rand) Budget {
	if deceive {
		return Budget{MoveTime: m.Deceptive.Sample(r)}
	}
	return Budget{MoveTime: m.Fixed}
}

func (m timedMode) ceiling(deceive bool) time.Duration {
	if deceive {
		return m.Deceptive.Max
	}
	return m.Fixed
}

func (m timedMode) validate(name string) error {
	if !m.Deceptive.valid() {
		return fmt.Errorf("%s: invalid deceptive interval [%s, %s]", name, m.Deceptive.Min, m.Deceptive.Max)
	}
	if m.Fixed <= 0 {
		return fmt.Errorf("%s: fixed budget must be > 0", name)
	}
	return nil
}

type Bullet struct{ timedMode }

func NewBullet(deceptive Interval, fixed time.Duration) Bullet {
	return Bullet{timedMode{Deceptive: deceptive, Fixed: fixed}}
}

func (Bullet) Name() string { return "bullet" }
func (b Bullet) Budget(deceive bool, r *rand.Rand) Budget {
	return b.budget(deceive, r)
}
func (b Bullet) Ceiling(deceive bool) time.Duration { return b.ceiling(deceive) }
func (Bullet) skill() int                           { return maxSkill }
func (Bullet) sealed()                              {}

type UltraBullet struct{ timedMode }

func NewUltraBullet(deceptive Interval, fixed time.Duration) UltraBullet {
	return UltraBullet{timedMode{Deceptive: deceptive, Fixed: fixed}}
}

func (UltraBullet) Name() string { return "ultrabullet" }
func (u UltraBullet) Budget(deceive bool, r *rand.Rand) Budget {
	return u.budget(deceive, r)
}
func (u UltraBullet) Ceiling(deceive bool) time.Duration { return u.ceiling(deceive) }
func (UltraBullet) skill() int                           { return maxSkill }
func (UltraBullet) sealed()                              {}

const maxSkill = 20

// ValidateMode rejects modes whose parameters cannot drive a search.
func ValidateMode(m SpeedMode) error {
	switch v := m.(type) {
	case Normal:
		if v.Depth <= 0 {
			return fmt.Errorf("normal: depth must be > 0")
		}
		if v.Skill < 0 || v.Skill > maxSkill {
			return fmt.Errorf("normal: skill %d out of range 0-%d", v.Skill, maxSkill)
		}
		return nil
	case Bullet:
		return v.validate(v.Name())
	case UltraBullet:
		return v.validate(v.Name())
	case nil:
		return fmt.Errorf("speed mode required")
	default:
		return fmt.Errorf("unknown speed mode %T", m)
	}
}

// ModeByName resolves a configured mode name against the loaded profiles.
func ModeByName(name string, p Profiles) (SpeedMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "normal":
		return p.Normal, nil
	case "bullet":
		return p.Bullet, nil
	case "ultrabullet", "ultra_bullet", "ultra-bullet":
		return p.UltraBullet, nil
	default:
		return nil, fmt.Errorf("unknown speed mode %q", name)
	}
}
