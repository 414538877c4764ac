package chess

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

//go:embed profiles/speed.yaml
var profileFiles embed.FS

// Profiles holds one configured variant per speed mode.
type Profiles struct {
	Normal      Normal
	Bullet      Bullet
	UltraBullet UltraBullet
}

type rawNormal struct {
	Depth *int `yaml:"depth"`
	Skill *int `yaml:"skill"`
}

type rawTimed struct {
	DeceptiveMinMS *int `yaml:"deceptive_min_ms"`
	DeceptiveMaxMS *int `yaml:"deceptive_max_ms"`
	FixedMS        *int `yaml:"fixed_ms"`
}

type rawProfiles struct {
	Normal      rawNormal `yaml:"normal"`
	Bullet      rawTimed  `yaml:"bullet"`
	UltraBullet rawTimed  `yaml:"ultrabullet"`
}

// LoadProfiles reads the embedded defaults and applies the keys present in
// overridePath, if set.
func LoadProfiles(overridePath string) (Profiles, error) {
	var p Profiles
	raw, err := profileFiles.ReadFile("profiles/speed.yaml")
	if err != nil {
		return p, fmt.Errorf("read embedded speed profiles: %w", err)
	}
	if err := p.apply(raw); err != nil {
		return p, fmt.Errorf("embedded speed profiles: %w", err)
	}
	if path := strings.TrimSpace(overridePath); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return p, fmt.Errorf("read speed profiles %q: %w", path, err)
		}
		if err := p.apply(b); err != nil {
			return p, fmt.Errorf("speed profiles %q: %w", path, err)
		}
	}
	for _, m := range []SpeedMode{p.Normal, p.Bullet, p.UltraBullet} {
		if err := ValidateMode(m); err != nil {
			return p, err
		}
	}
	return p, nil
}

func (p *Profiles) apply(b []byte) error {
	var r rawProfiles
	if err := yaml.Unmarshal(b, &r); err != nil {
		return err
	}
	if r.Normal.Depth != nil {
		p.Normal.Depth = *r.Normal.Depth
	}
	if r.Normal.Skill != nil {
		p.Normal.Skill = *r.Normal.Skill
	}
	r.Bullet.applyTo(&p.Bullet.timedMode)
	r.UltraBullet.applyTo(&p.UltraBullet.timedMode)
	return nil
}

func (r rawTimed) applyTo(m *timedMode) {
	if r.DeceptiveMinMS != nil {
		m.Deceptive.Min = ms(*r.DeceptiveMinMS)
	}
	if r.DeceptiveMaxMS != nil {
		m.Deceptive.Max = ms(*r.DeceptiveMaxMS)
	}
	if r.FixedMS != nil {
		m.Fixed = ms(*r.FixedMS)
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
