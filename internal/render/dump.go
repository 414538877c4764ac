package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
)

// Dumper writes board snapshots to a directory for post-mortem inspection.
type Dumper struct {
	dir      string
	renderer *Renderer
	now      func() time.Time
}

func NewDumper(dir string, r *Renderer) *Dumper {
	if r == nil {
		r = New(DefaultSquareSize)
	}
	return &Dumper{dir: strings.TrimSpace(dir), renderer: r, now: time.Now}
}

func (d *Dumper) Enabled() bool { return d != nil && d.dir != "" }

// Dump renders b and returns the written file path. A disabled dumper
// returns "" and no error.
func (d *Dumper) Dump(ctx context.Context, sessionID, reason string, b *nchess.Board, opts Options) (string, error) {
	if !d.Enabled() {
		return "", nil
	}
	data, err := d.renderer.RenderPNG(ctx, b, opts)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s_%s.png", fileSafe(sessionID), d.now().UTC().Format("20060102T150405.000"), fileSafe(reason))
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

func fileSafe(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
